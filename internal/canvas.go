package internal

import (
	"math"
	"regexp"
)

// Canonical canvas every segment is expressed in, independent of the drawer's
// screen size.
const (
	CanvasWidth  = 800
	CanvasHeight = 600
	MinBrushSize = 1
	MaxBrushSize = 40
	DefaultColor = "#000000"
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// NormalizeCoordinates converts a point on the client's canvas to the canonical
// canvas and clamps it to bounds.
func NormalizeCoordinates(x, y float64, clientCanvasWidth, clientCanvasHeight int) (float64, float64) {
	if clientCanvasWidth > 0 && clientCanvasHeight > 0 {
		x = x * CanvasWidth / float64(clientCanvasWidth)
		y = y * CanvasHeight / float64(clientCanvasHeight)
	}
	return clamp(x, 0, CanvasWidth), clamp(y, 0, CanvasHeight)
}

// NormalizeSegment rescales a segment drawn on a clientWidth x clientHeight canvas
// and fills in defaults for missing color and size.
func NormalizeSegment(seg StrokeSegment, clientWidth, clientHeight int) StrokeSegment {
	seg.X0, seg.Y0 = NormalizeCoordinates(seg.X0, seg.Y0, clientWidth, clientHeight)
	seg.X1, seg.Y1 = NormalizeCoordinates(seg.X1, seg.Y1, clientWidth, clientHeight)
	if !colorPattern.MatchString(seg.Color) {
		seg.Color = DefaultColor
	}
	seg.Size = clamp(seg.Size, MinBrushSize, MaxBrushSize)
	return seg
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
