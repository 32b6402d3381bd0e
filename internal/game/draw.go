package game

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/scythe504/skribblr-sync/internal"
	"github.com/scythe504/skribblr-sync/internal/store"
)

// =============================================================================
// DRAWING
// =============================================================================

// Emit appends one segment to the room's stroke log. Coordinates are taken to be
// on the session's canvas and rescaled to the canonical one.
func (s *Session) Emit(ctx context.Context, seg internal.StrokeSegment) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	round := s.round
	s.mu.Unlock()

	if round == nil || round.CurrentDrawer != s.self.Id {
		return ErrNotDrawer
	}
	if round.Phase != internal.PhaseDrawing {
		return ErrWrongPhase
	}

	seg = internal.NormalizeSegment(seg, s.cfg.CanvasWidth, s.cfg.CanvasHeight)
	if seg.Timestamp == 0 {
		seg.Timestamp = s.now()
	}
	if _, err := s.store.Push(ctx, internal.DrawingPath(s.roomID), seg); err != nil {
		log.Error().Err(err).Str("room", s.roomID).Msg("[Emit] append failed")
		return fmt.Errorf("emit stroke: %w", err)
	}
	return nil
}

// Clear wipes the canvas for everyone. Only the drawer may do it.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	round := s.round
	s.mu.Unlock()

	if round == nil || round.CurrentDrawer != s.self.Id {
		return ErrNotDrawer
	}
	return s.clearStrokes(ctx)
}

func (s *Session) clearStrokes(ctx context.Context) error {
	if err := s.store.Delete(ctx, internal.DrawingPath(s.roomID)); err != nil {
		log.Error().Err(err).Str("room", s.roomID).Msg("[clearStrokes] delete failed")
		return fmt.Errorf("clear strokes: %w", err)
	}
	return nil
}

// onStrokes hands the full ordered log to the view. The drawer already renders
// its own strokes locally, so it only hears about the log being emptied.
func (s *Session) onStrokes(snap store.Snapshot) {
	children := snap.Children()
	segments := make([]internal.StrokeSegment, 0, len(children))
	for _, c := range children {
		var seg internal.StrokeSegment
		if err := c.Decode(&seg); err != nil {
			log.Debug().Err(err).Str("key", c.Key).Msg("[onStrokes] skipping malformed segment")
			continue
		}
		segments = append(segments, seg)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.strokes = segments
	isDrawer := s.round != nil && s.round.CurrentDrawer == s.self.Id
	s.mu.Unlock()

	if isDrawer && len(segments) > 0 {
		return
	}
	s.view.StrokesChanged(append([]internal.StrokeSegment(nil), segments...))
}
