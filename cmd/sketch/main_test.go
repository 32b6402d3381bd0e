package main

import (
	"bytes"
	"testing"

	"github.com/scythe504/skribblr-sync/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSegment(t *testing.T) {
	seg, err := parseSegment([]string{"10", "20", "30.5", "40"})
	require.NoError(t, err)
	assert.Equal(t, internal.StrokeSegment{X0: 10, Y0: 20, X1: 30.5, Y1: 40, Color: internal.DefaultColor, Size: 4}, seg)

	seg, err = parseSegment([]string{"0", "0", "1", "1", "#ff0000", "12"})
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", seg.Color)
	assert.Equal(t, 12.0, seg.Size)

	_, err = parseSegment([]string{"0", "0", "1"})
	assert.Error(t, err)
	_, err = parseSegment([]string{"0", "x", "1", "1"})
	assert.Error(t, err)
	_, err = parseSegment([]string{"0", "0", "1", "1", "#fff", "big"})
	assert.Error(t, err)
}

func TestCheckRoomCode(t *testing.T) {
	assert.NoError(t, checkRoomCode(""))
	assert.NoError(t, checkRoomCode("abc123"))
	assert.Error(t, checkRoomCode("ABC"))
	assert.Error(t, checkRoomCode("ABC-12"))
}

func TestTerminalView_ChatPrintsOnlyNewVisibleEvents(t *testing.T) {
	var out bytes.Buffer
	v := &terminalView{out: &out}
	v.setSelf("p1")

	first := []internal.ChatEvent{
		{Key: "a", Username: "System", Message: "bob joined the room", Type: internal.ChatSystem, Timestamp: 1},
		{Key: "b", Username: "bob", UID: "p2", Message: "cat", Type: internal.ChatGuess, Timestamp: 2, IsPrivate: true, VisibleTo: []string{"p2", "p3"}},
	}
	v.ChatChanged(first)
	assert.Equal(t, "* bob joined the room\n", out.String())

	out.Reset()
	v.ChatChanged(append(first, internal.ChatEvent{Key: "c", Username: "carol", UID: "p3", Message: "dog", Type: internal.ChatGuess, Timestamp: 3}))
	assert.Equal(t, "<carol> dog\n", out.String())
}

func TestPrintResults(t *testing.T) {
	var out bytes.Buffer
	mvp := internal.GameResultData{PlayerID: "p1", Username: "alice", Score: 50, Position: 1}
	printResults(&out, internal.FinalResults{
		Leaderboard:  []internal.GameResultData{mvp, {PlayerID: "p2", Username: "bob", Position: 2}},
		MVP:          &mvp,
		RoundsPlayed: 2,
	})
	assert.Equal(t, "final standings after 2 round(s):\n  1. alice 50\n  2. bob 0\nMVP: alice\n", out.String())
}
