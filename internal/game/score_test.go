package game

import (
	"testing"

	"github.com/scythe504/skribblr-sync/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateGuessPoints(t *testing.T) {
	tests := []struct {
		timeLeft int
		want     int
	}{
		{80, 50},
		{40, 30},
		{3, 12},
		{1, 11},
		{0, 10},
		{-5, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CalculateGuessPoints(tt.timeLeft), "timeLeft=%d", tt.timeLeft)
	}
}

func TestCalculateFinalResults(t *testing.T) {
	roster := internal.NewRoster([]internal.Player{
		{Id: "a", Name: "ann", Score: 20},
		{Id: "b", Name: "bob", Score: 45},
		{Id: "c", Name: "cid", Score: 20},
	})

	results := CalculateFinalResults(roster, 2)
	require.Len(t, results.Leaderboard, 3)
	assert.Equal(t, "b", results.Leaderboard[0].PlayerID)
	assert.Equal(t, 1, results.Leaderboard[0].Position)
	assert.Equal(t, "a", results.Leaderboard[1].PlayerID)
	assert.Equal(t, 2, results.Leaderboard[1].Position)
	assert.Equal(t, "c", results.Leaderboard[2].PlayerID)
	assert.Equal(t, 2, results.Leaderboard[2].Position)
	require.NotNil(t, results.MVP)
	assert.Equal(t, "bob", results.MVP.Username)
	assert.Equal(t, 2, results.RoundsPlayed)
	assert.Equal(t, 3, results.TotalPlayers)

	empty := CalculateFinalResults(internal.NewRoster(nil), 0)
	assert.Empty(t, empty.Leaderboard)
	assert.Nil(t, empty.MVP)
}
