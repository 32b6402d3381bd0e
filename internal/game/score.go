package game

import (
	"slices"

	"github.com/scythe504/skribblr-sync/internal"
)

// =============================================================================
// SCORING
// =============================================================================

// CalculateGuessPoints awards half the remaining seconds, rounded up, plus a flat
// bonus for guessing at all.
func CalculateGuessPoints(timeLeft int) int {
	if timeLeft < 0 {
		timeLeft = 0
	}
	return (timeLeft+1)/2 + internal.CorrectGuessBonus
}

// CalculateFinalResults ranks the roster by score. Ties share a position and keep
// roster order.
func CalculateFinalResults(roster internal.Roster, roundsPlayed int) internal.FinalResults {
	players := roster.Players()
	slices.SortStableFunc(players, func(a, b internal.Player) int {
		return b.Score - a.Score
	})

	leaderboard := make([]internal.GameResultData, 0, len(players))
	for i, p := range players {
		position := i + 1
		if i > 0 && p.Score == players[i-1].Score {
			position = leaderboard[i-1].Position
		}
		leaderboard = append(leaderboard, internal.GameResultData{
			PlayerID: p.Id,
			Username: p.Name,
			Score:    p.Score,
			Position: position,
		})
	}

	results := internal.FinalResults{
		Leaderboard:  leaderboard,
		RoundsPlayed: roundsPlayed,
		TotalPlayers: len(players),
	}
	if len(leaderboard) > 0 && leaderboard[0].Score > 0 {
		mvp := leaderboard[0]
		results.MVP = &mvp
	}
	return results
}
