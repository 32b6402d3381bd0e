package game

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/scythe504/skribblr-sync/internal"
	"github.com/scythe504/skribblr-sync/internal/store"
	"github.com/scythe504/skribblr-sync/internal/utils"
)

// =============================================================================
// GAME FLOW - ROUND MANAGEMENT
// =============================================================================

type EndReason string

const (
	EndTimeout    EndReason = "timeout"
	EndAllGuessed EndReason = "all_guessed"
	EndDrawerLeft EndReason = "drawer_left"
)

func (s *Session) onRound(snap store.Snapshot) {
	round, ok := decodeRound(snap)
	if !ok {
		log.Warn().Str("room", s.roomID).RawJSON("value", snap.Value).Msg("[onRound] ignoring malformed round")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.round = round

	isDrawer := round != nil && round.CurrentDrawer == s.self.Id
	choosing := isDrawer && round.Phase == internal.PhaseChoosing
	drawing := isDrawer && round.Phase == internal.PhaseDrawing

	// Choices are drawn once per turn, on entering choosing, not on every update.
	choicesChanged := false
	if choosing && !s.offering {
		s.choices = utils.GenerateWordChoices(s.cfg.Words, s.cfg.WordChoiceCount, s.cfg.IntN)
		choicesChanged = true
	} else if !choosing && s.choices != nil {
		s.choices = nil
		choicesChanged = true
	}
	s.offering = choosing
	choices := append([]string(nil), s.choices...)

	if drawing && round.CurrentWord != "" {
		s.startCountdownLocked(round.TimeLeft)
	} else {
		s.stopCountdownLocked()
	}
	if !drawing {
		s.cancelAllGuessedLocked()
	}

	view := s.roundViewLocked()
	roster := s.roster
	s.mu.Unlock()

	if round != nil {
		log.Debug().Str("room", s.roomID).Str("phase", string(round.Phase)).Str("drawer", round.CurrentDrawer).Int("timeLeft", round.TimeLeft).Msg("[onRound] round changed")
	}

	s.view.RoundChanged(view)
	if choicesChanged {
		s.view.WordChoices(choices)
	}
	s.checkAllGuessed(round, roster)
	s.checkStaleDrawer(round, roster)
}

// SelectWord starts the drawing phase with one of the offered words.
func (s *Session) SelectWord(ctx context.Context, word string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	round := s.round
	choices := s.choices
	s.mu.Unlock()

	if round == nil || round.CurrentDrawer != s.self.Id {
		return ErrNotDrawer
	}
	if round.Phase != internal.PhaseChoosing {
		return ErrWrongPhase
	}
	if !slices.Contains(choices, word) {
		return fmt.Errorf("%w: %q", ErrInvalidWord, word)
	}

	err := s.store.Update(ctx, internal.GamePath(s.roomID), map[string]any{
		"currentWord": word,
		"phase":       internal.PhaseDrawing,
		"timeLeft":    s.cfg.RoundSeconds,
	})
	if err != nil {
		log.Error().Err(err).Str("room", s.roomID).Msg("[SelectWord] write round failed")
		return fmt.Errorf("start drawing: %w", err)
	}
	if err := s.clearStrokes(ctx); err != nil {
		return err
	}

	log.Info().Str("room", s.roomID).Str("drawer", s.self.Id).Msg("[SelectWord] drawing phase started")
	return nil
}

// endRound rotates to the next drawer. It re-reads the round and the roster and
// does nothing unless the round is still the one the trigger was scheduled for,
// so a doubled trigger rotates once.
func (s *Session) endRound(ctx context.Context, expectedDrawer string, expectedPhase internal.GamePhase, reason EndReason) error {
	gameSnap, err := s.store.Get(ctx, internal.GamePath(s.roomID))
	if err != nil {
		return fmt.Errorf("read round: %w", err)
	}
	round, _ := decodeRound(gameSnap)
	if round == nil || round.CurrentDrawer != expectedDrawer || round.Phase != expectedPhase {
		log.Debug().Str("room", s.roomID).Str("reason", string(reason)).Msg("[endRound] round already moved on")
		return nil
	}

	rosterSnap, err := s.store.Get(ctx, internal.PlayersPath(s.roomID))
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	roster := decodeRoster(rosterSnap)
	if reason == EndAllGuessed && !roster.HasEveryoneGuessed(expectedDrawer) {
		log.Debug().Str("room", s.roomID).Msg("[endRound] someone has not guessed after all")
		return nil
	}

	switch reason {
	case EndTimeout:
		if round.CurrentWord != "" {
			if err := s.pushSystem(ctx, "Time up! Word was: "+round.CurrentWord); err != nil {
				return err
			}
		}
	case EndDrawerLeft:
		if err := s.pushSystem(ctx, "The drawer left the room"); err != nil {
			return err
		}
	}

	next, ok := roster.GetNextDrawer(round.CurrentDrawer)
	if !ok {
		log.Info().Str("room", s.roomID).Msg("[endRound] room is empty, not rotating")
		return nil
	}

	nextRound := internal.NewChoosingRound(next.Id, max(round.Round, 1), s.cfg.RoundSeconds)
	if err := s.store.Set(ctx, internal.GamePath(s.roomID), nextRound); err != nil {
		return fmt.Errorf("write next round: %w", err)
	}
	if err := s.clearStrokes(ctx); err != nil {
		return err
	}
	if err := s.resetGuesses(ctx, roster); err != nil {
		return err
	}

	log.Info().
		Str("room", s.roomID).
		Str("reason", string(reason)).
		Str("from", round.CurrentDrawer).
		Str("to", next.Id).
		Msg("[endRound] next drawer")
	return nil
}

// resetGuesses clears hasGuessed for the whole roster in one multi-path update.
func (s *Session) resetGuesses(ctx context.Context, roster internal.Roster) error {
	fields := make(map[string]any, roster.GetPlayerCount())
	for _, p := range roster.Players() {
		fields[internal.PlayerFieldKey(p.Id, "hasGuessed")] = false
	}
	if len(fields) == 0 {
		return nil
	}
	if err := s.store.Update(ctx, internal.RoomPath(s.roomID), fields); err != nil {
		return fmt.Errorf("reset guesses: %w", err)
	}
	return nil
}
