package game

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/scythe504/skribblr-sync/internal"
	"github.com/scythe504/skribblr-sync/internal/store"
)

// =============================================================================
// TIMER MANAGEMENT
// =============================================================================

// countdown is the drawer's round timer. Only the drawer's client runs one; every
// other client just renders the timeLeft it writes.
type countdown struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// startCountdownLocked is a no-op while a countdown is already running.
func (s *Session) startCountdownLocked(timeLeft int) {
	if s.countdown != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	c := &countdown{ctx: ctx, cancel: cancel}
	s.countdown = c
	log.Debug().Str("room", s.roomID).Int("timeLeft", timeLeft).Msg("[startCountdown] timer started")
	go s.runCountdown(c, timeLeft)
}

func (s *Session) stopCountdownLocked() {
	if s.countdown == nil {
		return
	}
	s.countdown.cancel()
	s.countdown = nil
	log.Debug().Str("room", s.roomID).Msg("[stopCountdown] timer cancelled")
}

func (s *Session) runCountdown(c *countdown, timeLeft int) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer func() {
		ticker.Stop()
		s.mu.Lock()
		if s.countdown == c {
			s.countdown = nil
		}
		s.mu.Unlock()
		c.cancel()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		live := s.countdown == c
		s.mu.Unlock()
		if !live {
			return
		}

		if timeLeft > 0 {
			timeLeft--
		}
		err := s.store.Update(c.ctx, internal.GamePath(s.roomID), map[string]any{"timeLeft": timeLeft})
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, store.ErrDisconnected) {
				return
			}
			log.Warn().Err(err).Str("room", s.roomID).Msg("[runCountdown] tick write failed")
			s.notice(err)
			continue
		}

		if timeLeft == 0 {
			log.Info().Str("room", s.roomID).Msg("[runCountdown] time up")
			if err := s.endRound(s.ctx, s.self.Id, internal.PhaseDrawing, EndTimeout); err != nil {
				log.Error().Err(err).Str("room", s.roomID).Msg("[runCountdown] round end failed")
				s.notice(err)
			}
			return
		}
	}
}
