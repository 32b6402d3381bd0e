package game

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/scythe504/skribblr-sync/internal"
	"github.com/scythe504/skribblr-sync/internal/store"
)

// =============================================================================
// GUESS AND CHAT
// =============================================================================

const systemUsername = "System"

// SendSystem appends a public system message to the room chat.
func (s *Session) SendSystem(ctx context.Context, message string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.pushSystem(ctx, message)
}

func (s *Session) pushSystem(ctx context.Context, message string) error {
	event := internal.ChatEvent{
		Username:  systemUsername,
		Message:   message,
		Timestamp: s.now(),
		Type:      internal.ChatSystem,
	}
	if _, err := s.store.Push(ctx, internal.ChatPath(s.roomID), event); err != nil {
		log.Error().Err(err).Str("room", s.roomID).Msg("[SendSystem] append failed")
		return fmt.Errorf("send system message: %w", err)
	}
	return nil
}

// SubmitGuess scores a correct guess or posts the text as chat. The drawer's input
// is dropped. Players who already guessed chat privately with the drawer and the
// other players who guessed.
func (s *Session) SubmitGuess(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	var round internal.RoundState
	if s.round != nil {
		round = *s.round
	}
	roster := s.roster
	s.mu.Unlock()

	if round.CurrentDrawer == s.self.Id {
		log.Debug().Str("room", s.roomID).Msg("[SubmitGuess] drawer input discarded")
		return nil
	}

	snap, err := s.store.Get(ctx, internal.PlayerPath(s.roomID, s.self.Id))
	if err != nil {
		return fmt.Errorf("read player: %w", err)
	}
	if !snap.Exists() {
		return ErrNotInRoom
	}
	var me internal.Player
	if err := snap.Decode(&me); err != nil {
		return fmt.Errorf("decode player: %w", err)
	}

	if isCorrectGuess(round, text) && !me.HasGuessed {
		points := CalculateGuessPoints(round.TimeLeft)
		err := s.store.Update(ctx, internal.PlayerPath(s.roomID, s.self.Id), map[string]any{
			"hasGuessed": true,
			"score":      me.Score + points,
		})
		if err != nil {
			return fmt.Errorf("record guess: %w", err)
		}
		log.Info().Str("room", s.roomID).Str("player", s.self.Id).Int("points", points).Msg("[SubmitGuess] correct guess")
		return s.pushSystem(ctx, fmt.Sprintf("%s guessed the word!", s.self.Name))
	}

	event := internal.ChatEvent{
		Username:  s.self.Name,
		Message:   text,
		UID:       s.self.Id,
		Timestamp: s.now(),
		Type:      internal.ChatGuess,
	}
	if me.HasGuessed {
		event.IsPrivate = true
		event.VisibleTo = visibleTo(round.CurrentDrawer, s.self.Id, roster)
	}
	if _, err := s.store.Push(ctx, internal.ChatPath(s.roomID), event); err != nil {
		log.Error().Err(err).Str("room", s.roomID).Msg("[SubmitGuess] append failed")
		return fmt.Errorf("send guess: %w", err)
	}
	return nil
}

func isCorrectGuess(round internal.RoundState, text string) bool {
	if round.Phase != internal.PhaseDrawing || round.CurrentWord == "" {
		return false
	}
	return strings.EqualFold(text, strings.TrimSpace(round.CurrentWord))
}

// visibleTo is fixed when the message is sent: players who guess later do not
// gain access to it.
func visibleTo(drawerID, authorID string, roster internal.Roster) []string {
	ids := make([]string, 0, roster.GetPlayerCount()+2)
	for _, id := range append([]string{drawerID, authorID}, roster.GuessedIDs()...) {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Session) onChat(snap store.Snapshot) {
	events := decodeChat(snap)
	visible := VisibleChat(events, s.self.Id)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.chat = visible
	s.mu.Unlock()

	s.view.ChatChanged(append([]internal.ChatEvent(nil), visible...))
}

func decodeChat(snap store.Snapshot) []internal.ChatEvent {
	children := snap.Children()
	events := make([]internal.ChatEvent, 0, len(children))
	for _, c := range children {
		var e internal.ChatEvent
		if err := c.Decode(&e); err != nil {
			log.Debug().Err(err).Str("key", c.Key).Msg("[decodeChat] skipping malformed event")
			continue
		}
		if e.Type != internal.ChatSystem && e.Type != internal.ChatGuess {
			continue
		}
		e.Key = c.Key
		events = append(events, e)
	}
	return events
}

// VisibleChat orders events by timestamp, ties in append order, and drops the
// private ones viewerID may not see.
func VisibleChat(events []internal.ChatEvent, viewerID string) []internal.ChatEvent {
	ordered := make([]internal.ChatEvent, 0, len(events))
	for _, e := range events {
		if e.VisibleFor(viewerID) {
			ordered = append(ordered, e)
		}
	}
	slices.SortStableFunc(ordered, func(a, b internal.ChatEvent) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		default:
			return strings.Compare(a.Key, b.Key)
		}
	})
	return ordered
}
