package game

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/scythe504/skribblr-sync/internal"
	"github.com/scythe504/skribblr-sync/internal/store"
)

// =============================================================================
// LOBBY - ROUND BOOTSTRAP
// =============================================================================

// bootstrap starts the first round with this player as drawer if the room has
// none. Two clients racing here both write; the last write wins and the other
// client simply observes it.
func (s *Session) bootstrap(ctx context.Context) error {
	snap, err := s.store.Get(ctx, internal.GamePath(s.roomID))
	if err != nil {
		return fmt.Errorf("read round: %w", err)
	}
	if round, _ := decodeRound(snap); round != nil {
		log.Debug().Str("room", s.roomID).Str("phase", string(round.Phase)).Msg("[bootstrap] round already running")
		return nil
	}

	first := internal.NewChoosingRound(s.self.Id, 1, s.cfg.RoundSeconds)
	if err := s.store.Set(ctx, internal.GamePath(s.roomID), first); err != nil {
		return fmt.Errorf("write first round: %w", err)
	}
	log.Info().Str("room", s.roomID).Str("drawer", s.self.Id).Msg("[bootstrap] started first round")
	return nil
}

// decodeRound returns nil for an absent document, and for one too broken to act
// on (reported as ok=false). A drawing round without a word still decodes; it is a
// transition caught half way.
func decodeRound(snap store.Snapshot) (round *internal.RoundState, ok bool) {
	if !snap.Exists() {
		return nil, true
	}
	var r internal.RoundState
	if err := snap.Decode(&r); err != nil {
		return nil, false
	}
	if !r.Phase.Valid() || r.CurrentDrawer == "" {
		return nil, false
	}
	return &r, true
}

// SummarizeRoom reads the population and round of a whole-room snapshot taken at
// rooms/{roomId}. Malformed parts count as absent.
func SummarizeRoom(roomID string, snap store.Snapshot) internal.RoomSummary {
	summary := internal.RoomSummary{RoomID: internal.NormalizeRoomID(roomID)}

	var room struct {
		Players json.RawMessage `json:"players"`
		Game    json.RawMessage `json:"game"`
	}
	if err := snap.Decode(&room); err != nil {
		return summary
	}

	summary.PlayerCount = decodeRoster(store.Snapshot{Value: room.Players}).GetPlayerCount()
	if round, _ := decodeRound(store.Snapshot{Value: room.Game}); round != nil {
		summary.Phase = round.Phase
		summary.Round = round.Round
		summary.TimeLeft = round.TimeLeft
	}
	return summary
}
