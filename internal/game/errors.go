package game

import (
	"errors"
	"fmt"
)

var (
	ErrNotDrawer     = errors.New("only the current drawer can do that")
	ErrWrongPhase    = errors.New("not allowed in the current phase")
	ErrInvalidWord   = errors.New("word is not one of the offered choices")
	ErrSessionClosed = errors.New("session closed")
	ErrInvalidName   = errors.New("player name must not be empty")
	ErrNotInRoom     = errors.New("player is no longer in the room")
)

// JoinError aborts a join. Nothing was registered for cleanup when it is returned.
type JoinError struct {
	RoomID   string
	PlayerID string
	Err      error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join room %s as %s: %v", e.RoomID, e.PlayerID, e.Err)
}

func (e *JoinError) Unwrap() error {
	return e.Err
}
