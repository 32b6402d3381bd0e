package internal

import (
	"strings"
	"time"
)

const (
	RoundSeconds          = 80
	TickInterval          = 1 * time.Second
	AllGuessedGracePeriod = 1500 * time.Millisecond
	WordChoiceCount       = 3
	RoomCodeLength        = 6
	MaxPlayersPerRoom     = 8
	CorrectGuessBonus     = 10
)

type GamePhase string

const (
	// PhaseIdle is never written to the store; it is what an absent round document decodes to.
	PhaseIdle     GamePhase = ""
	PhaseChoosing GamePhase = "choosing"
	PhaseDrawing  GamePhase = "drawing"
)

func (p GamePhase) Valid() bool {
	return p == PhaseChoosing || p == PhaseDrawing
}

type ChatType string

const (
	ChatSystem ChatType = "system"
	ChatGuess  ChatType = "guess"
)

// Store layout. Every entity lives under rooms/{roomId}.
const (
	RoomsRoot   = "rooms"
	playersNode = "players"
	gameNode    = "game"
	drawingNode = "drawing"
	chatNode    = "chat"
)

func RoomPath(roomID string) string {
	return RoomsRoot + "/" + NormalizeRoomID(roomID)
}

func PlayersPath(roomID string) string {
	return RoomPath(roomID) + "/" + playersNode
}

func PlayerPath(roomID, playerID string) string {
	return PlayersPath(roomID) + "/" + playerID
}

// PlayerFieldKey is the key of a single player field relative to the room path,
// used by multi-path updates that touch several players at once.
func PlayerFieldKey(playerID, field string) string {
	return playersNode + "/" + playerID + "/" + field
}

func GamePath(roomID string) string {
	return RoomPath(roomID) + "/" + gameNode
}

func DrawingPath(roomID string) string {
	return RoomPath(roomID) + "/" + drawingNode
}

func ChatPath(roomID string) string {
	return RoomPath(roomID) + "/" + chatNode
}

// NormalizeRoomID makes room codes case-insensitive.
func NormalizeRoomID(roomID string) string {
	return strings.ToUpper(strings.TrimSpace(roomID))
}

// RoundState is the single per-room round document at rooms/{roomId}/game.
type RoundState struct {
	Phase         GamePhase `json:"phase"`
	CurrentDrawer string    `json:"currentDrawer"`
	CurrentWord   string    `json:"currentWord,omitempty"`
	TimeLeft      int       `json:"timeLeft"`
	Round         int       `json:"round"`
}

// Consistent reports whether the document satisfies the word/phase invariant.
// A drawing phase without a word is a transient, half-applied transition.
func (r RoundState) Consistent() bool {
	if !r.Phase.Valid() || r.CurrentDrawer == "" {
		return false
	}
	return (r.CurrentWord != "") == (r.Phase == PhaseDrawing)
}

// NewChoosingRound is the document written at bootstrap and after every round end.
func NewChoosingRound(drawerID string, round, timeLeft int) RoundState {
	return RoundState{
		Phase:         PhaseChoosing,
		CurrentDrawer: drawerID,
		TimeLeft:      timeLeft,
		Round:         round,
	}
}

type StrokeSegment struct {
	X0        float64 `json:"x0"`
	Y0        float64 `json:"y0"`
	X1        float64 `json:"x1"`
	Y1        float64 `json:"y1"`
	Color     string  `json:"color"`
	Size      float64 `json:"size"`
	Timestamp int64   `json:"timestamp"`
}

type ChatEvent struct {
	// Key is the store-generated append key; it is not part of the stored record.
	Key       string   `json:"-"`
	Username  string   `json:"username"`
	Message   string   `json:"message"`
	UID       string   `json:"uid,omitempty"`
	Timestamp int64    `json:"timestamp"`
	Type      ChatType `json:"type"`
	IsPrivate bool     `json:"isPrivate,omitempty"`
	VisibleTo []string `json:"visibleTo,omitempty"`
}

// VisibleFor reports whether viewerID may see the event.
func (e ChatEvent) VisibleFor(viewerID string) bool {
	if e.Type == ChatSystem || !e.IsPrivate {
		return true
	}
	if e.UID != "" && e.UID == viewerID {
		return true
	}
	for _, id := range e.VisibleTo {
		if id == viewerID {
			return true
		}
	}
	return false
}

type GameResultData struct {
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
	Score    int    `json:"score"`
	Position int    `json:"position"`
}

type FinalResults struct {
	Leaderboard  []GameResultData `json:"leaderboard"`
	MVP          *GameResultData  `json:"mvp,omitempty"`
	RoundsPlayed int              `json:"rounds_played"`
	TotalPlayers int              `json:"total_players"`
}
