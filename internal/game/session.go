package game

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/scythe504/skribblr-sync/internal"
	"github.com/scythe504/skribblr-sync/internal/store"
	"github.com/scythe504/skribblr-sync/internal/utils"
)

// =============================================================================
// SESSION
// =============================================================================

// Config tunes a session. Zero fields fall back to the game defaults.
type Config struct {
	RoundSeconds    int
	TickInterval    time.Duration
	AllGuessedDelay time.Duration
	WordChoiceCount int
	Words           []string

	// RecoverStaleDrawer lets the lowest-id player end a round whose drawer has
	// left. Off by default: such a round stalls until someone rejoins as drawer.
	RecoverStaleDrawer bool

	// Size of the local canvas strokes are drawn on. Zero means the canonical size.
	CanvasWidth  int
	CanvasHeight int

	IntN utils.IntN
	Now  func() time.Time
}

func (c Config) withDefaults() Config {
	if c.RoundSeconds <= 0 {
		c.RoundSeconds = internal.RoundSeconds
	}
	if c.TickInterval <= 0 {
		c.TickInterval = internal.TickInterval
	}
	if c.AllGuessedDelay <= 0 {
		c.AllGuessedDelay = internal.AllGuessedGracePeriod
	}
	if c.WordChoiceCount <= 0 {
		c.WordChoiceCount = internal.WordChoiceCount
	}
	if len(c.Words) == 0 {
		c.Words = utils.WordTexts(utils.DefaultWords)
	}
	if c.IntN == nil {
		c.IntN = rand.IntN
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// RoundView is the round as one player should see it: the drawer gets the word,
// guessers get a letter-blank hint until they have guessed it.
type RoundView struct {
	Active     bool
	Phase      internal.GamePhase
	DrawerID   string
	DrawerName string
	IsDrawer   bool
	Word       string
	Hint       string
	TimeLeft   int
	Round      int
}

// View receives everything a local UI needs to render. Calls arrive on the store's
// notification goroutine and must not block.
type View interface {
	RosterChanged(players []internal.Player)
	RoundChanged(round RoundView)
	WordChoices(choices []string)
	StrokesChanged(segments []internal.StrokeSegment)
	ChatChanged(events []internal.ChatEvent)
	Notice(err error)
}

type NopView struct{}

func (NopView) RosterChanged([]internal.Player)         {}
func (NopView) RoundChanged(RoundView)                  {}
func (NopView) WordChoices([]string)                    {}
func (NopView) StrokesChanged([]internal.StrokeSegment) {}
func (NopView) ChatChanged([]internal.ChatEvent)        {}
func (NopView) Notice(error)                            {}

// Session is one player's membership in one room. It is created by Join and torn
// down by Exit.
type Session struct {
	store  store.Store
	cfg    Config
	view   View
	roomID string
	self   internal.Player

	// ctx outlives individual calls; it is cancelled by Exit and scopes the
	// countdown and delayed round ends.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	roster     internal.Roster
	round      *internal.RoundState
	strokes    []internal.StrokeSegment
	chat       []internal.ChatEvent
	choices    []string
	offering   bool
	countdown  *countdown
	allGuessed *time.Timer
	recovering string
	unsubs     []store.Unsubscribe
}

// Join adds the player to the room, subscribes to the room's four channels and
// bootstraps a round if none exists. An empty roomID picks a random room code and
// an empty playerID a random id.
func Join(ctx context.Context, st store.Store, roomID, playerID, name string, view View, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	roomID = internal.NormalizeRoomID(roomID)
	if roomID == "" {
		roomID = utils.GenerateRoomCode(cfg.IntN)
	}
	if playerID == "" {
		playerID = uuid.NewString()
	}
	if view == nil {
		view = NopView{}
	}

	self := internal.NewPlayer(playerID, name)
	if self.Name == "" {
		return nil, &JoinError{RoomID: roomID, PlayerID: playerID, Err: ErrInvalidName}
	}

	s := &Session{
		store:  st,
		cfg:    cfg,
		view:   view,
		roomID: roomID,
		self:   self,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	log.Info().Str("room", roomID).Str("player", playerID).Str("name", self.Name).Msg("[Join] joining room")

	if err := s.joinRoster(ctx); err != nil {
		s.cancel()
		return nil, &JoinError{RoomID: roomID, PlayerID: playerID, Err: err}
	}

	if err := s.subscribeAll(ctx); err != nil {
		s.teardown()
		if leaveErr := s.leaveRoster(context.WithoutCancel(ctx)); leaveErr != nil {
			log.Warn().Err(leaveErr).Str("room", roomID).Str("player", playerID).Msg("[Join] cleanup after failed subscribe")
		}
		s.cancel()
		return nil, &JoinError{RoomID: roomID, PlayerID: playerID, Err: err}
	}

	if err := s.bootstrap(ctx); err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("[Join] bootstrap failed")
		s.notice(err)
	}

	if err := s.pushSystem(ctx, fmt.Sprintf("%s joined the room", self.Name)); err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("[Join] join announcement failed")
	}

	return s, nil
}

func (s *Session) subscribeAll(ctx context.Context) error {
	channels := []struct {
		path string
		fn   func(store.Snapshot)
	}{
		{internal.PlayersPath(s.roomID), s.onRoster},
		{internal.GamePath(s.roomID), s.onRound},
		{internal.DrawingPath(s.roomID), s.onStrokes},
		{internal.ChatPath(s.roomID), s.onChat},
	}
	for _, ch := range channels {
		unsub, err := s.store.Subscribe(ctx, ch.path, ch.fn)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", ch.path, err)
		}
		s.mu.Lock()
		s.unsubs = append(s.unsubs, unsub)
		s.mu.Unlock()
	}
	return nil
}

// Exit announces the departure, removes the player and stops every subscription
// and timer. It returns the leaderboard for the roster as last seen.
func (s *Session) Exit(ctx context.Context) (internal.FinalResults, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return internal.FinalResults{}, ErrSessionClosed
	}
	roster := s.roster
	rounds := 0
	if s.round != nil {
		rounds = s.round.Round
	}
	s.mu.Unlock()

	s.teardown()

	if err := s.pushSystem(ctx, fmt.Sprintf("%s left the room", s.self.Name)); err != nil {
		log.Warn().Err(err).Str("room", s.roomID).Msg("[Exit] leave announcement failed")
	}
	err := s.leaveRoster(ctx)
	s.cancel()

	log.Info().Str("room", s.roomID).Str("player", s.self.Id).Msg("[Exit] left room")
	return CalculateFinalResults(roster, rounds), err
}

// teardown stops local activity without touching the store.
func (s *Session) teardown() {
	s.mu.Lock()
	s.closed = true
	s.stopCountdownLocked()
	s.cancelAllGuessedLocked()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (s *Session) RoomID() string {
	return s.roomID
}

func (s *Session) PlayerID() string {
	return s.self.Id
}

func (s *Session) Roster() internal.Roster {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster
}

func (s *Session) Round() RoundView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roundViewLocked()
}

// WordChoices returns the words offered to this player, if it is choosing.
func (s *Session) WordChoices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.choices...)
}

func (s *Session) Strokes() []internal.StrokeSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]internal.StrokeSegment(nil), s.strokes...)
}

func (s *Session) Chat() []internal.ChatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]internal.ChatEvent(nil), s.chat...)
}

func (s *Session) roundViewLocked() RoundView {
	if s.round == nil {
		return RoundView{}
	}
	r := *s.round
	v := RoundView{
		Active:   true,
		Phase:    r.Phase,
		DrawerID: r.CurrentDrawer,
		IsDrawer: r.CurrentDrawer == s.self.Id,
		TimeLeft: r.TimeLeft,
		Round:    r.Round,
	}
	if drawer, ok := s.roster.Get(r.CurrentDrawer); ok {
		v.DrawerName = drawer.Name
	}
	// A drawing round without a word is mid-transition; render nothing for it.
	if r.Phase == internal.PhaseDrawing && r.CurrentWord != "" {
		me, _ := s.roster.Get(s.self.Id)
		if v.IsDrawer || me.HasGuessed {
			v.Word = r.CurrentWord
		} else {
			v.Hint = utils.GetMaskedWord(r.CurrentWord)
		}
	}
	return v
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) now() int64 {
	return s.cfg.Now().UnixMilli()
}

func (s *Session) notice(err error) {
	if err == nil {
		return
	}
	s.view.Notice(err)
}
