// Package main is a terminal client for a relay room: it prints the room state and
// reads guesses and drawer commands from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/scythe504/skribblr-sync/internal"
	"github.com/scythe504/skribblr-sync/internal/config"
	"github.com/scythe504/skribblr-sync/internal/game"
	"github.com/scythe504/skribblr-sync/internal/logger"
	"github.com/scythe504/skribblr-sync/internal/utils"
	"github.com/scythe504/skribblr-sync/internal/websocket"
)

func main() {
	relayURL := flag.String("relay", "ws://localhost:8080/ws", "relay websocket endpoint")
	roomID := flag.String("room", "", "room code to join; empty creates a new room")
	name := flag.String("name", "", "display name")
	playerID := flag.String("id", "", "player id; empty picks a new one")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("[main] load config")
	}
	logger.Setup(cfg.LogLevel, os.Stderr)

	if err := checkRoomCode(*roomID); err != nil {
		log.Fatal().Err(err).Msg("[main] bad -room")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *relayURL, *roomID, *playerID, *name); err != nil {
		log.Fatal().Err(err).Msg("[main] client stopped")
	}
}

func run(ctx context.Context, cfg config.Config, relayURL, roomID, playerID, name string) error {
	client, err := websocket.Dial(ctx, relayURL, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	view := &terminalView{out: os.Stdout}
	session, err := game.Join(ctx, client, roomID, playerID, name, view, cfg.Game())
	if err != nil {
		return err
	}
	view.setSelf(session.PlayerID())
	fmt.Fprintf(os.Stdout, "joined room %s as %s\n", session.RoomID(), name)

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return exit(session)
		case <-client.Done():
			return errors.New("relay connection lost")
		case line, ok := <-lines:
			if !ok {
				return exit(session)
			}
			done, err := command(ctx, session, line)
			if err != nil {
				fmt.Fprintf(os.Stdout, "! %v\n", err)
			}
			if done {
				return exit(session)
			}
		}
	}
}

// checkRoomCode accepts an empty code, which creates a new room.
func checkRoomCode(code string) error {
	if code == "" || utils.ValidRoomCode(code) {
		return nil
	}
	return fmt.Errorf("room code %q must be %d letters or digits", code, internal.RoomCodeLength)
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func exit(session *game.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results, err := session.Exit(ctx)
	if err != nil {
		return err
	}
	printResults(os.Stdout, results)
	return nil
}

// command runs one line of input. It reports whether the client should exit.
func command(ctx context.Context, session *game.Session, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, session.SubmitGuess(ctx, line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true, nil
	case "/pick":
		choices := session.WordChoices()
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /pick N (choices: %s)", strings.Join(choices, ", "))
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 || n > len(choices) {
			return false, fmt.Errorf("pick a number between 1 and %d", len(choices))
		}
		return false, session.SelectWord(ctx, choices[n-1])
	case "/draw":
		seg, err := parseSegment(fields[1:])
		if err != nil {
			return false, err
		}
		return false, session.Emit(ctx, seg)
	case "/clear":
		return false, session.Clear(ctx)
	case "/who":
		for _, p := range session.Roster().Players() {
			fmt.Fprintf(os.Stdout, "  %s (%d)\n", p.Name, p.Score)
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}

// parseSegment reads "x0 y0 x1 y1 [color] [size]".
func parseSegment(args []string) (internal.StrokeSegment, error) {
	if len(args) < 4 {
		return internal.StrokeSegment{}, errors.New("usage: /draw x0 y0 x1 y1 [#rrggbb] [size]")
	}
	var coords [4]float64
	for i := range coords {
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return internal.StrokeSegment{}, fmt.Errorf("bad coordinate %q", args[i])
		}
		coords[i] = v
	}
	seg := internal.StrokeSegment{X0: coords[0], Y0: coords[1], X1: coords[2], Y1: coords[3], Color: internal.DefaultColor, Size: 4}
	if len(args) > 4 {
		seg.Color = args[4]
	}
	if len(args) > 5 {
		size, err := strconv.ParseFloat(args[5], 64)
		if err != nil {
			return internal.StrokeSegment{}, fmt.Errorf("bad size %q", args[5])
		}
		seg.Size = size
	}
	return seg, nil
}

func printResults(w io.Writer, results internal.FinalResults) {
	fmt.Fprintf(w, "final standings after %d round(s):\n", results.RoundsPlayed)
	for _, r := range results.Leaderboard {
		fmt.Fprintf(w, "  %d. %s %d\n", r.Position, r.Username, r.Score)
	}
	if results.MVP != nil {
		fmt.Fprintf(w, "MVP: %s\n", results.MVP.Username)
	}
}

// =============================================================================
// TERMINAL VIEW
// =============================================================================

type terminalView struct {
	out io.Writer

	mu       sync.Mutex
	self     string
	lastKey  string
	lastTick int
}

var _ game.View = (*terminalView)(nil)

func (v *terminalView) setSelf(id string) {
	v.mu.Lock()
	v.self = id
	v.mu.Unlock()
}

func (v *terminalView) RosterChanged(players []internal.Player) {
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, fmt.Sprintf("%s:%d", p.Name, p.Score))
	}
	v.printf("players: %s\n", strings.Join(names, " "))
}

func (v *terminalView) RoundChanged(round game.RoundView) {
	if !round.Active {
		v.printf("waiting for a round\n")
		return
	}
	v.mu.Lock()
	// Only print the countdown every ten seconds.
	quiet := round.TimeLeft != v.lastTick && round.TimeLeft%10 != 0 && round.TimeLeft > 5
	v.lastTick = round.TimeLeft
	v.mu.Unlock()

	switch {
	case round.Phase == internal.PhaseChoosing && round.IsDrawer:
		v.printf("your turn to draw, pick a word with /pick N\n")
	case round.Phase == internal.PhaseChoosing:
		v.printf("%s is choosing a word\n", round.DrawerName)
	case quiet:
	case round.Word != "":
		v.printf("[%ds] word: %s\n", round.TimeLeft, round.Word)
	default:
		v.printf("[%ds] %s is drawing: %s\n", round.TimeLeft, round.DrawerName, round.Hint)
	}
}

func (v *terminalView) WordChoices(choices []string) {
	if len(choices) == 0 {
		return
	}
	for i, c := range choices {
		v.printf("  %d) %s\n", i+1, c)
	}
}

func (v *terminalView) StrokesChanged(segments []internal.StrokeSegment) {
	if len(segments) == 0 {
		v.printf("canvas cleared\n")
	}
}

// ChatChanged prints the events after the last one shown.
func (v *terminalView) ChatChanged(events []internal.ChatEvent) {
	v.mu.Lock()
	self, last := v.self, v.lastKey
	v.mu.Unlock()

	visible := game.VisibleChat(events, self)
	start := 0
	for i, e := range visible {
		if e.Key == last {
			start = i + 1
		}
	}
	for _, e := range visible[start:] {
		switch e.Type {
		case internal.ChatSystem:
			v.printf("* %s\n", e.Message)
		default:
			v.printf("<%s> %s\n", e.Username, e.Message)
		}
	}
	if len(visible) > 0 {
		v.mu.Lock()
		v.lastKey = visible[len(visible)-1].Key
		v.mu.Unlock()
	}
}

func (v *terminalView) Notice(err error) {
	v.printf("! %v\n", err)
}

func (v *terminalView) printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, format, args...)
}
