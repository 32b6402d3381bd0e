package internal

import "sort"

// Roster is an immutable, id-ordered view of a room's players. Iteration order is
// the store's key order, which is also the turn rotation order.
type Roster struct {
	players []Player
}

func NewRoster(players []Player) Roster {
	ordered := make([]Player, len(players))
	copy(ordered, players)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Id < ordered[j].Id })
	return Roster{players: ordered}
}

// Players returns a copy; callers may not mutate the roster through it.
func (r Roster) Players() []Player {
	out := make([]Player, len(r.players))
	copy(out, r.players)
	return out
}

func (r Roster) GetPlayerCount() int {
	return len(r.players)
}

func (r Roster) Get(playerID string) (Player, bool) {
	for _, p := range r.players {
		if p.Id == playerID {
			return p, true
		}
	}
	return Player{}, false
}

func (r Roster) Contains(playerID string) bool {
	_, ok := r.Get(playerID)
	return ok
}

// GetNextDrawer returns the player following currentID in iteration order, wrapping
// around. If currentID has already left, the first player sorting after it is next.
func (r Roster) GetNextDrawer(currentID string) (Player, bool) {
	if len(r.players) == 0 {
		return Player{}, false
	}
	for _, p := range r.players {
		if p.Id > currentID {
			return p, true
		}
	}
	return r.players[0], true
}

// HasEveryoneGuessed reports whether every player except the drawer has guessed.
// A room with nobody but the drawer has no guessers and never counts as all-guessed.
func (r Roster) HasEveryoneGuessed(drawerID string) bool {
	guessers := 0
	for _, p := range r.players {
		if p.Id == drawerID {
			continue
		}
		guessers++
		if !p.HasGuessed {
			return false
		}
	}
	return guessers > 0
}

// GuessedIDs lists the players who have guessed the current word.
func (r Roster) GuessedIDs() []string {
	ids := make([]string, 0, len(r.players))
	for _, p := range r.players {
		if p.HasGuessed {
			ids = append(ids, p.Id)
		}
	}
	return ids
}

func (r Roster) First() (Player, bool) {
	if len(r.players) == 0 {
		return Player{}, false
	}
	return r.players[0], true
}
