package internal

import "strings"

// Player is the record at rooms/{roomId}/players/{playerId}. The store key is the
// player id; it is copied into Id when decoding a roster snapshot.
type Player struct {
	Id         string `json:"-"`
	Name       string `json:"name"`
	Score      int    `json:"score"`
	Active     bool   `json:"active"`
	HasGuessed bool   `json:"hasGuessed"`
}

func NewPlayer(id, name string) Player {
	return Player{
		Id:     id,
		Name:   strings.TrimSpace(name),
		Active: true,
	}
}

// Valid rejects partial records, e.g. a lone {hasGuessed:false} left behind when a
// round reset raced with a disconnect.
func (p Player) Valid() bool {
	return p.Id != "" && p.Name != "" && p.Score >= 0
}
