package utils

import (
	"math/rand/v2"
	"strings"

	"github.com/scythe504/skribblr-sync/internal"
)

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// IntN returns a random int in [0, n). It matches rand.IntN so tests can swap in a
// deterministic source.
type IntN func(n int) int

const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GetMaskedWord converts word to letter blanks for guessers, e.g. "ice cream" ->
// "_ _ _   _ _ _ _ _". Spaces and punctuation are kept.
func GetMaskedWord(word string) string {
	if word == "" {
		return ""
	}
	masked := make([]string, 0, len(word))
	for _, r := range word {
		switch {
		case r == ' ':
			masked = append(masked, " ")
		case r == '-' || r == '\'':
			masked = append(masked, string(r))
		default:
			masked = append(masked, "_")
		}
	}
	return strings.Join(masked, " ")
}

// GenerateWordChoices samples count distinct words from bank without replacement.
// It returns fewer words only if the bank itself is smaller than count.
func GenerateWordChoices(bank []string, count int, intn IntN) []string {
	if intn == nil {
		intn = rand.IntN
	}

	pool := make([]string, 0, len(bank))
	seen := make(map[string]bool, len(bank))
	for _, w := range bank {
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		pool = append(pool, w)
	}

	if count > len(pool) {
		count = len(pool)
	}

	// Partial Fisher-Yates: the first count slots end up a uniform sample.
	for i := 0; i < count; i++ {
		j := i + intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:count]
}

// GenerateRoomCode returns a random room code of internal.RoomCodeLength characters.
func GenerateRoomCode(intn IntN) string {
	if intn == nil {
		intn = rand.IntN
	}
	var b strings.Builder
	b.Grow(internal.RoomCodeLength)
	for i := 0; i < internal.RoomCodeLength; i++ {
		b.WriteByte(roomCodeAlphabet[intn(len(roomCodeAlphabet))])
	}
	return b.String()
}

// ValidRoomCode reports whether code is a well formed room code, ignoring case.
func ValidRoomCode(code string) bool {
	code = internal.NormalizeRoomID(code)
	if len(code) != internal.RoomCodeLength {
		return false
	}
	for _, r := range code {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
