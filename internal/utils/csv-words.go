package utils

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

//go:embed words.csv
var wordsCSV string

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

type Word struct {
	Text       string
	Difficulty Difficulty
}

// DefaultWords is the fixed in-memory word bank.
var DefaultWords = mustParseWords(wordsCSV)

// ReadWords parses "word,difficulty" records. Blank and malformed records are skipped.
func ReadWords(r io.Reader) ([]Word, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse word csv: %w", err)
	}

	words := make([]Word, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, record := range records {
		if len(record) < 1 || strings.TrimSpace(record[0]) == "" {
			log.Debug().Strs("record", record).Msg("[ReadWords] skipping invalid record")
			continue
		}
		text := strings.ToLower(strings.TrimSpace(record[0]))
		if seen[text] {
			continue
		}
		seen[text] = true

		difficulty := DifficultyEasy
		if len(record) > 1 {
			switch Difficulty(strings.TrimSpace(record[1])) {
			case DifficultyMedium:
				difficulty = DifficultyMedium
			case DifficultyHard:
				difficulty = DifficultyHard
			}
		}
		words = append(words, Word{Text: text, Difficulty: difficulty})
	}
	return words, nil
}

func mustParseWords(data string) []Word {
	words, err := ReadWords(strings.NewReader(data))
	if err != nil {
		panic(err)
	}
	return words
}

func WordTexts(words []Word) []string {
	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Text
	}
	return texts
}
