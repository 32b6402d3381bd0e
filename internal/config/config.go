package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/scythe504/skribblr-sync/internal/game"
)

type Config struct {
	Addr     string `env:"SKRIBBLR_ADDR" envDefault:":8080"`
	LogLevel string `env:"SKRIBBLR_LOG_LEVEL" envDefault:"info"`

	// DatabaseURL enables room persistence when set.
	DatabaseURL     string        `env:"SKRIBBLR_DATABASE_URL"`
	PersistInterval time.Duration `env:"SKRIBBLR_PERSIST_INTERVAL" envDefault:"5s"`

	// Per-connection relay limits: sustained ops per second and burst.
	RelayRate  float64 `env:"SKRIBBLR_RELAY_RATE" envDefault:"50"`
	RelayBurst int     `env:"SKRIBBLR_RELAY_BURST" envDefault:"100"`

	RoundSeconds       int           `env:"SKRIBBLR_ROUND_SECONDS" envDefault:"80"`
	TickInterval       time.Duration `env:"SKRIBBLR_TICK_INTERVAL" envDefault:"1s"`
	AllGuessedDelay    time.Duration `env:"SKRIBBLR_ALL_GUESSED_DELAY" envDefault:"1500ms"`
	WordChoiceCount    int           `env:"SKRIBBLR_WORD_CHOICES" envDefault:"3"`
	RecoverStaleDrawer bool          `env:"SKRIBBLR_RECOVER_STALE_DRAWER" envDefault:"false"`
}

// Load reads an optional .env file (or the given files) into the environment and
// parses it. Variables already set in the environment win over the files.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Game returns the session settings carried by the config.
func (c Config) Game() game.Config {
	return game.Config{
		RoundSeconds:       c.RoundSeconds,
		TickInterval:       c.TickInterval,
		AllGuessedDelay:    c.AllGuessedDelay,
		WordChoiceCount:    c.WordChoiceCount,
		RecoverStaleDrawer: c.RecoverStaleDrawer,
	}
}
