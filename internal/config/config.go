// Package config loads process configuration from the environment, after
// merging an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	AppEnv             string        `env:"APP_ENV" envDefault:"local"`
	HTTPAddr           string        `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseURL        string        `env:"DATABASE_URL"` // empty: in-memory adapters
	BoxesFile          string        `env:"BOXES_FILE" envDefault:"boxes.json"`
	DevStartingBalance int64         `env:"DEV_STARTING_BALANCE" envDefault:"0"`
	Countdown          time.Duration `env:"BATTLE_COUNTDOWN" envDefault:"3s"`
	RoundDelay         time.Duration `env:"BATTLE_ROUND_DELAY" envDefault:"4s"`
	WaitingTTL         time.Duration `env:"BATTLE_WAITING_TTL" envDefault:"15m"`
	ArchiveAfter       time.Duration `env:"BATTLE_ARCHIVE_AFTER" envDefault:"2m"`
	MaxPlayers         int           `env:"BATTLE_MAX_PLAYERS" envDefault:"4"`
	MaxRounds          int           `env:"BATTLE_MAX_ROUNDS" envDefault:"50"`
	FeeRateRaw         string        `env:"PLATFORM_FEE_RATE" envDefault:"0.05"`
	WSWriteTimeout     time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"3s"`
	WSOriginPatterns   []string      `env:"WS_ORIGIN_PATTERNS" envSeparator:","`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	FeeRate decimal.Decimal `env:"-"`
}

func (c Config) Local() bool { return c.AppEnv == "local" }

// Load reads files (default ".env") into the environment without
// overriding variables that are already set, then parses Config.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) validate() error {
	rate, err := decimal.NewFromString(c.FeeRateRaw)
	if err != nil {
		return fmt.Errorf("PLATFORM_FEE_RATE: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("PLATFORM_FEE_RATE must be in [0,1), got %s", c.FeeRateRaw)
	}
	c.FeeRate = rate

	if c.MaxPlayers < 2 {
		return fmt.Errorf("BATTLE_MAX_PLAYERS must be at least 2, got %d", c.MaxPlayers)
	}
	if c.MaxRounds < 1 {
		return fmt.Errorf("BATTLE_MAX_ROUNDS must be at least 1, got %d", c.MaxRounds)
	}
	if c.DevStartingBalance < 0 {
		return fmt.Errorf("DEV_STARTING_BALANCE must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"BATTLE_COUNTDOWN":     c.Countdown,
		"BATTLE_ROUND_DELAY":   c.RoundDelay,
		"BATTLE_WAITING_TTL":   c.WaitingTTL,
		"BATTLE_ARCHIVE_AFTER": c.ArchiveAfter,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}
