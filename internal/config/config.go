// Package config parses process configuration for the server binary:
// listen address, repository mode, idle-session thresholds, and bot action
// delays (spec §6.4). Flags and environment variables are both honored via
// github.com/alecthomas/kong (grounded on lox-pokerforbots' cmd/simulate
// CLI struct); an optional .env file is loaded with github.com/joho/godotenv
// before parsing, mirroring common local-dev setups in the example pack.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"twentyeight/internal/persistence"
)

// Config is the fully resolved process configuration.
type Config struct {
	Addr string `help:"HTTP/WS listen address." default:":18080" env:"ADDR"`

	StoreMode   string `help:"Session persistence backend: memory, sqlite, or postgres." default:"memory" env:"STORE_MODE"`
	SQLitePath  string `help:"Path to the sqlite database file." default:"./data/sessions.db" env:"SQLITE_PATH"`
	DatabaseURL string `help:"Postgres connection string, required when store-mode=postgres." env:"DATABASE_URL"`

	IdleLobbyTTL     time.Duration `help:"Idle threshold before an unstarted lobby session is reaped." default:"1h" env:"IDLE_LOBBY_TTL"`
	IdleActiveTTL    time.Duration `help:"Idle threshold before an in-progress session is reaped." default:"2h" env:"IDLE_ACTIVE_TTL"`
	IdleCompletedTTL time.Duration `help:"Idle threshold before a finished session is reaped." default:"24h" env:"IDLE_COMPLETED_TTL"`

	BotBidDelay   time.Duration `help:"BotDriver sleep before submitting a bid." default:"500ms" env:"BOT_BID_DELAY"`
	BotTrumpDelay time.Duration `help:"BotDriver sleep before choosing trump." default:"500ms" env:"BOT_TRUMP_DELAY"`
	BotPlayDelay  time.Duration `help:"BotDriver sleep before playing a card." default:"700ms" env:"BOT_PLAY_DELAY"`
}

// Load reads an optional .env file (missing is not an error), then parses
// flags and environment variables into a Config via kong.
func Load(args []string) (Config, error) {
	// godotenv.Load populates the process environment before kong reads it,
	// so a missing .env file in production is silently ignored.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: loading .env: %w", err)
	}

	var cfg Config
	parser, err := kong.New(&cfg, kong.Name("twentyeight-server"), kong.Description("28/56 real-time card table server"))
	if err != nil {
		return Config{}, fmt.Errorf("config: building parser: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: parsing arguments: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch persistence.Mode(c.StoreMode) {
	case persistence.ModeMemory, persistence.ModeSQLite, persistence.ModePostgres:
	default:
		return fmt.Errorf("config: unknown store-mode %q", c.StoreMode)
	}
	if persistence.Mode(c.StoreMode) == persistence.ModePostgres && c.DatabaseURL == "" {
		return fmt.Errorf("config: database-url is required when store-mode=postgres")
	}
	return nil
}

// PersistenceConfig adapts Config into the persistence package's own Config
// shape, so main need not reach into field names twice.
func (c Config) PersistenceConfig() persistence.Config {
	return persistence.Config{
		Mode:        persistence.Mode(c.StoreMode),
		SQLitePath:  c.SQLitePath,
		DatabaseURL: c.DatabaseURL,
	}
}
