package engine

import (
	"fmt"

	"twentyeight/internal/rules"
)

// Config parameterizes a session at creation. Mirrors the donor's
// holdem.Config validated-construction pattern (holdem/config.go).
type Config struct {
	Mode            rules.Mode
	MinBid          int
	MaxBid          int
	HiddenTrumpMode HiddenTrumpMode
	Seed            int64 // 0 means "use a time-derived seed"
	ForcedDealer    int   // -1 means "start at seat 0"; set for deterministic tests
}

// DefaultConfig returns the configuration named in the spec's literal test
// scenarios: 28, min_bid 14, ON_FIRST_NONFOLLOW.
func DefaultConfig(mode rules.Mode) Config {
	cfg := Config{
		Mode:            mode,
		HiddenTrumpMode: OnFirstNonFollow,
		ForcedDealer:    -1,
	}
	if mode == rules.Mode56 {
		cfg.MinBid = 28
		cfg.MaxBid = 56
	} else {
		cfg.MinBid = 14
		cfg.MaxBid = 28
	}
	return cfg
}

func (c Config) validate() error {
	if c.Mode != rules.Mode28 && c.Mode != rules.Mode56 {
		return fmt.Errorf("engine: unknown mode %q", c.Mode)
	}
	if c.MinBid <= 0 {
		return fmt.Errorf("engine: min_bid must be positive, got %d", c.MinBid)
	}
	if c.MaxBid < c.MinBid {
		return fmt.Errorf("engine: max_bid %d below min_bid %d", c.MaxBid, c.MinBid)
	}
	switch c.HiddenTrumpMode {
	case OpenImmediately, OnFirstNonFollow, OnFirstTrumpPlay, OnBidderNonFollow:
	default:
		return fmt.Errorf("engine: unknown hidden_trump_mode %q", c.HiddenTrumpMode)
	}
	return nil
}
