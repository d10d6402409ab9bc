// Package botdriver runs the cooperative per-session bot loop: watch the
// engine's public state, act for the seat currently on turn when it belongs
// to a bot, sleep a human-like think delay, repeat.
//
// Grounded on the donor's apps/server/internal/table/table.go
// scheduleNPCAction (think-delay goroutine, decide-then-inject-event), and
// holdem/npc/rule_brain.go for where the actual decision comes from
// (internal/bots here instead).
package botdriver

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"twentyeight/internal/bots"
	"twentyeight/internal/engine"
)

const (
	defaultBidDelay   = 500 * time.Millisecond
	defaultTrumpDelay = 500 * time.Millisecond
	defaultPlayDelay  = 700 * time.Millisecond

	// jitter is added on top of the base per-action delay so bots don't all
	// act in perfect lockstep.
	jitter = 400 * time.Millisecond
)

// AfterMutation is invoked once a bot's action is accepted, so the caller
// can persist/broadcast exactly the way a human-submitted action would.
type AfterMutation func(sessionID string)

// Delays configures the base think-delay per action type (spec §4.6); a
// zero Delays uses the package defaults.
type Delays struct {
	Bid   time.Duration
	Trump time.Duration
	Play  time.Duration
}

func (d Delays) orDefaults() Delays {
	if d.Bid <= 0 {
		d.Bid = defaultBidDelay
	}
	if d.Trump <= 0 {
		d.Trump = defaultTrumpDelay
	}
	if d.Play <= 0 {
		d.Play = defaultPlayDelay
	}
	return d
}

// Driver schedules and cancels bot loops, one per session, never holding
// the engine's own lock across a sleep.
type Driver struct {
	mu      sync.Mutex
	running map[string]context.CancelFunc
	rng     *rand.Rand
	rngMu   sync.Mutex
	after   AfterMutation
	delays  Delays
	log     *log.Logger
}

// New constructs a Driver. after is called (from the bot's own goroutine)
// whenever a bot action is accepted.
func New(logger *log.Logger, after AfterMutation) *Driver {
	return NewWithDelays(logger, after, Delays{})
}

// NewWithDelays constructs a Driver with explicit per-action think delays,
// as configured by internal/config.
func NewWithDelays(logger *log.Logger, after AfterMutation, delays Delays) *Driver {
	return &Driver{
		running: make(map[string]context.CancelFunc),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		after:   after,
		delays:  delays.orDefaults(),
		log:     logger,
	}
}

// Schedule idempotently starts a bot loop for e. A second call for the same
// session while one is already running is a no-op.
func (d *Driver) Schedule(e *engine.Engine) {
	d.mu.Lock()
	if _, ok := d.running[e.ID()]; ok {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.running[e.ID()] = cancel
	d.mu.Unlock()

	go d.loop(ctx, e)
}

// Cancel stops a session's bot loop, if one is running.
func (d *Driver) Cancel(sessionID string) {
	d.mu.Lock()
	cancel, ok := d.running[sessionID]
	if ok {
		delete(d.running, sessionID)
	}
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

func (d *Driver) loop(ctx context.Context, e *engine.Engine) {
	defer func() {
		d.mu.Lock()
		delete(d.running, e.ID())
		d.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		view := e.PublicState()
		player, isBot := view.Players[view.Turn]
		if !d.isActionableState(view.State) || !isBot || !player.IsBot {
			return
		}

		delay := d.thinkDelay(view.State)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		if err := d.act(e, view); err != nil {
			// A rejected action (stale turn, raced human move) just means
			// the world moved on; re-snapshot on the next loop iteration
			// instead of treating it as fatal.
			d.log.Debug("bot action rejected, re-evaluating", "session", e.ID(), "error", err)
		} else if d.after != nil {
			d.after(e.ID())
		}
	}
}

func (d *Driver) isActionableState(s engine.State) bool {
	switch s {
	case engine.StateBidding, engine.StateChooseTrump, engine.StatePlay:
		return true
	default:
		return false
	}
}

func (d *Driver) act(e *engine.Engine, view engine.PublicView) error {
	seat := view.Turn
	switch view.State {
	case engine.StateBidding:
		state := bots.PublicBidState{
			MinBid:         view.MinBid,
			CurrentHighest: view.CurrentHighest,
			MaxBid:         view.MaxBid,
		}
		hand := e.HandFor(seat)
		value := bots.DecideBid(state, hand, d.nextRNG())
		return e.PlaceBid(seat, value)
	case engine.StateChooseTrump:
		hand := e.HandFor(seat)
		suit := bots.DecideTrump(hand)
		return e.ChooseTrump(seat, suit)
	case engine.StatePlay:
		playable := e.PlayableCardsFor(seat)
		if len(playable) == 0 {
			return nil
		}
		chosen := bots.DecidePlay(playable, d.nextRNG())
		return e.PlayCard(seat, chosen.ID())
	default:
		return nil
	}
}

func (d *Driver) thinkDelay(state engine.State) time.Duration {
	base := d.delays.Play
	switch state {
	case engine.StateBidding:
		base = d.delays.Bid
	case engine.StateChooseTrump:
		base = d.delays.Trump
	}
	d.rngMu.Lock()
	n := d.rng.Int63n(int64(jitter))
	d.rngMu.Unlock()
	return base + time.Duration(n)
}

// nextRNG hands bot decision functions a private *rand.Rand seeded from the
// driver's own source, so concurrent sessions' bot loops never contend on a
// shared generator.
func (d *Driver) nextRNG() *rand.Rand {
	d.rngMu.Lock()
	seed := d.rng.Int63()
	d.rngMu.Unlock()
	return rand.New(rand.NewSource(seed))
}
