package botdriver

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"twentyeight/internal/engine"
	"twentyeight/internal/rules"
)

func newAllBotEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig(rules.Mode28)
	cfg.Seed = 11
	cfg.ForcedDealer = 0
	e, err := engine.New("sess-bot", "quiet-meadow-07", cfg)
	require.NoError(t, err)
	require.NoError(t, e.AddPlayer(engine.PlayerInfo{PlayerID: "bot-seed-0", IsBot: true}))
	require.NoError(t, e.AddPlayer(engine.PlayerInfo{PlayerID: "bot-seed-1", IsBot: true}))
	require.NoError(t, e.StartRound(true)) // fills the remaining 2 seats with bots too
	return e
}

func TestScheduleDrivesBotsThroughBidding(t *testing.T) {
	e := newAllBotEngine(t)
	notified := make(chan string, 64)
	d := New(log.New(io.Discard), func(sessionID string) { notified <- sessionID })

	d.Schedule(e)
	defer d.Cancel(e.ID())

	// Every seat is a bot, so the loop can carry bidding all the way to
	// CHOOSE_TRUMP (or further, into PLAY) without any human action.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-notified:
			state := e.State()
			if state == engine.StateChooseTrump || state == engine.StatePlay {
				return
			}
		case <-deadline:
			t.Fatalf("bots never progressed bidding, state=%s", e.State())
		}
	}
}

func TestScheduleIsIdempotent(t *testing.T) {
	e := newAllBotEngine(t)
	d := New(log.New(io.Discard), nil)
	d.Schedule(e)
	d.Schedule(e) // must not start a second loop
	defer d.Cancel(e.ID())

	d.mu.Lock()
	count := len(d.running)
	d.mu.Unlock()
	require.Equal(t, 1, count)
}
