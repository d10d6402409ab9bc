package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"twentyeight/internal/card"
	"twentyeight/internal/rules"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig(rules.Mode28)
	cfg.Seed = 42
	cfg.ForcedDealer = 0
	e, err := New("sess-1", "brave-otter-01", cfg)
	require.NoError(t, err)
	for i, name := range []string{"A", "B", "C", "D"} {
		require.NoError(t, e.AddPlayer(PlayerInfo{PlayerID: name, DisplayName: name, Seat: i}))
	}
	require.NoError(t, e.StartRound(false))
	return e
}

// S1 — redeal on all pass.
func TestRedealOnAllPass(t *testing.T) {
	e := newTestEngine(t)
	require.Equal(t, 1, e.turn)

	require.NoError(t, e.PlaceBid(1, passBid))
	require.NoError(t, e.PlaceBid(2, passBid))
	require.NoError(t, e.PlaceBid(3, passBid))
	require.NoError(t, e.PlaceBid(0, passBid))

	require.Equal(t, StateBidding, e.state)
	require.Equal(t, 0, e.currentDealer)
	require.Equal(t, -1, e.bidWinner)
	require.Equal(t, 1, e.turn)
}

// S2 — bidding closes when all but one have passed. Seat 1 acts twice:
// bids, then later passes once outbid.
func TestBiddingClosesWhenAllButOnePassed(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.PlaceBid(1, 16))
	require.NoError(t, e.PlaceBid(2, passBid))
	require.NoError(t, e.PlaceBid(3, 18))
	require.NoError(t, e.PlaceBid(0, passBid))
	require.NoError(t, e.PlaceBid(1, passBid))

	require.Equal(t, 3, e.bidWinner)
	require.Equal(t, 18, e.bidValue)
	require.Equal(t, StateChooseTrump, e.state)
}

func TestPlaceBidRejectsSecondActionAfterPass(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.PlaceBid(1, passBid))
	require.NoError(t, e.PlaceBid(2, 14))
	err := e.PlaceBid(1, 15)
	require.Error(t, err)
	actionErr, ok := err.(*ActionError)
	require.True(t, ok)
	require.Equal(t, ErrDuplicateAction, actionErr.Kind)
}

func heartAce() card.Card  { return card.Card{Suit: card.Hearts, Rank: card.Ace, DeckIndex: card.DeckOne} }
func heartKing() card.Card { return card.Card{Suit: card.Hearts, Rank: card.King, DeckIndex: card.DeckOne} }
func clubsSeven() card.Card {
	return card.Card{Suit: card.Clubs, Rank: card.Seven, DeckIndex: card.DeckOne}
}

// S3 — hidden trump reveal on non-follow.
func TestHiddenTrumpRevealOnNonFollow(t *testing.T) {
	e := newTestEngine(t)

	e.state = StateChooseTrump
	e.bidWinner = 3
	require.NoError(t, e.ChooseTrump(3, card.Spades))
	require.Equal(t, 3, e.turn)
	require.False(t, e.trumpRevealed)

	e.hands[3] = []card.Card{heartAce()}
	e.hands[0] = []card.Card{heartKing()}
	e.hands[1] = []card.Card{clubsSeven()}
	e.hands[2] = []card.Card{{Suit: card.Diamonds, Rank: card.Seven, DeckIndex: card.DeckOne}}

	require.NoError(t, e.PlayCard(3, heartAce().ID()))
	require.Equal(t, 0, e.turn)
	require.False(t, e.trumpRevealed)

	require.NoError(t, e.PlayCard(0, heartKing().ID()))
	require.Equal(t, 1, e.turn)
	require.False(t, e.trumpRevealed)

	require.NoError(t, e.PlayCard(1, clubsSeven().ID()))
	require.True(t, e.trumpRevealed, "playing off-suit with no hearts must reveal trump")
}

// S4 — follow-suit enforcement.
func TestFollowSuitEnforcement(t *testing.T) {
	e := newTestEngine(t)
	e.state = StatePlay
	e.trump = card.Spades
	e.turn = 1
	diamondNine := card.Card{Suit: card.Diamonds, Rank: card.Nine, DeckIndex: card.DeckOne}
	diamondSeven := card.Card{Suit: card.Diamonds, Rank: card.Seven, DeckIndex: card.DeckOne}
	clubsAce := card.Card{Suit: card.Clubs, Rank: card.Ace, DeckIndex: card.DeckOne}
	spadesJack := card.Card{Suit: card.Spades, Rank: card.Jack, DeckIndex: card.DeckOne}
	e.currentTrick = []rules.Play{{Seat: 0, Card: diamondNine}}
	e.hands[1] = []card.Card{diamondSeven, clubsAce, spadesJack}

	err := e.PlayCard(1, clubsAce.ID())
	require.Error(t, err)
	actionErr, ok := err.(*ActionError)
	require.True(t, ok)
	require.Equal(t, ErrMustFollowSuit, actionErr.Kind)
	require.Equal(t, StatePlay, e.state)
	require.Equal(t, 1, e.turn)
	require.Len(t, e.hands[1], 3, "rejected play must not mutate the hand")

	require.NoError(t, e.PlayCard(1, diamondSeven.ID()))
	require.Equal(t, 2, e.turn)
}

// S6 — persistence round-trip after three completed tricks.
func TestPersistenceRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.PlaceBid(1, 14))
	require.NoError(t, e.PlaceBid(2, passBid))
	require.NoError(t, e.PlaceBid(3, passBid))
	require.NoError(t, e.PlaceBid(0, passBid))
	require.Equal(t, StateChooseTrump, e.state)
	require.Equal(t, 1, e.bidWinner)
	require.NoError(t, e.ChooseTrump(1, card.Spades))

	for trick := 0; trick < 3; trick++ {
		for i := 0; i < 4; i++ {
			seat := e.turn
			playable := e.PlayableCardsFor(seat)
			require.NotEmpty(t, playable)
			require.NoError(t, e.PlayCard(seat, playable[0].ID()))
		}
	}

	before := e.PublicState()
	beforeHands := make(map[int][]card.Card, e.seats)
	for s := 0; s < e.seats; s++ {
		beforeHands[s] = e.HandFor(s)
	}

	blob, err := e.Serialize()
	require.NoError(t, err)

	restored, err := Restore(blob)
	require.NoError(t, err)

	after := restored.PublicState()
	require.Equal(t, before.Turn, after.Turn)
	require.Equal(t, before.Trump, after.Trump)
	require.Equal(t, before.TrumpRevealed, after.TrumpRevealed)
	require.Equal(t, before.CapturedTricks, after.CapturedTricks)
	require.Equal(t, before.PointsBySeat, after.PointsBySeat)
	for s := 0; s < e.seats; s++ {
		require.ElementsMatch(t, beforeHands[s], restored.HandFor(s))
	}

	nextSeat := after.Turn
	nextPlayable := restored.PlayableCardsFor(nextSeat)
	require.NotEmpty(t, nextPlayable)
	require.NoError(t, restored.PlayCard(nextSeat, nextPlayable[0].ID()))
}

func TestAddPlayerRejectsDuplicateAndOverflow(t *testing.T) {
	cfg := DefaultConfig(rules.Mode28)
	cfg.Seed = 7
	e, err := New("sess-2", "calm-river-02", cfg)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, e.AddPlayer(PlayerInfo{PlayerID: "p" + string(rune('A'+i))}))
	}
	err = e.AddPlayer(PlayerInfo{PlayerID: "overflow"})
	require.Error(t, err)
	actionErr, ok := err.(*ActionError)
	require.True(t, ok)
	require.Equal(t, ErrSessionFull, actionErr.Kind)

	dup := e.AddPlayer(PlayerInfo{PlayerID: "pA"})
	require.Error(t, dup)
}

func TestDealerRotatesCounterClockwiseAcrossRounds(t *testing.T) {
	e := newTestEngine(t)
	require.Equal(t, 0, e.currentDealer)

	require.NoError(t, e.PlaceBid(1, passBid))
	require.NoError(t, e.PlaceBid(2, passBid))
	require.NoError(t, e.PlaceBid(3, passBid))
	require.NoError(t, e.PlaceBid(0, passBid))
	require.Equal(t, 0, e.currentDealer, "an all-pass redeal keeps the same dealer")

	e.state = StateRoundEnd
	require.NoError(t, e.StartRound(false))
	require.Equal(t, 3, e.currentDealer, "dealer rotates counter-clockwise on a genuine new round")
}

func TestRevisionMonotonicallyIncreasesOnAcceptedMutation(t *testing.T) {
	e := newTestEngine(t)
	r0 := e.Revision()
	require.NoError(t, e.PlaceBid(1, 14))
	r1 := e.Revision()
	require.Greater(t, r1, r0)

	err := e.PlaceBid(1, 15)
	require.Error(t, err)
	r2 := e.Revision()
	require.Equal(t, r1, r2, "a rejected action must never advance revision")
}
