package bots

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"twentyeight/internal/card"
)

func TestDecideBidNeverExceedsMax(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	state := PublicBidState{MinBid: 14, CurrentHighest: 26, MaxBid: 28}
	for i := 0; i < 200; i++ {
		bid := DecideBid(state, nil, rng)
		if bid != PassBid {
			require.LessOrEqual(t, bid, 28)
			require.Greater(t, bid, 26)
		}
	}
}

func TestDecideBidPassesAtCeiling(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	state := PublicBidState{MinBid: 14, CurrentHighest: 28, MaxBid: 28}
	require.Equal(t, PassBid, DecideBid(state, nil, rng))
}

func TestDecideTrumpPicksMostFrequentSuit(t *testing.T) {
	hand := []card.Card{
		{Suit: card.Spades, Rank: card.Seven},
		{Suit: card.Spades, Rank: card.Jack},
		{Suit: card.Hearts, Rank: card.Ace},
	}
	require.Equal(t, card.Spades, DecideTrump(hand))
}

func TestDecidePlayReturnsLegalCard(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	playable := []card.Card{
		{Suit: card.Diamonds, Rank: card.Seven},
		{Suit: card.Diamonds, Rank: card.King},
	}
	chosen := DecidePlay(playable, rng)
	require.Contains(t, playable, chosen)
}
