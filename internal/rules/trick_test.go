package rules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"twentyeight/internal/card"
)

func c(suit card.Suit, rank card.Rank) card.Card {
	return card.Card{Suit: suit, Rank: rank, DeckIndex: card.DeckOne}
}

func TestPlayableCardsFollowSuit(t *testing.T) {
	hand := []card.Card{c(card.Diamonds, card.Seven), c(card.Clubs, card.Ace), c(card.Spades, card.Jack)}
	playable := PlayableCards(hand, card.Diamonds, card.Spades, true)
	require.Len(t, playable, 1)
	require.Equal(t, card.Diamonds, playable[0].Suit)
}

func TestPlayableCardsTrumpWhenNoFollow(t *testing.T) {
	hand := []card.Card{c(card.Clubs, card.Ace), c(card.Spades, card.Jack)}
	playable := PlayableCards(hand, card.Diamonds, card.Spades, true)
	require.Len(t, playable, 1)
	require.Equal(t, card.Spades, playable[0].Suit)
}

func TestPlayableCardsForcedDiscard(t *testing.T) {
	hand := []card.Card{c(card.Clubs, card.Ace)}
	playable := PlayableCards(hand, card.Diamonds, card.Spades, false)
	require.Len(t, playable, 1)
}

func TestPlayableCardsLeading(t *testing.T) {
	hand := []card.Card{c(card.Clubs, card.Ace), c(card.Spades, card.Jack)}
	playable := PlayableCards(hand, card.SuitInvalid, card.Spades, true)
	require.Len(t, playable, 2)
}

// S5 — trick winner and points from spec.md scenario S5.
func TestTrickWinnerAndPoints(t *testing.T) {
	trick := []Play{
		{Seat: 3, Card: c(card.Hearts, card.Ace)},
		{Seat: 0, Card: c(card.Hearts, card.Ten)},
		{Seat: 1, Card: c(card.Hearts, card.Seven)},
		{Seat: 2, Card: c(card.Spades, card.Seven)},
	}
	winner := TrickWinner(trick, card.Spades, true)
	require.Equal(t, 2, winner)
	require.Equal(t, 2, TrickPoints(trick))
}

func TestTrickWinnerNoTrumpPlayed(t *testing.T) {
	trick := []Play{
		{Seat: 0, Card: c(card.Hearts, card.Seven)},
		{Seat: 1, Card: c(card.Hearts, card.Jack)},
		{Seat: 2, Card: c(card.Clubs, card.Ace)},
		{Seat: 3, Card: c(card.Hearts, card.Nine)},
	}
	require.Equal(t, 1, TrickWinner(trick, card.Spades, true))
}

func TestTeamScoresAndBidOutcome(t *testing.T) {
	points := map[int]int{0: 10, 1: 5, 2: 8, 3: 5}
	team0, team1 := TeamScores(points)
	require.Equal(t, 18, team0)
	require.Equal(t, 10, team1)
	require.True(t, BidOutcome(2, 18, team0, team1))
	require.False(t, BidOutcome(1, 11, team0, team1))
}

func TestMakeDeckSizes(t *testing.T) {
	require.Len(t, MakeDeck(Mode28), 32)
	require.Len(t, MakeDeck(Mode56), 64)
}

func TestDealNoRemainderIn28(t *testing.T) {
	hands, kitty := Deal(MakeDeck(Mode28), 4)
	require.Len(t, hands, 4)
	for _, h := range hands {
		require.Len(t, h, 8)
	}
	require.Empty(t, kitty)
}

func TestDealWithKittyIn56(t *testing.T) {
	hands, kitty := Deal(MakeDeck(Mode56), 6)
	require.Len(t, hands, 6)
	for _, h := range hands {
		require.Len(t, h, 10)
	}
	require.Len(t, kitty, 4)
}
