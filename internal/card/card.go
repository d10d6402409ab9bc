// Package card defines the card identity used by both the 28 and 56 variants:
// a suit, a rank drawn from a 32-card pack, and a deck index distinguishing
// the two physical decks that 56 shuffles together.
package card

import (
	"encoding/json"
	"fmt"
)

// Suit is one of the four French suits.
type Suit byte

const (
	SuitInvalid Suit = iota
	Spades
	Hearts
	Diamonds
	Clubs
)

var suitSymbols = map[Suit]string{
	Spades:   "♠",
	Hearts:   "♥",
	Diamonds: "♦",
	Clubs:    "♣",
}

var suitNames = map[Suit]string{
	Spades:   "S",
	Hearts:   "H",
	Diamonds: "D",
	Clubs:    "C",
}

// AllSuits lists the four suits in a fixed, deterministic order.
var AllSuits = [4]Suit{Spades, Hearts, Diamonds, Clubs}

func (s Suit) String() string {
	if sym, ok := suitSymbols[s]; ok {
		return sym
	}
	return "?"
}

// ParseSuit accepts either the unicode symbol or the single-letter code.
func ParseSuit(s string) (Suit, error) {
	for suit, sym := range suitSymbols {
		if s == sym || s == suitNames[suit] {
			return suit, nil
		}
	}
	return SuitInvalid, fmt.Errorf("card: unknown suit %q", s)
}

// Rank is a card rank from the 32-card pack (7 through Ace).
type Rank byte

const (
	RankInvalid Rank = iota
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
	Ace
)

var rankNames = map[Rank]string{
	Seven: "7",
	Eight: "8",
	Nine:  "9",
	Ten:   "10",
	Jack:  "J",
	Queen: "Q",
	King:  "K",
	Ace:   "A",
}

// AllRanks lists the eight ranks of the 32-card pack, low to high in face
// value (not trick-taking strength — see Rank.TrickOrder).
var AllRanks = [8]Rank{Seven, Eight, Nine, Ten, Jack, Queen, King, Ace}

func (r Rank) String() string {
	if n, ok := rankNames[r]; ok {
		return n
	}
	return "?"
}

// ParseRank parses the single/double-character rank code ("7".."A").
func ParseRank(s string) (Rank, error) {
	for r, n := range rankNames {
		if n == s {
			return r, nil
		}
	}
	return RankInvalid, fmt.Errorf("card: unknown rank %q", s)
}

// trickOrder maps a rank to its trick-taking strength. 28/56 rank order is
// NOT face value: Jack is the highest card, followed by Nine, then Ace and
// Ten, which both outrank King and Queen: 7 < 8 < Q < K < 10 < A < 9 < J.
var trickOrder = map[Rank]int{
	Seven: 0,
	Eight: 1,
	Queen: 2,
	King:  3,
	Ten:   4,
	Ace:   5,
	Nine:  6,
	Jack:  7,
}

// TrickOrder returns the rank's trick-taking strength: higher wins.
func (r Rank) TrickOrder() int {
	return trickOrder[r]
}

// Points is the scoring value of the rank: J=3, 9=2, A=1, 10=1, others=0.
func (r Rank) Points() int {
	switch r {
	case Jack:
		return 3
	case Nine:
		return 2
	case Ace, Ten:
		return 1
	default:
		return 0
	}
}

// DeckIndex distinguishes the two 32-card packs shuffled together in 56.
// Mode 28 always uses DeckOne.
type DeckIndex byte

const (
	DeckOne DeckIndex = 1
	DeckTwo DeckIndex = 2
)

// Card is the atomic unit of play: a rank of a suit from one of (up to) two
// physical decks.
type Card struct {
	Suit      Suit      `json:"suit"`
	Rank      Rank      `json:"rank"`
	DeckIndex DeckIndex `json:"deck_index"`
}

// ID returns the card's identity string, globally unique within a session's
// live deck: rank+suit+"#"+deck_index, e.g. "J♠#1".
func (c Card) ID() string {
	return fmt.Sprintf("%s%s#%d", c.Rank, c.Suit, c.DeckIndex)
}

func (c Card) String() string {
	return c.ID()
}

// Points reports the scoring value of this card.
func (c Card) Points() int {
	return c.Rank.Points()
}

// MarshalJSON renders a Card as its identity string plus decoded fields, so
// wire consumers can match on id without re-deriving suit/rank/deck_index.
func (c Card) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID        string    `json:"id"`
		Suit      string    `json:"suit"`
		Rank      string    `json:"rank"`
		DeckIndex DeckIndex `json:"deck_index"`
	}
	return json.Marshal(wire{
		ID:        c.ID(),
		Suit:      c.Suit.String(),
		Rank:      c.Rank.String(),
		DeckIndex: c.DeckIndex,
	})
}

// UnmarshalJSON reverses MarshalJSON, decoding suit/rank/deck_index and
// ignoring the redundant id field.
func (c *Card) UnmarshalJSON(data []byte) error {
	var wire struct {
		Suit      string    `json:"suit"`
		Rank      string    `json:"rank"`
		DeckIndex DeckIndex `json:"deck_index"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	suit, err := ParseSuit(wire.Suit)
	if err != nil {
		return err
	}
	rank, err := ParseRank(wire.Rank)
	if err != nil {
		return err
	}
	c.Suit = suit
	c.Rank = rank
	c.DeckIndex = wire.DeckIndex
	if c.DeckIndex == 0 {
		c.DeckIndex = DeckOne
	}
	return nil
}
