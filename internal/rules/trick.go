package rules

import "twentyeight/internal/card"

// Play is one seat's contribution to a trick, in the order it was played.
type Play struct {
	Seat int
	Card card.Card
}

// PlayableCards returns the subset of hand that is legal to play given the
// lead suit of the current trick (SuitInvalid if this seat is leading), the
// trump suit, and whether trump has been revealed yet.
//
//   - Leading (leadSuit == SuitInvalid): anything is playable.
//   - Otherwise: must follow leadSuit if holding any card of it.
//   - Failing that, if trump is revealed and the hand holds trump: must play
//     trump.
//   - Failing that: any card is playable (forced discard).
func PlayableCards(hand []card.Card, leadSuit card.Suit, trump card.Suit, trumpRevealed bool) []card.Card {
	if leadSuit == card.SuitInvalid {
		return append([]card.Card{}, hand...)
	}
	if matching := cardsOfSuit(hand, leadSuit); len(matching) > 0 {
		return matching
	}
	if trumpRevealed {
		if matching := cardsOfSuit(hand, trump); len(matching) > 0 {
			return matching
		}
	}
	return append([]card.Card{}, hand...)
}

func cardsOfSuit(hand []card.Card, suit card.Suit) []card.Card {
	var out []card.Card
	for _, c := range hand {
		if c.Suit == suit {
			out = append(out, c)
		}
	}
	return out
}

// TrickWinner returns the seat that wins trick, given the trump suit and
// whether it has been revealed at the moment the trick is evaluated. If no
// trump was played (or trump isn't revealed), the highest card of the lead
// suit wins. Ties between identical cards from the two 56-mode decks are
// broken in favor of the earlier-played card.
func TrickWinner(trick []Play, trump card.Suit, trumpRevealed bool) int {
	if len(trick) == 0 {
		return -1
	}
	leadSuit := trick[0].Card.Suit

	best := 0
	bestIsTrump := trumpRevealed && trick[0].Card.Suit == trump
	for i := 1; i < len(trick); i++ {
		p := trick[i]
		isTrump := trumpRevealed && p.Card.Suit == trump
		switch {
		case isTrump && !bestIsTrump:
			best, bestIsTrump = i, true
		case isTrump == bestIsTrump:
			if beats(p.Card, trick[best].Card, leadSuit, isTrump) {
				best = i
			}
		}
		// isTrump == false && bestIsTrump == true: current best keeps the lead.
	}
	return trick[best].Seat
}

// beats reports whether candidate outranks incumbent within the same
// category (both trump, or both following the lead suit). Off-suit,
// non-trump cards never reach this comparison since TrickWinner only
// compares within a bucket.
func beats(candidate, incumbent card.Card, leadSuit card.Suit, trumpBucket bool) bool {
	if !trumpBucket {
		// Only cards of the lead suit matter when no trump has been played;
		// a candidate that didn't follow suit and isn't trump cannot win.
		if candidate.Suit != leadSuit {
			return false
		}
		if incumbent.Suit != leadSuit {
			return true
		}
	}
	if candidate.Rank.TrickOrder() != incumbent.Rank.TrickOrder() {
		return candidate.Rank.TrickOrder() > incumbent.Rank.TrickOrder()
	}
	// Identical rank across the two 56-mode decks: earlier play wins, so a
	// later, equal-strength candidate never displaces the incumbent.
	return false
}

// TrickPoints sums the point value of every card in the trick.
func TrickPoints(trick []Play) int {
	total := 0
	for _, p := range trick {
		total += p.Card.Points()
	}
	return total
}

// TeamScores splits per-seat points into two teams: even seats (team 0)
// versus odd seats (team 1).
func TeamScores(pointsBySeat map[int]int) (team0, team1 int) {
	for seat, pts := range pointsBySeat {
		if seat%2 == 0 {
			team0 += pts
		} else {
			team1 += pts
		}
	}
	return team0, team1
}

// BidOutcome reports whether the bidding team made its contract: the
// winning bidder's team must reach at least bidValue points.
func BidOutcome(bidWinnerSeat int, bidValue int, team0, team1 int) bool {
	teamPoints := team0
	if bidWinnerSeat%2 != 0 {
		teamPoints = team1
	}
	return teamPoints >= bidValue
}
