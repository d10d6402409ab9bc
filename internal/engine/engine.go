package engine

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"twentyeight/internal/card"
	"twentyeight/internal/rules"
)

// Engine is one session's game state machine. All mutation operations
// acquire mu, validate, mutate, and return a typed error on rejection —
// state is never partially mutated (spec §4.3/§7).
type Engine struct {
	mu sync.Mutex

	id        string
	shortCode string
	cfg       Config
	rng       *rand.Rand

	state State

	players map[int]PlayerInfo
	seats   int

	currentDealer int
	leader        int
	turn          int
	dealtOnce     bool

	hands map[int][]card.Card
	kitty []card.Card

	// passed tracks seats that have dropped out of this round's bidding.
	// Bidding in 28/56 is a multi-round auction: a seat that has bid may
	// be outbid and still act again on a later turn, raising or passing.
	// Only passing is terminal — that seat is then skipped forever.
	passed         map[int]bool
	currentHighest int
	bidWinner      int
	bidValue       int
	passCount      int

	trump         card.Suit
	trumpRevealed bool

	currentTrick []rules.Play
	lastTrick    *TrickRecord
	capturedTricks []TrickRecord
	pointsBySeat map[int]int

	roundsHistory  []RoundRecord
	roundNumber    int // count of rounds already appended; enforces at-most-once

	revision       uint64
	lastActivityAt time.Time
}

// New constructs an engine in LOBBY state for a fresh session. id and
// shortCode are assigned by the SessionRegistry (spec §4.4).
func New(id, shortCode string, cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	seats := cfg.Mode.Seats()
	dealer := 0
	if cfg.ForcedDealer >= 0 && cfg.ForcedDealer < seats {
		dealer = cfg.ForcedDealer
	}
	return &Engine{
		id:             id,
		shortCode:      shortCode,
		cfg:            cfg,
		rng:            rand.New(rand.NewSource(seed)),
		state:          StateLobby,
		players:        make(map[int]PlayerInfo),
		seats:          seats,
		currentDealer:  dealer,
		bidWinner:      -1,
		pointsBySeat:   make(map[int]int),
		lastActivityAt: time.Now(),
	}, nil
}

// ID returns the session's opaque UUID.
func (e *Engine) ID() string { return e.id }

// ShortCode returns the session's human-friendly alias.
func (e *Engine) ShortCode() string { return e.shortCode }

// Revision returns the current mutation counter, read under the engine's
// mutex.
func (e *Engine) Revision() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.revision
}

// LastActivityAt exposes the timestamp external idle-cleanup needs (§5).
func (e *Engine) LastActivityAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActivityAt
}

// State returns the current session phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LatestRoundRecord returns the most recently completed round, if any.
// Callers use this to append round_history (spec §6.3); AppendRound's own
// idempotency per round_number makes it safe to call this after every
// mutation rather than tracking "new since last call" here.
func (e *Engine) LatestRoundRecord() (RoundRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.roundsHistory) == 0 {
		return RoundRecord{}, false
	}
	return e.roundsHistory[len(e.roundsHistory)-1], true
}

func (e *Engine) touch() {
	e.revision++
	e.lastActivityAt = time.Now()
}

// AddPlayer appends info at the lowest free seat while in LOBBY.
func (e *Engine) AddPlayer(info PlayerInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateLobby {
		return fail(ErrWrongState, "cannot add player in state %s", e.state)
	}
	for _, p := range e.players {
		if p.PlayerID == info.PlayerID {
			return fail(ErrDuplicateAction, "player %s already seated at %d", info.PlayerID, p.Seat)
		}
	}
	seat := -1
	for s := 0; s < e.seats; s++ {
		if _, occupied := e.players[s]; !occupied {
			seat = s
			break
		}
	}
	if seat == -1 {
		return fail(ErrSessionFull, "all %d seats occupied", e.seats)
	}
	info.Seat = seat
	e.players[seat] = info
	e.touch()
	return nil
}

// StartRound begins a new round from LOBBY or ROUND_END. When
// callerMayFillBots is true, remaining empty seats are filled with bot
// PlayerInfos so a round can always start once at least two humans have
// joined.
func (e *Engine) StartRound(callerMayFillBots bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateLobby && e.state != StateRoundEnd {
		return fail(ErrWrongState, "cannot start round in state %s", e.state)
	}
	if len(e.players) < 2 {
		return fail(ErrInvalidValue, "need at least 2 players, have %d", len(e.players))
	}

	if callerMayFillBots {
		for s := 0; s < e.seats; s++ {
			if _, occupied := e.players[s]; !occupied {
				e.players[s] = PlayerInfo{
					PlayerID:    botPlayerID(s),
					DisplayName: botDisplayName(s),
					Seat:        s,
					IsBot:       true,
				}
			}
		}
	}

	if e.dealtOnce {
		e.currentDealer = ((e.currentDealer-1)%e.seats + e.seats) % e.seats
	}
	e.dealtOnce = true

	e.dealLocked()
	e.state = StateBidding
	e.touch()
	return nil
}

// dealLocked builds and deals a fresh deck, resets per-round bidding/trick
// state, and positions turn at the leader. Caller holds mu.
func (e *Engine) dealLocked() {
	deck := rules.Shuffle(rules.MakeDeck(e.cfg.Mode), e.rng)
	hands, kitty := rules.Deal(deck, e.seats)

	e.hands = make(map[int][]card.Card, e.seats)
	for seat, h := range hands {
		e.hands[seat] = h
	}
	e.kitty = kitty

	e.leader = (e.currentDealer + 1) % e.seats
	e.turn = e.leader

	e.currentHighest = 0
	e.bidWinner = -1
	e.bidValue = 0
	e.passCount = 0
	e.passed = make(map[int]bool, e.seats)

	e.trump = card.SuitInvalid
	e.trumpRevealed = false
	e.currentTrick = nil
	e.lastTrick = nil
	e.capturedTricks = nil
	e.pointsBySeat = make(map[int]int, e.seats)
}

// redealLocked re-deals with the same dealer after every seat passes,
// passing through DEALING so persisted/broadcast snapshots taken mid-reshuffle
// (spec scenario S1) reflect the transition rather than jumping straight from
// one BIDDING round to the next.
func (e *Engine) redealLocked() {
	e.state = StateDealing
	e.dealLocked()
	e.state = StateBidding
}

// advanceBidTurnLocked moves turn to the next seat that has not passed this
// round, skipping passed seats forever. This resolves SPEC_FULL.md §4.3's
// bidding-advancement rule: one seat at a time, never stopping on a seat
// that has already dropped out.
func (e *Engine) advanceBidTurnLocked() {
	for i := 0; i < e.seats; i++ {
		e.turn = (e.turn + 1) % e.seats
		if !e.passed[e.turn] {
			return
		}
	}
}

// PlaceBid records a bid or pass for seat and advances turn, closing
// bidding when appropriate (spec §4.3, scenarios S1/S2). Bidding is a
// multi-round auction: a seat may bid, be outbid, and bid again on a later
// turn — only a pass is terminal for that seat this round.
func (e *Engine) PlaceBid(seat int, value int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateBidding {
		return fail(ErrWrongState, "cannot bid in state %s", e.state)
	}
	if e.passed[seat] {
		return fail(ErrDuplicateAction, "seat %d has already passed this round", seat)
	}
	if seat != e.turn {
		return fail(ErrNotYourTurn, "seat %d acted, turn is %d", seat, e.turn)
	}

	isPass := value <= passBid
	if !isPass {
		if value < e.cfg.MinBid {
			return fail(ErrBidTooLow, "bid %d below min_bid %d", value, e.cfg.MinBid)
		}
		if value <= e.currentHighest {
			return fail(ErrBidTooLow, "bid %d does not exceed current highest %d", value, e.currentHighest)
		}
		if value > e.cfg.MaxBid {
			return fail(ErrInvalidValue, "bid %d exceeds max_bid %d", value, e.cfg.MaxBid)
		}
	}

	if isPass {
		e.passed[seat] = true
		e.passCount++
	} else {
		e.currentHighest = value
		e.bidWinner = seat
		e.bidValue = value
	}

	switch {
	case e.passCount == e.seats:
		// Every seat passed: redeal, same dealer.
		e.redealLocked()
	case e.bidWinner != -1 && e.passCount == e.seats-1:
		// All but the bid winner have passed: bidding closes on that seat.
		e.state = StateChooseTrump
		e.turn = e.bidWinner
	case e.bidValue == e.cfg.MaxBid:
		// Ceiling reached: bidding closes immediately.
		e.state = StateChooseTrump
		e.turn = e.bidWinner
	default:
		e.advanceBidTurnLocked()
	}

	e.touch()
	return nil
}

// ChooseTrump sets trump for the bid winner and opens PLAY.
func (e *Engine) ChooseTrump(seat int, suit card.Suit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateChooseTrump {
		return fail(ErrWrongState, "cannot choose trump in state %s", e.state)
	}
	if seat != e.bidWinner {
		return fail(ErrNotBidWinner, "seat %d is not the bid winner (%d)", seat, e.bidWinner)
	}
	if suit == card.SuitInvalid {
		return fail(ErrInvalidValue, "invalid trump suit")
	}

	e.trump = suit
	e.trumpRevealed = e.cfg.HiddenTrumpMode == OpenImmediately
	e.state = StatePlay
	e.turn = e.bidWinner
	e.currentTrick = nil

	e.touch()
	return nil
}

// leadSuitLocked returns the suit of the first card played in the current
// trick, or card.SuitInvalid if nobody has led yet.
func (e *Engine) leadSuitLocked() card.Suit {
	if len(e.currentTrick) == 0 {
		return card.SuitInvalid
	}
	return e.currentTrick[0].Card.Suit
}

// maybeAutoRevealLocked applies the automatic trump-reveal side effect of a
// just-played card, per hidden_trump_mode (spec §4.3 "Trump reveal
// policies"). This is independent of RevealTrump: see SPEC_FULL.md §4.3.
func (e *Engine) maybeAutoRevealLocked(seat int, played card.Card, leadSuit card.Suit) {
	if e.trumpRevealed {
		return
	}
	switch e.cfg.HiddenTrumpMode {
	case OnFirstNonFollow:
		if leadSuit != card.SuitInvalid && played.Suit != leadSuit {
			e.trumpRevealed = true
		}
	case OnFirstTrumpPlay:
		if played.Suit == e.trump {
			e.trumpRevealed = true
		}
	case OnBidderNonFollow:
		if seat == e.bidWinner && leadSuit != card.SuitInvalid && played.Suit != leadSuit {
			e.trumpRevealed = true
		}
	case OpenImmediately:
		// already revealed at ChooseTrump
	}
}

// PlayCard removes card_id from seat's hand, appends it to the current
// trick, resolves the trick if complete, and advances to SCORING once all
// hands are empty.
func (e *Engine) PlayCard(seat int, cardID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePlay {
		return fail(ErrWrongState, "cannot play in state %s", e.state)
	}
	if seat != e.turn {
		return fail(ErrNotYourTurn, "seat %d acted, turn is %d", seat, e.turn)
	}

	hand := e.hands[seat]
	idx, found := findCardIndex(hand, cardID)
	if !found {
		return fail(ErrCardNotInHand, "card %s not in seat %d's hand", cardID, seat)
	}
	chosen := hand[idx]

	leadSuit := e.leadSuitLocked()
	playable := rules.PlayableCards(hand, leadSuit, e.trump, e.trumpRevealed)
	if !containsCard(playable, chosen) {
		return fail(ErrMustFollowSuit, "seat %d must follow suit %s", seat, leadSuit)
	}

	e.hands[seat] = append(append([]card.Card{}, hand[:idx]...), hand[idx+1:]...)
	e.currentTrick = append(e.currentTrick, rules.Play{Seat: seat, Card: chosen})

	e.maybeAutoRevealLocked(seat, chosen, leadSuit)

	if len(e.currentTrick) == e.seats {
		e.resolveTrickLocked()
		if e.allHandsEmptyLocked() {
			e.finishRoundLocked()
		}
	} else {
		e.turn = (e.turn + 1) % e.seats
	}

	e.touch()
	return nil
}

func (e *Engine) resolveTrickLocked() {
	winner := rules.TrickWinner(e.currentTrick, e.trump, e.trumpRevealed)
	points := rules.TrickPoints(e.currentTrick)

	entries := make([]TrickCardEntry, len(e.currentTrick))
	for i, p := range e.currentTrick {
		entries[i] = TrickCardEntry{Seat: p.Seat, Card: p.Card}
	}
	record := TrickRecord{Winner: winner, Plays: entries, Points: points}

	e.capturedTricks = append(e.capturedTricks, record)
	e.lastTrick = &record
	e.pointsBySeat[winner] += points
	e.currentTrick = nil
	e.turn = winner
}

func (e *Engine) allHandsEmptyLocked() bool {
	for _, h := range e.hands {
		if len(h) > 0 {
			return false
		}
	}
	return true
}

// finishRoundLocked appends the completed round to history exactly once and
// transitions to SCORING.
func (e *Engine) finishRoundLocked() {
	team0, team1 := rules.TeamScores(e.pointsBySeat)
	bidMade := rules.BidOutcome(e.bidWinner, e.bidValue, team0, team1)

	e.roundNumber++
	record := RoundRecord{
		RoundNumber:    e.roundNumber,
		Dealer:         e.currentDealer,
		BidWinner:      e.bidWinner,
		BidValue:       e.bidValue,
		Trump:          e.trump,
		CapturedTricks: append([]TrickRecord{}, e.capturedTricks...),
		PointsBySeat:   copyIntMap(e.pointsBySeat),
		Team0Score:     team0,
		Team1Score:     team1,
		BidMade:        bidMade,
	}
	e.roundsHistory = append(e.roundsHistory, record)
	e.state = StateScoring
}

// RevealTrump lets a seat that cannot follow the lead suit force the
// trump-revealed check before deciding which card to play. Independent of
// PlayCard's own automatic reveal (SPEC_FULL.md §4.3).
func (e *Engine) RevealTrump(seat int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePlay {
		return fail(ErrWrongState, "cannot reveal trump in state %s", e.state)
	}
	if seat != e.turn {
		return fail(ErrNotYourTurn, "seat %d acted, turn is %d", seat, e.turn)
	}
	if e.trumpRevealed {
		return fail(ErrTrumpAlreadyOpen, "trump already revealed")
	}
	if len(e.currentTrick) == 0 {
		return fail(ErrWrongState, "cannot reveal trump before a trick has been led")
	}
	leadSuit := e.leadSuitLocked()
	if hasSuit(e.hands[seat], leadSuit) {
		return fail(ErrMustFollowSuit, "seat %d can follow suit, cannot force reveal", seat)
	}

	e.trumpRevealed = true
	e.touch()
	return nil
}

// AdvanceAfterRoundEnd moves SCORING -> ROUND_END once the dispatcher (or a
// test) has observed the scoring payload. The spec treats ROUND_END as a
// brief transitional phase from which start_round begins the next round.
func (e *Engine) AdvanceAfterRoundEnd() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateScoring {
		return fail(ErrWrongState, "cannot advance to round_end from state %s", e.state)
	}
	e.state = StateRoundEnd
	e.touch()
	return nil
}

func findCardIndex(hand []card.Card, id string) (int, bool) {
	for i, c := range hand {
		if c.ID() == id {
			return i, true
		}
	}
	return 0, false
}

func containsCard(cards []card.Card, target card.Card) bool {
	for _, c := range cards {
		if c.ID() == target.ID() {
			return true
		}
	}
	return false
}

func hasSuit(hand []card.Card, suit card.Suit) bool {
	for _, c := range hand {
		if c.Suit == suit {
			return true
		}
	}
	return false
}

func copyIntMap(m map[int]int) map[int]int {
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func botPlayerID(seat int) string    { return fmt.Sprintf("bot-%d", seat) }
func botDisplayName(seat int) string { return fmt.Sprintf("Bot %d", seat) }
