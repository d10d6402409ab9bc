package engine

import (
	"encoding/json"
	"fmt"

	"twentyeight/internal/card"
	"twentyeight/internal/rules"
)

// PublicView is everything broadcast to every subscriber: it excludes
// hands, deck and kitty (spec §4.3 "Read operations").
type PublicView struct {
	SessionID       string            `json:"session_id"`
	ShortCode       string            `json:"short_code"`
	Mode            string            `json:"mode"`
	State           State             `json:"state"`
	Players         map[int]PlayerInfo `json:"players"`
	CurrentDealer   int               `json:"current_dealer"`
	Leader          int               `json:"leader"`
	Turn            int               `json:"turn"`
	MinBid          int               `json:"min_bid"`
	MaxBid          int               `json:"max_bid"`
	CurrentHighest  int               `json:"current_highest"`
	BidWinner       int               `json:"bid_winner"`
	BidValue        int               `json:"bid_value"`
	Trump           card.Suit         `json:"trump"`
	TrumpRevealed   bool              `json:"trump_revealed"`
	CurrentTrick    []TrickCardEntry  `json:"current_trick"`
	LastTrick       *TrickRecord      `json:"last_trick"`
	CapturedTricks  []TrickRecord     `json:"captured_tricks"`
	PointsBySeat    map[int]int       `json:"points_by_seat"`
	RoundsHistory   []RoundRecord     `json:"rounds_history"`
	Revision        uint64            `json:"revision"`
}

// PublicState returns a deep copy of everything visible to every
// subscriber. Grounded on the donor's Game.Snapshot() lock-copy-return
// pattern (holdem/snapshot.go).
func (e *Engine) PublicState() PublicView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.publicStateLocked()
}

func (e *Engine) publicStateLocked() PublicView {
	players := make(map[int]PlayerInfo, len(e.players))
	for seat, p := range e.players {
		players[seat] = p
	}
	trick := make([]TrickCardEntry, len(e.currentTrick))
	for i, p := range e.currentTrick {
		trick[i] = TrickCardEntry{Seat: p.Seat, Card: p.Card}
	}
	var lastTrick *TrickRecord
	if e.lastTrick != nil {
		cp := *e.lastTrick
		lastTrick = &cp
	}
	return PublicView{
		SessionID:      e.id,
		ShortCode:      e.shortCode,
		Mode:           string(e.cfg.Mode),
		State:          e.state,
		Players:        players,
		CurrentDealer:  e.currentDealer,
		Leader:         e.leader,
		Turn:           e.turn,
		MinBid:         e.cfg.MinBid,
		MaxBid:         e.cfg.MaxBid,
		CurrentHighest: e.currentHighest,
		BidWinner:      e.bidWinner,
		BidValue:       e.bidValue,
		Trump:          e.trump,
		TrumpRevealed:  e.trumpRevealed,
		CurrentTrick:   trick,
		LastTrick:      lastTrick,
		CapturedTricks: append([]TrickRecord{}, e.capturedTricks...),
		PointsBySeat:   copyIntMap(e.pointsBySeat),
		RoundsHistory:  append([]RoundRecord{}, e.roundsHistory...),
		Revision:       e.revision,
	}
}

// HandFor returns a copy of seat's current hand. Callers outside the engine
// must never be given the backing slice.
func (e *Engine) HandFor(seat int) []card.Card {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]card.Card{}, e.hands[seat]...)
}

// PlayableCardsFor is a read-only convenience wrapping rules.PlayableCards
// with the engine's current trump/lead-suit state, used by bot decisions
// and client-side hinting.
func (e *Engine) PlayableCardsFor(seat int) []card.Card {
	e.mu.Lock()
	defer e.mu.Unlock()
	leadSuit := e.leadSuitLocked()
	return rules.PlayableCards(e.hands[seat], leadSuit, e.trump, e.trumpRevealed)
}

// persistedState is the full serialized shape written via the Persistence
// contract (spec §4.7) — everything load_latest needs to reconstruct an
// engine indistinguishable from the one that saved it.
type persistedState struct {
	ID             string             `json:"id"`
	ShortCode      string             `json:"short_code"`
	Config         persistedConfig    `json:"config"`
	State          State              `json:"state"`
	Players        map[int]PlayerInfo `json:"players"`
	CurrentDealer  int                `json:"current_dealer"`
	Leader         int                `json:"leader"`
	Turn           int                `json:"turn"`
	DealtOnce      bool               `json:"dealt_once"`
	Hands          map[int][]card.Card `json:"hands"`
	Kitty          []card.Card        `json:"kitty"`
	Passed         map[int]bool       `json:"passed"`
	CurrentHighest int                `json:"current_highest"`
	BidWinner      int                `json:"bid_winner"`
	BidValue       int                `json:"bid_value"`
	PassCount      int                `json:"pass_count"`
	Trump          card.Suit          `json:"trump"`
	TrumpRevealed  bool               `json:"trump_revealed"`
	CurrentTrick   []TrickCardEntry   `json:"current_trick"`
	LastTrick      *TrickRecord       `json:"last_trick"`
	CapturedTricks []TrickRecord      `json:"captured_tricks"`
	PointsBySeat   map[int]int        `json:"points_by_seat"`
	RoundsHistory  []RoundRecord      `json:"rounds_history"`
	RoundNumber    int                `json:"round_number"`
	Revision       uint64             `json:"revision"`
}

type persistedConfig struct {
	Mode            string          `json:"mode"`
	MinBid          int             `json:"min_bid"`
	MaxBid          int             `json:"max_bid"`
	HiddenTrumpMode HiddenTrumpMode `json:"hidden_trump_mode"`
	Seed            int64           `json:"seed"`
}

// Serialize produces the opaque JSON blob passed to
// persistence.save_session (spec §4.7). It must carry enough state that
// Restore reproduces an indistinguishable engine, including turn,
// current_trick, hands, and trump_revealed.
func (e *Engine) Serialize() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hands := make(map[int][]card.Card, len(e.hands))
	for seat, h := range e.hands {
		hands[seat] = append([]card.Card{}, h...)
	}
	trick := make([]TrickCardEntry, len(e.currentTrick))
	for i, p := range e.currentTrick {
		trick[i] = TrickCardEntry{Seat: p.Seat, Card: p.Card}
	}

	state := persistedState{
		ID:        e.id,
		ShortCode: e.shortCode,
		Config: persistedConfig{
			Mode:            string(e.cfg.Mode),
			MinBid:          e.cfg.MinBid,
			MaxBid:          e.cfg.MaxBid,
			HiddenTrumpMode: e.cfg.HiddenTrumpMode,
			Seed:            e.cfg.Seed,
		},
		State:          e.state,
		Players:        copyPlayers(e.players),
		CurrentDealer:  e.currentDealer,
		Leader:         e.leader,
		Turn:           e.turn,
		DealtOnce:      e.dealtOnce,
		Hands:          hands,
		Kitty:          append([]card.Card{}, e.kitty...),
		Passed:         copyBoolMap(e.passed),
		CurrentHighest: e.currentHighest,
		BidWinner:      e.bidWinner,
		BidValue:       e.bidValue,
		PassCount:      e.passCount,
		Trump:          e.trump,
		TrumpRevealed:  e.trumpRevealed,
		CurrentTrick:   trick,
		LastTrick:      e.lastTrick,
		CapturedTricks: append([]TrickRecord{}, e.capturedTricks...),
		PointsBySeat:   copyIntMap(e.pointsBySeat),
		RoundsHistory:  append([]RoundRecord{}, e.roundsHistory...),
		RoundNumber:    e.roundNumber,
		Revision:       e.revision,
	}
	return json.Marshal(state)
}

// Restore reconstructs an Engine from a blob previously produced by
// Serialize, per the Persistence contract's load_latest (spec §4.7).
func Restore(blob []byte) (*Engine, error) {
	var saved persistedState
	if err := json.Unmarshal(blob, &saved); err != nil {
		return nil, fmt.Errorf("engine: restore: %w", err)
	}

	cfg := Config{
		Mode:            rules.Mode(saved.Config.Mode),
		MinBid:          saved.Config.MinBid,
		MaxBid:          saved.Config.MaxBid,
		HiddenTrumpMode: saved.Config.HiddenTrumpMode,
		Seed:            saved.Config.Seed,
		ForcedDealer:    saved.CurrentDealer,
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1 // Restore must be deterministic; never fall back to wall-clock.
	}

	e, err := New(saved.ID, saved.ShortCode, cfg)
	if err != nil {
		return nil, err
	}

	e.state = saved.State
	e.players = copyPlayers(saved.Players)
	e.currentDealer = saved.CurrentDealer
	e.leader = saved.Leader
	e.turn = saved.Turn
	e.dealtOnce = saved.DealtOnce
	e.hands = make(map[int][]card.Card, len(saved.Hands))
	for seat, h := range saved.Hands {
		e.hands[seat] = append([]card.Card{}, h...)
	}
	e.kitty = append([]card.Card{}, saved.Kitty...)
	e.passed = copyBoolMap(saved.Passed)
	e.currentHighest = saved.CurrentHighest
	e.bidWinner = saved.BidWinner
	e.bidValue = saved.BidValue
	e.passCount = saved.PassCount
	e.trump = saved.Trump
	e.trumpRevealed = saved.TrumpRevealed
	e.currentTrick = make([]rules.Play, len(saved.CurrentTrick))
	for i, entry := range saved.CurrentTrick {
		e.currentTrick[i] = rules.Play{Seat: entry.Seat, Card: entry.Card}
	}
	e.lastTrick = saved.LastTrick
	e.capturedTricks = append([]TrickRecord{}, saved.CapturedTricks...)
	e.pointsBySeat = copyIntMap(saved.PointsBySeat)
	e.roundsHistory = append([]RoundRecord{}, saved.RoundsHistory...)
	e.roundNumber = saved.RoundNumber
	e.revision = saved.Revision

	return e, nil
}

func copyPlayers(m map[int]PlayerInfo) map[int]PlayerInfo {
	out := make(map[int]PlayerInfo, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyBoolMap(m map[int]bool) map[int]bool {
	out := make(map[int]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
