// Package protocol defines the JSON wire messages exchanged between a
// client and one session: a tagged `{type, payload}` envelope in both
// directions (spec §6.1).
//
// Grounded on the donor's apps/server/internal/codec/codec.go type-switch
// framing idea, reimplemented here for JSON instead of protobuf (a dropped
// teacher dependency, see DESIGN.md).
package protocol

import (
	"encoding/json"
	"fmt"

	"twentyeight/internal/card"
	"twentyeight/internal/engine"
)

// Inbound message type tags.
const (
	TypeIdentify     = "identify"
	TypeRequestState = "request_state"
	TypePlaceBid     = "place_bid"
	TypeChooseTrump  = "choose_trump"
	TypePlayCard     = "play_card"
	TypeRevealTrump  = "reveal_trump"
)

// Outbound message type tags.
const (
	TypeStateSnapshot = "state_snapshot"
	TypeActionOK      = "action_ok"
	TypeActionFailed  = "action_failed"
	TypeError         = "error"
)

// Envelope is the outer shape every message — inbound or outbound — shares.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// IdentifyPayload associates a connection with a player_id and the session
// it wants to join.
type IdentifyPayload struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	SessionID   string `json:"session_id"`
}

// PlaceBidPayload carries a bid value, or PassBid (-1) to pass. The
// dispatcher also treats a null or missing value as a pass.
type PlaceBidPayload struct {
	Seat  int `json:"seat"`
	Value int `json:"value"`
}

// ChooseTrumpPayload names the bid winner's chosen trump suit.
type ChooseTrumpPayload struct {
	Seat int    `json:"seat"`
	Suit string `json:"suit"`
}

// PlayCardPayload names the card to play by its identity string.
type PlayCardPayload struct {
	Seat   int    `json:"seat"`
	CardID string `json:"card_id"`
}

// RevealTrumpPayload carries only the acting seat.
type RevealTrumpPayload struct {
	Seat int `json:"seat"`
}

// StateSnapshotPayload is the per-subscriber tailored view: the public
// state plus the subscriber's own hand and playable cards, never another
// seat's hand.
type StateSnapshotPayload struct {
	Public        engine.PublicView `json:"public"`
	YourSeat      int               `json:"your_seat"`
	YourHand      []card.Card       `json:"your_hand,omitempty"`
	PlayableCards []card.Card       `json:"playable_cards,omitempty"`
}

// ActionOKPayload confirms an accepted mutation, carrying the revision it
// produced so clients can detect they're caught up.
type ActionOKPayload struct {
	Revision uint64 `json:"revision"`
}

// ActionFailedPayload reports a rejected mutation's typed error.
type ActionFailedPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorPayload reports a transport/framing-level error unrelated to any
// specific engine action (malformed envelope, unknown type, etc).
type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode wraps a payload value in an Envelope and marshals it.
func Encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// Decode splits a raw inbound message into its envelope type and raw
// payload, ready for type-switch dispatch.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("protocol: envelope missing type")
	}
	return env, nil
}
