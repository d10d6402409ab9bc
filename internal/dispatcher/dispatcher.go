// Package dispatcher implements the Command Dispatcher (spec §6.2):
// structurally validate an inbound protocol envelope, route it to the right
// Engine mutation, and on acceptance fire persistence, broadcast, and
// bot-scheduling side effects.
//
// Grounded on the donor's apps/server/internal/table/table.go handleEvent
// type-switch dispatch, adapted from an actor-mailbox model (the engine
// here already serializes itself under its own mutex, so no event channel
// is needed).
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"

	"twentyeight/internal/broadcast"
	"twentyeight/internal/botdriver"
	"twentyeight/internal/bots"
	"twentyeight/internal/card"
	"twentyeight/internal/engine"
	"twentyeight/internal/persistence"
	"twentyeight/internal/protocol"
)

// Dispatcher wires one session's inbound commands to its engine, persisting
// and broadcasting every accepted mutation and keeping the bot loop
// scheduled.
type Dispatcher struct {
	repo persistence.Repository
	hubs *broadcast.Registry
	bots *botdriver.Driver
	log  *log.Logger
}

// New constructs a Dispatcher sharing hubs (one per session) with whatever
// transport subscribes connections to them.
func New(repo persistence.Repository, hubs *broadcast.Registry, bots *botdriver.Driver, logger *log.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, hubs: hubs, bots: bots, log: logger}
}

// Handle processes one inbound envelope against e on behalf of connID,
// returning the raw response the caller should send back to that
// connection alone (an action_ok or action_failed envelope, or an error
// envelope for a malformed or unknown message).
func (d *Dispatcher) Handle(ctx context.Context, e *engine.Engine, connID string, env protocol.Envelope) []byte {
	var err error
	var reason string
	switch env.Type {
	case protocol.TypePlaceBid:
		var p protocol.PlaceBidPayload
		if jsonErr := json.Unmarshal(env.Payload, &p); jsonErr != nil {
			return d.malformed(jsonErr)
		}
		var raw struct {
			Value *int `json:"value"`
		}
		if jsonErr := json.Unmarshal(env.Payload, &raw); jsonErr == nil && raw.Value == nil {
			p.Value = bots.PassBid // a null or missing value is a pass
		}
		err = e.PlaceBid(p.Seat, p.Value)
		reason = "bid"
	case protocol.TypeChooseTrump:
		var p protocol.ChooseTrumpPayload
		if jsonErr := json.Unmarshal(env.Payload, &p); jsonErr != nil {
			return d.malformed(jsonErr)
		}
		suit, parseErr := card.ParseSuit(p.Suit)
		if parseErr != nil {
			return d.malformed(parseErr)
		}
		err = e.ChooseTrump(p.Seat, suit)
		reason = "trump"
	case protocol.TypePlayCard:
		var p protocol.PlayCardPayload
		if jsonErr := json.Unmarshal(env.Payload, &p); jsonErr != nil {
			return d.malformed(jsonErr)
		}
		err = e.PlayCard(p.Seat, p.CardID)
		reason = "play"
	case protocol.TypeRevealTrump:
		var p protocol.RevealTrumpPayload
		if jsonErr := json.Unmarshal(env.Payload, &p); jsonErr != nil {
			return d.malformed(jsonErr)
		}
		err = e.RevealTrump(p.Seat)
		reason = "reveal_trump"
	case protocol.TypeRequestState:
		// A read, not a mutation (spec §6.1): send the tailored snapshot to
		// this connection alone, with no persist, broadcast, or bot schedule.
		d.sendSnapshotTo(e, connID)
		data, _ := protocol.Encode(protocol.TypeActionOK, protocol.ActionOKPayload{Revision: e.Revision()})
		return data
	default:
		data, _ := protocol.Encode(protocol.TypeError, protocol.ErrorPayload{Message: fmt.Sprintf("unknown message type %q", env.Type)})
		return data
	}

	if err != nil {
		return d.failure(err)
	}

	d.publish(ctx, e, reason)
	data, _ := protocol.Encode(protocol.TypeActionOK, protocol.ActionOKPayload{Revision: e.Revision()})
	return data
}

// sendSnapshotTo delivers a request_state reply to exactly one subscriber
// without touching any other subscriber's queue or persistence.
func (d *Dispatcher) sendSnapshotTo(e *engine.Engine, connID string) {
	if d.hubs == nil {
		return
	}
	d.hubs.HubFor(e.ID()).SendSnapshotTo(connID, e.PublicState(), e.HandFor, e.PlayableCardsFor)
}

// publish runs the side effects of an accepted mutation: persist (snapshot,
// players, and any freshly completed round), broadcast the fresh public
// view, and make sure the bot loop is (still) scheduled for this session.
// reason is the save reason named in spec §4.7 ("bid", "trump", "play",
// "reveal_trump"); it is overridden to "round_end" for the save that
// follows a round completing.
func (d *Dispatcher) publish(ctx context.Context, e *engine.Engine, reason string) {
	if d.repo != nil {
		record, hasRound := e.LatestRoundRecord()
		saveReason := reason
		if hasRound && e.State() == engine.StateScoring {
			saveReason = "round_end"
		}

		if blob, err := e.Serialize(); err == nil {
			row := persistence.SnapshotRow{
				SessionID: e.ID(),
				ShortCode: e.ShortCode(),
				Phase:     string(e.State()),
				Reason:    saveReason,
				Blob:      blob,
			}
			if err := d.repo.SaveSession(ctx, row); err != nil {
				d.log.Error("failed to persist session snapshot", "session", e.ID(), "error", err)
			}
		}

		if players := playerRows(e); len(players) > 0 {
			if err := d.repo.UpsertPlayers(ctx, players); err != nil {
				d.log.Error("failed to upsert players", "session", e.ID(), "error", err)
			}
		}

		if hasRound {
			payload, err := json.Marshal(record)
			if err != nil {
				d.log.Error("failed to marshal round record", "session", e.ID(), "error", err)
			} else if err := d.repo.AppendRound(ctx, persistence.RoundHistoryRow{
				SessionID:   e.ID(),
				RoundNumber: record.RoundNumber,
				Payload:     payload,
			}); err != nil {
				d.log.Error("failed to append round history", "session", e.ID(), "error", err)
			}
		}
	}

	if d.hubs != nil {
		view := e.PublicState()
		d.hubs.HubFor(e.ID()).Broadcast(view, e.HandFor, e.PlayableCardsFor)
	}

	if d.bots != nil {
		d.bots.Schedule(e)
	}
}

// playerRows projects the engine's current seat occupants into persistence
// rows for the players table (spec §4.7/§6.3), keyed by (session_id, seat).
func playerRows(e *engine.Engine) []persistence.PlayerRow {
	view := e.PublicState()
	rows := make([]persistence.PlayerRow, 0, len(view.Players))
	for seat, p := range view.Players {
		rows = append(rows, persistence.PlayerRow{
			SessionID: e.ID(),
			PlayerID:  p.PlayerID,
			Name:      p.DisplayName,
			Seat:      seat,
			IsBot:     p.IsBot,
		})
	}
	return rows
}

func (d *Dispatcher) failure(err error) []byte {
	actionErr, ok := err.(*engine.ActionError)
	kind, msg := "UNKNOWN", err.Error()
	if ok {
		kind, msg = string(actionErr.Kind), actionErr.Message
	}
	data, _ := protocol.Encode(protocol.TypeActionFailed, protocol.ActionFailedPayload{Kind: kind, Message: msg})
	return data
}

func (d *Dispatcher) malformed(err error) []byte {
	data, _ := protocol.Encode(protocol.TypeError, protocol.ErrorPayload{Message: err.Error()})
	return data
}
