// Package broadcast implements the BroadcastHub: per-session subscriber
// fan-out with private-view tailoring (a subscriber is sent their own hand
// and playable cards, never another seat's) and bounded, non-blocking
// delivery.
//
// Grounded on the donor's apps/server/internal/gateway/gateway.go
// (Connection.Send buffered channel, drop-on-full broadcastToUser/Broadcast).
package broadcast

import (
	"sync"

	"twentyeight/internal/card"
	"twentyeight/internal/engine"
	"twentyeight/internal/protocol"
)

const subscriberSendBuffer = 64

// Subscriber is one connected client's outbound channel.
type Subscriber struct {
	ID   string
	Seat int // -1 for a spectator with no seat
	send chan []byte
}

// Send enqueues a raw message for delivery, dropping it if the subscriber's
// buffer is full rather than blocking the broadcaster.
func (s *Subscriber) Send(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Out returns the channel a connection's write pump should drain.
func (s *Subscriber) Out() <-chan []byte { return s.send }

// Hub fans out one session's state changes to every subscribed connection.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
}

// NewHub constructs an empty Hub for one session.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]*Subscriber)}
}

// Subscribe registers a connection under id, seated at seat (-1 if a
// spectator), and returns its Subscriber handle.
func (h *Hub) Subscribe(id string, seat int) *Subscriber {
	sub := &Subscriber{ID: id, Seat: seat, send: make(chan []byte, subscriberSendBuffer)}
	h.mu.Lock()
	h.subscribers[id] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a connection and closes its send channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if ok {
		close(sub.send)
	}
}

// Identify changes a subscriber's seat after it has already joined (e.g.
// once identify resolves which player owns the connection).
func (h *Hub) Identify(id string, seat int) {
	h.mu.RLock()
	sub, ok := h.subscribers[id]
	h.mu.RUnlock()
	if ok {
		sub.Seat = seat
	}
}

// Broadcast sends a freshly captured public view to every subscriber,
// tailoring each copy to the subscriber's own seat: their hand and playable
// cards are attached, nobody else's are.
func (h *Hub) Broadcast(view engine.PublicView, hands func(seat int) []card.Card, playable func(seat int) []card.Card) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	var dead []string
	for _, sub := range subs {
		data, err := encodeSnapshotFor(sub, view, hands, playable)
		if err != nil {
			continue
		}
		if !sub.Send(data) {
			dead = append(dead, sub.ID)
		}
	}

	for _, id := range dead {
		h.Unsubscribe(id)
	}
}

// SendSnapshotTo encodes and delivers a tailored snapshot to exactly one
// subscriber, without touching any other subscriber's queue. Used for
// on-demand state requests (spec §6.1 request_state), which are reads and
// must not fan out to the rest of the session.
func (h *Hub) SendSnapshotTo(id string, view engine.PublicView, hands func(seat int) []card.Card, playable func(seat int) []card.Card) bool {
	h.mu.RLock()
	sub, ok := h.subscribers[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	data, err := encodeSnapshotFor(sub, view, hands, playable)
	if err != nil {
		return false
	}
	if !sub.Send(data) {
		h.Unsubscribe(id)
		return false
	}
	return true
}

func encodeSnapshotFor(sub *Subscriber, view engine.PublicView, hands func(seat int) []card.Card, playable func(seat int) []card.Card) ([]byte, error) {
	payload := protocol.StateSnapshotPayload{
		Public:   view,
		YourSeat: sub.Seat,
	}
	if sub.Seat >= 0 {
		payload.YourHand = hands(sub.Seat)
		payload.PlayableCards = playable(sub.Seat)
	}
	return protocol.Encode(protocol.TypeStateSnapshot, payload)
}

// SendTo delivers a message to exactly one subscriber, e.g. an action_ok or
// action_failed response that only the acting connection should see.
func (h *Hub) SendTo(id string, data []byte) bool {
	h.mu.RLock()
	sub, ok := h.subscribers[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return sub.Send(data)
}

// Count returns the number of currently subscribed connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Registry owns one Hub per session, created lazily on first use and shared
// by every component that needs to reach a session's subscribers (the
// gateway, for Subscribe/Unsubscribe, and the dispatcher, for Broadcast).
type Registry struct {
	mu   sync.Mutex
	hubs map[string]*Hub
}

// NewRegistry constructs an empty per-session hub registry.
func NewRegistry() *Registry {
	return &Registry{hubs: make(map[string]*Hub)}
}

// HubFor returns (creating if necessary) the Hub for sessionID.
func (r *Registry) HubFor(sessionID string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	hub, ok := r.hubs[sessionID]
	if !ok {
		hub = NewHub()
		r.hubs[sessionID] = hub
	}
	return hub
}

// Drop removes a session's hub once the session is torn down.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	delete(r.hubs, sessionID)
	r.mu.Unlock()
}
