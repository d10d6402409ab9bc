// Package gateway implements the WebSocket transport: upgrade, per-connection
// readPump/writePump goroutines, and the glue between a raw connection and a
// session's Dispatcher.
//
// Grounded on the donor's apps/server/internal/gateway/gateway.go (Connection
// struct, readPump/writePump, ping ticker, bounded non-blocking Send), with
// protobuf envelopes replaced by this module's JSON protocol.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"twentyeight/internal/broadcast"
	"twentyeight/internal/dispatcher"
	"twentyeight/internal/engine"
	"twentyeight/internal/protocol"
	"twentyeight/internal/registry"
)

const (
	readLimitBytes  = 65536
	pongWait        = 60 * time.Second
	pingInterval    = 30 * time.Second
	writeWait       = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway owns the HTTP upgrade endpoint and every live connection.
type Gateway struct {
	mu          sync.RWMutex
	connections map[string]*connection
	registry    *registry.Registry
	dispatch    *dispatcher.Dispatcher
	hubs        *broadcast.Registry
	log         *log.Logger
}

// New constructs a Gateway bound to reg (for session lookup) and dispatch
// (for command handling). dispatch and this Gateway must share the same
// *broadcast.Registry so a dispatcher-side mutation and a gateway-side
// subscribe land on the same session's Hub.
func New(reg *registry.Registry, dispatch *dispatcher.Dispatcher, hubs *broadcast.Registry, logger *log.Logger) *Gateway {
	return &Gateway{
		connections: make(map[string]*connection),
		registry:    reg,
		dispatch:    dispatch,
		hubs:        hubs,
		log:         logger,
	}
}

// HubFor returns (creating if necessary) the broadcast hub for a session id.
func (g *Gateway) HubFor(sessionID string) *broadcast.Hub {
	return g.hubs.HubFor(sessionID)
}

const connectionSendBuffer = 64

type connection struct {
	id      string
	conn    *websocket.Conn
	gateway *Gateway
	send    chan []byte

	mu        sync.Mutex
	sessionID string
	seat      int
	sub       *broadcast.Subscriber
}

// HandleWebSocket upgrades an HTTP request and starts the connection's
// read/write pumps.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &connection{
		id:      uuid.NewString(),
		conn:    conn,
		gateway: g,
		send:    make(chan []byte, connectionSendBuffer),
		seat:    -1,
	}

	g.mu.Lock()
	g.connections[c.id] = c
	g.mu.Unlock()

	g.log.Info("client connected", "conn", c.id, "total", len(g.connections))

	go c.writePump()
	c.readPump()
}

func (c *connection) readPump() {
	defer func() {
		c.gateway.removeConnection(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimitBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gateway.log.Warn("read error", "conn", c.id, "error", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *connection) handleMessage(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.sendRaw(errorMessage(err.Error()))
		return
	}

	if env.Type == protocol.TypeIdentify {
		c.handleIdentify(env)
		return
	}

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		c.sendRaw(errorMessage("identify before sending commands"))
		return
	}

	e, ok := c.gateway.registry.Resolve(sessionID)
	if !ok {
		c.sendRaw(errorMessage("session no longer exists"))
		return
	}

	resp := c.gateway.dispatch.Handle(context.Background(), e, c.id, env)
	c.sendRaw(resp)
}

func (c *connection) handleIdentify(env protocol.Envelope) {
	var payload protocol.IdentifyPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		c.sendRaw(errorMessage(err.Error()))
		return
	}

	e, ok := c.gateway.registry.Resolve(payload.SessionID)
	if !ok {
		c.sendRaw(errorMessage("unknown session"))
		return
	}

	seat := seatForPlayer(e, payload.PlayerID)
	if seat < 0 {
		if err := e.AddPlayer(engine.PlayerInfo{PlayerID: payload.PlayerID, DisplayName: payload.DisplayName}); err != nil {
			c.sendRaw(errorMessage(err.Error()))
			return
		}
		seat = seatForPlayer(e, payload.PlayerID)
	}

	hub := c.gateway.HubFor(e.ID())
	sub := hub.Subscribe(c.id, seat)

	c.mu.Lock()
	c.sessionID = e.ID()
	c.seat = seat
	c.sub = sub
	c.mu.Unlock()

	go c.pumpSubscriber(sub)

	data, _ := protocol.Encode(protocol.TypeActionOK, protocol.ActionOKPayload{Revision: e.Revision()})
	c.sendRaw(data)
}

func (c *connection) pumpSubscriber(sub *broadcast.Subscriber) {
	for msg := range sub.Out() {
		c.sendRaw(msg)
	}
}

func seatForPlayer(e *engine.Engine, playerID string) int {
	view := e.PublicState()
	for seat, p := range view.Players {
		if p.PlayerID == playerID {
			return seat
		}
	}
	return -1
}

func (c *connection) sendRaw(data []byte) {
	select {
	case c.send <- data:
	default:
		// Drop if the connection's own buffer is full; it is already
		// falling behind and will be reaped by its read/write deadlines.
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) removeConnection(c *connection) {
	g.mu.Lock()
	delete(g.connections, c.id)
	g.mu.Unlock()

	c.mu.Lock()
	sessionID, sub := c.sessionID, c.sub
	c.mu.Unlock()
	if sessionID != "" && sub != nil {
		g.HubFor(sessionID).Unsubscribe(c.id)
	}
	g.log.Info("client disconnected", "conn", c.id)
}

func errorMessage(msg string) []byte {
	data, _ := protocol.Encode(protocol.TypeError, protocol.ErrorPayload{Message: msg})
	return data
}
