package api

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/webthing-core/internal/thing"
)

// WebSocket message types, exchanged as {"messageType": ..., "data": {...}}.
const (
	WSSetProperty          = "setProperty"
	WSRequestAction        = "requestAction"
	WSAddEventSubscription = "addEventSubscription"
	WSPropertyStatus       = "propertyStatus"
	WSActionStatus         = "actionStatus"
	WSEvent                = "event"
	WSError                = "error"

	// defaultSendBuffer is used when the websocket config leaves send_buffer unset.
	defaultSendBuffer = 64
)

// WSMessage is one frame in either direction.
type WSMessage struct {
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// wsError is the data of an error frame.
type wsError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Request any    `json:"request,omitempty"`
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// wsSession is one client attached to one thing. It is a thing.Subscriber:
// notifications are encoded on the notifying goroutine and queued for the
// write pump, or dropped when the client cannot keep up.
type wsSession struct {
	server *Server
	thing  *thing.Thing
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	subID  thing.SubscriberID

	mu     sync.RWMutex
	events map[string]struct{}
}

// handleWebSocket upgrades GET /things/{thingID}/ws.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupThing(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "thing_id", t.ID(), "error", err)
		return
	}

	buffer := s.wsCfg.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	sess := &wsSession{
		server: s,
		thing:  t,
		conn:   conn,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		events: make(map[string]struct{}),
	}

	sess.subID = t.AddSubscriber(sess)
	s.sessionsMu.Lock()
	s.sessions[sess] = struct{}{}
	s.sessionsMu.Unlock()
	if s.metrics != nil {
		s.metrics.WebSocketConnected(1)
	}
	s.logger.Debug("websocket client connected", "thing_id", t.ID())

	go sess.writePump()
	go sess.readPump()
}

// closeSessions disconnects every WebSocket client.
func (s *Server) closeSessions() {
	s.sessionsMu.Lock()
	sessions := make([]*wsSession, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessionsMu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

// SessionCount returns the number of connected WebSocket clients.
func (s *Server) SessionCount() int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return len(s.sessions)
}

// close detaches the session from its thing and the server. Safe to call
// from both pumps and from Server.Close.
func (c *wsSession) close() {
	c.once.Do(func() {
		close(c.done)
		c.thing.RemoveSubscriber(c.subID)

		c.server.sessionsMu.Lock()
		delete(c.server.sessions, c)
		c.server.sessionsMu.Unlock()

		if c.server.metrics != nil {
			c.server.metrics.WebSocketConnected(-1)
		}
		//nolint:errcheck // Best-effort close frame; the peer may already be gone
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
		c.server.logger.Debug("websocket client disconnected", "thing_id", c.thing.ID())
	})
}

// Notify implements thing.Subscriber.
func (c *wsSession) Notify(n thing.Notification) {
	var (
		msgType string
		data    any
	)
	switch n.Kind {
	case thing.KindPropertyStatus:
		msgType, data = WSPropertyStatus, map[string]any{n.Name: n.Payload}
	case thing.KindActionStatus:
		rec, ok := n.Payload.(thing.ActionRecord)
		if !ok {
			return
		}
		msgType, data = WSActionStatus, rec.AsDescription()
	case thing.KindEvent:
		if !c.subscribed(n.Name) {
			return
		}
		msgType, data = WSEvent, n.Payload
	default:
		return
	}
	c.push(msgType, data)
}

func (c *wsSession) subscribed(event string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.events[event]
	return ok
}

// push encodes and queues a frame without blocking.
func (c *wsSession) push(msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.server.logger.Error("failed to encode websocket message", "type", msgType, "error", err)
		return
	}
	frame, err := json.Marshal(WSMessage{MessageType: msgType, Data: raw})
	if err != nil {
		return
	}

	select {
	case <-c.done:
	case c.send <- frame:
	default:
		c.server.logger.Warn("websocket send buffer full, dropping message",
			"thing_id", c.thing.ID(),
			"type", msgType,
		)
	}
}

func (c *wsSession) pushError(status int, message string, request any) {
	c.push(WSError, wsError{
		Status:  fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Message: message,
		Request: request,
	})
}

// readPump reads client frames until the connection fails.
func (c *wsSession) readPump() {
	defer c.close()

	cfg := c.server.wsCfg
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read error", "thing_id", c.thing.ID(), "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *wsSession) writePump() {
	cfg := c.server.wsCfg
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one client frame. Failures are reported back to
// the client as error frames; the connection stays open.
func (c *wsSession) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.pushError(http.StatusBadRequest, "Parsing request failed", nil)
		return
	}

	switch msg.MessageType {
	case WSSetProperty:
		c.handleSetProperty(msg)
	case WSRequestAction:
		c.handleRequestAction(msg)
	case WSAddEventSubscription:
		c.handleAddEventSubscription(msg)
	default:
		c.pushError(http.StatusBadRequest, "Unknown messageType: "+msg.MessageType, msg)
	}
}

// handleSetProperty applies {"data": {"name": value, ...}} in key order.
// Successful writes reach the client through the propertyStatus notification.
func (c *wsSession) handleSetProperty(msg WSMessage) {
	var values map[string]any
	if err := json.Unmarshal(msg.Data, &values); err != nil {
		c.pushError(http.StatusBadRequest, "Invalid setProperty data", msg)
		return
	}
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if err := c.thing.SetProperty(name, values[name]); err != nil {
			status, _ := statusFor(err)
			c.pushError(status, err.Error(), msg)
		}
	}
}

// handleRequestAction performs {"data": {"fade": {"input": {...}}}}. Status
// changes arrive as actionStatus frames.
func (c *wsSession) handleRequestAction(msg WSMessage) {
	var requests map[string]actionRequest
	if err := json.Unmarshal(msg.Data, &requests); err != nil {
		c.pushError(http.StatusBadRequest, "Invalid requestAction data", msg)
		return
	}
	for _, name := range slices.Sorted(maps.Keys(requests)) {
		if _, err := c.thing.PerformAction(name, requests[name].Input); err != nil {
			status, _ := statusFor(err)
			c.pushError(status, err.Error(), msg)
		}
	}
}

// handleAddEventSubscription subscribes to {"data": {"overheated": {}}}.
// Undeclared event names are ignored.
func (c *wsSession) handleAddEventSubscription(msg WSMessage) {
	var names map[string]any
	if err := json.Unmarshal(msg.Data, &names); err != nil {
		c.pushError(http.StatusBadRequest, "Invalid addEventSubscription data", msg)
		return
	}
	c.mu.Lock()
	for name := range names {
		if c.thing.HasAvailableEvent(name) {
			c.events[name] = struct{}{}
		}
	}
	c.mu.Unlock()
}
