package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"face-checkout-core/internal/core/domain"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
)

// knownEventTypes is the closed set of domain event types, used to
// materialize a concrete subscription set the first time a client narrows
// its filter away from everything.
var knownEventTypes = []domain.EventType{
	domain.EventSessionUpdated,
	domain.EventOrderUpdated,
	domain.EventSettlementCompleted,
	domain.EventSettlementFailed,
	domain.EventChainConfirmation,
}

// Client is one websocket connection managed by the hub. identity is
// guarded by the hub mutex; subscription state by the client's own.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	identity identity

	mu            sync.Mutex
	authenticated bool
	subscribedAll bool
	subscriptions map[domain.EventType]struct{}

	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, sendBuffer int) *Client {
	return &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		done:          make(chan struct{}),
		subscriptions: make(map[domain.EventType]struct{}),
	}
}

// close signals the write pump to tear the connection down. Safe to call
// more than once; the send channel is never closed so concurrent
// publishers cannot panic on a dropped client.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// trySend queues a frame without blocking. A full buffer means the other
// side is not keeping up; the client is evicted so the publisher never
// stalls behind it.
func (c *Client) trySend(payload []byte) {
	select {
	case c.send <- payload:
	default:
		c.hub.unregister(c)
	}
}

func (c *Client) sendControl(msg serverMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(payload)
}

// wantsEvent reports whether the authenticated client's subscription
// filter admits the event type.
func (c *Client) wantsEvent(eventType domain.EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authenticated {
		return false
	}
	if c.subscribedAll {
		return true
	}
	_, ok := c.subscriptions[eventType]
	return ok
}

func (c *Client) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// readPump consumes client frames until the connection drops or the pong
// deadline passes, then deregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(raw)
	}
}

// writePump owns all writes on the connection: queued frames, periodic
// pings, and the final close frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}

func (c *Client) handleMessage(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendControl(serverMessage{Type: msgError, Message: "malformed message"})
		return
	}

	switch msg.Type {
	case msgAuth:
		c.handleAuth(msg)
	case msgSubscribe:
		c.handleSubscribe(msg)
	case msgUnsubscribe:
		c.handleUnsubscribe(msg)
	case msgGetHistory:
		c.handleGetHistory(msg)
	default:
		c.sendControl(serverMessage{Type: msgError, Message: "unknown message type"})
	}
}

func (c *Client) handleAuth(msg clientMessage) {
	id, err := c.hub.authenticate(msg)
	if err != nil {
		c.sendControl(serverMessage{Type: msgError, Message: err.Error()})
		return
	}
	c.hub.bind(c, id)

	c.mu.Lock()
	c.authenticated = true
	c.subscribedAll = true
	c.mu.Unlock()

	c.sendControl(serverMessage{Type: msgAuthSuccess})
}

// handleSubscribe narrows the filter to the named types. An empty list
// resets it to everything.
func (c *Client) handleSubscribe(msg clientMessage) {
	if !c.isAuthenticated() {
		c.sendControl(serverMessage{Type: msgError, Message: "auth required"})
		return
	}

	c.mu.Lock()
	if len(msg.Events) == 0 {
		c.subscribedAll = true
		c.subscriptions = make(map[domain.EventType]struct{})
	} else {
		if c.subscribedAll {
			c.subscribedAll = false
			c.subscriptions = make(map[domain.EventType]struct{})
		}
		for _, name := range msg.Events {
			c.subscriptions[domain.EventType(name)] = struct{}{}
		}
	}
	c.mu.Unlock()

	c.sendControl(serverMessage{Type: msgSubscribed})
}

func (c *Client) handleUnsubscribe(msg clientMessage) {
	if !c.isAuthenticated() {
		c.sendControl(serverMessage{Type: msgError, Message: "auth required"})
		return
	}

	c.mu.Lock()
	if c.subscribedAll {
		c.subscribedAll = false
		c.subscriptions = make(map[domain.EventType]struct{}, len(knownEventTypes))
		for _, eventType := range knownEventTypes {
			c.subscriptions[eventType] = struct{}{}
		}
	}
	for _, name := range msg.Events {
		delete(c.subscriptions, domain.EventType(name))
	}
	c.mu.Unlock()

	c.sendControl(serverMessage{Type: msgUnsubscribed})
}

func (c *Client) handleGetHistory(msg clientMessage) {
	if !c.isAuthenticated() {
		c.sendControl(serverMessage{Type: msgError, Message: "auth required"})
		return
	}

	types := make([]domain.EventType, 0, len(msg.Events))
	for _, name := range msg.Events {
		types = append(types, domain.EventType(name))
	}
	events := c.hub.historyFor(c, types)
	c.sendControl(serverMessage{Type: msgHistory, Events: events})
}
