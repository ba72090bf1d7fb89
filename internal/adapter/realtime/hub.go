package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"face-checkout-core/config"
	"face-checkout-core/internal/core/domain"
	"face-checkout-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// authTimeout bounds the credential lookup triggered by an auth message.
const authTimeout = 5 * time.Second

// identity is the set of fan-out keys a connection resolved during auth.
// A user token binds the user key; a device access key binds both the
// device and its owning merchant.
type identity struct {
	userID     *uuid.UUID
	deviceID   *uuid.UUID
	merchantID *uuid.UUID
}

// Hub fans domain events out to connected websocket clients. It implements
// ports.EventPublisher. Delivery is at-most-once and best-effort: a client
// whose send buffer is full is evicted rather than allowed to block the
// publisher.
type Hub struct {
	tokenSvc   ports.TokenService
	deviceRepo ports.DeviceRepository
	log        zerolog.Logger

	historySize  int
	sendBuffer   int
	pingInterval time.Duration
	pongWait     time.Duration

	mu         sync.RWMutex
	clients    map[*Client]struct{}
	byUser     map[uuid.UUID]map[*Client]struct{}
	byDevice   map[uuid.UUID]map[*Client]struct{}
	byMerchant map[uuid.UUID]map[*Client]struct{}
	history    map[domain.EventType][]domain.Event
	closed     bool
}

// NewHub creates the fan-out hub.
func NewHub(cfg config.RealtimeConfig, tokenSvc ports.TokenService, deviceRepo ports.DeviceRepository, log zerolog.Logger) *Hub {
	return &Hub{
		tokenSvc:     tokenSvc,
		deviceRepo:   deviceRepo,
		log:          log,
		historySize:  cfg.HistorySize,
		sendBuffer:   cfg.SendBuffer,
		pingInterval: cfg.PingInterval,
		pongWait:     cfg.PongWait,
		clients:      make(map[*Client]struct{}),
		byUser:       make(map[uuid.UUID]map[*Client]struct{}),
		byDevice:     make(map[uuid.UUID]map[*Client]struct{}),
		byMerchant:   make(map[uuid.UUID]map[*Client]struct{}),
		history:      make(map[domain.EventType][]domain.Event),
	}
}

// HandleConnection registers an upgraded websocket connection and starts its
// read/write pumps. The connection receives no domain events until a valid
// auth message arrives.
func (h *Hub) HandleConnection(conn *websocket.Conn) {
	client := newClient(h, conn, h.sendBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go client.writePump()
	go client.readPump()

	client.sendControl(serverMessage{Type: msgConnected})
}

// Publish appends the event to the history ring and delivers it to every
// authenticated client matching one of the event's target keys. It never
// blocks on a slow client.
func (h *Hub) Publish(event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to marshal event")
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.pushHistoryLocked(event)
	targets := h.targetsLocked(event)
	h.mu.Unlock()

	for _, c := range targets {
		if c.wantsEvent(event.Type) {
			c.trySend(payload)
		}
	}
}

// pushHistoryLocked keeps the newest historySize events per type.
func (h *Hub) pushHistoryLocked(event domain.Event) {
	ring := append(h.history[event.Type], event)
	if len(ring) > h.historySize {
		ring = ring[len(ring)-h.historySize:]
	}
	h.history[event.Type] = ring
}

// targetsLocked resolves the clients addressed by the event's keys.
func (h *Hub) targetsLocked(event domain.Event) []*Client {
	seen := make(map[*Client]struct{})
	if event.UserID != nil {
		for c := range h.byUser[*event.UserID] {
			seen[c] = struct{}{}
		}
	}
	if event.DeviceID != nil {
		for c := range h.byDevice[*event.DeviceID] {
			seen[c] = struct{}{}
		}
	}
	if event.MerchantID != nil {
		for c := range h.byMerchant[*event.MerchantID] {
			seen[c] = struct{}{}
		}
	}
	targets := make([]*Client, 0, len(seen))
	for c := range seen {
		targets = append(targets, c)
	}
	return targets
}

// authenticate resolves an auth message to fan-out keys.
func (h *Hub) authenticate(msg clientMessage) (identity, error) {
	switch {
	case msg.Token != "":
		claims, err := h.tokenSvc.Validate(msg.Token)
		if err != nil {
			return identity{}, errors.New("invalid token")
		}
		userID := claims.SubjectID
		return identity{userID: &userID}, nil
	case msg.AccessKey != "":
		ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
		defer cancel()
		device, err := h.deviceRepo.GetByAccessKey(ctx, msg.AccessKey)
		if err != nil || device == nil {
			return identity{}, errors.New("unknown access key")
		}
		if device.Status == domain.DeviceStatusDisabled {
			return identity{}, errors.New("device disabled")
		}
		merchantID := device.MerchantID
		return identity{deviceID: &device.ID, merchantID: &merchantID}, nil
	default:
		return identity{}, errors.New("auth requires token or access_key")
	}
}

// bind indexes an authenticated client under its resolved keys.
func (h *Hub) bind(c *Client, id identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	c.identity = id
	if id.userID != nil {
		addKey(h.byUser, *id.userID, c)
	}
	if id.deviceID != nil {
		addKey(h.byDevice, *id.deviceID, c)
	}
	if id.merchantID != nil {
		addKey(h.byMerchant, *id.merchantID, c)
	}
}

// historyFor returns buffered events visible to the client, oldest first.
// An empty type list means every type.
func (h *Hub) historyFor(c *Client, types []domain.EventType) []domain.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(types) == 0 {
		types = make([]domain.EventType, 0, len(h.history))
		for eventType := range h.history {
			types = append(types, eventType)
		}
	}

	events := make([]domain.Event, 0)
	for _, eventType := range types {
		for _, ev := range h.history[eventType] {
			if c.identity.covers(ev) {
				events = append(events, ev)
			}
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

// unregister removes the client from the registry and closes its send
// channel. Safe to call more than once.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, registered := h.clients[c]
	if registered {
		delete(h.clients, c)
		removeKey(h.byUser, c.identity.userID, c)
		removeKey(h.byDevice, c.identity.deviceID, c)
		removeKey(h.byMerchant, c.identity.merchantID, c)
	}
	h.mu.Unlock()

	if registered {
		c.close()
	}
}

// ClientCount reports the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown evicts every client and stops accepting connections.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.byUser = make(map[uuid.UUID]map[*Client]struct{})
	h.byDevice = make(map[uuid.UUID]map[*Client]struct{})
	h.byMerchant = make(map[uuid.UUID]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.log.Info().Int("clients", len(clients)).Msg("Realtime hub shut down")
}

// covers reports whether the event addresses one of the identity's keys.
func (id identity) covers(event domain.Event) bool {
	if id.userID != nil && event.UserID != nil && *id.userID == *event.UserID {
		return true
	}
	if id.deviceID != nil && event.DeviceID != nil && *id.deviceID == *event.DeviceID {
		return true
	}
	if id.merchantID != nil && event.MerchantID != nil && *id.merchantID == *event.MerchantID {
		return true
	}
	return false
}

func addKey(index map[uuid.UUID]map[*Client]struct{}, key uuid.UUID, c *Client) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Client]struct{})
		index[key] = set
	}
	set[c] = struct{}{}
}

func removeKey(index map[uuid.UUID]map[*Client]struct{}, key *uuid.UUID, c *Client) {
	if key == nil {
		return
	}
	set := index[*key]
	delete(set, c)
	if len(set) == 0 {
		delete(index, *key)
	}
}
