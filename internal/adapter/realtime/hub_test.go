package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"face-checkout-core/config"
	"face-checkout-core/internal/core/domain"
	"face-checkout-core/internal/core/ports"
	"face-checkout-core/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		HistorySize:  8,
		SendBuffer:   16,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
	}
}

// newTestHub serves the hub over a real websocket endpoint.
func newTestHub(t *testing.T, tokenSvc ports.TokenService, deviceRepo ports.DeviceRepository) (*Hub, string) {
	t.Helper()
	hub := NewHub(testRealtimeConfig(), tokenSvc, deviceRepo, zerolog.Nop())

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.HandleConnection(conn)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Shutdown)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// wsFrame decodes both control frames and fanned-out domain events.
type wsFrame struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Events  []domain.Event `json:"events"`
	ID      uuid.UUID      `json:"id"`
	UserID  *uuid.UUID     `json:"user_id"`
	OrderID *uuid.UUID     `json:"order_id"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame wsFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

// authAsUser performs the connect + auth handshake for a user token.
func authAsUser(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, msgConnected, frame.Type)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: msgAuth, Token: "good-token"}))
	frame = readFrame(t, conn)
	require.Equal(t, msgAuthSuccess, frame.Type)
}

func userEvent(eventType domain.EventType, userID uuid.UUID) domain.Event {
	ev := domain.NewEvent(eventType)
	ev.UserID = &userID
	return ev
}

func TestHub_UserAuth_ReceivesTargetedEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	userID := uuid.New()
	tokenSvc := mocks.NewMockTokenService(ctrl)
	tokenSvc.EXPECT().Validate("good-token").Return(&ports.TokenClaims{SubjectID: userID, Role: "user"}, nil)

	hub, url := newTestHub(t, tokenSvc, mocks.NewMockDeviceRepository(ctrl))
	conn := dial(t, url)
	authAsUser(t, conn)

	orderID := uuid.New()
	ev := userEvent(domain.EventSettlementCompleted, userID)
	ev.OrderID = &orderID
	hub.Publish(ev)

	frame := readFrame(t, conn)
	assert.Equal(t, string(domain.EventSettlementCompleted), frame.Type)
	require.NotNil(t, frame.UserID)
	assert.Equal(t, userID, *frame.UserID)
	require.NotNil(t, frame.OrderID)
	assert.Equal(t, orderID, *frame.OrderID)
}

func TestHub_InvalidToken_Rejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tokenSvc := mocks.NewMockTokenService(ctrl)
	tokenSvc.EXPECT().Validate("bad-token").Return(nil, assert.AnError)

	_, url := newTestHub(t, tokenSvc, mocks.NewMockDeviceRepository(ctrl))
	conn := dial(t, url)

	frame := readFrame(t, conn)
	require.Equal(t, msgConnected, frame.Type)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: msgAuth, Token: "bad-token"}))
	frame = readFrame(t, conn)
	assert.Equal(t, msgError, frame.Type)
	assert.Equal(t, "invalid token", frame.Message)
}

func TestHub_DeviceAuth_ReceivesMerchantEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	deviceID := uuid.New()
	merchantID := uuid.New()
	deviceRepo := mocks.NewMockDeviceRepository(ctrl)
	deviceRepo.EXPECT().GetByAccessKey(gomock.Any(), "dk_live_1").Return(&domain.Device{
		ID:         deviceID,
		MerchantID: merchantID,
		Status:     domain.DeviceStatusOnline,
	}, nil)

	hub, url := newTestHub(t, mocks.NewMockTokenService(ctrl), deviceRepo)
	conn := dial(t, url)

	frame := readFrame(t, conn)
	require.Equal(t, msgConnected, frame.Type)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: msgAuth, AccessKey: "dk_live_1"}))
	frame = readFrame(t, conn)
	require.Equal(t, msgAuthSuccess, frame.Type)

	// Addressed at the merchant only; the device connection owns that key too
	ev := domain.NewEvent(domain.EventOrderUpdated)
	ev.MerchantID = &merchantID
	hub.Publish(ev)

	frame = readFrame(t, conn)
	assert.Equal(t, string(domain.EventOrderUpdated), frame.Type)
}

func TestHub_DisabledDevice_Rejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	deviceRepo := mocks.NewMockDeviceRepository(ctrl)
	deviceRepo.EXPECT().GetByAccessKey(gomock.Any(), "dk_dead").Return(&domain.Device{
		ID:         uuid.New(),
		MerchantID: uuid.New(),
		Status:     domain.DeviceStatusDisabled,
	}, nil)

	_, url := newTestHub(t, mocks.NewMockTokenService(ctrl), deviceRepo)
	conn := dial(t, url)

	frame := readFrame(t, conn)
	require.Equal(t, msgConnected, frame.Type)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: msgAuth, AccessKey: "dk_dead"}))
	frame = readFrame(t, conn)
	assert.Equal(t, msgError, frame.Type)
	assert.Equal(t, "device disabled", frame.Message)
}

func TestHub_EventForOtherUser_NotDelivered(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	userID := uuid.New()
	tokenSvc := mocks.NewMockTokenService(ctrl)
	tokenSvc.EXPECT().Validate("good-token").Return(&ports.TokenClaims{SubjectID: userID, Role: "user"}, nil)

	hub, url := newTestHub(t, tokenSvc, mocks.NewMockDeviceRepository(ctrl))
	conn := dial(t, url)
	authAsUser(t, conn)

	otherUser := uuid.New()
	hub.Publish(userEvent(domain.EventSettlementCompleted, otherUser))
	mine := userEvent(domain.EventOrderUpdated, userID)
	hub.Publish(mine)

	// The first frame to arrive must be ours; the other user's never was sent
	frame := readFrame(t, conn)
	assert.Equal(t, string(domain.EventOrderUpdated), frame.Type)
	assert.Equal(t, mine.ID, frame.ID)
}

func TestHub_SubscribeNarrowsFilter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	userID := uuid.New()
	tokenSvc := mocks.NewMockTokenService(ctrl)
	tokenSvc.EXPECT().Validate("good-token").Return(&ports.TokenClaims{SubjectID: userID, Role: "user"}, nil)

	hub, url := newTestHub(t, tokenSvc, mocks.NewMockDeviceRepository(ctrl))
	conn := dial(t, url)
	authAsUser(t, conn)

	require.NoError(t, conn.WriteJSON(clientMessage{
		Type:   msgSubscribe,
		Events: []string{string(domain.EventSettlementCompleted)},
	}))
	frame := readFrame(t, conn)
	require.Equal(t, msgSubscribed, frame.Type)

	// Filtered out despite matching the user key
	hub.Publish(userEvent(domain.EventSessionUpdated, userID))
	wanted := userEvent(domain.EventSettlementCompleted, userID)
	hub.Publish(wanted)

	frame = readFrame(t, conn)
	assert.Equal(t, string(domain.EventSettlementCompleted), frame.Type)
	assert.Equal(t, wanted.ID, frame.ID)
}

func TestHub_UnsubscribeDropsType(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	userID := uuid.New()
	tokenSvc := mocks.NewMockTokenService(ctrl)
	tokenSvc.EXPECT().Validate("good-token").Return(&ports.TokenClaims{SubjectID: userID, Role: "user"}, nil)

	hub, url := newTestHub(t, tokenSvc, mocks.NewMockDeviceRepository(ctrl))
	conn := dial(t, url)
	authAsUser(t, conn)

	require.NoError(t, conn.WriteJSON(clientMessage{
		Type:   msgUnsubscribe,
		Events: []string{string(domain.EventSessionUpdated)},
	}))
	frame := readFrame(t, conn)
	require.Equal(t, msgUnsubscribed, frame.Type)

	hub.Publish(userEvent(domain.EventSessionUpdated, userID))
	wanted := userEvent(domain.EventSettlementFailed, userID)
	hub.Publish(wanted)

	frame = readFrame(t, conn)
	assert.Equal(t, string(domain.EventSettlementFailed), frame.Type)
	assert.Equal(t, wanted.ID, frame.ID)
}

func TestHub_GetHistory_ReplaysOwnEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	userID := uuid.New()
	tokenSvc := mocks.NewMockTokenService(ctrl)
	tokenSvc.EXPECT().Validate("good-token").Return(&ports.TokenClaims{SubjectID: userID, Role: "user"}, nil)

	hub, url := newTestHub(t, tokenSvc, mocks.NewMockDeviceRepository(ctrl))

	// Events recorded before the client ever connected
	first := userEvent(domain.EventOrderUpdated, userID)
	second := userEvent(domain.EventOrderUpdated, userID)
	hub.Publish(first)
	hub.Publish(second)
	hub.Publish(userEvent(domain.EventOrderUpdated, uuid.New()))

	conn := dial(t, url)
	authAsUser(t, conn)

	require.NoError(t, conn.WriteJSON(clientMessage{
		Type:   msgGetHistory,
		Events: []string{string(domain.EventOrderUpdated)},
	}))
	frame := readFrame(t, conn)
	require.Equal(t, msgHistory, frame.Type)
	require.Len(t, frame.Events, 2, "another user's events must not replay")
	assert.Equal(t, first.ID, frame.Events[0].ID)
	assert.Equal(t, second.ID, frame.Events[1].ID)
}

func TestHub_HistoryRingBounded(t *testing.T) {
	hub := NewHub(testRealtimeConfig(), nil, nil, zerolog.Nop())

	userID := uuid.New()
	for i := 0; i < 20; i++ {
		hub.Publish(userEvent(domain.EventSessionUpdated, userID))
	}

	assert.Len(t, hub.history[domain.EventSessionUpdated], testRealtimeConfig().HistorySize)
}

func TestHub_SubscribeBeforeAuth_Rejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	_, url := newTestHub(t, mocks.NewMockTokenService(ctrl), mocks.NewMockDeviceRepository(ctrl))
	conn := dial(t, url)

	frame := readFrame(t, conn)
	require.Equal(t, msgConnected, frame.Type)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: msgSubscribe, Events: []string{"order_updated"}}))
	frame = readFrame(t, conn)
	assert.Equal(t, msgError, frame.Type)
	assert.Equal(t, "auth required", frame.Message)
}

func TestHub_SlowClientEvicted(t *testing.T) {
	hub := NewHub(config.RealtimeConfig{
		HistorySize:  4,
		SendBuffer:   1,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
	}, nil, nil, zerolog.Nop())

	// A bare client with no write pump never drains its buffer
	client := newClient(hub, nil, 1)
	hub.clients[client] = struct{}{}
	userID := uuid.New()
	hub.bind(client, identity{userID: &userID})
	client.mu.Lock()
	client.authenticated = true
	client.subscribedAll = true
	client.mu.Unlock()

	hub.Publish(userEvent(domain.EventOrderUpdated, userID))
	hub.Publish(userEvent(domain.EventOrderUpdated, userID))

	assert.Equal(t, 0, hub.ClientCount(), "overflowing a send buffer must evict, not block")
}

func TestHub_Shutdown_ClosesConnections(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	hub, url := newTestHub(t, mocks.NewMockTokenService(ctrl), mocks.NewMockDeviceRepository(ctrl))
	conn := dial(t, url)

	frame := readFrame(t, conn)
	require.Equal(t, msgConnected, frame.Type)

	hub.Shutdown()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
}
