package realtime

import "face-checkout-core/internal/core/domain"

// Message types accepted from clients.
const (
	msgAuth        = "auth"
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgGetHistory  = "get_history"
)

// Control message types sent to clients. Domain events are sent as-is and
// carry their own type field.
const (
	msgConnected    = "connected"
	msgAuthSuccess  = "auth_success"
	msgSubscribed   = "subscribed"
	msgUnsubscribed = "unsubscribed"
	msgHistory      = "history"
	msgError        = "error"
)

// clientMessage is a frame received from a client. Token and AccessKey are
// mutually exclusive auth credentials; Events scopes subscribe, unsubscribe
// and get_history requests.
type clientMessage struct {
	Type      string   `json:"type"`
	Token     string   `json:"token,omitempty"`
	AccessKey string   `json:"access_key,omitempty"`
	Events    []string `json:"events,omitempty"`
}

// serverMessage is a control frame sent to a client.
type serverMessage struct {
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Events  []domain.Event `json:"events,omitempty"`
}
