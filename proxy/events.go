package proxy

import "net/http"

// Event names for the publish-subscribe surface (Server.On / Once / Off).
const (
	// EventConnection fires when a client connection has been registered.
	// Payload: ConnectionEvent.
	EventConnection = "connection"

	// EventConnectionClosed fires exactly once per registered connection,
	// after its socket fully closes. Payload: ConnectionClosedEvent.
	EventConnectionClosed = "connectionClosed"

	// EventRequestFailed fires for pre-response errors reported to the
	// client, before the client socket is closed. Payload:
	// RequestFailedEvent.
	EventRequestFailed = "requestFailed"

	// EventTLSOverheadUnavailable fires at most once per connection when
	// the raw socket underneath the TLS layer cannot be used for byte
	// accounting. Payload: TLSOverheadUnavailableEvent.
	EventTLSOverheadUnavailable = "tlsOverheadUnavailable"
)

// ConnectionEvent is the payload of EventConnection.
type ConnectionEvent struct {
	ConnectionID uint64
}

// ConnectionClosedEvent is the payload of EventConnectionClosed. Stats are
// final: every field is >= the same field in any earlier snapshot.
type ConnectionClosedEvent struct {
	ConnectionID uint64
	Stats        Stats
}

// RequestFailedEvent is the payload of EventRequestFailed.
type RequestFailedEvent struct {
	Error   error
	Request *http.Request
}

// TLSOverheadUnavailableEvent is the payload of EventTLSOverheadUnavailable.
type TLSOverheadUnavailableEvent struct {
	ConnectionID uint64
	Reason       string
	HasParent    bool
	ParentType   string
}
