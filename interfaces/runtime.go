package interfaces

import (
	"context"
	"time"
)

// Handle is an opaque connection produced by the P2P runtime. When it also
// implements io.Closer, the pool calls Close when the connection is retired.
type Handle interface{}

// DialFunc connects to a peer. It is used both as the pool's connection
// factory and as the reconnection primitive of the health manager.
type DialFunc func(ctx context.Context, peerID string) (Handle, error)

// Dialer establishes connections to peers.
type Dialer interface {
	// Dial connects to the peer identified by peerID
	Dial(ctx context.Context, peerID string) (Handle, error)
}

// Message types used by the health ping protocol. A pong echoes the
// ping's payload.
const (
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// Message is an application message exchanged with a peer. Framing and
// serialization belong to the runtime.
type Message struct {
	Type      string
	From      string
	Payload   []byte
	Timestamp time.Time
}

// Messenger sends messages to peers and delivers inbound ones.
type Messenger interface {
	// Send delivers msg to the peer identified by peerID
	Send(ctx context.Context, peerID string, msg Message) error

	// SubscribeMessages returns a channel of inbound messages and a function
	// that cancels the subscription and closes the channel
	SubscribeMessages() (<-chan Message, func())
}

// PeerEventType identifies a peer or network lifecycle event.
type PeerEventType string

const (
	// PeerConnected is emitted when a connection to a peer is established.
	PeerConnected PeerEventType = "peer-connected"
	// PeerDisconnected is emitted when a connection to a peer is lost.
	PeerDisconnected PeerEventType = "peer-disconnected"
	// PeerError is emitted when the runtime reports a peer-level error.
	PeerError PeerEventType = "peer-error"
	// NetworkOffline is emitted when the local network goes away.
	NetworkOffline PeerEventType = "network-offline"
	// NetworkOnline is emitted when the local network comes back.
	NetworkOnline PeerEventType = "network-online"
)

// PeerEvent is a connect, disconnect, error or network transition event.
// PeerID is empty for network transitions.
type PeerEvent struct {
	Type   PeerEventType
	PeerID string
	Err    error
}

// PeerEventSource publishes peer lifecycle events.
type PeerEventSource interface {
	// SubscribePeerEvents returns a channel of events and a function that
	// cancels the subscription and closes the channel
	SubscribePeerEvents() (<-chan PeerEvent, func())
}

// Runtime is the P2P networking runtime the connectivity layer sits on.
type Runtime interface {
	Dialer
	Messenger
	PeerEventSource
}
