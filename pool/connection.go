package pool

import (
	"time"

	"github.com/opd-ai/peerlink/interfaces"
)

// MaxConnectionErrors is the error count at which a connection becomes
// unhealthy and is forced into StateError.
const MaxConnectionErrors = 3

// State represents the lifecycle state of a pooled connection.
type State int

const (
	// StateIdle means the connection is open and available for reuse.
	StateIdle State = iota
	// StateActive means the connection is acquired by a caller.
	StateActive
	// StateClosing means the underlying handle is being closed.
	StateClosing
	// StateClosed means the handle closed cleanly.
	StateClosed
	// StateError means the connection failed and must not be reused.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Connection is a pooled peer connection. It is owned by the pool; callers
// only see copies through ConnectionDetails.
type Connection struct {
	ID           string
	PeerID       string
	Handle       interfaces.Handle
	State        State
	CreatedAt    time.Time
	LastActivity time.Time
	UsageCount   uint64
	ErrorCount   int
}

// IsHealthy reports whether the connection may be reused.
func (c *Connection) IsHealthy() bool {
	return c.ErrorCount < MaxConnectionErrors && c.State != StateClosed && c.State != StateError
}

// recordError counts an error, forcing StateError at the threshold.
func (c *Connection) recordError() {
	c.ErrorCount++
	if c.ErrorCount >= MaxConnectionErrors && (c.State == StateIdle || c.State == StateActive) {
		c.State = StateError
	}
}

// ConnectionDetails is a point-in-time snapshot of a pooled connection.
type ConnectionDetails struct {
	ID           string        `json:"id"`
	PeerID       string        `json:"peerId"`
	State        string        `json:"state"`
	CreatedAt    time.Time     `json:"createdAt"`
	LastActivity time.Time     `json:"lastActivity"`
	Age          time.Duration `json:"age"`
	IdleTime     time.Duration `json:"idleTime"`
	UsageCount   uint64        `json:"usageCount"`
	ErrorCount   int           `json:"errorCount"`
	Healthy      bool          `json:"healthy"`
}
