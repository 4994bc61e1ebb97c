package pool

// Stats is a snapshot of pool counters.
type Stats struct {
	TotalConnections   int     `json:"totalConnections"`
	ActiveConnections  int     `json:"activeConnections"`
	IdleConnections    int     `json:"idleConnections"`
	PendingConnections int     `json:"pendingConnections"`
	MaxConnections     int     `json:"maxConnections"`
	TotalCreated       uint64  `json:"totalCreated"`
	TotalClosed        uint64  `json:"totalClosed"`
	TotalErrors        uint64  `json:"totalErrors"`
	TotalEvicted       uint64  `json:"totalEvicted"`
	TotalTimeouts      uint64  `json:"totalTimeouts"`
	Rejected           uint64  `json:"rejected"`
	Hits               uint64  `json:"hits"`
	Misses             uint64  `json:"misses"`
	HitRate            float64 `json:"hitRate"`
}

// hitRate returns hits / (hits + misses), or 0 before any acquire.
func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// EventType identifies a pool event.
type EventType string

const (
	// EventCreated is emitted after a new connection is stored ACTIVE.
	EventCreated EventType = "created"
	// EventClosed is emitted after a connection's handle has been closed.
	EventClosed EventType = "closed"
	// EventEvicted follows the EventClosed of an evicted idle connection.
	EventEvicted EventType = "evicted"
	// EventError reports a failed create or a recorded connection error.
	EventError EventType = "error"
)

// CloseReason records why the pool closed a connection.
type CloseReason string

const (
	// ReasonRequested is a close asked for through CloseConnection.
	ReasonRequested CloseReason = "requested"
	// ReasonEvicted is an idle connection evicted for capacity or trimming.
	ReasonEvicted CloseReason = "evicted"
	// ReasonIdleTimeout is an idle connection that outlived MaxIdleTime.
	ReasonIdleTimeout CloseReason = "idle-timeout"
	// ReasonUnhealthy is a connection past MaxConnectionErrors.
	ReasonUnhealthy CloseReason = "unhealthy"
	// ReasonShutdown is a close from CloseAll or Destroy.
	ReasonShutdown CloseReason = "shutdown"
)

// Retired reports whether the pool dropped the connection on its own
// initiative while the peer itself may still be reachable.
func (r CloseReason) Retired() bool {
	return r == ReasonEvicted || r == ReasonIdleTimeout
}

// Event describes a connection lifecycle change.
type Event struct {
	Type         EventType
	PeerID       string
	ConnectionID string
	State        State
	// Reason is set on EventClosed and EventEvicted.
	Reason CloseReason
	Err    error
}
