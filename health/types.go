package health

import "time"

// Status is the liveness state of a peer.
type Status string

const (
	// StatusHealthy is a connected peer answering pings.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy is a connected peer that missed too many pings.
	StatusUnhealthy Status = "unhealthy"
	// StatusDisconnected is a peer the runtime reported disconnected.
	StatusDisconnected Status = "disconnected"
	// StatusNetworkLost marks every peer while the local network is down.
	StatusNetworkLost Status = "network-lost"
)

// Quality classifies round-trip latency.
type Quality string

const (
	// QualityExcellent is a round trip under 100ms.
	QualityExcellent Quality = "excellent"
	// QualityGood is a round trip under 200ms.
	QualityGood Quality = "good"
	// QualityFair is a round trip under 500ms.
	QualityFair Quality = "fair"
	// QualityPoor is anything slower.
	QualityPoor Quality = "poor"
)

// ClassifyLatency maps a round-trip time in milliseconds to a Quality.
func ClassifyLatency(ms float64) Quality {
	switch {
	case ms < 100:
		return QualityExcellent
	case ms < 200:
		return QualityGood
	case ms < 500:
		return QualityFair
	default:
		return QualityPoor
	}
}

// PeerHealth is the health record of one peer.
type PeerHealth struct {
	PeerID              string    `json:"peerId"`
	Status              Status    `json:"status"`
	Quality             Quality   `json:"quality"`
	PreviousQuality     Quality   `json:"previousQuality,omitempty"`
	LastSeen            time.Time `json:"lastSeen"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LatencyMs           float64   `json:"latencyMs"`
	ReconnectAttempts   int       `json:"reconnectAttempts"`
	ReconnectPending    bool      `json:"reconnectPending"`
}

// NetworkQuality summarizes the health of all tracked peers.
type NetworkQuality struct {
	Online            bool    `json:"online"`
	TotalPeers        int     `json:"totalPeers"`
	HealthyPeers      int     `json:"healthyPeers"`
	UnhealthyPeers    int     `json:"unhealthyPeers"`
	DisconnectedPeers int     `json:"disconnectedPeers"`
	NetworkLostPeers  int     `json:"networkLostPeers"`
	AverageLatencyMs  float64 `json:"averageLatencyMs"`
	Quality           Quality `json:"quality"`
}

// EventType names a health event.
type EventType string

const (
	// EventPeerHealthy is emitted when a peer becomes healthy.
	EventPeerHealthy EventType = "peer-healthy"
	// EventPeerDisconnected is emitted when the runtime loses a peer.
	EventPeerDisconnected EventType = "peer-disconnected"
	// EventQualityChanged carries the old and new latency class.
	EventQualityChanged EventType = "quality-changed"
	// EventReconnectScheduled carries the attempt number and its delay.
	EventReconnectScheduled EventType = "reconnect-scheduled"
	// EventReconnectSuccess is emitted when a reconnect dial succeeds.
	EventReconnectSuccess EventType = "reconnect-success"
	// EventReconnectFailed is emitted once attempts are exhausted.
	EventReconnectFailed EventType = "reconnect-failed"
	// EventReconnectAttemptFailed is emitted for each failed dial.
	EventReconnectAttemptFailed EventType = "reconnect-attempt-failed"
	// EventNetworkRestored is emitted when the local network comes back.
	EventNetworkRestored EventType = "network-restored"
	// EventNetworkLost is emitted when the local network goes down.
	EventNetworkLost EventType = "network-lost"
)

// Event is emitted on every health state change. Fields that do not apply
// to the event type are zero.
type Event struct {
	Type            EventType
	PeerID          string
	Status          Status
	Quality         Quality
	PreviousQuality Quality
	LatencyMs       float64
	Attempt         int
	Delay           time.Duration
	Err             error
}
