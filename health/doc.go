// Package health tracks peer liveness and drives reconnection.
//
// A Manager keeps one PeerHealth record per peer, created on the first
// connect event and removed only by RemovePeer. Each check cycle pings every
// reachable peer and waits for the matching pong; round-trip latency is
// classified into a Quality, and consecutive ping failures mark a peer
// unhealthy. Three failures in a row schedule a reconnect with exponential
// backoff:
//
//	delay(n) = min(ReconnectDelay * BackoffMultiplier^n, MaxReconnectDelay)
//
// At most one reconnect timer exists per peer. A connect event that arrives
// through any other path cancels the pending timer.
//
// When the local network goes offline every peer is marked network-lost and
// reconnection is suppressed until the network is restored. A Watcher can
// feed those transitions from the host's interface state.
//
// All state changes are reported through OnEvent callbacks using the event
// names peer-healthy, peer-disconnected, quality-changed, reconnect-success,
// reconnect-failed, reconnect-attempt-failed, reconnect-scheduled,
// network-restored and network-lost.
package health
