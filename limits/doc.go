// Package limits provides the accepted ranges for peerlink configuration
// values and the checks used to enforce them. Keeping the bounds in one
// place ensures the config loader, the CLI and the subsystems agree on what
// a sane setting is.
//
// # Bounds
//
// The package defines ranges for the pool, the health manager and NAT
// detection:
//
//   - MaxPoolConnections (10000): the largest pool the connection pool
//     accepts. Each pooled connection holds a live transport handle, so a
//     larger pool mostly exhausts file descriptors.
//
//   - MinTimeout / MaxTimeout (100ms / 10m): bounds for connection, ping and
//     STUN query timeouts.
//
//   - MinInterval / MaxInterval (1s / 24h): bounds for periodic work such as
//     health checks, pool cleanup and NAT re-detection.
//
//   - MaxReconnectAttempts (100) and MaxBackoffMultiplier (10).
//
// # Checks
//
// Check reports a value outside [min, max] as an error wrapping
// ErrOutOfRange, naming the setting and the bounds:
//
//	if err := limits.Check("pool.maxConnections", n, 1, limits.MaxPoolConnections); err != nil {
//	    return err
//	}
//
// Use errors.Is(err, limits.ErrOutOfRange) to recognize range violations.
package limits
