// Package pool manages the lifecycle, reuse and capacity of peer connections.
//
// A Pool tracks at most one connection per peer. Connections move between
// the IDLE and ACTIVE states as application code acquires and releases
// them, and are retired through CLOSING to CLOSED (or ERROR when the
// underlying handle fails to close). The pool never holds more than
// MaxConnections connections; when full, the least recently used idle
// connection is evicted to make room.
//
// The pool knows nothing about NAT or transports. Connections are created
// by a caller-supplied factory, typically the runtime's dial function:
//
//	p := pool.New(pool.DefaultConfig())
//	p.Initialize()
//	defer p.Destroy()
//
//	handle, err := p.AcquireConnection(ctx, peerID, runtime.Dial)
//	if err != nil {
//	    return err
//	}
//	defer p.ReleaseConnection(peerID)
//
// Acquire, release and close for the same peer are serialized; operations on
// different peers run in parallel, and factories are invoked without holding
// the pool lock.
package pool
