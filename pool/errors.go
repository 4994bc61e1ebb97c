package pool

import "errors"

var (
	// ErrPoolFull is returned when the pool is at capacity and no idle
	// connection could be evicted.
	ErrPoolFull = errors.New("connection pool is full")
	// ErrConnectionTimeout is returned when the factory does not produce a
	// connection within ConnectionTimeout.
	ErrConnectionTimeout = errors.New("connection timeout")
	// ErrConnectionBusy is returned when the peer's connection is already
	// acquired by another caller.
	ErrConnectionBusy = errors.New("connection is in use")
	// ErrPoolDestroyed is returned by operations on a destroyed pool.
	ErrPoolDestroyed = errors.New("connection pool destroyed")
	// ErrInvalidPeerID is returned for an empty peer identifier.
	ErrInvalidPeerID = errors.New("peer ID cannot be empty")
	// ErrNilFactory is returned when AcquireConnection gets no factory.
	ErrNilFactory = errors.New("connection factory cannot be nil")
)
