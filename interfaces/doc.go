// Package interfaces defines the contracts between the connectivity layer
// and the P2P runtime it manages.
//
// The runtime owns sockets, framing and encryption. The connectivity layer
// only needs to dial peers, exchange small control messages such as health
// pings, and observe connect, disconnect and network events:
//
//	type Runtime interface {
//	    Dialer
//	    Messenger
//	    PeerEventSource
//	}
//
// Connection handles are opaque. A handle that implements io.Closer is
// closed when the pool retires it.
//
// Package simnet provides an in-memory Runtime for tests.
package interfaces
