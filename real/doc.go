// Package real provides network-backed dialers for the transport registry.
//
// An AddressBook maps peer IDs to per-transport endpoints. TCPDialer and
// WebSocketDialer resolve the peer through the book and return handles
// that implement io.Closer, so the connection pool can retire them:
//
//	book := real.NewAddressBook()
//	book.Set("peer-1", transport.KindTCP, "203.0.113.7:33445")
//
//	reg := transport.NewRegistry()
//	real.Register(reg, book, real.DefaultDialConfig())
//
// Dial failures are retried with a short linear backoff before the
// registry moves on to the next transport in the plan.
package real
