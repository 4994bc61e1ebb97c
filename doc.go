// Package peerlink is the connectivity layer beneath a peer-to-peer
// messaging application.
//
// A Node ties four subsystems to the application's P2P runtime:
//
//   - nat classifies the local NAT through STUN and re-detects periodically
//   - transport orders the runtime's transports for the detected NAT
//   - pool reuses and bounds connections to peers
//   - health pings peers and reconnects lost ones with exponential backoff
//
// # Getting Started
//
//	cfg, err := config.Load("peerlink.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	node, err := peerlink.New(cfg, runtime)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	conn, err := node.Acquire(ctx, peerID)
//	if err != nil {
//	    return err
//	}
//	defer node.Release(peerID)
//
// The runtime is anything implementing interfaces.Runtime. Runtimes that
// also implement transport.PlanConsumer receive the transport plan and ICE
// server list whenever the NAT type changes. Package simnet provides an
// in-memory runtime for tests.
package peerlink
