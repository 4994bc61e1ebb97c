// Package simnet provides an in-memory P2P runtime for tests and demos.
//
// A Network holds named Nodes. Each Node implements interfaces.Runtime:
// dialing another node marks both ends connected and emits peer-connected
// events, messages are delivered to the receiving node's subscribers, and
// closing a connection emits peer-disconnected on both ends.
//
// Links can be cut, delayed or restored, and a node can be taken offline,
// which emits network-offline to that node's subscribers and makes every
// dial and send from it fail:
//
//	net := simnet.NewNetwork()
//	alice := net.AddNode("alice")
//	bob := net.AddNode("bob")
//	bob.SetAutoPong(true)
//
//	net.SetLatency("alice", "bob", 120*time.Millisecond)
//	net.SetLinkUp("alice", "bob", false)
//
// Every send is recorded in the network's delivery log for verification.
//
// This is a simulation. It moves no bytes over any real network.
package simnet
