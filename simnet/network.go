package simnet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerlink/interfaces"
)

var (
	// ErrUnknownNode is returned when dialing or sending to a node that is
	// not part of the network.
	ErrUnknownNode = errors.New("unknown node")
	// ErrUnreachable is returned when the link between two nodes is down.
	ErrUnreachable = errors.New("node unreachable")
	// ErrOffline is returned when either end is offline.
	ErrOffline = errors.New("node offline")
	// ErrNotConnected is returned when sending without a connection.
	ErrNotConnected = errors.New("not connected")
)

// DeliveryRecord represents a message send for test verification.
type DeliveryRecord struct {
	From      string
	To        string
	Type      string
	Size      int
	Timestamp time.Time
	Success   bool
	Error     error
}

type linkKey struct{ a, b string }

func keyFor(a, b string) linkKey {
	if a > b {
		a, b = b, a
	}
	return linkKey{a: a, b: b}
}

type linkState struct {
	down    bool
	latency time.Duration
}

// Option configures a Network.
type Option func(*Network)

// WithClock sets the clock used for latency and timestamps.
func WithClock(c clock.Clock) Option {
	return func(n *Network) {
		if c != nil {
			n.clock = c
		}
	}
}

// Network is a set of simulated nodes and the links between them. All
// links are up with zero latency until configured otherwise.
type Network struct {
	clock  clock.Clock
	logger *logrus.Entry

	mu          sync.RWMutex
	nodes       map[string]*Node
	links       map[linkKey]*linkState
	deliveryLog []DeliveryRecord
}

// NewNetwork creates an empty network.
func NewNetwork(opts ...Option) *Network {
	n := &Network{
		clock:  clock.New(),
		logger: logrus.WithField("component", "simnet"),
		nodes:  make(map[string]*Node),
		links:  make(map[linkKey]*linkState),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// AddNode adds a node, or returns the existing node with that ID.
func (n *Network) AddNode(id string) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()

	if node, ok := n.nodes[id]; ok {
		return node
	}
	node := newNode(id, n)
	n.nodes[id] = node

	n.logger.WithFields(logrus.Fields{
		"function":    "AddNode",
		"node_id":     id,
		"total_nodes": len(n.nodes),
	}).Debug("Node added to simulation")
	return node
}

// Node returns the node with the given ID.
func (n *Network) Node(id string) (*Node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.nodes[id]
	return node, ok
}

// NodeIDs returns the IDs of all nodes in sorted order.
func (n *Network) NodeIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.nodes))
	for id := range n.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (n *Network) link(a, b string) *linkState {
	key := keyFor(a, b)
	l, ok := n.links[key]
	if !ok {
		l = &linkState{}
		n.links[key] = l
	}
	return l
}

// SetLinkUp raises or cuts the link between a and b. Cutting a link
// disconnects the two nodes if they are connected.
func (n *Network) SetLinkUp(a, b string, up bool) {
	n.mu.Lock()
	n.link(a, b).down = !up
	nodeA, okA := n.nodes[a]
	nodeB, okB := n.nodes[b]
	n.mu.Unlock()

	n.logger.WithFields(logrus.Fields{
		"function": "SetLinkUp",
		"a":        a,
		"b":        b,
		"up":       up,
	}).Info("Link state changed")

	if !up && okA && okB {
		nodeA.disconnect(b)
		nodeB.disconnect(a)
	}
}

// SetLatency sets the one-way delay applied to dials and messages between
// a and b.
func (n *Network) SetLatency(a, b string, d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.link(a, b).latency = d
}

// SetOnline takes a node's local network up or down. Going offline drops
// all of the node's connections.
func (n *Network) SetOnline(id string, online bool) error {
	node, ok := n.Node(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	peers := node.setOnline(online)
	if !online {
		for _, peerID := range peers {
			if peer, ok := n.Node(peerID); ok {
				peer.disconnect(id)
			}
		}
	}
	return nil
}

// route checks that from can reach to and returns the link latency.
func (n *Network) route(from, to string) (*Node, time.Duration, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	src, ok := n.nodes[from]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownNode, from)
	}
	dst, ok := n.nodes[to]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownNode, to)
	}
	if !src.isOnline() || !dst.isOnline() {
		return nil, 0, fmt.Errorf("%w: %s -> %s", ErrOffline, from, to)
	}
	var latency time.Duration
	if l, ok := n.links[keyFor(from, to)]; ok {
		if l.down {
			return nil, 0, fmt.Errorf("%w: %s -> %s", ErrUnreachable, from, to)
		}
		latency = l.latency
	}
	return dst, latency, nil
}

// wait blocks for the link latency or until ctx is done.
func (n *Network) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := n.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Network) record(rec DeliveryRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	rec.Timestamp = n.clock.Now()
	n.deliveryLog = append(n.deliveryLog, rec)
}

// Deliveries returns a copy of the delivery log.
func (n *Network) Deliveries() []DeliveryRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]DeliveryRecord, len(n.deliveryLog))
	copy(out, n.deliveryLog)
	return out
}

// ClearDeliveries empties the delivery log.
func (n *Network) ClearDeliveries() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveryLog = n.deliveryLog[:0]
}

var _ interfaces.Runtime = (*Node)(nil)
