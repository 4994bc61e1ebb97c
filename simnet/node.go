package simnet

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerlink/interfaces"
)

const subscriptionBuffer = 256

// Node is a simulated peer. It implements interfaces.Runtime.
type Node struct {
	id     string
	net    *Network
	logger *logrus.Entry

	mu       sync.Mutex
	online   bool
	autoPong bool

	// connected counts open handles per peer. epoch advances when a peer is
	// forcibly disconnected, so handles from before the cut do not release
	// later connections.
	connected map[string]int
	epoch     map[string]uint64
	msgSubs   map[int]chan interfaces.Message
	eventSubs map[int]chan interfaces.PeerEvent
	nextSub   int
}

func newNode(id string, net *Network) *Node {
	return &Node{
		id:        id,
		net:       net,
		logger:    net.logger.WithField("node_id", id),
		online:    true,
		connected: make(map[string]int),
		epoch:     make(map[string]uint64),
		msgSubs:   make(map[int]chan interfaces.Message),
		eventSubs: make(map[int]chan interfaces.PeerEvent),
	}
}

// ID returns the node's peer ID.
func (nd *Node) ID() string {
	return nd.id
}

// SetAutoPong makes the node answer pings itself instead of delivering them
// to subscribers.
func (nd *Node) SetAutoPong(enabled bool) {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	nd.autoPong = enabled
}

// Dial opens a handle to peerID after the link latency. Both ends receive
// a peer-connected event when their first handle to each other opens.
func (nd *Node) Dial(ctx context.Context, peerID string) (interfaces.Handle, error) {
	dst, latency, err := nd.net.route(nd.id, peerID)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", peerID, err)
	}
	if err := nd.net.wait(ctx, latency); err != nil {
		return nil, fmt.Errorf("dial %s: %w", peerID, err)
	}

	localEpoch := nd.markConnected(peerID)
	remoteEpoch := dst.markConnected(nd.id)

	nd.logger.WithFields(logrus.Fields{
		"function": "Dial",
		"peer_id":  peerID,
	}).Debug("Simulated connection established")
	return &Conn{local: nd, remote: dst, localEpoch: localEpoch, remoteEpoch: remoteEpoch}, nil
}

// Send delivers msg to a connected peer after the link latency.
func (nd *Node) Send(ctx context.Context, peerID string, msg interfaces.Message) error {
	dst, latency, err := nd.net.route(nd.id, peerID)
	if err == nil && !nd.IsConnected(peerID) {
		err = fmt.Errorf("%w: %s -> %s", ErrNotConnected, nd.id, peerID)
	}

	rec := DeliveryRecord{From: nd.id, To: peerID, Type: msg.Type, Size: len(msg.Payload), Success: err == nil, Error: err}
	nd.net.record(rec)
	if err != nil {
		return fmt.Errorf("send to %s: %w", peerID, err)
	}

	msg.From = nd.id
	if msg.Timestamp.IsZero() {
		msg.Timestamp = nd.net.clock.Now()
	}
	if latency <= 0 {
		dst.deliver(msg)
		return nil
	}
	go func() {
		if err := nd.net.wait(context.Background(), latency); err == nil {
			dst.deliver(msg)
		}
	}()
	return nil
}

// deliver hands an inbound message to subscribers, or answers it directly
// when auto-pong is enabled and the message is a ping.
func (nd *Node) deliver(msg interfaces.Message) {
	nd.mu.Lock()
	if nd.autoPong && msg.Type == interfaces.MessageTypePing {
		nd.mu.Unlock()
		pong := interfaces.Message{Type: interfaces.MessageTypePong, Payload: msg.Payload}
		if err := nd.Send(context.Background(), msg.From, pong); err != nil {
			nd.logger.WithError(err).WithField("function", "deliver").Debug("Auto-pong failed")
		}
		return
	}
	for _, ch := range nd.msgSubs {
		select {
		case ch <- msg:
		default:
			nd.logger.WithField("function", "deliver").Warn("Message subscriber full, dropping message")
		}
	}
	nd.mu.Unlock()
}

func (nd *Node) publishLocked(ev interfaces.PeerEvent) {
	for _, ch := range nd.eventSubs {
		select {
		case ch <- ev:
		default:
			nd.logger.WithField("function", "publish").Warn("Event subscriber full, dropping event")
		}
	}
}

// markConnected adds a handle to peerID and returns the current epoch.
func (nd *Node) markConnected(peerID string) uint64 {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	nd.connected[peerID]++
	if nd.connected[peerID] == 1 {
		nd.publishLocked(interfaces.PeerEvent{Type: interfaces.PeerConnected, PeerID: peerID})
	}
	return nd.epoch[peerID]
}

// release drops one handle opened in epoch. The last handle disconnects.
func (nd *Node) release(peerID string, epoch uint64) {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	if nd.epoch[peerID] != epoch || nd.connected[peerID] == 0 {
		return
	}
	nd.connected[peerID]--
	if nd.connected[peerID] == 0 {
		delete(nd.connected, peerID)
		nd.publishLocked(interfaces.PeerEvent{Type: interfaces.PeerDisconnected, PeerID: peerID})
	}
}

// disconnect drops every handle to peerID.
func (nd *Node) disconnect(peerID string) {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	nd.disconnectLocked(peerID)
}

func (nd *Node) disconnectLocked(peerID string) {
	if nd.connected[peerID] == 0 {
		return
	}
	delete(nd.connected, peerID)
	nd.epoch[peerID]++
	nd.publishLocked(interfaces.PeerEvent{Type: interfaces.PeerDisconnected, PeerID: peerID})
}

// setOnline changes the node's network state and returns the peers it was
// connected to when going offline.
func (nd *Node) setOnline(online bool) []string {
	nd.mu.Lock()
	defer nd.mu.Unlock()

	if nd.online == online {
		return nil
	}
	nd.online = online
	if online {
		nd.publishLocked(interfaces.PeerEvent{Type: interfaces.NetworkOnline})
		return nil
	}

	peers := make([]string, 0, len(nd.connected))
	for peerID := range nd.connected {
		peers = append(peers, peerID)
	}
	sort.Strings(peers)
	for _, peerID := range peers {
		nd.disconnectLocked(peerID)
	}
	nd.publishLocked(interfaces.PeerEvent{Type: interfaces.NetworkOffline})
	return peers
}

func (nd *Node) isOnline() bool {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	return nd.online
}

// IsConnected reports whether the node is connected to peerID.
func (nd *Node) IsConnected(peerID string) bool {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	return nd.connected[peerID] > 0
}

// Connected returns the IDs of connected peers in sorted order.
func (nd *Node) Connected() []string {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	peers := make([]string, 0, len(nd.connected))
	for peerID := range nd.connected {
		peers = append(peers, peerID)
	}
	sort.Strings(peers)
	return peers
}

// SubscribeMessages implements interfaces.Messenger.
func (nd *Node) SubscribeMessages() (<-chan interfaces.Message, func()) {
	nd.mu.Lock()
	defer nd.mu.Unlock()

	id := nd.nextSub
	nd.nextSub++
	ch := make(chan interfaces.Message, subscriptionBuffer)
	nd.msgSubs[id] = ch

	return ch, func() {
		nd.mu.Lock()
		defer nd.mu.Unlock()
		if c, ok := nd.msgSubs[id]; ok {
			delete(nd.msgSubs, id)
			close(c)
		}
	}
}

// SubscribePeerEvents implements interfaces.PeerEventSource.
func (nd *Node) SubscribePeerEvents() (<-chan interfaces.PeerEvent, func()) {
	nd.mu.Lock()
	defer nd.mu.Unlock()

	id := nd.nextSub
	nd.nextSub++
	ch := make(chan interfaces.PeerEvent, subscriptionBuffer)
	nd.eventSubs[id] = ch

	return ch, func() {
		nd.mu.Lock()
		defer nd.mu.Unlock()
		if c, ok := nd.eventSubs[id]; ok {
			delete(nd.eventSubs, id)
			close(c)
		}
	}
}

// Conn is a simulated connection handle.
type Conn struct {
	local       *Node
	remote      *Node
	localEpoch  uint64
	remoteEpoch uint64
	once        sync.Once
}

// RemoteID returns the peer at the other end.
func (c *Conn) RemoteID() string {
	return c.remote.id
}

// Close releases the handle on both ends. The nodes disconnect when their
// last handle to each other is closed.
func (c *Conn) Close() error {
	c.once.Do(func() {
		c.local.release(c.remote.id, c.localEpoch)
		c.remote.release(c.local.id, c.remoteEpoch)
	})
	return nil
}
