package peerlink

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/opd-ai/peerlink/config"
	"github.com/opd-ai/peerlink/health"
	"github.com/opd-ai/peerlink/interfaces"
	"github.com/opd-ai/peerlink/nat"
	"github.com/opd-ai/peerlink/pool"
	"github.com/opd-ai/peerlink/transport"
)

var (
	// ErrNilRuntime is returned by New without a runtime.
	ErrNilRuntime = errors.New("runtime is required")
	// ErrClosed is returned when using a Node after Close.
	ErrClosed = errors.New("node closed")
)

// Option configures a Node.
type Option func(*options)

type options struct {
	clock         clock.Clock
	querier       nat.Querier
	localIP       func() net.IP
	probe         transport.Probe
	poolMetrics   *pool.Metrics
	healthMetrics *health.Metrics
	watchNetwork  bool
	networkProbe  func() bool
	watchInterval time.Duration
}

// WithClock sets the clock shared by every subsystem.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithSTUNQuerier replaces the UDP STUN client used for NAT detection.
func WithSTUNQuerier(q nat.Querier) Option {
	return func(o *options) { o.querier = q }
}

// WithLocalIP overrides local interface address resolution.
func WithLocalIP(fn func() net.IP) Option {
	return func(o *options) { o.localIP = fn }
}

// WithWebRTCProbe replaces the WebRTC capability probe.
func WithWebRTCProbe(probe transport.Probe) Option {
	return func(o *options) { o.probe = probe }
}

// WithPrometheus registers pool and health metrics under namespace with
// reg. Nodes sharing a registerer need distinct namespaces; a nil reg uses
// the default registerer.
func WithPrometheus(namespace string, reg prometheus.Registerer) Option {
	return func(o *options) {
		o.poolMetrics = pool.PrometheusMetrics(namespace, reg)
		o.healthMetrics = health.PrometheusMetrics(namespace, reg)
	}
}

// WithNetworkWatcher polls the host network every interval and feeds
// online/offline transitions to the health manager. A nil probe checks for
// an external IPv4 address.
func WithNetworkWatcher(probe func() bool, interval time.Duration) Option {
	return func(o *options) {
		o.watchNetwork = true
		o.networkProbe = probe
		o.watchInterval = interval
	}
}

// Node wires NAT detection, transport selection, the connection pool and
// health tracking to a P2P runtime.
type Node struct {
	cfg    *config.Config
	rt     interfaces.Runtime
	logger *logrus.Entry

	detector *nat.Detector
	selector *transport.Selector
	pool     *pool.Pool
	health   *health.Manager
	watcher  *health.Watcher

	mu         sync.RWMutex
	natInfo    *nat.NATInfo
	plan       transport.Plan
	iceServers []webrtc.ICEServer
	started    bool
	closed     bool
}

// New validates cfg and builds a Node on top of rt. A nil cfg uses
// config.Default.
func New(cfg *config.Config, rt interfaces.Runtime, opts ...Option) (*Node, error) {
	if rt == nil {
		return nil, ErrNilRuntime
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	natOpts := []nat.Option{
		nat.WithClock(o.clock),
		nat.WithCacheTTL(cfg.NAT.CacheTTL),
		// Two queries plus slack.
		nat.WithDetectTimeout(3 * cfg.NAT.QueryTimeout),
	}
	if o.querier != nil {
		natOpts = append(natOpts, nat.WithQuerier(o.querier))
	} else {
		client := nat.NewSTUNClient()
		client.SetTimeout(cfg.NAT.QueryTimeout)
		natOpts = append(natOpts, nat.WithQuerier(client))
	}
	if o.localIP != nil {
		natOpts = append(natOpts, nat.WithLocalIP(o.localIP))
	}

	n := &Node{
		cfg:      cfg,
		rt:       rt,
		logger:   logrus.WithField("component", "Node"),
		detector: nat.NewDetector(natOpts...),
		selector: transport.NewSelector(o.probe),
	}
	n.plan = n.selector.BuildPlan(cfg.TransportConfig(), nil)

	n.pool = pool.New(cfg.PoolConfig(), pool.WithClock(o.clock), pool.WithMetrics(o.poolMetrics))
	n.health = health.NewManager(cfg.HealthConfig(), rt,
		health.WithClock(o.clock),
		health.WithMetrics(o.healthMetrics),
		health.WithDialer(n.redial),
	)
	if o.watchNetwork {
		watcherOpts := []health.WatcherOption{health.WithWatcherClock(o.clock), health.WithPollInterval(o.watchInterval)}
		if o.networkProbe != nil {
			watcherOpts = append(watcherOpts, health.WithProbe(o.networkProbe))
		}
		n.watcher = health.NewWatcher(n.health, watcherOpts...)
	}

	n.detector.OnChange(func(info nat.NATInfo) {
		n.applyPlan(&info)
	})
	n.health.OnEvent(n.handleHealthEvent)
	n.pool.OnClosing(n.handlePoolClosing)

	return n, nil
}

// Start runs the initial NAT detection, applies the resulting transport
// plan and starts the pool, health and re-detection loops. Calling Start
// more than once has no effect.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = true
	n.mu.Unlock()

	info := n.detector.Detect(ctx, n.cfg.STUN.Servers)
	if info.Failed() {
		// OnChange only fires for successful detections.
		n.applyPlan(&info)
	}

	if err := n.pool.Initialize(); err != nil {
		return err
	}
	if err := n.health.Start(ctx); err != nil {
		return multierr.Append(err, n.pool.Destroy())
	}
	n.detector.Start(ctx, n.cfg.STUN.Servers, n.cfg.NAT.DetectionInterval)
	if n.watcher != nil {
		n.watcher.Start(ctx)
	}

	n.logger.WithFields(logrus.Fields{
		"function": "Start",
		"nat_type": info.Type.String(),
		"plan":     n.Plan().String(),
	}).Info("Node started")
	return nil
}

// applyPlan rebuilds the transport plan for info and hands it to the
// runtime when the runtime accepts plans.
func (n *Node) applyPlan(info *nat.NATInfo) {
	plan := n.selector.BuildPlan(n.cfg.TransportConfig(), info)
	ice := transport.BuildICEServers(n.cfg.STUN.Servers, n.cfg.TURN.Servers)

	n.mu.Lock()
	stored := *info
	n.natInfo = &stored
	n.plan = plan
	n.iceServers = ice
	n.mu.Unlock()

	consumer, ok := n.rt.(transport.PlanConsumer)
	if !ok {
		return
	}
	if err := consumer.ApplyTransportPlan(plan, ice); err != nil {
		n.logger.WithFields(logrus.Fields{
			"function": "applyPlan",
			"plan":     plan.String(),
			"error":    err.Error(),
		}).Warn("Runtime rejected transport plan")
	}
}

// redial is the health manager's reconnect primitive. It replaces any
// stale pooled connection with a fresh one and leaves it idle. It never
// evicts another peer's connection; a full pool fails with pool.ErrPoolFull.
func (n *Node) redial(ctx context.Context, peerID string) (interfaces.Handle, error) {
	n.pool.CloseConnection(peerID)
	handle, err := n.pool.TryAcquireConnection(ctx, peerID, n.rt.Dial)
	if err != nil {
		return nil, err
	}
	n.pool.ReleaseConnection(peerID)
	return handle, nil
}

func (n *Node) handleHealthEvent(ev health.Event) {
	switch ev.Type {
	case health.EventPeerDisconnected, health.EventReconnectFailed:
		if n.pool.CloseConnection(ev.PeerID) {
			n.logger.WithFields(logrus.Fields{
				"function": "handleHealthEvent",
				"peer_id":  ev.PeerID,
				"event":    string(ev.Type),
			}).Debug("Closed pooled connection of lost peer")
		}
	}
}

// handlePoolClosing stops health tracking for peers the pool drops on its
// own. It runs before the handle closes, so the runtime's disconnect for
// that peer is ignored rather than scheduling a reconnect.
func (n *Node) handlePoolClosing(peerID string, reason pool.CloseReason) {
	if !reason.Retired() {
		return
	}
	if n.health.RemovePeer(peerID) {
		n.logger.WithFields(logrus.Fields{
			"function": "handlePoolClosing",
			"peer_id":  peerID,
			"reason":   string(reason),
		}).Debug("Stopped tracking peer retired by pool")
	}
}

// Acquire returns a pooled connection to peerID, dialing through the
// runtime when none is idle. The connection stays active until Release.
func (n *Node) Acquire(ctx context.Context, peerID string) (interfaces.Handle, error) {
	return n.pool.AcquireConnection(ctx, peerID, n.rt.Dial)
}

// Release returns the connection to peerID to the idle set.
func (n *Node) Release(peerID string) {
	n.pool.ReleaseConnection(peerID)
}

// CloseConnection closes the pooled connection to peerID and stops health
// tracking for it, so the close is not followed by a reconnect.
func (n *Node) CloseConnection(peerID string) bool {
	n.health.RemovePeer(peerID)
	return n.pool.CloseConnection(peerID)
}

// Send delivers msg through the runtime. Failures count against the
// peer's pooled connection.
func (n *Node) Send(ctx context.Context, peerID string, msg interfaces.Message) error {
	if err := n.rt.Send(ctx, peerID, msg); err != nil {
		n.pool.RecordError(peerID, err)
		return err
	}
	return nil
}

// RedetectNAT drops the cached NAT result and classifies again. The plan
// is rebuilt when the NAT type changed.
func (n *Node) RedetectNAT(ctx context.Context) nat.NATInfo {
	n.detector.Invalidate()
	return n.detector.Detect(ctx, n.cfg.STUN.Servers)
}

// NATInfo returns the most recent detection result, or nil before Start.
func (n *Node) NATInfo() *nat.NATInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.natInfo == nil {
		return nil
	}
	info := *n.natInfo
	return &info
}

// Plan returns the active transport plan.
func (n *Node) Plan() transport.Plan {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return transport.Plan{Transports: append([]transport.Kind(nil), n.plan.Transports...), NATType: n.plan.NATType}
}

// ICEServers returns the ICE server list that accompanies the plan.
func (n *Node) ICEServers() []webrtc.ICEServer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]webrtc.ICEServer(nil), n.iceServers...)
}

// Pool returns the connection pool.
func (n *Node) Pool() *pool.Pool {
	return n.pool
}

// Health returns the health manager.
func (n *Node) Health() *health.Manager {
	return n.health
}

// Close stops every loop and destroys the pool. It is safe to call more
// than once.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	if n.watcher != nil {
		n.watcher.Stop()
	}
	n.detector.Stop()
	n.health.Stop()

	err := n.pool.Destroy()
	n.logger.WithField("function", "Close").Info("Node closed")
	return err
}
