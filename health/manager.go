package health

import (
	"context"
	"crypto/rand"
	"encoding/binary"
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
	// ErrPingTimeout is returned when no pong arrives within PingTimeout.
	ErrPingTimeout = errors.New("ping timeout")
	// ErrNotRunning is returned by RunHealthCheck before Start or after Stop.
	ErrNotRunning = errors.New("health manager not running")
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for check intervals, ping timeouts and
// reconnect backoff.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithMetrics sets the metrics sink. The default is NopMetrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithDialer sets the function used for reconnect attempts. The default is
// the runtime's Dial. The returned handle is not retained by the manager.
func WithDialer(dial interfaces.DialFunc) Option {
	return func(m *Manager) {
		if dial != nil {
			m.dial = dial
		}
	}
}

type reconnectState struct {
	attempts  int
	timer     *clock.Timer
	dialing   bool
	exhausted bool
	// connected is set when the runtime reports the peer connected while a
	// reconnect dial is in flight
	connected bool
	// gen invalidates timers and dials started before a cancel
	gen uint64
}

type pongKey struct {
	peerID string
	nonce  uint64
}

// Manager monitors peer liveness and reconnects unhealthy peers.
type Manager struct {
	cfg     Config
	rt      interfaces.Runtime
	dial    interfaces.DialFunc
	clock   clock.Clock
	logger  *logrus.Entry
	metrics *Metrics

	mu         sync.Mutex
	peers      map[string]*PeerHealth
	reconnects map[string]*reconnectState
	listeners  []func(Event)
	online     bool
	running    bool
	ctx        context.Context
	cancel     context.CancelFunc

	pongMu  sync.Mutex
	pending map[pongKey]chan struct{}

	loops  sync.WaitGroup
	timers sync.WaitGroup
}

// NewManager creates a health manager on top of rt. rt must not be nil.
func NewManager(cfg Config, rt interfaces.Runtime, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg.withDefaults(),
		rt:         rt,
		dial:       rt.Dial,
		clock:      clock.New(),
		logger:     logrus.WithField("component", "health"),
		metrics:    NopMetrics(),
		peers:      make(map[string]*PeerHealth),
		reconnects: make(map[string]*reconnectState),
		pending:    make(map[pongKey]chan struct{}),
		online:     true,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics.NetworkOnline.Set(1)
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Start subscribes to runtime events and messages and starts the periodic
// health check. It is a no-op if the manager is already running.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	runCtx := m.ctx
	m.mu.Unlock()

	events, unsubscribeEvents := m.rt.SubscribePeerEvents()
	messages, unsubscribeMessages := m.rt.SubscribeMessages()

	m.loops.Add(3)
	go m.eventLoop(runCtx, events, unsubscribeEvents)
	go m.messageLoop(runCtx, messages, unsubscribeMessages)
	go m.checkLoop(runCtx)

	m.logger.WithFields(logrus.Fields{
		"function":       "Start",
		"check_interval": m.cfg.CheckInterval,
		"ping_timeout":   m.cfg.PingTimeout,
	}).Info("Health manager started")
	return nil
}

// Stop cancels the check loop and every pending reconnect, and waits for
// in-flight reconnect attempts to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	for _, rs := range m.reconnects {
		m.stopTimerLocked(rs)
	}
	m.mu.Unlock()

	m.loops.Wait()
	m.timers.Wait()
	m.logger.WithField("function", "Stop").Info("Health manager stopped")
}

// OnEvent registers a callback for health events. Callbacks run
// synchronously outside the manager lock.
func (m *Manager) OnEvent(fn func(Event)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Manager) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	m.mu.Lock()
	listeners := make([]func(Event), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

func (m *Manager) eventLoop(ctx context.Context, events <-chan interfaces.PeerEvent, unsubscribe func()) {
	defer m.loops.Done()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.HandlePeerEvent(ev)
		}
	}
}

func (m *Manager) messageLoop(ctx context.Context, messages <-chan interfaces.Message, unsubscribe func()) {
	defer m.loops.Done()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			m.handleMessage(ctx, msg)
		}
	}
}

func (m *Manager) checkLoop(ctx context.Context) {
	defer m.loops.Done()

	ticker := m.clock.Ticker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunHealthCheck(ctx); err != nil && ctx.Err() == nil {
				m.logger.WithError(err).WithField("function", "checkLoop").Warn("Health check cycle failed")
			}
		}
	}
}

// HandlePeerEvent applies a runtime peer or network event.
func (m *Manager) HandlePeerEvent(ev interfaces.PeerEvent) {
	switch ev.Type {
	case interfaces.PeerConnected:
		m.markConnected(ev.PeerID)
	case interfaces.PeerDisconnected:
		m.markDisconnected(ev.PeerID)
	case interfaces.PeerError:
		m.recordFailure(ev.PeerID, ev.Err)
	case interfaces.NetworkOffline:
		m.SetNetworkOnline(false)
	case interfaces.NetworkOnline:
		m.SetNetworkOnline(true)
	default:
		m.logger.WithFields(logrus.Fields{
			"function": "HandlePeerEvent",
			"type":     ev.Type,
		}).Debug("Ignoring unknown peer event")
	}
}

func (m *Manager) handleMessage(ctx context.Context, msg interfaces.Message) {
	switch msg.Type {
	case interfaces.MessageTypePing:
		sendCtx, cancel := context.WithTimeout(ctx, m.cfg.PingTimeout)
		defer cancel()
		pong := interfaces.Message{
			Type:      interfaces.MessageTypePong,
			Payload:   msg.Payload,
			Timestamp: m.clock.Now(),
		}
		if err := m.rt.Send(sendCtx, msg.From, pong); err != nil {
			m.logger.WithFields(logrus.Fields{
				"function": "handleMessage",
				"peer_id":  msg.From,
			}).WithError(err).Debug("Failed to answer ping")
		}
	case interfaces.MessageTypePong:
		if len(msg.Payload) != 8 {
			return
		}
		key := pongKey{peerID: msg.From, nonce: binary.BigEndian.Uint64(msg.Payload)}
		m.pongMu.Lock()
		ch, ok := m.pending[key]
		m.pongMu.Unlock()
		if ok {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

func (m *Manager) markConnected(peerID string) {
	if peerID == "" {
		return
	}

	m.mu.Lock()
	rec, ok := m.peers[peerID]
	if !ok {
		rec = &PeerHealth{PeerID: peerID, Quality: QualityExcellent}
		m.peers[peerID] = rec
	}
	wasHealthy := ok && rec.Status == StatusHealthy
	rec.Status = StatusHealthy
	rec.ConsecutiveFailures = 0
	rec.LastSeen = m.clock.Now()
	if rs, found := m.reconnects[peerID]; found && rs.dialing {
		// The connect is most likely the dial's own; let it report.
		rs.connected = true
	} else {
		m.cancelReconnectLocked(peerID)
	}
	m.updateGaugesLocked()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"function": "markConnected",
		"peer_id":  peerID,
		"new":      !ok,
	}).Debug("Peer connected")
	if !wasHealthy {
		m.emit(Event{Type: EventPeerHealthy, PeerID: peerID, Status: StatusHealthy})
	}
}

func (m *Manager) markDisconnected(peerID string) {
	m.mu.Lock()
	rec, ok := m.peers[peerID]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec.Status = StatusDisconnected
	events := []Event{{Type: EventPeerDisconnected, PeerID: peerID, Status: StatusDisconnected}}
	events = append(events, m.triggerReconnectLocked(peerID)...)
	m.updateGaugesLocked()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"function": "markDisconnected",
		"peer_id":  peerID,
	}).Info("Peer disconnected")
	m.emit(events...)
}

// recordFailure counts a failed ping or runtime error against a reachable
// peer.
func (m *Manager) recordFailure(peerID string, err error) {
	m.mu.Lock()
	rec, ok := m.peers[peerID]
	if !ok || (rec.Status != StatusHealthy && rec.Status != StatusUnhealthy) {
		m.mu.Unlock()
		return
	}
	rec.ConsecutiveFailures++
	rec.Status = StatusUnhealthy
	failures := rec.ConsecutiveFailures

	var events []Event
	if failures >= FailureThreshold {
		events = m.triggerReconnectLocked(peerID)
	}
	m.updateGaugesLocked()
	m.mu.Unlock()

	m.metrics.PingFailures.Add(1)
	m.logger.WithFields(logrus.Fields{
		"function":             "recordFailure",
		"peer_id":              peerID,
		"consecutive_failures": failures,
	}).WithError(err).Warn("Peer health check failed")
	m.emit(events...)
}

func (m *Manager) recordSuccess(peerID string, rtt time.Duration) {
	latencyMs := float64(rtt) / float64(time.Millisecond)

	m.mu.Lock()
	rec, ok := m.peers[peerID]
	if !ok || (rec.Status != StatusHealthy && rec.Status != StatusUnhealthy) {
		m.mu.Unlock()
		return
	}
	var events []Event
	if rec.Status != StatusHealthy {
		m.cancelReconnectLocked(peerID)
		events = append(events, Event{Type: EventPeerHealthy, PeerID: peerID, Status: StatusHealthy, LatencyMs: latencyMs})
	}
	rec.Status = StatusHealthy
	rec.ConsecutiveFailures = 0
	rec.LastSeen = m.clock.Now()
	rec.LatencyMs = latencyMs

	quality := ClassifyLatency(latencyMs)
	if quality != rec.Quality {
		rec.PreviousQuality = rec.Quality
		rec.Quality = quality
		events = append(events, Event{
			Type:            EventQualityChanged,
			PeerID:          peerID,
			Status:          StatusHealthy,
			Quality:         quality,
			PreviousQuality: rec.PreviousQuality,
			LatencyMs:       latencyMs,
		})
	}
	m.updateGaugesLocked()
	m.mu.Unlock()

	m.metrics.PingLatency.Observe(rtt.Seconds())
	m.emit(events...)
}

// triggerReconnectLocked schedules a reconnect for peerID unless one is
// already pending, reconnection is suppressed, or attempts are exhausted.
// m.mu must be held.
func (m *Manager) triggerReconnectLocked(peerID string) []Event {
	if !m.online || !m.running {
		return nil
	}
	rs, ok := m.reconnects[peerID]
	if !ok {
		rs = &reconnectState{}
		m.reconnects[peerID] = rs
	}
	if rs.timer != nil || rs.dialing || rs.exhausted {
		return nil
	}

	logger := m.logger.WithFields(logrus.Fields{
		"function": "triggerReconnect",
		"peer_id":  peerID,
		"attempts": rs.attempts,
	})

	if rs.attempts >= m.cfg.MaxReconnectAttempts {
		rs.exhausted = true
		m.metrics.ReconnectFailures.Add(1)
		logger.Error("Reconnection attempts exhausted")
		return []Event{{Type: EventReconnectFailed, PeerID: peerID, Attempt: rs.attempts}}
	}

	delay := ReconnectDelay(m.cfg, rs.attempts)
	gen := rs.gen
	m.timers.Add(1)
	rs.timer = m.clock.AfterFunc(delay, func() {
		defer m.timers.Done()
		m.reconnect(peerID, rs, gen)
	})

	logger.WithField("delay", delay).Info("Reconnect scheduled")
	return []Event{{Type: EventReconnectScheduled, PeerID: peerID, Attempt: rs.attempts, Delay: delay}}
}

// reconnect runs when a reconnect timer fires.
func (m *Manager) reconnect(peerID string, rs *reconnectState, gen uint64) {
	m.mu.Lock()
	if !m.running || m.reconnects[peerID] != rs || rs.gen != gen {
		m.mu.Unlock()
		return
	}
	rs.timer = nil
	rs.dialing = true
	attempt := rs.attempts + 1
	ctx := m.ctx
	m.mu.Unlock()

	m.metrics.ReconnectAttempts.Add(1)
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	_, err := m.dial(dialCtx, peerID)
	cancel()

	logger := m.logger.WithFields(logrus.Fields{
		"function": "reconnect",
		"peer_id":  peerID,
		"attempt":  attempt,
	})

	m.mu.Lock()
	rs.dialing = false
	connected := rs.connected
	rs.connected = false
	if m.reconnects[peerID] != rs || rs.gen != gen {
		m.mu.Unlock()
		return
	}

	var events []Event
	if err != nil && connected {
		// The dial failed but the peer came back through another path.
		rs.attempts = 0
		rs.exhausted = false
		m.updateGaugesLocked()
		m.mu.Unlock()
		logger.WithError(err).Debug("Reconnect dial failed but peer is connected")
		return
	}
	if err == nil {
		rs.attempts = 0
		if rec, ok := m.peers[peerID]; ok {
			rec.Status = StatusHealthy
			rec.ConsecutiveFailures = 0
			rec.LastSeen = m.clock.Now()
		}
		events = append(events, Event{Type: EventReconnectSuccess, PeerID: peerID, Status: StatusHealthy, Attempt: attempt})
	} else {
		rs.attempts++
		events = append(events, Event{Type: EventReconnectAttemptFailed, PeerID: peerID, Attempt: rs.attempts, Err: err})
		events = append(events, m.triggerReconnectLocked(peerID)...)
	}
	m.updateGaugesLocked()
	m.mu.Unlock()

	if err == nil {
		m.metrics.ReconnectSuccesses.Add(1)
		logger.Info("Reconnected to peer")
	} else {
		logger.WithError(err).Warn("Reconnect attempt failed")
	}
	m.emit(events...)
}

// stopTimerLocked cancels a pending timer and invalidates in-flight dials.
func (m *Manager) stopTimerLocked(rs *reconnectState) {
	rs.gen++
	if rs.timer != nil {
		if rs.timer.Stop() {
			m.timers.Done()
		}
		rs.timer = nil
	}
}

// cancelReconnectLocked drops any pending reconnect for peerID and resets
// its attempt counter.
func (m *Manager) cancelReconnectLocked(peerID string) {
	rs, ok := m.reconnects[peerID]
	if !ok {
		return
	}
	m.stopTimerLocked(rs)
	rs.dialing = false
	rs.attempts = 0
	rs.exhausted = false
}

// SetNetworkOnline records a local network transition. Going offline marks
// every peer network-lost and suppresses reconnection; coming back online
// reconnects every peer that is disconnected, unhealthy or network-lost.
func (m *Manager) SetNetworkOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online

	var events []Event
	if !online {
		for _, rec := range m.peers {
			rec.Status = StatusNetworkLost
		}
		for _, rs := range m.reconnects {
			m.stopTimerLocked(rs)
			rs.dialing = false
		}
		events = append(events, Event{Type: EventNetworkLost})
	} else {
		events = append(events, Event{Type: EventNetworkRestored})
		for _, peerID := range m.sortedPeerIDsLocked() {
			switch m.peers[peerID].Status {
			case StatusDisconnected, StatusUnhealthy, StatusNetworkLost:
				if rs, ok := m.reconnects[peerID]; ok {
					rs.attempts = 0
					rs.exhausted = false
				}
				events = append(events, m.triggerReconnectLocked(peerID)...)
			}
		}
	}
	m.updateGaugesLocked()
	m.mu.Unlock()

	if online {
		m.metrics.NetworkOnline.Set(1)
		m.logger.WithField("function", "SetNetworkOnline").Info("Network restored")
	} else {
		m.metrics.NetworkOnline.Set(0)
		m.logger.WithField("function", "SetNetworkOnline").Warn("Network lost")
	}
	m.emit(events...)
}

// RunHealthCheck pings every healthy or unhealthy peer once and applies the
// results. Disconnected and network-lost peers are skipped, as is the whole
// cycle while the network is offline.
func (m *Manager) RunHealthCheck(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	if !m.online {
		m.mu.Unlock()
		return nil
	}
	var targets []string
	for _, peerID := range m.sortedPeerIDsLocked() {
		switch m.peers[peerID].Status {
		case StatusHealthy, StatusUnhealthy:
			targets = append(targets, peerID)
		}
	}
	m.mu.Unlock()

	err := m.pingAll(ctx, targets)
	m.logger.WithFields(logrus.Fields{
		"function": "RunHealthCheck",
		"peers":    len(targets),
	}).Debug("Health check cycle complete")
	return err
}

// ping sends one ping to peerID and waits for the matching pong.
func (m *Manager) ping(ctx context.Context, peerID string) (time.Duration, error) {
	var payload [8]byte
	if _, err := rand.Read(payload[:]); err != nil {
		return 0, fmt.Errorf("generate ping nonce: %w", err)
	}
	key := pongKey{peerID: peerID, nonce: binary.BigEndian.Uint64(payload[:])}
	received := make(chan struct{}, 1)

	m.pongMu.Lock()
	m.pending[key] = received
	m.pongMu.Unlock()
	defer func() {
		m.pongMu.Lock()
		delete(m.pending, key)
		m.pongMu.Unlock()
	}()

	start := m.clock.Now()
	timer := m.clock.Timer(m.cfg.PingTimeout)
	defer timer.Stop()

	msg := interfaces.Message{Type: interfaces.MessageTypePing, Payload: payload[:], Timestamp: start}
	if err := m.rt.Send(ctx, peerID, msg); err != nil {
		return 0, fmt.Errorf("send ping to %s: %w", peerID, err)
	}

	select {
	case <-received:
		return m.clock.Since(start), nil
	case <-timer.C:
		return 0, fmt.Errorf("ping %s after %v: %w", peerID, m.cfg.PingTimeout, ErrPingTimeout)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// RemovePeer drops the peer's record and cancels any pending reconnect.
func (m *Manager) RemovePeer(peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.peers[peerID]
	if rs, found := m.reconnects[peerID]; found {
		m.stopTimerLocked(rs)
		delete(m.reconnects, peerID)
	}
	delete(m.peers, peerID)
	m.updateGaugesLocked()
	return ok
}

// GetPeerHealth returns a copy of the peer's health record.
func (m *Manager) GetPeerHealth(peerID string) (PeerHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.peers[peerID]
	if !ok {
		return PeerHealth{}, false
	}
	return m.snapshotLocked(rec), true
}

// GetAllPeerHealth returns copies of every health record ordered by peer ID.
func (m *Manager) GetAllPeerHealth() []PeerHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PeerHealth, 0, len(m.peers))
	for _, peerID := range m.sortedPeerIDsLocked() {
		out = append(out, m.snapshotLocked(m.peers[peerID]))
	}
	return out
}

// GetNetworkQuality summarizes all peers. Quality is derived from the mean
// latency of healthy peers and is poor when none are healthy.
func (m *Manager) GetNetworkQuality() NetworkQuality {
	m.mu.Lock()
	defer m.mu.Unlock()

	nq := NetworkQuality{Online: m.online, TotalPeers: len(m.peers)}
	var latencySum float64
	for _, rec := range m.peers {
		switch rec.Status {
		case StatusHealthy:
			nq.HealthyPeers++
			latencySum += rec.LatencyMs
		case StatusUnhealthy:
			nq.UnhealthyPeers++
		case StatusDisconnected:
			nq.DisconnectedPeers++
		case StatusNetworkLost:
			nq.NetworkLostPeers++
		}
	}
	if nq.HealthyPeers == 0 {
		nq.Quality = QualityPoor
		return nq
	}
	nq.AverageLatencyMs = latencySum / float64(nq.HealthyPeers)
	nq.Quality = ClassifyLatency(nq.AverageLatencyMs)
	return nq
}

func (m *Manager) snapshotLocked(rec *PeerHealth) PeerHealth {
	out := *rec
	if rs, ok := m.reconnects[rec.PeerID]; ok {
		out.ReconnectAttempts = rs.attempts
		out.ReconnectPending = rs.timer != nil || rs.dialing
	}
	return out
}

func (m *Manager) sortedPeerIDsLocked() []string {
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) updateGaugesLocked() {
	counts := map[Status]int{}
	for _, rec := range m.peers {
		counts[rec.Status]++
	}
	for _, status := range []Status{StatusHealthy, StatusUnhealthy, StatusDisconnected, StatusNetworkLost} {
		m.metrics.Peers.With("status", string(status)).Set(float64(counts[status]))
	}
}
