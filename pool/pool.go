package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/opd-ai/peerlink/interfaces"
	"github.com/opd-ai/peerlink/internal/keylock"
)

// Option configures a Pool.
type Option func(*Pool)

// WithClock sets the clock used for timestamps, timeouts and maintenance.
func WithClock(c clock.Clock) Option {
	return func(p *Pool) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithMetrics sets the metrics sink. The default is NopMetrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

type counters struct {
	created  uint64
	closed   uint64
	errors   uint64
	evicted  uint64
	timeouts uint64
	rejected uint64
	hits     uint64
	misses   uint64
}

// Pool is a bounded, per-peer connection pool.
type Pool struct {
	cfg     Config
	clock   clock.Clock
	logger  *logrus.Entry
	metrics *Metrics

	peerLocks keylock.Locker

	mu          sync.Mutex
	connections map[string]*Connection
	idle        map[string]struct{}
	active      map[string]struct{}
	pending     int
	stats       counters
	listeners   []func(Event)
	closing     []func(peerID string, reason CloseReason)
	destroyed   bool
	initialized bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pool. Unset config fields take their defaults.
func New(cfg Config, opts ...Option) *Pool {
	p := &Pool{
		cfg:         cfg.withDefaults(),
		clock:       clock.New(),
		metrics:     NopMetrics(),
		logger:      logrus.WithField("component", "pool"),
		connections: make(map[string]*Connection),
		idle:        make(map[string]struct{}),
		active:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger.WithFields(logrus.Fields{
		"function":        "New",
		"max_connections": p.cfg.MaxConnections,
		"min_connections": p.cfg.MinConnections,
		"max_idle_time":   p.cfg.MaxIdleTime,
	}).Debug("Connection pool created")
	return p
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

// Initialize starts the health check and cleanup loops. Calling it more
// than once has no effect.
func (p *Pool) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return ErrPoolDestroyed
	}
	if p.initialized {
		return nil
	}
	p.initialized = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(2)
	go p.runEvery(ctx, p.cfg.HealthCheckInterval, func() { p.PerformHealthCheck() })
	go p.runEvery(ctx, p.cfg.CleanupInterval, p.cleanup)

	p.logger.WithFields(logrus.Fields{
		"function":              "Initialize",
		"health_check_interval": p.cfg.HealthCheckInterval,
		"cleanup_interval":      p.cfg.CleanupInterval,
	}).Info("Connection pool maintenance started")
	return nil
}

func (p *Pool) runEvery(ctx context.Context, interval time.Duration, fn func()) {
	defer p.wg.Done()

	ticker := p.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// OnEvent registers a callback for pool events. Callbacks run synchronously
// outside the pool lock.
func (p *Pool) OnEvent(fn func(Event)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// OnClosing registers a callback that runs before a detached connection's
// handle is closed. The connection is no longer tracked when it runs, so
// the callback observes the close ahead of any disconnect the handle's
// runtime reports.
func (p *Pool) OnClosing(fn func(peerID string, reason CloseReason)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.closing = append(p.closing, fn)
	p.mu.Unlock()
}

func (p *Pool) emit(ev Event) {
	p.mu.Lock()
	listeners := make([]func(Event), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// AcquireConnection returns a connection to peerID, reusing a healthy idle
// connection when one exists and otherwise creating one through factory.
// At capacity the least recently used idle connection is evicted first.
// The returned connection is ACTIVE until ReleaseConnection is called.
func (p *Pool) AcquireConnection(ctx context.Context, peerID string, factory interfaces.DialFunc) (interfaces.Handle, error) {
	return p.acquire(ctx, peerID, factory, true)
}

// TryAcquireConnection is AcquireConnection without eviction: at capacity
// it fails with ErrPoolFull and leaves other peers' connections alone.
func (p *Pool) TryAcquireConnection(ctx context.Context, peerID string, factory interfaces.DialFunc) (interfaces.Handle, error) {
	return p.acquire(ctx, peerID, factory, false)
}

func (p *Pool) acquire(ctx context.Context, peerID string, factory interfaces.DialFunc, evict bool) (interfaces.Handle, error) {
	if peerID == "" {
		return nil, ErrInvalidPeerID
	}
	if factory == nil {
		return nil, ErrNilFactory
	}

	p.peerLocks.Lock(peerID)
	defer p.peerLocks.Unlock(peerID)

	logger := p.logger.WithFields(logrus.Fields{
		"function": "AcquireConnection",
		"peer_id":  peerID,
		"evict":    evict,
	})

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, ErrPoolDestroyed
	}

	if conn, ok := p.connections[peerID]; ok {
		if conn.IsHealthy() {
			switch conn.State {
			case StateIdle:
				conn.State = StateActive
				conn.LastActivity = p.clock.Now()
				conn.UsageCount++
				delete(p.idle, peerID)
				p.active[peerID] = struct{}{}
				p.stats.hits++
				p.updateGaugesLocked()
				handle := conn.Handle
				p.mu.Unlock()

				p.metrics.Hits.Add(1)
				logger.WithField("connection_id", conn.ID).Debug("Reusing idle connection")
				return handle, nil
			case StateActive:
				p.mu.Unlock()
				return nil, ErrConnectionBusy
			}
		}

		// Unhealthy connections are replaced.
		p.detachLocked(conn)
		p.mu.Unlock()
		logger.WithFields(logrus.Fields{
			"connection_id": conn.ID,
			"error_count":   conn.ErrorCount,
		}).Info("Replacing unhealthy connection")
		p.finishClose(conn, ReasonUnhealthy)
		p.mu.Lock()
	}

	if p.atCapacityLocked() {
		if evict {
			p.mu.Unlock()
			p.EvictIdleConnections(1)
			p.mu.Lock()
		}
		if p.atCapacityLocked() {
			p.stats.rejected++
			p.mu.Unlock()
			logger.WithField("max_connections", p.cfg.MaxConnections).Warn("Connection pool is full")
			return nil, ErrPoolFull
		}
	}
	p.pending++
	p.mu.Unlock()

	handle, err := p.create(ctx, peerID, factory)

	p.mu.Lock()
	p.pending--
	if err != nil {
		p.stats.errors++
		if errors.Is(err, ErrConnectionTimeout) {
			p.stats.timeouts++
		}
		p.mu.Unlock()

		p.metrics.Errors.Add(1)
		logger.WithError(err).Warn("Failed to create connection")
		p.emit(Event{Type: EventError, PeerID: peerID, Err: err})
		return nil, err
	}
	if p.destroyed {
		p.mu.Unlock()
		closeHandle(handle)
		return nil, ErrPoolDestroyed
	}

	now := p.clock.Now()
	conn := &Connection{
		ID:           uuid.NewString(),
		PeerID:       peerID,
		Handle:       handle,
		State:        StateActive,
		CreatedAt:    now,
		LastActivity: now,
		UsageCount:   1,
	}
	p.connections[peerID] = conn
	p.active[peerID] = struct{}{}
	p.stats.created++
	p.stats.misses++
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.metrics.Created.Add(1)
	p.metrics.Misses.Add(1)
	logger.WithField("connection_id", conn.ID).Info("Created new connection")
	p.emit(Event{Type: EventCreated, PeerID: peerID, ConnectionID: conn.ID, State: StateActive})
	return handle, nil
}

func (p *Pool) atCapacityLocked() bool {
	return len(p.connections)+p.pending >= p.cfg.MaxConnections
}

type createResult struct {
	handle interfaces.Handle
	err    error
}

// create runs factory bounded by ConnectionTimeout. A handle that arrives
// after the timeout is closed.
func (p *Pool) create(ctx context.Context, peerID string, factory interfaces.DialFunc) (interfaces.Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := p.clock.Timer(p.cfg.ConnectionTimeout)
	defer timer.Stop()

	results := make(chan createResult, 1)
	go func() {
		h, err := factory(ctx, peerID)
		results <- createResult{handle: h, err: err}
	}()

	abandon := func() {
		go func() {
			if r := <-results; r.err == nil {
				closeHandle(r.handle)
			}
		}()
	}

	select {
	case r := <-results:
		if r.err != nil {
			return nil, fmt.Errorf("create connection to %s: %w", peerID, r.err)
		}
		return r.handle, nil
	case <-timer.C:
		cancel()
		abandon()
		return nil, fmt.Errorf("create connection to %s after %v: %w", peerID, p.cfg.ConnectionTimeout, ErrConnectionTimeout)
	case <-ctx.Done():
		abandon()
		return nil, fmt.Errorf("create connection to %s: %w", peerID, ctx.Err())
	}
}

// ReleaseConnection returns an ACTIVE connection to the idle set. It is a
// no-op for unknown peers and connections in any other state.
func (p *Pool) ReleaseConnection(peerID string) {
	p.peerLocks.Lock(peerID)
	defer p.peerLocks.Unlock(peerID)

	p.mu.Lock()
	defer p.mu.Unlock()

	conn, ok := p.connections[peerID]
	if !ok || conn.State != StateActive {
		return
	}
	conn.State = StateIdle
	conn.LastActivity = p.clock.Now()
	delete(p.active, peerID)
	p.idle[peerID] = struct{}{}
	p.updateGaugesLocked()

	p.logger.WithFields(logrus.Fields{
		"function":      "ReleaseConnection",
		"peer_id":       peerID,
		"connection_id": conn.ID,
	}).Debug("Connection released")
}

// RecordError counts an error against the peer's connection. At
// MaxConnectionErrors the connection is marked ERROR and will be replaced
// on the next acquire or closed by the next health check.
func (p *Pool) RecordError(peerID string, err error) {
	p.peerLocks.Lock(peerID)
	defer p.peerLocks.Unlock(peerID)

	p.mu.Lock()
	conn, ok := p.connections[peerID]
	if !ok {
		p.mu.Unlock()
		return
	}
	conn.recordError()
	p.stats.errors++
	if conn.State == StateError {
		delete(p.idle, peerID)
		delete(p.active, peerID)
		p.updateGaugesLocked()
	}
	ev := Event{Type: EventError, PeerID: peerID, ConnectionID: conn.ID, State: conn.State, Err: err}
	count := conn.ErrorCount
	p.mu.Unlock()

	p.metrics.Errors.Add(1)
	p.logger.WithFields(logrus.Fields{
		"function":    "RecordError",
		"peer_id":     peerID,
		"error_count": count,
		"state":       ev.State.String(),
	}).WithError(err).Warn("Connection error recorded")
	p.emit(ev)
}

// CloseConnection closes and removes the peer's connection. It reports
// whether a connection was tracked.
func (p *Pool) CloseConnection(peerID string) bool {
	p.peerLocks.Lock(peerID)
	defer p.peerLocks.Unlock(peerID)

	p.mu.Lock()
	conn, ok := p.connections[peerID]
	if !ok {
		p.mu.Unlock()
		return false
	}
	p.detachLocked(conn)
	p.mu.Unlock()

	p.finishClose(conn, ReasonRequested)
	return true
}

// detachLocked moves conn to CLOSING and removes it from every index.
// p.mu must be held.
func (p *Pool) detachLocked(conn *Connection) {
	conn.State = StateClosing
	delete(p.connections, conn.PeerID)
	delete(p.idle, conn.PeerID)
	delete(p.active, conn.PeerID)
	p.updateGaugesLocked()
}

// finishClose closes a detached connection's handle. A close failure
// leaves the connection in StateError and is returned but not propagated
// to acquire callers.
func (p *Pool) finishClose(conn *Connection, reason CloseReason) error {
	p.mu.Lock()
	hooks := make([]func(string, CloseReason), len(p.closing))
	copy(hooks, p.closing)
	p.mu.Unlock()
	for _, fn := range hooks {
		fn(conn.PeerID, reason)
	}

	err := closeHandle(conn.Handle)

	p.mu.Lock()
	if err != nil {
		conn.State = StateError
		conn.ErrorCount++
		p.stats.errors++
	} else {
		conn.State = StateClosed
	}
	p.stats.closed++
	state := conn.State
	p.mu.Unlock()

	p.metrics.Closed.Add(1)
	logger := p.logger.WithFields(logrus.Fields{
		"function":      "finishClose",
		"peer_id":       conn.PeerID,
		"connection_id": conn.ID,
		"reason":        string(reason),
	})
	if err != nil {
		p.metrics.Errors.Add(1)
		logger.WithError(err).Warn("Connection close failed")
	} else {
		logger.Debug("Connection closed")
	}
	p.emit(Event{Type: EventClosed, PeerID: conn.PeerID, ConnectionID: conn.ID, State: state, Reason: reason, Err: err})
	if err != nil {
		return fmt.Errorf("close connection to %s: %w", conn.PeerID, err)
	}
	return nil
}

func closeHandle(h interfaces.Handle) error {
	if c, ok := h.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// EvictIdleConnections closes up to n idle connections, least recently
// used first, and returns the number evicted. Only connections that are
// idle at the moment of selection are considered.
func (p *Pool) EvictIdleConnections(n int) int {
	if n <= 0 {
		return 0
	}

	p.mu.Lock()
	candidates := make([]*Connection, 0, len(p.idle))
	for peerID := range p.idle {
		candidates = append(candidates, p.connections[peerID])
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastActivity.Before(candidates[j].LastActivity)
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	for _, conn := range candidates {
		p.detachLocked(conn)
	}
	p.stats.evicted += uint64(len(candidates))
	p.mu.Unlock()

	for _, conn := range candidates {
		p.metrics.Evicted.Add(1)
		state := StateClosed
		if err := p.finishClose(conn, ReasonEvicted); err != nil {
			state = StateError
		}
		p.emit(Event{Type: EventEvicted, PeerID: conn.PeerID, ConnectionID: conn.ID, State: state, Reason: ReasonEvicted})
	}

	if len(candidates) > 0 {
		p.logger.WithFields(logrus.Fields{
			"function": "EvictIdleConnections",
			"evicted":  len(candidates),
		}).Info("Evicted idle connections")
	}
	return len(candidates)
}

// PerformHealthCheck closes idle connections that exceeded MaxIdleTime and
// any connection that is no longer healthy. It returns the number closed.
func (p *Pool) PerformHealthCheck() int {
	p.mu.Lock()
	now := p.clock.Now()
	var stale []*Connection
	reasons := make(map[*Connection]CloseReason)
	for _, conn := range p.connections {
		switch {
		case !conn.IsHealthy():
			reasons[conn] = ReasonUnhealthy
		case conn.State == StateIdle && now.Sub(conn.LastActivity) > p.cfg.MaxIdleTime:
			reasons[conn] = ReasonIdleTimeout
		default:
			continue
		}
		stale = append(stale, conn)
	}
	for _, conn := range stale {
		p.detachLocked(conn)
	}
	p.mu.Unlock()

	for _, conn := range stale {
		p.finishClose(conn, reasons[conn])
	}

	p.logger.WithFields(logrus.Fields{
		"function": "PerformHealthCheck",
		"closed":   len(stale),
	}).Debug("Pool health check complete")
	return len(stale)
}

// cleanup trims the idle set down to MinConnections.
func (p *Pool) cleanup() {
	p.mu.Lock()
	excess := len(p.idle) - p.cfg.MinConnections
	p.mu.Unlock()

	if excess > 0 {
		p.EvictIdleConnections(excess)
	}
}

// CloseAll closes every tracked connection. Close failures are combined
// into the returned error.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.connections))
	for _, conn := range p.connections {
		conns = append(conns, conn)
	}
	for _, conn := range conns {
		p.detachLocked(conn)
	}
	p.mu.Unlock()

	var errs error
	for _, conn := range conns {
		errs = multierr.Append(errs, p.finishClose(conn, ReasonShutdown))
	}

	p.logger.WithFields(logrus.Fields{
		"function": "CloseAll",
		"closed":   len(conns),
	}).Info("Closed all pooled connections")
	return errs
}

// Destroy stops maintenance, closes every connection and rejects further
// acquires. It is safe to call more than once.
func (p *Pool) Destroy() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	err := p.CloseAll()
	p.logger.WithField("function", "Destroy").Info("Connection pool destroyed")
	return err
}

// GetStats returns a snapshot of pool counters.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		TotalConnections:   len(p.connections),
		ActiveConnections:  len(p.active),
		IdleConnections:    len(p.idle),
		PendingConnections: p.pending,
		MaxConnections:     p.cfg.MaxConnections,
		TotalCreated:       p.stats.created,
		TotalClosed:        p.stats.closed,
		TotalErrors:        p.stats.errors,
		TotalEvicted:       p.stats.evicted,
		TotalTimeouts:      p.stats.timeouts,
		Rejected:           p.stats.rejected,
		Hits:               p.stats.hits,
		Misses:             p.stats.misses,
	}
	s.HitRate = hitRate(s.Hits, s.Misses)
	return s
}

// GetConnectionDetails returns snapshots of every tracked connection,
// ordered by peer ID.
func (p *Pool) GetConnectionDetails() []ConnectionDetails {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	details := make([]ConnectionDetails, 0, len(p.connections))
	for _, conn := range p.connections {
		d := ConnectionDetails{
			ID:           conn.ID,
			PeerID:       conn.PeerID,
			State:        conn.State.String(),
			CreatedAt:    conn.CreatedAt,
			LastActivity: conn.LastActivity,
			Age:          now.Sub(conn.CreatedAt),
			UsageCount:   conn.UsageCount,
			ErrorCount:   conn.ErrorCount,
			Healthy:      conn.IsHealthy(),
		}
		if conn.State == StateIdle {
			d.IdleTime = now.Sub(conn.LastActivity)
		}
		details = append(details, d)
	}
	sort.Slice(details, func(i, j int) bool { return details[i].PeerID < details[j].PeerID })
	return details
}

func (p *Pool) updateGaugesLocked() {
	p.metrics.Active.Set(float64(len(p.active)))
	p.metrics.Idle.Set(float64(len(p.idle)))
}
