package nat

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheTTL is how long a successful detection stays valid.
	DefaultCacheTTL = time.Hour
	// DefaultDetectionInterval is the period of background re-detection.
	DefaultDetectionInterval = 30 * time.Minute
	// DefaultDetectTimeout bounds one shared detection cycle.
	DefaultDetectTimeout = 3 * DefaultQueryTimeout
)

// ErrNoServers is reported when detection runs without STUN servers.
var ErrNoServers = errors.New("no STUN servers configured")

// Detector runs NAT classification and caches successful results.
//
// It is safe for concurrent use. Concurrent Detect calls share a single
// in-flight detection cycle.
type Detector struct {
	querier Querier
	clock   clock.Clock
	ttl     time.Duration
	timeout time.Duration
	localIP func() net.IP
	logger  *logrus.Entry

	mu        sync.RWMutex
	cached    *NATInfo
	listeners []func(NATInfo)
	cancel    context.CancelFunc
	done      chan struct{}

	group singleflight.Group
}

// Option configures a Detector.
type Option func(*Detector)

// WithQuerier replaces the UDP STUN client.
func WithQuerier(q Querier) Option {
	return func(d *Detector) { d.querier = q }
}

// WithClock injects the clock used for timestamps and cache expiry.
func WithClock(c clock.Clock) Option {
	return func(d *Detector) { d.clock = c }
}

// WithCacheTTL sets how long successful results are served from cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(d *Detector) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithLocalIP overrides local interface address resolution.
func WithLocalIP(fn func() net.IP) Option {
	return func(d *Detector) { d.localIP = fn }
}

// WithDetectTimeout bounds a detection cycle independently of the
// contexts of the callers waiting on it.
func WithDetectTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDetector creates a NAT detector.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		querier: NewSTUNClient(),
		clock:   clock.New(),
		ttl:     DefaultCacheTTL,
		timeout: DefaultDetectTimeout,
		localIP: LocalIPv4,
		logger:  logrus.WithField("component", "NATDetector"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect classifies the local NAT using the first one or two servers. It
// never fails: errors yield NATTypeUnknown with Error populated.
//
// The detection cycle is shared by concurrent callers and runs detached
// from their contexts, bounded by the detect timeout. A caller whose ctx
// ends first gets an unknown result without affecting the others.
func (d *Detector) Detect(ctx context.Context, servers []string) NATInfo {
	key := strings.Join(servers, ",")
	results := d.group.DoChan(key, func() (interface{}, error) {
		detectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		return d.detect(detectCtx, servers), nil
	})

	select {
	case res := <-results:
		info := res.Val.(NATInfo)
		if res.Shared {
			d.logger.WithField("function", "Detect").Debug("Joined in-flight NAT detection")
		}
		return info.clone()
	case <-ctx.Done():
		return d.fail(NATInfo{LocalIP: d.localIP(), Timestamp: d.clock.Now()}, ctx.Err())
	}
}

func (d *Detector) detect(ctx context.Context, servers []string) NATInfo {
	localIP := d.localIP()
	info := NATInfo{
		Type:      NATTypeUnknown,
		LocalIP:   localIP,
		Timestamp: d.clock.Now(),
	}

	if len(servers) == 0 {
		return d.fail(info, ErrNoServers)
	}

	first, err := d.querier.Query(ctx, servers[0])
	if err != nil {
		return d.fail(info, err)
	}
	info.PublicIP = first.IP
	info.PublicPort = first.Port

	var second *MappedAddress
	if len(servers) > 1 && !first.IP.Equal(localIP) {
		second, err = d.querier.Query(ctx, servers[1])
		if err != nil {
			return d.fail(info, err)
		}
	}

	info.Type = Classify(localIP, first, second)
	info.Description = info.Type.Description()
	info.Timestamp = d.clock.Now()

	d.store(info)

	d.logger.WithFields(logrus.Fields{
		"function":  "Detect",
		"nat_type":  info.Type.String(),
		"public_ip": info.PublicIP.String(),
		"local_ip":  localIP.String(),
	}).Info("NAT type detected")

	return info
}

func (d *Detector) fail(info NATInfo, err error) NATInfo {
	info.Type = NATTypeUnknown
	info.Description = NATTypeUnknown.Description()
	info.Error = err.Error()

	d.logger.WithFields(logrus.Fields{
		"function": "Detect",
		"error":    err.Error(),
	}).Warn("NAT detection failed")

	return info
}

func (d *Detector) store(info NATInfo) {
	d.mu.Lock()
	previous := d.cached
	stored := info.clone()
	d.cached = &stored
	listeners := append([]func(NATInfo){}, d.listeners...)
	d.mu.Unlock()

	if previous != nil && previous.Type == info.Type {
		return
	}
	for _, fn := range listeners {
		fn(info.clone())
	}
}

// Classify applies the two-probe heuristic. second is nil when only one
// server was configured.
func Classify(localIP net.IP, first, second *MappedAddress) NATType {
	if first == nil {
		return NATTypeUnknown
	}
	if localIP != nil && first.IP.Equal(localIP) {
		return NATTypeNone
	}
	if second == nil {
		return NATTypeRestricted
	}
	if first.Equal(second) {
		return NATTypeFullCone
	}
	return NATTypeSymmetric
}

// Cached returns the last successful result, or nil if none exists or it
// is older than the cache TTL.
func (d *Detector) Cached() *NATInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.cached == nil {
		return nil
	}
	if d.clock.Since(d.cached.Timestamp) >= d.ttl {
		return nil
	}
	info := d.cached.clone()
	return &info
}

// Invalidate drops the cached result.
func (d *Detector) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()

	d.logger.WithField("function", "Invalidate").Debug("NAT cache invalidated")
}

// OnChange registers a callback invoked after a successful detection whose
// NAT type differs from the previously cached one.
func (d *Detector) OnChange(fn func(NATInfo)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// Start re-runs detection every interval until Stop is called or ctx ends.
// Calling Start while running is a no-op.
func (d *Detector) Start(ctx context.Context, servers []string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultDetectionInterval
	}

	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	done := d.done
	d.mu.Unlock()

	ticker := d.clock.Ticker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.Detect(ctx, servers)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts periodic detection and waits for the loop to exit.
func (d *Detector) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
