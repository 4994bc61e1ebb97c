package health

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerlink/nat"
)

// DefaultPollInterval is how often a Watcher checks the local interfaces.
const DefaultPollInterval = 5 * time.Second

// NetworkStateSink receives local network transitions.
type NetworkStateSink interface {
	SetNetworkOnline(online bool)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithProbe sets the function that reports whether the host is online.
// The default reports whether any non-loopback interface has an IPv4
// address.
func WithProbe(probe func() bool) WatcherOption {
	return func(w *Watcher) {
		if probe != nil {
			w.probe = probe
		}
	}
}

// WithPollInterval sets the polling period.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherClock sets the clock driving the poll ticker.
func WithWatcherClock(c clock.Clock) WatcherOption {
	return func(w *Watcher) {
		if c != nil {
			w.clock = c
		}
	}
}

// Watcher polls the host's network state and reports transitions to a
// sink, typically a Manager.
type Watcher struct {
	sink     NetworkStateSink
	probe    func() bool
	interval time.Duration
	clock    clock.Clock
	logger   *logrus.Entry

	mu     sync.Mutex
	known  bool
	online bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher reporting to sink.
func NewWatcher(sink NetworkStateSink, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		sink:     sink,
		probe:    nat.HasExternalIPv4,
		interval: DefaultPollInterval,
		clock:    clock.New(),
		logger:   logrus.WithField("component", "network_watcher"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Poll checks the network once and forwards the state to the sink when it
// differs from the last observation. It returns the observed state.
func (w *Watcher) Poll() bool {
	online := w.probe()

	w.mu.Lock()
	changed := !w.known || w.online != online
	w.known = true
	w.online = online
	w.mu.Unlock()

	if changed {
		w.logger.WithFields(logrus.Fields{
			"function": "Poll",
			"online":   online,
		}).Info("Network state changed")
		w.sink.SetNetworkOnline(online)
	}
	return online
}

// Start polls immediately and then every poll interval until ctx is done or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	w.Poll()
	ticker := w.clock.Ticker(w.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Poll()
			}
		}
	}()
}

// Stop ends polling and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
