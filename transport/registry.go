package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/peerlink/interfaces"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoTransports is returned when no registered transport is in the plan.
	ErrNoTransports = errors.New("no usable transport in plan")
	// ErrAllTransportsFailed wraps the last dial error after every transport failed.
	ErrAllTransportsFailed = errors.New("all transports failed")
)

// PlanConsumer is implemented by runtimes that register their transports in
// plan order.
type PlanConsumer interface {
	ApplyTransportPlan(plan Plan, iceServers []webrtc.ICEServer) error
}

// Registry orchestrates several transport dialers and tries them in the
// order of the active plan.
type Registry struct {
	mu         sync.RWMutex
	dialers    map[Kind]interfaces.Dialer
	plan       Plan
	iceServers []webrtc.ICEServer
	logger     *logrus.Entry
}

// NewRegistry creates an empty registry. Until a plan is applied, dials use
// the fixed tcp, websocket, webrtc, relay order.
func NewRegistry() *Registry {
	return &Registry{
		dialers: make(map[Kind]interfaces.Dialer),
		plan:    Plan{Transports: append(append([]Kind{}, localOrder...), KindRelay)},
		logger:  logrus.WithField("component", "TransportRegistry"),
	}
}

// RegisterTransport registers the dialer for a transport kind.
func (r *Registry) RegisterTransport(kind Kind, dialer interfaces.Dialer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"function":  "RegisterTransport",
		"transport": string(kind),
		"dialer":    fmt.Sprintf("%T", dialer),
	}).Info("Registering transport")

	r.dialers[kind] = dialer
}

// ApplyTransportPlan implements PlanConsumer.
func (r *Registry) ApplyTransportPlan(plan Plan, iceServers []webrtc.ICEServer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, kind := range plan.Transports {
		if _, ok := r.dialers[kind]; !ok {
			r.logger.WithFields(logrus.Fields{
				"function":  "ApplyTransportPlan",
				"transport": string(kind),
			}).Debug("Planned transport has no registered dialer")
		}
	}

	r.plan = Plan{
		Transports: append([]Kind(nil), plan.Transports...),
		NATType:    plan.NATType,
	}
	r.iceServers = append([]webrtc.ICEServer(nil), iceServers...)

	r.logger.WithFields(logrus.Fields{
		"function": "ApplyTransportPlan",
		"plan":     r.plan.String(),
		"ice":      len(iceServers),
	}).Info("Transport plan applied")
	return nil
}

// Plan returns the active plan.
func (r *Registry) Plan() Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Plan{Transports: append([]Kind(nil), r.plan.Transports...), NATType: r.plan.NATType}
}

// ICEServers returns the ICE server list applied with the plan.
func (r *Registry) ICEServers() []webrtc.ICEServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]webrtc.ICEServer(nil), r.iceServers...)
}

// Dial tries every registered transport in plan order and returns the
// first successful handle.
func (r *Registry) Dial(ctx context.Context, peerID string) (interfaces.Handle, error) {
	r.mu.RLock()
	order := append([]Kind(nil), r.plan.Transports...)
	dialers := make(map[Kind]interfaces.Dialer, len(r.dialers))
	for k, d := range r.dialers {
		dialers[k] = d
	}
	r.mu.RUnlock()

	var lastErr error
	tried := 0
	for _, kind := range order {
		dialer, ok := dialers[kind]
		if !ok {
			continue
		}
		tried++

		handle, err := dialer.Dial(ctx, peerID)
		if err == nil {
			r.logger.WithFields(logrus.Fields{
				"function":  "Dial",
				"peer_id":   peerID,
				"transport": string(kind),
			}).Debug("Dial succeeded")
			return handle, nil
		}
		lastErr = err

		r.logger.WithFields(logrus.Fields{
			"function":  "Dial",
			"peer_id":   peerID,
			"transport": string(kind),
			"error":     err.Error(),
		}).Warn("Transport dial failed, trying next")

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if tried == 0 {
		return nil, ErrNoTransports
	}
	return nil, fmt.Errorf("%w for peer %s: %w", ErrAllTransportsFailed, peerID, lastErr)
}
