package transport

import (
	"strings"
	"sync"

	"github.com/opd-ai/peerlink/nat"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// Kind identifies a transport.
type Kind string

const (
	// KindTCP is a direct TCP socket.
	KindTCP Kind = "tcp"
	// KindWebSocket is a server-reachable websocket transport.
	KindWebSocket Kind = "websocket"
	// KindWebRTC is a WebRTC data channel established through ICE.
	KindWebRTC Kind = "webrtc"
	// KindRelay routes traffic through an intermediary peer.
	KindRelay Kind = "relay"
)

// TURNServer is a TURN relay entry for the ICE server list.
type TURNServer struct {
	URLs       []string `yaml:"urls" mapstructure:"urls"`
	Username   string   `yaml:"username,omitempty" mapstructure:"username"`
	Credential string   `yaml:"credential,omitempty" mapstructure:"credential"`
}

// Config is the static transport configuration.
type Config struct {
	TCP         bool
	WebSocket   bool
	WebRTC      bool
	AutoSelect  bool
	Relay       bool
	STUNServers []string
	TURNServers []TURNServer
}

// DefaultConfig enables every transport, auto-selection and relay fallback.
func DefaultConfig() Config {
	return Config{
		TCP:        true,
		WebSocket:  true,
		WebRTC:     true,
		AutoSelect: true,
		Relay:      true,
	}
}

// Plan is the ordered list of transports to try. When relay is enabled it
// is always the last entry.
type Plan struct {
	Transports []Kind
	NATType    nat.NATType
}

// Contains reports whether kind is part of the plan.
func (p Plan) Contains(kind Kind) bool {
	for _, k := range p.Transports {
		if k == kind {
			return true
		}
	}
	return false
}

// String returns the plan as a comma separated list.
func (p Plan) String() string {
	names := make([]string, len(p.Transports))
	for i, k := range p.Transports {
		names[i] = string(k)
	}
	return strings.Join(names, ",")
}

var (
	directFirstOrder  = []Kind{KindWebRTC, KindWebSocket, KindTCP}
	relayedFirstOrder = []Kind{KindWebSocket, KindWebRTC, KindTCP}
	localOrder        = []Kind{KindTCP, KindWebSocket, KindWebRTC}
)

// Selector builds transport plans. The WebRTC capability probe runs once
// and its result is reused for every plan.
type Selector struct {
	probe  Probe
	logger *logrus.Entry

	once      sync.Once
	webrtcAPI *webrtc.API
	probeErr  error
}

// NewSelector creates a selector. A nil probe uses DefaultProbe.
func NewSelector(probe Probe) *Selector {
	if probe == nil {
		probe = DefaultProbe
	}
	return &Selector{
		probe:  probe,
		logger: logrus.WithField("component", "TransportSelector"),
	}
}

// WebRTCAPI returns the WebRTC API reported by the capability probe, or nil
// when WebRTC is unavailable on this platform.
func (s *Selector) WebRTCAPI() *webrtc.API {
	s.runProbe()
	return s.webrtcAPI
}

func (s *Selector) runProbe() {
	s.once.Do(func() {
		s.webrtcAPI, s.probeErr = s.probe()
		if s.probeErr != nil {
			s.webrtcAPI = nil
		}
	})
}

// BuildPlan orders the enabled transports for the given NAT information.
// natInfo may be nil when detection has not completed yet.
func (s *Selector) BuildPlan(cfg Config, natInfo *nat.NATInfo) Plan {
	order := localOrder
	natType := nat.NATTypeUnknown
	if natInfo != nil {
		natType = natInfo.Type
	}

	if cfg.AutoSelect && natInfo != nil {
		order = orderForNAT(natType)
	}

	plan := Plan{NATType: natType}
	for _, kind := range order {
		if !s.enabled(cfg, kind) {
			continue
		}
		plan.Transports = append(plan.Transports, kind)
	}

	if cfg.Relay {
		plan.Transports = append(plan.Transports, KindRelay)
	}

	s.logger.WithFields(logrus.Fields{
		"function":    "BuildPlan",
		"nat_type":    natType.String(),
		"auto_select": cfg.AutoSelect,
		"plan":        plan.String(),
	}).Info("Transport plan built")

	return plan
}

// orderForNAT returns the preferred ordering for a NAT type.
func orderForNAT(natType nat.NATType) []Kind {
	switch natType {
	case nat.NATTypeFullCone, nat.NATTypeRestricted:
		return directFirstOrder
	case nat.NATTypeSymmetric:
		return relayedFirstOrder
	default:
		return localOrder
	}
}

func (s *Selector) enabled(cfg Config, kind Kind) bool {
	switch kind {
	case KindTCP:
		return cfg.TCP
	case KindWebSocket:
		return cfg.WebSocket
	case KindWebRTC:
		if !cfg.WebRTC {
			return false
		}
		s.runProbe()
		if s.probeErr != nil {
			s.logger.WithFields(logrus.Fields{
				"function": "BuildPlan",
				"error":    s.probeErr.Error(),
			}).Warn("WebRTC unavailable, omitting from transport plan")
			return false
		}
		return true
	default:
		return false
	}
}
