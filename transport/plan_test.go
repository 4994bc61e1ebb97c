package transport

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opd-ai/peerlink/nat"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func availableProbe() (*webrtc.API, error) {
	return webrtc.NewAPI(), nil
}

func natInfo(t nat.NATType) *nat.NATInfo {
	return &nat.NATInfo{Type: t}
}

func TestBuildPlan_AutoSelectOrdering(t *testing.T) {
	tests := []struct {
		name string
		info *nat.NATInfo
		want []Kind
	}{
		{"full cone", natInfo(nat.NATTypeFullCone), []Kind{KindWebRTC, KindWebSocket, KindTCP, KindRelay}},
		{"restricted", natInfo(nat.NATTypeRestricted), []Kind{KindWebRTC, KindWebSocket, KindTCP, KindRelay}},
		{"symmetric", natInfo(nat.NATTypeSymmetric), []Kind{KindWebSocket, KindWebRTC, KindTCP, KindRelay}},
		{"none", natInfo(nat.NATTypeNone), []Kind{KindTCP, KindWebSocket, KindWebRTC, KindRelay}},
		{"unknown", natInfo(nat.NATTypeUnknown), []Kind{KindTCP, KindWebSocket, KindWebRTC, KindRelay}},
		{"port restricted", natInfo(nat.NATTypePortRestricted), []Kind{KindTCP, KindWebSocket, KindWebRTC, KindRelay}},
		{"no info yet", nil, []Kind{KindTCP, KindWebSocket, KindWebRTC, KindRelay}},
	}

	selector := NewSelector(availableProbe)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := selector.BuildPlan(DefaultConfig(), tt.info)
			if diff := cmp.Diff(tt.want, plan.Transports); diff != "" {
				t.Errorf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildPlan_AutoSelectDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoSelect = false

	plan := NewSelector(availableProbe).BuildPlan(cfg, natInfo(nat.NATTypeSymmetric))

	assert.Equal(t, []Kind{KindTCP, KindWebSocket, KindWebRTC, KindRelay}, plan.Transports)
	assert.Equal(t, nat.NATTypeSymmetric, plan.NATType)
}

func TestBuildPlan_DisabledTransportsSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WebSocket = false

	plan := NewSelector(availableProbe).BuildPlan(cfg, natInfo(nat.NATTypeSymmetric))

	assert.Equal(t, []Kind{KindWebRTC, KindTCP, KindRelay}, plan.Transports)
	assert.False(t, plan.Contains(KindWebSocket))
}

func TestBuildPlan_RelayDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Relay = false

	plan := NewSelector(availableProbe).BuildPlan(cfg, natInfo(nat.NATTypeFullCone))

	assert.Equal(t, []Kind{KindWebRTC, KindWebSocket, KindTCP}, plan.Transports)
}

func TestBuildPlan_WebRTCUnavailable(t *testing.T) {
	calls := 0
	probe := func() (*webrtc.API, error) {
		calls++
		return UnavailableProbe()
	}
	selector := NewSelector(probe)

	plan := selector.BuildPlan(DefaultConfig(), natInfo(nat.NATTypeFullCone))
	again := selector.BuildPlan(DefaultConfig(), natInfo(nat.NATTypeSymmetric))

	assert.Equal(t, []Kind{KindWebSocket, KindTCP, KindRelay}, plan.Transports)
	assert.Equal(t, []Kind{KindWebSocket, KindTCP, KindRelay}, again.Transports)
	assert.Equal(t, 1, calls, "probe result is cached")
	assert.Nil(t, selector.WebRTCAPI())
}

func TestBuildPlan_WebRTCDisabledSkipsProbe(t *testing.T) {
	probe := func() (*webrtc.API, error) {
		t.Fatal("probe must not run when webrtc is disabled")
		return nil, nil
	}
	cfg := DefaultConfig()
	cfg.WebRTC = false

	plan := NewSelector(probe).BuildPlan(cfg, natInfo(nat.NATTypeFullCone))

	assert.Equal(t, []Kind{KindWebSocket, KindTCP, KindRelay}, plan.Transports)
}

func TestBuildPlan_OnlyRelay(t *testing.T) {
	cfg := Config{Relay: true, AutoSelect: true}

	plan := NewSelector(availableProbe).BuildPlan(cfg, natInfo(nat.NATTypeSymmetric))

	assert.Equal(t, []Kind{KindRelay}, plan.Transports)
	assert.Equal(t, "relay", plan.String())
}

func TestBuildPlan_Properties(t *testing.T) {
	natTypes := []nat.NATType{
		nat.NATTypeUnknown, nat.NATTypeNone, nat.NATTypeFullCone,
		nat.NATTypeRestricted, nat.NATTypePortRestricted, nat.NATTypeSymmetric,
	}

	rapid.Check(t, func(t *rapid.T) {
		cfg := Config{
			TCP:        rapid.Bool().Draw(t, "tcp"),
			WebSocket:  rapid.Bool().Draw(t, "websocket"),
			WebRTC:     rapid.Bool().Draw(t, "webrtc"),
			AutoSelect: rapid.Bool().Draw(t, "autoSelect"),
			Relay:      rapid.Bool().Draw(t, "relay"),
		}
		var info *nat.NATInfo
		if rapid.Bool().Draw(t, "haveInfo") {
			info = natInfo(rapid.SampledFrom(natTypes).Draw(t, "natType"))
		}
		webrtcAvailable := rapid.Bool().Draw(t, "webrtcAvailable")
		probe := UnavailableProbe
		if webrtcAvailable {
			probe = availableProbe
		}

		plan := NewSelector(probe).BuildPlan(cfg, info)

		if cfg.Relay {
			require.NotEmpty(t, plan.Transports)
			assert.Equal(t, KindRelay, plan.Transports[len(plan.Transports)-1])
		} else {
			assert.False(t, plan.Contains(KindRelay))
		}
		assert.Equal(t, cfg.TCP, plan.Contains(KindTCP))
		assert.Equal(t, cfg.WebSocket, plan.Contains(KindWebSocket))
		assert.Equal(t, cfg.WebRTC && webrtcAvailable, plan.Contains(KindWebRTC))

		full := NewSelector(availableProbe).BuildPlan(DefaultConfig(), info)
		if !cfg.AutoSelect {
			full = NewSelector(availableProbe).BuildPlan(Config{TCP: true, WebSocket: true, WebRTC: true, Relay: true}, info)
		}
		assert.Equal(t, filterKinds(full.Transports, plan.Transports), plan.Transports,
			"disabled transports must not change the relative order of the rest")
	})
}

// filterKinds keeps the entries of order that also appear in keep.
func filterKinds(order, keep []Kind) []Kind {
	set := make(map[Kind]bool, len(keep))
	for _, k := range keep {
		set[k] = true
	}
	var out []Kind
	for _, k := range order {
		if set[k] {
			out = append(out, k)
		}
	}
	return out
}

func TestBuildICEServers(t *testing.T) {
	servers := BuildICEServers(
		[]string{"stun.l.google.com:19302", "stun:stun1.l.google.com:19302", "stun.l.google.com:19302"},
		[]TURNServer{
			{URLs: []string{"turn:turn.example.org:3478"}, Username: "alice", Credential: "secret"},
			{URLs: []string{"turn:open.example.org:3478", "turns:open.example.org:5349"}},
		},
	)

	require.Len(t, servers, 5)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, servers[0].URLs)
	assert.Equal(t, []string{"stun:stun1.l.google.com:19302"}, servers[1].URLs)
	assert.Equal(t, servers[0].URLs, servers[2].URLs, "duplicates are kept")
	assert.Equal(t, []string{"turn:turn.example.org:3478"}, servers[3].URLs)
	assert.Equal(t, "alice", servers[3].Username)
	assert.Equal(t, "secret", servers[3].Credential)
	assert.Len(t, servers[4].URLs, 2)
	assert.Empty(t, servers[4].Username)
}

func TestBuildICEServers_Empty(t *testing.T) {
	assert.Empty(t, BuildICEServers(nil, nil))
}

func TestDefaultProbe(t *testing.T) {
	api, err := DefaultProbe()
	if err != nil {
		assert.ErrorIs(t, err, ErrWebRTCUnavailable)
		assert.Nil(t, api)
		return
	}
	assert.NotNil(t, api)
}
