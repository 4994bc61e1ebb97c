package health

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/peerlink/interfaces"
)

func connect(m *Manager, peerID string) {
	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerConnected, PeerID: peerID})
}

func TestManager_ConnectCreatesRecord(t *testing.T) {
	m, _, mock, rec := newTestManager(t, testConfig())

	_, ok := m.GetPeerHealth("alice")
	assert.False(t, ok)

	connect(m, "alice")
	connect(m, "alice")

	h, ok := m.GetPeerHealth("alice")
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, QualityExcellent, h.Quality)
	assert.Equal(t, mock.Now(), h.LastSeen)
	assert.Len(t, rec.ofType(EventPeerHealthy), 1)
}

func TestManager_EventsFromRuntime(t *testing.T) {
	m, rt, _, rec := newTestManager(t, testConfig())

	rt.events <- interfaces.PeerEvent{Type: interfaces.PeerConnected, PeerID: "alice"}
	rec.waitFor(t, EventPeerHealthy, 1)

	rt.events <- interfaces.PeerEvent{Type: interfaces.PeerDisconnected, PeerID: "alice"}
	rec.waitFor(t, EventPeerDisconnected, 1)

	h, ok := m.GetPeerHealth("alice")
	require.True(t, ok)
	assert.Equal(t, StatusDisconnected, h.Status)
	assert.True(t, h.ReconnectPending)
}

func TestManager_SuccessfulPing(t *testing.T) {
	m, rt, _, rec := newTestManager(t, testConfig())
	connect(m, "alice")

	require.NoError(t, m.RunHealthCheck(context.Background()))

	h, _ := m.GetPeerHealth("alice")
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.Len(t, rt.sentTo("alice", interfaces.MessageTypePing), 1)
	assert.Empty(t, rec.ofType(EventQualityChanged))
}

func TestManager_ThreeFailedPingsScheduleReconnect(t *testing.T) {
	cfg := testConfig()
	m, rt, _, rec := newTestManager(t, cfg)
	connect(m, "bob")
	rt.setSendErr("bob", errUnreachable)

	ctx := context.Background()
	for i := 1; i < FailureThreshold; i++ {
		require.NoError(t, m.RunHealthCheck(ctx))
		h, _ := m.GetPeerHealth("bob")
		assert.Equal(t, StatusUnhealthy, h.Status)
		assert.Equal(t, i, h.ConsecutiveFailures)
		assert.False(t, h.ReconnectPending)
	}
	assert.Empty(t, rec.ofType(EventReconnectScheduled))

	require.NoError(t, m.RunHealthCheck(ctx))
	scheduled := rec.ofType(EventReconnectScheduled)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "bob", scheduled[0].PeerID)
	assert.Equal(t, cfg.ReconnectDelay, scheduled[0].Delay)
	assert.Equal(t, 0, scheduled[0].Attempt)

	// Further failures do not add a second timer.
	require.NoError(t, m.RunHealthCheck(ctx))
	assert.Len(t, rec.ofType(EventReconnectScheduled), 1)

	h, _ := m.GetPeerHealth("bob")
	assert.True(t, h.ReconnectPending)
	assert.Equal(t, 4, h.ConsecutiveFailures)
}

func TestManager_ReconnectSuccess(t *testing.T) {
	cfg := testConfig()
	m, rt, mock, rec := newTestManager(t, cfg)
	connect(m, "bob")
	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerDisconnected, PeerID: "bob"})
	require.Len(t, rec.ofType(EventReconnectScheduled), 1)

	mock.Add(cfg.ReconnectDelay)

	success := rec.waitFor(t, EventReconnectSuccess, 1)
	assert.Equal(t, 1, success[0].Attempt)
	assert.Equal(t, 1, rt.dialCount("bob"))

	h, _ := m.GetPeerHealth("bob")
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, 0, h.ReconnectAttempts)
	assert.False(t, h.ReconnectPending)
}

func TestManager_ReconnectSuccessWhenRuntimeReportsConnect(t *testing.T) {
	cfg := testConfig()
	m, rt, mock, rec := newTestManager(t, cfg)
	connect(m, "bob")
	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerDisconnected, PeerID: "bob"})

	// The runtime publishes peer-connected before Dial returns.
	rt.setOnDial(func(peerID string) { connect(m, peerID) })
	mock.Add(cfg.ReconnectDelay)

	success := rec.waitFor(t, EventReconnectSuccess, 1)
	assert.Equal(t, 1, success[0].Attempt)
	assert.Len(t, rec.ofType(EventPeerHealthy), 1)

	h, _ := m.GetPeerHealth("bob")
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, 0, h.ReconnectAttempts)
	assert.False(t, h.ReconnectPending)
}

func TestManager_FailedDialWithConcurrentConnect(t *testing.T) {
	cfg := testConfig()
	m, rt, mock, rec := newTestManager(t, cfg)
	connect(m, "bob")
	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerDisconnected, PeerID: "bob"})

	rt.setDialErr(errUnreachable)
	rt.setOnDial(func(peerID string) { connect(m, peerID) })
	mock.Add(cfg.ReconnectDelay)

	require.Eventually(t, func() bool {
		h, _ := m.GetPeerHealth("bob")
		return h.Status == StatusHealthy && !h.ReconnectPending && rt.dialCount("bob") == 1
	}, 2*time.Second, 5*time.Millisecond)

	mock.Add(cfg.MaxReconnectDelay)
	assert.Equal(t, 1, rt.dialCount("bob"))
	assert.Empty(t, rec.ofType(EventReconnectAttemptFailed))
	assert.Len(t, rec.ofType(EventReconnectScheduled), 1)

	h, _ := m.GetPeerHealth("bob")
	assert.Equal(t, 0, h.ReconnectAttempts)
	assert.False(t, h.ReconnectPending)
}

func TestManager_ReconnectBackoffAndExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 2
	m, rt, mock, rec := newTestManager(t, cfg)
	rt.setDialErr(errUnreachable)

	connect(m, "bob")
	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerDisconnected, PeerID: "bob"})

	mock.Add(ReconnectDelay(cfg, 0))
	scheduled := rec.waitFor(t, EventReconnectScheduled, 2)
	assert.Equal(t, ReconnectDelay(cfg, 1), scheduled[1].Delay)
	assert.Equal(t, 2*cfg.ReconnectDelay, scheduled[1].Delay)

	attemptFailed := rec.ofType(EventReconnectAttemptFailed)
	require.Len(t, attemptFailed, 1)
	assert.Equal(t, 1, attemptFailed[0].Attempt)
	assert.ErrorIs(t, attemptFailed[0].Err, errUnreachable)

	mock.Add(ReconnectDelay(cfg, 1))
	failed := rec.waitFor(t, EventReconnectFailed, 1)
	assert.Equal(t, 2, failed[0].Attempt)
	assert.Len(t, rec.ofType(EventReconnectAttemptFailed), 2)
	assert.Equal(t, 2, rt.dialCount("bob"))

	// Exhaustion is reported once and nothing more is scheduled.
	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerError, PeerID: "bob", Err: errUnreachable})
	mock.Add(cfg.MaxReconnectDelay)
	assert.Len(t, rec.ofType(EventReconnectFailed), 1)
	assert.Len(t, rec.ofType(EventReconnectScheduled), 2)

	h, _ := m.GetPeerHealth("bob")
	assert.Equal(t, 2, h.ReconnectAttempts)
	assert.False(t, h.ReconnectPending)
}

func TestManager_ConnectCancelsPendingReconnect(t *testing.T) {
	cfg := testConfig()
	m, rt, mock, rec := newTestManager(t, cfg)
	connect(m, "bob")
	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerDisconnected, PeerID: "bob"})

	h, _ := m.GetPeerHealth("bob")
	require.True(t, h.ReconnectPending)

	connect(m, "bob")
	h, _ = m.GetPeerHealth("bob")
	assert.False(t, h.ReconnectPending)
	assert.Equal(t, StatusHealthy, h.Status)

	mock.Add(cfg.MaxReconnectDelay)
	assert.Equal(t, 0, rt.dialCount("bob"))
	assert.Empty(t, rec.ofType(EventReconnectSuccess))
}

func TestManager_QualityChanged(t *testing.T) {
	m, rt, mock, rec := newTestManager(t, testConfig())
	rt.beforePong = func() { mock.Add(150 * time.Millisecond) }
	connect(m, "alice")

	ctx := context.Background()
	require.NoError(t, m.RunHealthCheck(ctx))

	changed := rec.ofType(EventQualityChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, QualityExcellent, changed[0].PreviousQuality)
	assert.Equal(t, QualityGood, changed[0].Quality)
	assert.InDelta(t, 150, changed[0].LatencyMs, 0.001)

	require.NoError(t, m.RunHealthCheck(ctx))
	assert.Len(t, rec.ofType(EventQualityChanged), 1)

	h, _ := m.GetPeerHealth("alice")
	assert.Equal(t, QualityGood, h.Quality)
	assert.Equal(t, QualityExcellent, h.PreviousQuality)
	assert.InDelta(t, 150, h.LatencyMs, 0.001)
}

func TestManager_PingTimeout(t *testing.T) {
	cfg := testConfig()
	m, rt, mock, _ := newTestManager(t, cfg)
	rt.autoPong = false
	connect(m, "alice")

	done := make(chan error, 1)
	go func() { done <- m.RunHealthCheck(context.Background()) }()

	require.Eventually(t, func() bool {
		mock.Add(cfg.PingTimeout)
		select {
		case err := <-done:
			return assert.NoError(t, err)
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	h, _ := m.GetPeerHealth("alice")
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.GreaterOrEqual(t, h.ConsecutiveFailures, 1)
}

func TestManager_PingErrorIsTimeout(t *testing.T) {
	cfg := testConfig()
	rt := newFakeRuntime()
	rt.autoPong = false
	mock := clock.NewMock()
	m := NewManager(cfg, rt, WithClock(mock))

	errCh := make(chan error, 1)
	go func() {
		_, err := m.ping(context.Background(), "alice")
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		mock.Add(cfg.PingTimeout)
		select {
		case err := <-errCh:
			return assert.ErrorIs(t, err, ErrPingTimeout)
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_AnswersPings(t *testing.T) {
	_, rt, _, _ := newTestManager(t, testConfig())
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	rt.messages <- interfaces.Message{Type: interfaces.MessageTypePing, From: "carol", Payload: payload}

	require.Eventually(t, func() bool {
		return len(rt.sentTo("carol", interfaces.MessageTypePong)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, payload, rt.sentTo("carol", interfaces.MessageTypePong)[0].Payload)
}

func TestManager_OfflineSuppressesReconnect(t *testing.T) {
	cfg := testConfig()
	m, rt, mock, rec := newTestManager(t, cfg)
	connect(m, "alice")
	connect(m, "bob")
	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerDisconnected, PeerID: "bob"})
	require.Len(t, rec.ofType(EventReconnectScheduled), 1)

	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.NetworkOffline})
	assert.Len(t, rec.ofType(EventNetworkLost), 1)
	for _, h := range m.GetAllPeerHealth() {
		assert.Equal(t, StatusNetworkLost, h.Status, h.PeerID)
		assert.False(t, h.ReconnectPending, h.PeerID)
	}

	// No pings and no reconnects while offline.
	sent := rt.sentCount()
	require.NoError(t, m.RunHealthCheck(context.Background()))
	assert.Equal(t, sent, rt.sentCount())
	mock.Add(cfg.MaxReconnectDelay)
	assert.Equal(t, 0, rt.dialCount("bob"))

	m.SetNetworkOnline(false)
	assert.Len(t, rec.ofType(EventNetworkLost), 1)

	assert.False(t, m.GetNetworkQuality().Online)

	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.NetworkOnline})
	assert.Len(t, rec.ofType(EventNetworkRestored), 1)

	scheduled := rec.ofType(EventReconnectScheduled)
	require.Len(t, scheduled, 3)
	assert.Equal(t, "alice", scheduled[1].PeerID)
	assert.Equal(t, "bob", scheduled[2].PeerID)
	assert.Equal(t, cfg.ReconnectDelay, scheduled[2].Delay)

	mock.Add(cfg.ReconnectDelay)
	rec.waitFor(t, EventReconnectSuccess, 2)
	for _, h := range m.GetAllPeerHealth() {
		assert.Equal(t, StatusHealthy, h.Status, h.PeerID)
	}
}

func TestManager_DisconnectWhileOffline(t *testing.T) {
	m, _, _, rec := newTestManager(t, testConfig())
	connect(m, "alice")
	m.SetNetworkOnline(false)

	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerDisconnected, PeerID: "alice"})

	assert.Len(t, rec.ofType(EventPeerDisconnected), 1)
	assert.Empty(t, rec.ofType(EventReconnectScheduled))
}

func TestManager_IgnoresUnknownPeers(t *testing.T) {
	m, _, _, rec := newTestManager(t, testConfig())

	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerDisconnected, PeerID: "ghost"})
	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerError, PeerID: "ghost"})
	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerConnected})

	assert.Empty(t, m.GetAllPeerHealth())
	assert.Empty(t, rec.ofType(EventPeerDisconnected))
}

func TestManager_RemovePeer(t *testing.T) {
	cfg := testConfig()
	m, rt, mock, _ := newTestManager(t, cfg)
	connect(m, "bob")
	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerDisconnected, PeerID: "bob"})

	assert.True(t, m.RemovePeer("bob"))
	assert.False(t, m.RemovePeer("bob"))

	_, ok := m.GetPeerHealth("bob")
	assert.False(t, ok)
	mock.Add(cfg.MaxReconnectDelay)
	assert.Equal(t, 0, rt.dialCount("bob"))
}

func TestManager_GetNetworkQuality(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentPings = 1
	m, rt, mock, _ := newTestManager(t, cfg)

	nq := m.GetNetworkQuality()
	assert.Equal(t, QualityPoor, nq.Quality)
	assert.True(t, nq.Online)

	rt.beforePong = func() { mock.Add(250 * time.Millisecond) }
	connect(m, "alice")
	connect(m, "bob")
	connect(m, "carol")
	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerDisconnected, PeerID: "carol"})
	require.NoError(t, m.RunHealthCheck(context.Background()))

	nq = m.GetNetworkQuality()
	assert.Equal(t, 3, nq.TotalPeers)
	assert.Equal(t, 2, nq.HealthyPeers)
	assert.Equal(t, 1, nq.DisconnectedPeers)
	assert.Equal(t, QualityFair, nq.Quality)
	assert.InDelta(t, 250, nq.AverageLatencyMs, 0.001)
}

func TestManager_RunHealthCheckNotRunning(t *testing.T) {
	m := NewManager(testConfig(), newFakeRuntime())
	assert.ErrorIs(t, m.RunHealthCheck(context.Background()), ErrNotRunning)
}

func TestManager_PeriodicCheck(t *testing.T) {
	cfg := testConfig()
	m, rt, mock, _ := newTestManager(t, cfg)
	connect(m, "alice")

	require.Eventually(t, func() bool {
		mock.Add(cfg.CheckInterval)
		return len(rt.sentTo("alice", interfaces.MessageTypePing)) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_StopCancelsTimers(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := testConfig()
	rt := newFakeRuntime()
	mock := clock.NewMock()
	m := NewManager(cfg, rt, WithClock(mock))
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	connect(m, "bob")
	m.HandlePeerEvent(interfaces.PeerEvent{Type: interfaces.PeerDisconnected, PeerID: "bob"})

	m.Stop()
	m.Stop()

	mock.Add(cfg.MaxReconnectDelay)
	assert.Equal(t, 0, rt.dialCount("bob"))
}
