package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/opd-ai/peerlink/limits"
	"github.com/opd-ai/peerlink/transport"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultSTUNServers, cfg.STUN.Servers)
	assert.Equal(t, 50, cfg.Pool.MaxConnections)
	assert.Equal(t, 5, cfg.Pool.MinConnections)
	assert.Equal(t, 5*time.Minute, cfg.Pool.MaxIdleTime)
	assert.Equal(t, 30*time.Second, cfg.Pool.ConnectionTimeout)
	assert.Equal(t, 30*time.Second, cfg.Health.CheckInterval)
	assert.Equal(t, 5*time.Second, cfg.Health.PingTimeout)
	assert.Equal(t, 5, cfg.Health.MaxReconnectAttempts)
	assert.Equal(t, time.Second, cfg.Health.ReconnectDelay)
	assert.Equal(t, 2.0, cfg.Health.ReconnectBackoffMultiplier)
	assert.Equal(t, 30*time.Second, cfg.Health.MaxReconnectDelay)
	assert.True(t, cfg.Transports.AutoSelect)
	assert.True(t, cfg.Relay.Enabled)
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	cfg := Default()
	cfg.Pool.MaxConnections = 0
	cfg.Pool.ConnectionTimeout = time.Millisecond
	cfg.Health.ReconnectBackoffMultiplier = 0.5
	cfg.STUN.Servers = []string{"turn:relay.example.org"}
	cfg.TURN.Servers = []transport.TURNServer{{}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, limits.ErrOutOfRange)
	assert.ErrorIs(t, err, limits.ErrEmptyValue)

	// maxConnections, minConnections, connectionTimeout, multiplier, stun, turn
	assert.Len(t, multierr.Errors(err), 6)
	assert.Contains(t, err.Error(), "pool.maxConnections")
	assert.Contains(t, err.Error(), "stun.servers[0]")
}

func TestValidate_MaxReconnectDelayBelowBase(t *testing.T) {
	cfg := Default()
	cfg.Health.ReconnectDelay = 10 * time.Second
	cfg.Health.MaxReconnectDelay = 5 * time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health.maxReconnectDelay")
}

func TestConverters(t *testing.T) {
	cfg := Default()
	cfg.Transports.WebRTC = false
	cfg.Relay.Enabled = false
	cfg.TURN.Servers = []transport.TURNServer{{URLs: []string{"turn:relay.example.org"}, Username: "u", Credential: "c"}}

	tc := cfg.TransportConfig()
	assert.True(t, tc.TCP)
	assert.False(t, tc.WebRTC)
	assert.False(t, tc.Relay)
	assert.Equal(t, cfg.STUN.Servers, tc.STUNServers)
	assert.Equal(t, cfg.TURN.Servers, tc.TURNServers)

	// Converted slices do not alias the config.
	tc.STUNServers[0] = "changed"
	assert.NotEqual(t, "changed", cfg.STUN.Servers[0])

	pc := cfg.PoolConfig()
	assert.Equal(t, cfg.Pool.MaxConnections, pc.MaxConnections)
	assert.Equal(t, cfg.Pool.CleanupInterval, pc.CleanupInterval)

	hc := cfg.HealthConfig()
	assert.Equal(t, cfg.Health.ReconnectBackoffMultiplier, hc.BackoffMultiplier)
	assert.Equal(t, cfg.Pool.ConnectionTimeout, hc.DialTimeout)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.STUN.Servers, cfg.STUN.Servers)
	assert.Empty(t, cfg.TURN.Servers)
	assert.Equal(t, d.Transports, cfg.Transports)
	assert.Equal(t, d.Relay, cfg.Relay)
	assert.Equal(t, d.NAT, cfg.NAT)
	assert.Equal(t, d.Pool, cfg.Pool)
	assert.Equal(t, d.Health, cfg.Health)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peerlink.yaml")
	data := `
stun:
  servers:
    - stun.example.org:3478
turn:
  servers:
    - urls: ["turn:turn.example.org:3478"]
      username: alice
      credential: secret
transports:
  webrtc: false
  autoSelect: false
pool:
  maxConnections: 10
  maxIdleTime: 90s
health:
  reconnectDelay: 500ms
  reconnectBackoffMultiplier: 1.5
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"stun.example.org:3478"}, cfg.STUN.Servers)
	require.Len(t, cfg.TURN.Servers, 1)
	assert.Equal(t, "alice", cfg.TURN.Servers[0].Username)
	assert.Equal(t, []string{"turn:turn.example.org:3478"}, cfg.TURN.Servers[0].URLs)
	assert.False(t, cfg.Transports.WebRTC)
	assert.False(t, cfg.Transports.AutoSelect)
	assert.True(t, cfg.Transports.TCP)
	assert.Equal(t, 10, cfg.Pool.MaxConnections)
	assert.Equal(t, 90*time.Second, cfg.Pool.MaxIdleTime)
	assert.Equal(t, 500*time.Millisecond, cfg.Health.ReconnectDelay)
	assert.Equal(t, 1.5, cfg.Health.ReconnectBackoffMultiplier)
	assert.Equal(t, 5, cfg.Pool.MinConnections)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PEERLINK_POOL_MAXCONNECTIONS", "7")
	t.Setenv("PEERLINK_HEALTH_PINGTIMEOUT", "2s")
	t.Setenv("PEERLINK_RELAY_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pool.MaxConnections)
	assert.Equal(t, 2*time.Second, cfg.Health.PingTimeout)
	assert.False(t, cfg.Relay.Enabled)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  maxConnections: 0\n"), 0o600))
	_, err = Load(path)
	assert.ErrorIs(t, err, limits.ErrOutOfRange)
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Pool.MaxConnections = 12
	cfg.TURN.Servers = []transport.TURNServer{{URLs: []string{"turn:turn.example.org"}}}

	var buf bytes.Buffer
	require.NoError(t, cfg.WriteYAML(&buf))
	assert.Contains(t, buf.String(), "maxConnections: 12")
	assert.Contains(t, buf.String(), "autoSelect: true")

	path := filepath.Join(t.TempDir(), "dump.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
