// Package config defines the peerlink configuration surface, its defaults
// and validation, and loading from YAML files and PEERLINK_* environment
// variables.
package config

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/peerlink/health"
	"github.com/opd-ai/peerlink/limits"
	"github.com/opd-ai/peerlink/nat"
	"github.com/opd-ai/peerlink/pool"
	"github.com/opd-ai/peerlink/transport"
)

// DefaultSTUNServers are the public STUN servers used when none are
// configured.
var DefaultSTUNServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
}

// Config is the complete peerlink configuration.
type Config struct {
	STUN       STUNConfig       `yaml:"stun" mapstructure:"stun"`
	TURN       TURNConfig       `yaml:"turn" mapstructure:"turn"`
	Transports TransportsConfig `yaml:"transports" mapstructure:"transports"`
	Relay      RelayConfig      `yaml:"relay" mapstructure:"relay"`
	NAT        NATConfig        `yaml:"nat" mapstructure:"nat"`
	Pool       PoolConfig       `yaml:"pool" mapstructure:"pool"`
	Health     HealthConfig     `yaml:"health" mapstructure:"health"`
}

// STUNConfig lists the STUN servers used for NAT detection.
type STUNConfig struct {
	Servers []string `yaml:"servers" mapstructure:"servers"`
}

// TURNConfig lists the TURN servers handed to the WebRTC transport.
type TURNConfig struct {
	Servers []transport.TURNServer `yaml:"servers" mapstructure:"servers"`
}

// TransportsConfig enables individual transports.
type TransportsConfig struct {
	TCP        bool `yaml:"tcp" mapstructure:"tcp"`
	WebSocket  bool `yaml:"websocket" mapstructure:"websocket"`
	WebRTC     bool `yaml:"webrtc" mapstructure:"webrtc"`
	AutoSelect bool `yaml:"autoSelect" mapstructure:"autoSelect"`
}

// RelayConfig controls the circuit relay fallback.
type RelayConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// NATConfig controls NAT detection.
type NATConfig struct {
	QueryTimeout      time.Duration `yaml:"queryTimeout" mapstructure:"queryTimeout"`
	CacheTTL          time.Duration `yaml:"cacheTTL" mapstructure:"cacheTTL"`
	DetectionInterval time.Duration `yaml:"detectionInterval" mapstructure:"detectionInterval"`
}

// PoolConfig mirrors pool.Config.
type PoolConfig struct {
	MaxConnections      int           `yaml:"maxConnections" mapstructure:"maxConnections"`
	MinConnections      int           `yaml:"minConnections" mapstructure:"minConnections"`
	MaxIdleTime         time.Duration `yaml:"maxIdleTime" mapstructure:"maxIdleTime"`
	ConnectionTimeout   time.Duration `yaml:"connectionTimeout" mapstructure:"connectionTimeout"`
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval" mapstructure:"healthCheckInterval"`
	CleanupInterval     time.Duration `yaml:"cleanupInterval" mapstructure:"cleanupInterval"`
}

// HealthConfig mirrors health.Config.
type HealthConfig struct {
	CheckInterval              time.Duration `yaml:"checkInterval" mapstructure:"checkInterval"`
	PingTimeout                time.Duration `yaml:"pingTimeout" mapstructure:"pingTimeout"`
	MaxReconnectAttempts       int           `yaml:"maxReconnectAttempts" mapstructure:"maxReconnectAttempts"`
	ReconnectDelay             time.Duration `yaml:"reconnectDelay" mapstructure:"reconnectDelay"`
	ReconnectBackoffMultiplier float64       `yaml:"reconnectBackoffMultiplier" mapstructure:"reconnectBackoffMultiplier"`
	MaxReconnectDelay          time.Duration `yaml:"maxReconnectDelay" mapstructure:"maxReconnectDelay"`
}

// Default returns the default configuration.
func Default() *Config {
	p := pool.DefaultConfig()
	h := health.DefaultConfig()
	return &Config{
		STUN: STUNConfig{Servers: append([]string(nil), DefaultSTUNServers...)},
		TURN: TURNConfig{Servers: []transport.TURNServer{}},
		Transports: TransportsConfig{
			TCP:        true,
			WebSocket:  true,
			WebRTC:     true,
			AutoSelect: true,
		},
		Relay: RelayConfig{Enabled: true},
		NAT: NATConfig{
			QueryTimeout:      nat.DefaultQueryTimeout,
			CacheTTL:          nat.DefaultCacheTTL,
			DetectionInterval: nat.DefaultDetectionInterval,
		},
		Pool: PoolConfig{
			MaxConnections:      p.MaxConnections,
			MinConnections:      p.MinConnections,
			MaxIdleTime:         p.MaxIdleTime,
			ConnectionTimeout:   p.ConnectionTimeout,
			HealthCheckInterval: p.HealthCheckInterval,
			CleanupInterval:     p.CleanupInterval,
		},
		Health: HealthConfig{
			CheckInterval:              h.CheckInterval,
			PingTimeout:                h.PingTimeout,
			MaxReconnectAttempts:       h.MaxReconnectAttempts,
			ReconnectDelay:             h.ReconnectDelay,
			ReconnectBackoffMultiplier: h.BackoffMultiplier,
			MaxReconnectDelay:          h.MaxReconnectDelay,
		},
	}
}

// Validate checks every setting against its bounds and returns all
// violations combined.
func (c *Config) Validate() error {
	var err error
	for i, server := range c.STUN.Servers {
		if _, serr := nat.NormalizeServer(server); serr != nil {
			err = multierr.Append(err, fmt.Errorf("stun.servers[%d]: %w", i, serr))
		}
	}
	for i, server := range c.TURN.Servers {
		if len(server.URLs) == 0 {
			err = multierr.Append(err, limits.CheckNotEmpty(fmt.Sprintf("turn.servers[%d].urls", i), ""))
		}
		for j, url := range server.URLs {
			err = multierr.Append(err, limits.CheckNotEmpty(fmt.Sprintf("turn.servers[%d].urls[%d]", i, j), url))
		}
	}

	err = multierr.Append(err, limits.Check("nat.queryTimeout", c.NAT.QueryTimeout, limits.MinTimeout, limits.MaxTimeout))
	err = multierr.Append(err, limits.Check("nat.cacheTTL", c.NAT.CacheTTL, limits.MinInterval, limits.MaxInterval))
	err = multierr.Append(err, limits.Check("nat.detectionInterval", c.NAT.DetectionInterval, limits.MinInterval, limits.MaxInterval))

	err = multierr.Append(err, limits.Check("pool.maxConnections", c.Pool.MaxConnections, 1, limits.MaxPoolConnections))
	err = multierr.Append(err, limits.Check("pool.minConnections", c.Pool.MinConnections, 0, max(c.Pool.MaxConnections, 0)))
	err = multierr.Append(err, limits.Check("pool.maxIdleTime", c.Pool.MaxIdleTime, limits.MinInterval, limits.MaxInterval))
	err = multierr.Append(err, limits.Check("pool.connectionTimeout", c.Pool.ConnectionTimeout, limits.MinTimeout, limits.MaxTimeout))
	err = multierr.Append(err, limits.Check("pool.healthCheckInterval", c.Pool.HealthCheckInterval, limits.MinInterval, limits.MaxInterval))
	err = multierr.Append(err, limits.Check("pool.cleanupInterval", c.Pool.CleanupInterval, limits.MinInterval, limits.MaxInterval))

	err = multierr.Append(err, limits.Check("health.checkInterval", c.Health.CheckInterval, limits.MinInterval, limits.MaxInterval))
	err = multierr.Append(err, limits.Check("health.pingTimeout", c.Health.PingTimeout, limits.MinTimeout, limits.MaxTimeout))
	err = multierr.Append(err, limits.Check("health.maxReconnectAttempts", c.Health.MaxReconnectAttempts, 0, limits.MaxReconnectAttempts))
	err = multierr.Append(err, limits.Check("health.reconnectDelay", c.Health.ReconnectDelay, limits.MinReconnectDelay, limits.MaxInterval))
	err = multierr.Append(err, limits.Check("health.reconnectBackoffMultiplier", c.Health.ReconnectBackoffMultiplier, 1.0, limits.MaxBackoffMultiplier))
	err = multierr.Append(err, limits.Check("health.maxReconnectDelay", c.Health.MaxReconnectDelay, c.Health.ReconnectDelay, limits.MaxInterval))
	return err
}

// TransportConfig returns the transport selector settings.
func (c *Config) TransportConfig() transport.Config {
	return transport.Config{
		TCP:         c.Transports.TCP,
		WebSocket:   c.Transports.WebSocket,
		WebRTC:      c.Transports.WebRTC,
		AutoSelect:  c.Transports.AutoSelect,
		Relay:       c.Relay.Enabled,
		STUNServers: append([]string(nil), c.STUN.Servers...),
		TURNServers: append([]transport.TURNServer(nil), c.TURN.Servers...),
	}
}

// PoolConfig returns the connection pool settings.
func (c *Config) PoolConfig() pool.Config {
	return pool.Config{
		MaxConnections:      c.Pool.MaxConnections,
		MinConnections:      c.Pool.MinConnections,
		MaxIdleTime:         c.Pool.MaxIdleTime,
		ConnectionTimeout:   c.Pool.ConnectionTimeout,
		HealthCheckInterval: c.Pool.HealthCheckInterval,
		CleanupInterval:     c.Pool.CleanupInterval,
	}
}

// HealthConfig returns the health manager settings. Reconnect dials share
// the pool's connection timeout.
func (c *Config) HealthConfig() health.Config {
	h := health.DefaultConfig()
	h.CheckInterval = c.Health.CheckInterval
	h.PingTimeout = c.Health.PingTimeout
	h.MaxReconnectAttempts = c.Health.MaxReconnectAttempts
	h.ReconnectDelay = c.Health.ReconnectDelay
	h.BackoffMultiplier = c.Health.ReconnectBackoffMultiplier
	h.MaxReconnectDelay = c.Health.MaxReconnectDelay
	if c.Pool.ConnectionTimeout > 0 {
		h.DialTimeout = c.Pool.ConnectionTimeout
	}
	return h
}

// WriteYAML writes the configuration as YAML.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
