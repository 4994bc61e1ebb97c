package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PEERLINK_POOL_MAXCONNECTIONS.
const EnvPrefix = "PEERLINK"

// Load reads configuration from the YAML file at path, applies PEERLINK_*
// environment overrides on top of the defaults, and validates the result.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"path":     v.ConfigFileUsed(),
		}).Debug("Using config file")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so that environment overrides apply even
// when the file omits them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("stun.servers", d.STUN.Servers)
	v.SetDefault("turn.servers", d.TURN.Servers)

	v.SetDefault("transports.tcp", d.Transports.TCP)
	v.SetDefault("transports.websocket", d.Transports.WebSocket)
	v.SetDefault("transports.webrtc", d.Transports.WebRTC)
	v.SetDefault("transports.autoSelect", d.Transports.AutoSelect)

	v.SetDefault("relay.enabled", d.Relay.Enabled)

	v.SetDefault("nat.queryTimeout", d.NAT.QueryTimeout)
	v.SetDefault("nat.cacheTTL", d.NAT.CacheTTL)
	v.SetDefault("nat.detectionInterval", d.NAT.DetectionInterval)

	v.SetDefault("pool.maxConnections", d.Pool.MaxConnections)
	v.SetDefault("pool.minConnections", d.Pool.MinConnections)
	v.SetDefault("pool.maxIdleTime", d.Pool.MaxIdleTime)
	v.SetDefault("pool.connectionTimeout", d.Pool.ConnectionTimeout)
	v.SetDefault("pool.healthCheckInterval", d.Pool.HealthCheckInterval)
	v.SetDefault("pool.cleanupInterval", d.Pool.CleanupInterval)

	v.SetDefault("health.checkInterval", d.Health.CheckInterval)
	v.SetDefault("health.pingTimeout", d.Health.PingTimeout)
	v.SetDefault("health.maxReconnectAttempts", d.Health.MaxReconnectAttempts)
	v.SetDefault("health.reconnectDelay", d.Health.ReconnectDelay)
	v.SetDefault("health.reconnectBackoffMultiplier", d.Health.ReconnectBackoffMultiplier)
	v.SetDefault("health.maxReconnectDelay", d.Health.MaxReconnectDelay)
}
