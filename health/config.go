package health

import (
	"math"
	"time"
)

// Default health settings.
const (
	DefaultCheckInterval        = 30 * time.Second
	DefaultPingTimeout          = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = time.Second
	DefaultBackoffMultiplier    = 2.0
	DefaultMaxReconnectDelay    = 30 * time.Second
	DefaultDialTimeout          = 30 * time.Second
	DefaultMaxConcurrentPings   = 16

	// FailureThreshold is the number of consecutive ping failures that
	// triggers reconnection.
	FailureThreshold = 3
)

// Config holds health check and reconnection settings.
type Config struct {
	CheckInterval        time.Duration
	PingTimeout          time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	BackoffMultiplier    float64
	MaxReconnectDelay    time.Duration
	// DialTimeout bounds a single reconnect attempt
	DialTimeout time.Duration
	// MaxConcurrentPings bounds the pings in flight during one cycle
	MaxConcurrentPings int
}

// DefaultConfig returns the default health configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval:        DefaultCheckInterval,
		PingTimeout:          DefaultPingTimeout,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		ReconnectDelay:       DefaultReconnectDelay,
		BackoffMultiplier:    DefaultBackoffMultiplier,
		MaxReconnectDelay:    DefaultMaxReconnectDelay,
		DialTimeout:          DefaultDialTimeout,
		MaxConcurrentPings:   DefaultMaxConcurrentPings,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = d.MaxReconnectDelay
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = c.ReconnectDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.MaxConcurrentPings <= 0 {
		c.MaxConcurrentPings = d.MaxConcurrentPings
	}
	return c
}

// ReconnectDelay returns the backoff delay before reconnect attempt n
// (zero based): min(ReconnectDelay * BackoffMultiplier^n, MaxReconnectDelay).
func ReconnectDelay(cfg Config, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	limit := float64(cfg.MaxReconnectDelay)
	delay := float64(cfg.ReconnectDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= limit {
		return cfg.MaxReconnectDelay
	}
	return time.Duration(delay)
}
