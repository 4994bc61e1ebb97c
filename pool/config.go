package pool

import "time"

// Default pool settings.
const (
	DefaultMaxConnections      = 50
	DefaultMinConnections      = 5
	DefaultMaxIdleTime         = 5 * time.Minute
	DefaultConnectionTimeout   = 30 * time.Second
	DefaultHealthCheckInterval = time.Minute
	DefaultCleanupInterval     = 5 * time.Minute
)

// Config holds pool limits and maintenance intervals.
type Config struct {
	// MaxConnections is the hard cap on tracked connections
	MaxConnections int
	// MinConnections is the number of idle connections kept warm by cleanup
	MinConnections int
	// MaxIdleTime is how long a connection may stay idle before the health check closes it
	MaxIdleTime time.Duration
	// ConnectionTimeout bounds each factory invocation
	ConnectionTimeout time.Duration
	// HealthCheckInterval is the period of PerformHealthCheck
	HealthCheckInterval time.Duration
	// CleanupInterval is the period of the min-connections cleanup cycle
	CleanupInterval time.Duration
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxConnections:      DefaultMaxConnections,
		MinConnections:      DefaultMinConnections,
		MaxIdleTime:         DefaultMaxIdleTime,
		ConnectionTimeout:   DefaultConnectionTimeout,
		HealthCheckInterval: DefaultHealthCheckInterval,
		CleanupInterval:     DefaultCleanupInterval,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.MinConnections < 0 {
		c.MinConnections = 0
	}
	if c.MinConnections > c.MaxConnections {
		c.MinConnections = c.MaxConnections
	}
	if c.MaxIdleTime <= 0 {
		c.MaxIdleTime = d.MaxIdleTime
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	return c
}
