package limits

import (
	"cmp"
	"errors"
	"fmt"
	"time"
)

const (
	// MaxPoolConnections is the upper bound for pool.maxConnections
	MaxPoolConnections = 10000

	// MinTimeout is the shortest accepted timeout for dials, pings and STUN
	// queries
	MinTimeout = 100 * time.Millisecond

	// MaxTimeout is the longest accepted timeout for dials, pings and STUN
	// queries
	MaxTimeout = 10 * time.Minute

	// MinInterval is the shortest accepted period for background loops
	MinInterval = time.Second

	// MaxInterval is the longest accepted period for background loops and
	// idle times
	MaxInterval = 24 * time.Hour

	// MinReconnectDelay is the shortest accepted base reconnect delay
	MinReconnectDelay = 10 * time.Millisecond

	// MaxReconnectAttempts is the upper bound for health.maxReconnectAttempts
	MaxReconnectAttempts = 100

	// MaxBackoffMultiplier is the upper bound for the reconnect backoff
	// multiplier
	MaxBackoffMultiplier = 10.0
)

var (
	// ErrOutOfRange indicates a configuration value outside its bounds
	ErrOutOfRange = errors.New("value out of range")

	// ErrEmptyValue indicates a required configuration value is empty
	ErrEmptyValue = errors.New("empty value")
)

// Check validates that v lies within [min, max].
// Returns an error with the setting name and bounds if it does not.
func Check[T cmp.Ordered](name string, v, min, max T) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %s = %v, want [%v, %v]", ErrOutOfRange, name, v, min, max)
	}
	return nil
}

// CheckNotEmpty validates that a string setting is not empty.
func CheckNotEmpty(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s", ErrEmptyValue, name)
	}
	return nil
}
