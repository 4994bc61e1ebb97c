package limits

import (
	"errors"
	"testing"
	"time"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"int in range", Check("n", 5, 1, 10), false},
		{"int at min", Check("n", 1, 1, 10), false},
		{"int at max", Check("n", 10, 1, 10), false},
		{"int below", Check("n", 0, 1, 10), true},
		{"int above", Check("n", 11, 1, 10), true},
		{"duration in range", Check("d", time.Second, MinTimeout, MaxTimeout), false},
		{"duration below", Check("d", time.Millisecond, MinTimeout, MaxTimeout), true},
		{"float above", Check("f", 10.5, 1.0, MaxBackoffMultiplier), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if (tt.err != nil) != tt.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", tt.err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(tt.err, ErrOutOfRange) {
				t.Errorf("Check() error = %v, want ErrOutOfRange", tt.err)
			}
		})
	}
}

func TestCheckErrorMessage(t *testing.T) {
	err := Check("pool.maxConnections", 0, 1, MaxPoolConnections)
	want := "value out of range: pool.maxConnections = 0, want [1, 10000]"
	if err == nil || err.Error() != want {
		t.Errorf("Check() error = %v, want %q", err, want)
	}
}

func TestCheckNotEmpty(t *testing.T) {
	if err := CheckNotEmpty("stun.servers[0]", "stun.example.org"); err != nil {
		t.Errorf("CheckNotEmpty() unexpected error: %v", err)
	}
	if err := CheckNotEmpty("stun.servers[0]", ""); !errors.Is(err, ErrEmptyValue) {
		t.Errorf("CheckNotEmpty() error = %v, want ErrEmptyValue", err)
	}
}
