package nat

import (
	"fmt"
	"net"
	"time"
)

// NATType represents the type of NAT detected.
type NATType uint8

const (
	// NATTypeUnknown means detection failed or has not run yet.
	NATTypeUnknown NATType = iota
	// NATTypeNone means no NAT is present (the mapped address is local).
	NATTypeNone
	// NATTypeFullCone means both STUN servers saw the same mapping.
	NATTypeFullCone
	// NATTypeRestricted means a cone NAT whose filtering could not be probed.
	NATTypeRestricted
	// NATTypePortRestricted is never produced by the two-probe heuristic
	// but is accepted when parsed from configuration or peers.
	NATTypePortRestricted
	// NATTypeSymmetric means the mapping changes per destination.
	NATTypeSymmetric
)

var natTypeNames = map[NATType]string{
	NATTypeUnknown:        "unknown",
	NATTypeNone:           "none",
	NATTypeFullCone:       "full-cone",
	NATTypeRestricted:     "restricted",
	NATTypePortRestricted: "port-restricted",
	NATTypeSymmetric:      "symmetric",
}

// String returns the wire name of the NAT type.
func (t NATType) String() string {
	if name, ok := natTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("NATType(%d)", uint8(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t NATType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *NATType) UnmarshalText(text []byte) error {
	parsed, err := ParseNATType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseNATType converts a wire name back into a NATType.
func ParseNATType(s string) (NATType, error) {
	for t, name := range natTypeNames {
		if name == s {
			return t, nil
		}
	}
	return NATTypeUnknown, fmt.Errorf("unknown NAT type %q", s)
}

// Description returns a human-readable description of the NAT type.
func (t NATType) Description() string {
	switch t {
	case NATTypeNone:
		return "No NAT (public IP)"
	case NATTypeFullCone:
		return "Full cone NAT: same mapping for every destination"
	case NATTypeRestricted:
		return "Restricted NAT: cone mapping, filtering behavior not probed"
	case NATTypePortRestricted:
		return "Port-restricted NAT"
	case NATTypeSymmetric:
		return "Symmetric NAT: mapping changes per destination"
	default:
		return "Unknown NAT type"
	}
}

// MappedAddress is the externally visible address reported by a STUN server.
type MappedAddress struct {
	IP   net.IP
	Port int
}

// String returns the address in host:port form.
func (m *MappedAddress) String() string {
	if m == nil {
		return "<nil>"
	}
	return net.JoinHostPort(m.IP.String(), fmt.Sprint(m.Port))
}

// Equal reports whether both addresses have the same IP and port.
func (m *MappedAddress) Equal(other *MappedAddress) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.Port == other.Port && m.IP.Equal(other.IP)
}

// NATInfo is the result of one detection cycle. A new cycle replaces it
// wholesale; callers receive copies and must not expect updates in place.
type NATInfo struct {
	Type        NATType   `json:"type"`
	PublicIP    net.IP    `json:"publicIP,omitempty"`
	PublicPort  int       `json:"publicPort,omitempty"`
	LocalIP     net.IP    `json:"localIP,omitempty"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Error       string    `json:"error,omitempty"`
}

// Failed reports whether the detection cycle ended in an error.
func (i NATInfo) Failed() bool {
	return i.Error != ""
}

func (i NATInfo) clone() NATInfo {
	c := i
	if i.PublicIP != nil {
		c.PublicIP = append(net.IP(nil), i.PublicIP...)
	}
	if i.LocalIP != nil {
		c.LocalIP = append(net.IP(nil), i.LocalIP...)
	}
	return c
}
