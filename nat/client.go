package nat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pion/stun/v3"
	"github.com/sirupsen/logrus"
)

// DefaultQueryTimeout bounds a single STUN query.
const DefaultQueryTimeout = 5 * time.Second

const maxSTUNResponseSize = 1500

var (
	// ErrNoMappedAddress is returned when a STUN server answered without a
	// usable IPv4 mapped address.
	ErrNoMappedAddress = errors.New("no mapped address in STUN response")
	// ErrUnsupportedServer is returned for server URIs that are not plain UDP STUN.
	ErrUnsupportedServer = errors.New("unsupported STUN server URI")
)

// Querier resolves the mapped address of the local endpoint as seen by one
// STUN server.
type Querier interface {
	Query(ctx context.Context, server string) (*MappedAddress, error)
}

// STUNClient sends Binding Requests over UDP. Each query uses its own socket.
type STUNClient struct {
	timeout time.Duration
	logger  *logrus.Entry
}

// NewSTUNClient creates a STUN client with the default 5 second query timeout.
func NewSTUNClient() *STUNClient {
	return &STUNClient{
		timeout: DefaultQueryTimeout,
		logger:  logrus.WithField("component", "STUNClient"),
	}
}

// SetTimeout sets the timeout for STUN operations.
func (sc *STUNClient) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		sc.timeout = timeout
	}
}

// Query sends one Binding Request to server and returns the mapped address.
func (sc *STUNClient) Query(ctx context.Context, server string) (*MappedAddress, error) {
	address, err := NormalizeServer(server)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "udp4", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to STUN server %s: %w", address, err)
	}

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			if err := conn.Close(); err != nil {
				sc.logger.WithFields(logrus.Fields{
					"function": "Query",
					"server":   address,
					"error":    err.Error(),
				}).Debug("Closing STUN socket failed")
			}
		})
	}
	defer closeConn()

	// Unblock the pending read when the caller cancels before the deadline.
	stop := context.AfterFunc(ctx, closeConn)
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	request, transactionID, err := NewBindingRequest()
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(request); err != nil {
		return nil, fmt.Errorf("failed to send STUN request: %w", err)
	}

	buf := make([]byte, maxSTUNResponseSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("STUN query to %s: %w", address, ctxErr)
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, fmt.Errorf("STUN query to %s: %w", address, context.DeadlineExceeded)
			}
			return nil, fmt.Errorf("failed to read STUN response: %w", err)
		}

		response := buf[:n]
		if !transactionIDMatches(response, transactionID) {
			sc.logger.WithFields(logrus.Fields{
				"function": "Query",
				"server":   address,
				"size":     n,
			}).Debug("Ignoring STUN packet with foreign transaction ID")
			continue
		}

		mapped := ParseBindingResponse(response)
		if mapped == nil {
			return nil, fmt.Errorf("%w from %s", ErrNoMappedAddress, address)
		}

		sc.logger.WithFields(logrus.Fields{
			"function": "Query",
			"server":   address,
			"mapped":   mapped.String(),
		}).Debug("STUN query succeeded")
		return mapped, nil
	}
}

// NormalizeServer converts "host:port", "stun:host" or "stun:host:port" into
// a dialable "host:port", applying the default STUN port when missing.
func NormalizeServer(server string) (string, error) {
	raw := strings.TrimSpace(server)
	if raw == "" {
		return "", fmt.Errorf("%w: empty server", ErrUnsupportedServer)
	}
	if !strings.Contains(raw, "://") && !hasScheme(raw) {
		raw = "stun:" + raw
	}

	uri, err := stun.ParseURI(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrUnsupportedServer, server, err)
	}
	if uri.Scheme != stun.SchemeTypeSTUN {
		return "", fmt.Errorf("%w: %q is not a stun: URI", ErrUnsupportedServer, server)
	}

	port := uri.Port
	if port == 0 {
		port = stun.DefaultPort
	}
	return net.JoinHostPort(uri.Host, strconv.Itoa(port)), nil
}

func hasScheme(raw string) bool {
	for _, scheme := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(raw, scheme) {
			return true
		}
	}
	return false
}
