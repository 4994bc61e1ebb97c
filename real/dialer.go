package real

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerlink/interfaces"
	"github.com/opd-ai/peerlink/transport"
)

// DialConfig holds the retry behaviour shared by the network dialers.
type DialConfig struct {
	// RetryAttempts is the number of dial attempts per call, at least one.
	RetryAttempts int
	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration
}

// DefaultDialConfig returns two attempts with a 500ms backoff step.
func DefaultDialConfig() DialConfig {
	return DialConfig{RetryAttempts: 2, RetryBackoff: 500 * time.Millisecond}
}

// retrier runs dial attempts with linear backoff between them.
type retrier struct {
	cfg   DialConfig
	clock clock.Clock
}

func (r retrier) run(ctx context.Context, name, peerID string, attempt func(context.Context) (interfaces.Handle, error)) (interfaces.Handle, error) {
	attempts := r.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		handle, err := attempt(ctx)
		if err == nil {
			return handle, nil
		}
		lastErr = err

		logrus.WithFields(logrus.Fields{
			"function": name + ".Dial",
			"peer_id":  peerID,
			"attempt":  i + 1,
			"error":    err.Error(),
		}).Warn("Dial attempt failed")

		if i == attempts-1 {
			break
		}
		timer := r.clock.Timer(time.Duration(i+1) * r.cfg.RetryBackoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("dial %s after %d attempts: %w", peerID, attempts, lastErr)
}

// DialerOption configures a network dialer.
type DialerOption func(*retrier)

// WithRetryClock sets the clock used for retry backoff.
func WithRetryClock(c clock.Clock) DialerOption {
	return func(r *retrier) {
		if c != nil {
			r.clock = c
		}
	}
}

func newRetrier(cfg DialConfig, opts []DialerOption) retrier {
	r := retrier{cfg: cfg, clock: clock.New()}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// TCPDialer dials peers over TCP using endpoints from an AddressBook.
type TCPDialer struct {
	book   *AddressBook
	dialer net.Dialer
	retry  retrier
}

// NewTCPDialer creates a TCP dialer.
func NewTCPDialer(book *AddressBook, cfg DialConfig, opts ...DialerOption) *TCPDialer {
	return &TCPDialer{book: book, retry: newRetrier(cfg, opts)}
}

// Dial implements interfaces.Dialer. The handle is a net.Conn.
func (d *TCPDialer) Dial(ctx context.Context, peerID string) (interfaces.Handle, error) {
	addr, err := d.book.Lookup(peerID, transport.KindTCP)
	if err != nil {
		return nil, err
	}
	return d.retry.run(ctx, "TCPDialer", peerID, func(ctx context.Context) (interfaces.Handle, error) {
		conn, err := d.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// WebSocketDialer dials peers over websocket using URLs from an
// AddressBook.
type WebSocketDialer struct {
	book   *AddressBook
	dialer *websocket.Dialer
	header http.Header
	retry  retrier
}

// NewWebSocketDialer creates a websocket dialer.
func NewWebSocketDialer(book *AddressBook, cfg DialConfig, opts ...DialerOption) *WebSocketDialer {
	return &WebSocketDialer{
		book: book,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		header: http.Header{},
		retry:  newRetrier(cfg, opts),
	}
}

// Dial implements interfaces.Dialer. The handle is a *WebSocketConn.
func (d *WebSocketDialer) Dial(ctx context.Context, peerID string) (interfaces.Handle, error) {
	url, err := d.book.Lookup(peerID, transport.KindWebSocket)
	if err != nil {
		return nil, err
	}
	return d.retry.run(ctx, "WebSocketDialer", peerID, func(ctx context.Context) (interfaces.Handle, error) {
		conn, resp, err := d.dialer.DialContext(ctx, url, d.header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return &WebSocketConn{Conn: conn}, nil
	})
}

// WebSocketConn is the handle returned by WebSocketDialer. Close sends a
// close frame before closing the socket.
type WebSocketConn struct {
	*websocket.Conn
}

// Close implements io.Closer.
func (c *WebSocketConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.Conn.Close()
}

// Register adds a TCP and a websocket dialer backed by book to reg.
func Register(reg *transport.Registry, book *AddressBook, cfg DialConfig, opts ...DialerOption) {
	reg.RegisterTransport(transport.KindTCP, NewTCPDialer(book, cfg, opts...))
	reg.RegisterTransport(transport.KindWebSocket, NewWebSocketDialer(book, cfg, opts...))
}
