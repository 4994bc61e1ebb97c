package nat

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/stun/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startSTUNServer runs a loopback STUN server answering Binding Requests
// with the sender's address as XOR-MAPPED-ADDRESS.
func startSTUNServer(t *testing.T, respond bool) string {
	t.Helper()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			if !respond {
				continue
			}

			request := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := request.Decode(); err != nil {
				continue
			}
			udpAddr := from.(*net.UDPAddr)
			response, err := stun.Build(
				stun.NewTransactionIDSetter(request.TransactionID),
				stun.BindingSuccess,
				&stun.XORMappedAddress{IP: udpAddr.IP, Port: udpAddr.Port},
			)
			if err != nil {
				continue
			}
			_, _ = conn.WriteTo(response.Raw, from)
		}
	}()

	return conn.LocalAddr().String()
}

func TestNewSTUNClient(t *testing.T) {
	client := NewSTUNClient()

	assert.Equal(t, 5*time.Second, client.timeout)

	client.SetTimeout(0)
	assert.Equal(t, 5*time.Second, client.timeout)

	client.SetTimeout(time.Second)
	assert.Equal(t, time.Second, client.timeout)
}

func TestSTUNClient_Query(t *testing.T) {
	server := startSTUNServer(t, true)
	client := NewSTUNClient()
	client.SetTimeout(2 * time.Second)

	addr, err := client.Query(context.Background(), server)

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", addr.IP.String())
	assert.NotZero(t, addr.Port)
}

func TestSTUNClient_QueryAcceptsURIForm(t *testing.T) {
	server := startSTUNServer(t, true)
	client := NewSTUNClient()

	addr, err := client.Query(context.Background(), "stun:"+server)

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", addr.IP.String())
}

func TestSTUNClient_QueryTimeout(t *testing.T) {
	server := startSTUNServer(t, false)
	client := NewSTUNClient()
	client.SetTimeout(100 * time.Millisecond)

	start := time.Now()
	addr, err := client.Query(context.Background(), server)

	assert.Nil(t, addr)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSTUNClient_QueryCancelled(t *testing.T) {
	server := startSTUNServer(t, false)
	client := NewSTUNClient()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	addr, err := client.Query(ctx, server)

	assert.Nil(t, addr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeServer(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "stun.l.google.com:19302", want: "stun.l.google.com:19302"},
		{in: "stun:stun.l.google.com:19302", want: "stun.l.google.com:19302"},
		{in: "stun:stun.example.org", want: "stun.example.org:3478"},
		{in: " 127.0.0.1:3478 ", want: "127.0.0.1:3478"},
		{in: "", wantErr: true},
		{in: "turn:turn.example.org:3478", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeServer(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedServer)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
