package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/peerlink/interfaces"
)

var errUnreachable = errors.New("peer unreachable")

type fakeRuntime struct {
	mu       sync.Mutex
	events   chan interfaces.PeerEvent
	messages chan interfaces.Message
	sent     []sentMessage
	sendErr  map[string]error
	dialErr  error
	dials    map[string]int
	autoPong bool
	// beforePong runs before a pong is delivered
	beforePong func()
	// onDial runs inside Dial before it returns
	onDial func(peerID string)
}

type sentMessage struct {
	to  string
	msg interfaces.Message
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		events:   make(chan interfaces.PeerEvent, 64),
		messages: make(chan interfaces.Message, 64),
		sendErr:  make(map[string]error),
		dials:    make(map[string]int),
		autoPong: true,
	}
}

func (r *fakeRuntime) Dial(_ context.Context, peerID string) (interfaces.Handle, error) {
	r.mu.Lock()
	r.dials[peerID]++
	err := r.dialErr
	hook := r.onDial
	r.mu.Unlock()

	if hook != nil {
		hook(peerID)
	}
	if err != nil {
		return nil, err
	}
	return peerID, nil
}

func (r *fakeRuntime) setOnDial(fn func(peerID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDial = fn
}

func (r *fakeRuntime) Send(_ context.Context, peerID string, msg interfaces.Message) error {
	r.mu.Lock()
	r.sent = append(r.sent, sentMessage{to: peerID, msg: msg})
	err := r.sendErr[peerID]
	autoPong := r.autoPong
	hook := r.beforePong
	r.mu.Unlock()

	if err != nil {
		return err
	}
	if msg.Type == interfaces.MessageTypePing && autoPong {
		if hook != nil {
			hook()
		}
		r.messages <- interfaces.Message{Type: interfaces.MessageTypePong, From: peerID, Payload: msg.Payload}
	}
	return nil
}

func (r *fakeRuntime) SubscribeMessages() (<-chan interfaces.Message, func()) {
	return r.messages, func() {}
}

func (r *fakeRuntime) SubscribePeerEvents() (<-chan interfaces.PeerEvent, func()) {
	return r.events, func() {}
}

func (r *fakeRuntime) setSendErr(peerID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendErr[peerID] = err
}

func (r *fakeRuntime) setDialErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialErr = err
}

func (r *fakeRuntime) dialCount(peerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials[peerID]
}

func (r *fakeRuntime) sentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *fakeRuntime) sentTo(peerID, msgType string) []interfaces.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interfaces.Message
	for _, s := range r.sent {
		if s.to == peerID && s.msg.Type == msgType {
			out = append(out, s.msg)
		}
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, typ EventType, count int) []Event {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.ofType(typ)) >= count
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %s events", count, typ)
	return r.ofType(typ)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxReconnectAttempts = 3
	return cfg
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeRuntime, *clock.Mock, *recorder) {
	t.Helper()
	rt := newFakeRuntime()
	mock := clock.NewMock()
	m := NewManager(cfg, rt, WithClock(mock))
	rec := &recorder{}
	m.OnEvent(rec.record)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m, rt, mock, rec
}
