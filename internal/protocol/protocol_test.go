package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ggrs "github.com/gschup/ggrs-sub000"
	"github.com/gschup/ggrs-sub000/internal/inputqueue"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEndpoint(t *testing.T, clock *fakeClock) *Endpoint[uint8] {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:9000")
	require.NoError(t, err)
	return New[uint8](0, addr, 2, clock, nil)
}

func drainMessages(e *Endpoint[uint8]) []ggrs.Message {
	msgs := e.sendQueue
	e.sendQueue = nil
	return msgs
}

// handshake drives a and b through the five-round-trip sync handshake by
// looping messages between them, the way two endpoints on real sockets
// would, then drains the handshake's events so a test sees only what
// happens afterwards.
func handshake(t *testing.T, a, b *Endpoint[uint8]) {
	t.Helper()
	a.Synchronize()
	b.Synchronize()

	for round := 0; round < 20 && !(a.IsRunning() && b.IsRunning()); round++ {
		aMsgs := drainMessages(a)
		bMsgs := drainMessages(b)
		for _, m := range aMsgs {
			b.HandleMessage(m)
		}
		for _, m := range bMsgs {
			a.HandleMessage(m)
		}
	}
	a.Events()
	b.Events()
}

func TestHandshakeReachesRunning(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	a := newTestEndpoint(t, clock)
	b := newTestEndpoint(t, clock)

	handshake(t, a, b)

	assert.True(t, a.IsRunning())
	assert.True(t, b.IsRunning())
}

func TestSendInputRoundTrips(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	a := newTestEndpoint(t, clock)
	b := newTestEndpoint(t, clock)
	handshake(t, a, b)

	status := []ConnectionStatus{{}, {}}
	a.SendInput(inputqueue.GameInput[uint8]{Frame: 0, Input: 7}, status)

	for _, m := range drainMessages(a) {
		b.HandleMessage(m)
	}

	var recv ReceivedInputEvent[uint8]
	var found bool
	for _, e := range b.Events() {
		if r, ok := e.(ReceivedInputEvent[uint8]); ok {
			recv = r
			found = true
		}
	}
	require.True(t, found)
	assert.Equal(t, ggrs.Frame(0), recv.Frame)
	assert.Equal(t, uint8(7), recv.Input)
}

func TestDisconnectTimeoutFires(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	a := newTestEndpoint(t, clock)
	b := newTestEndpoint(t, clock)
	handshake(t, a, b)
	a.SetDisconnectTimeout(100 * time.Millisecond)
	a.SetDisconnectNotifyStart(50 * time.Millisecond)

	clock.advance(60 * time.Millisecond)
	evts := a.Poll(nil)
	require.Len(t, evts, 1)
	_, ok := evts[0].(ggrs.NetworkInterruptedEvent)
	require.True(t, ok)

	clock.advance(60 * time.Millisecond)
	evts = a.Poll(nil)
	require.Len(t, evts, 1)
	_, ok = evts[0].(ggrs.DisconnectedEvent)
	require.True(t, ok)
}
