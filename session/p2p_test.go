package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ggrs "github.com/gschup/ggrs-sub000"
)

// pairedSocket is an in-memory ggrs.NonBlockingSocket: messages sent to it
// are delivered to whatever peer socket sits on the other side of the
// channel, addressed by a bare string so tests don't need real net.Addrs.
type pairedSocket struct {
	addr  net.Addr
	inbox chan ggrs.ReceivedMessage
	peers map[string]*pairedSocket
}

type stringAddr string

func (a stringAddr) Network() string { return "test" }
func (a stringAddr) String() string  { return string(a) }

func newPairedSocket(name string) *pairedSocket {
	return &pairedSocket{addr: stringAddr(name), inbox: make(chan ggrs.ReceivedMessage, 1024), peers: make(map[string]*pairedSocket)}
}

func link(a, b *pairedSocket) {
	a.peers[b.addr.String()] = b
	b.peers[a.addr.String()] = a
}

func (s *pairedSocket) SendTo(msg ggrs.Message, addr net.Addr) {
	peer, ok := s.peers[addr.String()]
	if !ok {
		return
	}
	peer.inbox <- ggrs.ReceivedMessage{Msg: msg, From: s.addr}
}

func (s *pairedSocket) ReceiveAll() []ggrs.ReceivedMessage {
	var out []ggrs.ReceivedMessage
	for {
		select {
		case m := <-s.inbox:
			out = append(out, m)
		default:
			return out
		}
	}
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// fulfillRequests executes SaveRequest/LoadRequest/AdvanceRequest against a
// trivial uint32 counter game state, mirroring the contract a real game
// loop driving Advance must honor.
func fulfillRequests(t *testing.T, requests []ggrs.Request, state *uint32, saved map[ggrs.Frame]uint32) []ggrs.PlayerInput[uint8] {
	t.Helper()
	var lastInputs []ggrs.PlayerInput[uint8]
	for _, req := range requests {
		switch r := req.(type) {
		case ggrs.SaveRequest[uint32]:
			var checksum [16]byte
			checksum[0] = byte(*state)
			r.Cell.Save(*state, checksum)
			saved[r.Frame] = *state
		case ggrs.LoadRequest[uint32]:
			*state = r.Cell.Load()
		case ggrs.AdvanceRequest[uint8]:
			*state++
			inputs := make([]ggrs.PlayerInput[uint8], len(r.Inputs))
			copy(inputs, r.Inputs)
			lastInputs = inputs
		}
	}
	return lastInputs
}

func newTestBuilder(t *testing.T, socket ggrs.NonBlockingSocket, clock ggrs.Clock) *P2PBuilder[uint8, uint32] {
	t.Helper()
	return NewP2PBuilder[uint8, uint32](2, socket, nil).WithClock(clock)
}

func TestP2PBuilderAddPlayerValidation(t *testing.T) {
	addr := stringAddr("peer")
	b := newTestBuilder(t, newPairedSocket("a"), &fakeClock{now: time.Unix(0, 0)})

	b.AddPlayer(ggrs.PlayerTypeLocal, 0, nil)
	b.AddPlayer(ggrs.PlayerTypeRemote, 1, addr)
	_, err := b.StartSession()
	require.NoError(t, err)
}

func TestP2PBuilderRejectsDuplicateHandle(t *testing.T) {
	b := newTestBuilder(t, newPairedSocket("a"), &fakeClock{now: time.Unix(0, 0)})
	b.AddPlayer(ggrs.PlayerTypeLocal, 0, nil)
	b.AddPlayer(ggrs.PlayerTypeRemote, 0, stringAddr("peer"))
	_, err := b.StartSession()
	assert.Error(t, err)
}

func TestP2PBuilderRejectsTooFewPlayers(t *testing.T) {
	b := newTestBuilder(t, newPairedSocket("a"), &fakeClock{now: time.Unix(0, 0)})
	b.AddPlayer(ggrs.PlayerTypeLocal, 0, nil)
	_, err := b.StartSession()
	assert.Error(t, err)
}

func TestP2PBuilderRejectsNonDefaultPredictionWindow(t *testing.T) {
	b := newTestBuilder(t, newPairedSocket("a"), &fakeClock{now: time.Unix(0, 0)})
	b.AddPlayer(ggrs.PlayerTypeLocal, 0, nil)
	b.AddPlayer(ggrs.PlayerTypeRemote, 1, stringAddr("peer"))
	b.WithMaxPredictionWindow(ggrs.MaxPrediction + 1)
	_, err := b.StartSession()
	assert.Error(t, err)
}

// buildPair constructs two linked P2P sessions, each with one local and one
// remote player, ready to synchronize.
func buildPair(t *testing.T, clock ggrs.Clock) (*P2P[uint8, uint32], *P2P[uint8, uint32]) {
	t.Helper()
	socketA := newPairedSocket("a")
	socketB := newPairedSocket("b")
	link(socketA, socketB)

	sessA, err := NewP2PBuilder[uint8, uint32](2, socketA, nil).
		WithClock(clock).
		AddPlayer(ggrs.PlayerTypeLocal, 0, nil).
		AddPlayer(ggrs.PlayerTypeRemote, 1, stringAddr("b")).
		StartSession()
	require.NoError(t, err)

	sessB, err := NewP2PBuilder[uint8, uint32](2, socketB, nil).
		WithClock(clock).
		AddPlayer(ggrs.PlayerTypeLocal, 1, nil).
		AddPlayer(ggrs.PlayerTypeRemote, 0, stringAddr("a")).
		StartSession()
	require.NoError(t, err)

	return sessA, sessB
}

func runUntilRunning(t *testing.T, a, b *P2P[uint8, uint32]) {
	t.Helper()
	for round := 0; round < 50 && (a.CurrentState() != ggrs.SessionStateRunning || b.CurrentState() != ggrs.SessionStateRunning); round++ {
		a.Poll()
		b.Poll()
	}
	require.Equal(t, ggrs.SessionStateRunning, a.CurrentState())
	require.Equal(t, ggrs.SessionStateRunning, b.CurrentState())
}

func TestP2PSessionsSynchronize(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	a, b := buildPair(t, clock)
	assert.Equal(t, ggrs.SessionStateSynchronizing, a.CurrentState())
	runUntilRunning(t, a, b)
}

func TestP2PAddLocalInputRejectsRemoteHandle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	a, _ := buildPair(t, clock)
	err := a.AddLocalInput(1, 42)
	assert.Error(t, err)
}

func TestP2PAdvanceRequiresLocalInput(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	a, b := buildPair(t, clock)
	runUntilRunning(t, a, b)

	_, err := a.Advance()
	assert.Error(t, err)
}

func TestP2PAdvanceExchangesInput(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	a, b := buildPair(t, clock)
	runUntilRunning(t, a, b)

	var stateA, stateB uint32
	savedA := make(map[ggrs.Frame]uint32)
	savedB := make(map[ggrs.Frame]uint32)

	for frame := 0; frame < 10; frame++ {
		require.NoError(t, a.AddLocalInput(0, uint8(frame)))
		require.NoError(t, b.AddLocalInput(1, uint8(frame*2)))

		reqA, err := a.Advance()
		require.NoError(t, err)
		fulfillRequests(t, reqA, &stateA, savedA)

		reqB, err := b.Advance()
		require.NoError(t, err)
		fulfillRequests(t, reqB, &stateB, savedB)
	}

	assert.Equal(t, ggrs.Frame(10), a.CurrentFrame())
	assert.Equal(t, ggrs.Frame(10), b.CurrentFrame())
}

// TestP2PAdvanceAccumulatesEventsUntilPolled makes sure events raised
// during Advance's internal network poll (anything routed through
// handleEndpointEvent, not just the WaitRecommendationEvent Advance pushes
// directly) survive until the caller actually calls Poll, rather than being
// silently discarded because Advance doesn't drain them itself.
func TestP2PAdvanceAccumulatesEventsUntilPolled(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	socketA := newPairedSocket("a")
	socketB := newPairedSocket("b")
	link(socketA, socketB)

	a, err := NewP2PBuilder[uint8, uint32](2, socketA, nil).
		WithClock(clock).
		WithDesyncDetection(ggrs.DesyncDetection{Enabled: true, Interval: 1}).
		AddPlayer(ggrs.PlayerTypeLocal, 0, nil).
		AddPlayer(ggrs.PlayerTypeRemote, 1, stringAddr("b")).
		StartSession()
	require.NoError(t, err)

	b, err := NewP2PBuilder[uint8, uint32](2, socketB, nil).
		WithClock(clock).
		WithDesyncDetection(ggrs.DesyncDetection{Enabled: true, Interval: 1}).
		AddPlayer(ggrs.PlayerTypeLocal, 1, nil).
		AddPlayer(ggrs.PlayerTypeRemote, 0, stringAddr("a")).
		StartSession()
	require.NoError(t, err)

	runUntilRunning(t, a, b)

	var stateA, stateB uint32
	savedA := make(map[ggrs.Frame]uint32)
	savedB := make(map[ggrs.Frame]uint32)

	// Side b tampers its own saved checksum on frame 1, simulating a
	// simulation that has quietly diverged from a's.
	tamperOnFrame := ggrs.Frame(1)

	for frame := 0; frame < 4; frame++ {
		require.NoError(t, a.AddLocalInput(0, uint8(frame)))
		require.NoError(t, b.AddLocalInput(1, uint8(frame)))

		reqA, err := a.Advance()
		require.NoError(t, err)
		fulfillRequests(t, reqA, &stateA, savedA)

		reqB, err := b.Advance()
		require.NoError(t, err)
		for _, req := range reqB {
			switch r := req.(type) {
			case ggrs.SaveRequest[uint32]:
				var checksum [16]byte
				checksum[0] = byte(stateB)
				if r.Frame == tamperOnFrame {
					checksum[0] ^= 0xFF
				}
				r.Cell.Save(stateB, checksum)
				savedB[r.Frame] = stateB
			case ggrs.LoadRequest[uint32]:
				stateB = r.Cell.Load()
			case ggrs.AdvanceRequest[uint8]:
				stateB++
			}
		}
	}

	// Neither side's events have been polled yet: a DesyncDetectedEvent
	// raised somewhere in those four Advance calls must still be sitting in
	// the session's event queue rather than lost.
	var sawDesync bool
	for _, ev := range a.Poll() {
		if _, ok := ev.(ggrs.DesyncDetectedEvent); ok {
			sawDesync = true
		}
	}
	for round := 0; round < 5 && !sawDesync; round++ {
		a.Poll()
		b.Poll()
		for _, ev := range a.Poll() {
			if _, ok := ev.(ggrs.DesyncDetectedEvent); ok {
				sawDesync = true
			}
		}
	}
	assert.True(t, sawDesync, "expected a to report a desync once b's tampered checksum report arrived")
}

func TestP2PDisconnectPlayer(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	a, b := buildPair(t, clock)
	runUntilRunning(t, a, b)

	assert.Error(t, a.DisconnectPlayer(0))
	require.NoError(t, a.DisconnectPlayer(1))
	assert.ErrorIs(t, a.DisconnectPlayer(1), ggrs.ErrPlayerDisconnected)
}
