package session

import (
	"net"

	"go.uber.org/zap"

	ggrs "github.com/gschup/ggrs-sub000"
	"github.com/gschup/ggrs-sub000/internal/inputqueue"
	"github.com/gschup/ggrs-sub000/internal/protocol"
)

// Spectator receives every confirmed input a P2P session's host broadcasts
// to it and replays the game without contributing any input of its own. It
// has no builder: unlike P2P it talks to exactly one peer, so there is
// nothing to configure beyond the constructor arguments.
type Spectator[I comparable, S any] struct {
	numPlayers int
	inputSize  int

	socket            ggrs.NonBlockingSocket
	host              *protocol.Endpoint[ggrs.SpectatorInput]
	hostConnectStatus []protocol.ConnectionStatus
	inputs            [ggrs.SpectatorBufferSize]inputqueue.GameInput[ggrs.SpectatorInput]

	state           ggrs.SessionState
	currentFrame    ggrs.Frame
	lastRecvFrame   ggrs.Frame
	maxFramesBehind uint32
	catchupSpeed    uint32

	events []ggrs.Event
}

// NewSpectator returns a spectator session that will receive numPlayers
// players' confirmed input from hostAddr over socket.
func NewSpectator[I comparable, S any](numPlayers int, socket ggrs.NonBlockingSocket, hostAddr net.Addr, clock ggrs.Clock, log *zap.SugaredLogger) *Spectator[I, S] {
	if clock == nil {
		clock = ggrs.RealClock{}
	}
	var zero I
	inputSize := len(protocol.MarshalInput(zero))

	host := protocol.New[ggrs.SpectatorInput](ggrs.PlayerHandle(0), hostAddr, numPlayers, clock, log)

	s := &Spectator[I, S]{
		numPlayers:        numPlayers,
		inputSize:         inputSize,
		socket:            socket,
		host:              host,
		hostConnectStatus: make([]protocol.ConnectionStatus, numPlayers),
		state:             ggrs.SessionStateSynchronizing,
		currentFrame:      ggrs.NullFrame,
		lastRecvFrame:     ggrs.NullFrame,
		maxFramesBehind:   ggrs.DefaultMaxFramesBehind,
		catchupSpeed:      ggrs.DefaultCatchupSpeed,
	}
	for i := range s.inputs {
		s.inputs[i].Frame = ggrs.NullFrame
	}

	host.Synchronize()
	return s
}

// CurrentState returns whether the spectator is still synchronizing with
// the host or running.
func (s *Spectator[I, S]) CurrentState() ggrs.SessionState {
	return s.state
}

// CurrentFrame returns the frame the spectator is currently on.
func (s *Spectator[I, S]) CurrentFrame() ggrs.Frame {
	return s.currentFrame
}

// FramesBehindHost returns how many frames behind the host's most recently
// received input the spectator currently is.
func (s *Spectator[I, S]) FramesBehindHost() uint32 {
	diff := s.lastRecvFrame - s.currentFrame
	if diff < 0 {
		return 0
	}
	return uint32(diff)
}

// SetCatchupSpeed overrides how many frames the spectator advances per
// Advance call once it falls maxFramesBehind behind the host.
func (s *Spectator[I, S]) SetCatchupSpeed(speed uint32) error {
	if speed < 1 {
		return ggrs.InvalidRequestError{Info: "catchup speed cannot be smaller than 1"}
	}
	if speed >= s.maxFramesBehind {
		return ggrs.InvalidRequestError{Info: "catchup speed cannot be larger than or equal to the allowed maximum frames behind host"}
	}
	s.catchupSpeed = speed
	return nil
}

// SetMaxFramesBehind overrides how many frames behind the host the
// spectator tolerates before catching up faster than real time.
func (s *Spectator[I, S]) SetMaxFramesBehind(frames uint32) error {
	if frames < 1 {
		return ggrs.InvalidRequestError{Info: "max frames behind cannot be smaller than 1"}
	}
	if frames >= ggrs.SpectatorBufferSize {
		return ggrs.InvalidRequestError{Info: "max frames behind cannot be larger than or equal to the spectator buffer size"}
	}
	s.maxFramesBehind = frames
	return nil
}

// SetFPS overrides the expected simulation rate, used to convert estimated
// ping into a frame-advantage sample.
func (s *Spectator[I, S]) SetFPS(fps uint32) error {
	if fps == 0 {
		return ggrs.InvalidRequestError{Info: "fps should be higher than 0"}
	}
	s.host.SetFPS(fps)
	return nil
}

// NetworkStats reports link quality to the host.
func (s *Spectator[I, S]) NetworkStats() (ggrs.NetworkStats, error) {
	stats, ok := s.host.NetworkStats()
	if !ok {
		return ggrs.NetworkStats{}, ggrs.ErrNotSynchronized
	}
	return stats, nil
}

// NumPlayers returns the number of players this session was constructed
// with.
func (s *Spectator[I, S]) NumPlayers() int {
	return s.numPlayers
}

// Poll drains the socket, feeds the host endpoint, and returns every
// user-facing event accumulated since the last call to Poll. Advance runs
// the same network poll as its first step but never drains events, so
// events raised during Advance wait here until the next Poll; callers may
// also call Poll standalone between ticks for lower-latency event delivery.
func (s *Spectator[I, S]) Poll() []ggrs.Event {
	s.pollNetwork()

	out := s.events
	s.events = nil
	return out
}

// pollNetwork does the network side of polling without draining s.events,
// so Advance's internal call doesn't throw away events a standalone Poll
// call would otherwise have delivered.
func (s *Spectator[I, S]) pollNetwork() {
	for _, recv := range s.socket.ReceiveAll() {
		if s.host.IsHandlingMessage(recv.From) {
			s.host.HandleMessage(recv.Msg)
		}
	}

	for _, ev := range s.host.Poll(s.hostConnectStatus) {
		s.handleEvent(ev)
	}

	s.host.SendAllMessages(s.socket)
}

func (s *Spectator[I, S]) handleEvent(event ggrs.Event) {
	const handle ggrs.PlayerHandle = 0
	switch ev := event.(type) {
	case ggrs.SynchronizingEvent:
		s.pushEvent(ggrs.SynchronizingEvent{Handle: handle, Total: ev.Total, Count: ev.Count})
	case ggrs.NetworkInterruptedEvent:
		s.pushEvent(ggrs.NetworkInterruptedEvent{Handle: handle, DisconnectTimeout: ev.DisconnectTimeout})
	case ggrs.NetworkResumedEvent:
		s.pushEvent(ggrs.NetworkResumedEvent{Handle: handle})
	case ggrs.SynchronizedEvent:
		s.state = ggrs.SessionStateRunning
		s.pushEvent(ggrs.SynchronizedEvent{Handle: handle})
	case ggrs.DisconnectedEvent:
		s.pushEvent(ggrs.DisconnectedEvent{Handle: handle})
	case protocol.ReceivedInputEvent[ggrs.SpectatorInput]:
		s.inputs[int(ev.Frame)%ggrs.SpectatorBufferSize] = inputqueue.GameInput[ggrs.SpectatorInput]{Frame: ev.Frame, Input: ev.Input}
		s.lastRecvFrame = ev.Frame
		s.host.UpdateLocalFrameAdvantage(ev.Frame)
		for i := 0; i < s.numPlayers; i++ {
			s.hostConnectStatus[i] = s.host.PeerConnectStatus(ggrs.PlayerHandle(i))
		}
	}
}

func (s *Spectator[I, S]) pushEvent(event ggrs.Event) {
	s.events = append(s.events, event)
	if len(s.events) > maxEventQueueSize {
		s.events = s.events[len(s.events)-maxEventQueueSize:]
	}
}

// Advance steps the spectator forward, returning one AdvanceRequest per
// frame it advances (normally one, or catchupSpeed-many if it has fallen
// too far behind the host). Returns ggrs.ErrNotSynchronized if the
// handshake has not completed, ggrs.ErrPredictionThreshold if the host's
// input for the next frame has not arrived yet, and
// ggrs.ErrSpectatorTooFarBehind if the host is more than
// ggrs.SpectatorBufferSize frames ahead, meaning the needed input was
// already evicted from the ring.
func (s *Spectator[I, S]) Advance() ([]ggrs.Request, error) {
	s.pollNetwork()

	if s.state != ggrs.SessionStateRunning {
		return nil, ggrs.ErrNotSynchronized
	}

	framesToAdvance := uint32(1)
	if s.FramesBehindHost() > s.maxFramesBehind {
		framesToAdvance = s.catchupSpeed
	}

	var requests []ggrs.Request
	for i := uint32(0); i < framesToAdvance; i++ {
		frameToGrab := s.currentFrame + 1
		inputs, err := s.inputsAtFrame(frameToGrab)
		if err != nil {
			return requests, err
		}
		requests = append(requests, ggrs.AdvanceRequest[I]{Inputs: inputs})
		s.currentFrame++
	}

	return requests, nil
}

func (s *Spectator[I, S]) inputsAtFrame(frameToGrab ggrs.Frame) ([]ggrs.PlayerInput[I], error) {
	merged := s.inputs[int(frameToGrab)%ggrs.SpectatorBufferSize]

	if merged.Frame < frameToGrab {
		return nil, ggrs.ErrPredictionThreshold
	}
	if merged.Frame > frameToGrab {
		return nil, ggrs.ErrSpectatorTooFarBehind
	}

	out := make([]ggrs.PlayerInput[I], s.numPlayers)
	for i := 0; i < s.numPlayers; i++ {
		start := i * s.inputSize
		end := start + s.inputSize

		var in I
		protocol.UnmarshalInput(merged.Input[start:end], &in)

		status := ggrs.InputStatusConfirmed
		if s.hostConnectStatus[i].Disconnected && s.hostConnectStatus[i].LastFrame < frameToGrab {
			status = ggrs.InputStatusDisconnected
			var zero I
			in = zero
		}
		out[i] = ggrs.PlayerInput[I]{Input: in, Status: status}
	}
	return out, nil
}
