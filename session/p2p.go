package session

import (
	"encoding/binary"
	"fmt"
	"net"

	"go.uber.org/zap"

	ggrs "github.com/gschup/ggrs-sub000"
	"github.com/gschup/ggrs-sub000/internal/inputqueue"
	"github.com/gschup/ggrs-sub000/internal/protocol"
	"github.com/gschup/ggrs-sub000/internal/synclayer"
)

const (
	maxEventQueueSize     = 100
	minRecommendation     = 3
	recommendationInterval = 60
)

// P2P is a full peer-to-peer session: it exchanges input with one or more
// remote players, predicts and rolls back on misprediction, and broadcasts
// confirmed input to any spectators that were registered on it.
type P2P[I comparable, S any] struct {
	numPlayers   int
	localHandles []ggrs.PlayerHandle
	players      map[ggrs.PlayerHandle]ggrs.PlayerConfig

	socket  ggrs.NonBlockingSocket
	sync    *synclayer.Layer[I, S]
	remotes map[ggrs.PlayerHandle]*protocol.Endpoint[I]

	spectators         map[ggrs.PlayerHandle]*protocol.Endpoint[ggrs.SpectatorInput]
	nextSpectatorFrame ggrs.Frame
	inputSize          int

	localConnectStatus []synclayer.ConnectionStatus
	disconnectFrame    ggrs.Frame

	sparseSaving bool
	state        ggrs.SessionState
	events       []ggrs.Event

	frameAhead           int32
	nextRecommendedSleep ggrs.Frame

	stagedInputs map[ggrs.PlayerHandle]I

	desync                  ggrs.DesyncDetection
	lastChecksumReportFrame ggrs.Frame
	metrics                 *Metrics

	log   *zap.SugaredLogger
	clock ggrs.Clock
}

func newP2P[I comparable, S any](b *P2PBuilder[I, S]) *P2P[I, S] {
	s := &P2P[I, S]{
		numPlayers:           b.numPlayers,
		players:              b.players,
		socket:               b.socket,
		sync:                 synclayer.New[I, S](b.numPlayers),
		remotes:              make(map[ggrs.PlayerHandle]*protocol.Endpoint[I]),
		spectators:           make(map[ggrs.PlayerHandle]*protocol.Endpoint[ggrs.SpectatorInput]),
		nextSpectatorFrame:   0,
		localConnectStatus:   make([]synclayer.ConnectionStatus, b.numPlayers),
		disconnectFrame:      ggrs.NullFrame,
		sparseSaving:         b.sparseSaving,
		state:                ggrs.SessionStateSynchronizing,
		nextRecommendedSleep:    0,
		stagedInputs:            make(map[ggrs.PlayerHandle]I),
		desync:                  b.desync,
		lastChecksumReportFrame: ggrs.NullFrame,
		metrics:                 b.metrics,
		log:                     b.log,
		clock:                   b.clock,
	}

	var zero I
	s.inputSize = len(protocol.MarshalInput(zero))

	s.sync.SetPredictor(b.predictor)
	for h := range s.localConnectStatus {
		s.localConnectStatus[h] = synclayer.ConnectionStatus{LastFrame: ggrs.NullFrame}
	}

	for handle, cfg := range b.players {
		switch cfg.Type {
		case ggrs.PlayerTypeLocal:
			s.localHandles = append(s.localHandles, handle)
			if b.inputDelay > 0 {
				s.sync.SetFrameDelay(handle, b.inputDelay)
			}
		case ggrs.PlayerTypeRemote:
			ep := s.newRemoteEndpoint(handle, cfg.Addr, b)
			s.remotes[handle] = ep
		case ggrs.PlayerTypeSpectator:
			ep := protocol.New[ggrs.SpectatorInput](handle, cfg.Addr, b.numPlayers, b.clock, b.log)
			ep.SetDisconnectTimeout(b.disconnectTimeout)
			ep.SetDisconnectNotifyStart(b.disconnectNotifyStart)
			ep.SetFPS(b.fps)
			ep.Synchronize()
			s.spectators[handle] = ep
		}
	}

	return s
}

func (s *P2P[I, S]) newRemoteEndpoint(handle ggrs.PlayerHandle, addr net.Addr, b *P2PBuilder[I, S]) *protocol.Endpoint[I] {
	ep := protocol.New[I](handle, addr, b.numPlayers, b.clock, b.log)
	ep.SetDisconnectTimeout(b.disconnectTimeout)
	ep.SetDisconnectNotifyStart(b.disconnectNotifyStart)
	ep.SetFPS(b.fps)
	ep.Synchronize()
	return ep
}

// AddLocalInput stages input for a local player to be picked up by the next
// Advance call. Returns ggrs.InvalidHandleError if handle does not refer to
// a local player on this session.
func (s *P2P[I, S]) AddLocalInput(handle ggrs.PlayerHandle, input I) error {
	cfg, ok := s.players[handle]
	if !ok || cfg.Type != ggrs.PlayerTypeLocal {
		return ggrs.InvalidHandleError{Handle: handle}
	}
	s.stagedInputs[handle] = input
	return nil
}

// Poll drains the socket, dispatches arrived packets to their endpoints,
// runs every endpoint's timers, and returns every user-facing event
// accumulated since the last call to Poll. Advance runs the same network
// poll as its first step but never drains events, so events raised during
// Advance wait here until the next Poll; callers may also call Poll
// standalone between ticks for lower-latency event delivery.
func (s *P2P[I, S]) Poll() []ggrs.Event {
	s.pollNetwork()

	out := s.events
	s.events = nil
	return out
}

// pollNetwork does the network side of polling without draining
// s.events, so Advance's internal call doesn't throw away events a
// standalone Poll call would otherwise have delivered.
func (s *P2P[I, S]) pollNetwork() {
	for _, recv := range s.socket.ReceiveAll() {
		for _, ep := range s.remotes {
			if ep.IsHandlingMessage(recv.From) {
				ep.HandleMessage(recv.Msg)
			}
		}
		for _, ep := range s.spectators {
			if ep.IsHandlingMessage(recv.From) {
				ep.HandleMessage(recv.Msg)
			}
		}
	}

	for handle, ep := range s.remotes {
		if ep.IsRunning() {
			ep.UpdateLocalFrameAdvantage(s.sync.CurrentFrame())
			if stats, ok := ep.NetworkStats(); ok {
				s.metrics.observeNetworkStats(handle, stats)
			}
		}
	}

	type pending struct {
		handle ggrs.PlayerHandle
		event  ggrs.Event
	}
	var collected []pending
	for handle, ep := range s.remotes {
		connectStatus := s.peerConnectStatusView()
		for _, ev := range ep.Poll(connectStatus) {
			collected = append(collected, pending{handle, ev})
		}
	}
	for handle, ep := range s.spectators {
		for _, ev := range ep.Poll(nil) {
			collected = append(collected, pending{handle, ev})
		}
	}

	for _, p := range collected {
		s.handleEndpointEvent(p.handle, p.event)
	}

	for _, ep := range s.remotes {
		ep.SendAllMessages(s.socket)
	}
	for _, ep := range s.spectators {
		ep.SendAllMessages(s.socket)
	}
}

// peerConnectStatusView snapshots this session's view of every player's
// connection status, in the shape an endpoint piggybacks to its peer on
// every Input message it sends.
func (s *P2P[I, S]) peerConnectStatusView() []protocol.ConnectionStatus {
	out := make([]protocol.ConnectionStatus, s.numPlayers)
	for h := range out {
		out[h] = protocol.ConnectionStatus{
			Disconnected: s.localConnectStatus[h].Disconnected,
			LastFrame:    s.localConnectStatus[h].LastFrame,
		}
	}
	return out
}

func (s *P2P[I, S]) handleEndpointEvent(handle ggrs.PlayerHandle, event ggrs.Event) {
	switch ev := event.(type) {
	case ggrs.SynchronizingEvent:
		s.pushEvent(ggrs.SynchronizingEvent{Handle: handle, Total: ev.Total, Count: ev.Count})
	case ggrs.NetworkInterruptedEvent:
		s.pushEvent(ggrs.NetworkInterruptedEvent{Handle: handle, DisconnectTimeout: ev.DisconnectTimeout})
	case ggrs.NetworkResumedEvent:
		s.pushEvent(ggrs.NetworkResumedEvent{Handle: handle})
	case ggrs.SynchronizedEvent:
		s.checkInitialSync()
		s.pushEvent(ggrs.SynchronizedEvent{Handle: handle})
	case ggrs.DisconnectedEvent:
		lastFrame := ggrs.NullFrame
		if int(handle) < s.numPlayers {
			lastFrame = s.localConnectStatus[handle].LastFrame
		}
		s.disconnectPlayerAtFrame(handle, lastFrame)
		s.metrics.observeDisconnect(handle)
		s.pushEvent(ggrs.DisconnectedEvent{Handle: handle})
	case protocol.ReceivedInputEvent[I]:
		if int(handle) < s.numPlayers && !s.localConnectStatus[handle].Disconnected {
			s.localConnectStatus[handle].LastFrame = ev.Frame
			s.sync.AddRemoteInput(handle, ev.Frame, ev.Input)
		}
	case protocol.ReceivedChecksumEvent:
		s.checkRemoteChecksum(handle, ev.Frame, ev.Checksum)
	}
}

// checkRemoteChecksum compares a remote checksum report against this
// session's own checksum for the same frame, firing DesyncDetectedEvent on a
// mismatch. Silently does nothing if the local state for that frame is no
// longer held in the save-state ring, since the comparison is only possible
// while both sides still have it.
func (s *P2P[I, S]) checkRemoteChecksum(handle ggrs.PlayerHandle, frame ggrs.Frame, remoteChecksum uint64) {
	cell, ok := s.sync.SavedStateByFrame(frame)
	if !ok {
		return
	}
	checksum := cell.Checksum()
	if checksum.IsZero() {
		return
	}
	local := binary.BigEndian.Uint64(checksum[:8])
	if local != remoteChecksum {
		s.pushEvent(ggrs.DesyncDetectedEvent{
			Frame:          frame,
			Handle:         handle,
			LocalChecksum:  local,
			RemoteChecksum: remoteChecksum,
		})
	}
}

func (s *P2P[I, S]) pushEvent(event ggrs.Event) {
	s.events = append(s.events, event)
	if len(s.events) > maxEventQueueSize {
		s.events = s.events[len(s.events)-maxEventQueueSize:]
	}
}

// Advance runs one full session tick: it polls the network, rolls back and
// resimulates if a misprediction surfaced, broadcasts confirmed input to
// spectators, stages every local player's input into the sync layer, and
// returns the ordered request stream the caller must execute exactly as
// given before calling Advance again.
func (s *P2P[I, S]) Advance() ([]ggrs.Request, error) {
	s.pollNetwork()

	if s.state != ggrs.SessionStateRunning {
		return nil, ggrs.ErrNotSynchronized
	}

	for _, handle := range s.localHandles {
		if _, ok := s.stagedInputs[handle]; !ok {
			return nil, ggrs.InvalidRequestError{
				Info: fmt.Sprintf("AddLocalInput was not called for local player %d before Advance", handle),
			}
		}
	}

	var requests []ggrs.Request

	if s.sync.CurrentFrame() == 0 {
		requests = append(requests, s.sync.SaveCurrentState())
	}

	s.updatePlayerDisconnects()

	confirmedFrame := s.confirmedFrame()

	firstIncorrect, mispredicted := s.sync.CheckSimulationConsistency()
	if s.disconnectFrame != ggrs.NullFrame && (!mispredicted || s.disconnectFrame < firstIncorrect) {
		firstIncorrect, mispredicted = s.disconnectFrame, true
	}
	if mispredicted {
		s.adjustGamestate(firstIncorrect, confirmedFrame, &requests)
		s.disconnectFrame = ggrs.NullFrame
	}

	if s.sparseSaving && s.sync.CurrentFrame()-s.sync.LastSavedFrame() >= ggrs.MaxPrediction {
		if confirmedFrame >= s.sync.CurrentFrame() {
			requests = append(requests, s.sync.SaveCurrentState())
		} else {
			s.adjustGamestate(s.sync.LastSavedFrame(), confirmedFrame, &requests)
		}
	}

	s.sendConfirmedInputsToSpectators(confirmedFrame)

	if s.desync.Enabled {
		s.reportChecksums(confirmedFrame)
	}

	s.sync.SetLastConfirmedFrame(confirmedFrame, s.sparseSaving)

	s.frameAhead = s.maxFrameAdvantage()
	if s.sync.CurrentFrame() > s.nextRecommendedSleep && s.frameAhead >= minRecommendation {
		s.nextRecommendedSleep = s.sync.CurrentFrame() + recommendationInterval
		s.pushEvent(ggrs.WaitRecommendationEvent{SkipFrames: uint32(s.frameAhead)})
	}

	for _, handle := range s.localHandles {
		input := s.stagedInputs[handle]
		delete(s.stagedInputs, handle)

		actualFrame, err := s.sync.AddLocalInput(handle, input)
		if err != nil {
			return nil, err
		}
		if actualFrame == ggrs.NullFrame {
			continue
		}
		s.localConnectStatus[handle].LastFrame = actualFrame

		for _, ep := range s.remotes {
			ep.SendInput(inputqueue.GameInput[I]{Frame: actualFrame, Input: input}, s.peerConnectStatusView())
		}
	}
	for _, ep := range s.remotes {
		ep.SendAllMessages(s.socket)
	}

	if !s.sparseSaving {
		requests = append(requests, s.sync.SaveCurrentState())
	}

	inputs := s.sync.SynchronizedInputs(s.localConnectStatus)
	s.sync.AdvanceFrame()
	requests = append(requests, ggrs.AdvanceRequest[I]{Inputs: inputs})

	return requests, nil
}

func (s *P2P[I, S]) adjustGamestate(firstIncorrect, minConfirmed ggrs.Frame, requests *[]ggrs.Request) {
	currentFrame := s.sync.CurrentFrame()

	frameToLoad := firstIncorrect
	if s.sparseSaving {
		frameToLoad = s.sync.LastSavedFrame()
	}

	count := currentFrame - frameToLoad
	s.metrics.observeRollback(count)
	*requests = append(*requests, s.sync.LoadFrame(frameToLoad))
	s.sync.ResetPrediction()

	for i := ggrs.Frame(0); i < count; i++ {
		inputs := s.sync.SynchronizedInputs(s.localConnectStatus)
		s.sync.AdvanceFrame()
		*requests = append(*requests, ggrs.AdvanceRequest[I]{Inputs: inputs})

		if s.sparseSaving {
			if s.sync.CurrentFrame() == minConfirmed {
				*requests = append(*requests, s.sync.SaveCurrentState())
			}
		} else {
			*requests = append(*requests, s.sync.SaveCurrentState())
		}
	}
}

// sendConfirmedInputsToSpectators broadcasts every player's confirmed input
// for each frame up through confirmedFrame to every running spectator,
// packed into one merged ggrs.SpectatorInput per frame. The original this
// is grounded on sent a blank zero-frame placeholder here instead of the
// real input bytes; this sends the actual confirmed input for every player.
func (s *P2P[I, S]) sendConfirmedInputsToSpectators(confirmedFrame ggrs.Frame) {
	if len(s.spectators) == 0 {
		return
	}

	for s.nextSpectatorFrame <= confirmedFrame {
		inputs := s.sync.ConfirmedInputs(s.nextSpectatorFrame, s.localConnectStatus)
		merged := s.packSpectatorInput(inputs)

		for _, ep := range s.spectators {
			if ep.IsRunning() {
				ep.SendInput(inputqueue.GameInput[ggrs.SpectatorInput]{Frame: s.nextSpectatorFrame, Input: merged}, nil)
			}
		}
		s.nextSpectatorFrame++
	}
}

// reportChecksums sends a checksum report for every desync.Interval-aligned
// frame newly confirmed since the last report, for as long as the
// corresponding save-state slot is still held in the ring. A frame whose
// slot has already been recycled (e.g. under sparse saving) is skipped
// rather than blocking later frames from being reported.
func (s *P2P[I, S]) reportChecksums(confirmedFrame ggrs.Frame) {
	interval := ggrs.Frame(s.desync.Interval)
	if interval <= 0 {
		return
	}

	start := s.lastChecksumReportFrame + 1
	if s.lastChecksumReportFrame == ggrs.NullFrame {
		start = 0
	}

	for frame := start; frame <= confirmedFrame; frame++ {
		if frame%interval != 0 {
			continue
		}
		cell, ok := s.sync.SavedStateByFrame(frame)
		if !ok || cell.Checksum().IsZero() {
			continue
		}
		checksum := cell.Checksum()
		report := binary.BigEndian.Uint64(checksum[:8])
		for _, ep := range s.remotes {
			ep.QueueChecksumReport(frame, report)
		}
	}
	if confirmedFrame > s.lastChecksumReportFrame {
		s.lastChecksumReportFrame = confirmedFrame
	}
}

func (s *P2P[I, S]) packSpectatorInput(inputs []I) ggrs.SpectatorInput {
	var merged ggrs.SpectatorInput
	offset := 0
	for _, in := range inputs {
		b := protocol.MarshalInput(in)
		copy(merged[offset:], b)
		offset += s.inputSize
	}
	return merged
}

func (s *P2P[I, S]) updatePlayerDisconnects() {
	for h := 0; h < s.numPlayers; h++ {
		handle := ggrs.PlayerHandle(h)
		queueConnected := true
		queueMinConfirmed := int32(1<<31 - 1)

		for _, ep := range s.remotes {
			if !ep.IsRunning() {
				continue
			}
			status := ep.PeerConnectStatus(handle)
			if status.Disconnected {
				queueConnected = false
			}
			if int32(status.LastFrame) < queueMinConfirmed {
				queueMinConfirmed = int32(status.LastFrame)
			}
		}

		localConnected := !s.localConnectStatus[handle].Disconnected
		localMinConfirmed := s.localConnectStatus[handle].LastFrame
		if localConnected && int32(localMinConfirmed) < queueMinConfirmed {
			queueMinConfirmed = int32(localMinConfirmed)
		}

		if !queueConnected {
			if localConnected || localMinConfirmed > ggrs.Frame(queueMinConfirmed) {
				s.disconnectPlayerAtFrame(handle, ggrs.Frame(queueMinConfirmed))
			}
		}
	}
}

func (s *P2P[I, S]) disconnectPlayerAtFrame(handle ggrs.PlayerHandle, lastFrame ggrs.Frame) {
	cfg, ok := s.players[handle]
	if !ok {
		return
	}
	switch cfg.Type {
	case ggrs.PlayerTypeRemote:
		if ep, ok := s.remotes[handle]; ok {
			s.localConnectStatus[handle].Disconnected = true
			ep.Disconnect()
			if s.sync.CurrentFrame() > lastFrame {
				s.disconnectFrame = lastFrame + 1
			}
		}
	case ggrs.PlayerTypeSpectator:
		if ep, ok := s.spectators[handle]; ok {
			ep.Disconnect()
		}
	}
	s.checkInitialSync()
}

func (s *P2P[I, S]) checkInitialSync() {
	if s.state != ggrs.SessionStateSynchronizing {
		return
	}
	for _, ep := range s.remotes {
		if !ep.IsSynchronized() {
			return
		}
	}
	for _, ep := range s.spectators {
		if !ep.IsSynchronized() {
			return
		}
	}
	s.state = ggrs.SessionStateRunning
}

// confirmedFrame returns the lowest last-confirmed frame among every
// non-disconnected player, the frame through which every player's input is
// known.
func (s *P2P[I, S]) confirmedFrame() ggrs.Frame {
	confirmed := ggrs.Frame(1<<31 - 1)
	for h := range s.localConnectStatus {
		if !s.localConnectStatus[h].Disconnected && s.localConnectStatus[h].LastFrame < confirmed {
			confirmed = s.localConnectStatus[h].LastFrame
		}
	}
	return confirmed
}

func (s *P2P[I, S]) maxFrameAdvantage() int32 {
	var interval int32 = -1 << 31
	for handle, ep := range s.remotes {
		if s.localConnectStatus[handle].Disconnected {
			continue
		}
		if v := int32(ep.RecommendFrameDelay(false)); v > interval {
			interval = v
		}
	}
	if interval == -1<<31 {
		return 0
	}
	return interval
}

// NetworkStats reports link quality to a remote player or spectator.
func (s *P2P[I, S]) NetworkStats(handle ggrs.PlayerHandle) (ggrs.NetworkStats, error) {
	if ep, ok := s.remotes[handle]; ok {
		stats, ok := ep.NetworkStats()
		if !ok {
			return ggrs.NetworkStats{}, ggrs.ErrNotSynchronized
		}
		return stats, nil
	}
	if ep, ok := s.spectators[handle]; ok {
		stats, ok := ep.NetworkStats()
		if !ok {
			return ggrs.NetworkStats{}, ggrs.ErrNotSynchronized
		}
		return stats, nil
	}
	return ggrs.NetworkStats{}, ggrs.InvalidHandleError{Handle: handle}
}

// DisconnectPlayer manually disconnects a remote player or spectator.
func (s *P2P[I, S]) DisconnectPlayer(handle ggrs.PlayerHandle) error {
	cfg, ok := s.players[handle]
	if !ok {
		return ggrs.InvalidHandleError{Handle: handle}
	}
	switch cfg.Type {
	case ggrs.PlayerTypeLocal:
		return ggrs.InvalidRequestError{Info: "cannot disconnect a local player"}
	case ggrs.PlayerTypeRemote:
		if s.localConnectStatus[handle].Disconnected {
			return ggrs.ErrPlayerDisconnected
		}
		s.disconnectPlayerAtFrame(handle, s.sync.CurrentFrame())
		return nil
	case ggrs.PlayerTypeSpectator:
		s.disconnectPlayerAtFrame(handle, ggrs.NullFrame)
		return nil
	}
	return ggrs.InvalidHandleError{Handle: handle}
}

// CurrentFrame returns the frame the session is currently on.
func (s *P2P[I, S]) CurrentFrame() ggrs.Frame {
	return s.sync.CurrentFrame()
}

// CurrentState returns whether the session is still synchronizing or
// running.
func (s *P2P[I, S]) CurrentState() ggrs.SessionState {
	return s.state
}

// FramesAhead returns how many frames this session is estimated to be ahead
// of the slowest remote peer.
func (s *P2P[I, S]) FramesAhead() int {
	return int(s.frameAhead)
}

// NumPlayers returns the number of input-contributing player slots.
func (s *P2P[I, S]) NumPlayers() int {
	return s.numPlayers
}
