// Package protocol implements the per-endpoint UDP-flavored session
// protocol: magic-number filtering, a five-round-trip synchronization
// handshake, input exchange with retransmission and acknowledgement,
// periodic quality reports driving time-sync, and keep-alive/disconnect
// timeout tracking. One Endpoint exists per remote player or spectator a
// session talks to.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"time"

	"go.uber.org/zap"

	ggrs "github.com/gschup/ggrs-sub000"
	"github.com/gschup/ggrs-sub000/internal/codec"
	"github.com/gschup/ggrs-sub000/internal/inputqueue"
	"github.com/gschup/ggrs-sub000/internal/timesync"
)

const (
	numSyncPackets      = 5
	udpHeaderSize       = 28
	shutdownTimer       = 5 * time.Second
	pendingOutputSize   = ggrs.PendingOutputSize
	syncRetryInterval   = 200 * time.Millisecond
	runningRetryInterval = 200 * time.Millisecond
	keepAliveInterval   = 200 * time.Millisecond
	qualityReportInterval = 200 * time.Millisecond
	maxSeqDistance      = 1 << 15
)

// DefaultDisconnectTimeout is how long an endpoint waits without receiving
// any packet before declaring the peer disconnected.
const DefaultDisconnectTimeout = 2000 * time.Millisecond

// DefaultDisconnectNotifyStart is how long an endpoint waits without
// receiving any packet before firing NetworkInterruptedEvent, ahead of the
// harder DefaultDisconnectTimeout deadline.
const DefaultDisconnectNotifyStart = 500 * time.Millisecond

type state int

const (
	stateInitializing state = iota
	stateSynchronizing
	stateRunning
	stateDisconnected
	stateShutdown
)

// ConnectionStatus is one player's connection status as tracked or
// broadcast by an endpoint.
type ConnectionStatus struct {
	Disconnected bool
	LastFrame    ggrs.Frame
}

// Endpoint drives the protocol state machine for a single remote peer.
// Nothing in it blocks or spawns goroutines: Poll, SendInput, and
// HandleMessage are all meant to be called from the same loop that calls
// Session.Advance, and every timeout is measured against an injected Clock
// rather than the wall clock directly.
type Endpoint[I comparable] struct {
	handle PlayerHandle
	clock  ggrs.Clock
	log    *zap.SugaredLogger
	rng    *rand.Rand

	magic       uint16
	remoteMagic uint16
	peerAddr    net.Addr

	sendQueue []ggrs.Message
	events    []ggrs.Event

	state                state
	syncRemainingRounds  int
	syncRandomRequest    uint32
	runningLastQuality   time.Time
	runningLastInputRecv time.Time
	disconnectNotifySent bool
	disconnectEventSent  bool

	disconnectTimeout     time.Duration
	disconnectNotifyStart time.Duration
	shutdownDeadline      time.Time
	fps                   uint32

	peerConnectStatus []ConnectionStatus

	pendingOutput      []inputqueue.GameInput[I]
	lastReceivedInput  inputqueue.GameInput[I]
	lastReceivedSet    bool
	lastAckedInput     inputqueue.GameInput[I]
	lastAckedSet       bool

	timeSync              *timesync.TimeSync[I]
	localFrameAdvantage   int32
	remoteFrameAdvantage  int32

	statsStartTime time.Time
	packetsSent    int
	bytesSent      int
	roundTripTime  time.Duration
	lastSendTime   time.Time
	lastRecvTime   time.Time
	sendSeq        uint16
	recvSeq        uint16
}

// PlayerHandle identifies which player or spectator this endpoint talks to,
// kept as a bare alias here so the package does not need to import the root
// package just for the type name in field declarations above.
type PlayerHandle = ggrs.PlayerHandle

// New returns an endpoint for handle at peerAddr, tracking numPlayers
// worth of connection status. It starts in the Initializing state; call
// Synchronize to begin the handshake.
func New[I comparable](handle PlayerHandle, peerAddr net.Addr, numPlayers int, clock ggrs.Clock, log *zap.SugaredLogger) *Endpoint[I] {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	magic := uint16(0)
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(handle)))
	for magic == 0 {
		magic = uint16(rng.Uint32())
	}

	return &Endpoint[I]{
		handle:   handle,
		clock:    clock,
		log:      log,
		rng:      rng,
		magic:    magic,
		peerAddr: peerAddr,

		state:               stateInitializing,
		syncRemainingRounds: numSyncPackets,

		disconnectTimeout:     DefaultDisconnectTimeout,
		disconnectNotifyStart: DefaultDisconnectNotifyStart,
		fps:                   60,

		peerConnectStatus: make([]ConnectionStatus, numPlayers),

		pendingOutput: make([]inputqueue.GameInput[I], 0, pendingOutputSize),
		timeSync:      timesync.New[I](),
	}
}

// PeerAddr returns the address this endpoint sends to.
func (e *Endpoint[I]) PeerAddr() net.Addr {
	return e.peerAddr
}

// IsSynchronized reports whether the handshake has completed, regardless of
// whether the endpoint has since disconnected.
func (e *Endpoint[I]) IsSynchronized() bool {
	return e.state == stateRunning || e.state == stateDisconnected || e.state == stateShutdown
}

// IsRunning reports whether the endpoint is in its steady Running state.
func (e *Endpoint[I]) IsRunning() bool {
	return e.state == stateRunning
}

// SetDisconnectTimeout overrides DefaultDisconnectTimeout.
func (e *Endpoint[I]) SetDisconnectTimeout(d time.Duration) {
	e.disconnectTimeout = d
}

// SetDisconnectNotifyStart overrides DefaultDisconnectNotifyStart.
func (e *Endpoint[I]) SetDisconnectNotifyStart(d time.Duration) {
	e.disconnectNotifyStart = d
}

// SetFPS overrides the expected simulation rate used to convert estimated
// round-trip time into a frame-advantage sample.
func (e *Endpoint[I]) SetFPS(fps uint32) {
	if fps == 0 {
		return
	}
	e.fps = fps
}

// IsHandlingMessage reports whether addr is the peer this endpoint talks
// to, used by a session to route an inbound message to the right endpoint.
func (e *Endpoint[I]) IsHandlingMessage(addr net.Addr) bool {
	return e.peerAddr.String() == addr.String()
}

// PeerConnectStatus returns what this endpoint's last Input message said
// about handle's connection.
func (e *Endpoint[I]) PeerConnectStatus(handle PlayerHandle) ConnectionStatus {
	return e.peerConnectStatus[handle]
}

// Disconnect forces the endpoint into the Disconnected state, scheduling it
// to reach Shutdown after shutdownTimer has passed.
func (e *Endpoint[I]) Disconnect() {
	e.state = stateDisconnected
	e.shutdownDeadline = e.clock.Now().Add(shutdownTimer)
}

// Synchronize begins the handshake, sending the first SyncRequest.
func (e *Endpoint[I]) Synchronize() {
	if e.state != stateInitializing {
		panic("protocol: Synchronize called outside the Initializing state")
	}
	e.state = stateSynchronizing
	e.syncRemainingRounds = numSyncPackets
	e.statsStartTime = e.clock.Now()
	e.sendSyncRequest()
}

// RecommendFrameDelay forwards to the endpoint's time-sync estimator.
func (e *Endpoint[I]) RecommendFrameDelay(requireIdleInput bool) uint32 {
	return e.timeSync.RecommendFrameDelay(requireIdleInput)
}

// NetworkStats reports the endpoint's current link quality, or false if
// the handshake has not progressed far enough to have meaningful numbers.
func (e *Endpoint[I]) NetworkStats() (ggrs.NetworkStats, bool) {
	if e.state != stateSynchronizing && e.state != stateRunning {
		return ggrs.NetworkStats{}, false
	}

	elapsed := e.clock.Now().Sub(e.statsStartTime)
	totalBytes := e.bytesSent + e.packetsSent*udpHeaderSize
	var kbps int64
	if elapsed > time.Second {
		kbps = int64(float64(totalBytes) / elapsed.Seconds() / 1024.0)
	}

	return ggrs.NetworkStats{
		Ping:               e.roundTripTime.Milliseconds(),
		SendQueueLen:       len(e.pendingOutput),
		KbpsSent:           kbps,
		LocalFramesBehind:  e.localFrameAdvantage,
		RemoteFramesBehind: e.remoteFrameAdvantage,
	}, true
}

// Events drains and returns every event accumulated since the last call.
func (e *Endpoint[I]) Events() []ggrs.Event {
	evts := e.events
	e.events = nil
	return evts
}

// Poll advances timers and returns every event accumulated since the last
// drain (including those HandleMessage raised) along with any it raises
// itself while resending sync
// requests, retransmitting pending input, sending keep-alives and quality
// reports, and noticing an interrupted or dead connection. connectStatus is
// the session's current view of every player, forwarded on every Input
// message this endpoint sends.
func (e *Endpoint[I]) Poll(connectStatus []ConnectionStatus) []ggrs.Event {
	now := e.clock.Now()

	switch e.state {
	case stateSynchronizing:
		if e.lastSendTime.Add(syncRetryInterval).Before(now) {
			e.sendSyncRequest()
		}
	case stateRunning:
		if e.runningLastInputRecv.Add(runningRetryInterval).Before(now) {
			e.sendPendingOutput(connectStatus)
			e.runningLastInputRecv = now
		}
		if e.runningLastQuality.Add(qualityReportInterval).Before(now) {
			e.sendQualityReport()
		}
		if e.lastSendTime.Add(keepAliveInterval).Before(now) {
			e.sendKeepAlive()
		}
		if !e.disconnectNotifySent && e.lastRecvTime.Add(e.disconnectNotifyStart).Before(now) {
			remaining := e.disconnectTimeout - e.disconnectNotifyStart
			e.events = append(e.events, ggrs.NetworkInterruptedEvent{Handle: e.handle, DisconnectTimeout: remaining})
			e.disconnectNotifySent = true
			e.log.Debugw("network interrupted", "handle", e.handle)
		}
		if !e.disconnectEventSent && e.lastRecvTime.Add(e.disconnectTimeout).Before(now) {
			e.events = append(e.events, ggrs.DisconnectedEvent{Handle: e.handle})
			e.disconnectEventSent = true
			e.log.Infow("peer disconnected (timeout)", "handle", e.handle)
		}
	case stateDisconnected:
		if e.shutdownDeadline.Before(now) {
			e.state = stateShutdown
		}
	case stateInitializing, stateShutdown:
	}

	return e.Events()
}

func (e *Endpoint[I]) popPendingOutput(ackFrame ggrs.Frame) {
	i := 0
	for i < len(e.pendingOutput) && e.pendingOutput[i].Frame <= ackFrame {
		e.lastAckedInput = e.pendingOutput[i]
		e.lastAckedSet = true
		i++
	}
	e.pendingOutput = e.pendingOutput[i:]
}

func (e *Endpoint[I]) nextSequenceNumber() uint16 {
	seq := e.sendSeq
	e.sendSeq++
	return seq
}

// SendAllMessages flushes every queued outbound message to sock.
func (e *Endpoint[I]) SendAllMessages(sock ggrs.NonBlockingSocket) {
	if e.state == stateShutdown {
		e.sendQueue = nil
		return
	}
	for _, msg := range e.sendQueue {
		sock.SendTo(msg, e.peerAddr)
	}
	e.sendQueue = nil
}

// SendInput stages input for transmission, registers its frame advantage
// sample with the time-sync estimator, and immediately flushes the pending
// output queue.
func (e *Endpoint[I]) SendInput(input inputqueue.GameInput[I], connectStatus []ConnectionStatus) {
	if e.state != stateRunning {
		return
	}

	e.timeSync.AdvanceFrame(input.Frame, input.Input, e.localFrameAdvantage, e.remoteFrameAdvantage)

	e.pendingOutput = append(e.pendingOutput, input)
	if len(e.pendingOutput) > pendingOutputSize {
		if !e.disconnectEventSent {
			e.events = append(e.events, ggrs.DisconnectedEvent{Handle: e.handle})
			e.disconnectEventSent = true
		}
		e.Disconnect()
		return
	}
	e.sendPendingOutput(connectStatus)
}

func (e *Endpoint[I]) sendPendingOutput(connectStatus []ConnectionStatus) {
	var startFrame ggrs.Frame
	if len(e.pendingOutput) > 0 {
		startFrame = e.pendingOutput[0].Frame
	}

	referenceBytes := e.marshalInput(e.lastAckedInputValue())
	pendingBytes := make([][]byte, len(e.pendingOutput))
	for i, in := range e.pendingOutput {
		pendingBytes[i] = e.marshalInput(in.Input)
	}

	encoded, err := codec.Encode(referenceBytes, pendingBytes)
	if err != nil {
		e.log.Errorw("failed to encode pending input", "handle", e.handle, "error", err)
		return
	}

	body := ggrs.InputBody{
		StartFrame:          startFrame,
		AckFrame:            e.lastReceivedFrame(),
		DisconnectRequested: e.state == stateDisconnected,
		PeerConnectStatus:   toBodyStatus(connectStatus),
		Bytes:               encoded,
	}
	e.queueMessage(body)
}

func (e *Endpoint[I]) sendInputAck() {
	e.queueMessage(ggrs.InputAckBody{AckFrame: e.lastReceivedFrame()})
}

func (e *Endpoint[I]) sendKeepAlive() {
	e.queueMessage(ggrs.KeepAliveBody{})
}

func (e *Endpoint[I]) sendSyncRequest() {
	e.syncRandomRequest = e.rng.Uint32()
	e.queueMessage(ggrs.SyncRequestBody{RandomRequest: e.syncRandomRequest})
}

func (e *Endpoint[I]) sendQualityReport() {
	e.runningLastQuality = e.clock.Now()
	e.queueMessage(ggrs.QualityReportBody{
		FrameAdvantage: clampInt16(e.localFrameAdvantage),
		PingSentMillis: e.clock.Now().UnixMilli(),
	})
}

func (e *Endpoint[I]) queueMessage(body ggrs.MessageBody) {
	header := ggrs.MessageHeader{Magic: e.magic}
	_ = e.nextSequenceNumber()

	msg := ggrs.Message{Header: header, Body: body}
	e.packetsSent++
	e.lastSendTime = e.clock.Now()
	e.bytesSent += approximateSize(body)

	e.sendQueue = append(e.sendQueue, msg)
}

// HandleMessage filters and dispatches an inbound message, recording when
// it arrived and firing a NetworkResumedEvent if the connection had
// previously been marked interrupted.
func (e *Endpoint[I]) HandleMessage(msg ggrs.Message) {
	if e.state == stateShutdown {
		return
	}

	switch msg.Body.(type) {
	case ggrs.SyncRequestBody, ggrs.SyncReplyBody:
		if e.remoteMagic != 0 && msg.Header.Magic != e.remoteMagic {
			return
		}
	default:
		if msg.Header.Magic != e.remoteMagic {
			return
		}
	}

	e.lastRecvTime = e.clock.Now()

	if e.disconnectNotifySent && e.state == stateRunning {
		e.disconnectNotifySent = false
		e.events = append(e.events, ggrs.NetworkResumedEvent{Handle: e.handle})
	}

	switch body := msg.Body.(type) {
	case ggrs.SyncRequestBody:
		e.onSyncRequest(body)
	case ggrs.SyncReplyBody:
		e.onSyncReply(msg.Header, body)
	case ggrs.InputBody:
		e.onInput(body)
	case ggrs.InputAckBody:
		e.onInputAck(body)
	case ggrs.QualityReportBody:
		e.onQualityReport(body)
	case ggrs.QualityReplyBody:
		e.onQualityReply(body)
	case ggrs.ChecksumReportBody:
		e.onChecksumReport(body)
	case ggrs.KeepAliveBody:
	}
}

func (e *Endpoint[I]) onChecksumReport(body ggrs.ChecksumReportBody) {
	e.events = append(e.events, ReceivedChecksumEvent{Frame: body.Frame, Checksum: body.Checksum})
}

// QueueChecksumReport stages a checksum report for frame, sent on the next
// SendAllMessages call. Used by a session with desync detection enabled to
// let its peers compare their own simulation's checksum against this one.
func (e *Endpoint[I]) QueueChecksumReport(frame ggrs.Frame, checksum uint64) {
	if e.state != stateRunning {
		return
	}
	e.queueMessage(ggrs.ChecksumReportBody{Frame: frame, Checksum: checksum})
}

func (e *Endpoint[I]) onSyncRequest(body ggrs.SyncRequestBody) {
	e.queueMessage(ggrs.SyncReplyBody{RandomReply: body.RandomRequest})
}

func (e *Endpoint[I]) onSyncReply(header ggrs.MessageHeader, body ggrs.SyncReplyBody) {
	if e.state != stateSynchronizing {
		return
	}
	if e.syncRandomRequest != body.RandomReply {
		return
	}

	e.syncRemainingRounds--
	if e.syncRemainingRounds > 0 {
		e.events = append(e.events, ggrs.SynchronizingEvent{
			Handle: e.handle,
			Total:  numSyncPackets,
			Count:  numSyncPackets - e.syncRemainingRounds,
		})
		e.sendSyncRequest()
		return
	}

	e.state = stateRunning
	e.events = append(e.events, ggrs.SynchronizedEvent{Handle: e.handle})
	e.remoteMagic = header.Magic
	e.log.Infow("endpoint synchronized", "handle", e.handle)
}

func (e *Endpoint[I]) onInput(body ggrs.InputBody) {
	if body.DisconnectRequested {
		if e.state != stateDisconnected && !e.disconnectEventSent {
			e.events = append(e.events, ggrs.DisconnectedEvent{Handle: e.handle})
			e.disconnectEventSent = true
		}
	} else {
		for i := range e.peerConnectStatus {
			if i >= len(body.PeerConnectStatus) {
				break
			}
			e.peerConnectStatus[i].Disconnected = body.PeerConnectStatus[i].Disconnected
			e.peerConnectStatus[i].LastFrame = body.PeerConnectStatus[i].LastFrame
		}
	}

	refBytes := e.marshalInput(e.lastReceivedInputValue())
	decoded, err := codec.Decode(refBytes, body.Bytes, len(refBytes))
	if err != nil {
		e.log.Errorw("failed to decode input payload", "handle", e.handle, "error", err)
		return
	}

	for i, raw := range decoded {
		frame := body.StartFrame + ggrs.Frame(i)
		if e.lastReceivedSet && frame <= e.lastReceivedInput.Frame {
			continue
		}
		var in I
		e.unmarshalInput(raw, &in)
		e.lastReceivedInput = inputqueue.GameInput[I]{Frame: frame, Input: in}
		e.lastReceivedSet = true
		e.runningLastInputRecv = e.clock.Now()
		e.events = append(e.events, ReceivedInputEvent[I]{Frame: frame, Input: in})
	}

	e.sendInputAck()
	e.popPendingOutput(body.AckFrame)
}

func (e *Endpoint[I]) onInputAck(body ggrs.InputAckBody) {
	e.popPendingOutput(body.AckFrame)
}

func (e *Endpoint[I]) onQualityReport(body ggrs.QualityReportBody) {
	e.remoteFrameAdvantage = int32(body.FrameAdvantage)
	e.queueMessage(ggrs.QualityReplyBody{PongMillis: body.PingSentMillis})
}

func (e *Endpoint[I]) onQualityReply(body ggrs.QualityReplyBody) {
	now := e.clock.Now().UnixMilli()
	if now < body.PongMillis {
		return
	}
	e.roundTripTime = time.Duration(now-body.PongMillis) * time.Millisecond
}

// UpdateLocalFrameAdvantage recomputes how far ahead or behind the local
// simulation is relative to the last input received from this peer.
func (e *Endpoint[I]) UpdateLocalFrameAdvantage(localFrame ggrs.Frame) {
	if localFrame == ggrs.NullFrame || !e.lastReceivedSet {
		return
	}
	pingFrames := int32(e.roundTripTime.Milliseconds()/2) * int32(e.fps) / 1000
	remoteFrame := int32(e.lastReceivedInput.Frame) + pingFrames
	e.localFrameAdvantage = remoteFrame - int32(localFrame)
}

func (e *Endpoint[I]) lastReceivedFrame() ggrs.Frame {
	if !e.lastReceivedSet {
		return ggrs.NullFrame
	}
	return e.lastReceivedInput.Frame
}

func (e *Endpoint[I]) lastReceivedInputValue() I {
	return e.lastReceivedInput.Input
}

func (e *Endpoint[I]) lastAckedInputValue() I {
	return e.lastAckedInput.Input
}

// MarshalInput and UnmarshalInput serialize I with a fixed-width binary
// encoding rather than a self-describing format: the delta codec XORs byte
// for byte against a reference input, which only works if every input of
// the same type encodes to the same length. That holds for the plain,
// fixed-layout value types (integers, bools, fixed arrays, and structs of
// those) this library expects Input to be. Exported so a session
// controller can use the identical encoding to pack several players' inputs
// into one merged value for the spectator broadcast link.
func MarshalInput[I comparable](in I) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, in); err != nil {
		panic(fmt.Sprintf("protocol: failed to marshal input (Input must be a fixed-size value type): %v", err))
	}
	return buf.Bytes()
}

// UnmarshalInput inverts MarshalInput.
func UnmarshalInput[I comparable](data []byte, out *I) {
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
		panic(fmt.Sprintf("protocol: failed to unmarshal input: %v", err))
	}
}

func (e *Endpoint[I]) marshalInput(in I) []byte {
	return MarshalInput(in)
}

func (e *Endpoint[I]) unmarshalInput(data []byte, out *I) {
	UnmarshalInput(data, out)
}

// ReceivedInputEvent is an internal-only event type used to hand a decoded
// remote input back to the session controller, which knows how to route it
// into the right player's input queue. It never reaches the user: the
// session drains it before translating the rest into ggrs.Event values.
type ReceivedInputEvent[I comparable] struct {
	Frame ggrs.Frame
	Input I
}

func (ReceivedInputEvent[I]) isEvent() {}

// ReceivedChecksumEvent is an internal-only event carrying a remote peer's
// periodic checksum report back to the session controller, which compares
// it against its own checksum for the same frame to detect a desync. It
// never reaches the user as-is: the session translates a mismatch into
// ggrs.DesyncDetectedEvent.
type ReceivedChecksumEvent struct {
	Frame    ggrs.Frame
	Checksum uint64
}

func (ReceivedChecksumEvent) isEvent() {}

func toBodyStatus(in []ConnectionStatus) []ggrs.ConnectionStatus {
	out := make([]ggrs.ConnectionStatus, len(in))
	for i, s := range in {
		out[i] = ggrs.ConnectionStatus{Disconnected: s.Disconnected, LastFrame: s.LastFrame}
	}
	return out
}

func clampInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func approximateSize(body ggrs.MessageBody) int {
	switch b := body.(type) {
	case ggrs.InputBody:
		return len(b.Bytes) + 16
	default:
		return 16
	}
}
