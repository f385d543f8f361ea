package ggrs

import "net"

// NonBlockingSocket is the transport a session sends and receives wire
// messages through. SendTo and ReceiveAll must never block: a session polls
// its socket once per Advance call and expects to get back immediately,
// synchronizing and input exchange alike depend on that cadence. The
// transport package ships a UDP implementation; anything else (in-process
// pipes for tests, a relay, a different wire transport) only needs to
// satisfy this interface.
type NonBlockingSocket interface {
	// SendTo enqueues msg for delivery to addr. Errors are logged by the
	// implementation, not returned, because there is nothing useful a session could
	// do about a single dropped send other than what it already does:
	// retransmit unacknowledged input on the next poll.
	SendTo(msg Message, addr net.Addr)
	// ReceiveAll drains every message that has arrived since the last call
	// and returns them paired with the address they came from, in arrival
	// order.
	ReceiveAll() []ReceivedMessage
}

// ReceivedMessage pairs an inbound Message with the address it arrived
// from, as returned by NonBlockingSocket.ReceiveAll.
type ReceivedMessage struct {
	Msg  Message
	From net.Addr
}

// MessageHeader is the fixed-size prefix on every Message, used to filter
// out packets that are not part of this session's protocol (see
// Message.Header docs).
type MessageHeader struct {
	// Magic identifies the endpoint that sent this message. An endpoint
	// picks a random nonzero magic for itself during synchronization and
	// rejects any later message whose magic does not match what that peer
	// told it to expect, which filters out stale packets from a restarted
	// peer or unrelated traffic landing on the same port.
	Magic uint16
}

// Message is the unit NonBlockingSocket sends and receives. A custom
// transport only needs to move Message values and their source address
// around; it never needs to understand the protocol encoded in Body.
type Message struct {
	Header MessageHeader
	Body   MessageBody
}

// MessageBody is the tagged union of protocol messages exchanged between
// two endpoints. The user never constructs or inspects one directly: it is
// produced and consumed entirely inside the protocol state machine, and
// only crosses the public API because NonBlockingSocket implementations
// need a concrete type to carry.
type MessageBody interface {
	isMessageBody()
}

// SyncRequestBody starts or continues the synchronization handshake.
type SyncRequestBody struct {
	RandomRequest uint32
}

func (SyncRequestBody) isMessageBody() {}

// SyncReplyBody answers a SyncRequestBody with the same random value,
// proving the reply came from a live, responsive peer.
type SyncReplyBody struct {
	RandomReply uint32
}

func (SyncReplyBody) isMessageBody() {}

// ConnectionStatus reports what one endpoint believes about one player's
// connection, piggybacked on every InputBody so peers learn about a third
// party's disconnect without a direct link to them.
type ConnectionStatus struct {
	Disconnected bool
	LastFrame    Frame
}

// InputBody carries one or more frames of compressed input plus the sending
// endpoint's view of every known player's connection status.
type InputBody struct {
	PeerConnectStatus   []ConnectionStatus
	DisconnectRequested bool
	StartFrame          Frame
	AckFrame            Frame
	Bytes               []byte
}

func (InputBody) isMessageBody() {}

// InputAckBody acknowledges input received up to AckFrame, letting the
// sender drop already-acknowledged frames from its retransmit buffer.
type InputAckBody struct {
	AckFrame Frame
}

func (InputAckBody) isMessageBody() {}

// QualityReportBody is a periodic ping carrying the sender's current frame
// advantage, used to drive time-sync recommendations on the receiving side.
type QualityReportBody struct {
	FrameAdvantage int16
	PingSentMillis int64
}

func (QualityReportBody) isMessageBody() {}

// QualityReplyBody answers a QualityReportBody, echoing its timestamp back
// so the original sender can compute round-trip time.
type QualityReplyBody struct {
	PongMillis int64
}

func (QualityReplyBody) isMessageBody() {}

// ChecksumReportBody carries the state checksum the sender computed for
// Frame, used for optional desync detection between peers.
type ChecksumReportBody struct {
	Checksum uint64
	Frame    Frame
}

func (ChecksumReportBody) isMessageBody() {}

// KeepAliveBody carries no data; its only purpose is to reset the
// receiver's last-packet-received clock so an idle connection is not
// mistaken for a dead one.
type KeepAliveBody struct{}

func (KeepAliveBody) isMessageBody() {}
