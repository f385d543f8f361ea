// Package transport provides the default ggrs.NonBlockingSocket
// implementation: a UDP socket bound to a single local port, set
// non-blocking, sending and receiving ggrs.Message values through
// internal/wire.
package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sagernet/sing/common/bufio"
	"go.uber.org/zap"

	ggrs "github.com/gschup/ggrs-sub000"
	"github.com/gschup/ggrs-sub000/internal/wire"
)

// idealMaxPacketSize is the packet size above which IP fragmentation
// becomes likely; UDPSocket logs a warning rather than refusing to send,
// since an occasional oversized packet usually still gets through.
const idealMaxPacketSize = 508

// recvBufferSize bounds a single UDP datagram read. Payloads are capped at
// ggrs.MaxPayloadBytes well below this, plus wire envelope overhead.
const recvBufferSize = 4096

// UDPSocket is a ggrs.NonBlockingSocket backed by a single UDP port. It
// never blocks: ReceiveAll drains whatever has arrived so far and returns
// immediately once the socket would otherwise block.
type UDPSocket struct {
	conn *net.UDPConn
	log  *zap.SugaredLogger

	writersMu sync.Mutex
	writers   map[string]*peerWriter
}

// peerWriter adapts one peer address into an io.Writer so
// sagernet/sing/common/bufio can gather the header and body buffers of an
// outgoing message into a single syscall instead of concatenating them into
// one allocation first.
type peerWriter struct {
	conn *net.UDPConn
	addr net.Addr
}

func (w *peerWriter) Write(b []byte) (int, error) {
	return w.conn.WriteTo(b, w.addr)
}

func (s *UDPSocket) vectorisedWriter(addr net.Addr) (bufio.VectorisedWriter, bool) {
	s.writersMu.Lock()
	defer s.writersMu.Unlock()

	key := addr.String()
	pw, ok := s.writers[key]
	if !ok {
		pw = &peerWriter{conn: s.conn, addr: addr}
		s.writers[key] = pw
	}
	return bufio.CreateVectorisedWriter(pw)
}

// Bind opens a UDP socket on 0.0.0.0:port.
func Bind(port uint16, log *zap.SugaredLogger) (*UDPSocket, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: int(port)})
	if err != nil {
		return nil, errors.Join(ggrs.ErrSocketCreationFailed, err)
	}
	return &UDPSocket{conn: conn, log: log, writers: make(map[string]*peerWriter)}, nil
}

// Close releases the underlying socket.
func (s *UDPSocket) Close() error {
	return s.conn.Close()
}

// SendTo implements ggrs.NonBlockingSocket. It gathers the header and body
// into one UDP datagram through a vectorised write when the platform
// supports it (see sagernet/sing/common/bufio), falling back to a single
// concatenated write otherwise.
func (s *UDPSocket) SendTo(msg ggrs.Message, addr net.Addr) {
	body, err := wire.EncodeBody(msg.Body)
	if err != nil {
		s.log.Errorw("failed to encode outgoing message", "addr", addr, "error", err)
		return
	}
	header := wire.EncodeHeader(msg.Header)

	totalBytes := len(header) + len(body)
	if totalBytes > idealMaxPacketSize {
		s.log.Warnw("sending oversized UDP packet, risk of IP fragmentation",
			"bytes", totalBytes, "ideal_max", idealMaxPacketSize, "addr", addr)
	}

	bw, ok := s.vectorisedWriter(addr)
	if ok {
		if _, err := bufio.WriteVectorised(bw, [][]byte{header, body}); err != nil {
			s.log.Errorw("failed to send UDP packet", "addr", addr, "error", err)
		}
		return
	}

	if _, err := s.conn.WriteTo(append(header, body...), addr); err != nil {
		s.log.Errorw("failed to send UDP packet", "addr", addr, "error", err)
	}
}

// ReceiveAll implements ggrs.NonBlockingSocket. It never blocks: it reads
// with an immediate read deadline and treats a timeout as "nothing more to
// read right now" rather than an error.
func (s *UDPSocket) ReceiveAll() []ggrs.ReceivedMessage {
	var received []ggrs.ReceivedMessage
	recvBuf := make([]byte, recvBufferSize)

	for {
		if err := s.conn.SetReadDeadline(time.Now()); err != nil {
			s.log.Errorw("failed to set read deadline", "error", err)
			return received
		}

		n, addr, err := s.conn.ReadFrom(recvBuf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return received
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return received
			}
			// UDP sockets occasionally surface a prior send's ICMP
			// port-unreachable as a read error; skip and keep draining.
			continue
		}

		msg, err := wire.Decode(recvBuf[:n])
		if err != nil {
			s.log.Warnw("dropping undecodable packet", "from", addr, "error", err)
			continue
		}

		received = append(received, ggrs.ReceivedMessage{Msg: msg, From: addr})
	}
}
