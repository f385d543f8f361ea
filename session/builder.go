// Package session implements the three session controllers a user drives a
// match through: P2P for a full peer-to-peer game session, SyncTest for a
// local determinism harness that rolls back and resimulates every frame,
// and Spectator for a read-only participant fed confirmed input from a
// host. None of them hold a goroutine or timer of their own; a caller polls
// them once per simulation tick the same way it polls its own game loop.
package session

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	ggrs "github.com/gschup/ggrs-sub000"
	"github.com/gschup/ggrs-sub000/internal/protocol"
)

const (
	defaultFPS           = 60
	defaultCheckDistance = 2
)

// P2PBuilder assembles a P2P session's player list and tunables before
// synchronization begins. Add every player handle with AddPlayer, then call
// StartSession.
type P2PBuilder[I comparable, S any] struct {
	numPlayers int
	socket     ggrs.NonBlockingSocket
	log        *zap.SugaredLogger
	clock      ggrs.Clock

	players map[ggrs.PlayerHandle]ggrs.PlayerConfig

	maxPrediction         int
	fps                   uint32
	sparseSaving          bool
	disconnectTimeout     time.Duration
	disconnectNotifyStart time.Duration
	inputDelay            int
	predictor             ggrs.InputPredictor[I]
	desync                ggrs.DesyncDetection
	metrics               *Metrics

	err error
}

// NewP2PBuilder starts a builder for a session of numPlayers, sending and
// receiving wire messages through socket.
func NewP2PBuilder[I comparable, S any](numPlayers int, socket ggrs.NonBlockingSocket, log *zap.SugaredLogger) *P2PBuilder[I, S] {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &P2PBuilder[I, S]{
		numPlayers:            numPlayers,
		socket:                socket,
		log:                   log,
		clock:                 ggrs.RealClock{},
		players:               make(map[ggrs.PlayerHandle]ggrs.PlayerConfig),
		maxPrediction:         ggrs.MaxPrediction,
		fps:                   defaultFPS,
		disconnectTimeout:     protocol.DefaultDisconnectTimeout,
		disconnectNotifyStart: protocol.DefaultDisconnectNotifyStart,
		predictor:             ggrs.PredictRepeatLast[I]{},
	}
}

// WithClock overrides the clock used to measure protocol timeouts, for
// tests that need to advance time deterministically.
func (b *P2PBuilder[I, S]) WithClock(clock ggrs.Clock) *P2PBuilder[I, S] {
	b.clock = clock
	return b
}

// AddPlayer registers a local, remote, or spectator slot. Local and remote
// handles must be in [0, numPlayers); spectator handles must be
// >= numPlayers. Each handle may only be added once, and at most one local
// player is supported per session.
func (b *P2PBuilder[I, S]) AddPlayer(playerType ggrs.PlayerType, handle ggrs.PlayerHandle, addr net.Addr) *P2PBuilder[I, S] {
	if b.err != nil {
		return b
	}
	if _, exists := b.players[handle]; exists {
		b.err = ggrs.InvalidRequestError{Info: "player handle already in use"}
		return b
	}
	switch playerType {
	case ggrs.PlayerTypeLocal:
		if int(handle) >= b.numPlayers {
			b.err = ggrs.InvalidRequestError{Info: "for a local player, the handle must be between 0 and numPlayers"}
			return b
		}
		for _, p := range b.players {
			if p.Type == ggrs.PlayerTypeLocal {
				b.err = ggrs.InvalidRequestError{Info: "only one local player per session is supported"}
				return b
			}
		}
	case ggrs.PlayerTypeRemote:
		if int(handle) >= b.numPlayers {
			b.err = ggrs.InvalidRequestError{Info: "for a remote player, the handle must be between 0 and numPlayers"}
			return b
		}
	case ggrs.PlayerTypeSpectator:
		if int(handle) < b.numPlayers {
			b.err = ggrs.InvalidRequestError{Info: "for a spectator, the handle must be numPlayers or higher"}
			return b
		}
	}
	b.players[handle] = ggrs.PlayerConfig{Type: playerType, Handle: handle, Addr: addr}
	return b
}

// WithMaxPredictionWindow would change the rollback window, but the
// save-state ring is sized by the ggrs.MaxPrediction package constant at
// compile time, so the only accepted value is that constant; anything else
// is reported as a builder error at StartSession.
func (b *P2PBuilder[I, S]) WithMaxPredictionWindow(window int) *P2PBuilder[I, S] {
	b.maxPrediction = window
	return b
}

// WithInputDelay sets how many frames local input is artificially delayed,
// smoothing out the rollback load a player's own input otherwise causes.
func (b *P2PBuilder[I, S]) WithInputDelay(delay int) *P2PBuilder[I, S] {
	b.inputDelay = delay
	return b
}

// WithSparseSavingMode turns on saving only the confirmed frame each cycle
// instead of every frame, trading save cost for longer rollbacks.
func (b *P2PBuilder[I, S]) WithSparseSavingMode(sparse bool) *P2PBuilder[I, S] {
	b.sparseSaving = sparse
	return b
}

// WithDisconnectTimeout overrides how long an endpoint waits without a
// packet before declaring its peer disconnected.
func (b *P2PBuilder[I, S]) WithDisconnectTimeout(d time.Duration) *P2PBuilder[I, S] {
	b.disconnectTimeout = d
	return b
}

// WithDisconnectNotifyDelay overrides how long an endpoint waits before
// firing NetworkInterruptedEvent, ahead of the harder disconnect timeout.
func (b *P2PBuilder[I, S]) WithDisconnectNotifyDelay(d time.Duration) *P2PBuilder[I, S] {
	b.disconnectNotifyStart = d
	return b
}

// WithFPS sets the expected simulation rate, used to convert estimated ping
// into a frame-advantage sample.
func (b *P2PBuilder[I, S]) WithFPS(fps uint32) *P2PBuilder[I, S] {
	if fps == 0 {
		b.err = ggrs.InvalidRequestError{Info: "fps should be higher than 0"}
		return b
	}
	b.fps = fps
	return b
}

// WithInputPredictor overrides how a missing remote input is guessed,
// defaulting to repeating that player's last confirmed input.
func (b *P2PBuilder[I, S]) WithInputPredictor(predictor ggrs.InputPredictor[I]) *P2PBuilder[I, S] {
	b.predictor = predictor
	return b
}

// WithDesyncDetection turns on periodic checksum exchange with remote
// peers, used to catch a divergent simulation early rather than only ever
// noticing via gameplay symptoms.
func (b *P2PBuilder[I, S]) WithDesyncDetection(d ggrs.DesyncDetection) *P2PBuilder[I, S] {
	if d.Enabled && d.Interval == 0 {
		b.err = ggrs.InvalidRequestError{Info: "desync detection interval must be greater than 0 when enabled"}
		return b
	}
	b.desync = d
	return b
}

// WithMetrics attaches a Prometheus-backed Metrics instance that records
// link quality and rollback depth as the session runs. Optional: a session
// built without one simply never touches a collector.
func (b *P2PBuilder[I, S]) WithMetrics(m *Metrics) *P2PBuilder[I, S] {
	b.metrics = m
	return b
}

// StartSession validates every player has been added, builds one protocol
// endpoint per remote player and spectator, and begins their synchronization
// handshake.
func (b *P2PBuilder[I, S]) StartSession() (*P2P[I, S], error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.maxPrediction != ggrs.MaxPrediction {
		return nil, ggrs.InvalidRequestError{
			Info: fmt.Sprintf("max prediction window is fixed at %d frames for this build", ggrs.MaxPrediction),
		}
	}
	for h := 0; h < b.numPlayers; h++ {
		if _, ok := b.players[ggrs.PlayerHandle(h)]; !ok {
			return nil, ggrs.InvalidRequestError{
				Info: "not enough players have been added; keep registering players up to numPlayers",
			}
		}
	}

	var zero I
	inputSize := len(protocol.MarshalInput(zero))
	if inputSize*b.numPlayers > ggrs.MaxSpectatorInputBytes {
		return nil, ggrs.InvalidRequestError{
			Info: fmt.Sprintf("input size %d times numPlayers %d exceeds the %d byte spectator broadcast limit",
				inputSize, b.numPlayers, ggrs.MaxSpectatorInputBytes),
		}
	}

	return newP2P[I, S](b), nil
}
