package ggrs

// MaxPrediction is how many frames a session will simulate ahead of the
// last confirmed frame using predicted input before it refuses to advance
// further and returns ErrPredictionThreshold. It also sizes the save-state
// ring: a session must be able to roll back to any frame within this
// window, so it keeps MaxPrediction+1 save slots.
const MaxPrediction = 8

// InputQueueLength is the size of each player's input ring buffer, indexed
// by frame modulo this value. It must comfortably exceed MaxPrediction so a
// predicted-but-not-yet-confirmed frame is never evicted before it can be
// corrected.
const InputQueueLength = 128

// MaxPayloadBytes bounds the compressed input payload of a single Input
// message. It is chosen well under typical path MTUs so a packet this size
// is never fragmented by IP.
const MaxPayloadBytes = 467

// PendingOutputSize is how many compressed input frames an endpoint will
// queue for retransmission before concluding the remote peer is no longer
// acknowledging anything and firing a disconnect.
const PendingOutputSize = 128

// SpectatorBufferSize is the size of a spectator's confirmed-input ring
// buffer, indexed by frame modulo this value.
const SpectatorBufferSize = 60

// DefaultMaxFramesBehind is how many frames behind the host a spectator
// can fall before it starts catching up faster than real time.
const DefaultMaxFramesBehind = 10

// DefaultCatchupSpeed is how many frames a spectator advances per
// Session.Advance call while catching up; 1 would mean no catch-up at all.
const DefaultCatchupSpeed = 2

// MaxSpectatorInputBytes bounds the merged per-frame input blob a P2P
// session broadcasts to its spectators: every player's confirmed input for
// one frame, packed back to back. A builder rejects a player count and
// input size combination that would overflow it.
const MaxSpectatorInputBytes = 128

// SpectatorInput is the fixed-size, comparable value the spectator
// broadcast link serializes: every player's confirmed input for one frame,
// packed back to back and zero-padded out to MaxSpectatorInputBytes. It
// exists so the same fixed-width wire codec that carries a single player's
// input can also carry a variable number of merged player inputs; session
// code packs and unpacks it, callers never construct one directly.
type SpectatorInput [MaxSpectatorInputBytes]byte
