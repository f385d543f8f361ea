package ggrs

// Frame is a single discrete simulation step, not a rendered frame.
type Frame int32

// NullFrame marks an invalid or absent frame. All frame arithmetic in this
// library treats it as a sentinel, never as a valid step count.
const NullFrame Frame = -1

// PlayerHandle identifies a player or spectator slot within a session. Local
// and remote player handles are in [0, NumPlayers); spectator handles are
// >= NumPlayers.
type PlayerHandle int
