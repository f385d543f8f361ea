package ggrs

import "net"

// PlayerType distinguishes a locally simulated player, one driven by a
// remote peer's packets, or a spectator that only receives confirmed input
// and never influences the simulation.
type PlayerType int

const (
	PlayerTypeLocal PlayerType = iota
	PlayerTypeRemote
	PlayerTypeSpectator
)

func (t PlayerType) String() string {
	switch t {
	case PlayerTypeLocal:
		return "local"
	case PlayerTypeRemote:
		return "remote"
	case PlayerTypeSpectator:
		return "spectator"
	default:
		return "unknown"
	}
}

// PlayerConfig describes one player or spectator slot as configured on the
// session builder. Addr is nil for a local player.
type PlayerConfig struct {
	Type   PlayerType
	Handle PlayerHandle
	Addr   net.Addr
}
