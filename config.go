package ggrs

// SessionState reports where a session is in its lifecycle, returned by
// a session's CurrentState method.
type SessionState int

const (
	// SessionStateSynchronizing means the session is still handshaking with
	// at least one remote player or spectator; Advance returns
	// ErrNotSynchronized until every endpoint reaches SessionStateRunning.
	SessionStateSynchronizing SessionState = iota
	// SessionStateRunning means every endpoint has completed its handshake
	// and the session can be advanced.
	SessionStateRunning
)

func (s SessionState) String() string {
	switch s {
	case SessionStateSynchronizing:
		return "synchronizing"
	case SessionStateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// InputStatus tags a PlayerInput handed back in an AdvanceRequest, telling
// the user how much to trust it.
type InputStatus int

const (
	// InputStatusConfirmed means the input was actually received from the
	// player (local or remote) and will not change on replay.
	InputStatusConfirmed InputStatus = iota
	// InputStatusPredicted means the real input has not arrived yet and the
	// session substituted a guess; the frame may be rolled back and replayed
	// once the real input is confirmed.
	InputStatusPredicted
	// InputStatusDisconnected means the player is disconnected and the
	// session is substituting a fixed placeholder input for them.
	InputStatusDisconnected
)

func (s InputStatus) String() string {
	switch s {
	case InputStatusConfirmed:
		return "confirmed"
	case InputStatusPredicted:
		return "predicted"
	case InputStatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DesyncDetection configures whether and how often a session exchanges
// periodic checksum reports with its peers to catch divergent simulations
// early, rather than only ever noticing via gameplay symptoms.
type DesyncDetection struct {
	// Enabled turns on periodic checksum reports. Off by default: computing
	// and comparing checksums is the user's cost to pay (hashing their own
	// state every Interval frames), so it is opt-in.
	Enabled bool
	// Interval is how many confirmed frames elapse between checksum reports.
	// Ignored if Enabled is false.
	Interval uint32
}
