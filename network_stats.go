package ggrs

// NetworkStats reports the current link quality to one remote endpoint, as
// last measured by its time-sync and quality-report exchange. Read with
// Session.NetworkStats; values are a snapshot, not live.
type NetworkStats struct {
	// Ping is the last measured round-trip time in milliseconds.
	Ping int64
	// SendQueueLen is how many outgoing packets are queued but not yet
	// acknowledged.
	SendQueueLen int
	// KbpsSent is outbound bandwidth in kilobytes (1024 bytes) per second,
	// averaged over the time since the handshake completed and counting an
	// estimated UDP header per packet.
	KbpsSent int64
	// LocalFramesBehind is how many frames the local simulation estimates it
	// is behind this peer; negative means the local side is ahead.
	LocalFramesBehind int32
	// RemoteFramesBehind is the same estimate made by the remote peer about
	// itself, as reported in its last quality report.
	RemoteFramesBehind int32
}
