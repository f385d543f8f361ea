package ggrs

import "fmt"

// Sentinel errors the session surface can return. All are comparable with
// errors.Is.
var (
	// ErrPredictionThreshold is returned when adding local input would push
	// the session beyond its configured rollback depth. The caller should
	// hold the frame and retry rather than advance further.
	ErrPredictionThreshold = fmt.Errorf("ggrs: prediction threshold reached, cannot advance without catching up")

	// ErrNotSynchronized is returned when advancing a session that has not
	// yet completed the synchronization handshake with all of its peers.
	ErrNotSynchronized = fmt.Errorf("ggrs: session is not yet synchronized")

	// ErrPlayerDisconnected is returned by DisconnectPlayer when the player
	// is already disconnected.
	ErrPlayerDisconnected = fmt.Errorf("ggrs: player is already disconnected")

	// ErrSpectatorTooFarBehind is returned by a SpectatorSession when the
	// host is so far ahead that catching up is no longer possible.
	ErrSpectatorTooFarBehind = fmt.Errorf("ggrs: spectator fell too far behind the host")

	// ErrSocketCreationFailed is returned when the default UDP transport
	// fails to bind.
	ErrSocketCreationFailed = fmt.Errorf("ggrs: socket creation failed")
)

// InvalidHandleError is returned when a PlayerHandle is out of range or
// refers to the wrong kind of player for the requested operation.
type InvalidHandleError struct {
	Handle PlayerHandle
}

func (e InvalidHandleError) Error() string {
	return fmt.Sprintf("ggrs: invalid player handle %d", e.Handle)
}

// InvalidRequestError covers programmer errors made at configuration or
// add-player time: handle conflicts, bad builder parameters, adding players
// after the session has started, and similar misuse.
type InvalidRequestError struct {
	Info string
}

func (e InvalidRequestError) Error() string {
	return "ggrs: invalid request: " + e.Info
}

// MismatchedChecksumError is returned by a SyncTestSession when a
// resimulated frame's checksum does not match the checksum recorded the
// first time that frame was simulated — a determinism violation.
type MismatchedChecksumError struct {
	Frame Frame
}

func (e MismatchedChecksumError) Error() string {
	return fmt.Sprintf("ggrs: checksum mismatch on resimulated frame %d", e.Frame)
}
