package session

import (
	"fmt"

	ggrs "github.com/gschup/ggrs-sub000"
	"github.com/gschup/ggrs-sub000/internal/synclayer"
	"github.com/gschup/ggrs-sub000/statecell"
)

// SyncTestBuilder assembles a SyncTest session: a single-process determinism
// harness that rolls back and resimulates every frame, purely to catch a
// simulation that does not produce the same checksum when replayed.
type SyncTestBuilder[I comparable, S any] struct {
	numPlayers    int
	maxPrediction int
	checkDistance int
	inputDelay    int
}

// NewSyncTestBuilder starts a builder for a determinism harness simulating
// numPlayers local players.
func NewSyncTestBuilder[I comparable, S any](numPlayers int) *SyncTestBuilder[I, S] {
	return &SyncTestBuilder[I, S]{
		numPlayers:    numPlayers,
		maxPrediction: ggrs.MaxPrediction,
		checkDistance: defaultCheckDistance,
	}
}

// WithCheckDistance overrides how many recent frames are rolled back and
// resimulated each tick to be checksum-compared against their first
// simulation. Must be lower than the prediction window; 0 disables saving,
// rolling back and comparing entirely.
func (b *SyncTestBuilder[I, S]) WithCheckDistance(distance int) *SyncTestBuilder[I, S] {
	b.checkDistance = distance
	return b
}

// WithMaxPredictionWindow would change the rollback window, but as with
// P2PBuilder the save-state ring is sized by ggrs.MaxPrediction at compile
// time, so only that value is accepted.
func (b *SyncTestBuilder[I, S]) WithMaxPredictionWindow(window int) *SyncTestBuilder[I, S] {
	b.maxPrediction = window
	return b
}

// WithInputDelay sets how many frames every player's input is artificially
// delayed.
func (b *SyncTestBuilder[I, S]) WithInputDelay(delay int) *SyncTestBuilder[I, S] {
	b.inputDelay = delay
	return b
}

// StartSession validates the builder's settings and returns a ready SyncTest
// session.
func (b *SyncTestBuilder[I, S]) StartSession() (*SyncTest[I, S], error) {
	if b.maxPrediction != ggrs.MaxPrediction {
		return nil, ggrs.InvalidRequestError{
			Info: fmt.Sprintf("max prediction window is fixed at %d frames for this build", ggrs.MaxPrediction),
		}
	}
	if b.checkDistance >= b.maxPrediction {
		return nil, ggrs.InvalidRequestError{Info: "check distance too big"}
	}

	sync := synclayer.New[I, S](b.numPlayers)
	for h := 0; h < b.numPlayers; h++ {
		sync.SetFrameDelay(ggrs.PlayerHandle(h), b.inputDelay)
	}

	return &SyncTest[I, S]{
		numPlayers:      b.numPlayers,
		maxPrediction:   b.maxPrediction,
		checkDistance:   b.checkDistance,
		sync:            sync,
		dummyStatus:     make([]synclayer.ConnectionStatus, b.numPlayers),
		checksumHistory: make(map[ggrs.Frame]statecell.Checksum),
	}, nil
}

// SyncTest drives a simulation against itself: every tick it rolls back
// checkDistance frames, resimulates forward, and compares the resimulated
// checksums against the first time each frame was simulated. A mismatch
// means the simulation it is driving is not deterministic.
type SyncTest[I comparable, S any] struct {
	numPlayers    int
	maxPrediction int
	checkDistance int

	sync        *synclayer.Layer[I, S]
	dummyStatus []synclayer.ConnectionStatus

	checksumHistory map[ggrs.Frame]statecell.Checksum
}

// Advance first performs the compare/rollback/resimulate pass (once more
// than checkDistance frames have been simulated), then steps the simulation
// by one frame with allInputs (one entry per player, in handle order). Returns ggrs.MismatchedChecksumError if a resimulated frame's
// checksum does not match what was recorded the first time it was
// simulated.
func (s *SyncTest[I, S]) Advance(allInputs []I) ([]ggrs.Request, error) {
	if len(allInputs) != s.numPlayers {
		return nil, ggrs.InvalidRequestError{Info: "allInputs must have exactly one entry per player"}
	}

	var requests []ggrs.Request

	if s.checkDistance > 0 && s.sync.CurrentFrame() > ggrs.Frame(s.checkDistance) {
		for i := 0; i <= s.checkDistance; i++ {
			frameToCheck := s.sync.CurrentFrame() - ggrs.Frame(i)
			if !s.checksumsConsistent(frameToCheck) {
				return nil, ggrs.MismatchedChecksumError{Frame: frameToCheck}
			}
		}

		frameTo := s.sync.CurrentFrame() - ggrs.Frame(s.checkDistance)
		s.adjustGamestate(frameTo, &requests)
	}

	for h, input := range allInputs {
		if _, err := s.sync.AddLocalInput(ggrs.PlayerHandle(h), input); err != nil {
			return nil, err
		}
	}

	if s.checkDistance > 0 {
		requests = append(requests, s.sync.SaveCurrentState())
	}

	inputs := s.sync.SynchronizedInputs(s.dummyStatus)
	requests = append(requests, ggrs.AdvanceRequest[I]{Inputs: inputs})
	s.sync.AdvanceFrame()

	// Pretend every player confirmed up to checkDistance frames ago, so the
	// sync layer never complains about missing remote input in a session
	// that only ever has local players.
	safeFrame := s.sync.CurrentFrame() - ggrs.Frame(s.checkDistance)
	s.sync.SetLastConfirmedFrame(safeFrame, false)

	for i := range s.dummyStatus {
		s.dummyStatus[i].LastFrame = s.sync.CurrentFrame()
	}

	return requests, nil
}

func (s *SyncTest[I, S]) checksumsConsistent(frameToCheck ggrs.Frame) bool {
	oldestAllowed := s.sync.CurrentFrame() - ggrs.Frame(s.checkDistance)
	for frame := range s.checksumHistory {
		if frame < oldestAllowed {
			delete(s.checksumHistory, frame)
		}
	}

	cell, ok := s.sync.SavedStateByFrame(frameToCheck)
	if !ok {
		return true
	}

	checksum := cell.Checksum()
	if recorded, seen := s.checksumHistory[frameToCheck]; seen {
		return recorded == checksum
	}
	s.checksumHistory[frameToCheck] = checksum
	return true
}

func (s *SyncTest[I, S]) adjustGamestate(frameTo ggrs.Frame, requests *[]ggrs.Request) {
	startFrame := s.sync.CurrentFrame()
	count := startFrame - frameTo

	*requests = append(*requests, s.sync.LoadFrame(frameTo))
	s.sync.ResetPrediction()

	for i := ggrs.Frame(0); i < count; i++ {
		inputs := s.sync.SynchronizedInputs(s.dummyStatus)

		if i > 0 {
			*requests = append(*requests, s.sync.SaveCurrentState())
		}
		s.sync.AdvanceFrame()
		*requests = append(*requests, ggrs.AdvanceRequest[I]{Inputs: inputs})
	}
}

// SetInputDelay changes how many frames handle's input is artificially
// delayed.
func (s *SyncTest[I, S]) SetInputDelay(handle ggrs.PlayerHandle, delay int) error {
	if int(handle) >= s.numPlayers {
		return ggrs.InvalidHandleError{Handle: handle}
	}
	s.sync.SetFrameDelay(handle, delay)
	return nil
}

// NumPlayers returns the number of players this session was constructed
// with.
func (s *SyncTest[I, S]) NumPlayers() int {
	return s.numPlayers
}

// MaxPrediction returns the session's rollback window, in frames.
func (s *SyncTest[I, S]) MaxPrediction() int {
	return s.maxPrediction
}

// CurrentFrame returns the frame the session is currently on.
func (s *SyncTest[I, S]) CurrentFrame() ggrs.Frame {
	return s.sync.CurrentFrame()
}
