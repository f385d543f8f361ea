// Package synclayer composes the per-player input queues with the
// save-state ring into the single component that knows how to advance the
// simulation clock, hand out save/load requests, and collect the inputs for
// a frame from every player at once, predicting for anyone not yet
// confirmed.
package synclayer

import (
	ggrs "github.com/gschup/ggrs-sub000"
	"github.com/gschup/ggrs-sub000/internal/inputqueue"
	"github.com/gschup/ggrs-sub000/internal/statering"
	"github.com/gschup/ggrs-sub000/statecell"
)

// ConnectionStatus is what the sync layer needs to know about each player to
// decide whether to fetch, predict, or blank out their input for a frame.
type ConnectionStatus struct {
	Disconnected bool
	LastFrame    ggrs.Frame
}

// Layer drives the simulation clock and input history for every player in
// a session. It does not talk to the network at all; a session controller
// feeds it local and remote input and asks it for save/load requests.
type Layer[I comparable, S any] struct {
	numPlayers         int
	lastConfirmedFrame ggrs.Frame
	currentFrame       ggrs.Frame

	states      *statering.Ring[S]
	inputQueues []*inputqueue.Queue[I]
}

// New returns a layer for numPlayers local and remote players, starting at
// frame 0.
func New[I comparable, S any](numPlayers int) *Layer[I, S] {
	l := &Layer[I, S]{
		numPlayers:         numPlayers,
		lastConfirmedFrame: ggrs.NullFrame,
		currentFrame:       0,
		states:             statering.New[S](),
		inputQueues:        make([]*inputqueue.Queue[I], numPlayers),
	}
	for i := range l.inputQueues {
		l.inputQueues[i] = inputqueue.New[I]()
	}
	return l
}

// CurrentFrame returns the frame the layer is currently on.
func (l *Layer[I, S]) CurrentFrame() ggrs.Frame {
	return l.currentFrame
}

// AdvanceFrame moves the simulation clock forward by one frame.
func (l *Layer[I, S]) AdvanceFrame() {
	l.currentFrame++
}

// SaveCurrentState returns a SaveRequest for the current frame, pushing a
// fresh slot in the save-state ring for the caller to hand to the user.
func (l *Layer[I, S]) SaveCurrentState() ggrs.SaveRequest[S] {
	cell := l.states.Push(l.currentFrame)
	return ggrs.SaveRequest[S]{Cell: cell, Frame: l.currentFrame}
}

// SetFrameDelay configures input delay for one player's queue.
func (l *Layer[I, S]) SetFrameDelay(handle ggrs.PlayerHandle, delay int) {
	l.inputQueues[handle].SetFrameDelay(delay)
}

// SetPredictor overrides the strategy used to guess every player's input on
// a frame that has not been confirmed yet. Defaults to repeating each
// player's last confirmed input.
func (l *Layer[I, S]) SetPredictor(predictor ggrs.InputPredictor[I]) {
	for _, q := range l.inputQueues {
		q.SetPredictor(predictor)
	}
}

// ResetPrediction clears the outstanding prediction on every player's queue,
// called after a rollback has replayed past the misprediction.
func (l *Layer[I, S]) ResetPrediction() {
	for _, q := range l.inputQueues {
		q.ResetPrediction()
	}
}

// LoadFrame returns a LoadRequest that rewinds the layer to frameToLoad,
// leaving the save-state ring positioned as if that frame had just finished
// simulating. Panics if frameToLoad is not within the save-state window,
// which would indicate a caller bug rather than a recoverable condition.
func (l *Layer[I, S]) LoadFrame(frameToLoad ggrs.Frame) ggrs.LoadRequest[S] {
	if frameToLoad == ggrs.NullFrame || frameToLoad >= l.currentFrame || frameToLoad < l.currentFrame-ggrs.MaxPrediction {
		panic("synclayer: frame to load is out of the save-state window")
	}

	cell := l.states.ResetTo(frameToLoad)
	l.currentFrame = frameToLoad

	return ggrs.LoadRequest[S]{Cell: cell, Frame: frameToLoad}
}

// AddLocalInput stages input for a local player on the current frame,
// returning ggrs.ErrPredictionThreshold if doing so would push the
// simulation beyond MaxPrediction frames ahead of the last confirmed frame.
func (l *Layer[I, S]) AddLocalInput(handle ggrs.PlayerHandle, input I) (ggrs.Frame, error) {
	framesAhead := l.currentFrame - l.lastConfirmedFrame
	if framesAhead >= ggrs.MaxPrediction {
		return ggrs.NullFrame, ggrs.ErrPredictionThreshold
	}
	return l.inputQueues[handle].AddInput(inputqueue.GameInput[I]{Frame: l.currentFrame, Input: input}), nil
}

// AddRemoteInput stores input for a remote player, without the prediction
// threshold check AddLocalInput performs, since remote input has already
// passed that check on the peer that generated it.
func (l *Layer[I, S]) AddRemoteInput(handle ggrs.PlayerHandle, frame ggrs.Frame, input I) {
	l.inputQueues[handle].AddInput(inputqueue.GameInput[I]{Frame: frame, Input: input})
}

// SynchronizedInputs returns the current frame's input for every player,
// predicting for anyone whose real input has not arrived yet and blanking
// out anyone connectStatus marks as disconnected.
func (l *Layer[I, S]) SynchronizedInputs(connectStatus []ConnectionStatus) []ggrs.PlayerInput[I] {
	out := make([]ggrs.PlayerInput[I], len(connectStatus))
	for i, status := range connectStatus {
		if status.Disconnected {
			var zero I
			out[i] = ggrs.PlayerInput[I]{Input: zero, Status: ggrs.InputStatusDisconnected}
			continue
		}
		in, inputStatus := l.inputQueues[i].Input(l.currentFrame)
		out[i] = ggrs.PlayerInput[I]{Input: in, Status: inputStatus}
	}
	return out
}

// ConfirmedInputs returns the confirmed input for every player on frame,
// blanking out disconnected players or anyone whose last known frame is
// older than the requested one.
func (l *Layer[I, S]) ConfirmedInputs(frame ggrs.Frame, connectStatus []ConnectionStatus) []I {
	out := make([]I, len(connectStatus))
	for i, status := range connectStatus {
		if status.Disconnected || status.LastFrame < frame {
			var zero I
			out[i] = zero
			continue
		}
		out[i] = l.inputQueues[i].ConfirmedInput(frame).Input
	}
	return out
}

// SetLastConfirmedFrame raises the last-confirmed-frame watermark. With
// sparse off, every input queue discards anything before frame-1;
// with sparse on, a session saves only the confirmed frame each cycle
// rather than every frame, so queues retain more history and nothing is
// discarded here. Panics if discarding would throw away an input some queue
// still needs to correct a known misprediction, which would be a caller
// bug.
func (l *Layer[I, S]) SetLastConfirmedFrame(frame ggrs.Frame, sparse bool) {
	for _, q := range l.inputQueues {
		if fi := q.FirstIncorrectFrame(); fi != ggrs.NullFrame && fi < frame {
			panic("synclayer: would discard input needed to correct an outstanding misprediction")
		}
	}

	l.lastConfirmedFrame = frame
	if sparse {
		return
	}
	if l.lastConfirmedFrame > 0 {
		for _, q := range l.inputQueues {
			q.DiscardConfirmedFrames(frame - 1)
		}
	}
}

// LastSavedFrame returns the frame most recently saved via
// SaveCurrentState, or NullFrame if nothing has been saved yet.
func (l *Layer[I, S]) LastSavedFrame() ggrs.Frame {
	return l.states.LastSavedFrame()
}

// SavedStateByFrame returns the cell holding the state saved for frame,
// without disturbing the ring's current head, or false if no slot
// currently holds it.
func (l *Layer[I, S]) SavedStateByFrame(frame ggrs.Frame) (*statecell.Cell[S], bool) {
	return l.states.Find(frame)
}

// CheckSimulationConsistency returns the earliest frame any player's
// prediction has been proven wrong, or false if every prediction made so
// far has held up.
func (l *Layer[I, S]) CheckSimulationConsistency() (ggrs.Frame, bool) {
	firstIncorrect := ggrs.NullFrame
	for _, q := range l.inputQueues {
		fi := q.FirstIncorrectFrame()
		if fi != ggrs.NullFrame && (firstIncorrect == ggrs.NullFrame || fi < firstIncorrect) {
			firstIncorrect = fi
		}
	}
	if firstIncorrect == ggrs.NullFrame {
		return 0, false
	}
	return firstIncorrect, true
}
