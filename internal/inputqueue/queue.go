// Package inputqueue implements the per-player input ring buffer that
// stores confirmed input, serves out a prediction when the real input for a
// frame hasn't arrived yet, and reports the earliest frame a prediction
// turned out to be wrong so the sync layer knows how far back to roll.
package inputqueue

import (
	"fmt"

	ggrs "github.com/gschup/ggrs-sub000"
)

// GameInput pairs one player's input with the frame it belongs to.
type GameInput[I comparable] struct {
	Frame ggrs.Frame
	Input I
}

// Queue holds one player's input history in a fixed-size circular buffer,
// indexed by frame modulo ggrs.InputQueueLength. Valid entries run from tail
// to head.
type Queue[I comparable] struct {
	head, tail, length int
	firstFrame         bool

	lastAddedFrame       ggrs.Frame
	firstIncorrectFrame  ggrs.Frame
	lastRequestedFrame   ggrs.Frame
	frameDelay           int

	inputs     [ggrs.InputQueueLength]GameInput[I]
	prediction GameInput[I]

	predictor ggrs.InputPredictor[I]
}

// New returns an empty queue, primed for frame 0, predicting a missing
// input by repeating the player's last confirmed one.
func New[I comparable]() *Queue[I] {
	q := &Queue[I]{
		firstFrame:          true,
		lastAddedFrame:      ggrs.NullFrame,
		firstIncorrectFrame: ggrs.NullFrame,
		lastRequestedFrame:  ggrs.NullFrame,
		prediction:          GameInput[I]{Frame: ggrs.NullFrame},
		predictor:           ggrs.PredictRepeatLast[I]{},
	}
	for i := range q.inputs {
		q.inputs[i] = GameInput[I]{Frame: ggrs.NullFrame}
	}
	return q
}

// SetPredictor overrides the strategy used to guess a player's input on a
// frame that has not been confirmed yet.
func (q *Queue[I]) SetPredictor(predictor ggrs.InputPredictor[I]) {
	q.predictor = predictor
}

// FirstIncorrectFrame returns the earliest frame whose prediction has since
// been proven wrong by a confirmed input, or NullFrame if every prediction
// made so far has held up.
func (q *Queue[I]) FirstIncorrectFrame() ggrs.Frame {
	return q.firstIncorrectFrame
}

// SetFrameDelay configures how many frames late input added through AddInput
// is actually stored at, simulating input lag a player opts into to smooth
// out their own rollback load.
func (q *Queue[I]) SetFrameDelay(delay int) {
	q.frameDelay = delay
}

// ResetPrediction drops any in-flight prediction and the incorrect-frame
// marker, called once a rollback has replayed past the misprediction.
func (q *Queue[I]) ResetPrediction() {
	q.prediction.Frame = ggrs.NullFrame
	q.firstIncorrectFrame = ggrs.NullFrame
	q.lastRequestedFrame = ggrs.NullFrame
}

// ConfirmedInput returns the confirmed input for requestedFrame. Panics if
// the frame was never confirmed, since callers only ask this of frames the
// sync layer already knows are settled.
func (q *Queue[I]) ConfirmedInput(requestedFrame ggrs.Frame) GameInput[I] {
	offset := int(requestedFrame) % ggrs.InputQueueLength
	if offset < 0 {
		offset += ggrs.InputQueueLength
	}
	if q.inputs[offset].Frame == requestedFrame {
		return q.inputs[offset]
	}
	panic(fmt.Sprintf("inputqueue: no confirmed input for frame %d", requestedFrame))
}

// DiscardConfirmedFrames drops every stored input up to frame, never going
// past the last frame a caller actually asked for via Input so no input a
// rollback might still need gets thrown away.
func (q *Queue[I]) DiscardConfirmedFrames(frame ggrs.Frame) {
	if q.lastRequestedFrame != ggrs.NullFrame && frame > q.lastRequestedFrame {
		frame = q.lastRequestedFrame
	}

	switch {
	case frame >= q.lastAddedFrame:
		q.tail = q.head
		q.length = 1
	case frame <= q.inputs[q.tail].Frame:
		// nothing to discard
	default:
		offset := int(frame - q.inputs[q.tail].Frame)
		q.tail = (q.tail + offset) % ggrs.InputQueueLength
		q.length -= offset
	}
}

// Input returns the input for requestedFrame and whether it is confirmed or
// predicted. Once a prediction has been started it keeps being extended and
// returned until the matching confirmed input arrives through AddInput.
func (q *Queue[I]) Input(requestedFrame ggrs.Frame) (I, ggrs.InputStatus) {
	if q.firstIncorrectFrame != ggrs.NullFrame {
		panic("inputqueue: Input called while a misprediction is outstanding")
	}

	q.lastRequestedFrame = requestedFrame

	if requestedFrame < q.inputs[q.tail].Frame {
		panic(fmt.Sprintf("inputqueue: requested frame %d has already been discarded", requestedFrame))
	}

	if q.prediction.Frame < 0 {
		offset := int(requestedFrame - q.inputs[q.tail].Frame)
		if offset < q.length {
			offset = (offset + q.tail) % ggrs.InputQueueLength
			if q.inputs[offset].Frame != requestedFrame {
				panic("inputqueue: queue offset arithmetic produced the wrong frame")
			}
			return q.inputs[offset].Input, ggrs.InputStatusConfirmed
		}

		if requestedFrame == 0 || q.lastAddedFrame == ggrs.NullFrame {
			var zero I
			q.prediction = GameInput[I]{Frame: q.prediction.Frame, Input: q.predictor.Predict(zero, false)}
		} else {
			prev := q.head - 1
			if prev < 0 {
				prev = ggrs.InputQueueLength - 1
			}
			last := q.inputs[prev]
			q.prediction = GameInput[I]{Frame: last.Frame, Input: q.predictor.Predict(last.Input, true)}
		}
		q.prediction.Frame++
	}

	return q.prediction.Input, ggrs.InputStatusPredicted
}

// AddInput stores input, applying the configured frame delay, and returns
// the frame it was actually stored at, or NullFrame if it was dropped for
// arriving out of sequence.
func (q *Queue[I]) AddInput(input GameInput[I]) ggrs.Frame {
	if q.lastAddedFrame != ggrs.NullFrame && ggrs.Frame(int(input.Frame)+q.frameDelay) != q.lastAddedFrame+1 {
		return ggrs.NullFrame
	}

	newFrame := q.advanceQueueHead(input.Frame)
	if newFrame != ggrs.NullFrame {
		q.addInputByFrame(input, newFrame)
	}
	return newFrame
}

func (q *Queue[I]) addInputByFrame(input GameInput[I], frameNumber ggrs.Frame) {
	q.inputs[q.head] = GameInput[I]{Frame: frameNumber, Input: input.Input}
	q.head = (q.head + 1) % ggrs.InputQueueLength
	q.length++
	if q.length > ggrs.InputQueueLength {
		panic("inputqueue: queue overflow")
	}
	q.firstFrame = false
	q.lastAddedFrame = frameNumber

	if q.prediction.Frame != ggrs.NullFrame {
		if frameNumber != q.prediction.Frame {
			panic("inputqueue: confirmed input arrived out of order with an outstanding prediction")
		}

		if q.firstIncorrectFrame == ggrs.NullFrame && q.prediction.Input != input.Input {
			q.firstIncorrectFrame = frameNumber
		}

		if q.prediction.Frame == q.lastRequestedFrame && q.firstIncorrectFrame == ggrs.NullFrame {
			q.prediction.Frame = ggrs.NullFrame
		} else {
			q.prediction.Frame++
		}
	}
}

func (q *Queue[I]) advanceQueueHead(inputFrame ggrs.Frame) ggrs.Frame {
	prev := q.head - 1
	if prev < 0 {
		prev = ggrs.InputQueueLength - 1
	}

	var expectedFrame ggrs.Frame
	if q.firstFrame {
		expectedFrame = 0
	} else {
		expectedFrame = q.inputs[prev].Frame + 1
	}

	inputFrame += ggrs.Frame(q.frameDelay)
	if expectedFrame > inputFrame {
		return ggrs.NullFrame
	}

	for expectedFrame < inputFrame {
		toReplicate := q.inputs[prev]
		q.addInputByFrame(toReplicate, expectedFrame)
		expectedFrame++
		prev = q.head - 1
		if prev < 0 {
			prev = ggrs.InputQueueLength - 1
		}
	}

	prev = q.head - 1
	if prev < 0 {
		prev = ggrs.InputQueueLength - 1
	}
	if inputFrame != 0 && q.inputs[prev].Frame != inputFrame-1 {
		panic("inputqueue: queue head advanced to an inconsistent frame")
	}
	return inputFrame
}
