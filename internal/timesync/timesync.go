// Package timesync estimates how far ahead or behind a remote peer the
// local simulation is running, and recommends a frame delay that brings the
// two sides back toward the middle instead of one side racing ahead and
// forcing constant rollbacks.
package timesync

import (
	ggrs "github.com/gschup/ggrs-sub000"
	"github.com/gschup/ggrs-sub000/internal/ring"
)

const (
	frameWindowSize   = 30
	minUniqueFrames   = 10
	minFrameAdvantage = 3
	maxFrameAdvantage = 10
)

// TimeSync keeps a rolling window of local/remote frame-advantage samples
// plus the last few inputs seen, the latter only to tell idle input from
// real gameplay when a caller requires it.
type TimeSync[I comparable] struct {
	local      *ring.Window[int32]
	remote     *ring.Window[int32]
	lastInputs *ring.Window[I]
}

// New returns a TimeSync with every sample at zero advantage.
func New[I comparable]() *TimeSync[I] {
	return &TimeSync[I]{
		local:      ring.NewWindow[int32](frameWindowSize),
		remote:     ring.NewWindow[int32](frameWindowSize),
		lastInputs: ring.NewWindow[I](minUniqueFrames),
	}
}

// AdvanceFrame records one frame's local/remote frame-advantage sample and
// the input seen on that frame.
func (t *TimeSync[I]) AdvanceFrame(frame ggrs.Frame, input I, localAdvantage, remoteAdvantage int32) {
	idx := int(frame)
	t.lastInputs.Set(idx, input)
	t.local.Set(idx, localAdvantage)
	t.remote.Set(idx, remoteAdvantage)
}

// RecommendFrameDelay returns how many frames the caller should wait before
// advancing again to let a remote peer catch up, or 0 if no wait is
// warranted. If requireIdleInput is true, the recommendation is suppressed
// unless every sampled input was identical, since pausing mid-action would
// be more disruptive than the rollback it is meant to avoid.
func (t *TimeSync[I]) RecommendFrameDelay(requireIdleInput bool) uint32 {
	var localSum, remoteSum int32
	for _, v := range t.local.All() {
		localSum += v
	}
	for _, v := range t.remote.All() {
		remoteSum += v
	}
	localAvg := float64(localSum) / float64(frameWindowSize)
	remoteAvg := float64(remoteSum) / float64(frameWindowSize)

	if localAvg >= remoteAvg {
		return 0
	}

	sleepFrames := int32(((remoteAvg - localAvg) / 2.0) + 0.5)

	if sleepFrames < minFrameAdvantage {
		return 0
	}

	if requireIdleInput {
		inputs := t.lastInputs.All()
		ref := inputs[0]
		for _, in := range inputs {
			if in != ref {
				return 0
			}
		}
	}

	if sleepFrames > maxFrameAdvantage {
		sleepFrames = maxFrameAdvantage
	}
	return uint32(sleepFrames)
}
