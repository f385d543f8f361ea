package synclayer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ggrs "github.com/gschup/ggrs-sub000"
)

func TestReachPredictionThreshold(t *testing.T) {
	l := New[uint32, []byte](2)

	var gotErr error
	for i := uint32(0); i < 20; i++ {
		_, err := l.AddLocalInput(0, i)
		if err != nil {
			gotErr = err
			break
		}
		l.AdvanceFrame()
	}

	require.ErrorIs(t, gotErr, ggrs.ErrPredictionThreshold)
}

func TestDifferentDelays(t *testing.T) {
	l := New[uint32, []byte](2)
	const p1Delay = 2
	const p2Delay = 0
	l.SetFrameDelay(0, p1Delay)
	l.SetFrameDelay(1, p2Delay)

	status := []ConnectionStatus{{}, {}}

	for i := ggrs.Frame(0); i < 20; i++ {
		l.AddRemoteInput(0, i, uint32(i))
		l.AddRemoteInput(1, i, uint32(i))
		status[0].LastFrame = i
		status[1].LastFrame = i

		if i >= 3 {
			inputs := l.SynchronizedInputs(status)
			assert.Equal(t, uint32(i)-p1Delay, inputs[0].Input)
			assert.Equal(t, uint32(i)-p2Delay, inputs[1].Input)
		}

		l.AdvanceFrame()
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	l := New[uint32, string](1)

	l.AdvanceFrame()
	save1 := l.SaveCurrentState()
	save1.Cell.Save("frame-1-state", [16]byte{1})

	l.AdvanceFrame()
	save2 := l.SaveCurrentState()
	save2.Cell.Save("frame-2-state", [16]byte{2})

	load := l.LoadFrame(1)
	assert.Equal(t, ggrs.Frame(1), load.Frame)
	assert.Equal(t, "frame-1-state", load.Cell.Load())
	assert.Equal(t, ggrs.Frame(1), l.CurrentFrame())
}
