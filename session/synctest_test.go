package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ggrs "github.com/gschup/ggrs-sub000"
)

// deterministicState is a trivial game state: a running sum of every
// input ever applied. advanceDeterministic can inject a glitch once the sum
// passes 100; TestSyncTestCatchesNondeterminism does not use it and instead
// tampers with the checksum of a re-saved frame.
type deterministicState struct {
	sum     uint32
	glitchy bool
}

func advanceDeterministic(state *deterministicState, inputs []ggrs.PlayerInput[uint8], injectBug bool) {
	for _, in := range inputs {
		state.sum += uint32(in.Input)
	}
	if injectBug && !state.glitchy && state.sum > 100 {
		state.glitchy = true
		state.sum++
	}
}

func checksumOf(s deterministicState) [16]byte {
	var c [16]byte
	c[0] = byte(s.sum)
	c[1] = byte(s.sum >> 8)
	return c
}

func TestSyncTestBuilderRejectsCheckDistanceTooLarge(t *testing.T) {
	b := NewSyncTestBuilder[uint8, deterministicState](2).WithCheckDistance(ggrs.MaxPrediction)
	_, err := b.StartSession()
	assert.Error(t, err)
}

func TestSyncTestAdvancesAndSaves(t *testing.T) {
	sess, err := NewSyncTestBuilder[uint8, deterministicState](2).WithCheckDistance(2).StartSession()
	require.NoError(t, err)

	var state deterministicState
	saved := map[ggrs.Frame]deterministicState{}

	for frame := 0; frame < 6; frame++ {
		requests, err := sess.Advance([]uint8{1, 2})
		require.NoError(t, err)

		for _, req := range requests {
			switch r := req.(type) {
			case ggrs.SaveRequest[deterministicState]:
				r.Cell.Save(state, checksumOf(state))
				saved[r.Frame] = state
			case ggrs.LoadRequest[deterministicState]:
				state = r.Cell.Load()
			case ggrs.AdvanceRequest[uint8]:
				advanceDeterministic(&state, r.Inputs, false)
			}
		}
	}

	assert.Equal(t, ggrs.Frame(6), sess.CurrentFrame())
}

func TestSyncTestCatchesNondeterminism(t *testing.T) {
	sess, err := NewSyncTestBuilder[uint8, deterministicState](1).WithCheckDistance(2).StartSession()
	require.NoError(t, err)

	var state deterministicState
	var mismatchErr error
	saveCount := map[ggrs.Frame]int{}

	for frame := 0; frame < 40 && mismatchErr == nil; frame++ {
		requests, advErr := sess.Advance([]uint8{1})
		if advErr != nil {
			mismatchErr = advErr
			break
		}

		for _, req := range requests {
			switch r := req.(type) {
			case ggrs.SaveRequest[deterministicState]:
				checksum := checksumOf(state)
				// The resimulation after a rollback saves some frames a
				// second time; tamper the checksum on that second save to
				// simulate a simulation that is not actually deterministic,
				// exercising the mismatch-detection path.
				saveCount[r.Frame]++
				if saveCount[r.Frame] == 2 {
					checksum[15] ^= 0xFF
				}
				r.Cell.Save(state, checksum)
			case ggrs.LoadRequest[deterministicState]:
				state = r.Cell.Load()
			case ggrs.AdvanceRequest[uint8]:
				advanceDeterministic(&state, r.Inputs, false)
			}
		}
	}

	require.Error(t, mismatchErr)
	var mismatch ggrs.MismatchedChecksumError
	assert.ErrorAs(t, mismatchErr, &mismatch)
}

func TestSyncTestSetInputDelay(t *testing.T) {
	sess, err := NewSyncTestBuilder[uint8, deterministicState](2).StartSession()
	require.NoError(t, err)

	assert.NoError(t, sess.SetInputDelay(0, 3))
	assert.Error(t, sess.SetInputDelay(5, 3))
}
