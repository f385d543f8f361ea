package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ggrs "github.com/gschup/ggrs-sub000"
)

func buildHostAndSpectator(t *testing.T, clock ggrs.Clock) (*P2P[uint8, uint32], *Spectator[uint8, uint32]) {
	t.Helper()
	hostSocket := newPairedSocket("host")
	specSocket := newPairedSocket("spectator")
	link(hostSocket, specSocket)

	host, err := NewP2PBuilder[uint8, uint32](1, hostSocket, nil).
		WithClock(clock).
		AddPlayer(ggrs.PlayerTypeLocal, 0, nil).
		AddPlayer(ggrs.PlayerTypeSpectator, 1, stringAddr("spectator")).
		StartSession()
	require.NoError(t, err)

	spectator := NewSpectator[uint8, uint32](1, specSocket, stringAddr("host"), clock, nil)

	return host, spectator
}

func TestSpectatorSynchronizesWithHost(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	host, spectator := buildHostAndSpectator(t, clock)

	assert.Equal(t, ggrs.SessionStateSynchronizing, spectator.CurrentState())

	for round := 0; round < 50 && (host.CurrentState() != ggrs.SessionStateRunning || spectator.CurrentState() != ggrs.SessionStateRunning); round++ {
		host.Poll()
		spectator.Poll()
	}

	assert.Equal(t, ggrs.SessionStateRunning, host.CurrentState())
	assert.Equal(t, ggrs.SessionStateRunning, spectator.CurrentState())
}

func TestSpectatorReceivesConfirmedInput(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	host, spectator := buildHostAndSpectator(t, clock)

	for round := 0; round < 50 && (host.CurrentState() != ggrs.SessionStateRunning || spectator.CurrentState() != ggrs.SessionStateRunning); round++ {
		host.Poll()
		spectator.Poll()
	}
	require.Equal(t, ggrs.SessionStateRunning, host.CurrentState())
	require.Equal(t, ggrs.SessionStateRunning, spectator.CurrentState())

	var hostState uint32
	savedHost := map[ggrs.Frame]uint32{}

	for frame := uint8(0); frame < 5; frame++ {
		require.NoError(t, host.AddLocalInput(0, frame+1))
		requests, err := host.Advance()
		require.NoError(t, err)
		fulfillRequests(t, requests, &hostState, savedHost)
	}

	var specRequests []ggrs.Request
	for round := 0; round < 50 && spectator.CurrentFrame() < 4; round++ {
		reqs, err := spectator.Advance()
		specRequests = append(specRequests, reqs...)
		if err != nil && err != ggrs.ErrPredictionThreshold {
			require.NoError(t, err)
		}
	}

	require.NotEmpty(t, specRequests)
	var gotInput bool
	for _, req := range specRequests {
		if adv, ok := req.(ggrs.AdvanceRequest[uint8]); ok {
			require.Len(t, adv.Inputs, 1)
			if adv.Inputs[0].Input != 0 {
				gotInput = true
			}
		}
	}
	assert.True(t, gotInput, "expected at least one advance request to carry the host's real confirmed input")
}

func TestSpectatorCatchupSpeedValidation(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	_, spectator := buildHostAndSpectator(t, clock)

	assert.Error(t, spectator.SetCatchupSpeed(0))
	assert.NoError(t, spectator.SetMaxFramesBehind(20))
	assert.Error(t, spectator.SetCatchupSpeed(20))
	assert.NoError(t, spectator.SetCatchupSpeed(5))
}
