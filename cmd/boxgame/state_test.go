package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ggrs "github.com/gschup/ggrs-sub000"
)

func confirmedInputs(values ...Input) []ggrs.PlayerInput[Input] {
	out := make([]ggrs.PlayerInput[Input], len(values))
	for i, v := range values {
		out[i] = ggrs.PlayerInput[Input]{Input: v, Status: ggrs.InputStatusConfirmed}
	}
	return out
}

func TestNewBoxStatePlacesPlayersOnACircle(t *testing.T) {
	s := NewBoxState(4)
	require.Len(t, s.Positions, 4)
	require.Len(t, s.Velocities, 4)
	require.Len(t, s.Rotations, 4)
	assert.Equal(t, ggrs.Frame(0), s.Frame)
}

func TestBoxStateAdvanceIsDeterministic(t *testing.T) {
	a := NewBoxState(2)
	b := NewBoxState(2)

	inputs := confirmedInputs(InputUp, InputLeft)
	for i := 0; i < 30; i++ {
		a.Advance(inputs)
		b.Advance(inputs)
	}

	assert.Equal(t, a, b)
	assert.Equal(t, a.checksum(), b.checksum())
}

func TestBoxStateAdvanceThrustMovesShipForward(t *testing.T) {
	s := NewBoxState(1)
	start := s.Positions[0]

	for i := 0; i < 10; i++ {
		s.Advance(confirmedInputs(InputUp))
	}

	moved := s.Positions[0].X != start.X || s.Positions[0].Y != start.Y
	assert.True(t, moved, "ship should have moved under sustained thrust")
}

func TestBoxStateAdvanceClampsToWindowBounds(t *testing.T) {
	s := NewBoxState(1)
	for i := 0; i < 10000; i++ {
		s.Advance(confirmedInputs(InputUp))
	}

	assert.GreaterOrEqual(t, s.Positions[0].X, 0.0)
	assert.LessOrEqual(t, s.Positions[0].X, float64(windowWidth))
	assert.GreaterOrEqual(t, s.Positions[0].Y, 0.0)
	assert.LessOrEqual(t, s.Positions[0].Y, float64(windowHeight))
}

func TestBoxStateDisconnectedPlayerSpins(t *testing.T) {
	s := NewBoxState(1)
	startRot := s.Rotations[0]

	disconnected := []ggrs.PlayerInput[Input]{{Status: ggrs.InputStatusDisconnected}}
	s.Advance(disconnected)

	assert.NotEqual(t, startRot, s.Rotations[0])
}

func TestChecksumChangesWithState(t *testing.T) {
	s := NewBoxState(2)
	c0 := s.checksum()

	s.Advance(confirmedInputs(InputUp, InputRight))
	c1 := s.checksum()

	assert.NotEqual(t, c0, c1)
}

func TestSynthesizeInputAlternatesTurnDirection(t *testing.T) {
	early := synthesizeInput(0)
	later := synthesizeInput(30)
	assert.NotEqual(t, early&(InputLeft|InputRight), later&(InputLeft|InputRight))
}
