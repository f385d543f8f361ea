package main

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"math"

	ggrs "github.com/gschup/ggrs-sub000"
	"github.com/gschup/ggrs-sub000/statecell"
)

const (
	windowWidth  = 600.0
	windowHeight = 800.0

	movementSpeed = 15.0 / float64(simulationFPS)
	rotationSpeed = 2.5 / float64(simulationFPS)
	maxSpeed      = 7.0
	friction      = 0.98
)

// Input is the bitset one player contributes per frame: four buttons packed
// into a single comparable byte, which doubles as the wire-sized I type
// parameter every session in this program is built with.
type Input uint8

const (
	InputUp Input = 1 << iota
	InputDown
	InputLeft
	InputRight
)

// vec2 is a plain 2D point; no vector math library is pulled in for four
// field additions and a magnitude check.
type vec2 struct {
	X, Y float64
}

// BoxState is the simulation this program rolls back and replays: one ship
// per player, drifting around the window under thrust and rotation input.
// It is the S type parameter threaded through every session below, so the
// library stores and restores it by value on every SaveRequest/LoadRequest
// without ever serializing it itself.
type BoxState struct {
	Frame      ggrs.Frame
	Positions  []vec2
	Velocities []vec2
	Rotations  []float64
}

// NewBoxState places numPlayers ships evenly around a circle in the middle
// of the window, mirroring the original's starting layout.
func NewBoxState(numPlayers int) BoxState {
	s := BoxState{
		Frame:      0,
		Positions:  make([]vec2, numPlayers),
		Velocities: make([]vec2, numPlayers),
		Rotations:  make([]float64, numPlayers),
	}

	radius := windowWidth / 4.0
	for i := 0; i < numPlayers; i++ {
		angle := float64(i) / float64(numPlayers) * 2.0 * math.Pi
		s.Positions[i] = vec2{
			X: windowWidth/2.0 + radius*math.Cos(angle),
			Y: windowHeight/2.0 + radius*math.Sin(angle),
		}
		s.Rotations[i] = math.Mod(angle+math.Pi, 2.0*math.Pi)
	}
	return s
}

// Advance steps every player's ship forward by one frame according to
// inputs, one entry per player in handle order. A disconnected player's
// ship steers as if holding left, so it keeps turning while its velocity
// decays under friction, the same placeholder the original substitutes for
// a missing input.
func (s *BoxState) Advance(inputs []ggrs.PlayerInput[Input]) {
	s.Frame++

	for i := range s.Positions {
		input := inputs[i].Input
		if inputs[i].Status == ggrs.InputStatusDisconnected {
			input = InputLeft
		}

		rot := s.Rotations[i]
		vel := vec2{X: s.Velocities[i].X * friction, Y: s.Velocities[i].Y * friction}

		switch {
		case input&InputUp != 0 && input&InputDown == 0:
			vel.X += movementSpeed * math.Cos(rot)
			vel.Y += movementSpeed * math.Sin(rot)
		case input&InputUp == 0 && input&InputDown != 0:
			vel.X -= movementSpeed * math.Cos(rot)
			vel.Y -= movementSpeed * math.Sin(rot)
		}

		switch {
		case input&InputLeft != 0 && input&InputRight == 0:
			rot = math.Mod(rot-rotationSpeed+2.0*math.Pi, 2.0*math.Pi)
		case input&InputLeft == 0 && input&InputRight != 0:
			rot = math.Mod(rot+rotationSpeed, 2.0*math.Pi)
		}

		if magnitude := math.Hypot(vel.X, vel.Y); magnitude > maxSpeed {
			vel.X = vel.X * maxSpeed / magnitude
			vel.Y = vel.Y * maxSpeed / magnitude
		}

		pos := vec2{X: s.Positions[i].X + vel.X, Y: s.Positions[i].Y + vel.Y}
		pos.X = math.Min(math.Max(pos.X, 0), windowWidth)
		pos.Y = math.Min(math.Max(pos.Y, 0), windowHeight)

		s.Positions[i] = pos
		s.Velocities[i] = vel
		s.Rotations[i] = rot
	}
}

// checksum hashes the parts of the state that must stay identical across
// every peer running the same inputs. crc32 over a flat binary encoding is
// enough: this only ever needs to catch divergence, not resist tampering,
// so nothing beyond the standard library is pulled in for it.
func (s BoxState) checksum() statecell.Checksum {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, s.Frame)
	for i := range s.Positions {
		binary.Write(&buf, binary.LittleEndian, s.Positions[i])
		binary.Write(&buf, binary.LittleEndian, s.Velocities[i])
		binary.Write(&buf, binary.LittleEndian, s.Rotations[i])
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	var out statecell.Checksum
	binary.BigEndian.PutUint32(out[:4], sum)
	return out
}
