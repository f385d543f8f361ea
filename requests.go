package ggrs

import "github.com/gschup/ggrs-sub000/statecell"

// Request is one instruction a session hands back from Advance, in the exact
// order it must be carried out: the caller type-switches over the concrete
// request types below and executes every one of them before calling Advance
// again.
type Request interface {
	isRequest()
}

// SaveRequest asks the user to serialize their current state and save it,
// with a checksum, into Cell. Frame is the frame the state corresponds to;
// the user does not need it to perform the save, but it is useful for
// logging and for keeping a parallel save format keyed by frame number.
type SaveRequest[S any] struct {
	Cell  *statecell.Cell[S]
	Frame Frame
}

func (SaveRequest[S]) isRequest() {}

// LoadRequest asks the user to call Cell.Load and restore their simulation
// to the state it contains, which was saved on Frame.
type LoadRequest[S any] struct {
	Cell  *statecell.Cell[S]
	Frame Frame
}

func (LoadRequest[S]) isRequest() {}

// AdvanceRequest asks the user to simulate exactly one frame forward using
// Inputs, indexed by player handle. Some entries may carry predicted rather
// than confirmed input; Status reports which.
type AdvanceRequest[I comparable] struct {
	Inputs []PlayerInput[I]
}

func (AdvanceRequest[I]) isRequest() {}

// PlayerInput pairs one player's input for a frame with whether it is
// confirmed, predicted, or standing in for a disconnected player.
type PlayerInput[I comparable] struct {
	Input  I
	Status InputStatus
}
