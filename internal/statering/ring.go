// Package statering implements the fixed-size save-state ring a sync layer
// uses to remember enough recent frames to roll back to any of them: one
// cell per frame within the prediction window, recycled oldest-first.
package statering

import (
	"fmt"

	ggrs "github.com/gschup/ggrs-sub000"
	"github.com/gschup/ggrs-sub000/statecell"
)

// Ring holds MaxPrediction+1 save-state cells, exactly enough to save every
// frame a sync layer might later need to roll back to.
type Ring[S any] struct {
	cells          [ggrs.MaxPrediction + 1]*cellSlot[S]
	head           int
	lastSavedFrame ggrs.Frame
}

type cellSlot[S any] struct {
	cell  *statecell.Cell[S]
	frame ggrs.Frame
}

// New allocates a ring with every slot empty (frame NullFrame).
func New[S any]() *Ring[S] {
	r := &Ring[S]{lastSavedFrame: ggrs.NullFrame}
	for i := range r.cells {
		r.cells[i] = &cellSlot[S]{cell: &statecell.Cell[S]{}, frame: ggrs.NullFrame}
	}
	return r
}

// Push advances the ring to a fresh slot for frame, resetting it so a load
// against it before it is saved into will panic, and returns the cell for
// the caller to hand out in a SaveRequest.
func (r *Ring[S]) Push(frame ggrs.Frame) *statecell.Cell[S] {
	slot := r.cells[r.head]
	slot.cell.Reset()
	slot.frame = frame
	r.head = (r.head + 1) % len(r.cells)
	r.lastSavedFrame = frame
	return slot.cell
}

// LastSavedFrame returns the frame most recently passed to Push, or
// NullFrame if nothing has been saved yet. Sparse-saving mode rolls back to
// this frame rather than to the first incorrect one.
func (r *Ring[S]) LastSavedFrame() ggrs.Frame {
	return r.lastSavedFrame
}

// Find returns the cell saved for frame, or false if no slot currently
// holds it (it was never saved, or has since been overwritten).
func (r *Ring[S]) Find(frame ggrs.Frame) (*statecell.Cell[S], bool) {
	for _, slot := range r.cells {
		if slot.frame == frame {
			return slot.cell, true
		}
	}
	return nil, false
}

// ResetTo moves head to the slot holding frame and returns its cell, for a
// LoadRequest driving a rollback. Panics if frame was never saved, which
// indicates a bug in the sync layer calling it rather than in user code.
func (r *Ring[S]) ResetTo(frame ggrs.Frame) *statecell.Cell[S] {
	for i, slot := range r.cells {
		if slot.frame == frame {
			r.head = (i + 1) % len(r.cells)
			return slot.cell
		}
	}
	panic(fmt.Sprintf("statering: no saved state for frame %d", frame))
}
