package ggrs

// InputPredictor supplies a guess for a remote player's input on a frame
// that has not been confirmed yet, so the session can keep advancing instead
// of stalling on the network. The guess is rolled back and replayed with the
// real input once it arrives, so it only needs to be plausible, not correct.
type InputPredictor[I comparable] interface {
	// Predict returns the guessed input for the frame following last, given
	// the most recent confirmed input for that player. hasLast is false if
	// no input has ever been confirmed for this player yet.
	Predict(last I, hasLast bool) I
}

// PredictRepeatLast predicts that a player keeps pressing whatever they
// pressed last, which is the right guess for most analog and discrete game
// inputs and is the default predictor a session uses if none is configured.
type PredictRepeatLast[I comparable] struct{}

func (PredictRepeatLast[I]) Predict(last I, hasLast bool) I {
	return last
}

// PredictDefault predicts the zero value of I regardless of history, useful
// for input types where "no input" is itself the safest guess.
type PredictDefault[I comparable] struct{}

func (PredictDefault[I]) Predict(last I, hasLast bool) I {
	var zero I
	return zero
}
