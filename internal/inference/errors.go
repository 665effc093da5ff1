package inference

import "errors"

var (
	// ErrShapeMismatch is returned when the number of observations does not
	// match the number of configured orientations.
	ErrShapeMismatch = errors.New("observation count does not match orientation count")
	// ErrNormalization is returned when the unnormalized grid total is zero,
	// negative or not finite.
	ErrNormalization = errors.New("cannot normalize probability grid")
)
