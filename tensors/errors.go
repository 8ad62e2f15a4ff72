package tensors

import "github.com/pkg/errors"

var (
	// ErrInvalidShape is returned when a shape or buffer cannot describe a usable tensor.
	ErrInvalidShape = errors.New("invalid tensor shape")

	// ErrShapeMismatch is returned when an output tensor disagrees with the expected layout or class count.
	ErrShapeMismatch = errors.New("tensor shape mismatch")

	// ErrFormatMismatch is reported when an element count is not divisible by the class count.
	ErrFormatMismatch = errors.New("element count not divisible by class count")
)
