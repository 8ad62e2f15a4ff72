package controller

import (
	"github.com/pkg/errors"
)

var (
	// ErrBusy is returned by administrative calls made while a frame is in flight.
	ErrBusy = errors.New("pipeline busy")
	// ErrClosed is returned once the pipeline has been shut down.
	ErrClosed = errors.New("pipeline closed")
	// ErrInvalidFrame is returned for frames carrying a zero timestamp.
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrNoSuggestion is returned by ApplySuggestion when no diagnosis proposes a shape.
	ErrNoSuggestion = errors.New("no shape suggestion available")
)

// State is the pipeline's position in the per-frame state machine.
type State int32

const (
	// Idle accepts new frames and administrative calls.
	Idle State = iota
	// Encoding converts the frame into the input tensor.
	Encoding
	// Inferring runs the model.
	Inferring
	// Decoding turns the output tensor into a mask.
	Decoding
	// Stabilizing smooths the mask and notifies listeners.
	Stabilizing
	// Configuring applies an administrative change.
	Configuring
	// Closed is terminal.
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Encoding:
		return "encoding"
	case Inferring:
		return "inferring"
	case Decoding:
		return "decoding"
	case Stabilizing:
		return "stabilizing"
	case Configuring:
		return "configuring"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// InFlight reports whether a frame is being processed in this state.
func (s State) InFlight() bool {
	return s >= Encoding && s <= Stabilizing
}
