package controller

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-wallseg/inference"
	"github.com/nvr-ai/go-wallseg/tensors"
)

// Stats counts what happened to submitted frames.
type Stats struct {
	// Accepted frames started processing.
	Accepted uint64
	// Skipped frames arrived while another frame was in flight.
	Skipped uint64
	// Invalid frames carried a zero timestamp.
	Invalid uint64
	// Completed frames produced a mask.
	Completed uint64
	// EncodeFailures, InferenceFailures and ShapeFailures count failed frames by cause.
	EncodeFailures    uint64
	InferenceFailures uint64
	ShapeFailures     uint64
	// OtherFailures counts failures of any other cause.
	OtherFailures uint64
}

// Failed returns the total number of failed frames.
func (s Stats) Failed() uint64 {
	return s.EncodeFailures + s.InferenceFailures + s.ShapeFailures + s.OtherFailures
}

type counters struct {
	accepted          atomic.Uint64
	skipped           atomic.Uint64
	invalid           atomic.Uint64
	completed         atomic.Uint64
	encodeFailures    atomic.Uint64
	inferenceFailures atomic.Uint64
	shapeFailures     atomic.Uint64
	otherFailures     atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Accepted:          c.accepted.Load(),
		Skipped:           c.skipped.Load(),
		Invalid:           c.invalid.Load(),
		Completed:         c.completed.Load(),
		EncodeFailures:    c.encodeFailures.Load(),
		InferenceFailures: c.inferenceFailures.Load(),
		ShapeFailures:     c.shapeFailures.Load(),
		OtherFailures:     c.otherFailures.Load(),
	}
}

// failure classifies err and bumps the matching counter.
func (c *counters) failure(err error) {
	switch {
	case errors.Is(err, inference.ErrEncoding):
		c.encodeFailures.Add(1)
	case errors.Is(err, inference.ErrInferenceFailure), errors.Is(err, inference.ErrNotInitialized):
		c.inferenceFailures.Add(1)
	case errors.Is(err, tensors.ErrShapeMismatch), errors.Is(err, tensors.ErrInvalidShape):
		c.shapeFailures.Add(1)
	default:
		c.otherFailures.Add(1)
	}
}
