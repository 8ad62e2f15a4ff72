package inference

import "github.com/pkg/errors"

var (
	// ErrNotInitialized is returned when no model runtime has been loaded.
	ErrNotInitialized = errors.New("inference engine not initialized")

	// ErrEncoding is returned when a frame cannot be converted into an input tensor.
	ErrEncoding = errors.New("frame encoding failed")

	// ErrInferenceFailure matches any *InferenceError.
	ErrInferenceFailure = errors.New("inference failed")

	// ErrSkipped is returned when a request arrives while the engine is busy.
	ErrSkipped = errors.New("engine busy, request skipped")

	// ErrNotFound is returned when an output tensor name is not registered.
	ErrNotFound = errors.New("output not found")
)

// InferenceError wraps an error raised by the underlying runtime.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return "inference failed: " + e.Err.Error()
}

// Unwrap returns the runtime error.
func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrInferenceFailure.
func (e *InferenceError) Is(target error) bool {
	return target == ErrInferenceFailure
}
