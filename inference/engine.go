// Package inference - Frame encoding and single-flight model execution.
package inference

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-wallseg/tensors"
)

// Runtime is a loaded model inside an external numeric runtime.
type Runtime interface {
	// Inputs returns the declared model inputs.
	Inputs() []tensors.Info
	// Outputs returns the declared model outputs.
	Outputs() []tensors.Info
	// Run executes the model. Ownership of the returned tensors passes to the caller.
	Run(ctx context.Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error)
	// Close releases the model and its compute context.
	Close() error
}

// Engine owns a Runtime and enforces single-flight execution over it.
type Engine struct {
	mu     sync.RWMutex
	rt     Runtime
	closed bool
	busy   atomic.Bool
	logger logrus.FieldLogger
}

// NewEngine creates an engine with no model loaded.
func NewEngine(logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{logger: logger}
}

// Load hands a runtime to the engine, closing any previously loaded one.
//
// Arguments:
//   - rt: The runtime to own.
//
// Returns:
//   - error: An error if the engine is closed or the previous runtime fails to close.
func (e *Engine) Load(rt Runtime) error {
	if rt == nil {
		return errors.New("nil runtime")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		_ = rt.Close()
		return errors.New("engine closed")
	}

	var err error
	if e.rt != nil {
		err = errors.Wrap(e.rt.Close(), "close previous runtime")
	}
	e.rt = rt
	return err
}

// Loaded reports whether a runtime is available.
func (e *Engine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rt != nil
}

// Inputs returns the declared inputs of the loaded runtime.
func (e *Engine) Inputs() []tensors.Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.rt == nil {
		return nil
	}
	return e.rt.Inputs()
}

// Outputs returns the declared outputs of the loaded runtime.
func (e *Engine) Outputs() []tensors.Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.rt == nil {
		return nil
	}
	return e.rt.Outputs()
}

// Busy reports whether a session is in progress.
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// Begin claims the engine for one frame. The claim covers execution and
// whatever downstream decoding the caller performs until End.
//
// Returns:
//   - *Session: The claimed session.
//   - error: ErrSkipped when another session is in progress.
func (e *Engine) Begin() (*Session, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrSkipped
	}
	return &Session{engine: e}, nil
}

// Execute runs a single inference inside its own session.
func (e *Engine) Execute(ctx context.Context, inputName string, input *tensors.Tensor) (*Outputs, error) {
	s, err := e.Begin()
	if err != nil {
		return nil, err
	}
	defer s.End()
	return s.Execute(ctx, inputName, input)
}

// Close releases the runtime. Running sessions finish first.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.rt == nil {
		return nil
	}
	err := e.rt.Close()
	e.rt = nil
	return errors.Wrap(err, "close runtime")
}

// Session is one claimed use of the engine.
type Session struct {
	engine *Engine
	ended  atomic.Bool
}

// Execute runs the model on input.
//
// Arguments:
//   - ctx: Checked before the run starts; a running inference is not interrupted.
//   - inputName: The model input to bind.
//   - input: The input tensor. The caller keeps ownership.
//
// Returns:
//   - *Outputs: The produced tensors, owned by the caller.
//   - error: ErrNotInitialized, or an *InferenceError matching ErrInferenceFailure.
func (s *Session) Execute(ctx context.Context, inputName string, input *tensors.Tensor) (*Outputs, error) {
	if s.ended.Load() {
		return nil, errors.New("session already ended")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := s.engine
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.rt == nil {
		return nil, ErrNotInitialized
	}
	if input == nil || input.Released() {
		return nil, &InferenceError{Err: errors.New("input tensor is not available")}
	}

	produced, err := e.rt.Run(ctx, map[string]*tensors.Tensor{inputName: input})
	if err != nil {
		for _, t := range produced {
			t.Release()
		}
		return nil, &InferenceError{Err: err}
	}
	if len(produced) == 0 {
		return nil, &InferenceError{Err: errors.New("runtime produced no outputs")}
	}

	return newOutputs(produced, e.rt.Outputs(), e.logger), nil
}

// End releases the claim on the engine. Calling it more than once is a no-op.
func (s *Session) End() {
	if s.ended.CompareAndSwap(false, true) {
		s.engine.busy.Store(false)
	}
}
