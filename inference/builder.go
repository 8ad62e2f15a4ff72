package inference

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Opener creates a runtime, typically by loading a model file.
type Opener func() (Runtime, error)

// EngineBuilder assembles an Engine with a fluent API. The first error sticks
// and short-circuits every later step.
type EngineBuilder struct {
	logger logrus.FieldLogger
	rt     Runtime
	err    error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{}
}

// WithLogger sets the logger for the engine.
func (b *EngineBuilder) WithLogger(logger logrus.FieldLogger) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.logger = logger
	return b
}

// WithRuntime uses an already opened runtime.
//
// Arguments:
//   - rt: The runtime the engine takes ownership of.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithRuntime(rt Runtime) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if rt == nil {
		b.err = errors.New("nil runtime")
		return b
	}
	b.rt = rt
	return b
}

// WithOpener opens the runtime through open.
//
// Arguments:
//   - open: The function that loads the model.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithOpener(open Opener) *EngineBuilder {
	if b.HasError() {
		return b
	}
	rt, err := open()
	if err != nil {
		b.err = errors.Wrap(err, "open runtime")
		return b
	}
	if b.rt != nil && b.rt != rt {
		_ = b.rt.Close()
	}
	b.rt = rt
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Build builds the engine. A runtime opened by the builder is closed when the
// build fails.
//
// Returns:
//   - *Engine: The engine.
//   - error: The error if any.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.HasError() {
		if b.rt != nil {
			_ = b.rt.Close()
		}
		return nil, b.err
	}
	if b.rt == nil {
		return nil, errors.New("runtime not configured")
	}

	e := NewEngine(b.logger)
	if err := e.Load(b.rt); err != nil {
		return nil, err
	}
	return e, nil
}

// MustBuild builds the engine and panics if there is an error.
//
// Returns:
//   - *Engine: The engine.
func (b *EngineBuilder) MustBuild() *Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}
