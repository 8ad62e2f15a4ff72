// Package inferencetest - In-memory runtimes for exercising the pipeline without a native library.
package inferencetest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nvr-ai/go-wallseg/tensors"
)

// RunFunc computes the outputs of a fake runtime.
type RunFunc func(ctx context.Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error)

// Runtime is a configurable inference.Runtime.
type Runtime struct {
	InputInfo  []tensors.Info
	OutputInfo []tensors.Info
	RunFunc    RunFunc

	// Gate, when set, blocks every Run until a value is received or the channel is closed.
	Gate chan struct{}
	// Started receives one value each time Run is entered, when set.
	Started chan struct{}

	mu     sync.Mutex
	runs   int
	closed atomic.Int32
}

// Inputs returns the declared inputs.
func (r *Runtime) Inputs() []tensors.Info { return r.InputInfo }

// Outputs returns the declared outputs.
func (r *Runtime) Outputs() []tensors.Info { return r.OutputInfo }

// Run executes RunFunc after the optional gate opens.
func (r *Runtime) Run(ctx context.Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()

	if r.Started != nil {
		r.Started <- struct{}{}
	}
	if r.Gate != nil {
		<-r.Gate
	}
	return r.RunFunc(ctx, inputs)
}

// Close records the call.
func (r *Runtime) Close() error {
	r.closed.Add(1)
	return nil
}

// Runs returns how many times Run was entered.
func (r *Runtime) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// Closed returns how many times Close was called.
func (r *Runtime) Closed() int {
	return int(r.closed.Load())
}

// Constant returns a RunFunc that emits a copy of data under name with shape.
func Constant(name string, shape tensors.Shape, layout tensors.Layout, data []float32) RunFunc {
	return func(context.Context, map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
		buf := make([]float32, len(data))
		copy(buf, data)
		t, err := tensors.New(shape, layout, buf)
		if err != nil {
			return nil, err
		}
		return map[string]*tensors.Tensor{name: t}, nil
	}
}

// PerPixel returns a RunFunc emitting a (1,H,W,C) or (1,C,H,W) tensor where
// every pixel carries the same class scores.
func PerPixel(name string, height, width int, layout tensors.Layout, scores []float32) RunFunc {
	channels := len(scores)
	data := make([]float32, height*width*channels)
	plane := height * width
	for p := 0; p < plane; p++ {
		for c, s := range scores {
			if layout == tensors.ChannelsFirst {
				data[c*plane+p] = s
			} else {
				data[p*channels+c] = s
			}
		}
	}
	return Constant(name, tensors.ImageShape(height, width, channels, layout), layout, data)
}

// Identity returns a RunFunc that echoes the first input under name.
func Identity(name string) RunFunc {
	return func(_ context.Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
		for _, in := range inputs {
			buf := make([]float32, in.Len())
			copy(buf, in.Data())
			t, err := tensors.New(in.Shape(), in.Layout(), buf)
			if err != nil {
				return nil, err
			}
			return map[string]*tensors.Tensor{name: t}, nil
		}
		return nil, nil
	}
}

// Failing returns a RunFunc that always returns err.
func Failing(err error) RunFunc {
	return func(context.Context, map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
		return nil, err
	}
}

// ImageModel builds a runtime declaring one image input and one output.
func ImageModel(inputName string, inputDims []int64, outputName string, outputDims []int64, run RunFunc) *Runtime {
	return &Runtime{
		InputInfo:  []tensors.Info{{Name: inputName, Dims: inputDims}},
		OutputInfo: []tensors.Info{{Name: outputName, Dims: outputDims}},
		RunFunc:    run,
	}
}
