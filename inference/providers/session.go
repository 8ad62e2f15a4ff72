package providers

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-wallseg/tensors"
)

// Session is a loaded model bound to an ONNX Runtime session. It satisfies
// inference.Runtime.
type Session struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	inputs  []tensors.Info
	outputs []tensors.Info
	logger  logrus.FieldLogger
}

// Open loads a model and creates a session for every declared input and output.
//
// Order of operations:
//  1. Library check and one-time environment setup.
//  2. Model metadata: declared inputs and outputs.
//  3. Session options: threading, graph optimization and the execution provider.
//  4. Session creation, binding every declared input and output by name.
//
// Partially created native objects are destroyed on every failure path.
//
// Arguments:
//   - cfg: The runtime configuration.
//   - logger: The logger for load diagnostics.
//
// Returns:
//   - *Session: The loaded model, owned by the caller.
//   - error: An error if any step fails.
func Open(cfg Config, logger logrus.FieldLogger) (*Session, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid runtime config")
	}
	if err := initEnvironment(cfg.LibraryPath, cfg.Verbose); err != nil {
		return nil, err
	}

	ins, outs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading model metadata from %s", cfg.ModelPath)
	}
	if len(ins) == 0 || len(outs) == 0 {
		return nil, errors.Errorf("model %s declares %d inputs and %d outputs", cfg.ModelPath, len(ins), len(outs))
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return nil, errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return nil, errors.Wrap(err, "error setting inter-op threads")
	}
	level, err := cfg.graphOptimizationLevel()
	if err != nil {
		return nil, err
	}
	if err := options.SetGraphOptimizationLevel(level); err != nil {
		return nil, errors.Wrap(err, "error setting graph optimization level")
	}
	if err := appendExecutionProvider(options, cfg); err != nil {
		return nil, err
	}

	s := &Session{
		inputs:  toInfos(ins),
		outputs: toInfos(outs),
		logger:  logger,
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, names(s.inputs), names(s.outputs), options)
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session")
	}
	s.session = session

	logger.WithFields(logrus.Fields{
		"model":   cfg.ModelPath,
		"backend": cfg.Backend,
		"inputs":  s.inputs,
		"outputs": s.outputs,
	}).Info("model loaded")

	return s, nil
}

// Inputs returns the declared model inputs.
func (s *Session) Inputs() []tensors.Info {
	return s.inputs
}

// Outputs returns the declared model outputs.
func (s *Session) Outputs() []tensors.Info {
	return s.outputs
}

// Run executes the model. Inputs missing from the map are an error; every
// declared output is returned and owned by the caller.
func (s *Session) Run(ctx context.Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("session closed")
	}

	in := make([]ort.Value, 0, len(s.inputs))
	defer func() {
		for _, v := range in {
			v.Destroy()
		}
	}()

	var layout tensors.Layout
	for _, info := range s.inputs {
		t, ok := inputs[info.Name]
		if !ok || t == nil || t.Released() {
			return nil, errors.Errorf("missing input %q", info.Name)
		}
		layout = t.Layout()

		dims := make([]int64, 0, len(t.Shape()))
		for _, d := range t.Shape() {
			dims = append(dims, int64(d))
		}
		v, err := ort.NewTensor(ort.NewShape(dims...), t.Data())
		if err != nil {
			return nil, errors.Wrapf(err, "error creating input tensor %q", info.Name)
		}
		in = append(in, v)
	}

	out := make([]ort.Value, len(s.outputs))
	if err := s.session.Run(in, out); err != nil {
		for _, v := range out {
			if v != nil {
				v.Destroy()
			}
		}
		return nil, err
	}

	produced := make(map[string]*tensors.Tensor, len(out))
	for i, v := range out {
		if v == nil {
			continue
		}
		t, err := fromValue(v, layout)
		if err != nil {
			for _, done := range produced {
				done.Release()
			}
			for _, rest := range out[i+1:] {
				if rest != nil {
					rest.Destroy()
				}
			}
			return nil, errors.Wrapf(err, "output %q", s.outputs[i].Name)
		}
		produced[s.outputs[i].Name] = t
	}

	return produced, nil
}

// Close destroys the native session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return errors.Wrap(err, "error destroying ORT session")
	}
	return nil
}

// fromValue wraps a float32 output without copying; Release destroys the
// native value. Integer outputs, typically class id maps, are converted to
// float32 and the native value destroyed immediately. On error the value is
// always destroyed.
func fromValue(v ort.Value, layout tensors.Layout) (*tensors.Tensor, error) {
	shape := toShape(v.GetShape())

	switch t := v.(type) {
	case *ort.Tensor[float32]:
		wrapped, err := tensors.NewWithRelease(shape, layout, t.GetData(), func() { t.Destroy() })
		if err != nil {
			t.Destroy()
			return nil, err
		}
		return wrapped, nil
	case *ort.Tensor[int64]:
		defer t.Destroy()
		return tensors.New(shape, layout, convert(t.GetData()))
	case *ort.Tensor[int32]:
		defer t.Destroy()
		return tensors.New(shape, layout, convert(t.GetData()))
	case *ort.Tensor[uint8]:
		defer t.Destroy()
		return tensors.New(shape, layout, convert(t.GetData()))
	default:
		v.Destroy()
		return nil, errors.Errorf("unsupported output value %T", v)
	}
}

func convert[T int64 | int32 | uint8](src []T) []float32 {
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = float32(v)
	}
	return out
}

func toShape(s ort.Shape) tensors.Shape {
	out := make(tensors.Shape, len(s))
	for i, d := range s {
		out[i] = int(d)
	}
	return out
}

func toInfos(infos []ort.InputOutputInfo) []tensors.Info {
	out := make([]tensors.Info, len(infos))
	for i, info := range infos {
		dims := make([]int64, len(info.Dimensions))
		copy(dims, info.Dimensions)
		out[i] = tensors.Info{Name: info.Name, Dims: dims}
	}
	return out
}

func names(infos []tensors.Info) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}
