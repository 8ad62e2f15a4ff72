// Package providers - ONNX Runtime sessions and execution provider selection.
package providers

import (
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers
type ProviderBackend string

const (
	// CPUProviderBackend runs on the default CPU execution provider.
	CPUProviderBackend ProviderBackend = "cpu"
)

// ParseBackend parses a backend name, defaulting to CPU for an empty string.
func ParseBackend(s string) (ProviderBackend, error) {
	b := ProviderBackend(strings.ToLower(strings.TrimSpace(s)))
	switch b {
	case "":
		return CPUProviderBackend, nil
	case CPUProviderBackend, CUDAProviderBackend, TensorRTProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend:
		return b, nil
	default:
		return "", errors.Errorf("unsupported provider backend %q", s)
	}
}

// Config describes how to open a model with ONNX Runtime.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string `json:"model_path" yaml:"model_path"`

	// LibraryPath overrides the platform default onnxruntime shared library.
	LibraryPath string `json:"library_path" yaml:"library_path"`

	// Backend specifies the execution provider to append.
	Backend ProviderBackend `json:"backend" yaml:"backend"`

	// IntraOpThreads sets threads for parallelizing ops. Zero lets the runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`

	// InterOpThreads sets threads for parallelizing independent ops. Zero lets the runtime decide.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`

	// GraphOptimization is one of "disable", "basic", "extended" or "all".
	GraphOptimization string `json:"graph_optimization" yaml:"graph_optimization"`

	// Verbose enables verbose native runtime logging.
	Verbose bool `json:"verbose" yaml:"verbose"`

	CUDA     CUDAOptions     `json:"cuda"     yaml:"cuda"`
	TensorRT TensorRTOptions `json:"tensorrt" yaml:"tensorrt"`
	CoreML   CoreMLOptions   `json:"coreml"   yaml:"coreml"`
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// DefaultConfig returns a CPU configuration with extended graph optimization.
//
// Returns:
//   - Config: The default configuration; ModelPath must still be set.
//
// @example
// cfg := providers.DefaultConfig()
// cfg.ModelPath = "models/wall.onnx"
// rt, err := providers.Open(cfg, logger)
func DefaultConfig() Config {
	return Config{
		Backend:           CPUProviderBackend,
		GraphOptimization: "extended",
	}
}

// Validate checks the configuration without touching the native library.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if _, err := c.graphOptimizationLevel(); err != nil {
		return err
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return errors.Errorf("thread counts must not be negative, got intra=%d inter=%d", c.IntraOpThreads, c.InterOpThreads)
	}
	return nil
}

func (c Config) graphOptimizationLevel() (ort.GraphOptimizationLevel, error) {
	switch strings.ToLower(c.GraphOptimization) {
	case "disable", "none":
		return ort.GraphOptimizationLevelDisableAll, nil
	case "basic":
		return ort.GraphOptimizationLevelEnableBasic, nil
	case "", "extended":
		return ort.GraphOptimizationLevelEnableExtended, nil
	case "all":
		return ort.GraphOptimizationLevelEnableAll, nil
	default:
		return 0, errors.Errorf("unknown graph optimization level %q", c.GraphOptimization)
	}
}

// appendExecutionProvider configures options for the selected backend.
func appendExecutionProvider(options *ort.SessionOptions, cfg Config) error {
	backend, err := ParseBackend(string(cfg.Backend))
	if err != nil {
		return err
	}

	switch backend {
	case CoreMLProviderBackend:
		if err := options.AppendExecutionProviderCoreML(cfg.CoreML.Flags()); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	case OpenVINOProviderBackend:
		if err := options.AppendExecutionProviderOpenVINO(cfg.OpenVINO.Map()); err != nil {
			return errors.Wrap(err, "error enabling OpenVINO")
		}
	case CUDAProviderBackend:
		cuda, err := cfg.CUDA.ToNativeProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error converting CUDA options")
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	case TensorRTProviderBackend:
		trt, err := cfg.TensorRT.ToNativeProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error converting TensorRT options")
		}
		defer trt.Destroy()
		if err := options.AppendExecutionProviderTensorRT(trt); err != nil {
			return errors.Wrap(err, "error enabling TensorRT")
		}
	}
	return nil
}
