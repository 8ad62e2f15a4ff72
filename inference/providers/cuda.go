package providers

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CUDAProviderBackend uses NVIDIA CUDA for GPU acceleration.
	CUDAProviderBackend ProviderBackend = "cuda"

	// TensorRTProviderBackend uses NVIDIA TensorRT for optimized inference.
	TensorRTProviderBackend ProviderBackend = "tensorrt"
)

// CUDAOptions contains arguments for the CUDA provider. Zero values are left
// at the runtime defaults.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// The size limit of the device memory arena in bytes.
	GPUMemLimit int64 `json:"gpu_mem_limit" yaml:"gpu_mem_limit"`
	// 0: kNextPowerOfTwo, 1: kSameAsRequested.
	ArenaExtendStrategy string `json:"arena_extend_strategy" yaml:"arena_extend_strategy"`
	// EXHAUSTIVE, HEURISTIC or DEFAULT.
	CudnnConvAlgoSearch string `json:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search"`
	// Prefer NHWC operators over NCHW. Layout transformations are applied automatically.
	PreferNHWC bool `json:"prefer_nhwc" yaml:"prefer_nhwc"`
	// Allow TF32 math on Ampere and later.
	UseTF32 bool `json:"use_tf32" yaml:"use_tf32"`
}

// Map returns the provider options understood by the runtime.
func (o CUDAOptions) Map() map[string]string {
	m := map[string]string{
		"device_id": strconv.Itoa(o.DeviceID),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = strconv.FormatInt(o.GPUMemLimit, 10)
	}
	if o.ArenaExtendStrategy != "" {
		m["arena_extend_strategy"] = o.ArenaExtendStrategy
	}
	if o.CudnnConvAlgoSearch != "" {
		m["cudnn_conv_algo_search"] = o.CudnnConvAlgoSearch
	}
	if o.PreferNHWC {
		m["prefer_nhwc"] = "1"
	}
	if o.UseTF32 {
		m["use_tf32"] = "1"
	}
	return m
}

// ToNativeProviderOptions converts the CUDA options to native provider options.
// The caller destroys the result.
func (o CUDAOptions) ToNativeProviderOptions() (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}
	if err := opts.Update(o.Map()); err != nil {
		opts.Destroy()
		return nil, errors.Wrap(err, "update CUDA options")
	}
	return opts, nil
}

// TensorRTOptions contains arguments for the TensorRT provider.
type TensorRTOptions struct {
	DeviceID int `json:"device_id" yaml:"device_id"`
	// Run in FP16 precision where supported.
	FP16 bool `json:"fp16" yaml:"fp16"`
	// EngineCachePath enables the serialized engine cache in this directory.
	EngineCachePath string `json:"engine_cache_path" yaml:"engine_cache_path"`
}

// Map returns the provider options understood by the runtime.
func (o TensorRTOptions) Map() map[string]string {
	m := map[string]string{
		"device_id": strconv.Itoa(o.DeviceID),
	}
	if o.FP16 {
		m["trt_fp16_enable"] = "1"
	}
	if o.EngineCachePath != "" {
		m["trt_engine_cache_enable"] = "1"
		m["trt_engine_cache_path"] = o.EngineCachePath
	}
	return m
}

// ToNativeProviderOptions converts the TensorRT options to native provider options.
// The caller destroys the result.
func (o TensorRTOptions) ToNativeProviderOptions() (*ort.TensorRTProviderOptions, error) {
	opts, err := ort.NewTensorRTProviderOptions()
	if err != nil {
		return nil, err
	}
	if err := opts.Update(o.Map()); err != nil {
		opts.Destroy()
		return nil, errors.Wrap(err, "update TensorRT options")
	}
	return opts, nil
}
