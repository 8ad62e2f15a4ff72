package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-wallseg/inference/providers"
	"github.com/nvr-ai/go-wallseg/segmentation"
	"github.com/nvr-ai/go-wallseg/tensors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3, cfg.Model.Channels)
	assert.Equal(t, tensors.LayoutAuto, cfg.Model.Layout)
	assert.Equal(t, float32(0.5), cfg.Segmentation.Threshold)
	assert.True(t, cfg.Temporal.Enabled)
	assert.Equal(t, float32(0.6), cfg.Temporal.BaseFactor)
	assert.Equal(t, float32(0.1), cfg.Temporal.SnapThreshold)
	assert.Equal(t, providers.CPUProviderBackend, cfg.Runtime.Backend)

	assert.Error(t, cfg.Validate(), "a model path is required")
	cfg.Runtime.ModelPath = "wall.onnx"
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "wallseg.yaml", `
model:
  output_name: logits
  width: 512
  height: 512
  layout: nchw
  labels: ade20k
runtime:
  model_path: models/segformer.onnx
  backend: coreml
  coreml:
    require_ane: true
segmentation:
  target_label: door
  threshold: 0.4
  mode: argmax
temporal:
  enabled: false
  base_factor: 0.8
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "logits", cfg.Model.OutputName)
	assert.Equal(t, 512, cfg.Model.Width)
	assert.Equal(t, tensors.ChannelsFirst, cfg.Model.Layout)
	assert.Equal(t, 3, cfg.Model.Channels, "unset fields keep their defaults")
	assert.Equal(t, "models/segformer.onnx", cfg.Runtime.ModelPath)
	assert.Equal(t, providers.CoreMLProviderBackend, cfg.Runtime.Backend)
	assert.Equal(t, "extended", cfg.Runtime.GraphOptimization)
	assert.False(t, cfg.Temporal.Enabled)
	assert.Equal(t, float32(0.8), cfg.Temporal.BaseFactor)
	assert.Equal(t, float32(0.1), cfg.Temporal.SnapThreshold)
	assert.Equal(t, "json", cfg.Logging.Format)

	target, err := cfg.TargetClass()
	require.NoError(t, err)
	assert.Equal(t, 14, target, "door in ade20k")

	mode, err := cfg.Mode()
	require.NoError(t, err)
	assert.Equal(t, segmentation.ModeArgmax, mode)

	hints := cfg.Hints()
	assert.Equal(t, 512, hints.InputHeight)
	assert.Equal(t, tensors.ChannelsFirst, hints.Layout)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeFile(t, "wallseg.yaml", "runtime:\n  model_path: from-file.onnx\n")
	envFile := writeFile(t, ".env", "WALLSEG_THRESHOLD=0.7\nWALLSEG_LOG_LEVEL=warn\n")

	t.Setenv("WALLSEG_MODEL_PATH", "from-env.onnx")
	t.Setenv("WALLSEG_LAYOUT", "channels_last")
	t.Setenv("WALLSEG_TARGET_CLASS", "3")
	t.Setenv("WALLSEG_LOG_LEVEL", "error")
	t.Cleanup(func() { os.Unsetenv("WALLSEG_THRESHOLD") })

	cfg, err := Load(path, envFile)
	require.NoError(t, err)

	assert.Equal(t, "from-env.onnx", cfg.Runtime.ModelPath)
	assert.Equal(t, tensors.ChannelsLast, cfg.Model.Layout)
	assert.Equal(t, 3, cfg.Segmentation.TargetClass)
	assert.Equal(t, float32(0.7), cfg.Segmentation.Threshold, "read from the env file")
	assert.Equal(t, "error", cfg.Logging.Level, "the process environment wins over the env file")
}

func TestApplyEnvCoversEverySection(t *testing.T) {
	t.Setenv("WALLSEG_CHANNELS", "1")
	t.Setenv("WALLSEG_OUTPUT_LAYOUT", "nchw")
	t.Setenv("WALLSEG_RAW_PIXELS", "true")
	t.Setenv("WALLSEG_TEMPORAL_BASE_FACTOR", "0.8")
	t.Setenv("WALLSEG_TEMPORAL_SNAP_THRESHOLD", "0.2")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, 1, cfg.Model.Channels)
	assert.Equal(t, tensors.ChannelsFirst, cfg.Model.OutputLayout)
	assert.True(t, cfg.Segmentation.RawPixels)
	assert.Equal(t, float32(0.8), cfg.Temporal.BaseFactor)
	assert.Equal(t, float32(0.2), cfg.Temporal.SnapThreshold)

	t.Setenv("WALLSEG_RAW_PIXELS", "sometimes")
	assert.Error(t, cfg.ApplyEnv())
}

func TestReadDefersValidation(t *testing.T) {
	t.Setenv("WALLSEG_MODEL_PATH", "")

	_, err := Load("", "")
	assert.Error(t, err, "a model path is required")

	cfg, err := Read("", "")
	require.NoError(t, err)
	cfg.Runtime.ModelPath = "flag.onnx"
	assert.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("WALLSEG_MODEL_PATH", "m.onnx")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "model: [oops"), "")
	assert.Error(t, err)

	_, err = Load(writeFile(t, "layout.yaml", "model:\n  layout: hwcn\n"), "")
	assert.Error(t, err)

	t.Setenv("WALLSEG_THRESHOLD", "high")
	_, err = Load("", "")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Default()
	base.Runtime.ModelPath = "m.onnx"

	cases := map[string]func(*Config){
		"channels":     func(c *Config) { c.Model.Channels = 2 },
		"mode":         func(c *Config) { c.Segmentation.Mode = "softmax" },
		"label":        func(c *Config) { c.Segmentation.TargetLabel = "spaceship" },
		"temporal":     func(c *Config) { c.Temporal.BaseFactor = 0 },
		"log level":    func(c *Config) { c.Logging.Level = "chatty" },
		"backend":      func(c *Config) { c.Runtime.Backend = "tpu" },
		"target class": func(c *Config) { c.Segmentation.TargetClass = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	disabled := base
	disabled.Temporal.Enabled = false
	disabled.Temporal.BaseFactor = 0
	assert.NoError(t, disabled.Validate(), "disabled smoothing is not validated")
}
