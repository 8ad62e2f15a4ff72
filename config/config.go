// Package config - File and environment configuration for the segmentation pipeline.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-wallseg/inference/providers"
	"github.com/nvr-ai/go-wallseg/logging"
	"github.com/nvr-ai/go-wallseg/models"
	"github.com/nvr-ai/go-wallseg/segmentation"
	"github.com/nvr-ai/go-wallseg/temporal"
	"github.com/nvr-ai/go-wallseg/tensors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WALLSEG_"

// Config is the complete pipeline configuration.
type Config struct {
	Model        ModelConfig        `yaml:"model"`
	Runtime      providers.Config   `yaml:"runtime"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Temporal     TemporalConfig     `yaml:"temporal"`
	Logging      logging.Config     `yaml:"logging"`
}

// ModelConfig holds the model geometry hints. Zero values are read from the
// model's declared inputs and outputs.
type ModelConfig struct {
	InputName    string         `yaml:"input_name"`
	OutputName   string         `yaml:"output_name"`
	Width        int            `yaml:"width"`
	Height       int            `yaml:"height"`
	Channels     int            `yaml:"channels"`
	ClassCount   int            `yaml:"class_count"`
	Layout       tensors.Layout `yaml:"layout"`
	OutputLayout tensors.Layout `yaml:"output_layout"`
	// Labels names the label set used to resolve TargetLabel.
	Labels string `yaml:"labels"`
}

// SegmentationConfig selects what is extracted into the mask.
type SegmentationConfig struct {
	TargetClass int `yaml:"target_class"`
	// TargetLabel, when set, overrides TargetClass through the model's label set.
	TargetLabel string  `yaml:"target_label"`
	Threshold   float32 `yaml:"threshold"`
	// Mode is "threshold" or "argmax".
	Mode string `yaml:"mode"`
	// RawPixels feeds the model values in [0,255].
	RawPixels bool `yaml:"raw_pixels"`
}

// TemporalConfig enables and tunes mask smoothing.
type TemporalConfig struct {
	Enabled         bool `yaml:"enabled"`
	temporal.Config `yaml:",inline"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Channels: 3,
			Layout:   tensors.LayoutAuto,
			Labels:   "ade20k",
		},
		Runtime: providers.DefaultConfig(),
		Segmentation: SegmentationConfig{
			Threshold: 0.5,
			Mode:      "threshold",
		},
		Temporal: TemporalConfig{
			Enabled: true,
			Config:  temporal.DefaultConfig(),
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads the configuration.
//
// Defaults are overlaid by the YAML file at path, then by WALLSEG_* environment
// variables. Variables in envFile are loaded first without replacing those
// already set in the process environment.
//
// Arguments:
//   - path: The YAML file. Empty skips the file.
//   - envFile: The dotenv file. Empty or missing skips it.
//
// Returns:
//   - Config: The validated configuration.
//   - error: An error if a source cannot be parsed or the result is invalid.
func Load(path, envFile string) (Config, error) {
	cfg, err := Read(path, envFile)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Read overlays the same sources as Load without validating the result, so
// callers can apply their own overrides before calling Validate.
func Read(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return cfg, errors.Wrapf(err, "load env file %s", envFile)
			}
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// ApplyEnv overrides fields from WALLSEG_* environment variables.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, key)
			}
			*dst = n
		}
		return nil
	}
	flt := func(key string, dst *float32) error {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, key)
			}
			*dst = float32(f)
		}
		return nil
	}
	boolean := func(key string, dst *bool) error {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, key)
			}
			*dst = b
		}
		return nil
	}
	layout := func(key string, dst *tensors.Layout) error {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			l, err := tensors.ParseLayout(v)
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, key)
			}
			*dst = l
		}
		return nil
	}

	str("MODEL_PATH", &c.Runtime.ModelPath)
	str("LIBRARY_PATH", &c.Runtime.LibraryPath)
	if v, ok := os.LookupEnv(EnvPrefix + "BACKEND"); ok {
		c.Runtime.Backend = providers.ProviderBackend(v)
	}
	str("INPUT_NAME", &c.Model.InputName)
	str("OUTPUT_NAME", &c.Model.OutputName)
	str("LABELS", &c.Model.Labels)
	str("TARGET_LABEL", &c.Segmentation.TargetLabel)
	str("MODE", &c.Segmentation.Mode)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	for _, err := range []error{
		num("WIDTH", &c.Model.Width),
		num("HEIGHT", &c.Model.Height),
		num("CHANNELS", &c.Model.Channels),
		num("CLASS_COUNT", &c.Model.ClassCount),
		num("TARGET_CLASS", &c.Segmentation.TargetClass),
		flt("THRESHOLD", &c.Segmentation.Threshold),
		boolean("RAW_PIXELS", &c.Segmentation.RawPixels),
		boolean("TEMPORAL_ENABLED", &c.Temporal.Enabled),
		flt("TEMPORAL_BASE_FACTOR", &c.Temporal.BaseFactor),
		flt("TEMPORAL_SNAP_THRESHOLD", &c.Temporal.SnapThreshold),
		layout("LAYOUT", &c.Model.Layout),
		layout("OUTPUT_LAYOUT", &c.Model.OutputLayout),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Runtime.Validate(); err != nil {
		return errors.Wrap(err, "runtime")
	}
	if c.Model.Width < 0 || c.Model.Height < 0 || c.Model.ClassCount < 0 {
		return errors.New("model: sizes must not be negative")
	}
	if c.Model.Channels != 0 && c.Model.Channels != 1 && c.Model.Channels != 3 {
		return errors.Errorf("model: channels must be 1 or 3, got %d", c.Model.Channels)
	}
	if c.Segmentation.TargetClass < 0 {
		return errors.Errorf("segmentation: target class %d is negative", c.Segmentation.TargetClass)
	}
	if _, err := segmentation.ParseMode(c.Segmentation.Mode); err != nil {
		return errors.Wrap(err, "segmentation")
	}
	if c.Segmentation.TargetLabel != "" {
		if _, err := models.ResolveClass(c.Model.Labels, c.Segmentation.TargetLabel, c.Segmentation.TargetClass); err != nil {
			return errors.Wrap(err, "segmentation")
		}
	}
	if c.Temporal.Enabled {
		if err := c.Temporal.Config.Validate(); err != nil {
			return errors.Wrap(err, "temporal")
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return errors.Wrap(err, "logging")
	}
	return nil
}

// Hints returns the model geometry hints for models.Resolve.
func (c Config) Hints() models.Hints {
	return models.Hints{
		InputName:     c.Model.InputName,
		OutputName:    c.Model.OutputName,
		InputWidth:    c.Model.Width,
		InputHeight:   c.Model.Height,
		InputChannels: c.Model.Channels,
		ClassCount:    c.Model.ClassCount,
		Layout:        c.Model.Layout,
		OutputLayout:  c.Model.OutputLayout,
	}
}

// TargetClass returns the configured class index, resolving TargetLabel when set.
func (c Config) TargetClass() (int, error) {
	return models.ResolveClass(c.Model.Labels, c.Segmentation.TargetLabel, c.Segmentation.TargetClass)
}

// Mode returns the decode mode.
func (c Config) Mode() (segmentation.Mode, error) {
	return segmentation.ParseMode(c.Segmentation.Mode)
}
