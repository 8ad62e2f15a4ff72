// Package bootstrap - Assembles a pipeline from configuration.
package bootstrap

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-wallseg/config"
	"github.com/nvr-ai/go-wallseg/controller"
	"github.com/nvr-ai/go-wallseg/inference"
	"github.com/nvr-ai/go-wallseg/inference/providers"
	"github.com/nvr-ai/go-wallseg/models"
	"github.com/nvr-ai/go-wallseg/profiler"
	"github.com/nvr-ai/go-wallseg/temporal"
)

// Open loads the configured ONNX model and builds a pipeline around it.
//
// Arguments:
//   - cfg: The validated configuration.
//   - logger: The logger shared by every component.
//
// Returns:
//   - *controller.Pipeline: The idle pipeline. Closing it releases the model.
//   - error: An error if the model cannot be loaded or does not fit the configuration.
func Open(cfg config.Config, logger logrus.FieldLogger) (*controller.Pipeline, error) {
	opener := func() (inference.Runtime, error) {
		s, err := providers.Open(cfg.Runtime, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return Build(cfg, opener, logger)
}

// Build creates a pipeline over the runtime returned by open. The runtime is
// closed if any later step fails.
func Build(cfg config.Config, open inference.Opener, logger logrus.FieldLogger) (*controller.Pipeline, error) {
	engine, err := inference.NewEngineBuilder().
		WithLogger(logger).
		WithOpener(open).
		Build()
	if err != nil {
		return nil, errors.Wrap(err, "load model")
	}

	p, err := build(cfg, engine, logger)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	return p, nil
}

func build(cfg config.Config, engine *inference.Engine, logger logrus.FieldLogger) (*controller.Pipeline, error) {
	spec, err := models.Resolve(cfg.Hints(), engine.Inputs(), engine.Outputs(), logger)
	if err != nil {
		return nil, errors.Wrap(err, "resolve model io")
	}

	target, err := cfg.TargetClass()
	if err != nil {
		return nil, err
	}
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}

	var stab *temporal.Stabilizer
	if cfg.Temporal.Enabled {
		stab, err = temporal.New(cfg.Temporal.Config)
		if err != nil {
			return nil, err
		}
	}

	return controller.New(controller.Options{
		Engine:      engine,
		Spec:        spec,
		TargetClass: target,
		Threshold:   cfg.Segmentation.Threshold,
		Mode:        mode,
		RawPixels:   cfg.Segmentation.RawPixels,
		Stabilizer:  stab,
		Logger:      logger,
		Profiler:    profiler.New(profiler.Options{Logger: logger}),
	})
}
