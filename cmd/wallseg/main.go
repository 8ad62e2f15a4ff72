// Command wallseg segments an image, or a numbered image sequence, and writes
// the target class masks as PNG files.
package main

import (
	"context"
	"flag"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-wallseg/bootstrap"
	"github.com/nvr-ai/go-wallseg/config"
	"github.com/nvr-ai/go-wallseg/controller"
	"github.com/nvr-ai/go-wallseg/images"
	"github.com/nvr-ai/go-wallseg/logging"
	"github.com/nvr-ai/go-wallseg/segmentation"
)

func main() {
	var (
		configPath string
		envFile    string
		modelPath  string
		imagePath  string
		dirPath    string
		outputPath string
		label      string
		threshold  float64
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	flag.StringVar(&envFile, "env", ".env", "Path to an optional dotenv file")
	flag.StringVar(&modelPath, "model", "", "Path to the ONNX segmentation model (overrides config)")
	flag.StringVar(&imagePath, "image", "", "Path to the input image (.jpg, .jpeg, .png, .bmp, .webp)")
	flag.StringVar(&dirPath, "dir", "", "Directory of numbered frames, processed in order with smoothing")
	flag.StringVar(&outputPath, "out", "", "Mask PNG for -image, or output directory for -dir")
	flag.StringVar(&label, "label", "", "Target class label, e.g. wall (overrides config)")
	flag.Float64Var(&threshold, "threshold", -1, "Activation threshold (overrides config when >= 0)")
	flag.Parse()

	cfg, err := config.Read(configPath, envFile)
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	if modelPath != "" {
		cfg.Runtime.ModelPath = modelPath
	}
	if label != "" {
		cfg.Segmentation.TargetLabel = label
	}
	if threshold >= 0 {
		cfg.Segmentation.Threshold = float32(threshold)
	}
	if dirPath == "" {
		// A single image has no previous frame to smooth against.
		cfg.Temporal.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		logrus.WithError(err).Fatal("invalid logging configuration")
	}

	var files []images.SequenceFile
	switch {
	case imagePath != "" && dirPath != "":
		logger.Fatal("-image and -dir are mutually exclusive")
	case imagePath != "":
		files = []images.SequenceFile{{Path: imagePath}}
		if outputPath == "" {
			outputPath = maskPath(imagePath)
		}
	case dirPath != "":
		files, err = images.LoadSequence(dirPath)
		if err != nil {
			logger.WithError(err).Fatal("cannot list frames")
		}
		if outputPath == "" {
			outputPath = filepath.Join(dirPath, "masks")
		}
		if err := os.MkdirAll(outputPath, 0o755); err != nil {
			logger.WithError(err).Fatal("cannot create output directory")
		}
	default:
		logger.Fatal("one of -image or -dir is required")
	}

	pipeline, err := bootstrap.Open(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("cannot build pipeline")
	}
	defer pipeline.Close()

	start := time.Now()
	for _, f := range files {
		out := outputPath
		if dirPath != "" {
			out = filepath.Join(outputPath, filepath.Base(maskPath(f.Path)))
		}
		if err := segment(pipeline, f, out, logger); err != nil {
			logger.WithError(err).WithField("image", f.Path).Error("segmentation failed")
		}
	}

	logger.WithFields(logrus.Fields{
		"pipeline": pipeline.ID(),
		"frames":   len(files),
		"stats":    pipeline.Stats(),
		"elapsed":  time.Since(start).Truncate(time.Millisecond),
	}).Info("done")
	pipeline.Profiler().Report()
}

func segment(pipeline *controller.Pipeline, file images.SequenceFile, outputPath string, logger logrus.FieldLogger) error {
	frame, err := file.Decode()
	if err != nil {
		return err
	}

	mask, err := pipeline.Run(context.Background(), frame)
	if err != nil {
		if d, ok := pipeline.LastDiagnosis(); ok {
			logger.WithField("diagnosis", d.String()).Warn("output shape did not match the configuration")
		}
		return err
	}

	scaled := mask.Scale(frame.Width, frame.Height)
	if err := writeMask(scaled, outputPath); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"image":    file.Path,
		"mask":     outputPath,
		"coverage": scaled.Coverage(),
	}).Info("mask written")
	return nil
}

func writeMask(mask *segmentation.Mask, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer out.Close()

	if err := png.Encode(out, mask.Gray()); err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	return nil
}

func maskPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + "_mask.png"
}
