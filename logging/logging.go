// Package logging - Logger construction from configuration.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config selects the log level and output format.
type Config struct {
	// Level is a logrus level name such as "debug" or "info".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DefaultConfig returns info level text logging.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text"}
}

// Validate checks the level and format names.
func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(levelOrDefault(c.Level)); err != nil {
		return errors.Wrap(err, "log level")
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
		return nil
	default:
		return errors.Errorf("unknown log format %q", c.Format)
	}
}

// New builds a logger writing to stderr.
func New(cfg Config) (*logrus.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter builds a logger writing to w.
//
// Arguments:
//   - cfg: The level and format.
//   - w: The destination.
//
// Returns:
//   - *logrus.Logger: The configured logger.
//   - error: An error if the level or format is unknown.
func NewWithWriter(cfg Config, w io.Writer) (*logrus.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := logrus.ParseLevel(levelOrDefault(cfg.Level))

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}

	return logger, nil
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}
