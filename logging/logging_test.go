package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "debug"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("frame", 7).Debug("mask ready")
	assert.Contains(t, buf.String(), "mask ready")
	assert.Contains(t, buf.String(), "frame=7")
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "warn", Format: "JSON"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	assert.Zero(t, buf.Len(), "below the configured level")

	logger.WithField("stage", "decoding").Warn("frame failed")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "frame failed", entry["msg"])
	assert.Equal(t, "decoding", entry["stage"])
}

func TestDefaultsAndValidation(t *testing.T) {
	logger, err := NewWithWriter(Config{}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	require.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Level: "loud"}.Validate())
	assert.Error(t, Config{Format: "xml"}.Validate())
}
