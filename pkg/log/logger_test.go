// Structured logging tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerBasic(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)
	logger.SetLevel(DEBUG)

	logger.Info("hello %s", "world")

	output := buf.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "test")
	assert.Contains(t, output, "hello world")
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)

	logger.SetLevel(INFO)
	logger.Debug("debug message")
	assert.Zero(t, buf.Len(), "DEBUG should be filtered at INFO")

	logger.Info("info message")
	assert.Contains(t, buf.String(), "info message")
	buf.Reset()

	logger.Warn("warn message")
	assert.Contains(t, buf.String(), "warn message")
	buf.Reset()

	logger.SetLevel(ERROR)
	logger.Warn("filtered")
	assert.Zero(t, buf.Len())
	logger.Error("error message")
	assert.Contains(t, buf.String(), "error message")
	assert.Equal(t, ERROR, logger.GetLevel())
}

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New("kappa")
	logger.SetWriter(&buf)
	logger.SetFormat(FormatJSON)

	logger.WithFields(Fields{"axis": "eta", "target": 1.5}).
		WithError(errors.New("stall")).
		Warn("move failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "kappa", entry["logger"])
	assert.Equal(t, "move failed", entry["msg"])
	assert.Equal(t, "eta", entry["axis"])
	assert.Equal(t, 1.5, entry["target"])
	assert.Equal(t, "stall", entry["error"])
}

func TestWithPrefixSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := New("stage")
	parent.SetWriter(&buf)
	child := parent.WithPrefix("gate")

	parent.SetLevel(WARN)
	child.Info("hidden")
	assert.Zero(t, buf.Len())

	child.Warn("shown")
	assert.True(t, strings.Contains(buf.String(), "stage.gate"), buf.String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Error", ERROR},
		{"nonsense", INFO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
	assert.Equal(t, FormatJSON, ParseFormat("JSON"))
	assert.Equal(t, FormatText, ParseFormat("console"))
}

func TestConfigureFromEnv(t *testing.T) {
	t.Setenv("KAPPA_LOG_LEVEL", "debug")
	l := NewNop()
	ConfigureFromEnv(l)
	assert.Equal(t, DEBUG, l.GetLevel())
}
