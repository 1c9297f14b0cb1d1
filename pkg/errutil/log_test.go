// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/muse/pkg/errutil"
)

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("NOT_LOADED").
		With("plugin_id", "visualizer").
		Errorf("plugin not loaded")

	errutil.LogError(logger, "operation failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Equal(t, "operation failed", logEntry["msg"])
	assert.Equal(t, "NOT_LOADED", logEntry["code"])
	assert.Equal(t, map[string]any{"plugin_id": "visualizer"}, logEntry["context"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := errors.New("standard error")

	errutil.LogError(logger, "operation failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Contains(t, logEntry["error"], "standard error")
}

func TestLogWarn_UsesWarnLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogWarn(logger, "destroy hook failed", errors.New("boom"))

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "WARN", logEntry["level"])
}

func TestHasCode(t *testing.T) {
	inner := oops.Code("MANIFEST_NOT_FOUND").Errorf("missing plugin.json")
	wrapped := oops.In("registry").With("dir", "/tmp/x").Wrap(inner)

	assert.True(t, errutil.HasCode(inner, "MANIFEST_NOT_FOUND"))
	assert.True(t, errutil.HasCode(wrapped, "MANIFEST_NOT_FOUND"))
	assert.False(t, errutil.HasCode(wrapped, "INVALID_MANIFEST"))
	assert.False(t, errutil.HasCode(errors.New("plain"), "MANIFEST_NOT_FOUND"))
	assert.False(t, errutil.HasCode(nil, ""))
	assert.Equal(t, "", errutil.Code(errors.New("plain")))
}
