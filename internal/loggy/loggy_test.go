package loggy

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Level: slog.LevelDebug, Format: "text"})

	logger.Info("item synced", "entity_type", "product", "record_id", "srv-1")

	out := buf.String()
	assert.Contains(t, out, "item synced")
	assert.Contains(t, out, "entity_type=product")
	assert.Contains(t, out, "record_id=srv-1")
	assert.NotContains(t, out, "source=")
}

func TestLoggerAddsSource(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Level: slog.LevelInfo, Format: "text", AddSource: true})

	logger.Warn("queue item exhausted")

	assert.Contains(t, buf.String(), "source=loggy_test.go:")
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Level: slog.LevelWarn, Format: "json"})

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Error("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger

	assert.NotPanics(t, func() {
		logger.Info("nothing")
		_ = logger.With("k", "v")
	})
}

func TestWithRunID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Level: slog.LevelInfo, Format: "text"})

	ctx := WithRunID(context.Background(), logger, "run-1")
	assert.Equal(t, "run-1", RunID(ctx))

	FromContext(ctx).Info("pull started")
	assert.Contains(t, buf.String(), "run_id=run-1")
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	noop := NewNoopLogger()

	assert.Same(t, noop, FromContext(context.Background()))
	assert.Equal(t, "", RunID(context.Background()))
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Level: slog.LevelInfo, Format: "text"})

	logger.WithError(errors.New("boom")).Error("push failed")

	assert.Contains(t, buf.String(), "error=boom")
	assert.Contains(t, buf.String(), "error_type=*errors.errorString")
	assert.Same(t, logger, logger.WithError(nil))
}
