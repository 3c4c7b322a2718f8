package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogHelpersNilLoggerSafe(t *testing.T) {
	err := errors.New("x")
	assert.NotPanics(t, func() {
		LogTurnStart(nil, "t", "r", false)
		LogTurnComplete(nil, "t", "r", 1.5, 3)
		LogTurnError(nil, "t", "r", err, 1.5, "respond")
		LogNodeStart(nil, "respond")
		LogNodeComplete(nil, "respond", 1.5)
		LogNodeError(nil, "respond", err)
		LogCheckpoint(nil, "t", 1, 128)
		LogCheckpointError(nil, "t", "respond", "save", err)
		LogRecovery(nil, "t", 2)
		LogStreamEnd(nil, "r", 5, nil)
		LogEvalScheduled(nil, "t")
		LogEvalDropped(nil, "t")
		LogEvalError(nil, "t", err)
	})
}

func TestLogHelpersEmitFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LogTurnComplete(logger, "th-1", "run-1", 42.0, 4)

	out := buf.String()
	assert.Contains(t, out, "th-1")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "nodes_executed")
}

func TestEnrichLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	EnrichLogger(logger, "th-1", "run-1", "respond").Info("hello")

	out := buf.String()
	assert.Contains(t, out, "th-1")
	assert.Contains(t, out, "respond")
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(time.Millisecond)
	assert.Greater(t, done(), 0.0)
}
