package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRecorder(t *testing.T) {
	m := NewMetricsRecorder()
	require.NotNil(t, m)

	// Recording against the ambient meter provider must never fail or panic.
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordNodeExecution(ctx, "respond", time.Millisecond, nil)
		m.RecordNodeExecution(ctx, "respond", time.Millisecond, errors.New("x"))
		m.RecordTurn(ctx, true, false, time.Millisecond)
		m.RecordCheckpoint(ctx, "respond", 128)
		m.RecordEvaluation(ctx, "pass")
	})
}

func TestNoopImplementations(t *testing.T) {
	ctx := context.Background()

	var m MetricsRecorder = NoopMetrics{}
	assert.NotPanics(t, func() {
		m.RecordTurn(ctx, false, true, time.Second)
	})

	var s SpanManager = NoopSpanManager{}
	spanCtx, span := s.StartTurnSpan(ctx, "th-1", "run-1")
	require.NotNil(t, spanCtx)
	require.NotNil(t, span)
	assert.NotPanics(t, func() {
		s.EndSpanWithError(span, errors.New("x"))
		s.AddSpanEvent(spanCtx, "event")
	})
}
