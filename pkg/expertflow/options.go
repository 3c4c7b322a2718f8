package expertflow

import (
	"log/slog"

	"github.com/nanaosei/expertflow/pkg/expertflow/checkpoint"
	"github.com/nanaosei/expertflow/pkg/expertflow/observability"
)

// DefaultMaxIterations bounds node executions per turn. The respond,
// retrieve and condense cycle terminates only when the model declines
// further tool calls, so the cap is the hard stop.
const DefaultMaxIterations = 24

// runConfig holds per-run execution configuration.
type runConfig struct {
	store         checkpoint.Store
	threadID      string
	startStep     int
	maxIterations int
	runID         string

	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool
}

// defaultRunConfig returns the baseline configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: DefaultMaxIterations,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

// RunOption configures a single graph run.
type RunOption func(*runConfig)

// WithCheckpointing enables durable checkpoints for the run.
// Every node transition stages its delta in the pending-writes ledger,
// saves a checkpoint, then clears the ledger. Requires a thread ID.
func WithCheckpointing(store checkpoint.Store, threadID string) RunOption {
	return func(cfg *runConfig) {
		cfg.store = store
		cfg.threadID = threadID
	}
}

// WithStartStep sets the step counter the run continues from.
// Use the step of the latest loaded checkpoint when resuming a thread.
func WithStartStep(step int) RunOption {
	return func(cfg *runConfig) {
		cfg.startStep = step
	}
}

// WithMaxIterations overrides the per-turn node execution cap.
func WithMaxIterations(max int) RunOption {
	return func(cfg *runConfig) {
		if max > 0 {
			cfg.maxIterations = max
		}
	}
}

// WithRunID sets an explicit run identifier for logs and traces.
// Defaults to the context's run ID.
func WithRunID(id string) RunOption {
	return func(cfg *runConfig) {
		cfg.runID = id
	}
}

// WithObservabilityLogger sets the logger used for run-level events.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(cfg *runConfig) {
		cfg.logger = logger
	}
}

// WithMetrics enables metric recording for the run.
func WithMetrics(m observability.MetricsRecorder) RunOption {
	return func(cfg *runConfig) {
		if m != nil {
			cfg.metrics = m
		}
	}
}

// WithTracing enables span creation for the run.
func WithTracing(sm observability.SpanManager) RunOption {
	return func(cfg *runConfig) {
		if sm != nil {
			cfg.spans = sm
			cfg.tracingEnabled = true
		}
	}
}
