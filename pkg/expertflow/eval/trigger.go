package eval

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nanaosei/expertflow/pkg/expertflow/observability"
)

// Trigger defaults.
const (
	DefaultSampleRate = 1.0
	DefaultWorkers    = 2
	DefaultQueueSize  = 64
	DefaultTimeout    = 30 * time.Second
)

// Trigger accepts samples from completed turns and evaluates a
// configurable fraction of them on a bounded worker pool. Scheduling
// never blocks: a full queue drops the sample with a log line. Worker
// failures are logged and recorded, never surfaced.
type Trigger struct {
	scorer    Scorer
	rate      float64
	timeout   time.Duration
	workers   int
	queueSize int
	logger    *slog.Logger
	metrics   observability.MetricsRecorder

	queue chan Sample
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// TriggerOption configures a Trigger.
type TriggerOption func(*Trigger)

// WithSampleRate sets the fraction of turns evaluated, in [0, 1].
func WithSampleRate(rate float64) TriggerOption {
	return func(t *Trigger) {
		if rate >= 0 && rate <= 1 {
			t.rate = rate
		}
	}
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) TriggerOption {
	return func(t *Trigger) {
		if n > 0 {
			t.workers = n
		}
	}
}

// WithQueueSize sets the bounded queue capacity.
func WithQueueSize(n int) TriggerOption {
	return func(t *Trigger) {
		if n > 0 {
			t.queueSize = n
		}
	}
}

// WithTimeout bounds each evaluation's runtime.
func WithTimeout(d time.Duration) TriggerOption {
	return func(t *Trigger) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithLogger sets the logger for evaluation events.
func WithLogger(logger *slog.Logger) TriggerOption {
	return func(t *Trigger) {
		t.logger = logger
	}
}

// WithMetrics enables outcome metrics.
func WithMetrics(m observability.MetricsRecorder) TriggerOption {
	return func(t *Trigger) {
		if m != nil {
			t.metrics = m
		}
	}
}

// NewTrigger creates a trigger and starts its worker pool.
// Call Close to drain and stop the workers.
func NewTrigger(scorer Scorer, opts ...TriggerOption) *Trigger {
	t := &Trigger{
		scorer:    scorer,
		rate:      DefaultSampleRate,
		timeout:   DefaultTimeout,
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		logger:    slog.Default(),
		metrics:   observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(t)
	}

	t.queue = make(chan Sample, t.queueSize)
	for i := 0; i < t.workers; i++ {
		t.wg.Add(1)
		go t.worker()
	}
	return t
}

// Schedule offers a sample for background evaluation. Returns true if the
// sample was accepted; false when it was skipped by sampling, dropped on
// a full queue, or the trigger is closed. Never blocks.
func (t *Trigger) Schedule(s Sample) bool {
	if t.rate <= 0 || (t.rate < 1 && rand.Float64() >= t.rate) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}

	select {
	case t.queue <- s:
		observability.LogEvalScheduled(t.logger, s.ExpertID)
		return true
	default:
		observability.LogEvalDropped(t.logger, s.ExpertID)
		t.metrics.RecordEvaluation(context.Background(), "dropped")
		return false
	}
}

// Close stops accepting samples, drains the queue and waits for the
// workers to finish.
func (t *Trigger) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	t.wg.Wait()
}

// worker evaluates queued samples until the queue closes.
// A panicking scorer kills only the one evaluation.
func (t *Trigger) worker() {
	defer t.wg.Done()
	for s := range t.queue {
		t.evaluate(s)
	}
}

func (t *Trigger) evaluate(s Sample) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("evaluation panicked",
				slog.String("expert_id", s.ExpertID),
				slog.Any("panic", r))
			t.metrics.RecordEvaluation(context.Background(), "error")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	res, err := t.scorer.Score(ctx, s)
	if err != nil {
		observability.LogEvalError(t.logger, s.ExpertID, err)
		t.metrics.RecordEvaluation(ctx, "error")
		return
	}

	outcome := "fail"
	if res.Passed {
		outcome = "pass"
	}
	t.metrics.RecordEvaluation(ctx, outcome)
	t.logger.Debug("evaluation completed",
		slog.String("expert_id", s.ExpertID),
		slog.Float64("relevancy", res.Relevancy),
		slog.Float64("faithfulness", res.Faithfulness),
		slog.Bool("passed", res.Passed),
	)
}
