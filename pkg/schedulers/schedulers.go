// Package schedulers decides when an event runs and hands it to the delayed-job queue.
package schedulers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/satchwsm/backbeat/pkg/clock"
	"github.com/satchwsm/backbeat/pkg/metrics"
	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/satchwsm/backbeat/pkg/queue"
)

// RetryExponentialThreshold is the retry budget below which backoff starts doubling.
const RetryExponentialThreshold = 6

// Kind names a scheduling strategy.
type Kind string

const (
	KindNow   Kind = "now"
	KindAt    Kind = "at"
	KindRetry Kind = "retry"
)

var (
	ErrUnknownScheduler = errors.New("unknown scheduler")
	ErrRetryTarget      = errors.New("retry scheduling needs a node target")
)

// Exponent is the power of two applied to the retry interval.
func Exponent(retriesRemaining int) int {
	return max(0, RetryExponentialThreshold-retriesRemaining)
}

// Backoff returns the retry delay for the remaining budget. jitter is a
// sample from [0,1) mapped onto a factor in [0.8,1.2).
func Backoff(retriesRemaining int, interval time.Duration, jitter float64) time.Duration {
	factor := 0.8 + 0.4*jitter
	base := float64(interval) * math.Pow(2, float64(Exponent(retriesRemaining)))

	return time.Duration(factor * base)
}

// RunAt computes the target time of kind for target, without side effects.
func RunAt(kind Kind, target models.Target, now time.Time, jitter float64) (time.Time, error) {
	switch kind {
	case KindNow:
		return now, nil
	case KindAt:
		node, ok := target.(*models.Node)
		if !ok || node.FiresAt.IsZero() {
			return now, nil
		}

		return node.FiresAt, nil
	case KindRetry:
		node, ok := target.(*models.Node)
		if !ok || node.Detail == nil {
			return time.Time{}, ErrRetryTarget
		}

		return now.Add(Backoff(node.RetriesRemaining(), node.Detail.RetryInterval, jitter)), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownScheduler, kind)
	}
}

// Scheduler hands events to the queue using one strategy.
type Scheduler struct {
	kind    Kind
	queue   queue.Queue
	nodes   persistence.NodeRepository
	clock   clock.Clock
	jitter  func() float64
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithJitter replaces the random source used for retry jitter.
func WithJitter(jitter func() float64) Option {
	return func(s *Scheduler) {
		s.jitter = jitter
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger.With("component", "scheduler")
	}
}

// WithMetrics counts scheduled events.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// New creates a Scheduler for kind. nodes receives the fires_at write-back of retries.
func New(kind Kind, q queue.Queue, nodes persistence.NodeRepository, opts ...Option) *Scheduler {
	s := &Scheduler{
		kind:   kind,
		queue:  q,
		nodes:  nodes,
		clock:  clock.Real{},
		jitter: rand.Float64,
		logger: slog.Default().With("component", "scheduler"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Kind returns the strategy.
func (s *Scheduler) Kind() Kind {
	return s.kind
}

// Schedule enqueues event for target at the strategy's time and returns the job.
func (s *Scheduler) Schedule(ctx context.Context, event string, target models.Target) (*queue.Job, error) {
	runAt, err := RunAt(s.kind, target, s.clock.Now(), s.jitter())
	if err != nil {
		return nil, err
	}

	if s.kind == KindRetry {
		node, _ := target.(*models.Node)

		err = s.nodes.UpdateFiresAt(ctx, node.ID, runAt)
		if err != nil {
			return nil, fmt.Errorf("failed to store retry time: %w", err)
		}

		node.FiresAt = runAt
	}

	job := queue.NewEventJob(event, target, runAt)

	err = s.queue.Enqueue(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", event, err)
	}

	s.metrics.Scheduled(event, string(s.kind))
	s.logger.DebugContext(ctx, "Event scheduled",
		"event", event,
		"scheduler", s.kind,
		"target_type", target.TargetType(),
		"target_id", target.TargetID(),
		"run_at", runAt)

	return job, nil
}

// Set is the fixed table of strategies, built once per facade.
type Set map[Kind]*Scheduler

// NewSet builds one Scheduler per strategy sharing the same queue and options.
func NewSet(q queue.Queue, nodes persistence.NodeRepository, opts ...Option) Set {
	return Set{
		KindNow:   New(KindNow, q, nodes, opts...),
		KindAt:    New(KindAt, q, nodes, opts...),
		KindRetry: New(KindRetry, q, nodes, opts...),
	}
}

// Get returns the scheduler for kind.
func (s Set) Get(kind Kind) (*Scheduler, error) {
	scheduler, ok := s[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheduler, kind)
	}

	return scheduler, nil
}
