package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/satchwsm/backbeat/pkg/clock"
	"github.com/satchwsm/backbeat/pkg/metrics"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
	redeliveryDelay     = 5 * time.Second
)

// Poller moves due jobs from the queue to a Handler, usually a publisher
// that fans them out to workers.
type Poller struct {
	queue    Queue
	handler  Handler
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	batch    int
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the polling period.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithBatchSize caps the number of jobs claimed per poll.
func WithBatchSize(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.batch = n
		}
	}
}

// WithClock replaces the system clock.
func WithClock(c clock.Clock) PollerOption {
	return func(p *Poller) {
		p.clock = c
	}
}

// WithPollerMetrics records claimed jobs.
func WithPollerMetrics(m *metrics.Metrics) PollerOption {
	return func(p *Poller) {
		p.metrics = m
	}
}

// NewPoller creates a Poller.
func NewPoller(queue Queue, handler Handler, logger *slog.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		queue:    queue,
		handler:  handler,
		clock:    clock.Real{},
		logger:   logger.With("component", "poller"),
		interval: defaultPollInterval,
		batch:    defaultBatchSize,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting poller", "interval", p.interval, "batch", p.batch)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Poller stopped")

			return nil
		case <-ticker.C:
			_, err := p.RunOnce(ctx)
			if err != nil {
				p.logger.ErrorContext(ctx, "Failed to poll due jobs", "error", err)
			}
		}
	}
}

// RunOnce returns expired leases to the queue, claims every due job and hands
// each to the handler. A handed-off job is acknowledged; a job whose handoff
// fails is put back with a short delay so it is not lost.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	now := p.clock.Now()

	requeued, err := p.queue.RequeueExpired(ctx, now)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to requeue expired leases", "error", err)
	} else if requeued > 0 {
		p.logger.WarnContext(ctx, "Requeued jobs whose lease expired", "count", requeued)
	}

	jobs, err := p.queue.ClaimDue(ctx, now, p.batch)
	if err != nil {
		return 0, err
	}

	p.metrics.Claimed(len(jobs))

	handled := 0

	for _, job := range jobs {
		err := p.handler.HandleJob(ctx, job)
		if err == nil {
			handled++

			if ackErr := p.queue.Ack(ctx, job.ID); ackErr != nil {
				// the lease runs out and the job is published again
				p.logger.ErrorContext(ctx, "Failed to ack job", "job_id", job.ID, "error", ackErr)
			}

			continue
		}

		p.logger.ErrorContext(ctx, "Failed to hand off job, requeueing",
			"job_id", job.ID,
			"kind", job.Kind,
			"event", job.Event,
			"error", err)

		job.Attempts++
		job.RunAt = p.clock.Now().Add(redeliveryDelay)

		if requeueErr := p.queue.Enqueue(ctx, job); requeueErr != nil {
			// still leased; RequeueExpired brings it back
			p.logger.ErrorContext(ctx, "Failed to requeue job", "job_id", job.ID, "error", requeueErr)
		}
	}

	return handled, nil
}
