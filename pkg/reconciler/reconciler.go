// Package reconciler re-dispatches nodes whose StartNode job was lost.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/satchwsm/backbeat/pkg/clock"
	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/satchwsm/backbeat/pkg/server"
)

const (
	DefaultSchedule  = "@every 1m"
	DefaultGrace     = 5 * time.Minute
	DefaultBatchSize = 500
)

// Dispatcher fires events on nodes.
type Dispatcher interface {
	FireEvent(ctx context.Context, name server.EventName, target models.Target, opts ...server.FireOption) error
}

type Reconciler struct {
	nodes      persistence.NodeRepository
	dispatcher Dispatcher
	clock      clock.Clock
	grace      time.Duration
	batch      int
	logger     *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

type Option func(*Reconciler)

// WithGrace sets how long a node may stay started before it is re-dispatched.
func WithGrace(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.grace = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) {
		r.clock = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger.With("component", "reconciler")
	}
}

func New(nodes persistence.NodeRepository, dispatcher Dispatcher, opts ...Option) *Reconciler {
	r := &Reconciler{
		nodes:      nodes,
		dispatcher: dispatcher,
		clock:      clock.Real{},
		grace:      DefaultGrace,
		batch:      DefaultBatchSize,
		logger:     slog.Default().With("component", "reconciler"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start runs ReconcileOnce on the cron schedule until Stop is called.
func (r *Reconciler) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := c.AddFunc(schedule, func() {
		n, err := r.ReconcileOnce(ctx)
		if err != nil {
			r.logger.ErrorContext(ctx, "Reconciliation failed", "error", err)

			return
		}

		if n > 0 {
			r.logger.InfoContext(ctx, "Re-dispatched stale nodes", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}

	c.Start()
	r.cron = c

	r.logger.InfoContext(ctx, "Reconciler started", "schedule", schedule, "grace", r.grace)

	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron == nil {
		return
	}

	<-r.cron.Stop().Done()
	r.cron = nil
}

// ReconcileOnce fires StartNode on every node that has been started for longer
// than the grace window and returns how many it fired.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	cutoff := r.clock.Now().Add(-r.grace)

	stale, err := r.nodes.ListStale(ctx, models.ServerStarted, cutoff, r.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale nodes: %w", err)
	}

	fired := 0

	for _, node := range stale {
		err = r.dispatcher.FireEvent(ctx, server.EventStartNode, node)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to re-dispatch node", "node_id", node.ID, "error", err)

			continue
		}

		fired++
	}

	return fired, nil
}
