package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/satchwsm/backbeat/pkg/metrics"
	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/satchwsm/backbeat/pkg/queue"
	"github.com/satchwsm/backbeat/pkg/reconciler"
	"github.com/satchwsm/backbeat/pkg/server"
	"golang.org/x/sync/errgroup"
)

// Config tunes the background loops of a Service.
type Config struct {
	PollInterval      time.Duration
	ReconcileSchedule string
	ReconcileGrace    time.Duration
}

// Service runs everything a worker process does: it polls due jobs onto the
// bus, performs the jobs it receives and periodically re-dispatches stale nodes.
type Service struct {
	poller     *queue.Poller
	runner     *Runner
	reconciler *reconciler.Reconciler
	schedule   string
	logger     *slog.Logger
}

// NewService wires the loops around srv.
func NewService(
	srv *server.Server,
	q queue.Queue,
	nodes persistence.NodeRepository,
	publisher message.Publisher,
	subscriber message.Subscriber,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Service {
	return &Service{
		poller: queue.NewPoller(q, queue.NewPublisher(publisher, queue.JobsTopic), logger,
			queue.WithInterval(cfg.PollInterval),
			queue.WithPollerMetrics(m)),
		runner: NewRunner(subscriber, srv, logger),
		reconciler: reconciler.New(nodes, srv,
			reconciler.WithGrace(cfg.ReconcileGrace),
			reconciler.WithLogger(logger)),
		schedule: cfg.ReconcileSchedule,
		logger:   logger.With("component", "worker"),
	}
}

// Run blocks until ctx is cancelled or a loop fails.
func (s *Service) Run(ctx context.Context) error {
	err := s.reconciler.Start(ctx, s.schedule)
	if err != nil {
		return err
	}
	defer s.reconciler.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.poller.Run(ctx) })
	g.Go(func() error { return s.runner.Run(ctx) })

	s.logger.InfoContext(ctx, "Worker running")

	err = g.Wait()

	s.logger.InfoContext(ctx, "Worker stopped")

	return err
}
