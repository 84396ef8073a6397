package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/satchwsm/backbeat/pkg/client"
	"github.com/satchwsm/backbeat/pkg/metrics"
	"github.com/satchwsm/backbeat/pkg/otelhelper"
	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/satchwsm/backbeat/pkg/queue"
	"github.com/satchwsm/backbeat/pkg/schedulers"
	"github.com/satchwsm/backbeat/pkg/server"
	"github.com/satchwsm/backbeat/pkg/statemanager"
	"github.com/satchwsm/backbeat/pkg/watchdog"
)

// EngineConfig selects the backends of an Engine.
type EngineConfig struct {
	ServiceName  string
	DatabaseURL  string
	QueueURL     string
	EventBus     string
	KafkaBrokers []string
	Tracing      bool
}

// Engine is the fully wired orchestration core shared by the binaries.
type Engine struct {
	Persistence persistence.Persistence
	Queue       queue.Queue
	Publisher   message.Publisher
	Subscriber  message.Subscriber
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Server      *server.Server

	logger         *slog.Logger
	shutdownTracer otelhelper.ShutdownFunc
}

// NewEngine opens every backend named in cfg and composes the server.
func NewEngine(ctx context.Context, logger *slog.Logger, cfg EngineConfig) (*Engine, error) {
	store, err := NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	e := &Engine{Persistence: store, logger: logger}

	e.Queue, err = NewQueue(ctx, logger, cfg.QueueURL)
	if err != nil {
		e.Close(ctx)

		return nil, fmt.Errorf("failed to open queue: %w", err)
	}

	e.Publisher, e.Subscriber, err = NewPubSub(cfg.EventBus, cfg.KafkaBrokers, cfg.ServiceName, logger)
	if err != nil {
		e.Close(ctx)

		return nil, err
	}

	e.Registry = prometheus.NewRegistry()
	e.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	e.Metrics = metrics.New(e.Registry)

	opts := []server.Option{server.WithLogger(logger), server.WithMetrics(e.Metrics)}
	dogOpts := []watchdog.Option{watchdog.WithLogger(logger), watchdog.WithMetrics(e.Metrics)}

	if cfg.Tracing {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, cfg.ServiceName)
		if err != nil {
			e.Close(ctx)

			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		e.shutdownTracer = shutdown
		opts = append(opts, server.WithTracer(tracer))
		dogOpts = append(dogOpts, watchdog.WithTracer(tracer))
	}

	nodes := store.NodeRepository()

	e.Server = server.New(server.Deps{
		Persistence: store,
		States: statemanager.New(nodes, statemanager.DefaultTable(),
			statemanager.WithLogger(logger), statemanager.WithMetrics(e.Metrics)),
		Schedulers: schedulers.NewSet(e.Queue, nodes,
			schedulers.WithLogger(logger), schedulers.WithMetrics(e.Metrics)),
		Watchdogs: watchdog.New(store.WatchdogRepository(), e.Queue, dogOpts...),
		Notifier:  client.NewNotifier(e.Publisher, logger),
	}, opts...)

	return e, nil
}

// Close releases every backend that was opened.
func (e *Engine) Close(ctx context.Context) {
	var errs []error

	if e.Publisher != nil {
		errs = append(errs, e.Publisher.Close())
	}

	// gochannel hands back one instance for both ends
	if e.Subscriber != nil && any(e.Subscriber) != any(e.Publisher) {
		errs = append(errs, e.Subscriber.Close())
	}

	if e.Queue != nil {
		errs = append(errs, e.Queue.Close())
	}

	if e.Persistence != nil {
		errs = append(errs, e.Persistence.Close(ctx))
	}

	if e.shutdownTracer != nil {
		errs = append(errs, e.shutdownTracer(ctx))
	}

	if err := errors.Join(errs...); err != nil {
		e.logger.ErrorContext(ctx, "Failed to close engine", "error", err)
	}
}
