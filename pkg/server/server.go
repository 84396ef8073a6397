// Package server is the orchestration facade: the only entry point through
// which workflows and nodes change.
package server

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/satchwsm/backbeat/pkg/clock"
	"github.com/satchwsm/backbeat/pkg/metrics"
	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/satchwsm/backbeat/pkg/queue"
	"github.com/satchwsm/backbeat/pkg/schedulers"
	"github.com/satchwsm/backbeat/pkg/statemanager"
	"github.com/satchwsm/backbeat/pkg/watchdog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Notifier hands a dispatched node to its client.
type Notifier interface {
	Notify(ctx context.Context, workflow *models.Workflow, node *models.Node) error
}

// Server composes the store, state manager, schedulers and watchdogs.
type Server struct {
	persistence persistence.Persistence
	states      *statemanager.Manager
	schedulers  schedulers.Set
	watchdogs   *watchdog.Service
	notifier    Notifier
	events      map[EventName]event
	validate    *validator.Validate
	tracer      trace.Tracer
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

var (
	_ queue.Handler    = (*Server)(nil)
	_ watchdog.Handler = (*Server)(nil)
)

// Option configures a Server.
type Option func(*Server)

// WithTracer sets the tracer used for event spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With("component", "server")
	}
}

// WithMetrics records performed and skipped events.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// Deps are the collaborators of a Server.
type Deps struct {
	Persistence persistence.Persistence
	States      *statemanager.Manager
	Schedulers  schedulers.Set
	Watchdogs   *watchdog.Service
	Notifier    Notifier
}

// New creates a Server.
func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		persistence: deps.Persistence,
		states:      deps.States,
		schedulers:  deps.Schedulers,
		watchdogs:   deps.Watchdogs,
		notifier:    deps.Notifier,
		events:      defaultEvents(),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		tracer:      noop.NewTracerProvider().Tracer("backbeat"),
		clock:       clock.Real{},
		logger:      slog.Default().With("component", "server"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// HealthCheck checks the health of the persistence layer.
func (s *Server) HealthCheck(ctx context.Context) (string, bool) {
	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (s *Server) workflows() persistence.WorkflowRepository {
	return s.persistence.WorkflowRepository()
}

func (s *Server) nodes() persistence.NodeRepository {
	return s.persistence.NodeRepository()
}
