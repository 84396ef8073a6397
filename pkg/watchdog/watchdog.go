// Package watchdog detects subjects that stop reporting progress and delivers
// one timeout per arming.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/satchwsm/backbeat/pkg/clock"
	"github.com/satchwsm/backbeat/pkg/metrics"
	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/otelhelper"
	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/satchwsm/backbeat/pkg/queue"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultDuration is the window of a watchdog armed without an explicit one.
const DefaultDuration = 10 * time.Minute

// Handler receives timeouts.
type Handler interface {
	HandleTimeout(ctx context.Context, subjectType models.SubjectType, subjectID, name string) error
}

// Service starts, feeds and stops watchdogs and fires their timers.
type Service struct {
	repo    persistence.WatchdogRepository
	queue   queue.Queue
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger.With("component", "watchdog")
	}
}

// WithMetrics counts fires.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer traces timeout deliveries.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New creates a Service storing records in repo and timers in q.
func New(repo persistence.WatchdogRepository, q queue.Queue, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		queue:  q,
		clock:  clock.Real{},
		logger: slog.Default().With("component", "watchdog"),
		tracer: noop.NewTracerProvider().Tracer("watchdog"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start replaces any watchdog named name on subject with a fresh one expiring after d.
func (s *Service) Start(ctx context.Context, subject models.Subject, name string, d time.Duration) (*models.Watchdog, error) {
	dog, err := s.start(ctx, subject, name, d)
	if errors.Is(err, persistence.ErrWatchdogAlreadyExists) {
		// lost a race with a concurrent start; replace the winner
		dog, err = s.start(ctx, subject, name, d)
	}

	return dog, err
}

func (s *Service) start(ctx context.Context, subject models.Subject, name string, d time.Duration) (*models.Watchdog, error) {
	err := s.Stop(ctx, subject, name)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	dogID := uuid.NewString()
	job := queue.NewWatchdogJob(dogID, now.Add(d))

	dog := &models.Watchdog{
		ID:          dogID,
		Name:        name,
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		Duration:    d,
		TimerID:     job.ID,
		ArmedAt:     now,
	}

	err = s.repo.Create(ctx, dog)
	if err != nil {
		return nil, err
	}

	err = s.queue.Enqueue(ctx, job)
	if err != nil {
		_ = s.repo.Delete(ctx, dog.ID)

		return nil, fmt.Errorf("failed to arm watchdog %s: %w", name, err)
	}

	s.logger.DebugContext(ctx, "Watchdog started",
		"name", name,
		"subject_type", subject.Type,
		"subject_id", subject.ID,
		"duration", d)

	return dog, nil
}

// Feed re-arms the watchdog for its full duration. A subject without one gets
// a new watchdog lasting d, or DefaultDuration when d is not positive.
func (s *Service) Feed(ctx context.Context, subject models.Subject, name string, d time.Duration) (*models.Watchdog, error) {
	dog, err := s.repo.Find(ctx, subject, name)
	if errors.Is(err, persistence.ErrWatchdogNotFound) {
		if d <= 0 {
			d = DefaultDuration
		}

		return s.Start(ctx, subject, name, d)
	}

	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	job := queue.NewWatchdogJob(dog.ID, now.Add(dog.Duration))

	err = s.queue.Enqueue(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to arm watchdog %s: %w", name, err)
	}

	err = s.repo.SwapTimer(ctx, dog.ID, dog.TimerID, job.ID, now)
	if err != nil {
		_ = s.queue.Cancel(ctx, job.ID)

		if errors.Is(err, persistence.ErrStaleWatchdog) {
			// another feed, stop or fire got there first
			return s.Feed(ctx, subject, name, d)
		}

		return nil, err
	}

	err = s.queue.Cancel(ctx, dog.TimerID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to cancel replaced watchdog timer", "name", name, "timer_id", dog.TimerID, "error", err)
	}

	dog.TimerID = job.ID
	dog.ArmedAt = now

	return dog, nil
}

// Stop destroys the watchdog and its timer. Stopping an absent watchdog is a no-op.
func (s *Service) Stop(ctx context.Context, subject models.Subject, name string) error {
	dog, err := s.repo.Find(ctx, subject, name)
	if errors.Is(err, persistence.ErrWatchdogNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	return s.destroy(ctx, dog)
}

// MassStop destroys every watchdog on subject.
func (s *Service) MassStop(ctx context.Context, subject models.Subject) error {
	dogs, err := s.repo.ListBySubject(ctx, subject)
	if err != nil {
		return err
	}

	for _, dog := range dogs {
		err = s.destroy(ctx, dog)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) destroy(ctx context.Context, dog *models.Watchdog) error {
	err := s.repo.Delete(ctx, dog.ID)
	if err != nil && !errors.Is(err, persistence.ErrWatchdogNotFound) {
		return err
	}

	return s.queue.Cancel(ctx, dog.TimerID)
}

// Expired reports whether job is the current arming of dog and its window has run out.
func Expired(dog *models.Watchdog, job *queue.Job, now time.Time) bool {
	if dog == nil || job == nil {
		return false
	}

	return dog.TimerID == job.ID && !now.Before(dog.ExpiresAt())
}

// Fire delivers the timeout for job when it is still the current arming, then
// removes the watchdog. A current timer delivered before the window ran out is
// put back at the expiry. Handler errors are returned so the job is redelivered.
func (s *Service) Fire(ctx context.Context, job *queue.Job, handler Handler) error {
	dog, err := s.repo.GetByID(ctx, job.WatchdogID)
	if errors.Is(err, persistence.ErrWatchdogNotFound) {
		s.metrics.WatchdogFired("", "stale")

		return nil
	}

	if err != nil {
		return err
	}

	if dog.TimerID != job.ID {
		s.metrics.WatchdogFired(dog.Name, "stale")
		s.logger.DebugContext(ctx, "Discarding stale watchdog timer", "name", dog.Name, "job_id", job.ID)

		return nil
	}

	if !Expired(dog, job, s.clock.Now()) {
		// the queue's clock resolution can deliver a timer slightly early
		rearm := *job
		rearm.RunAt = dog.ExpiresAt()

		err = s.queue.Enqueue(ctx, &rearm)
		if err != nil {
			return fmt.Errorf("failed to re-arm watchdog %s: %w", dog.Name, err)
		}

		s.logger.DebugContext(ctx, "Re-arming early watchdog timer", "name", dog.Name, "job_id", job.ID, "run_at", rearm.RunAt)

		return nil
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "watchdog.fire", otelhelper.WatchdogAttributes(dog, job.ID)...)
	defer span.End()

	err = handler.HandleTimeout(ctx, dog.SubjectType, dog.SubjectID, dog.Name)
	if err != nil {
		s.metrics.WatchdogFired(dog.Name, "error")
		otelhelper.SetError(span, err)

		return fmt.Errorf("timeout handler for %s failed: %w", dog.Name, err)
	}

	s.metrics.WatchdogFired(dog.Name, "fired")
	s.logger.InfoContext(ctx, "Watchdog fired",
		"name", dog.Name,
		"subject_type", dog.SubjectType,
		"subject_id", dog.SubjectID)

	err = s.repo.DeleteArmed(ctx, dog.ID, job.ID)
	if err != nil && !errors.Is(err, persistence.ErrStaleWatchdog) {
		return err
	}

	return nil
}
