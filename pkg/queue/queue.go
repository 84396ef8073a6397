// Package queue is the durable delayed-job boundary between request handling and workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/satchwsm/backbeat/pkg/models"
)

// Kind tells the worker how to handle a job.
type Kind string

const (
	KindEvent    Kind = "event"
	KindWatchdog Kind = "watchdog"
)

// ErrInvalidJob indicates a job payload that cannot be handled.
var ErrInvalidJob = errors.New("invalid job")

// Job is a unit of deferred work: run Event on the target, or fire a watchdog, at RunAt.
type Job struct {
	ID         string             `json:"id"`
	Kind       Kind               `json:"kind"`
	Event      string             `json:"event,omitempty"`
	TargetType models.SubjectType `json:"target_type,omitempty"`
	TargetID   string             `json:"target_id,omitempty"`
	WatchdogID string             `json:"watchdog_id,omitempty"`
	RunAt      time.Time          `json:"run_at"`
	Attempts   int                `json:"attempts"`
}

// NewEventJob builds a job that performs event on target at runAt.
func NewEventJob(event string, target models.Target, runAt time.Time) *Job {
	return &Job{
		ID:         newID(),
		Kind:       KindEvent,
		Event:      event,
		TargetType: target.TargetType(),
		TargetID:   target.TargetID(),
		RunAt:      runAt,
	}
}

// NewWatchdogJob builds a job that fires the watchdog at runAt.
func NewWatchdogJob(watchdogID string, runAt time.Time) *Job {
	return &Job{
		ID:         newID(),
		Kind:       KindWatchdog,
		WatchdogID: watchdogID,
		RunAt:      runAt,
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// Validate checks that the job carries what its kind needs.
func (j *Job) Validate() error {
	switch j.Kind {
	case KindEvent:
		if j.Event == "" || j.TargetID == "" || j.TargetType == "" {
			return fmt.Errorf("%w: event job %s needs event and target", ErrInvalidJob, j.ID)
		}
	case KindWatchdog:
		if j.WatchdogID == "" {
			return fmt.Errorf("%w: watchdog job %s needs a watchdog id", ErrInvalidJob, j.ID)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, j.Kind)
	}

	return nil
}

// Encode serializes the job.
func (j *Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// Decode parses a serialized job.
func Decode(payload []byte) (*Job, error) {
	var job Job

	err := json.Unmarshal(payload, &job)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	return &job, job.Validate()
}

// DefaultLease is how long a claimed job may stay unacknowledged before it
// becomes due again.
const DefaultLease = 30 * time.Second

// Queue stores jobs until they are due. Delivery is at-least-once: a claimed
// job stays in flight until it is acknowledged, and comes back once its lease
// runs out.
type Queue interface {
	// Enqueue stores the job; a job with an existing ID is replaced, in flight or not.
	Enqueue(ctx context.Context, job *Job) error
	// Cancel removes a pending or in-flight job. Cancelling an unknown job is a no-op.
	Cancel(ctx context.Context, jobID string) error
	// ClaimDue leases and returns up to limit jobs whose RunAt is not after now.
	// A job is returned to at most one caller per lease.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	// Ack forgets a claimed job. A job enqueued again under the same ID after
	// the claim is kept.
	Ack(ctx context.Context, jobID string) error
	// RequeueExpired makes in-flight jobs whose lease ended before now due again.
	RequeueExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// Handler executes claimed jobs.
type Handler interface {
	HandleJob(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) HandleJob(ctx context.Context, job *Job) error {
	return f(ctx, job)
}
