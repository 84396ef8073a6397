// Package persistence defines the storage contracts of the orchestration engine.
package persistence

import (
	"context"
	"time"

	"github.com/satchwsm/backbeat/pkg/models"
)

// Persistence is the authoritative store for workflows, nodes and watchdogs.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	NodeRepository() NodeRepository
	WatchdogRepository() WatchdogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflows. The (name, subject, user) triple is unique.
type WorkflowRepository interface {
	// Create inserts the workflow, returning ErrWorkflowAlreadyExists when the
	// identity triple is taken.
	Create(ctx context.Context, workflow *models.Workflow) error
	// Find returns the workflow with the given identity triple.
	Find(ctx context.Context, userID, name string, subject map[string]any) (*models.Workflow, error)
	GetByID(ctx context.Context, userID, id string) (*models.Workflow, error)
	List(ctx context.Context, filter models.WorkflowFilter) ([]*models.Workflow, error)
	Names(ctx context.Context, userID string) ([]string, error)
	SetComplete(ctx context.Context, id string, complete bool) error
	SetPaused(ctx context.Context, id string, paused bool) error
	Delete(ctx context.Context, id string) error
}

// NodeRepository stores nodes together with their two detail records.
type NodeRepository interface {
	// Create inserts the node, its client detail and its node detail in one
	// transaction. A node without both details is rejected.
	Create(ctx context.Context, node *models.Node) error
	GetByID(ctx context.Context, id string) (*models.Node, error)
	// ListByWorkflow returns every node of a workflow in insertion order.
	ListByWorkflow(ctx context.Context, workflowID string, filter models.NodeFilter) ([]*models.Node, error)
	// ListStale returns nodes in the given server status whose fires_at is before cutoff.
	ListStale(ctx context.Context, status models.ServerStatus, cutoff time.Time, limit int) ([]*models.Node, error)
	// CompareAndSwapStatus moves the node from expected to next and records the
	// changes. It returns ErrStaleStatus when the stored pair differs from expected.
	CompareAndSwapStatus(ctx context.Context, id string, expected, next models.StatusPair, changes []*models.StatusChange) error
	UpdateFiresAt(ctx context.Context, id string, firesAt time.Time) error
	// DecrementRetries lowers retries_remaining by one without going below zero
	// and returns the new value.
	DecrementRetries(ctx context.Context, id string) (int, error)
	StatusChanges(ctx context.Context, nodeID string) ([]*models.StatusChange, error)
	Delete(ctx context.Context, id string) error
}

// WatchdogRepository stores watchdogs. The (name, subject type, subject id) triple is unique.
type WatchdogRepository interface {
	// Create inserts the watchdog, returning ErrWatchdogAlreadyExists when the
	// identity triple is taken.
	Create(ctx context.Context, watchdog *models.Watchdog) error
	GetByID(ctx context.Context, id string) (*models.Watchdog, error)
	Find(ctx context.Context, subject models.Subject, name string) (*models.Watchdog, error)
	ListBySubject(ctx context.Context, subject models.Subject) ([]*models.Watchdog, error)
	// SwapTimer re-arms the watchdog when its timer is still oldTimerID.
	SwapTimer(ctx context.Context, id, oldTimerID, newTimerID string, armedAt time.Time) error
	Delete(ctx context.Context, id string) error
	// DeleteArmed deletes the watchdog only while it is armed with timerID.
	DeleteArmed(ctx context.Context, id, timerID string) error
}
