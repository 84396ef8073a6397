// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/satchwsm/backbeat/pkg/models"
)

// CreateTestWorkflow creates a test Workflow with default values that can be overridden.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC()

	workflow := &models.Workflow{
		ID:        uuid.New().String(),
		Name:      "order",
		Decider:   "svc",
		Subject:   map[string]any{"id": float64(1)},
		UserID:    "test-user",
		Migrated:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// CreateTestNode creates a test Node with both detail records and default values
// that can be overridden.
func CreateTestNode(workflow *models.Workflow, overrides ...func(*models.Node)) *models.Node {
	now := time.Now().UTC()
	id := uuid.New().String()

	node := &models.Node{
		ID:                  id,
		WorkflowID:          workflow.ID,
		UserID:              workflow.UserID,
		Name:                "test activity",
		Mode:                models.ModeBlocking,
		CurrentServerStatus: models.ServerPending,
		CurrentClientStatus: models.ClientPending,
		FiresAt:             now.Add(-time.Second),
		ClientDetail: &models.ClientNodeDetail{
			NodeID:   id,
			Metadata: map[string]any{},
			Data:     map[string]any{},
		},
		Detail: &models.NodeDetail{
			NodeID:           id,
			LegacyType:       models.KindActivity,
			RetryInterval:    time.Minute,
			RetriesRemaining: 4,
			Timeout:          10 * time.Minute,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithParent places the node under parent.
func WithParent(parent *models.Node) func(*models.Node) {
	return func(n *models.Node) {
		id := parent.ID
		n.ParentID = &id
	}
}

// WithStatuses sets both status axes.
func WithStatuses(server models.ServerStatus, client models.ClientStatus) func(*models.Node) {
	return func(n *models.Node) {
		n.CurrentServerStatus = server
		n.CurrentClientStatus = client
	}
}

// WithKind sets the node's legacy type.
func WithKind(kind models.NodeKind) func(*models.Node) {
	return func(n *models.Node) {
		n.Detail.LegacyType = kind
	}
}

// WithMode sets the node mode.
func WithMode(mode models.Mode) func(*models.Node) {
	return func(n *models.Node) {
		n.Mode = mode
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.Node) {
	return func(n *models.Node) {
		n.Name = name
	}
}

// WithSeq sets the insertion order.
func WithSeq(seq int64) func(*models.Node) {
	return func(n *models.Node) {
		n.Seq = seq
	}
}

// WithRetries sets the retry budget and interval.
func WithRetries(remaining int, interval time.Duration) func(*models.Node) {
	return func(n *models.Node) {
		n.Detail.RetriesRemaining = remaining
		n.Detail.RetryInterval = interval
	}
}

// WithFiresAt sets the scheduled dispatch time.
func WithFiresAt(t time.Time) func(*models.Node) {
	return func(n *models.Node) {
		n.FiresAt = t
	}
}
