// Package mocks provides testify mocks of the engine's collaborator interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockNodeRepository is a mock implementation of persistence.NodeRepository interface.
type MockNodeRepository struct {
	mock.Mock
}

var _ persistence.NodeRepository = (*MockNodeRepository)(nil)

func (m *MockNodeRepository) Create(ctx context.Context, node *models.Node) error {
	args := m.Called(ctx, node)

	return args.Error(0)
}

func (m *MockNodeRepository) GetByID(ctx context.Context, id string) (*models.Node, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Node), args.Error(1)
}

func (m *MockNodeRepository) ListByWorkflow(ctx context.Context, workflowID string, filter models.NodeFilter) ([]*models.Node, error) {
	args := m.Called(ctx, workflowID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Node), args.Error(1)
}

func (m *MockNodeRepository) ListStale(ctx context.Context, status models.ServerStatus, cutoff time.Time, limit int) ([]*models.Node, error) {
	args := m.Called(ctx, status, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Node), args.Error(1)
}

func (m *MockNodeRepository) CompareAndSwapStatus(
	ctx context.Context,
	id string,
	expected, next models.StatusPair,
	changes []*models.StatusChange,
) error {
	args := m.Called(ctx, id, expected, next, changes)

	return args.Error(0)
}

func (m *MockNodeRepository) UpdateFiresAt(ctx context.Context, id string, firesAt time.Time) error {
	args := m.Called(ctx, id, firesAt)

	return args.Error(0)
}

func (m *MockNodeRepository) DecrementRetries(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)

	return args.Int(0), args.Error(1)
}

func (m *MockNodeRepository) StatusChanges(ctx context.Context, nodeID string) ([]*models.StatusChange, error) {
	args := m.Called(ctx, nodeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.StatusChange), args.Error(1)
}

func (m *MockNodeRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}
