package persistence_test

import (
	"errors"
	"testing"

	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)
		nodeErr := persistence.NewNodeError("CompareAndSwapStatus", "node-456", persistence.ErrStaleStatus)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.False(t, persistence.IsNodeNotFound(workflowErr))
		assert.True(t, persistence.IsStaleStatus(nodeErr))

		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
		assert.True(t, errors.Is(nodeErr, persistence.ErrStaleStatus))
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("Create", "workflow-123", persistence.ErrWorkflowAlreadyExists)

		assert.Contains(t, err.Error(), "Create")
		assert.Contains(t, err.Error(), "workflow-123")
		assert.Contains(t, err.Error(), "workflow already exists")
		assert.True(t, persistence.IsWorkflowAlreadyExists(err))
	})

	t.Run("node error contains context", func(t *testing.T) {
		err := persistence.NewNodeError("GetByID", "node-456", persistence.ErrNodeNotFound)

		assert.Contains(t, err.Error(), "GetByID")
		assert.Contains(t, err.Error(), "node-456")
		assert.True(t, persistence.IsNodeNotFound(err))
	})
}
