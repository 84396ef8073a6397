package memory

import (
	"context"
	"maps"
	"time"

	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
)

// NodeRepository is the in-memory node store.
type NodeRepository struct {
	p *Persistence
}

func (r *NodeRepository) Create(_ context.Context, node *models.Node) error {
	if node.ClientDetail == nil || node.Detail == nil {
		return persistence.NewNodeError("Create", node.ID, persistence.ErrIncompleteNode)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.workflows[node.WorkflowID]; !ok {
		return persistence.NewNodeError("Create", node.ID, persistence.ErrWorkflowNotFound)
	}

	if node.ParentID != nil {
		if _, ok := r.p.nodes[*node.ParentID]; !ok {
			return persistence.NewNodeError("Create", node.ID, persistence.ErrNodeNotFound)
		}
	}

	r.p.seq++
	now := r.p.now()

	node.Seq = r.p.seq
	node.CreatedAt = now
	node.UpdatedAt = now
	node.ClientDetail.NodeID = node.ID
	node.Detail.NodeID = node.ID

	r.p.nodes[node.ID] = cloneNode(node)

	return nil
}

func (r *NodeRepository) GetByID(_ context.Context, id string) (*models.Node, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	node, ok := r.p.nodes[id]
	if !ok {
		return nil, persistence.NewNodeError("GetByID", id, persistence.ErrNodeNotFound)
	}

	return cloneNode(node), nil
}

func (r *NodeRepository) ListByWorkflow(_ context.Context, workflowID string, filter models.NodeFilter) ([]*models.Node, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	result := make([]*models.Node, 0)

	for _, node := range r.p.nodes {
		if node.WorkflowID == workflowID && filter.Matches(node) {
			result = append(result, cloneNode(node))
		}
	}

	sortNodes(result)

	return result, nil
}

func (r *NodeRepository) ListStale(_ context.Context, status models.ServerStatus, cutoff time.Time, limit int) ([]*models.Node, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	result := make([]*models.Node, 0)

	for _, node := range r.p.nodes {
		if node.CurrentServerStatus == status && node.FiresAt.Before(cutoff) {
			result = append(result, cloneNode(node))
		}
	}

	sortNodes(result)

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (r *NodeRepository) CompareAndSwapStatus(
	_ context.Context,
	id string,
	expected, next models.StatusPair,
	changes []*models.StatusChange,
) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	node, ok := r.p.nodes[id]
	if !ok {
		return persistence.NewNodeError("CompareAndSwapStatus", id, persistence.ErrNodeNotFound)
	}

	if node.Statuses() != expected {
		return persistence.NewNodeError("CompareAndSwapStatus", id, persistence.ErrStaleStatus)
	}

	now := r.p.now()
	node.CurrentServerStatus = next.Server
	node.CurrentClientStatus = next.Client
	node.UpdatedAt = now

	for _, change := range changes {
		r.p.changeID++

		record := *change
		record.ID = r.p.changeID
		record.NodeID = id
		record.Response = maps.Clone(change.Response)
		record.CreatedAt = now

		r.p.statusChanges[id] = append(r.p.statusChanges[id], &record)
	}

	return nil
}

func (r *NodeRepository) UpdateFiresAt(_ context.Context, id string, firesAt time.Time) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	node, ok := r.p.nodes[id]
	if !ok {
		return persistence.NewNodeError("UpdateFiresAt", id, persistence.ErrNodeNotFound)
	}

	node.FiresAt = firesAt
	node.UpdatedAt = r.p.now()

	return nil
}

func (r *NodeRepository) DecrementRetries(_ context.Context, id string) (int, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	node, ok := r.p.nodes[id]
	if !ok {
		return 0, persistence.NewNodeError("DecrementRetries", id, persistence.ErrNodeNotFound)
	}

	if node.Detail.RetriesRemaining > 0 {
		node.Detail.RetriesRemaining--
	}

	return node.Detail.RetriesRemaining, nil
}

func (r *NodeRepository) StatusChanges(_ context.Context, nodeID string) ([]*models.StatusChange, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	if _, ok := r.p.nodes[nodeID]; !ok {
		return nil, persistence.NewNodeError("StatusChanges", nodeID, persistence.ErrNodeNotFound)
	}

	result := make([]*models.StatusChange, 0, len(r.p.statusChanges[nodeID]))
	for _, change := range r.p.statusChanges[nodeID] {
		c := *change
		result = append(result, &c)
	}

	return result, nil
}

func (r *NodeRepository) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.nodes[id]; !ok {
		return persistence.NewNodeError("Delete", id, persistence.ErrNodeNotFound)
	}

	delete(r.p.nodes, id)
	delete(r.p.statusChanges, id)

	return nil
}
