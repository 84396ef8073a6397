package memory

import (
	"context"
	"sort"

	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
)

// WorkflowRepository is the in-memory workflow store.
type WorkflowRepository struct {
	p *Persistence
}

func (r *WorkflowRepository) Create(_ context.Context, workflow *models.Workflow) error {
	key, err := workflow.SubjectKey()
	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	for _, existing := range r.p.workflows {
		existingKey, _ := existing.SubjectKey()
		if existing.UserID == workflow.UserID && existing.Name == workflow.Name && existingKey == key {
			return persistence.NewWorkflowError("Create", workflow.ID, persistence.ErrWorkflowAlreadyExists)
		}
	}

	now := r.p.now()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	r.p.workflows[workflow.ID] = cloneWorkflow(workflow)

	return nil
}

func (r *WorkflowRepository) Find(_ context.Context, userID, name string, subject map[string]any) (*models.Workflow, error) {
	key, err := models.SubjectKey(subject)
	if err != nil {
		return nil, err
	}

	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, existing := range r.p.workflows {
		existingKey, _ := existing.SubjectKey()
		if existing.UserID == userID && existing.Name == name && existingKey == key {
			return cloneWorkflow(existing), nil
		}
	}

	return nil, persistence.ErrWorkflowNotFound
}

func (r *WorkflowRepository) GetByID(_ context.Context, userID, id string) (*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflow, ok := r.p.workflows[id]
	if !ok || (userID != "" && workflow.UserID != userID) {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return cloneWorkflow(workflow), nil
}

func (r *WorkflowRepository) List(_ context.Context, filter models.WorkflowFilter) ([]*models.Workflow, error) {
	var subjectKey string

	if filter.Subject != nil {
		key, err := models.SubjectKey(filter.Subject)
		if err != nil {
			return nil, err
		}

		subjectKey = key
	}

	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	result := make([]*models.Workflow, 0)

	for _, workflow := range r.p.workflows {
		if filter.UserID != "" && workflow.UserID != filter.UserID {
			continue
		}

		if filter.WorkflowType != "" && workflow.Name != filter.WorkflowType {
			continue
		}

		if filter.Decider != "" && workflow.Decider != filter.Decider {
			continue
		}

		if subjectKey != "" {
			key, _ := workflow.SubjectKey()
			if key != subjectKey {
				continue
			}
		}

		result = append(result, cloneWorkflow(workflow))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (r *WorkflowRepository) Names(_ context.Context, userID string) ([]string, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	seen := make(map[string]bool)
	names := make([]string, 0)

	for _, workflow := range r.p.workflows {
		if userID != "" && workflow.UserID != userID {
			continue
		}

		if !seen[workflow.Name] {
			seen[workflow.Name] = true
			names = append(names, workflow.Name)
		}
	}

	sort.Strings(names)

	return names, nil
}

func (r *WorkflowRepository) SetComplete(_ context.Context, id string, complete bool) error {
	return r.update(id, "SetComplete", func(w *models.Workflow) { w.Complete = complete })
}

func (r *WorkflowRepository) SetPaused(_ context.Context, id string, paused bool) error {
	return r.update(id, "SetPaused", func(w *models.Workflow) { w.Paused = paused })
}

func (r *WorkflowRepository) update(id, op string, fn func(*models.Workflow)) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	workflow, ok := r.p.workflows[id]
	if !ok {
		return persistence.NewWorkflowError(op, id, persistence.ErrWorkflowNotFound)
	}

	fn(workflow)
	workflow.UpdatedAt = r.p.now()

	return nil
}

func (r *WorkflowRepository) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.workflows[id]; !ok {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	delete(r.p.workflows, id)

	return nil
}
