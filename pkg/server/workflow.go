package server

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/satchwsm/backbeat/pkg/statemanager"
	"github.com/satchwsm/backbeat/pkg/tree"
)

// CreateWorkflowParams are the fields a client supplies to create a workflow.
type CreateWorkflowParams struct {
	Name    string         `json:"workflow_type" validate:"required"`
	Subject map[string]any `json:"subject"       validate:"required"`
	Decider string         `json:"decider"       validate:"required"`
}

// CreateWorkflow returns the workflow identified by (name, subject, owner),
// creating it when it does not exist yet.
func (s *Server) CreateWorkflow(ctx context.Context, params CreateWorkflowParams, userID string) (*models.Workflow, error) {
	if userID == "" {
		return nil, newError("CreateWorkflow", "owner is required", ErrInvalidParameters)
	}

	err := s.validate.Struct(params)
	if err != nil {
		return nil, newError("CreateWorkflow", err.Error(), ErrInvalidParameters)
	}

	if len(params.Subject) == 0 {
		return nil, newError("CreateWorkflow", "subject cannot be empty", ErrInvalidParameters)
	}

	workflow := &models.Workflow{
		ID:       uuid.NewString(),
		Name:     params.Name,
		Decider:  params.Decider,
		Subject:  params.Subject,
		UserID:   userID,
		Migrated: true,
	}

	err = s.workflows().Create(ctx, workflow)
	if err == nil {
		s.logger.InfoContext(ctx, "Workflow created", "workflow_id", workflow.ID, "name", workflow.Name)

		return workflow, nil
	}

	if !persistence.IsWorkflowAlreadyExists(err) {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return s.workflows().Find(ctx, userID, params.Name, params.Subject)
}

// FindWorkflow returns the workflow when it is owned by userID.
func (s *Server) FindWorkflow(ctx context.Context, userID, id string) (*models.Workflow, error) {
	return s.workflows().GetByID(ctx, userID, id)
}

// ListWorkflows returns the workflows of userID matching filter.
func (s *Server) ListWorkflows(ctx context.Context, userID string, filter models.WorkflowFilter) ([]*models.Workflow, error) {
	filter.UserID = userID

	return s.workflows().List(ctx, filter)
}

// WorkflowNames returns the distinct workflow names of userID.
func (s *Server) WorkflowNames(ctx context.Context, userID string) ([]string, error) {
	return s.workflows().Names(ctx, userID)
}

// SignalParams describe the decision a signal creates.
type SignalParams struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
	Data     map[string]any `json:"data"`
}

// Signal adds a ready decision node at the top of the workflow.
func (s *Server) Signal(ctx context.Context, workflow *models.Workflow, params SignalParams) (*models.Node, error) {
	if workflow.Complete {
		return nil, newError("Signal", "", ErrWorkflowComplete)
	}

	name := params.Name
	if name == "" {
		name = workflow.Name
	}

	node, err := s.AddNode(ctx, workflow.UserID, workflow, nil, NodeParams{
		Name:         name,
		Kind:         models.KindDecision,
		Mode:         models.ModeBlocking,
		ServerStatus: models.ServerReady,
		ClientStatus: models.ClientReady,
		Metadata:     params.Metadata,
		Data:         params.Data,
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Workflow signaled", "workflow_id", workflow.ID, "node_id", node.ID, "name", name)

	return node, nil
}

// CompleteWorkflow marks the workflow complete; further signals are rejected.
func (s *Server) CompleteWorkflow(ctx context.Context, workflow *models.Workflow) error {
	err := s.workflows().SetComplete(ctx, workflow.ID, true)
	if err != nil {
		return err
	}

	workflow.Complete = true

	return nil
}

// PauseWorkflow stops further dispatch; started nodes park as paused.
func (s *Server) PauseWorkflow(ctx context.Context, workflow *models.Workflow) error {
	err := s.workflows().SetPaused(ctx, workflow.ID, true)
	if err != nil {
		return err
	}

	workflow.Paused = true

	return nil
}

// ResumeWorkflow clears the paused flag and restarts every paused node once.
func (s *Server) ResumeWorkflow(ctx context.Context, workflow *models.Workflow) error {
	err := s.workflows().SetPaused(ctx, workflow.ID, false)
	if err != nil {
		return err
	}

	workflow.Paused = false

	paused, err := s.nodes().ListByWorkflow(ctx, workflow.ID, models.NodeFilter{ServerStatus: models.ServerPaused})
	if err != nil {
		return err
	}

	for _, node := range paused {
		err = s.states.Transition(ctx, node, statemanager.Change{Server: models.ServerStarted})
		if err != nil {
			if isRejected(err) {
				// another resume already restarted this node
				continue
			}

			return err
		}

		err = s.FireEvent(ctx, EventStartNode, node)
		if err != nil {
			return err
		}
	}

	s.logger.InfoContext(ctx, "Workflow resumed", "workflow_id", workflow.ID, "nodes", len(paused))

	return nil
}

// DeleteWorkflow removes the workflow, its nodes and their watchdogs.
func (s *Server) DeleteWorkflow(ctx context.Context, workflow *models.Workflow) error {
	nodes, err := s.nodes().ListByWorkflow(ctx, workflow.ID, models.NodeFilter{})
	if err != nil {
		return err
	}

	// children are created after their parents; delete newest first
	for _, node := range slices.Backward(nodes) {
		err = s.watchdogs.MassStop(ctx, models.SubjectOf(node))
		if err != nil {
			return fmt.Errorf("failed to stop watchdogs of node %s: %w", node.ID, err)
		}

		err = s.nodes().Delete(ctx, node.ID)
		if err != nil && !errors.Is(err, persistence.ErrNodeNotFound) {
			return err
		}
	}

	err = s.watchdogs.MassStop(ctx, models.SubjectOf(workflow))
	if err != nil {
		return err
	}

	err = s.workflows().Delete(ctx, workflow.ID)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", workflow.ID, "nodes", len(nodes))

	return nil
}

// Children returns the top-level nodes of the workflow in insertion order.
func (s *Server) Children(ctx context.Context, workflow *models.Workflow) ([]*models.Node, error) {
	nodes, err := s.nodes().ListByWorkflow(ctx, workflow.ID, models.NodeFilter{})
	if err != nil {
		return nil, err
	}

	return tree.Children(nodes, nil), nil
}

// Nodes returns every node of the workflow matching filter.
func (s *Server) Nodes(ctx context.Context, workflow *models.Workflow, filter models.NodeFilter) ([]*models.Node, error) {
	if filter.ServerStatus != "" && !models.ValidServerStatus(string(filter.ServerStatus)) {
		return nil, newError("Nodes", "unknown server status "+string(filter.ServerStatus), ErrInvalidParameters)
	}

	if filter.ClientStatus != "" && !models.ValidClientStatus(string(filter.ClientStatus)) {
		return nil, newError("Nodes", "unknown client status "+string(filter.ClientStatus), ErrInvalidParameters)
	}

	return s.nodes().ListByWorkflow(ctx, workflow.ID, filter)
}

// Tree returns the workflow with every node nested under its parent.
func (s *Server) Tree(ctx context.Context, workflow *models.Workflow) (*tree.Tree, error) {
	nodes, err := s.nodes().ListByWorkflow(ctx, workflow.ID, models.NodeFilter{})
	if err != nil {
		return nil, err
	}

	return tree.Build(workflow, nodes), nil
}
