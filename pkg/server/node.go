package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/satchwsm/backbeat/pkg/schedulers"
	"github.com/satchwsm/backbeat/pkg/statemanager"
	"github.com/satchwsm/backbeat/pkg/tree"
	"github.com/satchwsm/backbeat/pkg/watchdog"
)

// Node defaults applied when the caller leaves them out.
const (
	DefaultRetries       = 4
	DefaultRetryInterval = 15 * time.Second
)

// NodeParams describe a node to add. Zero values take the defaults of the kind.
type NodeParams struct {
	Name          string          `validate:"required"`
	Kind          models.NodeKind `validate:"omitempty,oneof=activity decision signal timer flag branch sub_activity"`
	Mode          models.Mode     `validate:"omitempty,oneof=blocking non_blocking"`
	ServerStatus  models.ServerStatus
	ClientStatus  models.ClientStatus
	FiresAt       time.Time
	Retries       *int          `validate:"omitempty,min=0"`
	RetryInterval time.Duration `validate:"min=0"`
	Timeout       time.Duration `validate:"min=0"`
	LinkID        *string
	Metadata      map[string]any
	Data          map[string]any
}

// AddNode creates a node with both of its detail records in one write. parent
// is nil for a top-level node.
func (s *Server) AddNode(ctx context.Context, userID string, workflow *models.Workflow, parent *models.Node, params NodeParams) (*models.Node, error) {
	err := s.validate.Struct(params)
	if err != nil {
		return nil, newError("AddNode", err.Error(), ErrInvalidParameters)
	}

	if parent != nil && parent.WorkflowID != workflow.ID {
		return nil, newError("AddNode", "parent belongs to another workflow", ErrInvalidParameters)
	}

	kind := params.Kind
	if kind == "" {
		kind = models.KindActivity
	}

	mode := params.Mode
	if mode == "" {
		mode = kind.Behavior().DefaultMode()
	}

	serverStatus := params.ServerStatus
	if serverStatus == "" {
		serverStatus = models.ServerPending
	}

	clientStatus := params.ClientStatus
	if clientStatus == "" {
		clientStatus = models.ClientPending
	}

	firesAt := params.FiresAt
	if firesAt.IsZero() {
		firesAt = s.clock.Now()
	}

	retries := DefaultRetries
	if params.Retries != nil {
		retries = *params.Retries
	}

	retryInterval := params.RetryInterval
	if retryInterval == 0 {
		retryInterval = DefaultRetryInterval
	}

	timeout := params.Timeout
	if timeout == 0 {
		timeout = watchdog.DefaultDuration
	}

	id := uuid.NewString()

	node := &models.Node{
		ID:                  id,
		WorkflowID:          workflow.ID,
		UserID:              userID,
		Name:                params.Name,
		Mode:                mode,
		CurrentServerStatus: serverStatus,
		CurrentClientStatus: clientStatus,
		FiresAt:             firesAt,
		LinkID:              params.LinkID,
		ClientDetail: &models.ClientNodeDetail{
			NodeID:   id,
			Metadata: nonNil(params.Metadata),
			Data:     nonNil(params.Data),
		},
		Detail: &models.NodeDetail{
			NodeID:           id,
			LegacyType:       kind,
			RetryInterval:    retryInterval,
			RetriesRemaining: retries,
			Timeout:          timeout,
		},
	}

	if parent != nil {
		parentID := parent.ID
		node.ParentID = &parentID
	}

	err = s.nodes().Create(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("failed to add node: %w", err)
	}

	return node, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}

// FindNode returns the node when it is owned by userID.
func (s *Server) FindNode(ctx context.Context, userID, id string) (*models.Node, error) {
	node, err := s.nodes().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if userID != "" && node.UserID != userID {
		return nil, persistence.NewNodeError("FindNode", id, persistence.ErrNodeNotFound)
	}

	return node, nil
}

// NodeTree returns the node with everything below it.
func (s *Server) NodeTree(ctx context.Context, node *models.Node) (*tree.Tree, error) {
	nodes, err := s.nodes().ListByWorkflow(ctx, node.WorkflowID, models.NodeFilter{})
	if err != nil {
		return nil, err
	}

	return tree.BuildNode(node, nodes), nil
}

// StatusChanges returns the audit trail of the node, oldest first.
func (s *Server) StatusChanges(ctx context.Context, node *models.Node) ([]*models.StatusChange, error) {
	return s.nodes().StatusChanges(ctx, node.ID)
}

// ChangeClientStatus records a status reported by the client performing the node.
func (s *Server) ChangeClientStatus(ctx context.Context, node *models.Node, status string, args map[string]any) error {
	if !models.ValidClientStatus(status) {
		return newError("ChangeClientStatus", "unknown status "+status, ErrInvalidParameters)
	}

	next := models.ClientStatus(status)

	switch next {
	case models.ClientReceived, models.ClientProcessing, models.ClientComplete, models.ClientErrored:
	default:
		// pending and ready are only ever set by the server
		return &statemanager.StatusChangeError{
			Axis:      models.StatusTypeClient,
			NodeID:    node.ID,
			Current:   string(node.CurrentClientStatus),
			Requested: status,
		}
	}

	err := validateArgs(next, args)
	if err != nil {
		return err
	}

	err = s.states.Transition(ctx, node, statemanager.Change{Client: next, Response: args})
	if err != nil {
		return err
	}

	subject := models.SubjectOf(node)

	switch next {
	case models.ClientReceived, models.ClientProcessing:
		_, err = s.watchdogs.Feed(ctx, subject, TimeoutWatchdog, nodeTimeout(node))

		return err
	case models.ClientComplete:
		err = s.watchdogs.Stop(ctx, subject, TimeoutWatchdog)
		if err != nil {
			return err
		}

		return s.FireEvent(ctx, EventClientComplete, node)
	default:
		err = s.watchdogs.Stop(ctx, subject, TimeoutWatchdog)
		if err != nil {
			return err
		}

		return s.FireEvent(ctx, EventClientError, node)
	}
}

// ChildParams is one child requested by a decision.
type ChildParams struct {
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	Mode          string         `json:"mode"`
	FiresAt       *time.Time     `json:"fires_at"`
	Retry         *int           `json:"retry"`
	RetryInterval int            `json:"retry_interval"`
	Timeout       int            `json:"timeout"`
	Metadata      map[string]any `json:"metadata"`
	Data          map[string]any `json:"data"`
}

// AddChildren adds the nodes a decision asked for. They stay pending until the
// decision completes.
func (s *Server) AddChildren(ctx context.Context, node *models.Node, args map[string]any) ([]*models.Node, error) {
	switch node.Kind() {
	case models.KindDecision, models.KindBranch:
	default:
		return nil, newError("AddChildren", string(node.Kind())+" nodes cannot add children", ErrNotDecision)
	}

	err := validateJSONSchema(args, decisionsSchema)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(args["nodes"])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgs, err)
	}

	var children []ChildParams

	err = json.Unmarshal(raw, &children)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgs, err)
	}

	workflow, err := s.workflows().GetByID(ctx, "", node.WorkflowID)
	if err != nil {
		return nil, err
	}

	created := make([]*models.Node, 0, len(children))

	for _, child := range children {
		params, err := child.nodeParams()
		if err != nil {
			return created, err
		}

		added, err := s.AddNode(ctx, node.UserID, workflow, node, params)
		if err != nil {
			return created, err
		}

		created = append(created, added)
	}

	return created, nil
}

func (c ChildParams) nodeParams() (NodeParams, error) {
	kind, err := models.ParseNodeKind(c.Type)
	if err != nil {
		return NodeParams{}, newError("AddChildren", err.Error(), ErrInvalidArgs)
	}

	params := NodeParams{
		Name:          c.Name,
		Kind:          kind,
		Mode:          models.Mode(c.Mode),
		Retries:       c.Retry,
		RetryInterval: time.Duration(c.RetryInterval) * time.Second,
		Timeout:       time.Duration(c.Timeout) * time.Second,
		Metadata:      c.Metadata,
		Data:          c.Data,
	}

	if c.FiresAt != nil {
		params.FiresAt = *c.FiresAt
	}

	return params, nil
}

// RestartNode re-runs an errored node immediately.
func (s *Server) RestartNode(ctx context.Context, node *models.Node) error {
	err := s.states.Transition(ctx, node, statemanager.Change{Server: models.ServerRetrying})
	if err != nil {
		return err
	}

	return s.FireEvent(ctx, EventRetryNode, node, WithScheduler(schedulers.KindNow))
}

// ResetNode deactivates everything below the node.
func (s *Server) ResetNode(ctx context.Context, node *models.Node) error {
	return s.FireEvent(ctx, EventResetNode, node)
}

// RunSubActivity starts a sub-activity under parent. The caller waits for it
// when the returned node is blocking.
func (s *Server) RunSubActivity(ctx context.Context, parent *models.Node, params NodeParams) (*models.Node, error) {
	workflow, err := s.workflows().GetByID(ctx, "", parent.WorkflowID)
	if err != nil {
		return nil, err
	}

	params.Kind = models.KindSubActivity
	params.ServerStatus = models.ServerReady
	params.ClientStatus = models.ClientReady

	node, err := s.AddNode(ctx, parent.UserID, workflow, parent, params)
	if err != nil {
		return nil, err
	}

	err = s.states.Transition(ctx, node, statemanager.Change{Server: models.ServerStarted})
	if err != nil {
		return nil, err
	}

	err = s.FireEvent(ctx, EventStartNode, node)
	if err != nil {
		return nil, err
	}

	return node, nil
}
