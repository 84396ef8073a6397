// Package web provides the HTTP boundary of the orchestration engine.
package web

import (
	"time"

	"github.com/satchwsm/backbeat/pkg/models"
)

// CreateWorkflowRequest represents the request body for creating or finding a workflow.
type CreateWorkflowRequest struct {
	WorkflowType string         `json:"workflow_type" validate:"required"`
	Subject      map[string]any `json:"subject"       validate:"required"`
	Decider      string         `json:"decider"       validate:"required"`
}

// SignalRequest represents the request body of a workflow signal.
type SignalRequest struct {
	Name    string        `json:"name"`
	Options SignalOptions `json:"options"`
}

// SignalOptions carry the payload handed to the decider.
type SignalOptions struct {
	Metadata   map[string]any `json:"metadata"`
	ClientData map[string]any `json:"client_data"`
}

// StatusRequest represents the args a client attaches to a status report.
type StatusRequest struct {
	Args map[string]any `json:"args"`
}

// DecisionsRequest represents the children a decision adds.
type DecisionsRequest struct {
	Args map[string]any `json:"args" validate:"required"`
}

// SubActivityRequest represents the request body for running a sub-activity.
type SubActivityRequest struct {
	Name          string         `json:"name"           validate:"required"`
	Mode          string         `json:"mode"           validate:"omitempty,oneof=blocking non_blocking"`
	Retry         *int           `json:"retry"          validate:"omitempty,min=0"`
	RetryInterval int            `json:"retry_interval" validate:"min=0"`
	Timeout       int            `json:"timeout"        validate:"min=0"`
	Metadata      map[string]any `json:"metadata"`
	ClientData    map[string]any `json:"client_data"`
}

// NodeResponse is the client-facing view of a node.
type NodeResponse struct {
	ID                  string         `json:"id"`
	WorkflowID          string         `json:"workflow_id"`
	UserID              string         `json:"user_id"`
	ParentID            *string        `json:"parent_id"`
	Name                string         `json:"name"`
	Type                string         `json:"type"`
	Mode                string         `json:"mode"`
	CurrentServerStatus string         `json:"current_server_status"`
	CurrentClientStatus string         `json:"current_client_status"`
	FiresAt             time.Time      `json:"fires_at"`
	LinkID              *string        `json:"link_id,omitempty"`
	RetriesRemaining    int            `json:"retries_remaining"`
	RetryInterval       int            `json:"retry_interval"`
	Metadata            map[string]any `json:"metadata"`
	ClientData          map[string]any `json:"client_data"`
}

// NewNodeResponse flattens a node and its detail records.
func NewNodeResponse(node *models.Node) NodeResponse {
	response := NodeResponse{
		ID:                  node.ID,
		WorkflowID:          node.WorkflowID,
		UserID:              node.UserID,
		ParentID:            node.ParentID,
		Name:                node.Name,
		Type:                string(node.Kind()),
		Mode:                string(node.Mode),
		CurrentServerStatus: string(node.CurrentServerStatus),
		CurrentClientStatus: string(node.CurrentClientStatus),
		FiresAt:             node.FiresAt,
		LinkID:              node.LinkID,
		RetriesRemaining:    node.RetriesRemaining(),
		Metadata:            map[string]any{},
		ClientData:          map[string]any{},
	}

	if node.Detail != nil {
		response.RetryInterval = int(node.Detail.RetryInterval / time.Second)
	}

	if node.ClientDetail != nil {
		response.Metadata = node.ClientDetail.Metadata
		response.ClientData = node.ClientDetail.Data
	}

	return response
}

func newNodeResponses(nodes []*models.Node) []NodeResponse {
	responses := make([]NodeResponse, 0, len(nodes))
	for _, node := range nodes {
		responses = append(responses, NewNodeResponse(node))
	}

	return responses
}
