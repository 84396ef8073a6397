// Package client delivers dispatched nodes to the remote workers that perform them.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/satchwsm/backbeat/pkg/models"
)

const topicPrefix = "backbeat.client."

// Topic returns the topic a client subscribes to for its dispatched nodes.
func Topic(userID string) string {
	return topicPrefix + userID
}

// Activity is the message a client receives when a node is handed to it.
type Activity struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         models.NodeKind `json:"type"`
	Mode         models.Mode     `json:"mode"`
	ParentID     *string         `json:"parent_id,omitempty"`
	WorkflowID   string          `json:"workflow_id"`
	WorkflowName string          `json:"workflow_name"`
	Decider      string          `json:"decider"`
	Subject      map[string]any  `json:"subject"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Data         map[string]any  `json:"data,omitempty"`
}

// NewActivity builds the client payload of node.
func NewActivity(workflow *models.Workflow, node *models.Node) Activity {
	activity := Activity{
		ID:           node.ID,
		Name:         node.Name,
		Type:         node.Kind(),
		Mode:         node.Mode,
		ParentID:     node.ParentID,
		WorkflowID:   workflow.ID,
		WorkflowName: workflow.Name,
		Decider:      workflow.Decider,
		Subject:      workflow.Subject,
	}

	if node.ClientDetail != nil {
		activity.Metadata = node.ClientDetail.Metadata
		activity.Data = node.ClientDetail.Data
	}

	return activity
}

// Notifier publishes activities on the owning client's topic.
type Notifier struct {
	publisher message.Publisher
	logger    *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(publisher message.Publisher, logger *slog.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		logger:    logger.With("component", "client_notifier"),
	}
}

// Notify sends node to its client.
func (n *Notifier) Notify(ctx context.Context, workflow *models.Workflow, node *models.Node) error {
	payload, err := json.Marshal(NewActivity(workflow, node))
	if err != nil {
		return fmt.Errorf("failed to encode activity: %w", err)
	}

	msg := message.NewMessage(node.ID, payload)
	msg.Metadata.Set("node_type", string(node.Kind()))
	msg.Metadata.Set("workflow_id", workflow.ID)
	msg.SetContext(ctx)

	topic := Topic(node.UserID)

	err = n.publisher.Publish(topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish activity %s: %w", node.ID, err)
	}

	n.logger.DebugContext(ctx, "Activity sent to client", "node_id", node.ID, "topic", topic)

	return nil
}
