package models

import "time"

// Mode controls whether a node's completion blocks its parent's progress.
type Mode string

const (
	ModeBlocking    Mode = "blocking"
	ModeNonBlocking Mode = "non_blocking"
)

// Node is a unit of work or signal in the workflow tree.
type Node struct {
	ID                  string            `json:"id"`
	Seq                 int64             `json:"seq"`
	WorkflowID          string            `json:"workflow_id"`
	UserID              string            `json:"user_id"`
	ParentID            *string           `json:"parent_id,omitempty"`
	Name                string            `json:"name"`
	Mode                Mode              `json:"mode"`
	CurrentServerStatus ServerStatus      `json:"current_server_status"`
	CurrentClientStatus ClientStatus      `json:"current_client_status"`
	FiresAt             time.Time         `json:"fires_at"`
	LinkID              *string           `json:"link_id,omitempty"`
	ClientDetail        *ClientNodeDetail `json:"client_node_detail,omitempty"`
	Detail              *NodeDetail       `json:"node_detail,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// ClientNodeDetail holds the client-visible payload of a node.
type ClientNodeDetail struct {
	NodeID   string         `json:"node_id"`
	Metadata map[string]any `json:"metadata"`
	Data     map[string]any `json:"data"`
}

// NodeDetail holds server-only retry and type bookkeeping.
type NodeDetail struct {
	NodeID           string        `json:"node_id"`
	LegacyType       NodeKind      `json:"legacy_type"`
	RetryInterval    time.Duration `json:"retry_interval"`
	RetriesRemaining int           `json:"retries_remaining"`
	Timeout          time.Duration `json:"timeout"`
}

func (n *Node) TargetType() SubjectType { return SubjectNode }

func (n *Node) TargetID() string { return n.ID }

func (n *Node) WorkflowRef() string { return n.WorkflowID }

// Kind returns the node's legacy type.
func (n *Node) Kind() NodeKind {
	if n.Detail == nil {
		return KindActivity
	}

	return n.Detail.LegacyType
}

// Blocking reports whether the parent must wait for this node.
func (n *Node) Blocking() bool {
	return n.Mode == ModeBlocking
}

// RetriesRemaining returns the remaining retry budget, zero when unknown.
func (n *Node) RetriesRemaining() int {
	if n.Detail == nil {
		return 0
	}

	return n.Detail.RetriesRemaining
}

// Statuses returns the node's current status pair.
func (n *Node) Statuses() StatusPair {
	return StatusPair{Server: n.CurrentServerStatus, Client: n.CurrentClientStatus}
}

// StatusPair is the value of both status axes at one point in time.
type StatusPair struct {
	Server ServerStatus
	Client ClientStatus
}

// NodeFilter narrows node listings. Empty fields match everything.
type NodeFilter struct {
	ServerStatus ServerStatus
	ClientStatus ClientStatus
}

// Matches reports whether the node satisfies the filter.
func (f NodeFilter) Matches(n *Node) bool {
	if f.ServerStatus != "" && n.CurrentServerStatus != f.ServerStatus {
		return false
	}

	if f.ClientStatus != "" && n.CurrentClientStatus != f.ClientStatus {
		return false
	}

	return true
}

// StatusChange is the audit record of one applied axis change.
type StatusChange struct {
	ID         int64          `json:"id"`
	NodeID     string         `json:"node_id"`
	StatusType StatusType     `json:"status_type"`
	FromStatus string         `json:"from_status"`
	ToStatus   string         `json:"to_status"`
	Response   map[string]any `json:"response,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
