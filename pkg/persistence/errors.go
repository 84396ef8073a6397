package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyExists indicates a workflow with the same identity triple already exists.
	ErrWorkflowAlreadyExists = errors.New("workflow already exists")

	// ErrNodeNotFound indicates a node was not found by the given identifier.
	ErrNodeNotFound = errors.New("node not found")

	// ErrIncompleteNode indicates a node was submitted without both detail records.
	ErrIncompleteNode = errors.New("node requires client and node details")

	// ErrStaleStatus indicates a compare-and-set on node statuses lost to another writer.
	ErrStaleStatus = errors.New("node status changed concurrently")

	// ErrWatchdogNotFound indicates a watchdog was not found.
	ErrWatchdogNotFound = errors.New("watchdog not found")

	// ErrWatchdogAlreadyExists indicates a watchdog with the same identity triple already exists.
	ErrWatchdogAlreadyExists = errors.New("watchdog already exists")

	// ErrStaleWatchdog indicates the watchdog was re-armed or removed concurrently.
	ErrStaleWatchdog = errors.New("watchdog timer changed concurrently")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Create", "Delete")
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// NodeError wraps node-related errors with additional context.
type NodeError struct {
	Op     string
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s operation failed for node %s: %v", e.Op, e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for node errors.
func (e *NodeError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewNodeError creates a new node error with context.
func NewNodeError(op, nodeID string, err error) *NodeError {
	return &NodeError{
		Op:     op,
		NodeID: nodeID,
		Err:    err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsWorkflowAlreadyExists checks if an error indicates a workflow identity collision.
func IsWorkflowAlreadyExists(err error) bool {
	return errors.Is(err, ErrWorkflowAlreadyExists)
}

// IsNodeNotFound checks if an error indicates a node was not found.
func IsNodeNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}

// IsStaleStatus checks if an error indicates a lost compare-and-set.
func IsStaleStatus(err error) bool {
	return errors.Is(err, ErrStaleStatus)
}

// IsWatchdogNotFound checks if an error indicates a watchdog was not found.
func IsWatchdogNotFound(err error) bool {
	return errors.Is(err, ErrWatchdogNotFound)
}
