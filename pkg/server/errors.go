package server

import (
	"errors"
	"fmt"

	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/satchwsm/backbeat/pkg/statemanager"
)

// Business logic errors. Not-found and status change errors come from the
// persistence and statemanager packages unchanged.
var (
	// Validation errors (400 Bad Request).
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrInvalidArgs       = errors.New("invalid args")
	ErrNotDecision       = errors.New("node does not accept decisions")
	ErrUnknownEvent      = errors.New("unknown event")

	// Business logic conflicts (409 Conflict).
	ErrWorkflowComplete = errors.New("workflow is already complete")
)

// Error wraps facade errors with the operation and a client-facing message.
type Error struct {
	Op      string // Operation name
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newError(op, message string, err error) *Error {
	return &Error{Op: op, Message: message, Err: err}
}

// IsValidationError checks if an error should be reported as HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidParameters) ||
		errors.Is(err, ErrInvalidArgs) ||
		errors.Is(err, ErrNotDecision) ||
		errors.Is(err, ErrUnknownEvent) ||
		statemanager.IsInvalidServerStatusChange(err)
}

// IsConflictError checks if an error should be reported as HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowComplete) ||
		statemanager.IsInvalidClientStatusChange(err)
}

// IsNotFound checks if an error should be reported as HTTP 404.
func IsNotFound(err error) bool {
	return persistence.IsWorkflowNotFound(err) || persistence.IsNodeNotFound(err)
}
