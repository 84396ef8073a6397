package statemanager

import (
	"errors"
	"fmt"

	"github.com/satchwsm/backbeat/pkg/models"
)

var (
	// ErrInvalidServerStatusChange indicates the server axis may not move to the requested status.
	ErrInvalidServerStatusChange = errors.New("invalid server status change")

	// ErrInvalidClientStatusChange indicates the client axis may not move to the requested status.
	ErrInvalidClientStatusChange = errors.New("invalid client status change")
)

// StatusChangeError carries the rejected transition.
type StatusChangeError struct {
	Axis      models.StatusType
	NodeID    string
	Current   string
	Requested string
}

func (e *StatusChangeError) Error() string {
	return fmt.Sprintf("cannot transition %s status of node %s from %s to %s", e.Axis, e.NodeID, e.Current, e.Requested)
}

// Is matches the sentinel of the rejected axis.
func (e *StatusChangeError) Is(target error) bool {
	switch e.Axis {
	case models.StatusTypeServer:
		return target == ErrInvalidServerStatusChange
	case models.StatusTypeClient:
		return target == ErrInvalidClientStatusChange
	default:
		return false
	}
}

// IsInvalidServerStatusChange checks if an error is a rejected server transition.
func IsInvalidServerStatusChange(err error) bool {
	return errors.Is(err, ErrInvalidServerStatusChange)
}

// IsInvalidClientStatusChange checks if an error is a rejected client transition.
func IsInvalidClientStatusChange(err error) bool {
	return errors.Is(err, ErrInvalidClientStatusChange)
}

// AsStatusChangeError extracts the rejected transition from err.
func AsStatusChangeError(err error) (*StatusChangeError, bool) {
	var target *StatusChangeError
	if errors.As(err, &target) {
		return target, true
	}

	return nil, false
}
