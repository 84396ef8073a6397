package web

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/persistence"
	"github.com/satchwsm/backbeat/pkg/server"
	"github.com/satchwsm/backbeat/pkg/statemanager"
)

// statusConflict reports a rejected client status change.
type statusConflict struct {
	*problems.DefaultProblem

	CurrentStatus   string `json:"currentStatus"`
	AttemptedStatus string `json:"attemptedStatus"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func unauthorized(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(401).
		WithInstance(c.Path()).
		WithType("unauthorized").
		WithDetail(detail)

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
}

// handleServerError maps facade errors to problem responses. Errors without a
// mapping are logged before the 500 goes out.
func (h *APIHandlers) handleServerError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsWorkflowNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("workflow_not_found").
			WithDetail("workflow not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case persistence.IsNodeNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("node_not_found").
			WithDetail("node not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case server.IsValidationError(err):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case server.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		changeErr, ok := statemanager.AsStatusChangeError(err)
		if ok && changeErr.Axis == models.StatusTypeClient {
			return c.Status(fiber.StatusConflict).JSON(statusConflict{
				DefaultProblem:  problem,
				CurrentStatus:   changeErr.Current,
				AttemptedStatus: changeErr.Requested,
			})
		}

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		h.logger.ErrorContext(c.Context(), "Unhandled error",
			"error", err,
			"error_type", fmt.Sprintf("%T", err),
			"method", c.Method(),
			"path", c.Path(),
			"client_id", clientID(c))

		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
