package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/server"
	"github.com/satchwsm/backbeat/pkg/tree"
)

const (
	clientIDHeader           = "Client-Id"
	waitForSubActivityHeader = "Wait-For-Sub-Activity"
	clientIDKey              = "client_id"
)

// NameLister lists the distinct workflow names of a user.
type NameLister interface {
	WorkflowNames(ctx context.Context, userID string) ([]string, error)
}

type nameInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type APIHandlers struct {
	server    *server.Server
	names     NameLister
	validator *validator.Validate
	logger    *slog.Logger
}

// HandlerOption configures APIHandlers.
type HandlerOption func(*APIHandlers)

// WithLogger sets the logger unhandled errors are reported to.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *APIHandlers) {
		h.logger = logger.With("component", "web")
	}
}

// NewAPIHandlers creates the handlers. names defaults to the server itself.
func NewAPIHandlers(srv *server.Server, names NameLister, validator *validator.Validate, opts ...HandlerOption) *APIHandlers {
	if names == nil {
		names = srv
	}

	h := &APIHandlers{
		server:    srv,
		names:     names,
		validator: validator,
		logger:    slog.Default().With("component", "web"),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// RequireClient resolves the acting user from the Client-Id header.
func (h *APIHandlers) RequireClient(c fiber.Ctx) error {
	id := c.Get(clientIDHeader)
	if id == "" {
		return unauthorized(c, "Client-Id header is required")
	}

	c.Locals(clientIDKey, id)

	return c.Next()
}

func clientID(c fiber.Ctx) string {
	id, _ := c.Locals(clientIDKey).(string)

	return id
}

func success(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	check, ok := h.server.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   check,
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.server.CreateWorkflow(c.Context(), server.CreateWorkflowParams{
		Name:    req.WorkflowType,
		Subject: req.Subject,
		Decider: req.Decider,
	}, clientID(c))
	if err != nil {
		return h.handleServerError(c, err)
	}

	if invalidator, ok := h.names.(nameInvalidator); ok {
		// a stale listing only lags by the cache lifetime
		_ = invalidator.Invalidate(c.Context(), clientID(c))
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	filter := models.WorkflowFilter{
		WorkflowType: c.Query("workflow_type", c.Query("name")),
		Decider:      c.Query("decider"),
	}

	if subject := c.Query("subject"); subject != "" {
		err := json.Unmarshal([]byte(subject), &filter.Subject)
		if err != nil {
			return badRequest(c, "subject must be a JSON object")
		}
	}

	workflows, err := h.server.ListWorkflows(c.Context(), clientID(c), filter)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return c.JSON(workflows)
}

func (h *APIHandlers) GetWorkflowNames(c fiber.Ctx) error {
	names, err := h.names.WorkflowNames(c.Context(), clientID(c))
	if err != nil {
		return h.handleServerError(c, err)
	}

	return c.JSON(names)
}

func (h *APIHandlers) findWorkflow(c fiber.Ctx) (*models.Workflow, error) {
	return h.server.FindWorkflow(c.Context(), clientID(c), c.Params("id"))
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.findWorkflow(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	workflow, err := h.findWorkflow(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	err = h.server.DeleteWorkflow(c.Context(), workflow)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SignalWorkflow(c fiber.Ctx) error {
	var req SignalRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if name := c.Params("name"); name != "" {
		req.Name = name
	}

	workflow, err := h.findWorkflow(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	node, err := h.server.Signal(c.Context(), workflow, server.SignalParams{
		Name:     req.Name,
		Metadata: req.Options.Metadata,
		Data:     req.Options.ClientData,
	})
	if err != nil {
		return h.handleServerError(c, err)
	}

	err = h.server.FireEvent(c.Context(), server.EventScheduleNextNode, workflow)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(NewNodeResponse(node))
}

func (h *APIHandlers) CompleteWorkflow(c fiber.Ctx) error {
	return h.updateWorkflow(c, h.server.CompleteWorkflow)
}

func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	return h.updateWorkflow(c, h.server.PauseWorkflow)
}

func (h *APIHandlers) ResumeWorkflow(c fiber.Ctx) error {
	return h.updateWorkflow(c, h.server.ResumeWorkflow)
}

func (h *APIHandlers) updateWorkflow(c fiber.Ctx, fn func(context.Context, *models.Workflow) error) error {
	workflow, err := h.findWorkflow(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	err = fn(c.Context(), workflow)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return success(c)
}

func (h *APIHandlers) GetWorkflowTree(c fiber.Ctx) error {
	t, err := h.workflowTree(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return c.JSON(t)
}

func (h *APIHandlers) PrintWorkflowTree(c fiber.Ctx) error {
	t, err := h.workflowTree(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return c.JSON(fiber.Map{"print": tree.Print(t)})
}

func (h *APIHandlers) workflowTree(c fiber.Ctx) (*tree.Tree, error) {
	workflow, err := h.findWorkflow(c)
	if err != nil {
		return nil, err
	}

	return h.server.Tree(c.Context(), workflow)
}

func (h *APIHandlers) GetWorkflowChildren(c fiber.Ctx) error {
	workflow, err := h.findWorkflow(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	children, err := h.server.Children(c.Context(), workflow)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return c.JSON(newNodeResponses(children))
}

func (h *APIHandlers) GetWorkflowNodes(c fiber.Ctx) error {
	workflow, err := h.findWorkflow(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	nodes, err := h.server.Nodes(c.Context(), workflow, models.NodeFilter{
		ServerStatus: models.ServerStatus(c.Query("current_server_status")),
		ClientStatus: models.ClientStatus(c.Query("current_client_status")),
	})
	if err != nil {
		return h.handleServerError(c, err)
	}

	return c.JSON(newNodeResponses(nodes))
}

func (h *APIHandlers) findNode(c fiber.Ctx) (*models.Node, error) {
	return h.server.FindNode(c.Context(), clientID(c), c.Params("id"))
}

func (h *APIHandlers) GetNode(c fiber.Ctx) error {
	node, err := h.findNode(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return c.JSON(NewNodeResponse(node))
}

func (h *APIHandlers) GetNodeTree(c fiber.Ctx) error {
	node, err := h.findNode(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	t, err := h.server.NodeTree(c.Context(), node)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return c.JSON(t)
}

func (h *APIHandlers) GetStatusChanges(c fiber.Ctx) error {
	node, err := h.findNode(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	changes, err := h.server.StatusChanges(c.Context(), node)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return c.JSON(changes)
}

func (h *APIHandlers) ChangeStatus(c fiber.Ctx) error {
	var req StatusRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	node, err := h.findNode(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	err = h.server.ChangeClientStatus(c.Context(), node, c.Params("new_status"), req.Args)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return success(c)
}

func (h *APIHandlers) AddDecisions(c fiber.Ctx) error {
	var req DecisionsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if _, ok := req.Args["nodes"]; !ok {
		if decisions, ok := req.Args["decisions"]; ok {
			req.Args["nodes"] = decisions
			delete(req.Args, "decisions")
		}
	}

	node, err := h.findNode(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	children, err := h.server.AddChildren(c.Context(), node, req.Args)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(newNodeResponses(children))
}

func (h *APIHandlers) RestartNode(c fiber.Ctx) error {
	node, err := h.findNode(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	err = h.server.RestartNode(c.Context(), node)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return success(c)
}

func (h *APIHandlers) ResetNode(c fiber.Ctx) error {
	node, err := h.findNode(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	err = h.server.ResetNode(c.Context(), node)
	if err != nil {
		return h.handleServerError(c, err)
	}

	return success(c)
}

func (h *APIHandlers) RunSubActivity(c fiber.Ctx) error {
	var req SubActivityRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	parent, err := h.findNode(c)
	if err != nil {
		return h.handleServerError(c, err)
	}

	node, err := h.server.RunSubActivity(c.Context(), parent, server.NodeParams{
		Name:          req.Name,
		Mode:          models.Mode(req.Mode),
		Retries:       req.Retry,
		RetryInterval: time.Duration(req.RetryInterval) * time.Second,
		Timeout:       time.Duration(req.Timeout) * time.Second,
		Metadata:      req.Metadata,
		Data:          req.ClientData,
	})
	if err != nil {
		return h.handleServerError(c, err)
	}

	if node.Blocking() {
		c.Set(waitForSubActivityHeader, "true")
	}

	return c.Status(fiber.StatusCreated).JSON(NewNodeResponse(node))
}
