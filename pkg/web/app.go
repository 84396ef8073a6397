package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewApp mounts every route on a new fiber app. gatherer backs /metrics and
// may be nil.
func NewApp(h *APIHandlers, gatherer prometheus.Gatherer) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Backbeat API")
	})

	app.Get("/health", h.HealthCheck)

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	Register(app, h)

	return app
}

// Register mounts the workflow and event routes behind the Client-Id check.
func Register(app *fiber.App, h *APIHandlers) {
	w := app.Group("/workflows", h.RequireClient)
	w.Post("/", h.CreateWorkflow)
	w.Get("/", h.GetWorkflows)
	w.Get("/names", h.GetWorkflowNames)
	w.Get("/:id", h.GetWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/signal", h.SignalWorkflow)
	w.Post("/:id/signal/:name", h.SignalWorkflow)
	w.Put("/:id/complete", h.CompleteWorkflow)
	w.Put("/:id/pause", h.PauseWorkflow)
	w.Put("/:id/resume", h.ResumeWorkflow)
	w.Get("/:id/tree", h.GetWorkflowTree)
	w.Get("/:id/tree/print", h.PrintWorkflowTree)
	w.Get("/:id/children", h.GetWorkflowChildren)
	w.Get("/:id/nodes", h.GetWorkflowNodes)

	e := app.Group("/events", h.RequireClient)
	e.Get("/:id", h.GetNode)
	e.Get("/:id/tree", h.GetNodeTree)
	e.Get("/:id/status_changes", h.GetStatusChanges)
	e.Put("/:id/status/:new_status", h.ChangeStatus)
	e.Post("/:id/decisions", h.AddDecisions)
	e.Put("/:id/restart", h.RestartNode)
	e.Put("/:id/reset", h.ResetNode)
	e.Put("/:id/run_sub_activity", h.RunSubActivity)
}
