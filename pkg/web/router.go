package web

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/weblisite/synthralos-engine/pkg/engine"
	"github.com/weblisite/synthralos-engine/pkg/persistence"
	"github.com/weblisite/synthralos-engine/pkg/registry"
	"github.com/weblisite/synthralos-engine/pkg/services"
)

// NewApp builds the HTTP application exposing workflow management, execution
// control, and debugging endpoints.
func NewApp(persist persistence.Persistence, reg *registry.Registry, eng *engine.Engine) *fiber.App {
	validate := validator.New(validator.WithRequiredStructEnabled())

	workflowService := services.NewWorkflow(persist)
	publishingService := services.NewPublishing(persist, reg)

	handlers := NewAPIHandlers(workflowService, publishingService, eng, validate, reg, persist)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Synthralos Engine API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/publish", handlers.PublishWorkflow)
	w.Post("/:id/unpublish", handlers.UnpublishWorkflow)
	w.Post("/:id/create-draft", handlers.CreateDraft)
	w.Post("/:id/test", handlers.TestWorkflow)
	w.Post("/:id/executions", handlers.StartExecution)
	w.Get("/:id/executions", handlers.ListWorkflowExecutions)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Get("/:id/timeline", handlers.GetTimeline)
	e.Post("/:id/pause", handlers.PauseExecution)
	e.Post("/:id/resume", handlers.ResumeExecution)
	e.Post("/:id/terminate", handlers.TerminateExecution)
	e.Post("/:id/signal", handlers.SignalExecution)
	e.Post("/:id/replay", handlers.ReplayExecution)
	e.Post("/:id/debug/enable", handlers.EnableDebug)
	e.Post("/:id/debug/disable", handlers.DisableDebug)
	e.Post("/:id/debug/step", handlers.StepExecution)
	e.Post("/:id/debug/breakpoints/:nodeId", handlers.ToggleBreakpoint)
	e.Get("/:id/variables", handlers.GetVariables)

	app.Get("/node-types", handlers.GetNodeTypes)
	app.Get("/health", handlers.HealthCheck)

	return app
}
