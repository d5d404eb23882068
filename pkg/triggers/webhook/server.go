package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/weblisite/synthralos-engine/pkg/models"
	"github.com/weblisite/synthralos-engine/pkg/protocol"
)

// Handler binds a registered webhook path to a workflow.
type Handler struct {
	WorkflowID string
	Callback   protocol.TriggerCallback
	Logger     *slog.Logger
}

// ServerManager runs one HTTP listener shared by every webhook trigger.
// Triggers register their path; incoming requests are dispatched by path.
type ServerManager struct {
	app      *fiber.App
	handlers map[string]*Handler
	mu       sync.RWMutex
	logger   *slog.Logger
	port     int
	started  bool
	done     chan struct{}
	doneOnce sync.Once
}

func NewServerManager(port int, logger *slog.Logger) *ServerManager {
	return &ServerManager{
		handlers: make(map[string]*Handler),
		logger:   logger.With("module", "webhook_server"),
		port:     port,
		done:     make(chan struct{}),
	}
}

func (sm *ServerManager) Register(path string, handler *Handler) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.handlers[path]; exists {
		return models.NewValidationFailure("", "webhook path "+path+" already registered")
	}

	sm.handlers[path] = handler
	sm.logger.Info("Registered webhook path", "path", path, "workflow_id", handler.WorkflowID)

	return nil
}

func (sm *ServerManager) Unregister(path string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if handler, exists := sm.handlers[path]; exists {
		delete(sm.handlers, path)
		sm.logger.Info("Unregistered webhook path", "path", path, "workflow_id", handler.WorkflowID)
	}
}

// Start brings the listener up. Idempotent; the server shuts down when the
// context is cancelled.
func (sm *ServerManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.started {
		return nil
	}

	app := sm.newApp()
	sm.app = app

	go func() {
		sm.logger.Info("Starting webhook listener", "port", sm.port)

		if err := app.Listen(":"+strconv.Itoa(sm.port), fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			sm.logger.Error("Webhook listener stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()

		if err := sm.Stop(context.Background()); err != nil {
			sm.logger.Error("Failed to stop webhook listener", "error", err)
		}
	}()

	sm.started = true

	return nil
}

func (sm *ServerManager) Stop(_ context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.started || sm.app == nil {
		return nil
	}

	sm.logger.Info("Stopping webhook listener")

	if err := sm.app.ShutdownWithTimeout(5 * time.Second); err != nil {
		return err
	}

	sm.started = false
	sm.doneOnce.Do(func() { close(sm.done) })

	return nil
}

// Done closes when the listener has shut down.
func (sm *ServerManager) Done() <-chan struct{} {
	return sm.done
}

func (sm *ServerManager) HandlerCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return len(sm.handlers)
}

func (sm *ServerManager) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	})
	app.All("/*", sm.dispatch)

	return app
}

func (sm *ServerManager) dispatch(c fiber.Ctx) error {
	path := c.Path()

	sm.mu.RLock()
	handler, exists := sm.handlers[path]
	sm.mu.RUnlock()

	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status":  "error",
			"message": "webhook path not found",
		})
	}

	handler.Logger.Info("Received webhook request", "method", c.Method(), "path", path)

	var bodyData any
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &bodyData); err != nil {
			bodyData = string(body)
		}
	}

	headers := make(map[string]any)
	for name, values := range c.GetReqHeaders() {
		if len(values) == 1 {
			headers[name] = values[0]
		} else {
			headers[name] = values
		}
	}

	query := make(map[string]any)
	for name, value := range c.Queries() {
		query[name] = value
	}

	triggerData := map[string]any{
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"method":      c.Method(),
		"path":        path,
		"query":       query,
		"headers":     headers,
		"body":        bodyData,
		"remote_addr": c.IP(),
	}

	executionID, err := handler.Callback(c.Context(), handler.WorkflowID, models.TriggerTypeWebhook, triggerData)
	if err != nil {
		handler.Logger.Error("Failed to start execution for webhook", "error", err)

		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"status":  "error",
			"message": err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":       "accepted",
		"execution_id": executionID,
	})
}
