package web

import (
	"github.com/gofiber/fiber/v3"

	"github.com/weblisite/synthralos-engine/pkg/models"
)

// StartExecution starts an execution of a published workflow and returns the
// created execution record. The actual run happens on a worker.
func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	exec, err := h.engine.Start(c.Context(), c.Params("id"), models.TriggerTypeManual, req.TriggerData)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(exec)
}

func (h *APIHandlers) ListWorkflowExecutions(c fiber.Ctx) error {
	executions, err := h.persistence.ExecutionRepository().ListByWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	exec, err := h.persistence.ExecutionRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(exec)
}

// GetTimeline returns the ordered event history of an execution. The level
// query parameter filters the flat log view by severity.
func (h *APIHandlers) GetTimeline(c fiber.Ctx) error {
	executionID := c.Params("id")

	if _, err := h.persistence.ExecutionRepository().GetByID(c.Context(), executionID); err != nil {
		return handleEngineError(c, err)
	}

	events, err := h.persistence.TimelineRepository().ListByExecution(c.Context(), executionID)
	if err != nil {
		return handleEngineError(c, err)
	}

	if level := c.Query("level"); level != "" {
		filtered := make([]*models.TimelineEvent, 0, len(events))

		for _, event := range events {
			if string(event.Level()) == level {
				filtered = append(filtered, event)
			}
		}

		events = filtered
	}

	return c.JSON(fiber.Map{"events": events})
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	exec, err := h.engine.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(exec)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	exec, err := h.engine.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(exec)
}

func (h *APIHandlers) TerminateExecution(c fiber.Ctx) error {
	exec, err := h.engine.Terminate(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(exec)
}

func (h *APIHandlers) SignalExecution(c fiber.Ctx) error {
	var req SignalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	exec, err := h.engine.Signal(c.Context(), c.Params("id"), req.NodeID, req.Data)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(exec)
}

func (h *APIHandlers) ReplayExecution(c fiber.Ctx) error {
	replay, err := h.engine.Replay(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(replay)
}

func (h *APIHandlers) EnableDebug(c fiber.Ctx) error {
	exec, err := h.engine.EnableDebug(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(exec)
}

func (h *APIHandlers) DisableDebug(c fiber.Ctx) error {
	exec, err := h.engine.DisableDebug(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(exec)
}

func (h *APIHandlers) StepExecution(c fiber.Ctx) error {
	exec, err := h.engine.Step(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(exec)
}

func (h *APIHandlers) ToggleBreakpoint(c fiber.Ctx) error {
	nodeID := c.Params("nodeId")

	enabled, err := h.engine.ToggleBreakpoint(c.Context(), c.Params("id"), nodeID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(BreakpointResponse{NodeID: nodeID, Enabled: enabled})
}

func (h *APIHandlers) GetVariables(c fiber.Ctx) error {
	view, err := h.engine.Variables(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(view)
}
