// Package web provides the HTTP handlers of the engine's operational API.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/scheduler"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Engine is the part of workflow.Engine the handlers use.
type Engine interface {
	TriggerWorkflows(ctx context.Context, trigger models.TriggerType, contactID string, triggerData map[string]any)
	Enroll(ctx context.Context, workflowID, contactID string, triggerData map[string]any) (string, error)
	ExitWorkflow(ctx context.Context, enrollmentID string) error
	GetEnrollment(ctx context.Context, enrollmentID string) (*models.Enrollment, error)
	WorkflowAnalytics(ctx context.Context, workflowID string) (models.WorkflowAnalytics, error)
	SchedulerStats(ctx context.Context) (models.SchedulerStats, error)
	Scheduler() scheduler.Scheduler
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	engine    Engine
	validator *validator.Validate
}

func NewAPIHandlers(engine Engine, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		validator: validator,
	}
}

// Register mounts every route on app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)
	app.Post("/triggers", h.Trigger)

	w := app.Group("/workflows")
	w.Post("/:id/enrollments", h.Enroll)
	w.Get("/:id/analytics", h.WorkflowAnalytics)

	e := app.Group("/enrollments")
	e.Get("/:id", h.GetEnrollment)
	e.Post("/:id/exit", h.ExitWorkflow)

	s := app.Group("/scheduler")
	s.Get("/stats", h.SchedulerStats)
	s.Post("/pause", h.PauseScheduler)
	s.Post("/resume", h.ResumeScheduler)
	s.Delete("/jobs/:id", h.CancelJob)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	persistenceCheck := "ok"
	httpStatus := http.StatusOK

	err := h.engine.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		persistenceCheck = err.Error()
		httpStatus = http.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"persistence": persistenceCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) Trigger(c fiber.Ctx) error {
	var req TriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	trigger, err := models.ParseTriggerType(req.Trigger)
	if err != nil {
		return badRequest(c, err.Error())
	}

	h.engine.TriggerWorkflows(c.Context(), trigger, req.ContactID, req.TriggerData)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

func (h *APIHandlers) Enroll(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	enrollmentID, err := h.engine.Enroll(c.Context(), workflowID, req.ContactID, req.TriggerData)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(EnrollResponse{EnrollmentID: enrollmentID})
}

func (h *APIHandlers) GetEnrollment(c fiber.Ctx) error {
	enrollment, err := h.engine.GetEnrollment(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) ExitWorkflow(c fiber.Ctx) error {
	err := h.engine.ExitWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) WorkflowAnalytics(c fiber.Ctx) error {
	analytics, err := h.engine.WorkflowAnalytics(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(analytics)
}

func (h *APIHandlers) SchedulerStats(c fiber.Ctx) error {
	stats, err := h.engine.SchedulerStats(c.Context())
	if err != nil {
		return handleEngineError(c, err)
	}

	mode := "durable"
	if _, degraded := h.engine.Scheduler().(*scheduler.Immediate); degraded {
		mode = "immediate"
	}

	return c.JSON(SchedulerStatsResponse{SchedulerStats: stats, Mode: mode})
}

func (h *APIHandlers) PauseScheduler(c fiber.Ctx) error {
	err := h.engine.Scheduler().Pause(c.Context())
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ResumeScheduler(c fiber.Ctx) error {
	err := h.engine.Scheduler().Resume(c.Context())
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CancelJob(c fiber.Ctx) error {
	err := h.engine.Scheduler().Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
