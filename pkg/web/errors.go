package web

import (
	"errors"

	"github.com/dukex/journeys/pkg/persistence"
	"github.com/dukex/journeys/pkg/scheduler"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps engine and scheduler errors to problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsEnrollmentNotFound(err):
		return notFound(c, "enrollment_not_found", "enrollment not found")

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow_not_found", "workflow not found")

	case scheduler.IsJobNotFound(err):
		return notFound(c, "job_not_found", "job not found or no longer waiting")

	case errors.Is(err, scheduler.ErrNotSupported):
		problem := problems.NewStatusProblem(501).
			WithInstance(c.Path()).
			WithType("not_supported").
			WithDetail(err.Error())

		return c.Status(fiber.StatusNotImplemented).JSON(problem)

	default:
		return internalError(c, err)
	}
}
