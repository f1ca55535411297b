package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/tasklane/tasklane/pkg/store"
	"github.com/tasklane/tasklane/pkg/workflow"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleStoreError maps storage and definition errors to problem responses.
func handleStoreError(c fiber.Ctx, err error) error {
	switch {
	case store.IsTaskNotFound(err):
		return notFound(c, "Task not found")

	case store.IsInstanceNotFound(err):
		return notFound(c, "Workflow instance not found")

	case store.IsInvalidTransition(err):
		return conflict(c, err.Error())

	case errors.Is(err, store.ErrInvalidSortField):
		return badRequest(c, err.Error())

	case errors.Is(err, workflow.ErrDefinitionNotFound):
		return notFound(c, "Workflow definition not found")

	default:
		return internalError(c, err)
	}
}
