// Package web provides the REST API for inspecting tasks and instances and
// for triggering and cancelling work.
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/tasklane/tasklane/pkg/engine"
	"github.com/tasklane/tasklane/pkg/models"
	"github.com/tasklane/tasklane/pkg/store"
	"github.com/tasklane/tasklane/pkg/workflow"
)

type APIHandlers struct {
	engine      *engine.Engine
	store       store.Store
	definitions workflow.Repository
}

func NewAPIHandlers(eng *engine.Engine, taskStore store.Store, definitions workflow.Repository) *APIHandlers {
	return &APIHandlers{
		engine:      eng,
		store:       taskStore,
		definitions: definitions,
	}
}

// RegisterRoutes mounts all API endpoints on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)
	app.Get("/stats", h.GetStats)

	app.Get("/workflows", h.GetWorkflows)
	app.Post("/workflows/:id/start", h.StartWorkflow)

	app.Get("/tasks", h.GetTasks)
	app.Get("/tasks/:id", h.GetTask)
	app.Post("/tasks/:id/cancel", h.CancelTask)

	app.Get("/instances", h.GetInstances)
	app.Get("/instances/:id", h.GetInstance)
}

func (h *APIHandlers) GetTasks(c fiber.Ctx) error {
	filter, err := h.parseTaskFilter(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	page, err := h.store.ListTasks(c.Context(), *filter)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"tasks":         page.Tasks,
		"total_count":   page.TotalCount,
		"has_next_page": page.HasNextPage,
		"pagination": fiber.Map{
			"limit":  filter.Limit,
			"offset": filter.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    filter.SortBy,
			"sort_order": filter.SortOrder,
		},
	})
}

// parseTaskFilter parses and validates query parameters for listing tasks.
func (h *APIHandlers) parseTaskFilter(c fiber.Ctx) (*store.TaskFilter, error) {
	filter := &store.TaskFilter{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		filter.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		filter.Offset = offset
	}

	if statusStr := c.Query("status"); statusStr != "" {
		for _, status := range strings.Split(statusStr, ",") {
			filter.Statuses = append(filter.Statuses, models.TaskStatus(strings.TrimSpace(status)))
		}
	}

	filter.WorkflowID = c.Query("workflow_id")
	filter.InstanceID = c.Query("instance_id")
	filter.Capability = c.Query("capability")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	return filter, nil
}

func (h *APIHandlers) GetTask(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	task, err := h.store.GetTask(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) CancelTask(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	task, err := h.engine.CancelTask(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) GetInstances(c fiber.Ctx) error {
	instances, err := h.store.ListInstances(c.Context())
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"instances":   instances,
		"total_count": len(instances),
	})
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	instance, err := h.store.GetInstance(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	definitions, err := h.definitions.Definitions(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   definitions,
		"total_count": len(definitions),
	})
}

type startWorkflowRequest struct {
	TriggerData map[string]any `json:"trigger_data"`
}

func (h *APIHandlers) StartWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req startWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	instanceID, err := h.engine.StartWorkflow(c.Context(), id, req.TriggerData)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"instance_id": instanceID,
		"workflow_id": id,
	})
}

func (h *APIHandlers) GetStats(c fiber.Ctx) error {
	stats, err := h.engine.Stats(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	storeErr := h.store.HealthCheck(c.Context())
	_, defErr := h.definitions.Definitions(c.Context())

	status := "unhealthy"
	message := "Tasklane API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if storeErr == nil && defErr == nil {
		status = "healthy"
		message = "Tasklane API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"store":       checkResult(storeErr),
			"definitions": checkResult(defErr),
		},
		"timestamp": time.Now().UTC(),
	})
}

func checkResult(err error) string {
	if err != nil {
		return err.Error()
	}

	return "ok"
}
