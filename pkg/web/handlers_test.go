package web_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasklane/tasklane/pkg/capability"
	"github.com/tasklane/tasklane/pkg/engine"
	"github.com/tasklane/tasklane/pkg/retry"
	"github.com/tasklane/tasklane/pkg/store"
	"github.com/tasklane/tasklane/pkg/store/memory"
	"github.com/tasklane/tasklane/pkg/web"
	"github.com/tasklane/tasklane/pkg/workflow"
)

const testDefinition = `{
	"id": "order-flow",
	"name": "Order processing",
	"steps": [
		{"id": "charge", "capability": "billing", "action": "charge"},
		{"id": "send", "capability": "notify", "action": "send", "depends_on": ["charge"]}
	]
}`

type testAPI struct {
	app   *fiber.App
	store store.Store
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()

	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "order-flow.json"), []byte(testDefinition), 0o600)
	require.NoError(t, err)

	definitions, err := workflow.NewFileRepository(dir)
	require.NoError(t, err)

	taskStore := memory.NewStore()

	eng := engine.NewEngine(engine.Config{
		Store:       taskStore,
		Definitions: definitions,
		Registry:    capability.NewRegistry(),
		Logger:      slog.Default(),
		RetryPolicy: retry.Policy{},
	})

	app := fiber.New()
	web.NewAPIHandlers(eng, taskStore, definitions).RegisterRoutes(app)

	return &testAPI{app: app, store: taskStore}
}

func (a *testAPI) request(t *testing.T, method, target string, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	t.Cleanup(func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	})

	var decoded map[string]any

	err = json.NewDecoder(resp.Body).Decode(&decoded)
	if err != nil {
		decoded = nil
	}

	return resp, decoded
}

func (a *testAPI) startWorkflow(t *testing.T) string {
	t.Helper()

	resp, body := a.request(t, http.MethodPost, "/workflows/order-flow/start",
		`{"trigger_data": {"order_id": "ord-1"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	instanceID, _ := body["instance_id"].(string)
	require.NotEmpty(t, instanceID)

	return instanceID
}

func TestStartWorkflowEndpoint(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)

	instanceID := api.startWorkflow(t)

	instance, err := api.store.GetInstance(t.Context(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, "order-flow", instance.WorkflowID)
	assert.Equal(t, map[string]any{"order_id": "ord-1"}, instance.TriggerData)
}

func TestStartWorkflowUnknownDefinition(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)

	resp, _ := api.request(t, http.MethodPost, "/workflows/ghost/start", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetTasks(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)
	api.startWorkflow(t)

	t.Run("lists all tasks", func(t *testing.T) {
		resp, body := api.request(t, http.MethodGet, "/tasks", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		tasks, ok := body["tasks"].([]any)
		require.True(t, ok)
		assert.Len(t, tasks, 2)
		assert.Equal(t, float64(2), body["total_count"])
	})

	t.Run("filters by capability", func(t *testing.T) {
		resp, body := api.request(t, http.MethodGet, "/tasks?capability=billing", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		tasks, ok := body["tasks"].([]any)
		require.True(t, ok)
		require.Len(t, tasks, 1)
	})

	t.Run("paginates", func(t *testing.T) {
		resp, body := api.request(t, http.MethodGet, "/tasks?limit=1", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		tasks, ok := body["tasks"].([]any)
		require.True(t, ok)
		assert.Len(t, tasks, 1)
		assert.Equal(t, true, body["has_next_page"])
	})

	t.Run("rejects bad query parameters", func(t *testing.T) {
		resp, _ := api.request(t, http.MethodGet, "/tasks?limit=banana", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects unknown sort fields", func(t *testing.T) {
		resp, _ := api.request(t, http.MethodGet, "/tasks?sort_by=nope", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetTaskByID(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)
	instanceID := api.startWorkflow(t)

	page, err := api.store.ListTasks(t.Context(), store.TaskFilter{InstanceID: instanceID})
	require.NoError(t, err)
	require.NotEmpty(t, page.Tasks)

	resp, body := api.request(t, http.MethodGet, "/tasks/"+page.Tasks[0].ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, page.Tasks[0].ID, body["id"])

	resp, _ = api.request(t, http.MethodGet, "/tasks/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelTaskEndpoint(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)
	instanceID := api.startWorkflow(t)

	page, err := api.store.ListTasks(t.Context(), store.TaskFilter{InstanceID: instanceID})
	require.NoError(t, err)
	require.Len(t, page.Tasks, 2)

	taskID := page.Tasks[0].ID

	resp, body := api.request(t, http.MethodPost, "/tasks/"+taskID+"/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])

	// A second cancel conflicts with the terminal state.
	resp, _ = api.request(t, http.MethodPost, "/tasks/"+taskID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetInstances(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)
	instanceID := api.startWorkflow(t)

	resp, body := api.request(t, http.MethodGet, "/instances", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total_count"])

	resp, body = api.request(t, http.MethodGet, "/instances/"+instanceID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, instanceID, body["id"])

	resp, _ = api.request(t, http.MethodGet, "/instances/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetWorkflows(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)

	resp, body := api.request(t, http.MethodGet, "/workflows", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total_count"])
}

func TestGetStats(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)
	api.startWorkflow(t)

	resp, body := api.request(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total_tasks"])

	byStatus, ok := body["by_status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), byStatus["pending"])
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	api := setupTestAPI(t)

	resp, body := api.request(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}
