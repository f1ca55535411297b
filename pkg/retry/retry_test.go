package retry_test

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasklane/tasklane/pkg/capability"
	"github.com/tasklane/tasklane/pkg/models"
	"github.com/tasklane/tasklane/pkg/retry"
	"github.com/tasklane/tasklane/pkg/store"
	"github.com/tasklane/tasklane/pkg/store/memory"
)

var errBoom = errors.New("boom")

func seedInProgressTask(t *testing.T, s *memory.Store, task *models.Task) *models.Task {
	t.Helper()

	created, err := s.CreateTask(t.Context(), task)
	require.NoError(t, err)

	inProgress := models.TaskStatusInProgress

	claimed, err := s.UpdateTask(t.Context(), created.ID, store.TaskUpdate{Status: &inProgress})
	require.NoError(t, err)

	return claimed
}

func TestPolicyDelay(t *testing.T) {
	t.Parallel()

	t.Run("zero value re-queues immediately", func(t *testing.T) {
		t.Parallel()

		policy := retry.Policy{}

		assert.Equal(t, time.Duration(0), policy.Delay(1))
		assert.Equal(t, time.Duration(0), policy.Delay(10))
	})

	t.Run("backoff doubles and caps", func(t *testing.T) {
		t.Parallel()

		policy := retry.Policy{Backoff: true, BaseDelay: time.Second, MaxDelay: 4 * time.Second}

		assert.Equal(t, 2*time.Second, policy.Delay(1))
		assert.Equal(t, 4*time.Second, policy.Delay(2))
		assert.Equal(t, 4*time.Second, policy.Delay(9))
	})
}

func TestOnFailureRequeuesWithinBudget(t *testing.T) {
	t.Parallel()

	s := memory.NewStore()
	manager := retry.NewManager(s, retry.Policy{}, slog.Default())

	task := seedInProgressTask(t, s, &models.Task{
		WorkflowID: "wf-1", InstanceID: "inst-1", StepID: "a",
		Capability: "core", Action: "log", MaxRetries: 2,
	})

	updated, err := manager.OnFailure(t.Context(), task, errBoom)
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusRetry, updated.Status)
	assert.Equal(t, 1, updated.RetryCount)
	require.NotNil(t, updated.LastError)
	assert.Equal(t, "boom", updated.LastError.Message)
	assert.Equal(t, 1, updated.LastError.Attempt)
}

func TestOnFailureExhaustsBudget(t *testing.T) {
	t.Parallel()

	s := memory.NewStore()
	manager := retry.NewManager(s, retry.Policy{}, slog.Default())

	task := seedInProgressTask(t, s, &models.Task{
		WorkflowID: "wf-1", InstanceID: "inst-1", StepID: "a",
		Capability: "core", Action: "log", MaxRetries: 2,
	})

	// Fail through every attempt: two retries, then terminal failure.
	for attempt := 1; attempt <= 2; attempt++ {
		updated, err := manager.OnFailure(t.Context(), task, fmt.Errorf("attempt %d: %w", attempt, errBoom))
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusRetry, updated.Status)
		assert.Equal(t, attempt, updated.RetryCount)

		inProgress := models.TaskStatusInProgress

		task, err = s.UpdateTask(t.Context(), task.ID, store.TaskUpdate{Status: &inProgress})
		require.NoError(t, err)
	}

	updated, err := manager.OnFailure(t.Context(), task, errBoom)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, updated.Status)
	assert.Equal(t, 2, updated.RetryCount)
	assert.NotNil(t, updated.CompletedAt)
}

func TestOnFailureUnregisteredCapabilityIsPermanent(t *testing.T) {
	t.Parallel()

	s := memory.NewStore()
	manager := retry.NewManager(s, retry.Policy{}, slog.Default())

	task := seedInProgressTask(t, s, &models.Task{
		WorkflowID: "wf-1", InstanceID: "inst-1", StepID: "a",
		Capability: "ghost", Action: "nothing", MaxRetries: 5,
	})

	wrapped := fmt.Errorf("dispatch: %w", capability.ErrNotRegistered)

	updated, err := manager.OnFailure(t.Context(), task, wrapped)
	require.NoError(t, err)

	// Budget untouched: retrying an unroutable task cannot help.
	assert.Equal(t, models.TaskStatusFailed, updated.Status)
	assert.Equal(t, 0, updated.RetryCount)
}

func TestOnFailureBackoffSetsNotBefore(t *testing.T) {
	t.Parallel()

	s := memory.NewStore()
	manager := retry.NewManager(s, retry.Policy{Backoff: true, BaseDelay: time.Second}, slog.Default())

	task := seedInProgressTask(t, s, &models.Task{
		WorkflowID: "wf-1", InstanceID: "inst-1", StepID: "a",
		Capability: "core", Action: "log", MaxRetries: 3,
	})

	before := time.Now().UTC()

	updated, err := manager.OnFailure(t.Context(), task, errBoom)
	require.NoError(t, err)
	assert.True(t, updated.NotBefore.After(before),
		"retry with backoff should not be immediately eligible")
}

func TestOnFailureAbortCancelsSiblings(t *testing.T) {
	t.Parallel()

	s := memory.NewStore()
	manager := retry.NewManager(s, retry.Policy{}, slog.Default())

	instance, err := s.CreateInstance(t.Context(), &models.WorkflowInstance{WorkflowID: "wf-1"})
	require.NoError(t, err)

	critical := seedInProgressTask(t, s, &models.Task{
		WorkflowID: "wf-1", InstanceID: instance.ID, StepID: "critical",
		Capability: "core", Action: "log", MaxRetries: 0, AbortOnFailure: true,
	})

	pending, err := s.CreateTask(t.Context(), &models.Task{
		WorkflowID: "wf-1", InstanceID: instance.ID, StepID: "later",
		Capability: "core", Action: "log",
	})
	require.NoError(t, err)

	updated, err := manager.OnFailure(t.Context(), critical, errBoom)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, updated.Status)

	sibling, err := s.GetTask(t.Context(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, sibling.Status)

	// The aborting step is recorded; the completion detector owns the
	// instance status itself.
	aborted, err := s.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "critical", aborted.FailedStepID)
	assert.Equal(t, models.InstanceStatusRunning, aborted.Status)
}

func TestOnFailureContinuePolicyLeavesSiblings(t *testing.T) {
	t.Parallel()

	s := memory.NewStore()
	manager := retry.NewManager(s, retry.Policy{}, slog.Default())

	instance, err := s.CreateInstance(t.Context(), &models.WorkflowInstance{WorkflowID: "wf-1"})
	require.NoError(t, err)

	failing := seedInProgressTask(t, s, &models.Task{
		WorkflowID: "wf-1", InstanceID: instance.ID, StepID: "optional",
		Capability: "core", Action: "log", MaxRetries: 0,
	})

	pending, err := s.CreateTask(t.Context(), &models.Task{
		WorkflowID: "wf-1", InstanceID: instance.ID, StepID: "later",
		Capability: "core", Action: "log",
	})
	require.NoError(t, err)

	_, err = manager.OnFailure(t.Context(), failing, errBoom)
	require.NoError(t, err)

	sibling, err := s.GetTask(t.Context(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, sibling.Status)
}
