// Package retry classifies failed tasks as retryable or permanently failed
// and applies the resulting state transitions.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tasklane/tasklane/pkg/capability"
	"github.com/tasklane/tasklane/pkg/models"
	"github.com/tasklane/tasklane/pkg/store"
)

// Policy controls the delay before a retried task becomes eligible again.
// The zero value re-queues immediately, matching the fast-recovery default;
// enabling Backoff spaces attempts exponentially to avoid tight failure loops
// against a flaky capability.
type Policy struct {
	Backoff   bool
	BaseDelay time.Duration // Defaults to 1s when Backoff is set
	MaxDelay  time.Duration // Defaults to 5m when Backoff is set
}

// Delay returns the re-queue delay for the given completed attempt count.
func (p Policy) Delay(attempt int) time.Duration {
	if !p.Backoff {
		return 0
	}

	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}

	delay := base
	for i := 0; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}

	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

// Manager owns the failure path of the task state machine.
type Manager struct {
	store  store.Store
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a retry manager over the given store.
func NewManager(s store.Store, policy Policy, logger *slog.Logger) *Manager {
	return &Manager{
		store:  s,
		policy: policy,
		logger: logger.With("module", "retry_manager"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OnFailure records the failed attempt and either re-queues the task as retry
// or marks it failed. Unregistered-capability errors are never retried since
// retrying cannot help. When a task with the abort policy fails terminally,
// every pending or retrying sibling is cancelled and the instance is marked
// failed.
func (m *Manager) OnFailure(ctx context.Context, task *models.Task, taskErr error) (*models.Task, error) {
	attempt := task.RetryCount + 1
	lastError := &models.TaskError{
		Message: taskErr.Error(),
		Attempt: attempt,
		At:      m.now(),
	}

	permanent := errors.Is(taskErr, capability.ErrNotRegistered)

	if !permanent && task.RetryCount < task.MaxRetries {
		retryStatus := models.TaskStatusRetry
		retryCount := task.RetryCount + 1
		notBefore := m.now().Add(m.policy.Delay(retryCount))

		updated, err := m.store.UpdateTask(ctx, task.ID, store.TaskUpdate{
			Status:     &retryStatus,
			RetryCount: &retryCount,
			LastError:  lastError,
			NotBefore:  &notBefore,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to re-queue task %s: %w", task.ID, err)
		}

		m.logger.InfoContext(ctx, "Task re-queued for retry",
			"task_id", task.ID,
			"attempt", retryCount,
			"max_retries", task.MaxRetries,
			"not_before", notBefore,
		)

		return updated, nil
	}

	failedStatus := models.TaskStatusFailed

	updated, err := m.store.UpdateTask(ctx, task.ID, store.TaskUpdate{
		Status:    &failedStatus,
		LastError: lastError,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark task %s failed: %w", task.ID, err)
	}

	m.logger.WarnContext(ctx, "Task failed terminally",
		"task_id", task.ID,
		"attempts", attempt,
		"error", taskErr.Error(),
		"permanent", permanent,
	)

	if task.AbortOnFailure {
		err = m.abortInstance(ctx, updated)
		if err != nil {
			return nil, err
		}
	}

	return updated, nil
}

// abortInstance cancels every still-schedulable sibling and records which
// step triggered the abort. The completion detector owns the instance status
// write; the recorded step is what makes it compute the failed outcome.
func (m *Manager) abortInstance(ctx context.Context, failed *models.Task) error {
	page, err := m.store.ListTasks(ctx, store.TaskFilter{
		InstanceID: failed.InstanceID,
		Statuses:   []models.TaskStatus{models.TaskStatusPending, models.TaskStatusRetry},
	})
	if err != nil {
		return fmt.Errorf("failed to list siblings of task %s: %w", failed.ID, err)
	}

	cancelledStatus := models.TaskStatusCancelled

	for _, sibling := range page.Tasks {
		_, err := m.store.UpdateTask(ctx, sibling.ID, store.TaskUpdate{Status: &cancelledStatus})
		if err != nil {
			return fmt.Errorf("failed to cancel sibling task %s: %w", sibling.ID, err)
		}

		m.logger.InfoContext(ctx, "Cancelled sibling task on abort",
			"task_id", sibling.ID,
			"instance_id", failed.InstanceID,
			"aborting_step", failed.StepID,
		)
	}

	_, err = m.store.UpdateInstance(ctx, failed.InstanceID, store.InstanceUpdate{
		FailedStepID: &failed.StepID,
	})
	if err != nil {
		return fmt.Errorf("failed to record aborting step on instance %s: %w", failed.InstanceID, err)
	}

	return nil
}
