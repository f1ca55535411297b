// Package scheduler selects the next task eligible for dispatch. Selection is
// a pure read of the task store so it can run at high frequency and be driven
// by either a tick loop or a worker pool without changing the state machine.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tasklane/tasklane/pkg/models"
	"github.com/tasklane/tasklane/pkg/store"
)

// SelectNextEligibleTask returns the single most eligible task, or nil when
// nothing can run. A task is eligible when its status is pending or retry,
// its not-before timestamp has passed, and every step it depends on has a
// completed sibling task in the same workflow instance.
//
// Eligible tasks are ordered by: numeric priority ascending, retry status
// before pending at equal priority, older created_at first, then task ID.
// The order is total, so repeated calls against unchanged state return the
// same task.
func SelectNextEligibleTask(ctx context.Context, s store.Store, now time.Time) (*models.Task, error) {
	page, err := s.ListTasks(ctx, store.TaskFilter{
		Statuses: []models.TaskStatus{models.TaskStatusPending, models.TaskStatusRetry},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedulable tasks: %w", err)
	}

	siblingStatuses := make(map[string]map[string]models.TaskStatus)

	eligible := make([]*models.Task, 0, len(page.Tasks))

	for _, task := range page.Tasks {
		if task.NotBefore.After(now) {
			continue
		}

		if len(task.DependsOn) > 0 {
			statuses, err := instanceStepStatuses(ctx, s, task.InstanceID, siblingStatuses)
			if err != nil {
				return nil, err
			}

			if !dependenciesSatisfied(task, statuses) {
				continue
			}
		}

		eligible = append(eligible, task)
	}

	if len(eligible) == 0 {
		return nil, nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		return less(eligible[i], eligible[j])
	})

	return eligible[0], nil
}

// less implements the scheduling total order.
func less(a, b *models.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}

	if a.Status != b.Status {
		// Recovering work gets a slight edge over fresh work.
		return a.Status == models.TaskStatusRetry
	}

	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}

	return a.ID < b.ID
}

func instanceStepStatuses(
	ctx context.Context,
	s store.Store,
	instanceID string,
	cache map[string]map[string]models.TaskStatus,
) (map[string]models.TaskStatus, error) {
	if statuses, ok := cache[instanceID]; ok {
		return statuses, nil
	}

	page, err := s.ListTasks(ctx, store.TaskFilter{InstanceID: instanceID})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for instance %s: %w", instanceID, err)
	}

	statuses := make(map[string]models.TaskStatus, len(page.Tasks))
	for _, task := range page.Tasks {
		statuses[task.StepID] = task.Status
	}

	cache[instanceID] = statuses

	return statuses, nil
}

func dependenciesSatisfied(task *models.Task, statuses map[string]models.TaskStatus) bool {
	for _, stepID := range task.DependsOn {
		if statuses[stepID] != models.TaskStatusCompleted {
			return false
		}
	}

	return true
}
