// Package store provides the storage abstraction for tasks and workflow instances.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/tasklane/tasklane/pkg/models"
)

// Store is the authoritative record of tasks and workflow instances. All
// implementations must serialize single-record read-modify-write cycles; the
// shared transition rules live in ApplyTaskUpdate and ApplyInstanceUpdate so
// every backend enforces the same state machine.
type Store interface {
	CreateTask(ctx context.Context, task *models.Task) (*models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, update TaskUpdate) (*models.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) (*TaskPage, error)

	// DeleteTask removes a terminal task. Retention cleanup is the only caller.
	DeleteTask(ctx context.Context, id string) error

	CreateInstance(ctx context.Context, instance *models.WorkflowInstance) (*models.WorkflowInstance, error)
	GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error)
	UpdateInstance(ctx context.Context, id string, update InstanceUpdate) (*models.WorkflowInstance, error)
	ListInstances(ctx context.Context) ([]*models.WorkflowInstance, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// TaskUpdate is a partial mutation of a task record. Nil fields are left
// untouched; Output is applied only when SetOutput is true so a nil handler
// output can still be recorded.
type TaskUpdate struct {
	Status     *models.TaskStatus
	RetryCount *int
	Output     any
	SetOutput  bool
	LastError  *models.TaskError
	NotBefore  *time.Time
}

// InstanceUpdate is a partial mutation of a workflow instance record.
type InstanceUpdate struct {
	Status       *models.InstanceStatus
	FailedStepID *string
}

// TaskFilter narrows and pages a task listing. A zero Limit means no
// pagination; callers that need paging (the admin API) set their own default.
type TaskFilter struct {
	Statuses   []models.TaskStatus
	WorkflowID string
	InstanceID string
	Capability string
	Limit      int
	Offset     int
	SortBy     string
	SortOrder  string
}

// TaskPage is one page of a task listing.
type TaskPage struct {
	Tasks       []*models.Task
	TotalCount  int64
	HasNextPage bool
}

// ApplyTaskUpdate mutates task in place according to update, enforcing the
// task state machine and stamping timestamps. Callers pass a copy of the
// stored record and persist it only when no error is returned.
func ApplyTaskUpdate(task *models.Task, update TaskUpdate, now time.Time) error {
	if update.Status != nil {
		next := *update.Status
		if !task.Status.CanTransitionTo(next) {
			return &TaskStoreError{Op: "UpdateTask", ID: task.ID, Err: ErrInvalidTransition}
		}

		if next == models.TaskStatusInProgress && task.StartedAt == nil {
			startedAt := now
			task.StartedAt = &startedAt
		}

		if next == models.TaskStatusCompleted || next == models.TaskStatusFailed {
			completedAt := now
			task.CompletedAt = &completedAt
		}

		task.Status = next
	} else if task.Status.IsTerminal() {
		// Terminal tasks are immutable outside of retention cleanup.
		return &TaskStoreError{Op: "UpdateTask", ID: task.ID, Err: ErrInvalidTransition}
	}

	if update.RetryCount != nil {
		if *update.RetryCount > task.MaxRetries {
			return &TaskStoreError{Op: "UpdateTask", ID: task.ID, Err: ErrRetryBudgetExceeded}
		}

		task.RetryCount = *update.RetryCount
	}

	if update.SetOutput {
		task.Output = update.Output
	}

	if update.LastError != nil {
		task.LastError = update.LastError
	}

	if update.NotBefore != nil {
		task.NotBefore = *update.NotBefore
	}

	task.UpdatedAt = now

	return nil
}

// ApplyInstanceUpdate mutates instance in place. Instances may only leave the
// running status once; further status changes are rejected so the completion
// detector stays idempotent.
func ApplyInstanceUpdate(instance *models.WorkflowInstance, update InstanceUpdate, now time.Time) error {
	if update.Status != nil {
		if instance.Status.IsTerminal() {
			return &InstanceStoreError{Op: "UpdateInstance", ID: instance.ID, Err: ErrInstanceTerminal}
		}

		instance.Status = *update.Status
		if instance.Status.IsTerminal() {
			completedAt := now
			instance.CompletedAt = &completedAt
		}
	}

	if update.FailedStepID != nil {
		instance.FailedStepID = *update.FailedStepID
	}

	instance.UpdatedAt = now

	return nil
}

// MatchTask reports whether a task passes every non-empty filter criterion.
func MatchTask(task *models.Task, filter TaskFilter) bool {
	if len(filter.Statuses) > 0 {
		matched := false

		for _, status := range filter.Statuses {
			if task.Status == status {
				matched = true

				break
			}
		}

		if !matched {
			return false
		}
	}

	if filter.WorkflowID != "" && task.WorkflowID != filter.WorkflowID {
		return false
	}

	if filter.InstanceID != "" && task.InstanceID != filter.InstanceID {
		return false
	}

	if filter.Capability != "" && task.Capability != filter.Capability {
		return false
	}

	return true
}

var allowedTaskSorts = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"priority":   true,
}

// SortTasks orders tasks by the requested field, defaulting to created_at
// ascending. Ties fall back to task ID so listings are stable.
func SortTasks(tasks []*models.Task, sortBy, sortOrder string) error {
	if sortBy == "" {
		sortBy = "created_at"
	}

	if !allowedTaskSorts[sortBy] {
		return &TaskStoreError{Op: "ListTasks", Err: ErrInvalidSortField}
	}

	desc := sortOrder == "desc"

	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]

		var less, equal bool

		switch sortBy {
		case "priority":
			less, equal = a.Priority < b.Priority, a.Priority == b.Priority
		case "updated_at":
			less, equal = a.UpdatedAt.Before(b.UpdatedAt), a.UpdatedAt.Equal(b.UpdatedAt)
		default:
			less, equal = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		}

		if equal {
			return a.ID < b.ID
		}

		if desc {
			return !less
		}

		return less
	})

	return nil
}

// PageTasks applies offset/limit pagination to an already filtered, sorted
// slice. A zero limit returns everything after the offset.
func PageTasks(tasks []*models.Task, limit, offset int) *TaskPage {
	total := int64(len(tasks))

	if offset >= len(tasks) {
		return &TaskPage{Tasks: []*models.Task{}, TotalCount: total, HasNextPage: false}
	}

	end := len(tasks)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return &TaskPage{
		Tasks:       tasks[offset:end],
		TotalCount:  total,
		HasNextPage: end < len(tasks),
	}
}
