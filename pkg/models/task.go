// Package models defines the core domain models for workflow and task orchestration.
package models

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"     // Waiting to be scheduled
	TaskStatusInProgress TaskStatus = "in_progress" // Dispatched to a capability handler
	TaskStatusCompleted  TaskStatus = "completed"   // Handler returned successfully
	TaskStatusRetry      TaskStatus = "retry"       // Failed, eligible for re-selection
	TaskStatusFailed     TaskStatus = "failed"      // Retry budget exhausted or permanent error
	TaskStatusCancelled  TaskStatus = "cancelled"   // Forced terminal, never retried
)

// IsTerminal reports whether a task in this status can never transition again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusInProgress || next == TaskStatusCancelled
	case TaskStatusInProgress:
		return next == TaskStatusCompleted || next == TaskStatusRetry || next == TaskStatusFailed
	case TaskStatusRetry:
		return next == TaskStatusPending || next == TaskStatusInProgress ||
			next == TaskStatusFailed || next == TaskStatusCancelled
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return false
	}

	return false
}

// TaskError records a single failed attempt.
type TaskError struct {
	Message string    `json:"message"`
	Attempt int       `json:"attempt"`
	At      time.Time `json:"at"`
}

// Task is one unit of work bound to a single workflow step.
type Task struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id" validate:"required"`
	InstanceID string `json:"instance_id" validate:"required"`
	StepID     string `json:"step_id"     validate:"required"`

	Capability string         `json:"capability" validate:"required"`
	Action     string         `json:"action"     validate:"required"`
	Input      map[string]any `json:"input,omitempty"`

	Priority  int           `json:"priority"` // Lower is more urgent
	Delay     time.Duration `json:"delay,omitempty"`
	NotBefore time.Time     `json:"not_before"`
	DependsOn []string      `json:"depends_on,omitempty"` // Step IDs within the same instance

	Status     TaskStatus    `json:"status"`
	RetryCount int           `json:"retry_count"`
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout"`
	Output     any           `json:"output,omitempty"`
	LastError  *TaskError    `json:"last_error,omitempty"`

	// AbortOnFailure is seeded from the step's on_failure policy: terminal
	// failure of this task cancels pending siblings and fails the instance.
	AbortOnFailure bool `json:"abort_on_failure,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EligibleAt returns the earliest moment the task may be selected.
func (t *Task) EligibleAt() time.Time {
	return t.NotBefore
}
