package models

import "time"

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusRunning             InstanceStatus = "running"
	InstanceStatusCompleted           InstanceStatus = "completed"
	InstanceStatusCompletedWithErrors InstanceStatus = "completed_with_errors"
	InstanceStatusFailed              InstanceStatus = "failed"
)

// IsTerminal reports whether the instance has finished, one way or another.
func (s InstanceStatus) IsTerminal() bool {
	return s != InstanceStatusRunning
}

// WorkflowInstance is one execution of a workflow definition. It owns exactly
// one task per definition step and becomes terminal only when every owned
// task is terminal.
type WorkflowInstance struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id" validate:"required"`
	TriggerName string         `json:"trigger_name,omitempty"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`

	Status InstanceStatus `json:"status"`

	// FailedStepID names the abort-on-failure step when Status is failed.
	FailedStepID string `json:"failed_step_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
