// Package events defines the transition records published to the audit sink.
// Publishing is fire-and-forget: the orchestrator functions correctly even if
// no sink consumes them.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/tasklane/tasklane/pkg/models"
)

type EventType string

// Topic carries every task and instance transition event.
const Topic = "tasklane.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	TaskStartedEvent   EventType = "task.started"
	TaskCompletedEvent EventType = "task.completed"
	TaskRetriedEvent   EventType = "task.retried"
	TaskFailedEvent    EventType = "task.failed"
	TaskCancelledEvent EventType = "task.cancelled"

	InstanceStartedEvent  EventType = "instance.started"
	InstanceFinishedEvent EventType = "instance.finished"

	SLAViolationEvent EventType = "sla.violation"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
	InstanceID string    `json:"instance_id,omitempty"`
}

type TaskStarted struct {
	BaseEvent

	TaskID     string `json:"task_id"`
	StepID     string `json:"step_id"`
	Capability string `json:"capability"`
	Action     string `json:"action"`
	Attempt    int    `json:"attempt"`
}

func (e TaskStarted) GetType() EventType {
	return TaskStartedEvent
}

type TaskCompleted struct {
	BaseEvent

	TaskID     string        `json:"task_id"`
	StepID     string        `json:"step_id"`
	Capability string        `json:"capability"`
	Action     string        `json:"action"`
	Duration   time.Duration `json:"duration"`
}

func (e TaskCompleted) GetType() EventType {
	return TaskCompletedEvent
}

type TaskRetried struct {
	BaseEvent

	TaskID     string `json:"task_id"`
	StepID     string `json:"step_id"`
	Error      string `json:"error"`
	Attempt    int    `json:"attempt"`
	MaxRetries int    `json:"max_retries"`
}

func (e TaskRetried) GetType() EventType {
	return TaskRetriedEvent
}

type TaskFailed struct {
	BaseEvent

	TaskID   string `json:"task_id"`
	StepID   string `json:"step_id"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

func (e TaskFailed) GetType() EventType {
	return TaskFailedEvent
}

type TaskCancelled struct {
	BaseEvent

	TaskID string `json:"task_id"`
	StepID string `json:"step_id"`
}

func (e TaskCancelled) GetType() EventType {
	return TaskCancelledEvent
}

type InstanceStarted struct {
	BaseEvent

	TriggerName string `json:"trigger_name,omitempty"`
	TaskCount   int    `json:"task_count"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

type InstanceFinished struct {
	BaseEvent

	Status       models.InstanceStatus `json:"status"`
	FailedStepID string                `json:"failed_step_id,omitempty"`
	Duration     time.Duration         `json:"duration"`
}

func (e InstanceFinished) GetType() EventType {
	return InstanceFinishedEvent
}

type SLAViolation struct {
	BaseEvent

	TaskID    string        `json:"task_id"`
	StepID    string        `json:"step_id"`
	Severity  string        `json:"severity"`
	Elapsed   time.Duration `json:"elapsed"`
	Threshold time.Duration `json:"threshold"`
}

func (e SLAViolation) GetType() EventType {
	return SLAViolationEvent
}

func NewBaseEvent(eventType EventType, workflowID, instanceID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		InstanceID: instanceID,
	}
}
