// Package store provides standardized error types for task and instance storage.
package store

import (
	"errors"
	"fmt"
)

// Standard storage error types that all implementations should use.
var (
	// ErrTaskNotFound indicates a task was not found by the given identifier.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInstanceNotFound indicates a workflow instance was not found.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrInvalidTransition indicates a task status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrRetryBudgetExceeded indicates an attempt to raise retry_count past max_retries.
	ErrRetryBudgetExceeded = errors.New("retry count exceeds max retries")

	// ErrInstanceTerminal indicates a status change on an already terminal instance.
	ErrInstanceTerminal = errors.New("workflow instance already terminal")

	// ErrTaskNotTerminal indicates a delete of a task that is still live.
	ErrTaskNotTerminal = errors.New("task is not terminal")

	// ErrInvalidSortField indicates a sort field outside the allowlist.
	ErrInvalidSortField = errors.New("invalid sort field")
)

// TaskStoreError wraps task storage errors with operation context.
type TaskStoreError struct {
	Op  string // Operation being performed (e.g., "GetTask", "UpdateTask")
	ID  string // Task ID if applicable
	Err error  // Underlying error
}

func (e *TaskStoreError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s failed for task %s: %v", e.Op, e.ID, e.Err)
}

func (e *TaskStoreError) Unwrap() error {
	return e.Err
}

// InstanceStoreError wraps instance storage errors with operation context.
type InstanceStoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *InstanceStoreError) Error() string {
	return fmt.Sprintf("%s failed for instance %s: %v", e.Op, e.ID, e.Err)
}

func (e *InstanceStoreError) Unwrap() error {
	return e.Err
}

// IsTaskNotFound reports whether err represents a missing task.
func IsTaskNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}

// IsInstanceNotFound reports whether err represents a missing instance.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsInvalidTransition reports whether err represents a forbidden status change.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
