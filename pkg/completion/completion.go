// Package completion detects workflow instances that have reached a terminal
// state and fires the instance-level outcome exactly once.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tasklane/tasklane/pkg/capability"
	"github.com/tasklane/tasklane/pkg/events"
	"github.com/tasklane/tasklane/pkg/eventbus"
	"github.com/tasklane/tasklane/pkg/models"
	"github.com/tasklane/tasklane/pkg/store"
	"github.com/tasklane/tasklane/pkg/workflow"
)

// Detector computes instance outcomes after task transitions. It is the only
// component that writes instance status, which keeps it idempotent: a second
// invocation after the instance is terminal is a no-op.
type Detector struct {
	store       store.Store
	definitions workflow.Repository
	registry    *capability.Registry
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

// NewDetector creates a completion detector. publisher may be nil when no
// audit sink is configured.
func NewDetector(
	s store.Store,
	definitions workflow.Repository,
	registry *capability.Registry,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Detector {
	return &Detector{
		store:       s,
		definitions: definitions,
		registry:    registry,
		publisher:   publisher,
		logger:      logger.With("module", "completion_detector"),
	}
}

// OnTaskTerminal checks whether the instance owning the task has finished.
// It returns the updated instance when the outcome was just fired, or nil
// when the instance is still running or was already terminal.
func (d *Detector) OnTaskTerminal(ctx context.Context, task *models.Task) (*models.WorkflowInstance, error) {
	instance, err := d.store.GetInstance(ctx, task.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance %s: %w", task.InstanceID, err)
	}

	if instance.Status.IsTerminal() {
		return nil, nil
	}

	page, err := d.store.ListTasks(ctx, store.TaskFilter{InstanceID: instance.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for instance %s: %w", instance.ID, err)
	}

	anyFailed := false

	for _, sibling := range page.Tasks {
		if !sibling.Status.IsTerminal() {
			return nil, nil
		}

		if sibling.Status == models.TaskStatusFailed {
			anyFailed = true
		}
	}

	outcome := models.InstanceStatusCompleted

	switch {
	case instance.FailedStepID != "":
		outcome = models.InstanceStatusFailed
	case anyFailed:
		outcome = models.InstanceStatusCompletedWithErrors
	}

	updated, err := d.store.UpdateInstance(ctx, instance.ID, store.InstanceUpdate{Status: &outcome})
	if err != nil {
		// A concurrent invocation won the race; the outcome already fired.
		if errors.Is(err, store.ErrInstanceTerminal) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to finish instance %s: %w", instance.ID, err)
	}

	d.logger.InfoContext(ctx, "Workflow instance finished",
		"instance_id", updated.ID,
		"workflow_id", updated.WorkflowID,
		"status", updated.Status,
		"failed_step_id", updated.FailedStepID,
	)

	d.publishFinished(ctx, updated)
	d.notify(ctx, updated)

	return updated, nil
}

func (d *Detector) publishFinished(ctx context.Context, instance *models.WorkflowInstance) {
	if d.publisher == nil {
		return
	}

	var duration time.Duration
	if instance.CompletedAt != nil {
		duration = instance.CompletedAt.Sub(instance.CreatedAt)
	}

	event := events.InstanceFinished{
		BaseEvent:    events.NewBaseEvent(events.InstanceFinishedEvent, instance.WorkflowID, instance.ID),
		Status:       instance.Status,
		FailedStepID: instance.FailedStepID,
		Duration:     duration,
	}

	err := d.publisher.Publish(ctx, instance.WorkflowID, event)
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to publish instance finished event",
			"instance_id", instance.ID, "error", err)
	}
}

// notify fires the definition's on_complete or on_failure target, if any.
// Notification failures are logged and swallowed.
func (d *Detector) notify(ctx context.Context, instance *models.WorkflowInstance) {
	if d.registry == nil || d.definitions == nil {
		return
	}

	definition, err := d.definitions.Definition(ctx, instance.WorkflowID)
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to load definition for notification",
			"workflow_id", instance.WorkflowID, "error", err)

		return
	}

	target := definition.OnComplete
	if instance.Status == models.InstanceStatusFailed {
		target = definition.OnFailure
	}

	if target == nil {
		return
	}

	handler, err := d.registry.Resolve(target.Capability, target.Action)
	if err != nil {
		d.logger.WarnContext(ctx, "Notification target not registered",
			"capability", target.Capability, "action", target.Action)

		return
	}

	input := make(map[string]any, len(target.Input)+3)
	for k, v := range target.Input {
		input[k] = v
	}

	input["instance_id"] = instance.ID
	input["workflow_id"] = instance.WorkflowID
	input["status"] = string(instance.Status)

	_, err = handler.Execute(ctx, input)
	if err != nil {
		d.logger.WarnContext(ctx, "Notification failed",
			"instance_id", instance.ID, "error", err)
	}
}
