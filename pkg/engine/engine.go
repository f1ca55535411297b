// Package engine wires the scheduler, executor, retry manager and completion
// detector into the periodic driver that moves tasks through their lifecycle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tasklane/tasklane/pkg/capability"
	"github.com/tasklane/tasklane/pkg/completion"
	"github.com/tasklane/tasklane/pkg/events"
	"github.com/tasklane/tasklane/pkg/eventbus"
	"github.com/tasklane/tasklane/pkg/executor"
	"github.com/tasklane/tasklane/pkg/models"
	"github.com/tasklane/tasklane/pkg/retry"
	"github.com/tasklane/tasklane/pkg/scheduler"
	"github.com/tasklane/tasklane/pkg/store"
	"github.com/tasklane/tasklane/pkg/template"
	"github.com/tasklane/tasklane/pkg/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config assembles the engine's collaborators. Publisher and Tracer are
// optional; everything else is required. Workers bounds how many handler
// calls Run keeps in flight at once (default 1).
type Config struct {
	Store       store.Store
	Definitions workflow.Repository
	Registry    *capability.Registry
	Publisher   eventbus.EventPublisher
	Logger      *slog.Logger
	RetryPolicy retry.Policy
	Tracer      trace.Tracer
	Workers     int
}

// Engine owns the single-writer driver loop. Selection and every store
// mutation happen inside one mutex-guarded critical section; only the
// capability handler call runs outside it, so slow handlers never block
// bookkeeping and no task is ever selected by two driver passes.
type Engine struct {
	store       store.Store
	definitions workflow.Repository
	registry    *capability.Registry
	executor    *executor.Executor
	retry       *retry.Manager
	completion  *completion.Detector
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	workers     int

	mu  sync.Mutex
	now func() time.Time
}

// NewEngine creates a fully wired engine.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger.With("module", "engine")

	retryManager := retry.NewManager(cfg.Store, cfg.RetryPolicy, cfg.Logger)

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Engine{
		store:       cfg.Store,
		definitions: cfg.Definitions,
		registry:    cfg.Registry,
		executor:    executor.NewExecutor(cfg.Registry, cfg.Logger),
		retry:       retryManager,
		completion:  completion.NewDetector(cfg.Store, cfg.Definitions, cfg.Registry, cfg.Publisher, cfg.Logger),
		publisher:   cfg.Publisher,
		logger:      logger,
		tracer:      cfg.Tracer,
		workers:     workers,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Retry exposes the retry manager for collaborators like the stuck-task
// detector that share its failure path.
func (e *Engine) Retry() *retry.Manager {
	return e.retry
}

// Completion exposes the completion detector so external recovery paths can
// finish an instance whose last task they transitioned.
func (e *Engine) Completion() *completion.Detector {
	return e.completion
}

// StartWorkflow instantiates the definition: one workflow instance plus one
// task per step, each seeded with its resolved priority, timeout, retry
// budget, dependency list and failure policy. It returns the instance ID.
func (e *Engine) StartWorkflow(ctx context.Context, definitionID string, triggerData map[string]any) (string, error) {
	definition, err := e.definitions.Definition(ctx, definitionID)
	if err != nil {
		return "", fmt.Errorf("failed to load definition %s: %w", definitionID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	instance, err := e.store.CreateInstance(ctx, &models.WorkflowInstance{
		WorkflowID:  definition.ID,
		TriggerData: triggerData,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create instance for %s: %w", definitionID, err)
	}

	for _, step := range definition.Steps {
		_, err := e.store.CreateTask(ctx, &models.Task{
			WorkflowID:     definition.ID,
			InstanceID:     instance.ID,
			StepID:         step.ID,
			Capability:     step.Capability,
			Action:         step.Action,
			Input:          step.Input,
			Priority:       step.EffectivePriority(),
			Delay:          time.Duration(step.DelaySeconds) * time.Second,
			DependsOn:      step.DependsOn,
			MaxRetries:     step.EffectiveMaxRetries(),
			Timeout:        step.EffectiveTimeout(),
			AbortOnFailure: step.OnFailure == models.FailurePolicyAbort,
		})
		if err != nil {
			e.abortPartialStart(ctx, instance.ID, step.ID)

			return "", fmt.Errorf("failed to create task for step %s: %w", step.ID, err)
		}
	}

	e.logger.InfoContext(ctx, "Started workflow instance",
		"workflow_id", definition.ID,
		"instance_id", instance.ID,
		"task_count", len(definition.Steps),
	)

	e.publish(ctx, instance.WorkflowID, events.InstanceStarted{
		BaseEvent: events.NewBaseEvent(events.InstanceStartedEvent, instance.WorkflowID, instance.ID),
		TaskCount: len(definition.Steps),
	})

	return instance.ID, nil
}

// abortPartialStart unwinds a workflow start that failed mid-way: the tasks
// created so far are cancelled and the instance is marked failed, so no
// orphan task from the partial set can ever be selected. Runs under the
// engine mutex held by StartWorkflow.
func (e *Engine) abortPartialStart(ctx context.Context, instanceID, failedStepID string) {
	page, err := e.store.ListTasks(ctx, store.TaskFilter{InstanceID: instanceID})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to list tasks of aborted start",
			"instance_id", instanceID, "error", err)
	} else {
		cancelled := models.TaskStatusCancelled

		for _, task := range page.Tasks {
			_, err := e.store.UpdateTask(ctx, task.ID, store.TaskUpdate{Status: &cancelled})
			if err != nil {
				e.logger.ErrorContext(ctx, "Failed to cancel task of aborted start",
					"task_id", task.ID, "error", err)
			}
		}
	}

	failed := models.InstanceStatusFailed

	_, err = e.store.UpdateInstance(ctx, instanceID, store.InstanceUpdate{
		Status:       &failed,
		FailedStepID: &failedStepID,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to fail aborted instance",
			"instance_id", instanceID, "error", err)
	}
}

// Tick runs one driver pass: select the most eligible task, dispatch it, and
// apply the result. It reports whether a task was dispatched.
func (e *Engine) Tick(ctx context.Context) (bool, error) {
	task, resolvedInput, err := e.claimNext(ctx)
	if err != nil || task == nil {
		return false, err
	}

	ctx, span := e.startSpan(ctx, task)

	output, execErr := e.executor.Execute(ctx, task.Capability, task.Action, resolvedInput, task.Timeout)

	if span != nil {
		if execErr != nil {
			span.RecordError(execErr)
		}

		span.End()
	}

	err = e.applyResult(ctx, task, output, execErr)
	if err != nil {
		return true, err
	}

	return true, nil
}

// Run drives Tick on the given interval until ctx is cancelled, keeping at
// most Workers handler calls in flight. Concurrent passes are safe: claiming
// moves the task to in_progress inside the critical section, so no task is
// ever picked up twice. Run drains in-flight handlers before returning.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slots := make(chan struct{}, e.workers)

	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()

			return ctx.Err()
		case <-ticker.C:
			select {
			case slots <- struct{}{}:
			default:
				// All workers busy; skip this pass.
				continue
			}

			wg.Add(1)

			go func() {
				defer wg.Done()
				defer func() { <-slots }()

				_, err := e.Tick(ctx)
				if err != nil {
					e.logger.ErrorContext(ctx, "Driver pass failed", "error", err)
				}
			}()
		}
	}
}

// claimNext selects the next eligible task and moves it to in_progress inside
// the critical section, then resolves its input template.
func (e *Engine) claimNext(ctx context.Context) (*models.Task, map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := scheduler.SelectNextEligibleTask(ctx, e.store, e.now())
	if err != nil || task == nil {
		return nil, nil, err
	}

	inProgress := models.TaskStatusInProgress

	task, err = e.store.UpdateTask(ctx, task.ID, store.TaskUpdate{Status: &inProgress})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to claim task: %w", err)
	}

	e.logger.InfoContext(ctx, "Dispatching task",
		"task_id", task.ID,
		"step_id", task.StepID,
		"capability", task.Capability,
		"action", task.Action,
		"attempt", task.RetryCount+1,
	)

	e.publish(ctx, task.WorkflowID, events.TaskStarted{
		BaseEvent:  events.NewBaseEvent(events.TaskStartedEvent, task.WorkflowID, task.InstanceID),
		TaskID:     task.ID,
		StepID:     task.StepID,
		Capability: task.Capability,
		Action:     task.Action,
		Attempt:    task.RetryCount + 1,
	})

	resolvedInput, err := e.resolveInput(ctx, task)
	if err != nil {
		return nil, nil, err
	}

	return task, resolvedInput, nil
}

// resolveInput builds the template context from the instance trigger payload
// and completed sibling outputs.
func (e *Engine) resolveInput(ctx context.Context, task *models.Task) (map[string]any, error) {
	instance, err := e.store.GetInstance(ctx, task.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance %s: %w", task.InstanceID, err)
	}

	page, err := e.store.ListTasks(ctx, store.TaskFilter{
		InstanceID: task.InstanceID,
		Statuses:   []models.TaskStatus{models.TaskStatusCompleted},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list completed siblings: %w", err)
	}

	siblingOutputs := make(map[string]any, len(page.Tasks))
	for _, sibling := range page.Tasks {
		siblingOutputs[sibling.StepID] = sibling.Output
	}

	return template.ResolveForTask(task.Input, instance.TriggerData, siblingOutputs), nil
}

// applyResult routes the executor outcome through the completion detector on
// success or the retry manager on failure.
func (e *Engine) applyResult(ctx context.Context, task *models.Task, output any, execErr error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if execErr == nil {
		completed := models.TaskStatusCompleted

		updated, err := e.store.UpdateTask(ctx, task.ID, store.TaskUpdate{
			Status:    &completed,
			Output:    output,
			SetOutput: true,
		})
		if err != nil {
			// The stuck-task detector may have already failed this task;
			// the late result is discarded per the timeout contract.
			if store.IsInvalidTransition(err) {
				e.logger.WarnContext(ctx, "Discarding late result for task", "task_id", task.ID)

				return nil
			}

			return fmt.Errorf("failed to complete task %s: %w", task.ID, err)
		}

		e.publish(ctx, updated.WorkflowID, events.TaskCompleted{
			BaseEvent:  events.NewBaseEvent(events.TaskCompletedEvent, updated.WorkflowID, updated.InstanceID),
			TaskID:     updated.ID,
			StepID:     updated.StepID,
			Capability: updated.Capability,
			Action:     updated.Action,
			Duration:   taskDuration(updated),
		})

		_, err = e.completion.OnTaskTerminal(ctx, updated)

		return err
	}

	updated, err := e.retry.OnFailure(ctx, task, execErr)
	if err != nil {
		if store.IsInvalidTransition(err) {
			e.logger.WarnContext(ctx, "Discarding late failure for task", "task_id", task.ID)

			return nil
		}

		return err
	}

	if updated.Status == models.TaskStatusRetry {
		e.publish(ctx, updated.WorkflowID, events.TaskRetried{
			BaseEvent:  events.NewBaseEvent(events.TaskRetriedEvent, updated.WorkflowID, updated.InstanceID),
			TaskID:     updated.ID,
			StepID:     updated.StepID,
			Error:      execErr.Error(),
			Attempt:    updated.RetryCount,
			MaxRetries: updated.MaxRetries,
		})

		return nil
	}

	e.publish(ctx, updated.WorkflowID, events.TaskFailed{
		BaseEvent: events.NewBaseEvent(events.TaskFailedEvent, updated.WorkflowID, updated.InstanceID),
		TaskID:    updated.ID,
		StepID:    updated.StepID,
		Error:     execErr.Error(),
		Attempts:  updated.RetryCount + 1,
	})

	_, err = e.completion.OnTaskTerminal(ctx, updated)

	return err
}

// CancelTask forces a pending or retrying task to cancelled. In-flight
// handler calls are not interrupted; cancellation is bookkeeping only.
func (e *Engine) CancelTask(ctx context.Context, taskID string) (*models.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cancelled := models.TaskStatusCancelled

	updated, err := e.store.UpdateTask(ctx, taskID, store.TaskUpdate{Status: &cancelled})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, updated.WorkflowID, events.TaskCancelled{
		BaseEvent: events.NewBaseEvent(events.TaskCancelledEvent, updated.WorkflowID, updated.InstanceID),
		TaskID:    updated.ID,
		StepID:    updated.StepID,
	})

	_, err = e.completion.OnTaskTerminal(ctx, updated)
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// CleanupTasks removes terminal tasks whose last transition is older than the
// retention age. It returns the number of removed tasks.
func (e *Engine) CleanupTasks(ctx context.Context, retention time.Duration) (int, error) {
	page, err := e.store.ListTasks(ctx, store.TaskFilter{
		Statuses: []models.TaskStatus{
			models.TaskStatusCompleted,
			models.TaskStatusFailed,
			models.TaskStatusCancelled,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list terminal tasks: %w", err)
	}

	cutoff := e.now().Add(-retention)
	removed := 0

	for _, task := range page.Tasks {
		reference := task.UpdatedAt
		if task.CompletedAt != nil {
			reference = *task.CompletedAt
		}

		if reference.After(cutoff) {
			continue
		}

		err := e.store.DeleteTask(ctx, task.ID)
		if err != nil {
			return removed, fmt.Errorf("failed to delete task %s: %w", task.ID, err)
		}

		removed++
	}

	if removed > 0 {
		e.logger.InfoContext(ctx, "Retention cleanup removed tasks", "count", removed)
	}

	return removed, nil
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) startSpan(ctx context.Context, task *models.Task) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, nil
	}

	return e.tracer.Start(ctx, "engine.dispatch", trace.WithAttributes(
		attribute.String("tasklane.task.id", task.ID),
		attribute.String("tasklane.step.id", task.StepID),
		attribute.String("tasklane.workflow.id", task.WorkflowID),
		attribute.String("tasklane.instance.id", task.InstanceID),
		attribute.String("tasklane.capability", task.Capability),
		attribute.String("tasklane.action", task.Action),
	))
}

func taskDuration(task *models.Task) time.Duration {
	if task.StartedAt == nil || task.CompletedAt == nil {
		return 0
	}

	return task.CompletedAt.Sub(*task.StartedAt)
}
