// Package sla scans in-flight work for duration breaches. The monitor only
// reports; escalation happens on the returned violations. The companion stuck
// detector is the recovery path for tasks whose handler call never returned.
package sla

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tasklane/tasklane/pkg/completion"
	"github.com/tasklane/tasklane/pkg/models"
	"github.com/tasklane/tasklane/pkg/retry"
	"github.com/tasklane/tasklane/pkg/store"
	"github.com/tasklane/tasklane/pkg/workflow"
)

// Severity classifies a violation.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Violation is one task over an SLA threshold.
type Violation struct {
	TaskID     string        `json:"task_id"`
	StepID     string        `json:"step_id"`
	InstanceID string        `json:"instance_id"`
	WorkflowID string        `json:"workflow_id"`
	Severity   Severity      `json:"severity"`
	Elapsed    time.Duration `json:"elapsed"`
	Threshold  time.Duration `json:"threshold"`
}

// Monitor checks in-progress tasks against their workflow's SLA thresholds
// and against their own timeout budget.
type Monitor struct {
	store       store.Store
	definitions workflow.Repository
	retry       *retry.Manager
	completion  *completion.Detector
	logger      *slog.Logger
}

// NewMonitor creates an SLA monitor. The detector closes out instances whose
// last live task is recovered into a terminal state.
func NewMonitor(
	s store.Store,
	definitions workflow.Repository,
	retryManager *retry.Manager,
	detector *completion.Detector,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		store:       s,
		definitions: definitions,
		retry:       retryManager,
		completion:  detector,
		logger:      logger.With("module", "sla_monitor"),
	}
}

// Scan reports every in-progress task over its workflow's alert or critical
// threshold. It is a pure function of current time and task state: nothing is
// mutated and repeated calls report the same violations.
func (m *Monitor) Scan(ctx context.Context, now time.Time) ([]Violation, error) {
	page, err := m.store.ListTasks(ctx, store.TaskFilter{
		Statuses: []models.TaskStatus{models.TaskStatusInProgress},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list in-progress tasks: %w", err)
	}

	violations := make([]Violation, 0)
	slas := make(map[string]*models.SLA)

	for _, task := range page.Tasks {
		if task.StartedAt == nil {
			continue
		}

		sla, err := m.workflowSLA(ctx, task.WorkflowID, slas)
		if err != nil {
			return nil, err
		}

		if sla == nil {
			continue
		}

		elapsed := now.Sub(*task.StartedAt)
		critical := time.Duration(sla.MaxDurationMinutes) * time.Minute
		warning := time.Duration(sla.AlertAfterMinutes) * time.Minute

		switch {
		case critical > 0 && elapsed >= critical:
			violations = append(violations, violation(task, SeverityCritical, elapsed, critical))
		case warning > 0 && elapsed >= warning:
			violations = append(violations, violation(task, SeverityWarning, elapsed, warning))
		}
	}

	return violations, nil
}

// DetectStuck forces every in-progress task past its own timeout budget
// through the retry manager's failure path with a synthetic timeout error.
// This recovers tasks whose executor call was lost. The returned tasks are
// the post-transition records.
func (m *Monitor) DetectStuck(ctx context.Context, now time.Time) ([]*models.Task, error) {
	page, err := m.store.ListTasks(ctx, store.TaskFilter{
		Statuses: []models.TaskStatus{models.TaskStatusInProgress},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list in-progress tasks: %w", err)
	}

	recovered := make([]*models.Task, 0)

	for _, task := range page.Tasks {
		if task.StartedAt == nil || task.Timeout <= 0 {
			continue
		}

		elapsed := now.Sub(*task.StartedAt)
		if elapsed < task.Timeout {
			continue
		}

		m.logger.WarnContext(ctx, "Recovering stuck task",
			"task_id", task.ID,
			"step_id", task.StepID,
			"elapsed", elapsed,
			"timeout", task.Timeout,
		)

		updated, err := m.retry.OnFailure(ctx, task,
			fmt.Errorf("task exceeded timeout of %s (stuck for %s)", task.Timeout, elapsed))
		if err != nil {
			return nil, fmt.Errorf("failed to recover stuck task %s: %w", task.ID, err)
		}

		// Recovery may exhaust the retry budget; the owning instance must
		// finish when its last live task goes terminal here.
		if updated.Status.IsTerminal() && m.completion != nil {
			_, err := m.completion.OnTaskTerminal(ctx, updated)
			if err != nil {
				return nil, fmt.Errorf("failed to finish instance for stuck task %s: %w", task.ID, err)
			}
		}

		recovered = append(recovered, updated)
	}

	return recovered, nil
}

func (m *Monitor) workflowSLA(ctx context.Context, workflowID string, cache map[string]*models.SLA) (*models.SLA, error) {
	if sla, ok := cache[workflowID]; ok {
		return sla, nil
	}

	definition, err := m.definitions.Definition(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %s: %w", workflowID, err)
	}

	cache[workflowID] = definition.SLA

	return definition.SLA, nil
}

func violation(task *models.Task, severity Severity, elapsed, threshold time.Duration) Violation {
	return Violation{
		TaskID:     task.ID,
		StepID:     task.StepID,
		InstanceID: task.InstanceID,
		WorkflowID: task.WorkflowID,
		Severity:   severity,
		Elapsed:    elapsed,
		Threshold:  threshold,
	}
}
