package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tasklane/tasklane/pkg/models"
)

func TestTaskStatusIsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, models.TaskStatusPending.IsTerminal())
	assert.False(t, models.TaskStatusInProgress.IsTerminal())
	assert.False(t, models.TaskStatusRetry.IsTerminal())
	assert.True(t, models.TaskStatusCompleted.IsTerminal())
	assert.True(t, models.TaskStatusFailed.IsTerminal())
	assert.True(t, models.TaskStatusCancelled.IsTerminal())
}

func TestTaskStatusCanTransitionTo(t *testing.T) {
	t.Parallel()

	t.Run("pending moves to in_progress or cancelled only", func(t *testing.T) {
		t.Parallel()

		assert.True(t, models.TaskStatusPending.CanTransitionTo(models.TaskStatusInProgress))
		assert.True(t, models.TaskStatusPending.CanTransitionTo(models.TaskStatusCancelled))
		assert.False(t, models.TaskStatusPending.CanTransitionTo(models.TaskStatusCompleted))
		assert.False(t, models.TaskStatusPending.CanTransitionTo(models.TaskStatusRetry))
		assert.False(t, models.TaskStatusPending.CanTransitionTo(models.TaskStatusFailed))
	})

	t.Run("in_progress resolves to completed, retry or failed", func(t *testing.T) {
		t.Parallel()

		assert.True(t, models.TaskStatusInProgress.CanTransitionTo(models.TaskStatusCompleted))
		assert.True(t, models.TaskStatusInProgress.CanTransitionTo(models.TaskStatusRetry))
		assert.True(t, models.TaskStatusInProgress.CanTransitionTo(models.TaskStatusFailed))
		assert.False(t, models.TaskStatusInProgress.CanTransitionTo(models.TaskStatusPending))
		assert.False(t, models.TaskStatusInProgress.CanTransitionTo(models.TaskStatusCancelled))
	})

	t.Run("retry can re-enter the queue or give up", func(t *testing.T) {
		t.Parallel()

		assert.True(t, models.TaskStatusRetry.CanTransitionTo(models.TaskStatusPending))
		assert.True(t, models.TaskStatusRetry.CanTransitionTo(models.TaskStatusInProgress))
		assert.True(t, models.TaskStatusRetry.CanTransitionTo(models.TaskStatusFailed))
		assert.True(t, models.TaskStatusRetry.CanTransitionTo(models.TaskStatusCancelled))
		assert.False(t, models.TaskStatusRetry.CanTransitionTo(models.TaskStatusCompleted))
	})

	t.Run("terminal statuses never transition", func(t *testing.T) {
		t.Parallel()

		all := []models.TaskStatus{
			models.TaskStatusPending,
			models.TaskStatusInProgress,
			models.TaskStatusCompleted,
			models.TaskStatusRetry,
			models.TaskStatusFailed,
			models.TaskStatusCancelled,
		}

		for _, terminal := range []models.TaskStatus{
			models.TaskStatusCompleted,
			models.TaskStatusFailed,
			models.TaskStatusCancelled,
		} {
			for _, next := range all {
				assert.False(t, terminal.CanTransitionTo(next),
					"%s should not transition to %s", terminal, next)
			}
		}
	})
}

func TestStepDefinitionEffectiveValues(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		step := models.StepDefinition{ID: "s1", Capability: "core", Action: "log"}

		assert.Equal(t, models.DefaultPriority, step.EffectivePriority())
		assert.Equal(t, models.DefaultMaxRetries, step.EffectiveMaxRetries())
		assert.Equal(t, models.DefaultTimeout, step.EffectiveTimeout())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Parallel()

		priority := 1
		maxRetries := 0
		step := models.StepDefinition{
			ID:          "s1",
			Capability:  "core",
			Action:      "log",
			Priority:    &priority,
			MaxRetries:  &maxRetries,
			TimeoutSecs: 30,
		}

		assert.Equal(t, 1, step.EffectivePriority())
		assert.Equal(t, 0, step.EffectiveMaxRetries())
		assert.Equal(t, 30*time.Second, step.EffectiveTimeout())
	})
}

func TestWorkflowDefinitionStep(t *testing.T) {
	t.Parallel()

	definition := models.WorkflowDefinition{
		ID:   "wf-1",
		Name: "test workflow",
		Steps: []models.StepDefinition{
			{ID: "a", Capability: "core", Action: "log"},
			{ID: "b", Capability: "core", Action: "log"},
		},
	}

	assert.Equal(t, "a", definition.Step("a").ID)
	assert.Equal(t, "b", definition.Step("b").ID)
	assert.Nil(t, definition.Step("missing"))
}
