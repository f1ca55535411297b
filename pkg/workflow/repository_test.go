package workflow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasklane/tasklane/pkg/workflow"
)

const validDefinition = `{
	"id": "order-flow",
	"name": "Order processing",
	"steps": [
		{
			"id": "charge",
			"capability": "billing",
			"action": "charge",
			"input": {"order_id": "{{trigger.data.order_id}}"},
			"max_retries": 5,
			"timeout_seconds": 30,
			"on_failure": "abort"
		},
		{
			"id": "notify",
			"capability": "core",
			"action": "log",
			"depends_on": ["charge"],
			"priority": 8
		}
	],
	"sla": {"max_duration_minutes": 60, "alert_after_minutes": 10}
}`

func writeDefinition(t *testing.T, dir, id, content string) {
	t.Helper()

	err := os.WriteFile(filepath.Join(dir, id+".json"), []byte(content), 0o600)
	require.NoError(t, err)
}

func TestFileRepositoryDefinition(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDefinition(t, dir, "order-flow", validDefinition)

	repo, err := workflow.NewFileRepository(dir)
	require.NoError(t, err)

	definition, err := repo.Definition(t.Context(), "order-flow")
	require.NoError(t, err)

	assert.Equal(t, "order-flow", definition.ID)
	assert.Equal(t, "Order processing", definition.Name)
	require.Len(t, definition.Steps, 2)

	charge := definition.Step("charge")
	require.NotNil(t, charge)
	assert.Equal(t, 5, charge.EffectiveMaxRetries())
	assert.Equal(t, "abort", string(charge.OnFailure))

	notify := definition.Step("notify")
	require.NotNil(t, notify)
	assert.Equal(t, []string{"charge"}, notify.DependsOn)
	assert.Equal(t, 8, notify.EffectivePriority())

	require.NotNil(t, definition.SLA)
	assert.Equal(t, 60, definition.SLA.MaxDurationMinutes)
}

func TestFileRepositoryDefinitionNotFound(t *testing.T) {
	t.Parallel()

	repo, err := workflow.NewFileRepository(t.TempDir())
	require.NoError(t, err)

	_, err = repo.Definition(t.Context(), "missing")
	assert.ErrorIs(t, err, workflow.ErrDefinitionNotFound)
}

func TestFileRepositoryDefinitions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDefinition(t, dir, "order-flow", validDefinition)

	repo, err := workflow.NewFileRepository(dir)
	require.NoError(t, err)

	definitions, err := repo.Definitions(t.Context())
	require.NoError(t, err)
	require.Len(t, definitions, 1)
	assert.Equal(t, "order-flow", definitions[0].ID)
}

func TestFileRepositoryRejectsInvalidDefinitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
	}{
		{
			name:    "missing steps",
			content: `{"id": "bad", "name": "No steps", "steps": []}`,
		},
		{
			name: "duplicate step ids",
			content: `{"id": "bad", "name": "Duplicate steps", "steps": [
				{"id": "a", "capability": "core", "action": "log"},
				{"id": "a", "capability": "core", "action": "log"}
			]}`,
		},
		{
			name: "self dependency",
			content: `{"id": "bad", "name": "Self dependency", "steps": [
				{"id": "a", "capability": "core", "action": "log", "depends_on": ["a"]}
			]}`,
		},
		{
			name: "unknown dependency",
			content: `{"id": "bad", "name": "Unknown dependency", "steps": [
				{"id": "a", "capability": "core", "action": "log", "depends_on": ["ghost"]}
			]}`,
		},
		{
			name:    "not json",
			content: `steps: []`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeDefinition(t, dir, "bad", tc.content)

			repo, err := workflow.NewFileRepository(dir)
			require.NoError(t, err)

			_, err = repo.Definition(t.Context(), "bad")
			assert.Error(t, err)
		})
	}
}
