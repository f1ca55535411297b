package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tasklane/tasklane/pkg/template"
)

func TestResolveTriggerAndStepPaths(t *testing.T) {
	t.Parallel()

	ctx := template.Context{
		TriggerData: map[string]any{
			"order": map[string]any{"id": "ord-42", "total": 99.5},
		},
		StepOutputs: map[string]any{
			"charge": map[string]any{"receipt": "rcpt-1"},
		},
	}

	input := map[string]any{
		"order_id": "{{trigger.data.order.id}}",
		"receipt":  "{{steps.charge.output.receipt}}",
		"static":   "hello",
	}

	resolved := template.Resolve(input, ctx)

	assert.Equal(t, "ord-42", resolved["order_id"])
	assert.Equal(t, "rcpt-1", resolved["receipt"])
	assert.Equal(t, "hello", resolved["static"])
}

func TestResolvePreservesValueTypes(t *testing.T) {
	t.Parallel()

	ctx := template.Context{
		TriggerData: map[string]any{"count": 3, "flags": map[string]any{"fast": true}},
	}

	resolved := template.Resolve(map[string]any{
		"count": "{{trigger.data.count}}",
		"flags": "{{trigger.data.flags}}",
	}, ctx)

	assert.Equal(t, 3, resolved["count"])
	assert.Equal(t, map[string]any{"fast": true}, resolved["flags"])
}

func TestResolveUnresolvedKeepsLiteral(t *testing.T) {
	t.Parallel()

	resolved := template.Resolve(map[string]any{
		"missing": "{{trigger.data.nope}}",
		"deep":    "{{steps.unknown.output.x}}",
	}, template.Context{})

	assert.Equal(t, "{{trigger.data.nope}}", resolved["missing"])
	assert.Equal(t, "{{steps.unknown.output.x}}", resolved["deep"])
}

func TestResolveRecursesNestedStructures(t *testing.T) {
	t.Parallel()

	ctx := template.Context{
		TriggerData: map[string]any{"user": "ana"},
	}

	resolved := template.Resolve(map[string]any{
		"nested": map[string]any{
			"who": "{{trigger.data.user}}",
		},
		"list": []any{"{{trigger.data.user}}", "plain", 7},
	}, ctx)

	nested, ok := resolved["nested"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "ana", nested["who"])

	list, ok := resolved["list"].([]any)
	assert.True(t, ok)
	assert.Equal(t, []any{"ana", "plain", 7}, list)
}

func TestResolveIgnoresPartialTemplates(t *testing.T) {
	t.Parallel()

	ctx := template.Context{TriggerData: map[string]any{"user": "ana"}}

	resolved := template.Resolve(map[string]any{
		"embedded": "hello {{trigger.data.user}}",
		"empty":    "{{}}",
	}, ctx)

	// Only exact-form template strings are substituted.
	assert.Equal(t, "hello {{trigger.data.user}}", resolved["embedded"])
	assert.Equal(t, "{{}}", resolved["empty"])
}

func TestResolveNilInput(t *testing.T) {
	t.Parallel()

	assert.Nil(t, template.Resolve(nil, template.Context{}))
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	input := map[string]any{"who": "{{trigger.data.user}}"}

	template.Resolve(input, template.Context{TriggerData: map[string]any{"user": "ana"}})

	assert.Equal(t, "{{trigger.data.user}}", input["who"])
}
