// Package template resolves {{path}} references in task input against the
// trigger payload and completed sibling outputs. Resolution is total: an
// unresolved reference keeps its literal form so broken paths stay visible in
// the task record instead of failing the dispatch.
package template

import "strings"

// Context is the lookup root for template resolution.
type Context struct {
	TriggerData map[string]any
	StepOutputs map[string]any // Keyed by step ID
}

// Resolve substitutes every exact-form "{{path}}" string value in input,
// recursing through nested maps and slices. Non-template values pass through
// unchanged. The result is a new map; input is not mutated.
func Resolve(input map[string]any, ctx Context) map[string]any {
	if input == nil {
		return nil
	}

	root := ctx.root()

	resolved := make(map[string]any, len(input))
	for k, v := range input {
		resolved[k] = resolveValue(v, root)
	}

	return resolved
}

func (c Context) root() map[string]any {
	steps := make(map[string]any, len(c.StepOutputs))
	for stepID, output := range c.StepOutputs {
		steps[stepID] = map[string]any{"output": output}
	}

	return map[string]any{
		"trigger": map[string]any{"data": c.TriggerData},
		"steps":   steps,
	}
}

func resolveValue(value any, root map[string]any) any {
	switch v := value.(type) {
	case string:
		path, ok := templatePath(v)
		if !ok {
			return v
		}

		resolved, found := lookup(root, path)
		if !found {
			return v
		}

		return resolved
	case map[string]any:
		nested := make(map[string]any, len(v))
		for k, item := range v {
			nested[k] = resolveValue(item, root)
		}

		return nested
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = resolveValue(item, root)
		}

		return items
	default:
		return value
	}
}

// templatePath extracts the dotted path from an exact-form "{{path}}" string.
func templatePath(s string) (string, bool) {
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}

	path := strings.TrimSpace(s[2 : len(s)-2])
	if path == "" || strings.Contains(path, "{{") {
		return "", false
	}

	return path, true
}

// lookup walks a dotted path through nested string-keyed maps.
func lookup(root map[string]any, path string) (any, bool) {
	var current any = root

	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// ResolveForTask builds the resolution context from a trigger payload and the
// outputs of completed sibling tasks, then resolves input.
func ResolveForTask(input, triggerData map[string]any, siblingOutputs map[string]any) map[string]any {
	return Resolve(input, Context{
		TriggerData: triggerData,
		StepOutputs: siblingOutputs,
	})
}
