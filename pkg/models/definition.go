package models

import "time"

// Defaults applied to steps that carry no explicit override.
const (
	DefaultPriority   = 5
	DefaultMaxRetries = 3
	DefaultTimeout    = 5 * time.Minute
)

// FailurePolicy controls what happens to the rest of the instance when a
// step's task reaches terminal failure.
type FailurePolicy string

const (
	FailurePolicyContinue FailurePolicy = "continue" // Other tasks keep running
	FailurePolicyAbort    FailurePolicy = "abort"    // Cancel pending siblings, fail the instance
)

// StepDefinition declares one unit of work inside a workflow definition.
type StepDefinition struct {
	ID         string         `json:"id"         validate:"required"`
	Name       string         `json:"name"`
	Capability string         `json:"capability" validate:"required"`
	Action     string         `json:"action"     validate:"required"`
	Input      map[string]any `json:"input,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty"`

	Priority     *int          `json:"priority,omitempty"`
	DelaySeconds int           `json:"delay_seconds,omitempty"   validate:"gte=0"`
	TimeoutSecs  int           `json:"timeout_seconds,omitempty" validate:"gte=0"`
	MaxRetries   *int          `json:"max_retries,omitempty"`
	OnFailure    FailurePolicy `json:"on_failure,omitempty"      validate:"omitempty,oneof=abort continue"`
}

// EffectivePriority resolves the step priority, falling back to the default.
func (s *StepDefinition) EffectivePriority() int {
	if s.Priority != nil {
		return *s.Priority
	}

	return DefaultPriority
}

// EffectiveMaxRetries resolves the retry budget, falling back to the default.
func (s *StepDefinition) EffectiveMaxRetries() int {
	if s.MaxRetries != nil {
		return *s.MaxRetries
	}

	return DefaultMaxRetries
}

// EffectiveTimeout resolves the timeout budget, falling back to the default.
func (s *StepDefinition) EffectiveTimeout() time.Duration {
	if s.TimeoutSecs > 0 {
		return time.Duration(s.TimeoutSecs) * time.Second
	}

	return DefaultTimeout
}

// SLA declares instance-level duration thresholds in minutes.
type SLA struct {
	MaxDurationMinutes int `json:"max_duration_minutes,omitempty" validate:"gte=0"`
	AlertAfterMinutes  int `json:"alert_after_minutes,omitempty"  validate:"gte=0"`
}

// NotificationTarget names a capability invocation fired on instance outcome.
type NotificationTarget struct {
	Capability string         `json:"capability" validate:"required"`
	Action     string         `json:"action"     validate:"required"`
	Input      map[string]any `json:"input,omitempty"`
}

// WorkflowDefinition is the declarative document a workflow instance is
// created from. The orchestrator only reads it.
type WorkflowDefinition struct {
	ID          string           `json:"id"   validate:"required"`
	Name        string           `json:"name" validate:"required,min=3"`
	Description string           `json:"description,omitempty"`
	Steps       []StepDefinition `json:"steps" validate:"required,min=1,dive"`

	SLA        *SLA                `json:"sla,omitempty"`
	OnComplete *NotificationTarget `json:"on_complete,omitempty"`
	OnFailure  *NotificationTarget `json:"on_failure,omitempty"`
}

// Step returns the step with the given ID, or nil.
func (d *WorkflowDefinition) Step(stepID string) *StepDefinition {
	for i := range d.Steps {
		if d.Steps[i].ID == stepID {
			return &d.Steps[i]
		}
	}

	return nil
}
