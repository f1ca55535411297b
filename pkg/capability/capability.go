// Package capability provides the registry of external business-logic
// handlers the orchestrator can dispatch tasks to. Handlers are registered at
// startup and looked up by (capability, action); the orchestrator never loads
// code dynamically.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotRegistered indicates the named capability/action pair has no handler.
// Dispatching against it fails permanently, without retries.
var ErrNotRegistered = errors.New("capability not registered")

// Handler is one named unit of external business logic.
type Handler interface {
	Capability() string
	Action() string
	Execute(ctx context.Context, input map[string]any) (any, error)
}

// Registry maps (capability, action) pairs to registered handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler, replacing any previous registration for the same pair.
func (r *Registry) Register(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[key(handler.Capability(), handler.Action())] = handler
}

// Resolve returns the handler for the pair, or ErrNotRegistered.
func (r *Registry) Resolve(capability, action string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[key(capability, action)]
	if !ok {
		return nil, fmt.Errorf("capability '%s' action '%s': %w", capability, action, ErrNotRegistered)
	}

	return handler, nil
}

// Registered returns the registered (capability, action) pairs.
func (r *Registry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pairs := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		pairs = append(pairs, k)
	}

	return pairs
}

func key(capability, action string) string {
	return capability + "/" + action
}

// Func adapts a plain function into a Handler.
type Func struct {
	CapabilityName string
	ActionName     string
	Fn             func(ctx context.Context, input map[string]any) (any, error)
}

func (f Func) Capability() string {
	return f.CapabilityName
}

func (f Func) Action() string {
	return f.ActionName
}

func (f Func) Execute(ctx context.Context, input map[string]any) (any, error) {
	return f.Fn(ctx, input)
}
