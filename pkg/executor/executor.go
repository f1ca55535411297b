// Package executor invokes capability handlers under a timeout budget.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tasklane/tasklane/pkg/capability"
)

// ErrTimeout indicates the handler did not return within the task's budget.
// The call is abandoned for bookkeeping purposes even if it later returns.
var ErrTimeout = errors.New("task exceeded timeout")

// Executor dispatches resolved task input to registered capability handlers.
// It never touches the task store; the driver applies results.
type Executor struct {
	registry *capability.Registry
	logger   *slog.Logger
}

// NewExecutor creates an executor backed by the given capability registry.
func NewExecutor(registry *capability.Registry, logger *slog.Logger) *Executor {
	return &Executor{
		registry: registry,
		logger:   logger.With("module", "executor"),
	}
}

type result struct {
	output any
	err    error
}

// Execute resolves the (capabilityName, action) handler and races it against
// the timeout budget. An unregistered pair fails immediately with
// capability.ErrNotRegistered; a budget overrun fails with ErrTimeout.
func (e *Executor) Execute(
	ctx context.Context,
	capabilityName, action string,
	input map[string]any,
	timeout time.Duration,
) (any, error) {
	handler, err := e.registry.Resolve(capabilityName, action)
	if err != nil {
		return nil, err
	}

	handlerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result, 1)

	go func() {
		output, err := handler.Execute(handlerCtx, input)
		done <- result{output: output, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("capability '%s' action '%s' failed: %w", capabilityName, action, res.err)
		}

		return res.output, nil
	case <-handlerCtx.Done():
		if errors.Is(handlerCtx.Err(), context.DeadlineExceeded) {
			e.logger.WarnContext(ctx, "Abandoning handler call after timeout",
				"capability", capabilityName,
				"action", action,
				"timeout", timeout,
			)

			return nil, fmt.Errorf("capability '%s' action '%s' after %s: %w",
				capabilityName, action, timeout, ErrTimeout)
		}

		return nil, handlerCtx.Err()
	}
}
