package executor_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasklane/tasklane/pkg/capability"
	"github.com/tasklane/tasklane/pkg/executor"
)

func newExecutor(handlers ...capability.Handler) *executor.Executor {
	registry := capability.NewRegistry()
	for _, handler := range handlers {
		registry.Register(handler)
	}

	return executor.NewExecutor(registry, slog.Default())
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	exec := newExecutor(capability.Func{
		CapabilityName: "core",
		ActionName:     "echo",
		Fn: func(_ context.Context, input map[string]any) (any, error) {
			return input["message"], nil
		},
	})

	output, err := exec.Execute(t.Context(), "core", "echo", map[string]any{"message": "hi"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hi", output)
}

func TestExecuteHandlerError(t *testing.T) {
	t.Parallel()

	handlerErr := errors.New("downstream unavailable")

	exec := newExecutor(capability.Func{
		CapabilityName: "core",
		ActionName:     "flaky",
		Fn: func(_ context.Context, _ map[string]any) (any, error) {
			return nil, handlerErr
		},
	})

	_, err := exec.Execute(t.Context(), "core", "flaky", nil, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, handlerErr)
	assert.Contains(t, err.Error(), "core")
	assert.Contains(t, err.Error(), "flaky")
}

func TestExecuteUnregisteredFailsImmediately(t *testing.T) {
	t.Parallel()

	exec := newExecutor()

	start := time.Now()

	_, err := exec.Execute(t.Context(), "ghost", "nothing", nil, time.Minute)
	assert.ErrorIs(t, err, capability.ErrNotRegistered)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	exec := newExecutor(capability.Func{
		CapabilityName: "core",
		ActionName:     "hang",
		Fn: func(_ context.Context, _ map[string]any) (any, error) {
			<-release

			return "late", nil
		},
	})

	_, err := exec.Execute(t.Context(), "core", "hang", nil, 20*time.Millisecond)
	assert.ErrorIs(t, err, executor.ErrTimeout)
}

func TestExecuteTimeoutDoesNotWaitForHandler(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	exec := newExecutor(capability.Func{
		CapabilityName: "core",
		ActionName:     "hang",
		Fn: func(_ context.Context, _ map[string]any) (any, error) {
			<-release

			return nil, nil
		},
	})

	start := time.Now()

	_, err := exec.Execute(t.Context(), "core", "hang", nil, 20*time.Millisecond)
	require.ErrorIs(t, err, executor.ErrTimeout)

	// The call is abandoned at the budget, not when the handler returns.
	assert.Less(t, time.Since(start), time.Second)
}
