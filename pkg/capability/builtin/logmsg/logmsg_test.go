package logmsg_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasklane/tasklane/pkg/capability/builtin/logmsg"
)

func TestLogHandlerIdentity(t *testing.T) {
	t.Parallel()

	handler := logmsg.NewHandler(slog.Default())

	assert.Equal(t, "core", handler.Capability())
	assert.Equal(t, "log", handler.Action())
}

func TestLogHandlerEchoesMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := logmsg.NewHandler(logger)

	output, err := handler.Execute(t.Context(), map[string]any{
		"message": "order shipped",
		"level":   "warn",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"message": "order shipped"}, output)
	assert.Contains(t, buf.String(), "order shipped")
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestLogHandlerDefaultsToInfo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := logmsg.NewHandler(logger)

	_, err := handler.Execute(t.Context(), map[string]any{"message": "hello"})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "level=INFO")
}
