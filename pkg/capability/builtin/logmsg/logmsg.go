// Package logmsg provides the core/log capability: it writes a message from
// the resolved task input to the structured log and echoes it back as output.
package logmsg

import (
	"context"
	"log/slog"
)

// Handler implements the core/log capability.
type Handler struct {
	logger *slog.Logger
}

// NewHandler creates the log capability handler.
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger.With("module", "log_capability"),
	}
}

func (*Handler) Capability() string {
	return "core"
}

func (*Handler) Action() string {
	return "log"
}

func (h *Handler) Execute(ctx context.Context, input map[string]any) (any, error) {
	message, _ := input["message"].(string)
	level, _ := input["level"].(string)

	switch level {
	case "debug":
		h.logger.DebugContext(ctx, message)
	case "warn", "warning":
		h.logger.WarnContext(ctx, message)
	case "error":
		h.logger.ErrorContext(ctx, message)
	default:
		h.logger.InfoContext(ctx, message)
	}

	return map[string]any{"message": message}, nil
}
