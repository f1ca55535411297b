package cmd

import (
	"log/slog"

	"github.com/tasklane/tasklane/pkg/capability"
	"github.com/tasklane/tasklane/pkg/capability/builtin/httpreq"
	"github.com/tasklane/tasklane/pkg/capability/builtin/logmsg"
)

// NewRegistry builds a capability registry with the builtin handlers
// registered.
func NewRegistry(logger *slog.Logger) *capability.Registry {
	registry := capability.NewRegistry()

	registry.Register(logmsg.NewHandler(logger))
	registry.Register(httpreq.NewHandler(logger))

	return registry
}
