// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/tasklane/tasklane/pkg/store"
	"github.com/tasklane/tasklane/pkg/store/memory"
	"github.com/tasklane/tasklane/pkg/store/postgres"
	"github.com/tasklane/tasklane/pkg/store/redis"
)

// NewStore selects the store backend by the database URL scheme: memory://,
// postgres:// (or postgresql://) and redis://.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (store.Store, error) {
	scheme, _, _ := strings.Cut(databaseURL, "://")

	switch scheme {
	case "", "memory":
		return memory.NewStore(), nil
	case "postgres", "postgresql":
		return postgres.NewStore(ctx, logger, databaseURL)
	case "redis":
		addr, password, db, err := parseRedisURL(databaseURL)
		if err != nil {
			return nil, err
		}

		return redis.NewStore(ctx, logger, addr, password, db)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", scheme)
	}
}

func parseRedisURL(databaseURL string) (addr, password string, db int, err error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid redis URL: %w", err)
	}

	addr = parsed.Host
	if addr == "" {
		addr = "localhost:6379"
	}

	if parsed.User != nil {
		password, _ = parsed.User.Password()
	}

	if path := strings.TrimPrefix(parsed.Path, "/"); path != "" {
		db, err = strconv.Atoi(path)
		if err != nil {
			return "", "", 0, fmt.Errorf("invalid redis database number %q: %w", path, err)
		}
	}

	return addr, password, db, nil
}
