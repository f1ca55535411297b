package main

import (
	"context"
	"os"

	"github.com/tasklane/tasklane/pkg/cmd"
	"github.com/tasklane/tasklane/pkg/engine"
	"github.com/tasklane/tasklane/pkg/log"
	"github.com/tasklane/tasklane/pkg/retry"
	"github.com/tasklane/tasklane/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "tasklane-api",
		Usage:                 "Inspect tasks and instances and trigger workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Store backend URL (memory://, postgres://..., redis://...)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "definitions-path",
				Usage:   "Directory containing workflow definition JSON files",
				Value:   "./workflows",
				Sources: cli.EnvVars("DEFINITIONS_PATH"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.BoolFlag{
				Name:    "retry-backoff",
				Usage:   "Space retry attempts exponentially instead of re-queueing immediately",
				Sources: cli.EnvVars("RETRY_BACKOFF"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: runAPI,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func runAPI(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("api")

	logger.InfoContext(ctx, "Initializing Tasklane API")

	taskStore, err := cmd.NewStore(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := taskStore.Close(context.Background())
		if err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "tasklane-api", logger)
	if err != nil {
		return err
	}

	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	definitions, err := workflow.NewFileRepository(command.String("definitions-path"))
	if err != nil {
		return err
	}

	registry := cmd.NewRegistry(logger)

	eng := engine.NewEngine(engine.Config{
		Store:       taskStore,
		Definitions: definitions,
		Registry:    registry,
		Publisher:   eventBus,
		Logger:      logger,
		RetryPolicy: retry.Policy{Backoff: command.Bool("retry-backoff")},
	})

	api := NewAPI(logger, eng, taskStore, definitions)

	return api.Start(int(command.Int("port")))
}
