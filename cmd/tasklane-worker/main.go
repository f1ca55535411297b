package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tasklane/tasklane/pkg/cmd"
	"github.com/tasklane/tasklane/pkg/engine"
	"github.com/tasklane/tasklane/pkg/log"
	"github.com/tasklane/tasklane/pkg/otelhelper"
	"github.com/tasklane/tasklane/pkg/retry"
	"github.com/tasklane/tasklane/pkg/sla"
	"github.com/tasklane/tasklane/pkg/workflow"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

func main() {
	command := &cli.Command{
		Name:                  "tasklane-worker",
		EnableShellCompletion: true,
		Usage:                 "Run the task driver loop and background maintenance jobs",
		Flags: []cli.Flag{
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
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "Interval between driver passes",
				Value:   100 * time.Millisecond,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Maximum concurrent capability handler calls",
				Value:   4,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.BoolFlag{
				Name:    "retry-backoff",
				Usage:   "Space retry attempts exponentially instead of re-queueing immediately",
				Sources: cli.EnvVars("RETRY_BACKOFF"),
			},
			&cli.StringFlag{
				Name:    "sla-scan-schedule",
				Usage:   "Cron schedule for the SLA scan",
				Value:   "@every 1m",
				Sources: cli.EnvVars("SLA_SCAN_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "stuck-scan-schedule",
				Usage:   "Cron schedule for stuck-task detection",
				Value:   "@every 30s",
				Sources: cli.EnvVars("STUCK_SCAN_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "cleanup-schedule",
				Usage:   "Cron schedule for terminal-task cleanup",
				Value:   "@every 1h",
				Sources: cli.EnvVars("CLEANUP_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "retention",
				Usage:   "How long terminal tasks are kept before cleanup",
				Value:   24 * time.Hour,
				Sources: cli.EnvVars("TASK_RETENTION"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: runWorker,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func runWorker(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("tasklane-worker")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing Tasklane worker")

	var tracer trace.Tracer

	if command.Bool("tracing") {
		var shutdown func(context.Context) error

		var err error

		tracer, shutdown, err = otelhelper.NewTracer(ctx, "tasklane-worker")
		if err != nil {
			return err
		}

		defer func() {
			err := shutdown(context.Background())
			if err != nil {
				logger.Error("Failed to shutdown tracer", "error", err)
			}
		}()
	}

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

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "tasklane-worker", logger)
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
		Tracer:      tracer,
		Workers:     int(command.Int("workers")),
	})

	monitor := sla.NewMonitor(taskStore, definitions, eng.Retry(), eng.Completion(), logger)

	maintenance := NewMaintenanceRunner(eng, monitor, eventBus, logger, MaintenanceConfig{
		SLAScanSchedule:   command.String("sla-scan-schedule"),
		StuckScanSchedule: command.String("stuck-scan-schedule"),
		CleanupSchedule:   command.String("cleanup-schedule"),
		Retention:         command.Duration("retention"),
	})

	err = maintenance.Start(ctx)
	if err != nil {
		return err
	}

	defer maintenance.Stop()

	logger.InfoContext(ctx, "Starting driver loop",
		"tick_interval", command.Duration("tick-interval"),
		"workers", command.Int("workers"),
		"capabilities", registry.Registered(),
	)

	return eng.Run(ctx, command.Duration("tick-interval"))
}
