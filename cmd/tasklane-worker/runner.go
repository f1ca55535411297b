package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tasklane/tasklane/pkg/engine"
	"github.com/tasklane/tasklane/pkg/eventbus"
	"github.com/tasklane/tasklane/pkg/events"
	"github.com/tasklane/tasklane/pkg/sla"
)

// MaintenanceConfig carries the schedules for the background jobs that run
// alongside the driver loop.
type MaintenanceConfig struct {
	SLAScanSchedule   string
	StuckScanSchedule string
	CleanupSchedule   string
	Retention         time.Duration
}

// MaintenanceRunner schedules the periodic jobs: SLA scanning, stuck-task
// detection and terminal-task cleanup.
type MaintenanceRunner struct {
	engine    *engine.Engine
	monitor   *sla.Monitor
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	config    MaintenanceConfig

	cron *cron.Cron
}

func NewMaintenanceRunner(
	eng *engine.Engine,
	monitor *sla.Monitor,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	config MaintenanceConfig,
) *MaintenanceRunner {
	return &MaintenanceRunner{
		engine:    eng,
		monitor:   monitor,
		publisher: publisher,
		logger:    logger.With("module", "maintenance"),
		config:    config,
	}
}

// Start registers the cron jobs and begins running them.
func (r *MaintenanceRunner) Start(ctx context.Context) error {
	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	jobs := []struct {
		schedule string
		run      func()
	}{
		{r.config.SLAScanSchedule, func() { r.scanSLA(ctx) }},
		{r.config.StuckScanSchedule, func() { r.detectStuck(ctx) }},
		{r.config.CleanupSchedule, func() { r.cleanup(ctx) }},
	}

	for _, job := range jobs {
		_, err := r.cron.AddFunc(job.schedule, job.run)
		if err != nil {
			return err
		}
	}

	r.cron.Start()

	return nil
}

// Stop halts the cron scheduler and waits for running jobs to finish.
func (r *MaintenanceRunner) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

func (r *MaintenanceRunner) scanSLA(ctx context.Context) {
	violations, err := r.monitor.Scan(ctx, time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "SLA scan failed", "error", err)

		return
	}

	for _, violation := range violations {
		r.logger.WarnContext(ctx, "SLA violation",
			"task_id", violation.TaskID,
			"instance_id", violation.InstanceID,
			"severity", violation.Severity,
			"elapsed", violation.Elapsed,
			"threshold", violation.Threshold,
		)

		if r.publisher == nil {
			continue
		}

		event := events.SLAViolation{
			BaseEvent: events.NewBaseEvent(events.SLAViolationEvent, violation.WorkflowID, violation.InstanceID),
			TaskID:    violation.TaskID,
			StepID:    violation.StepID,
			Severity:  string(violation.Severity),
			Elapsed:   violation.Elapsed,
			Threshold: violation.Threshold,
		}

		err := r.publisher.Publish(ctx, violation.InstanceID, event)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to publish SLA violation", "error", err)
		}
	}
}

func (r *MaintenanceRunner) detectStuck(ctx context.Context) {
	stuck, err := r.monitor.DetectStuck(ctx, time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Stuck task detection failed", "error", err)

		return
	}

	for _, task := range stuck {
		r.logger.WarnContext(ctx, "Recovered stuck task",
			"task_id", task.ID,
			"instance_id", task.InstanceID,
			"status", task.Status,
		)
	}
}

func (r *MaintenanceRunner) cleanup(ctx context.Context) {
	removed, err := r.engine.CleanupTasks(ctx, r.config.Retention)
	if err != nil {
		r.logger.ErrorContext(ctx, "Task cleanup failed", "error", err)

		return
	}

	if removed > 0 {
		r.logger.InfoContext(ctx, "Removed expired terminal tasks", "count", removed)
	}
}
