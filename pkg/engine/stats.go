package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tasklane/tasklane/pkg/models"
	"github.com/tasklane/tasklane/pkg/store"
)

// WorkflowStats is the per-workflow slice of the queue statistics.
type WorkflowStats struct {
	Total    int64                       `json:"total"`
	ByStatus map[models.TaskStatus]int64 `json:"by_status"`
}

// QueueStats is the operational snapshot served by the admin API.
type QueueStats struct {
	TotalTasks           int64                       `json:"total_tasks"`
	ByStatus             map[models.TaskStatus]int64 `json:"by_status"`
	ByWorkflow           map[string]*WorkflowStats   `json:"by_workflow"`
	AvgCompletionLatency time.Duration               `json:"avg_completion_latency"`
}

// Stats computes counts by status, the per-workflow breakdown and the average
// created-to-completed latency over completed tasks.
func (e *Engine) Stats(ctx context.Context) (*QueueStats, error) {
	page, err := e.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for stats: %w", err)
	}

	stats := &QueueStats{
		ByStatus:   make(map[models.TaskStatus]int64),
		ByWorkflow: make(map[string]*WorkflowStats),
	}

	var completedCount int64

	var latencySum time.Duration

	for _, task := range page.Tasks {
		stats.TotalTasks++
		stats.ByStatus[task.Status]++

		workflowStats, ok := stats.ByWorkflow[task.WorkflowID]
		if !ok {
			workflowStats = &WorkflowStats{ByStatus: make(map[models.TaskStatus]int64)}
			stats.ByWorkflow[task.WorkflowID] = workflowStats
		}

		workflowStats.Total++
		workflowStats.ByStatus[task.Status]++

		if task.Status == models.TaskStatusCompleted && task.CompletedAt != nil {
			completedCount++
			latencySum += task.CompletedAt.Sub(task.CreatedAt)
		}
	}

	if completedCount > 0 {
		stats.AvgCompletionLatency = latencySum / time.Duration(completedCount)
	}

	return stats, nil
}
