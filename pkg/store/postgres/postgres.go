// Package postgres provides the PostgreSQL-backed store for deployments that
// want task records to survive process restarts.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/tasklane/tasklane/pkg/models"
	"github.com/tasklane/tasklane/pkg/store"
	"github.com/tasklane/tasklane/pkg/store/sqlbase"
)

// Store implements store.Store on PostgreSQL. Single-record mutations run in
// a transaction with a row lock so read-modify-write cycles are serialized.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore connects, runs migrations and returns a ready store.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, db, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

const taskColumns = `
	id, workflow_id, instance_id, step_id, capability, action, input,
	priority, delay_ns, not_before, depends_on, status, retry_count,
	max_retries, timeout_ns, abort_on_failure, output, last_error,
	created_at, updated_at, started_at, completed_at
`

func (s *Store) CreateTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	record := *task
	if record.ID == "" {
		record.ID = "task-" + uuid.New().String()[:8]
	}

	if record.Status == "" {
		record.Status = models.TaskStatusPending
	}

	now := s.now()
	record.CreatedAt = now
	record.UpdatedAt = now

	if record.NotBefore.IsZero() {
		record.NotBefore = now.Add(record.Delay)
	}

	input, err := marshalJSON(record.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task input: %w", err)
	}

	dependsOn, err := marshalJSON(record.DependsOn)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task dependencies: %w", err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, NULL, NULL, $17, $18, NULL, NULL)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID, record.WorkflowID, record.InstanceID, record.StepID,
		record.Capability, record.Action, input,
		record.Priority, int64(record.Delay), record.NotBefore, dependsOn,
		string(record.Status), record.RetryCount, record.MaxRetries,
		int64(record.Timeout), record.AbortOnFailure,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}

	return &record, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.TaskStoreError{Op: "GetTask", ID: id, Err: store.ErrTaskNotFound}
		}

		return nil, fmt.Errorf("failed to query task %s: %w", id, err)
	}

	return task, nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, update store.TaskUpdate) (*models.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.TaskStoreError{Op: "UpdateTask", ID: id, Err: store.ErrTaskNotFound}
		}

		return nil, fmt.Errorf("failed to lock task %s: %w", id, err)
	}

	err = store.ApplyTaskUpdate(task, update, s.now())
	if err != nil {
		return nil, err
	}

	output, err := marshalJSON(task.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task output: %w", err)
	}

	lastError, err := marshalJSON(task.LastError)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task error: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = $2, retry_count = $3, not_before = $4, output = $5,
			last_error = $6, updated_at = $7, started_at = $8, completed_at = $9
		WHERE id = $1
	`, task.ID, string(task.Status), task.RetryCount, task.NotBefore,
		output, lastError, task.UpdatedAt, task.StartedAt, task.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit task update: %w", err)
	}

	return task, nil
}

func (s *Store) ListTasks(ctx context.Context, filter store.TaskFilter) (*store.TaskPage, error) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 4)

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			args = append(args, string(status))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}

		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		conditions = append(conditions, fmt.Sprintf("workflow_id = $%d", len(args)))
	}

	if filter.InstanceID != "" {
		args = append(args, filter.InstanceID)
		conditions = append(conditions, fmt.Sprintf("instance_id = $%d", len(args)))
	}

	if filter.Capability != "" {
		args = append(args, filter.Capability)
		conditions = append(conditions, fmt.Sprintf("capability = $%d", len(args)))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			s.logger.Error("failed to close rows", "error", closeErr)
		}
	}()

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		tasks = append(tasks, task)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	err = store.SortTasks(tasks, filter.SortBy, filter.SortOrder)
	if err != nil {
		return nil, err
	}

	return store.PageTasks(tasks, filter.Limit, filter.Offset), nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &store.TaskStoreError{Op: "DeleteTask", ID: id, Err: store.ErrTaskNotFound}
		}

		return fmt.Errorf("failed to lock task %s: %w", id, err)
	}

	if !task.Status.IsTerminal() {
		return &store.TaskStoreError{Op: "DeleteTask", ID: id, Err: store.ErrTaskNotTerminal}
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit task delete: %w", err)
	}

	return nil
}

const instanceColumns = `
	id, workflow_id, trigger_name, trigger_data, status, failed_step_id,
	created_at, updated_at, completed_at
`

func (s *Store) CreateInstance(ctx context.Context, instance *models.WorkflowInstance) (*models.WorkflowInstance, error) {
	record := *instance
	if record.ID == "" {
		record.ID = "inst-" + uuid.New().String()[:8]
	}

	if record.Status == "" {
		record.Status = models.InstanceStatusRunning
	}

	now := s.now()
	record.CreatedAt = now
	record.UpdatedAt = now

	triggerData, err := marshalJSON(record.TriggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trigger data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL)
	`, record.ID, record.WorkflowID, record.TriggerName, triggerData,
		string(record.Status), record.FailedStepID, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert instance: %w", err)
	}

	return &record, nil
}

func (s *Store) GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`, id)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.InstanceStoreError{Op: "GetInstance", ID: id, Err: store.ErrInstanceNotFound}
		}

		return nil, fmt.Errorf("failed to query instance %s: %w", id, err)
	}

	return instance, nil
}

func (s *Store) UpdateInstance(ctx context.Context, id string, update store.InstanceUpdate) (*models.WorkflowInstance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1 FOR UPDATE`, id)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.InstanceStoreError{Op: "UpdateInstance", ID: id, Err: store.ErrInstanceNotFound}
		}

		return nil, fmt.Errorf("failed to lock instance %s: %w", id, err)
	}

	err = store.ApplyInstanceUpdate(instance, update, s.now())
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_instances
		SET status = $2, failed_step_id = $3, updated_at = $4, completed_at = $5
		WHERE id = $1
	`, instance.ID, string(instance.Status), instance.FailedStepID,
		instance.UpdatedAt, instance.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update instance %s: %w", id, err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit instance update: %w", err)
	}

	return instance, nil
}

func (s *Store) ListInstances(ctx context.Context) ([]*models.WorkflowInstance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			s.logger.Error("failed to close rows", "error", closeErr)
		}
	}()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate instances: %w", err)
	}

	return instances, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (s *Store) Close(_ context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task      models.Task
		status    string
		delayNs   int64
		timeoutNs int64
		input     []byte
		dependsOn []byte
		output    []byte
		lastError []byte
	)

	err := row.Scan(
		&task.ID, &task.WorkflowID, &task.InstanceID, &task.StepID,
		&task.Capability, &task.Action, &input,
		&task.Priority, &delayNs, &task.NotBefore, &dependsOn, &status,
		&task.RetryCount, &task.MaxRetries, &timeoutNs, &task.AbortOnFailure,
		&output, &lastError,
		&task.CreatedAt, &task.UpdatedAt, &task.StartedAt, &task.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = models.TaskStatus(status)
	task.Delay = time.Duration(delayNs)
	task.Timeout = time.Duration(timeoutNs)

	err = unmarshalJSON(input, &task.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to decode task input: %w", err)
	}

	err = unmarshalJSON(dependsOn, &task.DependsOn)
	if err != nil {
		return nil, fmt.Errorf("failed to decode task dependencies: %w", err)
	}

	err = unmarshalJSON(output, &task.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode task output: %w", err)
	}

	err = unmarshalJSON(lastError, &task.LastError)
	if err != nil {
		return nil, fmt.Errorf("failed to decode task error: %w", err)
	}

	return &task, nil
}

func scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	var (
		instance    models.WorkflowInstance
		status      string
		triggerData []byte
	)

	err := row.Scan(
		&instance.ID, &instance.WorkflowID, &instance.TriggerName, &triggerData,
		&status, &instance.FailedStepID,
		&instance.CreatedAt, &instance.UpdatedAt, &instance.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.Status = models.InstanceStatus(status)

	err = unmarshalJSON(triggerData, &instance.TriggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode trigger data: %w", err)
	}

	return &instance, nil
}

func marshalJSON(value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	return json.Marshal(value)
}

func unmarshalJSON(raw []byte, target any) error {
	if len(raw) == 0 {
		return nil
	}

	return json.Unmarshal(raw, target)
}
