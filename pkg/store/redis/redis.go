// Package redis provides a Redis-backed store. Records are stored as JSON
// values in hashes, one hash for tasks and one for instances.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/tasklane/tasklane/pkg/models"
	"github.com/tasklane/tasklane/pkg/store"
)

const (
	tasksKey     = "tasklane:tasks"
	instancesKey = "tasklane:instances"

	connectTimeout = 5 * time.Second
)

// Store implements store.Store on Redis. Read-modify-write cycles are
// serialized with a process-local mutex, which is sufficient for the
// single-writer engine.
type Store struct {
	client *goredis.Client
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewStore connects to Redis at addr and returns a ready store.
func NewStore(ctx context.Context, logger *slog.Logger, addr, password string, db int) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	err := client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return &Store{
		client: client,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) CreateTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	err := s.writeTask(ctx, &record)
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return s.readTask(ctx, "GetTask", id)
}

func (s *Store) UpdateTask(ctx context.Context, id string, update store.TaskUpdate) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.readTask(ctx, "UpdateTask", id)
	if err != nil {
		return nil, err
	}

	err = store.ApplyTaskUpdate(task, update, s.now())
	if err != nil {
		return nil, err
	}

	err = s.writeTask(ctx, task)
	if err != nil {
		return nil, err
	}

	return task, nil
}

func (s *Store) ListTasks(ctx context.Context, filter store.TaskFilter) (*store.TaskPage, error) {
	raw, err := s.client.HGetAll(ctx, tasksKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]*models.Task, 0, len(raw))

	for id, value := range raw {
		var task models.Task
		if err := json.Unmarshal([]byte(value), &task); err != nil {
			return nil, fmt.Errorf("failed to decode task %s: %w", id, err)
		}

		if store.MatchTask(&task, filter) {
			tasks = append(tasks, &task)
		}
	}

	err = store.SortTasks(tasks, filter.SortBy, filter.SortOrder)
	if err != nil {
		return nil, err
	}

	return store.PageTasks(tasks, filter.Limit, filter.Offset), nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.readTask(ctx, "DeleteTask", id)
	if err != nil {
		return err
	}

	if !task.Status.IsTerminal() {
		return &store.TaskStoreError{Op: "DeleteTask", ID: id, Err: store.ErrTaskNotTerminal}
	}

	err = s.client.HDel(ctx, tasksKey, id).Err()
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}

	return nil
}

func (s *Store) CreateInstance(ctx context.Context, instance *models.WorkflowInstance) (*models.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	err := s.writeInstance(ctx, &record)
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (s *Store) GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	return s.readInstance(ctx, "GetInstance", id)
}

func (s *Store) UpdateInstance(ctx context.Context, id string, update store.InstanceUpdate) (*models.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, err := s.readInstance(ctx, "UpdateInstance", id)
	if err != nil {
		return nil, err
	}

	err = store.ApplyInstanceUpdate(instance, update, s.now())
	if err != nil {
		return nil, err
	}

	err = s.writeInstance(ctx, instance)
	if err != nil {
		return nil, err
	}

	return instance, nil
}

func (s *Store) ListInstances(ctx context.Context) ([]*models.WorkflowInstance, error) {
	raw, err := s.client.HGetAll(ctx, instancesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	instances := make([]*models.WorkflowInstance, 0, len(raw))

	for id, value := range raw {
		var instance models.WorkflowInstance
		if err := json.Unmarshal([]byte(value), &instance); err != nil {
			return nil, fmt.Errorf("failed to decode instance %s: %w", id, err)
		}

		instances = append(instances, &instance)
	}

	return instances, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	return nil
}

func (s *Store) Close(_ context.Context) error {
	if s.client != nil {
		err := s.client.Close()
		if err != nil {
			return fmt.Errorf("failed to close Redis client: %w", err)
		}
	}

	return nil
}

func (s *Store) readTask(ctx context.Context, op, id string) (*models.Task, error) {
	value, err := s.client.HGet(ctx, tasksKey, id).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, &store.TaskStoreError{Op: op, ID: id, Err: store.ErrTaskNotFound}
		}

		return nil, fmt.Errorf("failed to read task %s: %w", id, err)
	}

	var task models.Task
	if err := json.Unmarshal([]byte(value), &task); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", id, err)
	}

	return &task, nil
}

func (s *Store) writeTask(ctx context.Context, task *models.Task) error {
	encoded, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", task.ID, err)
	}

	err = s.client.HSet(ctx, tasksKey, task.ID, string(encoded)).Err()
	if err != nil {
		return fmt.Errorf("failed to write task %s: %w", task.ID, err)
	}

	return nil
}

func (s *Store) readInstance(ctx context.Context, op, id string) (*models.WorkflowInstance, error) {
	value, err := s.client.HGet(ctx, instancesKey, id).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, &store.InstanceStoreError{Op: op, ID: id, Err: store.ErrInstanceNotFound}
		}

		return nil, fmt.Errorf("failed to read instance %s: %w", id, err)
	}

	var instance models.WorkflowInstance
	if err := json.Unmarshal([]byte(value), &instance); err != nil {
		return nil, fmt.Errorf("failed to decode instance %s: %w", id, err)
	}

	return &instance, nil
}

func (s *Store) writeInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	encoded, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to encode instance %s: %w", instance.ID, err)
	}

	err = s.client.HSet(ctx, instancesKey, instance.ID, string(encoded)).Err()
	if err != nil {
		return fmt.Errorf("failed to write instance %s: %w", instance.ID, err)
	}

	return nil
}
