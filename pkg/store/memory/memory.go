// Package memory provides the in-memory store implementation used by a
// single-process orchestrator. Records live for the process lifetime only.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tasklane/tasklane/pkg/models"
	"github.com/tasklane/tasklane/pkg/store"
)

// Store keeps tasks and instances in maps guarded by a single RWMutex.
// Mutations are serialized; reads and listings may run concurrently.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]*models.Task
	instances map[string]*models.WorkflowInstance
	now       func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		tasks:     make(map[string]*models.Task),
		instances: make(map[string]*models.WorkflowInstance),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NewStoreWithClock creates a store with an injectable clock for tests.
func NewStoreWithClock(now func() time.Time) *Store {
	s := NewStore()
	s.now = now

	return s
}

func (s *Store) CreateTask(_ context.Context, task *models.Task) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := cloneTask(task)
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

	s.tasks[record.ID] = record

	return cloneTask(record), nil
}

func (s *Store) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, &store.TaskStoreError{Op: "GetTask", ID: id, Err: store.ErrTaskNotFound}
	}

	return cloneTask(task), nil
}

func (s *Store) UpdateTask(_ context.Context, id string, update store.TaskUpdate) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, &store.TaskStoreError{Op: "UpdateTask", ID: id, Err: store.ErrTaskNotFound}
	}

	updated := cloneTask(task)

	err := store.ApplyTaskUpdate(updated, update, s.now())
	if err != nil {
		return nil, err
	}

	s.tasks[id] = updated

	return cloneTask(updated), nil
}

func (s *Store) ListTasks(_ context.Context, filter store.TaskFilter) (*store.TaskPage, error) {
	s.mu.RLock()

	matched := make([]*models.Task, 0)

	for _, task := range s.tasks {
		if store.MatchTask(task, filter) {
			matched = append(matched, cloneTask(task))
		}
	}

	s.mu.RUnlock()

	err := store.SortTasks(matched, filter.SortBy, filter.SortOrder)
	if err != nil {
		return nil, err
	}

	return store.PageTasks(matched, filter.Limit, filter.Offset), nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return &store.TaskStoreError{Op: "DeleteTask", ID: id, Err: store.ErrTaskNotFound}
	}

	if !task.Status.IsTerminal() {
		return &store.TaskStoreError{Op: "DeleteTask", ID: id, Err: store.ErrTaskNotTerminal}
	}

	delete(s.tasks, id)

	return nil
}

func (s *Store) CreateInstance(_ context.Context, instance *models.WorkflowInstance) (*models.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := cloneInstance(instance)
	if record.ID == "" {
		record.ID = "inst-" + uuid.New().String()[:8]
	}

	if record.Status == "" {
		record.Status = models.InstanceStatusRunning
	}

	now := s.now()
	record.CreatedAt = now
	record.UpdatedAt = now

	s.instances[record.ID] = record

	return cloneInstance(record), nil
}

func (s *Store) GetInstance(_ context.Context, id string) (*models.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instance, ok := s.instances[id]
	if !ok {
		return nil, &store.InstanceStoreError{Op: "GetInstance", ID: id, Err: store.ErrInstanceNotFound}
	}

	return cloneInstance(instance), nil
}

func (s *Store) UpdateInstance(_ context.Context, id string, update store.InstanceUpdate) (*models.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return nil, &store.InstanceStoreError{Op: "UpdateInstance", ID: id, Err: store.ErrInstanceNotFound}
	}

	updated := cloneInstance(instance)

	err := store.ApplyInstanceUpdate(updated, update, s.now())
	if err != nil {
		return nil, err
	}

	s.instances[id] = updated

	return cloneInstance(updated), nil
}

func (s *Store) ListInstances(_ context.Context) ([]*models.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances := make([]*models.WorkflowInstance, 0, len(s.instances))

	for _, instance := range s.instances {
		instances = append(instances, cloneInstance(instance))
	}

	return instances, nil
}

func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

func (s *Store) Close(_ context.Context) error {
	return nil
}

// cloneTask copies a task including its reference fields, so mutating a
// returned record never reaches back into store state.
func cloneTask(task *models.Task) *models.Task {
	result := *task
	result.Input = cloneMap(task.Input)
	result.DependsOn = append([]string(nil), task.DependsOn...)
	result.Output = cloneValue(task.Output)
	result.StartedAt = cloneTime(task.StartedAt)
	result.CompletedAt = cloneTime(task.CompletedAt)

	if task.LastError != nil {
		lastError := *task.LastError
		result.LastError = &lastError
	}

	return &result
}

func cloneInstance(instance *models.WorkflowInstance) *models.WorkflowInstance {
	result := *instance
	result.TriggerData = cloneMap(instance.TriggerData)
	result.CompletedAt = cloneTime(instance.CompletedAt)

	return &result
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = cloneValue(v)
	}

	return result
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = cloneValue(item)
		}

		return result
	default:
		return value
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	copied := *t

	return &copied
}
