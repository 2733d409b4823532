// Package taskstore is the authoritative in-memory collection of task
// records. Reads hand out snapshots; writes are serialized through the
// store. Registration of dependency edges with the graph happens on create
// and delete so the two structures never drift apart.
package taskstore

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/orchestrator/internal/depgraph"
	"github.com/agentmesh/orchestrator/pkg/types"
)

// Store holds all task records.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*types.WorkflowTask
	graph *depgraph.Graph
}

// New creates an empty store registering edges with the given graph.
func New(graph *depgraph.Graph) *Store {
	return &Store{
		tasks: make(map[string]*types.WorkflowTask),
		graph: graph,
	}
}

// Create validates the partial task, fills defaults, and registers its
// dependency edges. The task is not stored if edge registration is rejected
// (cycle), so failed creation leaves no side effects. Priority is defaulted
// at JSON decode time so an explicit 0 survives here.
func (s *Store) Create(task *types.WorkflowTask) (*types.WorkflowTask, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = types.TaskStatusPending
	}
	if task.Retry.MaxAttempts == 0 {
		task.Retry = types.DefaultRetryPolicy()
	}
	if task.Rollback == "" {
		task.Rollback = types.RollbackPreviousCheckpoint
	}
	for i := range task.Dependencies {
		if task.Dependencies[i].Type == "" {
			task.Dependencies[i].Type = types.DepFinishToStart
		}
	}
	if task.Tags == nil {
		task.Tags = []string{}
	}
	if task.Checkpoints == nil {
		task.Checkpoints = []types.Checkpoint{}
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return nil, &types.ValidationError{Field: "id", Message: "task " + task.ID + " already exists"}
	}
	if err := s.graph.AddTask(task); err != nil {
		return nil, err
	}
	stored := task.Clone()
	s.tasks[task.ID] = stored
	return stored.Clone(), nil
}

// Get returns a snapshot of the task.
func (s *Store) Get(id string) (*types.WorkflowTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// Update applies fn to the stored task under the write lock. fn sees the
// authoritative record; returning an error aborts the update.
func (s *Store) Update(id string, fn func(*types.WorkflowTask) error) (*types.WorkflowTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if err := fn(task); err != nil {
		return nil, err
	}
	return task.Clone(), nil
}

// Delete removes a task. Deletion is rejected with DependentsExistError
// while other tasks depend on it.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return types.ErrNotFound
	}
	if deps := s.graph.Dependents(id); len(deps) > 0 {
		return &types.DependentsExistError{TaskID: id, Dependents: deps}
	}
	s.graph.RemoveTask(id)
	delete(s.tasks, id)
	return nil
}

// Len returns the number of stored tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// All returns snapshots of every task, unordered.
func (s *Store) All() []*types.WorkflowTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.WorkflowTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.Clone())
	}
	return out
}
