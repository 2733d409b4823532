package engine

import (
	"time"

	"github.com/agentmesh/orchestrator/internal/resources"
	"github.com/agentmesh/orchestrator/pkg/types"
)

// DependencyStatus describes one dependency edge from the task's point of
// view.
type DependencyStatus struct {
	TaskID    string               `json:"task_id"`
	Type      types.DependencyType `json:"type"`
	Lag       time.Duration        `json:"lag,omitempty"`
	Status    types.TaskStatus     `json:"status"`
	Satisfied bool                 `json:"satisfied"`
}

// TaskStatusReport aggregates everything known about a task: the record
// itself, the readiness of each dependency, the state of each claimed
// resource, and schedule pressure.
type TaskStatusReport struct {
	Task         *types.WorkflowTask `json:"task"`
	Ready        bool                `json:"ready"`
	Dependencies []DependencyStatus  `json:"dependencies,omitempty"`
	Dependents   []string            `json:"dependents,omitempty"`
	Resources    []resources.Status  `json:"resources,omitempty"`
	Overdue      bool                `json:"overdue"`
	NextRetryAt  *time.Time          `json:"next_retry_at,omitempty"`
}

// GetTaskStatus returns the aggregated status report for a task.
func (e *Engine) GetTaskStatus(id string) (*TaskStatusReport, error) {
	task, ok := e.store.Get(id)
	if !ok {
		return nil, types.ErrNotFound
	}

	now := time.Now()
	report := &TaskStatusReport{
		Task:       task,
		Ready:      e.graph.IsReady(id, now),
		Dependents: e.graph.Dependents(id),
		Overdue:    task.Overdue(now),
	}

	for _, dep := range task.Dependencies {
		ds := DependencyStatus{
			TaskID:    dep.TaskID,
			Type:      dep.Type,
			Lag:       dep.Lag,
			Satisfied: e.graph.Satisfied(dep, now),
		}
		if depTask, ok := e.store.Get(dep.TaskID); ok {
			ds.Status = depTask.Status
		}
		report.Dependencies = append(report.Dependencies, ds)
	}

	for _, req := range task.Resources {
		report.Resources = append(report.Resources, e.ledger.StatusOf(req.ResourceID))
	}

	e.mu.Lock()
	if at, ok := e.retryAt[id]; ok {
		t := at
		report.NextRetryAt = &t
	}
	e.mu.Unlock()

	return report, nil
}

// ResourceStatus reports the ledger view of one resource.
func (e *Engine) ResourceStatus(resourceID string) resources.Status {
	return e.ledger.StatusOf(resourceID)
}
