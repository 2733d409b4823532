package types

import "time"

// WorkflowStatus represents the aggregate state of a workflow run.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// ParallelismStrategy is the iteration-order hint a workflow feeds the
// scheduler.
type ParallelismStrategy string

const (
	// StrategyBreadthFirst runs every task with no unmet dependencies before
	// any of their dependents, regardless of dependent priority.
	StrategyBreadthFirst ParallelismStrategy = "breadth-first"
	// StrategyDepthFirst follows one dependency chain to completion before
	// starting sibling chains.
	StrategyDepthFirst ParallelismStrategy = "depth-first"
	// StrategyPriority defers entirely to the scheduler's priority order.
	StrategyPriority ParallelismStrategy = "priority-based"
)

// Valid reports whether s is a known parallelism strategy.
func (s ParallelismStrategy) Valid() bool {
	switch s {
	case StrategyBreadthFirst, StrategyDepthFirst, StrategyPriority:
		return true
	}
	return false
}

// ErrorStrategy is a workflow's policy for task failure.
type ErrorStrategy string

const (
	// ErrFailFast cancels all non-terminal workflow tasks on first failure.
	ErrFailFast ErrorStrategy = "fail-fast"
	// ErrContinue lets siblings proceed; the workflow is failed if any task
	// failed.
	ErrContinue ErrorStrategy = "continue-on-error"
	// ErrRetryFailed re-queues failed tasks up to MaxRetries, then falls
	// back to continue-on-error semantics.
	ErrRetryFailed ErrorStrategy = "retry-failed"
)

// Valid reports whether s is a known error strategy.
func (s ErrorStrategy) Valid() bool {
	switch s {
	case ErrFailFast, ErrContinue, ErrRetryFailed:
		return true
	}
	return false
}

// Parallelism configures how many workflow tasks run at once and in what
// order candidates are offered to the scheduler.
type Parallelism struct {
	MaxConcurrent int                 `json:"max_concurrent"`
	Strategy      ParallelismStrategy `json:"strategy"`
}

// ErrorHandling configures a workflow's failure policy.
type ErrorHandling struct {
	Strategy   ErrorStrategy `json:"strategy"`
	MaxRetries int           `json:"max_retries,omitempty"`
}

// Workflow is a named group of tasks with a shared parallelism strategy and
// error-handling policy.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Tasks       []*WorkflowTask `json:"tasks"`
	Parallelism Parallelism     `json:"parallelism"`
	Errors      ErrorHandling   `json:"error_handling"`

	Status     WorkflowStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of the workflow, tasks included.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	cp := *w
	if w.Tasks != nil {
		cp.Tasks = make([]*WorkflowTask, len(w.Tasks))
		for i, t := range w.Tasks {
			cp.Tasks[i] = t.Clone()
		}
	}
	if w.StartedAt != nil {
		ts := *w.StartedAt
		cp.StartedAt = &ts
	}
	if w.FinishedAt != nil {
		ts := *w.FinishedAt
		cp.FinishedAt = &ts
	}
	return &cp
}

// Validate checks structural invariants on a workflow definition.
// Cross-task cycle detection happens at registration, not here.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return &ValidationError{Field: "name", Message: "workflow name is required"}
	}
	if len(w.Tasks) == 0 {
		return &ValidationError{Field: "tasks", Message: "workflow needs at least one task"}
	}
	if w.Parallelism.Strategy != "" && !w.Parallelism.Strategy.Valid() {
		return &ValidationError{Field: "parallelism", Message: "unknown strategy " + string(w.Parallelism.Strategy)}
	}
	if w.Parallelism.MaxConcurrent < 0 {
		return &ValidationError{Field: "parallelism", Message: "max_concurrent must be non-negative"}
	}
	if w.Errors.Strategy != "" && !w.Errors.Strategy.Valid() {
		return &ValidationError{Field: "error_handling", Message: "unknown strategy " + string(w.Errors.Strategy)}
	}
	seen := make(map[string]bool, len(w.Tasks))
	for _, t := range w.Tasks {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.ID] {
			return &ValidationError{Field: "tasks", Message: "duplicate task id " + t.ID}
		}
		seen[t.ID] = true
	}
	return nil
}

// WorkflowResult aggregates per-task outcomes after a workflow run.
type WorkflowResult struct {
	WorkflowID string                `json:"workflow_id"`
	Status     WorkflowStatus        `json:"status"`
	Tasks      map[string]TaskStatus `json:"tasks"`
	Duration   time.Duration         `json:"duration"`
	Error      string                `json:"error,omitempty"`
}
