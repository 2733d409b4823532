package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gammazero/toposort"
	"github.com/google/uuid"

	"github.com/agentmesh/orchestrator/internal/metrics"
	"github.com/agentmesh/orchestrator/pkg/types"
)

// workflowRun is the live accounting of an executing workflow.
type workflowRun struct {
	workflow  *types.Workflow
	remaining map[string]bool
	statuses  map[string]types.TaskStatus
	retried   map[string]int
	started   time.Time
	failFired bool
	done      chan struct{}
	result    *types.WorkflowResult
}

// CreateWorkflow validates and registers a workflow definition. Tasks are
// not submitted until ExecuteWorkflow. Internal dependency references must
// form a DAG; the cycle check runs over the definition in isolation, before
// any task touches the shared graph.
func (e *Engine) CreateWorkflow(ctx context.Context, wf *types.Workflow) (*types.Workflow, error) {
	if wf == nil {
		return nil, &types.ValidationError{Field: "workflow", Message: "workflow is required"}
	}
	wf = wf.Clone()
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	wf.Status = types.WorkflowStatusPending
	wf.CreatedAt = time.Now().UTC()
	if wf.Parallelism.MaxConcurrent <= 0 {
		wf.Parallelism.MaxConcurrent = e.cfg.MaxConcurrent
	}
	if wf.Parallelism.Strategy == "" {
		wf.Parallelism.Strategy = types.StrategyPriority
	}
	if wf.Errors.Strategy == "" {
		wf.Errors.Strategy = types.ErrFailFast
	}
	for _, task := range wf.Tasks {
		for i := range task.Dependencies {
			if task.Dependencies[i].Type == "" {
				task.Dependencies[i].Type = types.DepFinishToStart
			}
		}
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	if _, err := topoOrder(wf); err != nil {
		return nil, err
	}

	e.wfMu.Lock()
	if _, exists := e.workflows[wf.ID]; exists {
		e.wfMu.Unlock()
		return nil, &types.ValidationError{Field: "id", Message: "workflow id already exists"}
	}
	e.workflows[wf.ID] = wf
	e.wfMu.Unlock()

	e.emit(ctx, types.EventWorkflowCreated, "", map[string]any{
		"workflow_id": wf.ID,
		"name":        wf.Name,
		"tasks":       len(wf.Tasks),
	})
	return wf.Clone(), nil
}

// GetWorkflow returns a snapshot of a registered workflow.
func (e *Engine) GetWorkflow(id string) (*types.Workflow, error) {
	e.wfMu.RLock()
	wf, ok := e.workflows[id]
	e.wfMu.RUnlock()
	if !ok {
		return nil, types.ErrNotFound
	}
	return wf.Clone(), nil
}

// ListWorkflows returns all registered workflows, newest first.
func (e *Engine) ListWorkflows() []*types.Workflow {
	e.wfMu.RLock()
	defer e.wfMu.RUnlock()
	out := make([]*types.Workflow, 0, len(e.workflows))
	for _, wf := range e.workflows {
		out = append(out, wf.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// StartWorkflow submits a workflow's tasks and begins execution without
// waiting for completion.
func (e *Engine) StartWorkflow(ctx context.Context, id string) error {
	_, err := e.startWorkflow(ctx, id)
	return err
}

// ExecuteWorkflow submits a workflow's tasks and blocks until every task
// reaches a terminal state or ctx is cancelled.
func (e *Engine) ExecuteWorkflow(ctx context.Context, id string) (*types.WorkflowResult, error) {
	run, err := e.startWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.done:
		return run.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) startWorkflow(ctx context.Context, id string) (*workflowRun, error) {
	e.wfMu.Lock()
	wf, ok := e.workflows[id]
	if !ok {
		e.wfMu.Unlock()
		return nil, types.ErrNotFound
	}
	if existing, live := e.wfRuns[id]; live {
		e.wfMu.Unlock()
		select {
		case <-existing.done:
			return nil, &types.ValidationError{Field: "status", Message: "workflow already executed"}
		default:
			return nil, &types.ValidationError{Field: "status", Message: "workflow already running"}
		}
	}

	order, err := topoOrder(wf)
	if err != nil {
		e.wfMu.Unlock()
		return nil, err
	}
	hints := orderHints(wf, order)

	run := &workflowRun{
		workflow:  wf,
		remaining: make(map[string]bool, len(wf.Tasks)),
		statuses:  make(map[string]types.TaskStatus, len(wf.Tasks)),
		retried:   make(map[string]int),
		started:   time.Now(),
		done:      make(chan struct{}),
	}
	for _, t := range wf.Tasks {
		run.remaining[t.ID] = true
	}
	e.wfRuns[id] = run
	wf.Status = types.WorkflowStatusRunning
	now := time.Now().UTC()
	wf.StartedAt = &now
	e.wfMu.Unlock()

	e.mu.Lock()
	e.wfLimits[id] = wf.Parallelism.MaxConcurrent
	e.mu.Unlock()

	// Submit in topological order so every task's dependencies are already
	// present in the shared graph.
	var created []string
	for _, taskID := range order {
		task := taskByID(wf, taskID)
		submit := task.Clone()
		submit.WorkflowID = id
		submit.Status = types.TaskStatusPending
		if _, err := e.store.Create(submit); err != nil {
			for _, prev := range created {
				_ = e.store.Delete(prev)
			}
			e.wfMu.Lock()
			delete(e.wfRuns, id)
			wf.Status = types.WorkflowStatusPending
			wf.StartedAt = nil
			e.wfMu.Unlock()
			e.mu.Lock()
			delete(e.wfLimits, id)
			e.mu.Unlock()
			return nil, fmt.Errorf("submit workflow task %s: %w", taskID, err)
		}
		created = append(created, taskID)
		e.emit(ctx, types.EventTaskCreated, taskID, map[string]any{"workflow_id": id})
	}

	e.mu.Lock()
	for taskID, hint := range hints {
		e.hints[taskID] = hint
	}
	e.mu.Unlock()

	e.logger.Info("workflow started", "workflow_id", id, "tasks", len(order),
		"strategy", string(wf.Parallelism.Strategy), "errors", string(wf.Errors.Strategy))
	e.Wake()
	return run, nil
}

// taskFinished records a terminal status against the owning workflow run,
// applies the workflow's error strategy, and finalizes the run when no
// tasks remain.
func (e *Engine) taskFinished(ctx context.Context, task *types.WorkflowTask, status types.TaskStatus) {
	if task.WorkflowID == "" {
		return
	}

	e.wfMu.Lock()
	run, ok := e.wfRuns[task.WorkflowID]
	if !ok || !run.remaining[task.ID] {
		e.wfMu.Unlock()
		return
	}

	if status == types.TaskStatusFailed && run.workflow.Errors.Strategy == types.ErrRetryFailed &&
		run.retried[task.ID] < run.workflow.Errors.MaxRetries {
		run.retried[task.ID]++
		e.wfMu.Unlock()
		if _, err := e.store.Update(task.ID, func(t *types.WorkflowTask) error {
			return t.Transition(types.TaskStatusQueued)
		}); err == nil {
			e.logger.Info("workflow task re-queued",
				"workflow_id", task.WorkflowID, "task_id", task.ID)
			e.Wake()
			return
		}
		e.wfMu.Lock()
	}

	delete(run.remaining, task.ID)
	run.statuses[task.ID] = status

	failFast := status == types.TaskStatusFailed &&
		run.workflow.Errors.Strategy == types.ErrFailFast && !run.failFired
	if failFast {
		run.failFired = true
	}
	finished := len(run.remaining) == 0
	if finished {
		e.finalizeRunLocked(task.WorkflowID, run)
	}
	e.wfMu.Unlock()

	if failFast {
		e.failFastCancel(ctx, run)
	}
	if finished {
		e.emit(ctx, types.EventWorkflowCompleted, "", map[string]any{
			"workflow_id": task.WorkflowID,
			"status":      string(run.result.Status),
		})
	}
}

// failFastCancel cancels every still-live task of the run. The cancellations
// flow back through taskFinished and drain the run.
func (e *Engine) failFastCancel(ctx context.Context, run *workflowRun) {
	e.wfMu.RLock()
	var live []string
	for taskID := range run.remaining {
		live = append(live, taskID)
	}
	e.wfMu.RUnlock()
	sort.Strings(live)
	reason := fmt.Sprintf("workflow %s aborted on first failure", run.workflow.ID)
	for _, taskID := range live {
		e.cancelOne(ctx, taskID, reason, true, false)
	}
}

func (e *Engine) finalizeRunLocked(id string, run *workflowRun) {
	status := types.WorkflowStatusCompleted
	for _, s := range run.statuses {
		if s == types.TaskStatusFailed {
			status = types.WorkflowStatusFailed
			break
		}
		if s == types.TaskStatusCancelled {
			status = types.WorkflowStatusCancelled
		}
	}

	now := time.Now().UTC()
	run.workflow.Status = status
	run.workflow.FinishedAt = &now

	tasks := make(map[string]types.TaskStatus, len(run.statuses))
	for taskID, s := range run.statuses {
		tasks[taskID] = s
	}
	run.result = &types.WorkflowResult{
		WorkflowID: id,
		Status:     status,
		Tasks:      tasks,
		Duration:   time.Since(run.started),
	}
	if status == types.WorkflowStatusFailed {
		run.result.Error = "one or more tasks failed"
	}

	metrics.WorkflowsTotal.WithLabelValues(string(status)).Inc()
	e.logger.Info("workflow finished", "workflow_id", id,
		"status", string(status), "duration", run.result.Duration)

	e.mu.Lock()
	delete(e.wfLimits, id)
	for taskID := range run.statuses {
		delete(e.hints, taskID)
	}
	e.mu.Unlock()

	close(run.done)
}

// topoOrder returns a topological ordering of a workflow's tasks, or a
// CyclicDependencyError. Dependencies pointing outside the workflow are
// rejected here; at submission time they would dangle in the shared graph.
func topoOrder(wf *types.Workflow) ([]string, error) {
	ids := make(map[string]bool, len(wf.Tasks))
	for _, t := range wf.Tasks {
		ids[t.ID] = true
	}

	var edges []toposort.Edge
	for _, t := range wf.Tasks {
		if len(t.Dependencies) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range t.Dependencies {
			if !ids[dep.TaskID] {
				return nil, &types.ValidationError{
					Field:   "dependencies",
					Message: fmt.Sprintf("task %s depends on unknown task %s", t.ID, dep.TaskID),
				}
			}
			edges = append(edges, toposort.Edge{dep.TaskID, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		var path []string
		for _, t := range wf.Tasks {
			path = append(path, t.ID)
		}
		sort.Strings(path)
		return nil, &types.CyclicDependencyError{Path: path}
	}

	order := make([]string, 0, len(sorted))
	for _, v := range sorted {
		if v != nil {
			order = append(order, v.(string))
		}
	}
	return order, nil
}

// orderHints maps each task to its scheduling hint for the workflow's
// parallelism strategy. Breadth-first ranks by dependency depth so whole
// levels drain together; depth-first ranks by topological position so one
// chain runs to completion before siblings start; priority-based leaves
// ordering to task priority alone.
func orderHints(wf *types.Workflow, order []string) map[string]int {
	hints := make(map[string]int, len(order))
	switch wf.Parallelism.Strategy {
	case types.StrategyBreadthFirst:
		depth := make(map[string]int, len(order))
		for _, id := range order {
			t := taskByID(wf, id)
			d := 0
			for _, dep := range t.Dependencies {
				if dd := depth[dep.TaskID] + 1; dd > d {
					d = dd
				}
			}
			depth[id] = d
			hints[id] = d
		}
	case types.StrategyDepthFirst:
		for i, id := range order {
			hints[id] = i
		}
	default:
		for _, id := range order {
			hints[id] = 0
		}
	}
	return hints
}

func taskByID(wf *types.Workflow, id string) *types.WorkflowTask {
	for _, t := range wf.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
