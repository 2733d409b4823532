package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentmesh/orchestrator/internal/rollback"
	"github.com/agentmesh/orchestrator/pkg/types"
)

// CancelOptions controls a cancellation request.
type CancelOptions struct {
	// Reason is recorded on the task and included in the emitted event.
	Reason string `json:"reason,omitempty"`

	// Rollback restores checkpoint state on tasks that had begun running.
	// Callers that decode from JSON default this to true.
	Rollback bool `json:"rollback"`

	// Cascade extends the cancellation to every transitive dependent.
	Cascade bool `json:"cascade,omitempty"`

	// Force overrides AlreadyTerminalError for a completed target.
	Force bool `json:"force,omitempty"`
}

// CancelResult records what happened to a single task during a cancel
// request.
type CancelResult struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
	Reason    string `json:"reason,omitempty"`

	// RollbackError is set when the task was cancelled but checkpoint
	// restoration failed, so its state may be inconsistent.
	RollbackError string `json:"rollback_error,omitempty"`
}

// CancelReport summarizes a cancellation, including any cascaded
// dependents. A failure on one dependent never stops the cascade.
type CancelReport struct {
	Requested string         `json:"requested"`
	Results   []CancelResult `json:"results"`
}

// CancelTask cancels a task. Pending and queued tasks are marked cancelled
// and their resource claims dropped; running tasks have their attempt
// context cancelled and are recorded here, not by the execution controller.
// A target already in a terminal state is rejected with
// AlreadyTerminalError; Force overrides that for completed targets only.
// With Cascade, dependents are cancelled transitively with a derived
// reason, and terminal dependents are reported untouched rather than
// rejected.
func (e *Engine) CancelTask(ctx context.Context, id string, opts CancelOptions) (*CancelReport, error) {
	task, ok := e.store.Get(id)
	if !ok {
		return nil, types.ErrNotFound
	}
	if task.Status.IsTerminal() && !(opts.Force && task.Status == types.TaskStatusCompleted) {
		return nil, &types.AlreadyTerminalError{TaskID: id, Status: task.Status}
	}

	report := &CancelReport{Requested: id}
	report.Results = append(report.Results, e.cancelOne(ctx, id, opts.Reason, opts.Rollback, opts.Force))

	if opts.Cascade {
		derived := fmt.Sprintf("parent task %s was cancelled", id)
		for _, target := range e.transitiveDependents(id) {
			report.Results = append(report.Results, e.cancelOne(ctx, target, derived, opts.Rollback, false))
		}
	}

	e.Wake()
	return report, nil
}

// transitiveDependents walks the dependents closure of id, breadth first,
// deduplicated, excluding id itself.
func (e *Engine) transitiveDependents(id string) []string {
	seen := map[string]bool{id: true}
	queue := e.graph.Dependents(id)
	var out []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, e.graph.Dependents(next)...)
	}
	return out
}

func (e *Engine) cancelOne(ctx context.Context, id, reason string, rollbackState, force bool) CancelResult {
	task, ok := e.store.Get(id)
	if !ok {
		return CancelResult{TaskID: id, Reason: "not found"}
	}
	if task.Status.IsTerminal() && !(force && task.Status == types.TaskStatusCompleted) {
		return CancelResult{TaskID: id, Reason: (&types.AlreadyTerminalError{TaskID: id, Status: task.Status}).Error()}
	}

	// Interrupt a live attempt before touching the record so the
	// controller steps aside instead of racing a terminal write.
	e.mu.Lock()
	if cancelAttempt, ok := e.running[id]; ok {
		cancelAttempt()
		delete(e.running, id)
	}
	delete(e.retryAt, id)
	e.mu.Unlock()

	e.ledger.Release(id)

	var restored map[string]any
	var rbErr error
	if rollbackState {
		restored, rbErr = e.rollbackOnCancel(task)
	}

	updated, err := e.store.Update(id, func(t *types.WorkflowTask) error {
		if t.Status == types.TaskStatusCancelled {
			return nil
		}
		if force && t.Status == types.TaskStatusCompleted {
			t.Status = types.TaskStatusCancelled
		} else if err := t.Transition(types.TaskStatusCancelled); err != nil {
			return err
		}
		t.CancelReason = reason
		if restored != nil {
			t.RestoredState = restored
		}
		return nil
	})
	if err != nil {
		return CancelResult{TaskID: id, Reason: err.Error()}
	}

	e.logger.Info("task cancelled", "task_id", id, "reason", reason, "rolled_back", restored != nil)
	e.emit(ctx, types.EventTaskCancelled, id, map[string]any{
		"reason":      reason,
		"rolled_back": restored != nil,
	})
	e.taskFinished(ctx, updated, types.TaskStatusCancelled)

	result := CancelResult{TaskID: id, Cancelled: true, Reason: reason}
	if rbErr != nil {
		result.RollbackError = rbErr.Error()
	}
	return result
}

// rollbackOnCancel applies the task's rollback strategy when the task had
// begun running. It returns the restored snapshot, or nil when there is
// nothing to restore. A selection failure never blocks cancellation; it is
// returned as a RollbackFailure so the caller learns the task's state may
// be inconsistent.
func (e *Engine) rollbackOnCancel(task *types.WorkflowTask) (map[string]any, error) {
	if task.StartedAt == nil || len(task.Checkpoints) == 0 {
		if task.Rollback == types.RollbackInitialState && task.StartedAt != nil {
			return map[string]any{}, nil
		}
		return nil, nil
	}
	cp, err := e.selector.Select(task)
	if err != nil {
		if errors.Is(err, rollback.ErrNoCheckpoints) {
			return nil, nil
		}
		e.logger.Warn("rollback selection failed", "task_id", task.ID, "error", err)
		return nil, &types.RollbackFailure{TaskID: task.ID, Err: err}
	}
	rollback.Apply(task, cp)
	return task.RestoredState, nil
}
