// Package rollback selects the checkpoint a cancelled task is restored to.
package rollback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/agentmesh/orchestrator/pkg/types"
)

// ErrNoCheckpoints is returned when a task has no checkpoints to restore.
var ErrNoCheckpoints = errors.New("no checkpoints recorded")

// Selector picks rollback targets. Custom-strategy expressions are compiled
// once and cached for reuse.
type Selector struct {
	mu       sync.RWMutex
	compiled map[string]*vm.Program

	// MaxExpressionLength limits selector size (default: 4096)
	MaxExpressionLength int
}

// NewSelector creates a checkpoint selector.
func NewSelector() *Selector {
	return &Selector{
		compiled:            make(map[string]*vm.Program),
		MaxExpressionLength: 4096,
	}
}

// Select returns the checkpoint the task should be restored to under its
// rollback strategy. The checkpoint list is never modified.
func (s *Selector) Select(task *types.WorkflowTask) (types.Checkpoint, error) {
	if len(task.Checkpoints) == 0 {
		return types.Checkpoint{}, ErrNoCheckpoints
	}

	switch task.Rollback {
	case types.RollbackInitialState:
		return task.Checkpoints[0], nil
	case types.RollbackCustom:
		return s.selectCustom(task)
	default:
		// previous-checkpoint: the most recent entry.
		return task.Checkpoints[len(task.Checkpoints)-1], nil
	}
}

// selectCustom evaluates the task's selector expression against each
// checkpoint, newest first, and returns the first match. The environment
// exposes `checkpoint` (description, snapshot, index) and `task` (id,
// progress).
func (s *Selector) selectCustom(task *types.WorkflowTask) (types.Checkpoint, error) {
	if task.RollbackSelector == "" {
		return types.Checkpoint{}, fmt.Errorf("task %s: custom rollback without selector", task.ID)
	}

	for i := len(task.Checkpoints) - 1; i >= 0; i-- {
		cp := task.Checkpoints[i]
		env := map[string]interface{}{
			"checkpoint": map[string]interface{}{
				"description": cp.Description,
				"snapshot":    cp.Snapshot,
				"index":       i,
			},
			"task": map[string]interface{}{
				"id":       task.ID,
				"progress": task.Progress,
			},
		}
		match, err := s.evaluateBool(task.RollbackSelector, env)
		if err != nil {
			return types.Checkpoint{}, err
		}
		if match {
			return cp, nil
		}
	}
	return types.Checkpoint{}, fmt.Errorf("selector %q matched no checkpoint", task.RollbackSelector)
}

func (s *Selector) evaluateBool(expression string, env map[string]interface{}) (bool, error) {
	if len(expression) > s.MaxExpressionLength {
		return false, fmt.Errorf("selector exceeds maximum length of %d characters", s.MaxExpressionLength)
	}

	s.mu.RLock()
	prog, ok := s.compiled[expression]
	s.mu.RUnlock()

	if !ok {
		var err error
		prog, err = expr.Compile(expression, expr.Env(env))
		if err != nil {
			return false, fmt.Errorf("compile selector %q: %w", expression, err)
		}
		s.mu.Lock()
		s.compiled[expression] = prog
		s.mu.Unlock()
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate selector %q: %w", expression, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("selector %q returned %T, expected bool", expression, result)
	}
	return b, nil
}

// Apply restores the task record to the checkpoint. The snapshot becomes
// the task's restored state; checkpoint history is preserved.
func Apply(task *types.WorkflowTask, cp types.Checkpoint) {
	task.RestoredState = cp.Snapshot
	if v, ok := cp.Snapshot["progress"].(float64); ok {
		task.Progress = v
	} else {
		task.Progress = 0
	}
}
