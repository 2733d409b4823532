package executor

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentmesh/orchestrator/pkg/types"
)

// RetryController decides whether a failed task gets another attempt and
// how long it must wait first. It keeps per-task backoff state so each
// consecutive failure sees a longer delay; the state resets when the task
// succeeds or settles into terminal failure.
type RetryController struct {
	mu    sync.Mutex
	state map[string]*backoff.ExponentialBackOff
}

// NewRetryController creates an empty retry controller.
func NewRetryController() *RetryController {
	return &RetryController{
		state: make(map[string]*backoff.ExponentialBackOff),
	}
}

// Next consults the task's retry policy after a failed attempt. It returns
// the backoff delay before the task may be re-queued and whether another
// attempt is granted at all. task.Attempts must already count the attempt
// that just failed.
func (r *RetryController) Next(task *types.WorkflowTask) (time.Duration, bool) {
	if task.Attempts >= task.Retry.MaxAttempts {
		r.Reset(task.ID)
		return 0, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bo, ok := r.state[task.ID]
	if !ok {
		bo = backoff.NewExponentialBackOff()
		bo.InitialInterval = task.Retry.Backoff
		bo.Multiplier = task.Retry.BackoffMultiplier
		if bo.Multiplier <= 0 {
			bo.Multiplier = 1
		}
		// Deterministic delays; the policy's formula is the contract.
		bo.RandomizationFactor = 0
		bo.MaxInterval = time.Hour
		bo.MaxElapsedTime = 0
		bo.Reset()
		r.state[task.ID] = bo
	}
	return bo.NextBackOff(), true
}

// Reset clears the backoff state for a task. Called on success and on
// terminal failure so a later re-execution starts fresh.
func (r *RetryController) Reset(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, taskID)
}
