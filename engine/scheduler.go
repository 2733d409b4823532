package engine

import (
	"context"
	"sort"
	"time"

	"github.com/agentmesh/orchestrator/internal/executor"
	"github.com/agentmesh/orchestrator/internal/metrics"
	"github.com/agentmesh/orchestrator/pkg/types"
)

// loop runs scheduling passes until ctx is cancelled. A pass is triggered
// by an explicit wake (task created, attempt finished, cancellation) and by
// a fallback tick that covers time-gated eligibility: future start times,
// dependency lag windows, retry backoff expiry.
func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		e.schedulePass(ctx)
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		case <-ticker.C:
		}
	}
}

// schedulePass promotes every eligible task it can. Candidate ordering and
// resource acquisition happen under the engine lock so concurrent passes
// can never double-claim an exclusive resource; execution itself is
// dispatched onto goroutines outside the lock.
func (e *Engine) schedulePass(ctx context.Context) {
	now := time.Now()

	e.mu.Lock()
	candidates := e.candidatesLocked(now)
	metrics.SchedulerQueueDepth.Set(float64(len(candidates)))

	// Per-workflow running counts for workflow concurrency caps.
	wfActive := make(map[string]int)
	for id := range e.running {
		if t, ok := e.store.Get(id); ok && t.WorkflowID != "" {
			wfActive[t.WorkflowID]++
		}
	}

	type dispatchItem struct {
		id  string
		ctx context.Context
	}
	var dispatch []dispatchItem
	for _, task := range candidates {
		if limit, capped := e.wfLimits[task.WorkflowID]; capped && wfActive[task.WorkflowID] >= limit {
			continue
		}
		if !e.graph.IsReady(task.ID, now) {
			continue
		}
		if !e.slots.TryAcquire(1) {
			break
		}
		if len(task.Resources) > 0 {
			e.ledger.Enqueue(task.ID, task.Resources)
			if err := e.ledger.TryAcquire(task.ID, task.Resources); err != nil {
				e.slots.Release(1)
				if denial, ok := err.(*types.ResourceUnavailableError); ok {
					metrics.ResourceDenials.WithLabelValues(denial.ResourceID).Inc()
				}
				continue
			}
		}
		if task.Status == types.TaskStatusPending {
			if _, err := e.store.Update(task.ID, func(t *types.WorkflowTask) error {
				return t.Transition(types.TaskStatusQueued)
			}); err != nil {
				e.ledger.Release(task.ID)
				e.slots.Release(1)
				continue
			}
		}
		delete(e.retryAt, task.ID)
		if task.WorkflowID != "" {
			wfActive[task.WorkflowID]++
		}
		attemptCtx, cancelAttempt := context.WithCancel(ctx)
		e.running[task.ID] = cancelAttempt
		dispatch = append(dispatch, dispatchItem{id: task.ID, ctx: attemptCtx})
	}
	e.mu.Unlock()

	for _, item := range dispatch {
		go e.runOne(item.ctx, item.id)
	}
}

// candidatesLocked collects dispatchable tasks in scheduling order:
// workflow ordering hint ascending, then priority descending, then
// creation time ascending, with id as the final tie-break.
func (e *Engine) candidatesLocked(now time.Time) []*types.WorkflowTask {
	var out []*types.WorkflowTask
	for _, task := range e.store.All() {
		switch task.Status {
		case types.TaskStatusPending:
			if task.Schedule != nil && task.Schedule.StartTime != nil && task.Schedule.StartTime.After(now) {
				continue
			}
		case types.TaskStatusQueued:
			if _, dispatched := e.running[task.ID]; dispatched {
				continue
			}
			if at, ok := e.retryAt[task.ID]; ok && at.After(now) {
				continue
			}
		default:
			continue
		}
		out = append(out, task)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ha, hb := e.hints[a.ID], e.hints[b.ID]; ha != hb {
			return ha < hb
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// runOne drives a dispatched task through one attempt and files the
// outcome.
func (e *Engine) runOne(ctx context.Context, taskID string) {
	out := e.ctrl.Run(ctx, taskID)
	e.onOutcome(ctx, out)
}

// onOutcome handles retry bookkeeping, workflow accounting, recurrence,
// and slot release after an attempt finishes.
func (e *Engine) onOutcome(ctx context.Context, out executor.Outcome) {
	// The attempt context is cancelled once the attempt is over; event
	// emission and recurrence spawning must outlive it.
	ctx = context.WithoutCancel(ctx)

	e.mu.Lock()
	if cancel, ok := e.running[out.TaskID]; ok {
		cancel()
		delete(e.running, out.TaskID)
	}
	e.mu.Unlock()
	e.slots.Release(1)

	task, ok := e.store.Get(out.TaskID)
	if !ok {
		e.Wake()
		return
	}

	switch out.Status {
	case types.TaskStatusCompleted:
		e.retries.Reset(out.TaskID)
		metrics.TaskRetries.WithLabelValues(string(types.TaskStatusCompleted)).Observe(float64(task.Attempts - 1))
		e.spawnRecurrence(ctx, task)
		e.taskFinished(ctx, task, types.TaskStatusCompleted)

	case types.TaskStatusFailed:
		if delay, granted := e.retries.Next(task); granted {
			requeued, err := e.store.Update(out.TaskID, func(t *types.WorkflowTask) error {
				return t.Transition(types.TaskStatusQueued)
			})
			if err == nil {
				e.mu.Lock()
				e.retryAt[out.TaskID] = time.Now().Add(delay)
				e.mu.Unlock()
				e.logger.Info("task re-queued for retry",
					"task_id", out.TaskID,
					"attempt", requeued.Attempts,
					"delay", delay)
				e.emit(ctx, types.EventTaskStatus, out.TaskID, map[string]any{
					"status":   string(types.TaskStatusQueued),
					"retry_in": delay.String(),
				})
				e.Wake()
				return
			}
		}
		e.retries.Reset(out.TaskID)
		metrics.TaskRetries.WithLabelValues(string(types.TaskStatusFailed)).Observe(float64(task.Attempts - 1))
		e.taskFinished(ctx, task, types.TaskStatusFailed)

	case types.TaskStatusCancelled:
		e.retries.Reset(out.TaskID)
		e.taskFinished(ctx, task, types.TaskStatusCancelled)
	}

	e.Wake()
}

// spawnRecurrence creates the next occurrence of a recurring task. The new
// task is a fresh pending record with the start time advanced one interval;
// occurrence counting is carried in the recurring count, which reaches the
// new task decremented.
func (e *Engine) spawnRecurrence(ctx context.Context, task *types.WorkflowTask) {
	if task.Schedule == nil || task.Schedule.Recurring == nil {
		return
	}
	rec := task.Schedule.Recurring
	if rec.Count == 1 {
		return
	}
	step := rec.Interval.Duration()
	if step <= 0 {
		return
	}

	next := task.Clone()
	next.ID = ""
	next.Status = types.TaskStatusPending
	next.Progress = 0
	next.Attempts = 0
	next.Error = ""
	next.StartedAt = nil
	next.CompletedAt = nil
	next.ActualDuration = 0
	next.Checkpoints = nil
	next.RestoredState = nil

	base := time.Now()
	if task.Schedule.StartTime != nil {
		base = *task.Schedule.StartTime
	}
	start := base.Add(step)
	sched := *task.Schedule
	sched.StartTime = &start
	if rec.Count > 1 {
		recNext := *rec
		recNext.Count = rec.Count - 1
		sched.Recurring = &recNext
	}
	next.Schedule = &sched

	if _, err := e.CreateTask(ctx, next); err != nil {
		e.logger.Warn("recurrence spawn failed", "task_id", task.ID, "error", err)
	}
}
