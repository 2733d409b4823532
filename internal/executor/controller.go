package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentmesh/orchestrator/internal/depgraph"
	"github.com/agentmesh/orchestrator/internal/memory"
	"github.com/agentmesh/orchestrator/internal/metrics"
	"github.com/agentmesh/orchestrator/internal/resources"
	"github.com/agentmesh/orchestrator/internal/taskstore"
	"github.com/agentmesh/orchestrator/pkg/types"
)

// finishPollInterval is how often a finished executor waits on unsatisfied
// finish-gating dependencies before re-checking.
const finishPollInterval = 25 * time.Millisecond

// execReturn carries an executor's return value across the attempt select.
type execReturn struct {
	result *Result
	err    error
}

// Outcome is the result of driving one task attempt.
type Outcome struct {
	TaskID string
	Status types.TaskStatus // completed | failed | cancelled
	Output string
	Err    error // TimeoutError or ExecutionError when Status == failed
}

// Controller drives a single task attempt through
// queued -> running -> {completed | failed}. Cancellation interrupts the
// same wait the timeout races against; when the attempt context is
// cancelled externally the controller steps aside and leaves the record to
// the cancellation manager.
type Controller struct {
	store    *taskstore.Store
	graph    *depgraph.Graph
	ledger   *resources.Ledger
	registry *Registry
	breakers *BreakerRegistry
	sink     memory.Sink
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewController wires an execution controller.
func NewController(store *taskstore.Store, graph *depgraph.Graph, ledger *resources.Ledger, registry *Registry, breakers *BreakerRegistry, sink memory.Sink, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = memory.NopSink{}
	}
	return &Controller{
		store:    store,
		graph:    graph,
		ledger:   ledger,
		registry: registry,
		breakers: breakers,
		sink:     sink,
		logger:   logger,
		tracer:   otel.Tracer("agentmesh/orchestrator/executor"),
	}
}

// Run executes one attempt of a queued task whose resources are already
// held. It returns the attempt outcome; the caller decides about retries.
// ctx is the task's cancellation context: its cancellation means the task
// is being cancelled, not that the attempt merely timed out.
func (c *Controller) Run(ctx context.Context, taskID string) Outcome {
	task, ok := c.store.Get(taskID)
	if !ok {
		return Outcome{TaskID: taskID, Status: types.TaskStatusFailed, Err: types.ErrNotFound}
	}

	exec, ok := c.registry.Resolve(task)
	if !ok {
		return c.fail(ctx, taskID, &types.ExecutionError{
			TaskID: taskID,
			Reason: "no executor registered for agent " + task.AssignedAgent,
		})
	}

	now := time.Now().UTC()
	task, err := c.store.Update(taskID, func(t *types.WorkflowTask) error {
		if !types.CanTransition(t.Status, types.TaskStatusRunning) {
			return &types.ValidationError{Field: "status", Message: "task " + taskID + " is " + string(t.Status) + ", not queued"}
		}
		t.Status = types.TaskStatusRunning
		if t.StartedAt == nil {
			ts := now
			t.StartedAt = &ts
		}
		t.Attempts++
		t.Error = ""
		return nil
	})
	if err != nil {
		return Outcome{TaskID: taskID, Status: types.TaskStatusFailed, Err: err}
	}

	c.emit(ctx, types.EventTaskStatus, taskID, map[string]any{
		"status":  string(types.TaskStatusRunning),
		"attempt": task.Attempts,
	})
	metrics.TasksActive.Inc()
	defer metrics.TasksActive.Dec()

	ctx, span := c.tracer.Start(ctx, "task.attempt",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.agent", task.AssignedAgent),
			attribute.Int("task.attempt", task.Attempts),
		),
	)
	defer span.End()

	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	msgs := make(chan Message, 16)
	done := make(chan execReturn, 1)

	go func() {
		defer close(msgs)
		result, err := c.dispatch(attemptCtx, task, msgs, exec)
		done <- execReturn{result: result, err: err}
	}()

	var timeoutCh <-chan time.Time
	if task.Timeout > 0 {
		timer := time.NewTimer(task.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	attemptStart := time.Now()
	for {
		select {
		case msg, open := <-msgs:
			if !open {
				// Executor finished sending; wait for its return value.
				msgs = nil
				continue
			}
			c.handleMessage(ctx, taskID, msg)

		case ret := <-done:
			if ret.err != nil {
				span.RecordError(ret.err)
				if ctx.Err() != nil {
					return Outcome{TaskID: taskID, Status: types.TaskStatusCancelled}
				}
				reason := ret.err.Error()
				if IsBreakerRefusal(ret.err) {
					reason = "agent circuit open"
				}
				return c.fail(ctx, taskID, &types.ExecutionError{TaskID: taskID, Reason: reason})
			}
			if ret.result == nil || !ret.result.Success {
				reason := "executor reported failure"
				if ret.result != nil && ret.result.Error != "" {
					reason = ret.result.Error
				}
				return c.fail(ctx, taskID, &types.ExecutionError{TaskID: taskID, Reason: reason})
			}
			return c.complete(ctx, taskID, ret.result.Output, attemptStart)

		case <-timeoutCh:
			// Signal the executor to stop, then record the failure without
			// waiting for it to comply.
			cancelAttempt()
			go drain(msgs, done)
			span.AddEvent("attempt timeout")
			return c.fail(ctx, taskID, &types.TimeoutError{TaskID: taskID, Attempt: task.Attempts})

		case <-ctx.Done():
			// External cancellation. The cancellation manager owns the
			// record from here; step aside after signalling the executor.
			cancelAttempt()
			go drain(msgs, done)
			return Outcome{TaskID: taskID, Status: types.TaskStatusCancelled}
		}
	}
}

// dispatch runs the executor, through the agent's circuit breaker when the
// task is pinned to an agent.
func (c *Controller) dispatch(ctx context.Context, task *types.WorkflowTask, msgs chan<- Message, exec Executor) (*Result, error) {
	if task.AssignedAgent == "" || c.breakers == nil {
		return exec.Execute(ctx, task, msgs)
	}
	cb := c.breakers.Get(task.AssignedAgent)
	res, err := cb.Execute(func() (interface{}, error) {
		return exec.Execute(ctx, task, msgs)
	})
	if err != nil {
		return nil, err
	}
	result, _ := res.(*Result)
	return result, nil
}

// handleMessage applies one executor report to the task record.
func (c *Controller) handleMessage(ctx context.Context, taskID string, msg Message) {
	switch msg.Kind {
	case MessageProgress:
		pct := msg.Progress
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		if _, err := c.store.Update(taskID, func(t *types.WorkflowTask) error {
			t.Progress = pct
			return nil
		}); err != nil {
			c.logger.Warn("progress update", slog.String("task", taskID), "error", err)
			return
		}
		c.emit(ctx, types.EventTaskProgress, taskID, map[string]any{"progress": pct})

	case MessageCheckpoint:
		cp := types.Checkpoint{
			Timestamp:   time.Now().UTC(),
			Description: msg.Description,
			Snapshot:    msg.Snapshot,
		}
		if _, err := c.store.Update(taskID, func(t *types.WorkflowTask) error {
			t.Checkpoints = append(t.Checkpoints, cp)
			return nil
		}); err != nil {
			c.logger.Warn("checkpoint append", slog.String("task", taskID), "error", err)
			return
		}
		c.emit(ctx, types.EventTaskCheckpoint, taskID, map[string]any{"description": msg.Description})
	}
}

// complete settles a successful attempt. Finish-gating dependencies
// (finish-to-finish, start-to-finish) are waited out before the task may
// reach completed. Resources are released before the terminal state is
// written so a freed resource is visible on the very next scheduling pass.
func (c *Controller) complete(ctx context.Context, taskID, output string, attemptStart time.Time) Outcome {
	for !c.graph.CanFinish(taskID, time.Now().UTC()) {
		select {
		case <-ctx.Done():
			return Outcome{TaskID: taskID, Status: types.TaskStatusCancelled}
		case <-time.After(finishPollInterval):
		}
	}

	c.ledger.Release(taskID)

	now := time.Now().UTC()
	task, err := c.store.Update(taskID, func(t *types.WorkflowTask) error {
		if err := t.Transition(types.TaskStatusCompleted); err != nil {
			return err
		}
		t.Progress = 100
		ts := now
		t.CompletedAt = &ts
		if t.StartedAt != nil {
			t.ActualDuration = now.Sub(*t.StartedAt)
		}
		return nil
	})
	if err != nil {
		// The cancellation manager got to the record first; its terminal
		// write stands.
		var term *types.AlreadyTerminalError
		if errors.As(err, &term) {
			return Outcome{TaskID: taskID, Status: types.TaskStatusCancelled}
		}
		return Outcome{TaskID: taskID, Status: types.TaskStatusFailed, Err: err}
	}

	metrics.TaskDuration.WithLabelValues(string(types.TaskStatusCompleted)).Observe(time.Since(attemptStart).Seconds())
	c.emit(ctx, types.EventTaskStatus, taskID, map[string]any{
		"status":   string(types.TaskStatusCompleted),
		"duration": task.ActualDuration.String(),
	})
	return Outcome{TaskID: taskID, Status: types.TaskStatusCompleted, Output: output}
}

// fail settles a failed attempt. The caller consults the retry controller
// afterwards; failed is terminal only once the retry budget is exhausted.
func (c *Controller) fail(ctx context.Context, taskID string, cause error) Outcome {
	c.ledger.Release(taskID)

	if _, err := c.store.Update(taskID, func(t *types.WorkflowTask) error {
		if t.Status == types.TaskStatusRunning || t.Status == types.TaskStatusQueued {
			t.Status = types.TaskStatusFailed
		}
		t.Error = cause.Error()
		return nil
	}); err != nil {
		c.logger.Warn("record failure", slog.String("task", taskID), "error", err)
	}

	c.emit(ctx, types.EventTaskStatus, taskID, map[string]any{
		"status": string(types.TaskStatusFailed),
		"error":  cause.Error(),
	})
	return Outcome{TaskID: taskID, Status: types.TaskStatusFailed, Err: cause}
}

func (c *Controller) emit(ctx context.Context, eventType types.EventType, taskID string, payload map[string]any) {
	metrics.EventsTotal.WithLabelValues(string(eventType)).Inc()
	c.sink.Emit(ctx, memory.NewEvent(eventType, taskID, payload))
}

// drain discards late messages so a timed-out or cancelled executor never
// blocks on its report channel.
func drain(msgs <-chan Message, done <-chan execReturn) {
	for msgs != nil || done != nil {
		select {
		case _, open := <-msgs:
			if !open {
				msgs = nil
			}
		case <-done:
			done = nil
		}
	}
}
