// Package engine is the coordination core: it owns the task store, the
// dependency graph, and the resource ledger, and drives tasks through
// scheduling, execution, retry, and cancellation. There is no ambient
// global state; everything hangs off an Engine instance.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/agentmesh/orchestrator/internal/depgraph"
	"github.com/agentmesh/orchestrator/internal/executor"
	"github.com/agentmesh/orchestrator/internal/memory"
	"github.com/agentmesh/orchestrator/internal/metrics"
	"github.com/agentmesh/orchestrator/internal/resources"
	"github.com/agentmesh/orchestrator/internal/rollback"
	"github.com/agentmesh/orchestrator/internal/taskstore"
	"github.com/agentmesh/orchestrator/pkg/types"
)

// Config holds engine configuration.
type Config struct {
	// MaxConcurrent bounds how many tasks run at once (default 4).
	MaxConcurrent int

	// PollInterval is the scheduler's fallback tick for time-gated work:
	// future start times, dependency lag, retry backoff (default 50ms).
	PollInterval time.Duration

	// DefaultTimeout is applied to tasks created without one. Zero means
	// no per-attempt timeout.
	DefaultTimeout time.Duration

	// DefaultRetry is applied to tasks created without a retry policy.
	DefaultRetry types.RetryPolicy
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent: 4,
		PollInterval:  50 * time.Millisecond,
		DefaultRetry:  types.DefaultRetryPolicy(),
	}
}

// Engine coordinates task scheduling and execution.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	store    *taskstore.Store
	graph    *depgraph.Graph
	ledger   *resources.Ledger
	registry *executor.Registry
	retries  *executor.RetryController
	ctrl     *executor.Controller
	selector *rollback.Selector
	sink     memory.Sink

	slots *semaphore.Weighted

	// mu serializes the scheduling pass and promotion bookkeeping against
	// resource acquisition, so two tasks can never double-claim an
	// exclusive resource. Task execution itself runs outside this lock.
	mu       sync.Mutex
	running  map[string]context.CancelFunc // dispatched tasks -> cancel
	retryAt  map[string]time.Time          // re-queued tasks -> backoff expiry
	hints    map[string]int                // workflow ordering hints
	wfLimits map[string]int                // live workflows -> max concurrent

	wfMu      sync.RWMutex
	workflows map[string]*types.Workflow
	wfRuns    map[string]*workflowRun

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes engine construction.
type Option func(*Engine)

// WithSink attaches a coordination-memory sink.
func WithSink(sink memory.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithDefaultExecutor sets the executor used by tasks without an assigned
// agent.
func WithDefaultExecutor(exec executor.Executor) Option {
	return func(e *Engine) { e.registry = executor.NewRegistry(exec) }
}

// New creates an engine. Call Start before submitting work.
func New(cfg *Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.DefaultRetry.MaxAttempts <= 0 {
		cfg.DefaultRetry = types.DefaultRetryPolicy()
	}

	e := &Engine{
		cfg:       *cfg,
		logger:    slog.Default(),
		sink:      memory.NopSink{},
		registry:  executor.NewRegistry(nil),
		retries:   executor.NewRetryController(),
		selector:  rollback.NewSelector(),
		slots:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		running:   make(map[string]context.CancelFunc),
		retryAt:   make(map[string]time.Time),
		hints:     make(map[string]int),
		wfLimits:  make(map[string]int),
		workflows: make(map[string]*types.Workflow),
		wfRuns:    make(map[string]*workflowRun),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.graph = depgraph.New(func(id string) (*types.WorkflowTask, bool) {
		return e.store.Get(id)
	})
	e.store = taskstore.New(e.graph)
	e.ledger = resources.NewLedger()
	e.ctrl = executor.NewController(e.store, e.graph, e.ledger, e.registry,
		executor.NewBreakerRegistry(e.logger), e.sink, e.logger)
	return e
}

// RegisterExecutor binds an agent id to an executor.
func (e *Engine) RegisterExecutor(agentID string, exec executor.Executor) {
	e.registry.Register(agentID, exec)
}

// SetResourceCapacity declares a bounded capacity for a resource.
func (e *Engine) SetResourceCapacity(resourceID string, capacity float64) {
	e.ledger.SetCapacity(resourceID, capacity)
}

// Start launches the scheduling loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop(ctx)
	}()
}

// Stop halts the scheduling loop and waits for dispatched tasks to wind
// down.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Wake nudges the scheduler to run a pass now.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// CreateTask validates, stores, and registers a task, then wakes the
// scheduler. Failed creation leaves no side effects.
func (e *Engine) CreateTask(ctx context.Context, task *types.WorkflowTask) (*types.WorkflowTask, error) {
	if task == nil {
		return nil, &types.ValidationError{Field: "task", Message: "task is required"}
	}
	if task.Timeout == 0 {
		task.Timeout = e.cfg.DefaultTimeout
	}
	if task.Retry.MaxAttempts == 0 {
		task.Retry = e.cfg.DefaultRetry
	}
	created, err := e.store.Create(task)
	if err != nil {
		return nil, err
	}
	e.emit(ctx, types.EventTaskCreated, created.ID, map[string]any{
		"type":     created.Type,
		"priority": created.Priority,
	})
	e.Wake()
	return created, nil
}

// GetTask returns a snapshot of a task.
func (e *Engine) GetTask(id string) (*types.WorkflowTask, error) {
	task, ok := e.store.Get(id)
	if !ok {
		return nil, types.ErrNotFound
	}
	return task, nil
}

// UpdateTask applies a caller patch to a task that has not started running.
func (e *Engine) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*types.WorkflowTask, error) {
	updated, err := e.store.Update(id, func(t *types.WorkflowTask) error {
		if t.Status != types.TaskStatusPending && t.Status != types.TaskStatusQueued {
			return &types.ValidationError{Field: "status", Message: "only pending or queued tasks can be updated"}
		}
		patch.apply(t)
		return t.Validate()
	})
	if err != nil {
		return nil, err
	}
	e.Wake()
	return updated, nil
}

// TaskPatch is a partial update to mutable task fields.
type TaskPatch struct {
	Description *string        `json:"description,omitempty"`
	Priority    *int           `json:"priority,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Timeout     *time.Duration `json:"timeout,omitempty"`
	Schedule    *types.TaskSchedule
}

func (p TaskPatch) apply(t *types.WorkflowTask) {
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Tags != nil {
		t.Tags = append([]string(nil), p.Tags...)
	}
	if p.Timeout != nil {
		t.Timeout = *p.Timeout
	}
	if p.Schedule != nil {
		sched := *p.Schedule
		t.Schedule = &sched
	}
}

// ListTasks returns a filtered, ordered page of tasks.
func (e *Engine) ListTasks(filter taskstore.Filter, order taskstore.Sort, limit, offset int) taskstore.Page {
	return e.store.List(filter, order, limit, offset)
}

// DeleteTask removes a task with no dependents. Running tasks must be
// cancelled first.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	task, ok := e.store.Get(id)
	if !ok {
		return types.ErrNotFound
	}
	if task.Status == types.TaskStatusRunning {
		return &types.ValidationError{Field: "status", Message: "running task must be cancelled before deletion"}
	}
	if err := e.store.Delete(id); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.retryAt, id)
	delete(e.hints, id)
	e.mu.Unlock()
	e.emit(ctx, types.EventTaskDeleted, id, nil)
	return nil
}

// DependencyGraph exports the graph for inspection.
func (e *Engine) DependencyGraph() ([]depgraph.GraphNode, []depgraph.GraphEdge) {
	return e.graph.Export()
}

func (e *Engine) emit(ctx context.Context, eventType types.EventType, taskID string, payload map[string]any) {
	metrics.EventsTotal.WithLabelValues(string(eventType)).Inc()
	e.sink.Emit(ctx, memory.NewEvent(eventType, taskID, payload))
}
