// Package executor provides the agent executor contract and the execution
// controller that drives one task attempt through its state machine.
package executor

import (
	"context"
	"sort"
	"sync"

	"github.com/agentmesh/orchestrator/pkg/types"
)

// MessageKind discriminates executor-to-controller messages.
type MessageKind string

const (
	// MessageProgress updates the task's progress percentage.
	MessageProgress MessageKind = "progress"
	// MessageCheckpoint appends a checkpoint to the task.
	MessageCheckpoint MessageKind = "checkpoint"
)

// Message is one report from an executor while a task runs. Modelling the
// callback surface as a channel keeps the controller's transition logic
// independent of I/O timing.
type Message struct {
	Kind        MessageKind
	Progress    float64
	Description string
	Snapshot    map[string]any
}

// Result is what an executor returns for one attempt.
type Result struct {
	Success bool
	Output  string
	Error   string
}

// Executor runs a single task attempt. Implementations must honor ctx
// cancellation, may send any number of Messages on report while running,
// and must not use report after returning. The engine never assumes
// anything about how the work is performed.
type Executor interface {
	Execute(ctx context.Context, task *types.WorkflowTask, report chan<- Message) (*Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *types.WorkflowTask, report chan<- Message) (*Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, task *types.WorkflowTask, report chan<- Message) (*Result, error) {
	return f(ctx, task, report)
}

// Registry maps agent identifiers to executors. A task with an assigned
// agent is dispatched to that agent's executor; tasks without one use the
// default.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	fallback  Executor
}

// NewRegistry creates a registry with the given default executor.
func NewRegistry(fallback Executor) *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		fallback:  fallback,
	}
}

// Register binds an agent id to an executor.
func (r *Registry) Register(agentID string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[agentID] = exec
}

// Resolve returns the executor for the task's assigned agent, falling back
// to the default. ok is false when no executor can serve the task.
func (r *Registry) Resolve(task *types.WorkflowTask) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if task.AssignedAgent != "" {
		if exec, ok := r.executors[task.AssignedAgent]; ok {
			return exec, true
		}
		// Assigned agent constrains who may run the task; no silent
		// fallback to another executor.
		return nil, false
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Agents lists the registered agent ids, sorted.
func (r *Registry) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.executors))
	for id := range r.executors {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
