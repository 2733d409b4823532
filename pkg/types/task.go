// Package types provides shared types for the orchestration engine.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultPriority is applied to tasks decoded from payloads that omit a
// priority. An explicit priority of 0 is valid and preserved.
const DefaultPriority = 50

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusQueued, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// validTransitions encodes the task state machine. failed -> queued is the
// retry path; cancelled is reachable from any non-terminal state.
var validTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusPending: {
		TaskStatusQueued:    true,
		TaskStatusCancelled: true,
	},
	TaskStatusQueued: {
		TaskStatusRunning:   true,
		TaskStatusPending:   true, // resource denial after selection
		TaskStatusCancelled: true,
	},
	TaskStatusRunning: {
		TaskStatusCompleted: true,
		TaskStatusFailed:    true,
		TaskStatusCancelled: true,
	},
	TaskStatusFailed: {
		TaskStatusQueued: true, // retry granted
	},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to TaskStatus) bool {
	return validTransitions[from][to]
}

// Transition applies a status change, enforcing the state machine.
func (t *WorkflowTask) Transition(to TaskStatus) error {
	if !CanTransition(t.Status, to) {
		if t.Status.IsTerminal() {
			return &AlreadyTerminalError{TaskID: t.ID, Status: t.Status}
		}
		return &ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("illegal transition %s -> %s", t.Status, to),
		}
	}
	t.Status = to
	return nil
}

// DependencyType defines how a task dependency is satisfied.
type DependencyType string

const (
	// DepFinishToStart - this task may start after the dependency finishes.
	DepFinishToStart DependencyType = "finish-to-start"
	// DepStartToStart - this task may start after the dependency starts.
	DepStartToStart DependencyType = "start-to-start"
	// DepFinishToFinish - this task may finish after the dependency finishes.
	DepFinishToFinish DependencyType = "finish-to-finish"
	// DepStartToFinish - this task may finish after the dependency starts.
	DepStartToFinish DependencyType = "start-to-finish"
)

// Valid reports whether t is a known dependency type.
func (t DependencyType) Valid() bool {
	switch t {
	case DepFinishToStart, DepStartToStart, DepFinishToFinish, DepStartToFinish:
		return true
	}
	return false
}

// GatesStart reports whether the dependency must be checked before this task
// starts (as opposed to before it finishes).
func (t DependencyType) GatesStart() bool {
	return t == DepFinishToStart || t == DepStartToStart
}

// TaskDependency declares an ordering edge to another task. Lag is applied
// after the referenced event before the dependency counts as satisfied.
type TaskDependency struct {
	TaskID string         `json:"task_id"`
	Type   DependencyType `json:"type"`
	Lag    time.Duration  `json:"lag,omitempty"`
}

// ResourceType classifies a resource requirement.
type ResourceType string

const (
	ResourceCPU     ResourceType = "cpu"
	ResourceMemory  ResourceType = "memory"
	ResourceDisk    ResourceType = "disk"
	ResourceNetwork ResourceType = "network"
	ResourceCustom  ResourceType = "custom"
)

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceCPU, ResourceMemory, ResourceDisk, ResourceNetwork, ResourceCustom:
		return true
	}
	return false
}

// ResourceRequirement declares a claim a task needs before running.
// Exclusive claims grant sole ownership of the resource for the execution
// window; shared claims are additive against the resource's capacity.
type ResourceRequirement struct {
	ResourceID string       `json:"resource_id"`
	Type       ResourceType `json:"type"`
	Amount     float64      `json:"amount"`
	Unit       string       `json:"unit,omitempty"`
	Exclusive  bool         `json:"exclusive,omitempty"`
	Priority   int          `json:"priority,omitempty"`
}

// RecurringInterval enumerates the supported recurrence intervals.
type RecurringInterval string

const (
	RecurDaily   RecurringInterval = "daily"
	RecurWeekly  RecurringInterval = "weekly"
	RecurMonthly RecurringInterval = "monthly"
)

// Duration returns the wall-clock spacing of the interval. Monthly is
// approximated as 30 days; exact calendar arithmetic is not needed for
// scheduling eligibility.
func (r RecurringInterval) Duration() time.Duration {
	switch r {
	case RecurDaily:
		return 24 * time.Hour
	case RecurWeekly:
		return 7 * 24 * time.Hour
	case RecurMonthly:
		return 30 * 24 * time.Hour
	}
	return 0
}

// RecurringSchedule repeats a task at a fixed interval, optionally bounded
// by a total occurrence count.
type RecurringSchedule struct {
	Interval RecurringInterval `json:"interval"`
	Count    int               `json:"count,omitempty"`
}

// TaskSchedule constrains when a task is eligible to run. A task whose
// StartTime is in the future is held back; a task past Deadline while not
// completed is flagged overdue but never auto-cancelled.
type TaskSchedule struct {
	StartTime *time.Time         `json:"start_time,omitempty"`
	Deadline  *time.Time         `json:"deadline,omitempty"`
	Timezone  string             `json:"timezone,omitempty"`
	Recurring *RecurringSchedule `json:"recurring,omitempty"`
}

// RetryPolicy bounds re-execution of a failed task attempt.
type RetryPolicy struct {
	MaxAttempts       int           `json:"max_attempts"`
	Backoff           time.Duration `json:"backoff"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryPolicy returns the policy applied when a task declares none:
// a single attempt, no backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Backoff: time.Second, BackoffMultiplier: 2.0}
}

// Delay returns the backoff delay before the given attempt (1-based) is
// re-queued: backoff * multiplier^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.Backoff)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	return time.Duration(d)
}

// RollbackStrategy selects which checkpoint a cancelled task is restored to.
type RollbackStrategy string

const (
	// RollbackPreviousCheckpoint restores the most recent checkpoint.
	RollbackPreviousCheckpoint RollbackStrategy = "previous-checkpoint"
	// RollbackInitialState restores the first checkpoint.
	RollbackInitialState RollbackStrategy = "initial-state"
	// RollbackCustom selects a checkpoint via the task's RollbackSelector
	// expression.
	RollbackCustom RollbackStrategy = "custom"
)

// Valid reports whether s is a known rollback strategy.
func (s RollbackStrategy) Valid() bool {
	switch s {
	case RollbackPreviousCheckpoint, RollbackInitialState, RollbackCustom:
		return true
	}
	return false
}

// Checkpoint is a recorded snapshot of task progress usable as a rollback
// target. The checkpoint list on a task only ever grows.
type Checkpoint struct {
	Timestamp   time.Time      `json:"timestamp"`
	Description string         `json:"description"`
	Snapshot    map[string]any `json:"snapshot,omitempty"`
}

// WorkflowTask is a single schedulable unit of work.
type WorkflowTask struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`

	// Priority is 0-100; higher runs first among ready tasks.
	Priority int `json:"priority"`

	Dependencies []TaskDependency      `json:"dependencies,omitempty"`
	Resources    []ResourceRequirement `json:"resources,omitempty"`
	Schedule     *TaskSchedule         `json:"schedule,omitempty"`

	// AssignedAgent constrains which executor may run the task.
	AssignedAgent string   `json:"assigned_agent,omitempty"`
	Tags          []string `json:"tags,omitempty"`

	// Timeout bounds a single attempt, not the task's lifetime.
	Timeout           time.Duration `json:"timeout,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	ActualDuration    time.Duration `json:"actual_duration,omitempty"`

	Retry            RetryPolicy      `json:"retry"`
	Rollback         RollbackStrategy `json:"rollback,omitempty"`
	RollbackSelector string           `json:"rollback_selector,omitempty"`

	// WorkflowID links the task to its owning workflow, if any.
	WorkflowID string `json:"workflow_id,omitempty"`

	Status      TaskStatus   `json:"status"`
	Progress    float64      `json:"progress"`
	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`

	// RestoredState holds the snapshot of the checkpoint the task was
	// rolled back to, if any. Rollback never truncates Checkpoints.
	RestoredState map[string]any `json:"restored_state,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Attempts counts execution attempts consumed so far.
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`

	// CancelReason records why the task was cancelled, when it was.
	CancelReason string `json:"cancel_reason,omitempty"`
}

// UnmarshalJSON decodes a task, applying DefaultPriority only when the
// payload omits the priority field. 0 is the valid lowest priority and must
// not be confused with unset.
func (t *WorkflowTask) UnmarshalJSON(data []byte) error {
	type plain WorkflowTask
	aux := struct {
		Priority *int `json:"priority"`
		*plain
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Priority != nil {
		t.Priority = *aux.Priority
	} else {
		t.Priority = DefaultPriority
	}
	return nil
}

// Clone returns a deep copy of the task. Store reads hand out clones so
// callers never alias the authoritative record.
func (t *WorkflowTask) Clone() *WorkflowTask {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Dependencies != nil {
		cp.Dependencies = append([]TaskDependency(nil), t.Dependencies...)
	}
	if t.Resources != nil {
		cp.Resources = append([]ResourceRequirement(nil), t.Resources...)
	}
	if t.Tags != nil {
		cp.Tags = append([]string(nil), t.Tags...)
	}
	if t.Checkpoints != nil {
		cp.Checkpoints = append([]Checkpoint(nil), t.Checkpoints...)
	}
	if t.RestoredState != nil {
		restored := make(map[string]any, len(t.RestoredState))
		for k, v := range t.RestoredState {
			restored[k] = v
		}
		cp.RestoredState = restored
	}
	if t.Schedule != nil {
		sched := *t.Schedule
		if t.Schedule.Recurring != nil {
			rec := *t.Schedule.Recurring
			sched.Recurring = &rec
		}
		cp.Schedule = &sched
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		cp.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}

// HasTag reports whether the task carries the given tag.
func (t *WorkflowTask) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}

// Overdue reports whether the task has passed its deadline without
// completing.
func (t *WorkflowTask) Overdue(now time.Time) bool {
	if t.Schedule == nil || t.Schedule.Deadline == nil {
		return false
	}
	if t.Status == TaskStatusCompleted {
		return false
	}
	return now.After(*t.Schedule.Deadline)
}

// Validate checks structural invariants on a task definition. It is called
// at construction time so malformed tasks are rejected before any state
// mutation.
func (t *WorkflowTask) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Message: "task id is required"}
	}
	if t.Type == "" {
		return &ValidationError{Field: "type", Message: "task type is required"}
	}
	if t.Priority < 0 || t.Priority > 100 {
		return &ValidationError{Field: "priority", Message: "priority must be in [0,100]"}
	}
	if t.Status != "" && !t.Status.Valid() {
		return &ValidationError{Field: "status", Message: "unknown status " + string(t.Status)}
	}
	if t.Rollback != "" && !t.Rollback.Valid() {
		return &ValidationError{Field: "rollback", Message: "unknown rollback strategy " + string(t.Rollback)}
	}
	if t.Rollback == RollbackCustom && t.RollbackSelector == "" {
		return &ValidationError{Field: "rollback_selector", Message: "custom rollback requires a selector expression"}
	}
	for _, dep := range t.Dependencies {
		if dep.TaskID == "" {
			return &ValidationError{Field: "dependencies", Message: "dependency task id is required"}
		}
		if dep.TaskID == t.ID {
			return &ValidationError{Field: "dependencies", Message: "task cannot depend on itself"}
		}
		if !dep.Type.Valid() {
			return &ValidationError{Field: "dependencies", Message: "unknown dependency type " + string(dep.Type)}
		}
		if dep.Lag < 0 {
			return &ValidationError{Field: "dependencies", Message: "dependency lag must be non-negative"}
		}
	}
	for _, req := range t.Resources {
		if req.ResourceID == "" {
			return &ValidationError{Field: "resources", Message: "resource id is required"}
		}
		if !req.Type.Valid() {
			return &ValidationError{Field: "resources", Message: "unknown resource type " + string(req.Type)}
		}
		if req.Amount < 0 {
			return &ValidationError{Field: "resources", Message: "resource amount must be non-negative"}
		}
	}
	if t.Timeout < 0 {
		return &ValidationError{Field: "timeout", Message: "timeout must be non-negative"}
	}
	if t.Retry.MaxAttempts < 0 {
		return &ValidationError{Field: "retry", Message: "max attempts must be non-negative"}
	}
	if t.Schedule != nil && t.Schedule.Recurring != nil {
		switch t.Schedule.Recurring.Interval {
		case RecurDaily, RecurWeekly, RecurMonthly:
		default:
			return &ValidationError{Field: "schedule", Message: "unknown recurring interval " + string(t.Schedule.Recurring.Interval)}
		}
	}
	return nil
}
