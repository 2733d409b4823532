package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a task or workflow id is unknown.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed task or workflow input. The originating
// call fails before any state mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// CyclicDependencyError reports a dependency insertion that would create a
// cycle. The graph is left unchanged.
type CyclicDependencyError struct {
	// Path lists the task ids forming the cycle, first id repeated last.
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Path, " -> ")
}

// DependentsExistError reports an attempt to delete a task other tasks still
// depend on.
type DependentsExistError struct {
	TaskID     string
	Dependents []string
}

func (e *DependentsExistError) Error() string {
	return fmt.Sprintf("task %s has active dependents: %s", e.TaskID, strings.Join(e.Dependents, ", "))
}

// ResourceUnavailableError is a transient denial from the resource ledger.
// The task stays pending and is retried on a later scheduling pass.
type ResourceUnavailableError struct {
	TaskID     string
	ResourceID string
	Reason     string
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("resource %s unavailable for task %s: %s", e.ResourceID, e.TaskID, e.Reason)
}

// TimeoutError reports an attempt that exceeded the task's timeout. It is
// treated as a failure and subject to retry.
type TimeoutError struct {
	TaskID  string
	Attempt int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s attempt %d timed out", e.TaskID, e.Attempt)
}

// ExecutionError reports a failure surfaced by the executor. Subject to
// retry.
type ExecutionError struct {
	TaskID string
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s execution failed: %s", e.TaskID, e.Reason)
}

// AlreadyTerminalError reports cancellation or mutation of a task already in
// a terminal state.
type AlreadyTerminalError struct {
	TaskID string
	Status TaskStatus
}

func (e *AlreadyTerminalError) Error() string {
	return fmt.Sprintf("task %s is already %s", e.TaskID, e.Status)
}

// RollbackFailure reports that checkpoint restoration failed. The task is
// still cancelled, but state may be inconsistent.
type RollbackFailure struct {
	TaskID string
	Err    error
}

func (e *RollbackFailure) Error() string {
	return fmt.Sprintf("rollback of task %s failed: %v", e.TaskID, e.Err)
}

func (e *RollbackFailure) Unwrap() error { return e.Err }
