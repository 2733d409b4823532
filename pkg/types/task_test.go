package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func validTask() *WorkflowTask {
	return &WorkflowTask{
		ID:       "t1",
		Type:     "job",
		Priority: 50,
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to TaskStatus }{
		{TaskStatusPending, TaskStatusQueued},
		{TaskStatusPending, TaskStatusCancelled},
		{TaskStatusQueued, TaskStatusRunning},
		{TaskStatusQueued, TaskStatusPending},
		{TaskStatusQueued, TaskStatusCancelled},
		{TaskStatusRunning, TaskStatusCompleted},
		{TaskStatusRunning, TaskStatusFailed},
		{TaskStatusRunning, TaskStatusCancelled},
		{TaskStatusFailed, TaskStatusQueued},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s must be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to TaskStatus }{
		{TaskStatusPending, TaskStatusRunning},
		{TaskStatusPending, TaskStatusCompleted},
		{TaskStatusRunning, TaskStatusPending},
		{TaskStatusCompleted, TaskStatusRunning},
		{TaskStatusCompleted, TaskStatusCancelled},
		{TaskStatusCancelled, TaskStatusQueued},
		{TaskStatusFailed, TaskStatusRunning},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s must be denied", tc.from, tc.to)
		}
	}
}

func TestTransition_TerminalError(t *testing.T) {
	task := validTask()
	task.Status = TaskStatusCompleted

	err := task.Transition(TaskStatusCancelled)
	var termErr *AlreadyTerminalError
	if !errors.As(err, &termErr) {
		t.Fatalf("err = %v, want AlreadyTerminalError", err)
	}
	if task.Status != TaskStatusCompleted {
		t.Errorf("status changed to %s", task.Status)
	}
}

func TestTransition_IllegalNonTerminal(t *testing.T) {
	task := validTask()
	task.Status = TaskStatusPending

	err := task.Transition(TaskStatusCompleted)
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*WorkflowTask)
		field  string
	}{
		{"missing id", func(task *WorkflowTask) { task.ID = "" }, "id"},
		{"missing type", func(task *WorkflowTask) { task.Type = "" }, "type"},
		{"priority too high", func(task *WorkflowTask) { task.Priority = 101 }, "priority"},
		{"negative priority", func(task *WorkflowTask) { task.Priority = -1 }, "priority"},
		{"unknown status", func(task *WorkflowTask) { task.Status = "paused" }, "status"},
		{"unknown rollback", func(task *WorkflowTask) { task.Rollback = "latest" }, "rollback"},
		{"custom rollback without selector", func(task *WorkflowTask) { task.Rollback = RollbackCustom }, "rollback_selector"},
		{"self dependency", func(task *WorkflowTask) {
			task.Dependencies = []TaskDependency{{TaskID: "t1", Type: DepFinishToStart}}
		}, "dependencies"},
		{"dependency without id", func(task *WorkflowTask) {
			task.Dependencies = []TaskDependency{{Type: DepFinishToStart}}
		}, "dependencies"},
		{"unknown dependency type", func(task *WorkflowTask) {
			task.Dependencies = []TaskDependency{{TaskID: "t2", Type: "after"}}
		}, "dependencies"},
		{"negative lag", func(task *WorkflowTask) {
			task.Dependencies = []TaskDependency{{TaskID: "t2", Type: DepFinishToStart, Lag: -time.Second}}
		}, "dependencies"},
		{"resource without id", func(task *WorkflowTask) {
			task.Resources = []ResourceRequirement{{Type: ResourceCPU, Amount: 1}}
		}, "resources"},
		{"unknown resource type", func(task *WorkflowTask) {
			task.Resources = []ResourceRequirement{{ResourceID: "r", Type: "quantum", Amount: 1}}
		}, "resources"},
		{"negative timeout", func(task *WorkflowTask) { task.Timeout = -time.Second }, "timeout"},
		{"negative retry attempts", func(task *WorkflowTask) { task.Retry.MaxAttempts = -1 }, "retry"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := validTask()
			tc.mutate(task)
			err := task.Validate()
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if valErr.Field != tc.field {
				t.Errorf("field = %s, want %s", valErr.Field, tc.field)
			}
		})
	}

	if err := validTask().Validate(); err != nil {
		t.Errorf("valid task rejected: %v", err)
	}
}

func TestClone_Isolation(t *testing.T) {
	started := time.Now().UTC()
	task := validTask()
	task.Tags = []string{"etl"}
	task.Dependencies = []TaskDependency{{TaskID: "t0", Type: DepFinishToStart}}
	task.Checkpoints = []Checkpoint{{Description: "cp", Snapshot: map[string]any{"k": "v"}}}
	task.StartedAt = &started

	clone := task.Clone()
	clone.Tags[0] = "changed"
	clone.Dependencies[0].TaskID = "other"
	clone.Checkpoints[0].Description = "mutated"
	*clone.StartedAt = started.Add(time.Hour)

	if task.Tags[0] != "etl" {
		t.Error("tags shared with clone")
	}
	if task.Dependencies[0].TaskID != "t0" {
		t.Error("dependencies shared with clone")
	}
	if task.Checkpoints[0].Description != "cp" {
		t.Error("checkpoints shared with clone")
	}
	if !task.StartedAt.Equal(started) {
		t.Error("timestamps shared with clone")
	}
}

func TestOverdue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	task := validTask()
	if task.Overdue(now) {
		t.Error("task without schedule reported overdue")
	}

	task.Schedule = &TaskSchedule{Deadline: &past}
	if !task.Overdue(now) {
		t.Error("task past deadline not reported overdue")
	}

	task.Status = TaskStatusCompleted
	if task.Overdue(now) {
		t.Error("completed task reported overdue")
	}
}

func TestRecurringIntervalDuration(t *testing.T) {
	if RecurDaily.Duration() != 24*time.Hour {
		t.Error("daily")
	}
	if RecurWeekly.Duration() != 7*24*time.Hour {
		t.Error("weekly")
	}
	if RecurMonthly.Duration() != 30*24*time.Hour {
		t.Error("monthly")
	}
	if RecurringInterval("hourly").Duration() != 0 {
		t.Error("unknown interval must have zero duration")
	}
}

func TestDependencyTypeGatesStart(t *testing.T) {
	if !DepFinishToStart.GatesStart() || !DepStartToStart.GatesStart() {
		t.Error("start-gating types misreported")
	}
	if DepFinishToFinish.GatesStart() || DepStartToFinish.GatesStart() {
		t.Error("finish-gating types misreported")
	}
}

func TestUnmarshalJSON_PriorityDefaultsWhenOmitted(t *testing.T) {
	var task WorkflowTask
	if err := json.Unmarshal([]byte(`{"id": "p-1", "type": "job"}`), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.Priority != DefaultPriority {
		t.Errorf("priority = %d, want %d", task.Priority, DefaultPriority)
	}
}

func TestUnmarshalJSON_ExplicitZeroPrioritySurvives(t *testing.T) {
	var task WorkflowTask
	if err := json.Unmarshal([]byte(`{"id": "p-0", "type": "job", "priority": 0}`), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.Priority != 0 {
		t.Errorf("priority = %d, explicit 0 is the valid lowest priority", task.Priority)
	}

	if err := json.Unmarshal([]byte(`{"id": "p-90", "type": "job", "priority": 90}`), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.Priority != 90 {
		t.Errorf("priority = %d, want 90", task.Priority)
	}
}
