package rollback

import (
	"errors"
	"testing"
	"time"

	"github.com/agentmesh/orchestrator/pkg/types"
)

func checkpointedTask(strategy types.RollbackStrategy) *types.WorkflowTask {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &types.WorkflowTask{
		ID:       "t1",
		Progress: 70,
		Rollback: strategy,
		Checkpoints: []types.Checkpoint{
			{Timestamp: base, Description: "start", Snapshot: map[string]any{"rows": 0.0, "progress": 0.0}},
			{Timestamp: base.Add(time.Minute), Description: "loaded", Snapshot: map[string]any{"rows": 50.0, "progress": 40.0}},
			{Timestamp: base.Add(2 * time.Minute), Description: "transformed", Snapshot: map[string]any{"rows": 50.0, "progress": 70.0}},
		},
	}
}

func TestSelect_PreviousCheckpoint(t *testing.T) {
	s := NewSelector()

	cp, err := s.Select(checkpointedTask(types.RollbackPreviousCheckpoint))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if cp.Description != "transformed" {
		t.Errorf("selected %q, want newest checkpoint", cp.Description)
	}
}

func TestSelect_InitialState(t *testing.T) {
	s := NewSelector()

	cp, err := s.Select(checkpointedTask(types.RollbackInitialState))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if cp.Description != "start" {
		t.Errorf("selected %q, want first checkpoint", cp.Description)
	}
}

func TestSelect_NoCheckpoints(t *testing.T) {
	s := NewSelector()

	task := checkpointedTask(types.RollbackPreviousCheckpoint)
	task.Checkpoints = nil
	if _, err := s.Select(task); !errors.Is(err, ErrNoCheckpoints) {
		t.Fatalf("err = %v, want ErrNoCheckpoints", err)
	}
}

func TestSelect_CustomNewestMatchWins(t *testing.T) {
	s := NewSelector()

	task := checkpointedTask(types.RollbackCustom)
	task.RollbackSelector = `checkpoint.snapshot.rows == 50.0`

	cp, err := s.Select(task)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	// Both "loaded" and "transformed" match; selection walks newest first.
	if cp.Description != "transformed" {
		t.Errorf("selected %q, want newest matching checkpoint", cp.Description)
	}
}

func TestSelect_CustomByDescription(t *testing.T) {
	s := NewSelector()

	task := checkpointedTask(types.RollbackCustom)
	task.RollbackSelector = `checkpoint.description == "loaded"`

	cp, err := s.Select(task)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if cp.Description != "loaded" {
		t.Errorf("selected %q", cp.Description)
	}
}

func TestSelect_CustomNoMatch(t *testing.T) {
	s := NewSelector()

	task := checkpointedTask(types.RollbackCustom)
	task.RollbackSelector = `checkpoint.description == "nowhere"`

	if _, err := s.Select(task); err == nil {
		t.Fatal("expected error for unmatched selector")
	}
}

func TestSelect_CustomWithoutExpression(t *testing.T) {
	s := NewSelector()

	task := checkpointedTask(types.RollbackCustom)
	if _, err := s.Select(task); err == nil {
		t.Fatal("expected error for custom rollback without a selector")
	}
}

func TestSelect_CustomNonBoolean(t *testing.T) {
	s := NewSelector()

	task := checkpointedTask(types.RollbackCustom)
	task.RollbackSelector = `checkpoint.index`

	if _, err := s.Select(task); err == nil {
		t.Fatal("expected error for non-boolean selector result")
	}
}

func TestSelect_OversizedExpression(t *testing.T) {
	s := NewSelector()
	s.MaxExpressionLength = 8

	task := checkpointedTask(types.RollbackCustom)
	task.RollbackSelector = `checkpoint.description == "loaded"`

	if _, err := s.Select(task); err == nil {
		t.Fatal("expected error for oversized selector")
	}
}

func TestApply(t *testing.T) {
	task := checkpointedTask(types.RollbackPreviousCheckpoint)
	Apply(task, task.Checkpoints[1])

	if task.RestoredState["rows"] != 50.0 {
		t.Errorf("restored state = %v", task.RestoredState)
	}
	if task.Progress != 40.0 {
		t.Errorf("progress = %v, want 40", task.Progress)
	}
	if len(task.Checkpoints) != 3 {
		t.Error("checkpoint history must be preserved")
	}
}

func TestApply_SnapshotWithoutProgress(t *testing.T) {
	task := checkpointedTask(types.RollbackPreviousCheckpoint)
	Apply(task, types.Checkpoint{Snapshot: map[string]any{"rows": 1.0}})

	if task.Progress != 0 {
		t.Errorf("progress = %v, want 0", task.Progress)
	}
}
