package types

import (
	"errors"
	"testing"
)

func validWorkflow() *Workflow {
	return &Workflow{
		Name: "pipeline",
		Tasks: []*WorkflowTask{
			{ID: "a", Type: "job", Priority: 50},
			{ID: "b", Type: "job", Priority: 50},
		},
	}
}

func TestWorkflowValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Workflow)
	}{
		{"missing name", func(w *Workflow) { w.Name = "" }},
		{"no tasks", func(w *Workflow) { w.Tasks = nil }},
		{"unknown parallelism strategy", func(w *Workflow) { w.Parallelism.Strategy = "random" }},
		{"negative max concurrent", func(w *Workflow) { w.Parallelism.MaxConcurrent = -1 }},
		{"unknown error strategy", func(w *Workflow) { w.Errors.Strategy = "ignore" }},
		{"duplicate task id", func(w *Workflow) { w.Tasks[1].ID = "a" }},
		{"invalid nested task", func(w *Workflow) { w.Tasks[0].Type = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wf := validWorkflow()
			tc.mutate(wf)
			err := wf.Validate()
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}

	if err := validWorkflow().Validate(); err != nil {
		t.Errorf("valid workflow rejected: %v", err)
	}

	wf := validWorkflow()
	wf.Parallelism = Parallelism{MaxConcurrent: 2, Strategy: StrategyBreadthFirst}
	wf.Errors = ErrorHandling{Strategy: ErrRetryFailed, MaxRetries: 3}
	if err := wf.Validate(); err != nil {
		t.Errorf("configured workflow rejected: %v", err)
	}
}

func TestWorkflowClone_Isolation(t *testing.T) {
	wf := validWorkflow()
	clone := wf.Clone()

	clone.Tasks[0].Type = "mutated"
	clone.Name = "other"

	if wf.Tasks[0].Type != "job" {
		t.Error("tasks shared with clone")
	}
	if wf.Name != "pipeline" {
		t.Error("name shared with clone")
	}
}

func TestStrategyValidity(t *testing.T) {
	for _, s := range []ParallelismStrategy{StrategyBreadthFirst, StrategyDepthFirst, StrategyPriority} {
		if !s.Valid() {
			t.Errorf("%s reported invalid", s)
		}
	}
	if ParallelismStrategy("random").Valid() {
		t.Error("unknown parallelism strategy reported valid")
	}

	for _, s := range []ErrorStrategy{ErrFailFast, ErrContinue, ErrRetryFailed} {
		if !s.Valid() {
			t.Errorf("%s reported invalid", s)
		}
	}
	if ErrorStrategy("ignore").Valid() {
		t.Error("unknown error strategy reported valid")
	}
}
