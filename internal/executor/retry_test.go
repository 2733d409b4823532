package executor

import (
	"testing"
	"time"

	"github.com/agentmesh/orchestrator/pkg/types"
)

func retryTask(attempts, maxAttempts int) *types.WorkflowTask {
	return &types.WorkflowTask{
		ID:       "t1",
		Attempts: attempts,
		Retry: types.RetryPolicy{
			MaxAttempts:       maxAttempts,
			Backoff:           100 * time.Millisecond,
			BackoffMultiplier: 2,
		},
	}
}

func TestNext_ExponentialDelays(t *testing.T) {
	r := NewRetryController()

	delay, ok := r.Next(retryTask(1, 3))
	if !ok || delay != 100*time.Millisecond {
		t.Fatalf("first retry = (%v, %v), want (100ms, true)", delay, ok)
	}

	delay, ok = r.Next(retryTask(2, 3))
	if !ok || delay != 200*time.Millisecond {
		t.Fatalf("second retry = (%v, %v), want (200ms, true)", delay, ok)
	}

	delay, ok = r.Next(retryTask(3, 3))
	if ok || delay != 0 {
		t.Fatalf("exhausted budget = (%v, %v), want (0, false)", delay, ok)
	}
}

func TestNext_SingleAttemptPolicy(t *testing.T) {
	r := NewRetryController()

	if _, ok := r.Next(retryTask(1, 1)); ok {
		t.Fatal("max attempts 1 must not grant a retry")
	}
}

func TestNext_ExhaustionClearsState(t *testing.T) {
	r := NewRetryController()

	r.Next(retryTask(1, 3))
	r.Next(retryTask(2, 3))
	r.Next(retryTask(3, 3))

	// A later re-execution of the same id starts from the initial interval.
	delay, ok := r.Next(retryTask(1, 3))
	if !ok || delay != 100*time.Millisecond {
		t.Fatalf("delay after exhaustion = (%v, %v), want (100ms, true)", delay, ok)
	}
}

func TestReset(t *testing.T) {
	r := NewRetryController()

	r.Next(retryTask(1, 5))
	r.Next(retryTask(2, 5))
	r.Reset("t1")

	delay, ok := r.Next(retryTask(1, 5))
	if !ok || delay != 100*time.Millisecond {
		t.Fatalf("delay after reset = (%v, %v), want (100ms, true)", delay, ok)
	}
}

func TestNext_TracksTasksIndependently(t *testing.T) {
	r := NewRetryController()

	a := retryTask(1, 5)
	b := retryTask(1, 5)
	b.ID = "t2"

	r.Next(a)
	r.Next(a)

	delay, ok := r.Next(b)
	if !ok || delay != 100*time.Millisecond {
		t.Fatalf("fresh task delay = (%v, %v), want (100ms, true)", delay, ok)
	}
}
