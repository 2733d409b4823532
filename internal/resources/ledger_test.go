package resources

import (
	"errors"
	"testing"

	"github.com/agentmesh/orchestrator/pkg/types"
)

func exclusiveReq(id string) []types.ResourceRequirement {
	return []types.ResourceRequirement{
		{ResourceID: id, Type: types.ResourceCustom, Amount: 1, Exclusive: true},
	}
}

func sharedReq(id string, amount float64) []types.ResourceRequirement {
	return []types.ResourceRequirement{
		{ResourceID: id, Type: types.ResourceCPU, Amount: amount},
	}
}

func TestTryAcquire_Exclusive(t *testing.T) {
	l := NewLedger()

	if err := l.TryAcquire("t1", exclusiveReq("gpu")); err != nil {
		t.Fatalf("first exclusive acquire: %v", err)
	}

	err := l.TryAcquire("t2", exclusiveReq("gpu"))
	var unavail *types.ResourceUnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("expected ResourceUnavailableError, got %v", err)
	}
	if unavail.ResourceID != "gpu" {
		t.Fatalf("denial names %q, want gpu", unavail.ResourceID)
	}

	l.Release("t1")
	if err := l.TryAcquire("t2", exclusiveReq("gpu")); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if got := l.Holder("gpu"); got != "t2" {
		t.Fatalf("Holder = %q, want t2", got)
	}
}

func TestTryAcquire_SharedBlockedByExclusive(t *testing.T) {
	l := NewLedger()

	if err := l.TryAcquire("t1", exclusiveReq("disk")); err != nil {
		t.Fatalf("exclusive acquire: %v", err)
	}
	if err := l.TryAcquire("t2", sharedReq("disk", 1)); err == nil {
		t.Fatal("shared claim granted while resource exclusively held")
	}
}

func TestTryAcquire_ExclusiveBlockedByShared(t *testing.T) {
	l := NewLedger()

	if err := l.TryAcquire("t1", sharedReq("disk", 1)); err != nil {
		t.Fatalf("shared acquire: %v", err)
	}
	if err := l.TryAcquire("t2", exclusiveReq("disk")); err == nil {
		t.Fatal("exclusive claim granted while shared claims exist")
	}
}

func TestTryAcquire_CapacityEnforced(t *testing.T) {
	l := NewLedger()
	l.SetCapacity("cpu", 4)

	if err := l.TryAcquire("t1", sharedReq("cpu", 3)); err != nil {
		t.Fatalf("first shared acquire: %v", err)
	}
	if err := l.TryAcquire("t2", sharedReq("cpu", 2)); err == nil {
		t.Fatal("over-capacity claim granted")
	}
	if err := l.TryAcquire("t2", sharedReq("cpu", 1)); err != nil {
		t.Fatalf("within-capacity claim denied: %v", err)
	}

	st := l.StatusOf("cpu")
	if st.Claimed != 4 || st.Capacity != 4 {
		t.Fatalf("status = %+v", st)
	}
	if len(st.Holders) != 2 {
		t.Fatalf("holders = %v", st.Holders)
	}
}

func TestTryAcquire_AllOrNothing(t *testing.T) {
	l := NewLedger()
	l.SetCapacity("cpu", 4)

	// Occupy the second resource so the multi-requirement acquire fails on it.
	if err := l.TryAcquire("other", exclusiveReq("gpu")); err != nil {
		t.Fatalf("setup acquire: %v", err)
	}

	reqs := []types.ResourceRequirement{
		{ResourceID: "cpu", Type: types.ResourceCPU, Amount: 2},
		{ResourceID: "gpu", Type: types.ResourceCustom, Amount: 1, Exclusive: true},
	}
	if err := l.TryAcquire("t1", reqs); err == nil {
		t.Fatal("partial acquire succeeded")
	}

	// The cpu grant from the failed call must have been rolled back.
	st := l.StatusOf("cpu")
	if st.Claimed != 0 {
		t.Fatalf("cpu claimed = %.1f after rollback, want 0", st.Claimed)
	}
}

func TestExclusiveFIFO(t *testing.T) {
	l := NewLedger()

	// t-late arrives after t-early; once the resource frees up, t-late must
	// wait its turn even if it asks first.
	if err := l.TryAcquire("holder", exclusiveReq("gpu")); err != nil {
		t.Fatalf("setup acquire: %v", err)
	}
	l.Enqueue("t-early", exclusiveReq("gpu"))
	l.Enqueue("t-late", exclusiveReq("gpu"))

	l.Release("holder")

	if err := l.TryAcquire("t-late", exclusiveReq("gpu")); err == nil {
		t.Fatal("later arrival jumped the queue")
	}
	if err := l.TryAcquire("t-early", exclusiveReq("gpu")); err != nil {
		t.Fatalf("head of line denied: %v", err)
	}

	// The grant removed t-early from the queue; after it releases, t-late
	// is next.
	l.Release("t-early")
	if err := l.TryAcquire("t-late", exclusiveReq("gpu")); err != nil {
		t.Fatalf("next in line denied: %v", err)
	}
}

func TestEnqueue_Idempotent(t *testing.T) {
	l := NewLedger()

	l.Enqueue("t1", exclusiveReq("gpu"))
	l.Enqueue("t1", exclusiveReq("gpu"))
	l.Enqueue("t2", exclusiveReq("gpu"))

	// t1 acquires and releases; a duplicate queue entry would leave t1
	// blocking t2.
	if err := l.TryAcquire("t1", exclusiveReq("gpu")); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	l.Release("t1")

	if err := l.TryAcquire("t2", exclusiveReq("gpu")); err != nil {
		t.Fatalf("queue not drained: %v", err)
	}
}

func TestRelease_DropsQueueEntries(t *testing.T) {
	l := NewLedger()

	if err := l.TryAcquire("holder", exclusiveReq("gpu")); err != nil {
		t.Fatalf("setup acquire: %v", err)
	}
	l.Enqueue("cancelled", exclusiveReq("gpu"))
	l.Enqueue("waiting", exclusiveReq("gpu"))

	// The cancelled task leaves; it must not block the next in line.
	l.Release("cancelled")
	l.Release("holder")

	if err := l.TryAcquire("waiting", exclusiveReq("gpu")); err != nil {
		t.Fatalf("stale queue entry blocked acquire: %v", err)
	}
}

func TestStatusOf_Unknown(t *testing.T) {
	l := NewLedger()
	st := l.StatusOf("nothing")
	if st.ResourceID != "nothing" || st.Claimed != 0 || st.Exclusive {
		t.Fatalf("status = %+v", st)
	}
}
