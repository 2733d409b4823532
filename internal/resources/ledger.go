// Package resources tracks named resources and the claims tasks hold on
// them. Acquisition is all-or-nothing: a task either gets every requirement
// in its list or none of them.
package resources

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agentmesh/orchestrator/pkg/types"
)

// claim is one granted requirement.
type claim struct {
	taskID    string
	amount    float64
	exclusive bool
}

// resource is the ledger's record for one resource id.
type resource struct {
	capacity  float64 // <= 0 means unbounded
	claims    []claim // grant order preserved
}

// Ledger tracks resource capacities and outstanding claims. Safe for
// concurrent use; the scheduler serializes acquire/release against its
// selection pass.
type Ledger struct {
	mu        sync.Mutex
	resources map[string]*resource

	// arrivals orders allocation requests per resource so equal-priority
	// contenders for an exclusive resource are granted FIFO.
	arrivals map[string][]string
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		resources: make(map[string]*resource),
		arrivals:  make(map[string][]string),
	}
}

// SetCapacity declares a total capacity for a resource. Resources never
// declared are unbounded for shared claims.
func (l *Ledger) SetCapacity(resourceID string, capacity float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.resourceLocked(resourceID)
	r.capacity = capacity
}

func (l *Ledger) resourceLocked(id string) *resource {
	r, ok := l.resources[id]
	if !ok {
		r = &resource{}
		l.resources[id] = r
	}
	return r
}

// Enqueue records the arrival of an allocation request so later TryAcquire
// calls can break exclusive-resource ties in FIFO order. Calling it more
// than once for the same task is a no-op.
func (l *Ledger) Enqueue(taskID string, reqs []types.ResourceRequirement) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, req := range reqs {
		if !req.Exclusive {
			continue
		}
		queue := l.arrivals[req.ResourceID]
		found := false
		for _, id := range queue {
			if id == taskID {
				found = true
				break
			}
		}
		if !found {
			l.arrivals[req.ResourceID] = append(queue, taskID)
		}
	}
}

// TryAcquire attempts to grant every requirement in the list atomically.
// On any single denial, already-granted requirements from this call are
// released before the error is returned.
func (l *Ledger) TryAcquire(taskID string, reqs []types.ResourceRequirement) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	granted := make([]string, 0, len(reqs))
	rollback := func() {
		for _, id := range granted {
			l.releaseOneLocked(id, taskID)
		}
	}

	for _, req := range reqs {
		r := l.resourceLocked(req.ResourceID)

		if req.Exclusive {
			if len(r.claims) > 0 {
				rollback()
				return &types.ResourceUnavailableError{
					TaskID:     taskID,
					ResourceID: req.ResourceID,
					Reason:     "exclusive claim blocked by existing claims",
				}
			}
			if head := l.headOfLineLocked(req.ResourceID); head != "" && head != taskID {
				rollback()
				return &types.ResourceUnavailableError{
					TaskID:     taskID,
					ResourceID: req.ResourceID,
					Reason:     "waiting behind earlier request from task " + head,
				}
			}
		} else {
			for _, c := range r.claims {
				if c.exclusive {
					rollback()
					return &types.ResourceUnavailableError{
						TaskID:     taskID,
						ResourceID: req.ResourceID,
						Reason:     "resource exclusively held by task " + c.taskID,
					}
				}
			}
			if r.capacity > 0 {
				if l.claimedLocked(req.ResourceID)+req.Amount > r.capacity {
					rollback()
					return &types.ResourceUnavailableError{
						TaskID:     taskID,
						ResourceID: req.ResourceID,
						Reason: fmt.Sprintf("capacity exceeded: %.2f claimed of %.2f, requested %.2f",
							l.claimedLocked(req.ResourceID), r.capacity, req.Amount),
					}
				}
			}
		}

		r.claims = append(r.claims, claim{taskID: taskID, amount: req.Amount, exclusive: req.Exclusive})
		granted = append(granted, req.ResourceID)
	}

	// The request left the queue the moment it was granted.
	for _, req := range reqs {
		if req.Exclusive {
			l.dequeueLocked(req.ResourceID, taskID)
		}
	}
	return nil
}

// headOfLineLocked returns the first queued task id still waiting on the
// resource, or "" when the queue is empty.
func (l *Ledger) headOfLineLocked(resourceID string) string {
	queue := l.arrivals[resourceID]
	if len(queue) == 0 {
		return ""
	}
	return queue[0]
}

func (l *Ledger) dequeueLocked(resourceID, taskID string) {
	queue := l.arrivals[resourceID]
	for i, id := range queue {
		if id == taskID {
			l.arrivals[resourceID] = append(queue[:i:i], queue[i+1:]...)
			return
		}
	}
}

func (l *Ledger) claimedLocked(resourceID string) float64 {
	r, ok := l.resources[resourceID]
	if !ok {
		return 0
	}
	var total float64
	for _, c := range r.claims {
		total += c.amount
	}
	return total
}

// Release frees every claim held by the task and removes any queued
// allocation requests it still has.
func (l *Ledger) Release(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id := range l.resources {
		l.releaseOneLocked(id, taskID)
	}
	for id := range l.arrivals {
		l.dequeueLocked(id, taskID)
	}
}

func (l *Ledger) releaseOneLocked(resourceID, taskID string) {
	r, ok := l.resources[resourceID]
	if !ok {
		return
	}
	kept := r.claims[:0]
	for _, c := range r.claims {
		if c.taskID != taskID {
			kept = append(kept, c)
		}
	}
	r.claims = kept
}

// Status describes one resource's allocation state.
type Status struct {
	ResourceID string   `json:"resource_id"`
	Capacity   float64  `json:"capacity,omitempty"`
	Claimed    float64  `json:"claimed"`
	Holders    []string `json:"holders,omitempty"`
	Exclusive  bool     `json:"exclusive"`
}

// StatusOf reports the allocation state of a single resource.
func (l *Ledger) StatusOf(resourceID string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := Status{ResourceID: resourceID}
	r, ok := l.resources[resourceID]
	if !ok {
		return st
	}
	st.Capacity = r.capacity
	holders := make(map[string]bool)
	for _, c := range r.claims {
		st.Claimed += c.amount
		holders[c.taskID] = true
		if c.exclusive {
			st.Exclusive = true
		}
	}
	for id := range holders {
		st.Holders = append(st.Holders, id)
	}
	sort.Strings(st.Holders)
	return st
}

// Holder returns the task holding an exclusive claim on the resource, or ""
// when no exclusive claim exists.
func (l *Ledger) Holder(resourceID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.resources[resourceID]
	if !ok {
		return ""
	}
	for _, c := range r.claims {
		if c.exclusive {
			return c.taskID
		}
	}
	return ""
}
