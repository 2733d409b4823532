package taskstore

import (
	"sort"
	"strings"
	"time"

	"github.com/agentmesh/orchestrator/pkg/types"
)

// Filter selects tasks for listing. Zero-valued fields match everything.
type Filter struct {
	Statuses      []types.TaskStatus `json:"statuses,omitempty"`
	Agents        []string           `json:"agents,omitempty"`
	PriorityMin   *int               `json:"priority_min,omitempty"`
	PriorityMax   *int               `json:"priority_max,omitempty"`
	Tags          []string           `json:"tags,omitempty"` // any-match
	CreatedAfter  *time.Time         `json:"created_after,omitempty"`
	CreatedBefore *time.Time         `json:"created_before,omitempty"`
	DueBefore     *time.Time         `json:"due_before,omitempty"`
	WorkflowID    string             `json:"workflow_id,omitempty"`
	Search        string             `json:"search,omitempty"` // free text over description/type/tags
}

// SortField enumerates the supported sort keys.
type SortField string

const (
	SortCreatedAt         SortField = "createdAt"
	SortPriority          SortField = "priority"
	SortDeadline          SortField = "deadline"
	SortStatus            SortField = "status"
	SortEstimatedDuration SortField = "estimatedDuration"
)

// Sort orders a listing. Ties are always broken by id for determinism.
type Sort struct {
	Field      SortField `json:"field"`
	Descending bool      `json:"descending,omitempty"`
}

// Page is one page of a listing.
type Page struct {
	Tasks   []*types.WorkflowTask `json:"tasks"`
	Total   int                   `json:"total"`
	HasMore bool                  `json:"has_more"`
}

// List returns tasks matching the filter, ordered and paginated.
// limit <= 0 means no limit.
func (s *Store) List(filter Filter, order Sort, limit, offset int) Page {
	s.mu.RLock()
	matched := make([]*types.WorkflowTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.matches(task) {
			matched = append(matched, task.Clone())
		}
	}
	s.mu.RUnlock()

	sortTasks(matched, order)

	total := len(matched)
	if offset > total {
		offset = total
	}
	matched = matched[offset:]
	hasMore := false
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
		hasMore = true
	}
	return Page{Tasks: matched, Total: total, HasMore: hasMore}
}

func (f Filter) matches(t *types.WorkflowTask) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
		return false
	}
	if len(f.Agents) > 0 && !containsString(f.Agents, t.AssignedAgent) {
		return false
	}
	if f.PriorityMin != nil && t.Priority < *f.PriorityMin {
		return false
	}
	if f.PriorityMax != nil && t.Priority > *f.PriorityMax {
		return false
	}
	if len(f.Tags) > 0 {
		any := false
		for _, tag := range f.Tags {
			if t.HasTag(tag) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if f.CreatedAfter != nil && !t.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !t.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.DueBefore != nil {
		if t.Schedule == nil || t.Schedule.Deadline == nil || !t.Schedule.Deadline.Before(*f.DueBefore) {
			return false
		}
	}
	if f.WorkflowID != "" && t.WorkflowID != f.WorkflowID {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(t.Description), needle) &&
			!strings.Contains(strings.ToLower(t.Type), needle) &&
			!tagsContain(t.Tags, needle) {
			return false
		}
	}
	return true
}

func tagsContain(tags []string, needle string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func containsStatus(set []types.TaskStatus, s types.TaskStatus) bool {
	for _, have := range set {
		if have == s {
			return true
		}
	}
	return false
}

func containsString(set []string, s string) bool {
	for _, have := range set {
		if have == s {
			return true
		}
	}
	return false
}

func sortTasks(tasks []*types.WorkflowTask, order Sort) {
	less := lessFunc(order.Field)
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if order.Descending {
			a, b = b, a
		}
		switch cmp := less(a, b); cmp {
		case -1:
			return true
		case 1:
			return false
		}
		// cmp == 0: deterministic tie-break, always ascending by id.
		return tasks[i].ID < tasks[j].ID
	})
}

// lessFunc returns a three-way comparator for the sort field. Unknown
// fields fall back to creation time.
func lessFunc(field SortField) func(a, b *types.WorkflowTask) int {
	switch field {
	case SortPriority:
		return func(a, b *types.WorkflowTask) int {
			return compareInt(a.Priority, b.Priority)
		}
	case SortDeadline:
		return func(a, b *types.WorkflowTask) int {
			return compareTimePtr(deadlineOf(a), deadlineOf(b))
		}
	case SortStatus:
		return func(a, b *types.WorkflowTask) int {
			return strings.Compare(string(a.Status), string(b.Status))
		}
	case SortEstimatedDuration:
		return func(a, b *types.WorkflowTask) int {
			return compareInt(int(a.EstimatedDuration), int(b.EstimatedDuration))
		}
	default:
		return func(a, b *types.WorkflowTask) int {
			return compareTime(a.CreatedAt, b.CreatedAt)
		}
	}
}

func deadlineOf(t *types.WorkflowTask) *time.Time {
	if t.Schedule == nil {
		return nil
	}
	return t.Schedule.Deadline
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

// compareTimePtr orders nil deadlines last.
func compareTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return compareTime(*a, *b)
}
