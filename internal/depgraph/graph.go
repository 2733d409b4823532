// Package depgraph maintains the directed dependency graph between tasks.
//
// The graph is an arena of nodes keyed by task id with adjacency lists of
// ids, not live task references, so cycle detection and export are plain
// traversals. Task state needed for readiness checks is read through a
// lookup function supplied by the owner.
package depgraph

import (
	"sort"
	"sync"
	"time"

	"github.com/agentmesh/orchestrator/pkg/types"
)

// TaskLookup resolves a task id to a snapshot of its current state.
type TaskLookup func(id string) (*types.WorkflowTask, bool)

// node holds the adjacency lists for one task.
type node struct {
	deps       []types.TaskDependency
	dependents map[string]bool
}

// Graph is the dependency graph. Safe for concurrent use.
type Graph struct {
	mu     sync.RWMutex
	nodes  map[string]*node
	lookup TaskLookup
}

// New creates an empty graph reading task state through lookup.
func New(lookup TaskLookup) *Graph {
	return &Graph{
		nodes:  make(map[string]*node),
		lookup: lookup,
	}
}

// AddTask registers a task's dependency edges. The insertion is rejected
// with a CyclicDependencyError, leaving the graph unchanged, if the new
// edges would close a cycle.
func (g *Graph) AddTask(task *types.WorkflowTask) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[task.ID]; exists {
		return &types.ValidationError{Field: "id", Message: "task " + task.ID + " already registered"}
	}

	n := &node{
		deps:       append([]types.TaskDependency(nil), task.Dependencies...),
		dependents: make(map[string]bool),
	}
	g.nodes[task.ID] = n
	for _, dep := range task.Dependencies {
		if target, ok := g.nodes[dep.TaskID]; ok {
			target.dependents[task.ID] = true
		}
	}
	// Dependents of a forward-referenced id attach now that it exists.
	for id, other := range g.nodes {
		if id == task.ID {
			continue
		}
		for _, dep := range other.deps {
			if dep.TaskID == task.ID {
				n.dependents[id] = true
			}
		}
	}

	if path := g.findCycleFrom(task.ID); path != nil {
		g.removeLocked(task.ID)
		return &types.CyclicDependencyError{Path: path}
	}
	return nil
}

// RemoveTask deregisters a task and all its edges.
func (g *Graph) RemoveTask(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(id)
}

func (g *Graph) removeLocked(id string) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for _, dep := range n.deps {
		if target, ok := g.nodes[dep.TaskID]; ok {
			delete(target.dependents, id)
		}
	}
	delete(g.nodes, id)
}

// Dependents returns the ids of tasks that depend on the given task, sorted
// for determinism.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(n.dependents))
	for dep := range n.dependents {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// Dependencies returns the ids this task depends on, in declaration order.
func (g *Graph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(n.deps))
	for _, dep := range n.deps {
		out = append(out, dep.TaskID)
	}
	return out
}

// IsReady reports whether every start-gating dependency of the task is
// satisfied at the given instant. Finish-gating dependency types
// (finish-to-finish, start-to-finish) do not block starting.
func (g *Graph) IsReady(id string, now time.Time) bool {
	g.mu.RLock()
	deps := g.depsOf(id)
	g.mu.RUnlock()

	for _, dep := range deps {
		if !dep.Type.GatesStart() {
			continue
		}
		if !g.Satisfied(dep, now) {
			return false
		}
	}
	return true
}

// CanFinish reports whether every finish-gating dependency of the task is
// satisfied at the given instant.
func (g *Graph) CanFinish(id string, now time.Time) bool {
	g.mu.RLock()
	deps := g.depsOf(id)
	g.mu.RUnlock()

	for _, dep := range deps {
		if dep.Type.GatesStart() {
			continue
		}
		if !g.Satisfied(dep, now) {
			return false
		}
	}
	return true
}

func (g *Graph) depsOf(id string) []types.TaskDependency {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return append([]types.TaskDependency(nil), n.deps...)
}

// Satisfied evaluates a single dependency. Lag is measured from the
// referenced dependency-side event.
func (g *Graph) Satisfied(dep types.TaskDependency, now time.Time) bool {
	target, ok := g.lookup(dep.TaskID)
	if !ok {
		return false
	}
	switch dep.Type {
	case types.DepFinishToStart, types.DepFinishToFinish:
		if target.Status != types.TaskStatusCompleted || target.CompletedAt == nil {
			return false
		}
		return !now.Before(target.CompletedAt.Add(dep.Lag))
	case types.DepStartToStart, types.DepStartToFinish:
		if target.StartedAt == nil {
			return false
		}
		return !now.Before(target.StartedAt.Add(dep.Lag))
	}
	return false
}

// DetectCycle scans the whole graph and returns one cycle as a path of task
// ids (first id repeated last), or nil if the graph is acyclic.
func (g *Graph) DetectCycle() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if path := g.findCycleFrom(id); path != nil {
			return path
		}
	}
	return nil
}

// findCycleFrom runs a DFS over dependency edges starting at id and returns
// the cycle path if one is reachable. Caller holds at least a read lock.
func (g *Graph) findCycleFrom(start string) []string {
	var stack []string
	onStack := make(map[string]int)
	visited := make(map[string]bool)

	var visit func(id string) []string
	visit = func(id string) []string {
		if pos, ok := onStack[id]; ok {
			cycle := append([]string(nil), stack[pos:]...)
			return append(cycle, id)
		}
		if visited[id] {
			return nil
		}
		n, ok := g.nodes[id]
		if !ok {
			return nil
		}
		onStack[id] = len(stack)
		stack = append(stack, id)
		for _, dep := range n.deps {
			if path := visit(dep.TaskID); path != nil {
				return path
			}
		}
		stack = stack[:len(stack)-1]
		delete(onStack, id)
		visited[id] = true
		return nil
	}
	return visit(start)
}

// GraphNode is one entry in an exported graph snapshot.
type GraphNode struct {
	ID     string           `json:"id"`
	Status types.TaskStatus `json:"status"`
}

// GraphEdge is one dependency edge in an exported graph snapshot.
type GraphEdge struct {
	From string               `json:"from"`
	To   string               `json:"to"`
	Type types.DependencyType `json:"type"`
	Lag  time.Duration        `json:"lag,omitempty"`
}

// Export returns a snapshot of the graph for inspection or visualization.
// Edges point from a dependency to the task that depends on it. Task state
// is resolved outside the graph lock to keep lock ordering one-way.
func (g *Graph) Export() ([]GraphNode, []GraphEdge) {
	g.mu.RLock()
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var edges []GraphEdge
	for _, id := range ids {
		for _, dep := range g.nodes[id].deps {
			edges = append(edges, GraphEdge{
				From: dep.TaskID,
				To:   id,
				Type: dep.Type,
				Lag:  dep.Lag,
			})
		}
	}
	g.mu.RUnlock()

	nodes := make([]GraphNode, 0, len(ids))
	for _, id := range ids {
		gn := GraphNode{ID: id}
		if task, ok := g.lookup(id); ok {
			gn.Status = task.Status
		}
		nodes = append(nodes, gn)
	}
	return nodes, edges
}
