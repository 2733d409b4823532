package depgraph

import (
	"errors"
	"testing"
	"time"

	"github.com/agentmesh/orchestrator/pkg/types"
)

// testWorld is a stand-in task table backing the graph's lookup.
type testWorld struct {
	tasks map[string]*types.WorkflowTask
}

func newTestWorld() *testWorld {
	return &testWorld{tasks: make(map[string]*types.WorkflowTask)}
}

func (w *testWorld) lookup(id string) (*types.WorkflowTask, bool) {
	t, ok := w.tasks[id]
	return t, ok
}

func (w *testWorld) add(g *Graph, t *testing.T, task *types.WorkflowTask) {
	t.Helper()
	w.tasks[task.ID] = task
	if err := g.AddTask(task); err != nil {
		t.Fatalf("AddTask(%s): %v", task.ID, err)
	}
}

func task(id string, deps ...types.TaskDependency) *types.WorkflowTask {
	return &types.WorkflowTask{
		ID:           id,
		Type:         "test",
		Status:       types.TaskStatusPending,
		Dependencies: deps,
	}
}

func dep(id string, depType types.DependencyType) types.TaskDependency {
	return types.TaskDependency{TaskID: id, Type: depType}
}

func TestAddTask_RejectsCycle(t *testing.T) {
	w := newTestWorld()
	g := New(w.lookup)

	w.add(g, t, task("a"))
	w.add(g, t, task("b", dep("a", types.DepFinishToStart)))
	w.add(g, t, task("c", dep("b", types.DepFinishToStart)))

	cyclic := task("d", dep("c", types.DepFinishToStart))
	w.tasks["d"] = cyclic
	if err := g.AddTask(cyclic); err != nil {
		t.Fatalf("acyclic add rejected: %v", err)
	}
	g.RemoveTask("d")

	// Re-adding a with a dependency on c closes the loop.
	g.RemoveTask("a")
	aCyclic := task("a", dep("c", types.DepFinishToStart))
	err := g.AddTask(aCyclic)
	var cycErr *types.CyclicDependencyError
	if !errors.As(err, &cycErr) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
	if len(cycErr.Path) < 3 {
		t.Fatalf("cycle path too short: %v", cycErr.Path)
	}

	// The rejected insert must leave no trace.
	if deps := g.Dependencies("a"); deps != nil {
		t.Fatalf("rejected task left edges behind: %v", deps)
	}
	if got := g.Dependents("c"); len(got) != 0 {
		t.Fatalf("rejected task registered as dependent: %v", got)
	}
}

func TestAddTask_DuplicateID(t *testing.T) {
	w := newTestWorld()
	g := New(w.lookup)

	w.add(g, t, task("a"))
	if err := g.AddTask(task("a")); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}
}

func TestDependents_SortedAndLive(t *testing.T) {
	w := newTestWorld()
	g := New(w.lookup)

	w.add(g, t, task("base"))
	w.add(g, t, task("zeta", dep("base", types.DepFinishToStart)))
	w.add(g, t, task("alpha", dep("base", types.DepFinishToStart)))

	got := g.Dependents("base")
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Fatalf("Dependents = %v, want [alpha zeta]", got)
	}

	g.RemoveTask("alpha")
	got = g.Dependents("base")
	if len(got) != 1 || got[0] != "zeta" {
		t.Fatalf("Dependents after removal = %v, want [zeta]", got)
	}
}

func TestIsReady_FinishToStart(t *testing.T) {
	w := newTestWorld()
	g := New(w.lookup)
	now := time.Now()

	w.add(g, t, task("up"))
	w.add(g, t, task("down", dep("up", types.DepFinishToStart)))

	if g.IsReady("down", now) {
		t.Fatal("ready before dependency completed")
	}

	w.tasks["up"].Status = types.TaskStatusRunning
	started := now.Add(-time.Minute)
	w.tasks["up"].StartedAt = &started
	if g.IsReady("down", now) {
		t.Fatal("ready while dependency still running")
	}

	w.tasks["up"].Status = types.TaskStatusCompleted
	completed := now.Add(-time.Second)
	w.tasks["up"].CompletedAt = &completed
	if !g.IsReady("down", now) {
		t.Fatal("not ready after dependency completed")
	}
}

func TestIsReady_StartToStart(t *testing.T) {
	w := newTestWorld()
	g := New(w.lookup)
	now := time.Now()

	w.add(g, t, task("up"))
	w.add(g, t, task("down", dep("up", types.DepStartToStart)))

	if g.IsReady("down", now) {
		t.Fatal("ready before dependency started")
	}

	w.tasks["up"].Status = types.TaskStatusRunning
	started := now.Add(-time.Millisecond)
	w.tasks["up"].StartedAt = &started
	if !g.IsReady("down", now) {
		t.Fatal("not ready after dependency started")
	}
}

func TestIsReady_LagFromDependencyEvent(t *testing.T) {
	w := newTestWorld()
	g := New(w.lookup)
	now := time.Now()

	lagged := types.TaskDependency{TaskID: "up", Type: types.DepFinishToStart, Lag: time.Hour}
	w.add(g, t, task("up"))
	w.add(g, t, task("down", lagged))

	w.tasks["up"].Status = types.TaskStatusCompleted
	completed := now.Add(-30 * time.Minute)
	w.tasks["up"].CompletedAt = &completed

	if g.IsReady("down", now) {
		t.Fatal("ready inside the lag window")
	}
	if !g.IsReady("down", now.Add(31*time.Minute)) {
		t.Fatal("not ready after the lag window elapsed")
	}
}

func TestFinishGating_DoesNotBlockStart(t *testing.T) {
	w := newTestWorld()
	g := New(w.lookup)
	now := time.Now()

	w.add(g, t, task("peer"))
	w.add(g, t, task("down", dep("peer", types.DepFinishToFinish)))

	if !g.IsReady("down", now) {
		t.Fatal("finish-to-finish dependency blocked start")
	}
	if g.CanFinish("down", now) {
		t.Fatal("allowed to finish before peer completed")
	}

	w.tasks["peer"].Status = types.TaskStatusCompleted
	completed := now
	w.tasks["peer"].CompletedAt = &completed
	if !g.CanFinish("down", now) {
		t.Fatal("not allowed to finish after peer completed")
	}
}

func TestStartToFinish(t *testing.T) {
	w := newTestWorld()
	g := New(w.lookup)
	now := time.Now()

	w.add(g, t, task("peer"))
	w.add(g, t, task("down", dep("peer", types.DepStartToFinish)))

	if !g.IsReady("down", now) {
		t.Fatal("start-to-finish dependency blocked start")
	}
	if g.CanFinish("down", now) {
		t.Fatal("allowed to finish before peer started")
	}

	started := now
	w.tasks["peer"].Status = types.TaskStatusRunning
	w.tasks["peer"].StartedAt = &started
	if !g.CanFinish("down", now) {
		t.Fatal("not allowed to finish after peer started")
	}
}

func TestIsReady_MissingDependency(t *testing.T) {
	w := newTestWorld()
	g := New(w.lookup)

	w.add(g, t, task("down", dep("ghost", types.DepFinishToStart)))
	if g.IsReady("down", time.Now()) {
		t.Fatal("ready with an unresolvable dependency")
	}
}

func TestDetectCycle_CleanGraph(t *testing.T) {
	w := newTestWorld()
	g := New(w.lookup)

	w.add(g, t, task("a"))
	w.add(g, t, task("b", dep("a", types.DepFinishToStart)))
	w.add(g, t, task("c", dep("a", types.DepStartToStart), dep("b", types.DepFinishToStart)))

	if path := g.DetectCycle(); path != nil {
		t.Fatalf("false cycle: %v", path)
	}
}

func TestExport(t *testing.T) {
	w := newTestWorld()
	g := New(w.lookup)

	w.add(g, t, task("a"))
	lagged := types.TaskDependency{TaskID: "a", Type: types.DepStartToStart, Lag: 5 * time.Second}
	w.add(g, t, task("b", lagged))
	w.tasks["a"].Status = types.TaskStatusRunning

	nodes, edges := g.Export()
	if len(nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(nodes))
	}
	if nodes[0].ID != "a" || nodes[0].Status != types.TaskStatusRunning {
		t.Fatalf("node a = %+v", nodes[0])
	}
	if len(edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(edges))
	}
	e := edges[0]
	if e.From != "a" || e.To != "b" || e.Type != types.DepStartToStart || e.Lag != 5*time.Second {
		t.Fatalf("edge = %+v", e)
	}
}
