package depgraph

import "testing"

func TestParentNotReadyUntilChildrenResolve(t *testing.T) {
	g := New()
	g.Add("folder/", "folder/a.txt")
	g.Add("folder/", "folder/b.txt")

	if g.IsReady("folder/") {
		t.Fatal("parent must not be ready while children are pending")
	}

	g.Remove("folder/", "folder/a.txt", Succeed)
	if g.IsReady("folder/") {
		t.Fatal("parent must not be ready until ALL children resolve")
	}

	g.Remove("folder/", "folder/b.txt", Succeed)
	if !g.IsReady("folder/") {
		t.Fatal("parent must be ready once every child has resolved")
	}
}

func TestRetryLeavesEdgePending(t *testing.T) {
	g := New()
	g.Add("folder/", "folder/a.txt")
	g.Remove("folder/", "folder/a.txt", Retry)
	if g.IsReady("folder/") {
		t.Fatal("a retried child must keep the parent not-ready")
	}
	g.Remove("folder/", "folder/a.txt", Succeed)
	if !g.IsReady("folder/") {
		t.Fatal("parent must become ready once the retried child finally succeeds")
	}
}

func TestFailedChildPoisonsParentPermanently(t *testing.T) {
	g := New()
	g.Add("folder/", "folder/a.txt")
	g.Remove("folder/", "folder/a.txt", Fail)

	if !g.IsReady("folder/") {
		t.Fatal("a failed child still resolves the pending edge (graph must drain)")
	}
	if !g.Failed("folder/") {
		t.Fatal("parent must be marked permanently failed")
	}
}

func TestUnregisteredParentIsAlwaysReady(t *testing.T) {
	g := New()
	if !g.IsReady("never-added/") {
		t.Fatal("a parent with no registered children must be ready")
	}
}

func TestEmptyTracksInFlightWork(t *testing.T) {
	g := New()
	if !g.Empty() {
		t.Fatal("a fresh graph must be empty")
	}
	g.Add("folder/", "folder/a.txt")
	if g.Empty() {
		t.Fatal("graph with a pending edge must not be empty")
	}
	g.Remove("folder/", "folder/a.txt", Succeed)
	if !g.Empty() {
		t.Fatal("graph must be empty again once the only edge resolves")
	}
}
