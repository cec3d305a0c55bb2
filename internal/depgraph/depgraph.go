// Package depgraph tracks parent/child ordering constraints between
// triplets so that a folder is never deleted remotely or locally before
// every item that was inside it has finished processing.
//
// The graph is a flat, mutex-guarded map rather than a real DAG structure:
// producers (the change-log ingester, the remote crawler) only ever add
// edges from a folder to its direct children, so cycles cannot occur by
// construction and no cycle detection is needed.
package depgraph

import "sync"

// Outcome is the result a worker reports back for a child it just finished
// processing.
type Outcome int

const (
	// Succeed resolves the edge: the child is done and the parent may
	// proceed once all of its other children have also resolved.
	Succeed Outcome = iota
	// Fail resolves the edge but poisons the parent: the parent must be
	// skipped rather than processed, since the precondition for a safe
	// folder delete (every child gone) no longer holds.
	Fail
	// Retry leaves the edge pending. The child itself will be requeued by
	// the caller and reported again later with a terminal outcome.
	Retry
)

// Graph is safe for concurrent use by the processor's worker pool.
type Graph struct {
	mu      sync.Mutex
	pending map[string]map[string]struct{}
	failed  map[string]map[string]struct{}
}

// New returns an empty dependency graph.
func New() *Graph {
	return &Graph{
		pending: make(map[string]map[string]struct{}),
		failed:  make(map[string]map[string]struct{}),
	}
}

// Add records that parent depends on child, i.e. child must finish
// processing before parent may be attempted. Idempotent: adding the same
// edge twice has no additional effect.
func (g *Graph) Add(parent, child string) {
	if parent == "" || child == "" || parent == child {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.pending[parent]
	if !ok {
		set = make(map[string]struct{})
		g.pending[parent] = set
	}
	set[child] = struct{}{}
}

// Remove resolves the parent/child edge with the given outcome. Retry
// leaves the edge pending; Succeed and Fail clear it, with Fail also
// recording the parent as permanently blocked.
func (g *Graph) Remove(parent, child string, outcome Outcome) {
	if parent == "" || child == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if outcome == Retry {
		return
	}

	if set, ok := g.pending[parent]; ok {
		delete(set, child)
		if len(set) == 0 {
			delete(g.pending, parent)
		}
	}

	if outcome == Fail {
		set, ok := g.failed[parent]
		if !ok {
			set = make(map[string]struct{})
			g.failed[parent] = set
		}
		set[child] = struct{}{}
	}
}

// IsReady reports whether parent has no outstanding pending children. A
// parent that was never added to the graph (no children were ever
// registered for it, e.g. an empty folder or a plain document) is always
// ready.
func (g *Graph) IsReady(parent string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending[parent]) == 0
}

// Failed reports whether parent has at least one child that failed. A
// caller must treat this as "never process parent" rather than "not ready
// yet" — it is a permanent condition for the current run.
func (g *Graph) Failed(parent string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.failed[parent]) > 0
}

// DependenciesOf returns the keys parent is still waiting on.
func (g *Graph) DependenciesOf(parent string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	set := g.pending[parent]
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// Empty reports whether no parent still has pending (in-flight) children.
// The processor's termination condition requires this to be true alongside
// an empty work queue before a run is considered complete.
func (g *Graph) Empty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending) == 0
}
