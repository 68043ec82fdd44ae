// Package graph implements the dependency DAG (spec §4.4): vertices
// are module names (revision is resolved later, at link time), edges
// are declared dependencies.
//
// This specializes the shape of the teacher's generic incremental MVS
// graph (internal/mod/mvs/graph.go in cuelang.org/go) to the operations
// this spec actually needs — leaf discovery and vertex swap drive
// leaf-first compilation and cascading relink, rather than minimal
// version selection, so the vertex type is narrowed from a generic
// comparable V down to a plain string and the Require/Selected/
// BuildList machinery is dropped in favor of Leaves/Swap/
// RemoveVertices.
package graph

import "sync"

// DependencyGraph is a directed graph over module names. It is safe
// for concurrent use; the loader's own mutex (spec §5) means callers
// rarely contend on it, but RevisionRegistry.graph() snapshots may run
// concurrently with reads from listeners.
type DependencyGraph struct {
	mu  sync.RWMutex
	out map[string]map[string]bool
	in  map[string]map[string]bool
}

// New returns an empty DependencyGraph.
func New() *DependencyGraph {
	return &DependencyGraph{
		out: make(map[string]map[string]bool),
		in:  make(map[string]map[string]bool),
	}
}

// AddVertices ensures every name in names exists as a vertex, with no
// edges if newly created.
func (g *DependencyGraph) AddVertices(names []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range names {
		g.ensureVertexLocked(n)
	}
}

func (g *DependencyGraph) ensureVertexLocked(n string) {
	if _, ok := g.out[n]; !ok {
		g.out[n] = make(map[string]bool)
	}
	if _, ok := g.in[n]; !ok {
		g.in[n] = make(map[string]bool)
	}
}

// AddOutgoing records that src depends on each of targets. Both src and
// every target become vertices if they weren't already.
func (g *DependencyGraph) AddOutgoing(src string, targets []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureVertexLocked(src)
	for _, t := range targets {
		g.ensureVertexLocked(t)
		g.out[src][t] = true
		g.in[t][src] = true
	}
}

// AddIncoming records that each of sources depends on dst. Equivalent
// to calling AddOutgoing(s, []string{dst}) for each s in sources.
func (g *DependencyGraph) AddIncoming(dst string, sources []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureVertexLocked(dst)
	for _, s := range sources {
		g.ensureVertexLocked(s)
		g.out[s][dst] = true
		g.in[dst][s] = true
	}
}

// Swap replaces, for each name in alternates, that vertex's outgoing
// edges with the given dependency list, preserving its incoming edges.
// An entry with a declared dependency that is neither in the current
// vertex set nor itself a name in alternates is skipped — spec §4.4 says such a candidate "will
// be retried on a later update call that includes their dependencies".
// Swap returns the names that were skipped (spec §9 Open Question b
// recommends surfacing this as a deferred list rather than silently
// dropping it).
func (g *DependencyGraph) Swap(alternates map[string][]string) (skipped []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// A dependency is satisfiable if it's already a vertex, or if it is
	// itself one of the names being swapped in by this same call: the
	// whole batch is applied as one coherent set, not one entry at a
	// time, so sibling candidates may depend on each other regardless of
	// the (unspecified) map iteration order below.
	satisfiable := func(d string) bool {
		if _, ok := g.out[d]; ok {
			return true
		}
		_, ok := alternates[d]
		return ok
	}

	for name, deps := range alternates {
		allSatisfiable := true
		for _, d := range deps {
			if !satisfiable(d) {
				allSatisfiable = false
				break
			}
		}
		if !allSatisfiable {
			skipped = append(skipped, name)
			continue
		}

		// Preserve incoming edges: snapshot them before removing the
		// vertex, then reinstall after.
		var preservedIncoming []string
		for src := range g.in[name] {
			preservedIncoming = append(preservedIncoming, src)
		}
		g.removeVertexLocked(name)
		g.ensureVertexLocked(name)
		for _, src := range preservedIncoming {
			g.ensureVertexLocked(src)
			g.out[src][name] = true
			g.in[name][src] = true
		}
		for _, d := range deps {
			g.ensureVertexLocked(d)
			g.out[name][d] = true
			g.in[d][name] = true
		}
	}
	return skipped
}

// Leaves returns the vertices with no outgoing edges.
func (g *DependencyGraph) Leaves() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var leaves []string
	for v, outs := range g.out {
		if len(outs) == 0 {
			leaves = append(leaves, v)
		}
	}
	return leaves
}

// Incoming returns a snapshot of v's incoming-edge sources (the
// vertices that depend on v).
func (g *DependencyGraph) Incoming(v string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for src := range g.in[v] {
		out = append(out, src)
	}
	return out
}

// Outgoing returns a snapshot of v's outgoing-edge targets (v's
// declared dependencies).
func (g *DependencyGraph) Outgoing(v string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for dst := range g.out[v] {
		out = append(out, dst)
	}
	return out
}

// RemoveVertices deletes every name in names, along with any edges
// touching them.
func (g *DependencyGraph) RemoveVertices(names []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range names {
		g.removeVertexLocked(n)
	}
}

func (g *DependencyGraph) removeVertexLocked(n string) {
	for dst := range g.out[n] {
		delete(g.in[dst], n)
	}
	for src := range g.in[n] {
		delete(g.out[src], n)
	}
	delete(g.out, n)
	delete(g.in, n)
}

// Reachable returns every vertex reachable from v by following outgoing
// edges, not including v itself. Used by the registry (spec §9) to
// check whether adding a dependency edge would close a cycle before
// it does.
func (g *DependencyGraph) Reachable(v string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := map[string]bool{v: true}
	var out []string
	queue := []string{v}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for dst := range g.out[cur] {
			if !seen[dst] {
				seen[dst] = true
				out = append(out, dst)
				queue = append(queue, dst)
			}
		}
	}
	return out
}

// Vertices returns a snapshot of every vertex currently in the graph.
func (g *DependencyGraph) Vertices() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for v := range g.out {
		out = append(out, v)
	}
	return out
}
