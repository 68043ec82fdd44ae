package graph

import (
	"sort"
	"testing"

	"github.com/go-quicktest/qt"
)

func chain() *DependencyGraph {
	// A -> B -> C -> D
	g := New()
	g.AddVertices([]string{"A", "B", "C", "D"})
	g.AddOutgoing("A", []string{"B"})
	g.AddOutgoing("B", []string{"C"})
	g.AddOutgoing("C", []string{"D"})
	return g
}

func TestLeaves(t *testing.T) {
	g := chain()
	qt.Assert(t, qt.DeepEquals(g.Leaves(), []string{"D"}))
}

func TestLeafFirstDrain(t *testing.T) {
	g := chain()
	var order []string
	for {
		leaves := g.Leaves()
		if len(leaves) == 0 {
			break
		}
		sort.Strings(leaves)
		order = append(order, leaves...)
		g.RemoveVertices(leaves)
	}
	qt.Assert(t, qt.DeepEquals(order, []string{"D", "C", "B", "A"}))
}

func TestIncomingOutgoing(t *testing.T) {
	g := chain()
	qt.Assert(t, qt.DeepEquals(g.Outgoing("B"), []string{"C"}))
	qt.Assert(t, qt.DeepEquals(g.Incoming("C"), []string{"B"}))
}

func TestSwapPreservesIncomingEdges(t *testing.T) {
	g := chain()
	skipped := g.Swap(map[string][]string{
		"C": {"D"}, // C' still depends on D, same as before
	})
	qt.Assert(t, qt.HasLen(skipped, 0))
	qt.Assert(t, qt.DeepEquals(g.Incoming("C"), []string{"B"}))
	qt.Assert(t, qt.DeepEquals(g.Outgoing("C"), []string{"D"}))
}

func TestSwapSkipsUnsatisfiedDependency(t *testing.T) {
	g := New()
	g.AddVertices([]string{"A"})
	skipped := g.Swap(map[string][]string{
		"A": {"NotYetPresent"},
	})
	qt.Assert(t, qt.DeepEquals(skipped, []string{"A"}))
	// A's outgoing edges are unchanged (still none).
	qt.Assert(t, qt.HasLen(g.Outgoing("A"), 0))
}

func TestSwapAcceptsDependencyOnSiblingWithinTheSameBatch(t *testing.T) {
	// A cold-start batch introducing both "base" and "top" together,
	// where top depends on base, must not be skipped just because base
	// hasn't been inserted as a vertex yet when top is considered (map
	// iteration order over alternates is unspecified).
	for i := 0; i < 20; i++ {
		g := New()
		skipped := g.Swap(map[string][]string{
			"top":  {"base"},
			"base": {},
		})
		qt.Assert(t, qt.HasLen(skipped, 0))
		qt.Assert(t, qt.DeepEquals(g.Outgoing("top"), []string{"base"}))
	}
}

func TestReachable(t *testing.T) {
	g := chain()
	got := g.Reachable("A")
	sort.Strings(got)
	qt.Assert(t, qt.DeepEquals(got, []string{"B", "C", "D"}))
}

func TestRemoveVertices(t *testing.T) {
	g := chain()
	g.RemoveVertices([]string{"D"})
	qt.Assert(t, qt.DeepEquals(g.Leaves(), []string{"C"}))
}
