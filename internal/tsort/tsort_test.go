package tsort

import (
	"errors"
	"reflect"
	"testing"
)

func position[T comparable](order []T) map[T]int {
	pos := make(map[T]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	return pos
}

func TestSortLinearExtension(t *testing.T) {
	tests := []struct {
		name  string
		nodes []string
		edges [][2]string
	}{
		{name: "chain", nodes: []string{"c", "b", "a"}, edges: [][2]string{{"a", "b"}, {"b", "c"}}},
		{name: "diamond", nodes: []string{"d", "c", "b", "a"}, edges: [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}}},
		{name: "duplicate edges", nodes: []string{"y", "x"}, edges: [][2]string{{"x", "y"}, {"x", "y"}, {"x", "y"}}},
		{name: "disconnected", nodes: []string{"p", "q", "r", "s"}, edges: [][2]string{{"s", "p"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New[string]()
			for _, n := range tt.nodes {
				g.AddNode(n)
			}
			for _, e := range tt.edges {
				g.AddEdge(e[0], e[1])
			}

			if err := g.Sort(); err != nil {
				t.Fatalf("Sort() error = %v", err)
			}
			if len(g.Edges()) != 0 {
				t.Errorf("Edges() = %v, want empty", g.Edges())
			}
			if g.Len() != len(tt.nodes) {
				t.Fatalf("Len() = %d, want %d", g.Len(), len(tt.nodes))
			}
			pos := position(g.Nodes())
			for _, e := range tt.edges {
				if pos[e[0]] >= pos[e[1]] {
					t.Errorf("%s at %d does not precede %s at %d", e[0], pos[e[0]], e[1], pos[e[1]])
				}
			}
		})
	}
}

func TestSortPreservesInsertionOrder(t *testing.T) {
	g := New[string]()
	for _, n := range []string{"a", "b", "c"} {
		g.AddNode(n)
	}
	if err := g.Sort(); err != nil {
		t.Fatalf("Sort() error = %v", err)
	}
	if got, want := g.Nodes(), []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Nodes() = %v, want %v", got, want)
	}
}

func TestSortTieBreakFollowsInsertionOrder(t *testing.T) {
	// c must come first; a and b become ready together and keep their order.
	g := New[string]()
	for _, n := range []string{"a", "b", "c"} {
		g.AddNode(n)
	}
	g.AddEdge("c", "a")
	g.AddEdge("c", "b")

	if err := g.Sort(); err != nil {
		t.Fatalf("Sort() error = %v", err)
	}
	if got, want := g.Nodes(), []string{"c", "a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Nodes() = %v, want %v", got, want)
	}
}

func TestSortCycleLeavesEdges(t *testing.T) {
	g := New[string]()
	for _, n := range []string{"a", "b", "c", "d"} {
		g.AddNode(n)
	}
	g.AddEdge("d", "a")
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", "a")

	err := g.Sort()
	if err == nil {
		t.Fatal("Sort() error = nil, want cycle")
	}
	if !errors.Is(err, ErrCycle) {
		t.Errorf("errors.Is(err, ErrCycle) = false for %v", err)
	}
	var ce *CycleError[string]
	if !errors.As(err, &ce) {
		t.Fatalf("errors.As(*CycleError) failed for %T", err)
	}

	want := []Edge[string]{{"a", "b"}, {"b", "c"}, {"c", "a"}}
	if !reflect.DeepEqual(ce.Edges, want) {
		t.Errorf("CycleError.Edges = %v, want %v", ce.Edges, want)
	}
	if !reflect.DeepEqual(g.Edges(), want) {
		t.Errorf("Edges() = %v, want %v", g.Edges(), want)
	}
	if got := g.Nodes(); !reflect.DeepEqual(got, []string{"a", "b", "c", "d"}) {
		t.Errorf("Nodes() = %v, want original order", got)
	}

	// Running again over the leftover subgraph fails the same way.
	err = g.Sort()
	if !errors.As(err, &ce) {
		t.Fatalf("second Sort() error = %v, want *CycleError", err)
	}
	if !reflect.DeepEqual(ce.Edges, want) {
		t.Errorf("second CycleError.Edges = %v, want %v", ce.Edges, want)
	}
}

func TestSortMissingNode(t *testing.T) {
	nodes := []string{"a", "b"}
	edges := []Edge[string]{{"a", "b"}, {"ghost", "a"}, {"b", "phantom"}}

	sorted, remaining, ok := Sort(nodes, edges)
	if ok {
		t.Fatalf("Sort() ok = true, sorted = %v", sorted)
	}
	if sorted != nil {
		t.Errorf("sorted = %v, want nil", sorted)
	}
	want := []Edge[string]{{"a", "b"}, {"ghost", "a"}, {"b", "phantom"}}
	if !reflect.DeepEqual(remaining, want) {
		t.Errorf("remaining = %v, want %v", remaining, want)
	}
}

func TestSortSelfLoop(t *testing.T) {
	_, remaining, ok := Sort([]int{1, 2}, []Edge[int]{{1, 1}, {1, 2}})
	if ok {
		t.Fatal("Sort() ok = true for self loop")
	}
	if len(remaining) != 2 {
		t.Errorf("remaining = %v, want both edges", remaining)
	}
}

func TestAddNodeDuplicate(t *testing.T) {
	g := New[string]()
	if !g.AddNode("a") {
		t.Fatal("AddNode(a) = false on first insert")
	}
	if g.AddNode("a") {
		t.Error("AddNode(a) = true on duplicate")
	}
	if !g.HasNode("a") || g.HasNode("b") {
		t.Error("HasNode() mismatch")
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}
}

func TestCycleErrorMessage(t *testing.T) {
	err := &CycleError[string]{Edges: []Edge[string]{{"a", "b"}}}
	want := "dependency cycle or unresolved dependency: a -> b"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
