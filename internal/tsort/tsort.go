package tsort

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCycle is matched by every *CycleError.
var ErrCycle = errors.New("dependency cycle or unresolved dependency")

// Edge states that Predecessor must be processed before Successor.
type Edge[T comparable] struct {
	Predecessor T
	Successor   T
}

func (e Edge[T]) String() string {
	return fmt.Sprintf("%v -> %v", e.Predecessor, e.Successor)
}

// CycleError reports the edges left over by a failed sort.
type CycleError[T comparable] struct {
	Edges []Edge[T]
}

func (e *CycleError[T]) Error() string {
	parts := make([]string, len(e.Edges))
	for i, edge := range e.Edges {
		parts[i] = edge.String()
	}
	return fmt.Sprintf("%v: %s", ErrCycle, strings.Join(parts, ", "))
}

// Is reports whether target is ErrCycle.
func (e *CycleError[T]) Is(target error) bool {
	return target == ErrCycle
}

// Graph is a node set plus an edge multiset.
// The zero value is not usable; call New.
type Graph[T comparable] struct {
	nodes []T
	index map[T]int
	edges []Edge[T]
}

// New returns an empty graph.
func New[T comparable]() *Graph[T] {
	return &Graph[T]{index: make(map[T]int)}
}

// AddNode appends n to the node set. It returns false if n is already present.
func (g *Graph[T]) AddNode(n T) bool {
	if _, ok := g.index[n]; ok {
		return false
	}
	g.index[n] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	return true
}

// HasNode reports whether n is in the node set.
func (g *Graph[T]) HasNode(n T) bool {
	_, ok := g.index[n]
	return ok
}

// AddEdge records that pred must come before succ. Duplicate edges are allowed.
// Neither node has to exist yet; an edge naming a node that never gets added
// makes Sort fail.
func (g *Graph[T]) AddEdge(pred, succ T) {
	g.edges = append(g.edges, Edge[T]{Predecessor: pred, Successor: succ})
}

// Nodes returns a copy of the node sequence. After a successful Sort this is
// the topological order.
func (g *Graph[T]) Nodes() []T {
	out := make([]T, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns a copy of the remaining edges.
func (g *Graph[T]) Edges() []Edge[T] {
	out := make([]Edge[T], len(g.edges))
	copy(out, g.edges)
	return out
}

// Len returns the number of nodes.
func (g *Graph[T]) Len() int {
	return len(g.nodes)
}

// Sort orders the nodes topologically. On success the node sequence is
// replaced by the order and the edge set is emptied. On failure the nodes are
// untouched, the unconsumed edges stay in the graph, and a *CycleError listing
// them is returned.
func (g *Graph[T]) Sort() error {
	sorted, remaining, ok := sortIndexed(g.nodes, g.index, g.edges)
	g.edges = remaining
	if !ok {
		return &CycleError[T]{Edges: g.Edges()}
	}
	g.nodes = sorted
	for i, n := range g.nodes {
		g.index[n] = i
	}
	return nil
}

// Sort is the functional form of Graph.Sort. It returns the sorted nodes, the
// edges that could not be consumed, and whether the sort succeeded. When ok is
// false sorted is nil.
func Sort[T comparable](nodes []T, edges []Edge[T]) (sorted []T, remaining []Edge[T], ok bool) {
	g := New[T]()
	for _, n := range nodes {
		g.AddNode(n)
	}
	return sortIndexed(g.nodes, g.index, edges)
}

func sortIndexed[T comparable](nodes []T, index map[T]int, edges []Edge[T]) ([]T, []Edge[T], bool) {
	indegree := make([]int, len(nodes))
	outgoing := make([][]int, len(nodes))
	removed := make([]bool, len(edges))

	for i, e := range edges {
		if s, ok := index[e.Successor]; ok {
			indegree[s]++
		}
		if p, ok := index[e.Predecessor]; ok {
			outgoing[p] = append(outgoing[p], i)
		}
	}

	ready := make([]int, 0, len(nodes))
	for i := range nodes {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	sorted := make([]T, 0, len(nodes))
	for head := 0; head < len(ready); head++ {
		n := ready[head]
		sorted = append(sorted, nodes[n])
		for _, ei := range outgoing[n] {
			s, ok := index[edges[ei].Successor]
			if !ok {
				// Edge into a node that was never added stays behind.
				continue
			}
			removed[ei] = true
			indegree[s]--
			if indegree[s] == 0 {
				ready = append(ready, s)
			}
		}
	}

	remaining := make([]Edge[T], 0)
	for i, e := range edges {
		if !removed[i] {
			remaining = append(remaining, e)
		}
	}
	if len(remaining) > 0 {
		return nil, remaining, false
	}
	return sorted, remaining, true
}
