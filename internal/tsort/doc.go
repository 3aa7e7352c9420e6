// Package tsort orders a set of nodes so that every "must precede" edge
// between them is honored.
//
// The sort is Kahn's algorithm over an index-based graph: nodes live in an
// arena in insertion order and edges refer to them by value. Nodes that become
// ready at the same time are emitted in insertion order, so the result is
// deterministic for nodes with no relative constraint:
//
//	g := tsort.New[string]()
//	g.AddNode("a")
//	g.AddNode("b")
//	g.AddEdge("b", "a")
//	if err := g.Sort(); err != nil {
//	    var ce *tsort.CycleError[string]
//	    errors.As(err, &ce) // ce.Edges holds the offending edges
//	}
//	g.Nodes() // [b a]
//
// A successful sort consumes every edge. A failed sort leaves at least the
// edges that sit on a cycle, or that name a node never added, and keeps the
// nodes in their original order.
package tsort
