// Package graph derives the relation graph of a model from its key registry.
//
// A Graph is an index arena: nodes are table names addressed by position and
// every node keeps the list of edge indices incident to it. Graphs are built
// fresh for each query and never mutated afterwards.
package graph

import (
	"slices"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/emirpasic/gods/stacks/arraystack"

	"github.com/koustreak/datamodel/internal/keys"
)

// Edge is a foreign key between two nodes, From = child, To = parent.
type Edge struct {
	From, To int
	Key      keys.ForeignKey
}

// Graph is a relation graph over a fixed set of tables.
type Graph struct {
	directed bool
	names    []string
	index    map[string]int
	edges    []Edge
	adj      [][]int
}

// Build creates the graph whose nodes are tables (in that order) and whose
// edges are the foreign keys of reg with both endpoints in tables, in
// registry order. A directed graph follows child -> parent only.
func Build(reg keys.Registry, tables []string, directed bool) *Graph {
	g := &Graph{
		directed: directed,
		names:    slices.Clone(tables),
		index:    make(map[string]int, len(tables)),
		adj:      make([][]int, len(tables)),
	}
	for i, t := range tables {
		g.index[t] = i
	}
	for _, fk := range reg.ForeignKeys() {
		from, okFrom := g.index[fk.Child]
		to, okTo := g.index[fk.Parent]
		if okFrom && okTo {
			g.addEdge(Edge{From: from, To: to, Key: fk})
		}
	}
	return g
}

func (g *Graph) addEdge(e Edge) {
	id := len(g.edges)
	g.edges = append(g.edges, e)
	g.adj[e.From] = append(g.adj[e.From], id)
	if !g.directed && e.To != e.From {
		g.adj[e.To] = append(g.adj[e.To], id)
	}
}

func (g *Graph) Directed() bool  { return g.directed }
func (g *Graph) NodeCount() int  { return len(g.names) }
func (g *Graph) EdgeCount() int  { return len(g.edges) }
func (g *Graph) Nodes() []string { return slices.Clone(g.names) }

// Has reports whether name is a node.
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Edges returns the foreign keys of the graph in build order.
func (g *Graph) Edges() []keys.ForeignKey {
	out := make([]keys.ForeignKey, len(g.edges))
	for i, e := range g.edges {
		out[i] = e.Key
	}
	return out
}

// Neighbors returns the nodes adjacent to name in edge order. Duplicates are
// kept when two edges join the same pair.
func (g *Graph) Neighbors(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.adj[i]))
	for _, id := range g.adj[i] {
		out = append(out, g.names[g.other(id, i)])
	}
	return out
}

func (g *Graph) other(edge, node int) int {
	e := g.edges[edge]
	if e.From == node {
		return e.To
	}
	return e.From
}

// Induced returns the subgraph on names, keeping every edge with both
// endpoints among them. Unknown names are ignored.
func (g *Graph) Induced(names []string) *Graph {
	keep := make([]string, 0, len(names))
	for _, n := range names {
		if g.Has(n) && !slices.Contains(keep, n) {
			keep = append(keep, n)
		}
	}
	sub := &Graph{
		directed: g.directed,
		names:    keep,
		index:    make(map[string]int, len(keep)),
		adj:      make([][]int, len(keep)),
	}
	for i, n := range keep {
		sub.index[n] = i
	}
	for _, e := range g.edges {
		from, okFrom := sub.index[g.names[e.From]]
		to, okTo := sub.index[g.names[e.To]]
		if okFrom && okTo {
			sub.addEdge(Edge{From: from, To: to, Key: e.Key})
		}
	}
	return sub
}

// Connected reports whether every node can be reached from every other when
// edge direction is ignored.
func (g *Graph) Connected() bool {
	if len(g.names) == 0 {
		return true
	}
	undirected := g
	if g.directed {
		undirected = &Graph{names: g.names, index: g.index, adj: make([][]int, len(g.names))}
		for _, e := range g.edges {
			undirected.addEdge(e)
		}
	}
	return len(undirected.Distances(g.names[0])) == len(g.names)
}

// IsTree reports whether the graph is a tree when edge direction is ignored.
func (g *Graph) IsTree() bool {
	return g.EdgeCount() == g.NodeCount()-1 && g.Connected()
}

// Visit records how a traversal reached Node.
type Visit struct {
	Node     string
	Pred     string
	Distance int
}

// Distances runs a breadth-first search from the source and returns every
// reachable node with its hop distance and the predecessor on a shortest
// path, in visiting order. The first edge found wins ties. The source is
// its own predecessor at distance 0.
func (g *Graph) Distances(from string) []Visit {
	start, ok := g.index[from]
	if !ok {
		return nil
	}

	seen := make([]bool, len(g.names))
	seen[start] = true
	out := []Visit{{Node: from, Pred: from}}

	queue := linkedlistqueue.New()
	queue.Enqueue(0)
	for !queue.Empty() {
		v, _ := queue.Dequeue()
		cur := out[v.(int)]
		i := g.index[cur.Node]
		for _, id := range g.adj[i] {
			next := g.other(id, i)
			if seen[next] {
				continue
			}
			seen[next] = true
			out = append(out, Visit{Node: g.names[next], Pred: cur.Node, Distance: cur.Distance + 1})
			queue.Enqueue(len(out) - 1)
		}
	}
	return out
}

// Reachable returns the nodes reachable from the source, excluding it, in
// breadth-first order. Directed graphs follow child -> parent edges.
func (g *Graph) Reachable(from string) []string {
	visits := g.Distances(from)
	if len(visits) == 0 {
		return nil
	}
	out := make([]string, 0, len(visits)-1)
	for _, v := range visits[1:] {
		out = append(out, v.Node)
	}
	return out
}

// DFS returns the depth-first preorder from the source. Each visit carries
// the DFS predecessor and the hop count along the DFS tree. Neighbors are
// explored in edge order.
func (g *Graph) DFS(from string) []Visit {
	start, ok := g.index[from]
	if !ok {
		return nil
	}

	type frame struct {
		node, pred, dist int
	}
	seen := make([]bool, len(g.names))
	var out []Visit

	stack := arraystack.New()
	stack.Push(frame{node: start, pred: start})
	for !stack.Empty() {
		v, _ := stack.Pop()
		f := v.(frame)
		if seen[f.node] {
			continue
		}
		seen[f.node] = true
		out = append(out, Visit{Node: g.names[f.node], Pred: g.names[f.pred], Distance: f.dist})

		adj := g.adj[f.node]
		for k := len(adj) - 1; k >= 0; k-- {
			next := g.other(adj[k], f.node)
			if !seen[next] {
				stack.Push(frame{node: next, pred: f.node, dist: f.dist + 1})
			}
		}
	}
	return out
}
