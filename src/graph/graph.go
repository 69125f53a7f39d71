// Package graph provides the graph views topology wirers operate on: a plain
// neighbor-list graph, used by the bootstrap coordinator, and a view over the
// Linkable protocol of a live Network.
package graph

// Graph is a mutable graph over nodes 0..Size()-1.
type Graph interface {
	Size() int
	Directed() bool
	IsEdge(i, j int) bool
	Neighbors(i int) []int
	Degree(i int) int
	// SetEdge adds the edge (i, j), and (j, i) for undirected graphs. It
	// reports whether the graph changed.
	SetEdge(i, j int) bool
	ClearEdge(i, j int) bool
}

// NeighborListGraph stores, for every node, its neighbors in insertion order.
type NeighborListGraph struct {
	directed  bool
	neighbors [][]int
	sets      []map[int]struct{}
}

// NewNeighborListGraph creates a graph with size nodes and no edges.
func NewNeighborListGraph(size int, directed bool) *NeighborListGraph {
	g := &NeighborListGraph{
		directed:  directed,
		neighbors: make([][]int, size),
		sets:      make([]map[int]struct{}, size),
	}
	for i := range g.sets {
		g.sets[i] = make(map[int]struct{})
	}
	return g
}

// AddNode appends a node and returns its index.
func (g *NeighborListGraph) AddNode() int {
	g.neighbors = append(g.neighbors, nil)
	g.sets = append(g.sets, make(map[int]struct{}))
	return len(g.neighbors) - 1
}

// Size ...
func (g *NeighborListGraph) Size() int {
	return len(g.neighbors)
}

// Directed ...
func (g *NeighborListGraph) Directed() bool {
	return g.directed
}

// IsEdge ...
func (g *NeighborListGraph) IsEdge(i, j int) bool {
	_, ok := g.sets[i][j]
	return ok
}

// Neighbors ...
func (g *NeighborListGraph) Neighbors(i int) []int {
	res := make([]int, len(g.neighbors[i]))
	copy(res, g.neighbors[i])
	return res
}

// Degree ...
func (g *NeighborListGraph) Degree(i int) int {
	return len(g.neighbors[i])
}

// SetEdge ...
func (g *NeighborListGraph) SetEdge(i, j int) bool {
	changed := g.link(i, j)
	if !g.directed {
		changed = g.link(j, i) || changed
	}
	return changed
}

// ClearEdge ...
func (g *NeighborListGraph) ClearEdge(i, j int) bool {
	changed := g.unlink(i, j)
	if !g.directed {
		changed = g.unlink(j, i) || changed
	}
	return changed
}

func (g *NeighborListGraph) link(i, j int) bool {
	if _, ok := g.sets[i][j]; ok {
		return false
	}
	g.sets[i][j] = struct{}{}
	g.neighbors[i] = append(g.neighbors[i], j)
	return true
}

func (g *NeighborListGraph) unlink(i, j int) bool {
	if _, ok := g.sets[i][j]; !ok {
		return false
	}
	delete(g.sets[i], j)
	for k, n := range g.neighbors[i] {
		if n == j {
			g.neighbors[i] = append(g.neighbors[i][:k], g.neighbors[i][k+1:]...)
			break
		}
	}
	return true
}
