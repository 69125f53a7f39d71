package core

import (
	"sort"
)

// Network is the ordered set of live nodes of an experiment. For every node n
// it holds, Get(n.Index()) == n. Network is not safe for concurrent use; the
// threaded engines only mutate it while every node lock is held.
type Network struct {
	nodes []*Node
}

// NewNetwork creates an empty Network with room for capacity nodes.
func NewNetwork(capacity int) *Network {
	return &Network{
		nodes: make([]*Node, 0, capacity),
	}
}

// Size returns the number of nodes.
func (nw *Network) Size() int {
	return len(nw.nodes)
}

// Get returns the node at index i, or nil when i is out of range.
func (nw *Network) Get(i int) *Node {
	if i < 0 || i >= len(nw.nodes) {
		return nil
	}
	return nw.nodes[i]
}

// GetByID returns the node with the given ID, if any.
func (nw *Network) GetByID(id int64) (*Node, bool) {
	for _, n := range nw.nodes {
		if n.ID() == id {
			return n, true
		}
	}
	return nil, false
}

// Nodes returns a copy of the node list.
func (nw *Network) Nodes() []*Node {
	res := make([]*Node, len(nw.nodes))
	copy(res, nw.nodes)
	return res
}

// Add appends n and sets its index.
func (nw *Network) Add(n *Node) {
	n.setIndex(len(nw.nodes))
	nw.nodes = append(nw.nodes, n)
}

// Remove removes the last node and marks it Dead.
func (nw *Network) Remove() *Node {
	if len(nw.nodes) == 0 {
		return nil
	}
	return nw.RemoveAt(len(nw.nodes) - 1)
}

// RemoveAt removes the node at index i by swapping it with the last node, then
// marks it Dead.
func (nw *Network) RemoveAt(i int) *Node {
	if i < 0 || i >= len(nw.nodes) {
		return nil
	}
	last := len(nw.nodes) - 1
	nw.Swap(i, last)

	n := nw.nodes[last]
	nw.nodes[last] = nil
	nw.nodes = nw.nodes[:last]

	n.SetFailState(Dead)

	return n
}

// Swap exchanges the nodes at i and j.
func (nw *Network) Swap(i, j int) {
	nw.nodes[i], nw.nodes[j] = nw.nodes[j], nw.nodes[i]
	nw.nodes[i].setIndex(i)
	nw.nodes[j].setIndex(j)
}

// Shuffle permutes the nodes using r.
func (nw *Network) Shuffle(r *Random) {
	for i := len(nw.nodes); i > 1; i-- {
		nw.Swap(i-1, r.Intn(i))
	}
}

// Sort orders the nodes with less, then reassigns indices.
func (nw *Network) Sort(less func(a, b *Node) bool) {
	sort.SliceStable(nw.nodes, func(i, j int) bool {
		return less(nw.nodes[i], nw.nodes[j])
	})
	for i, n := range nw.nodes {
		n.setIndex(i)
	}
}

// Reset removes every node, marking each Dead.
func (nw *Network) Reset() {
	for len(nw.nodes) > 0 {
		nw.Remove()
	}
}
