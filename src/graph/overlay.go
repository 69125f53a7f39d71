package graph

import (
	"errors"

	"github.com/mosaicnetworks/peernet/src/core"
)

// ErrNotLinkable is returned when the selected protocol does not hold a
// neighbor set.
var ErrNotLinkable = errors.New("protocol is not Linkable")

// OverlayGraph is a live view of the overlay: node i is Network.Get(i) and
// its edges are the neighbors of its Linkable protocol. When undirected,
// SetEdge links both ends. Edges cannot be cleared.
type OverlayGraph struct {
	network    *core.Network
	pid        int
	undirected bool
}

// NewOverlayGraph returns a view over protocol pid of the nodes of network.
func NewOverlayGraph(network *core.Network, pid int, undirected bool) (*OverlayGraph, error) {
	if network.Size() > 0 {
		if _, ok := network.Get(0).Protocol(pid).(core.Linkable); !ok {
			return nil, ErrNotLinkable
		}
	}
	return &OverlayGraph{
		network:    network,
		pid:        pid,
		undirected: undirected,
	}, nil
}

func (g *OverlayGraph) linkable(i int) core.Linkable {
	l, _ := g.network.Get(i).Protocol(g.pid).(core.Linkable)
	return l
}

func (g *OverlayGraph) descriptor(i int) core.Descriptor {
	n := g.network.Get(i)
	return n.Protocol(g.pid).CreatePeerHandle(n, g.pid)
}

// indexOf maps a neighbor descriptor back onto a network index.
func (g *OverlayGraph) indexOf(d core.Descriptor) int {
	addr := d.Address()
	for i := 0; i < g.network.Size(); i++ {
		if g.descriptor(i).Address() == addr {
			return i
		}
	}
	return -1
}

// Size ...
func (g *OverlayGraph) Size() int {
	return g.network.Size()
}

// Directed is always true: Linkable neighbor sets are one-way.
func (g *OverlayGraph) Directed() bool {
	return true
}

// IsEdge ...
func (g *OverlayGraph) IsEdge(i, j int) bool {
	if !g.network.Get(i).IsUp() || !g.network.Get(j).IsUp() {
		return false
	}
	return g.linkable(i).Contains(g.descriptor(j))
}

// Neighbors returns the indices of the neighbors still in the network.
func (g *OverlayGraph) Neighbors(i int) []int {
	l := g.linkable(i)
	res := make([]int, 0, l.Degree())
	for k := 0; k < l.Degree(); k++ {
		if idx := g.indexOf(l.Neighbor(k)); idx >= 0 {
			res = append(res, idx)
		}
	}
	return res
}

// Degree counts neighbors that are up.
func (g *OverlayGraph) Degree(i int) int {
	if !g.network.Get(i).IsUp() {
		return 0
	}
	n := 0
	for _, j := range g.Neighbors(i) {
		if g.network.Get(j).IsUp() {
			n++
		}
	}
	return n
}

// SetEdge ...
func (g *OverlayGraph) SetEdge(i, j int) bool {
	changed := false
	if g.undirected {
		changed = g.linkable(j).AddNeighbor(g.descriptor(i))
	}
	return g.linkable(i).AddNeighbor(g.descriptor(j)) || changed
}

// ClearEdge is not supported and always returns false.
func (g *OverlayGraph) ClearEdge(i, j int) bool {
	return false
}
