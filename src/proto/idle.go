// Package proto contains protocols that are useful on their own or as
// building blocks, independently of any overlay algorithm.
package proto

import (
	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/mosaicnetworks/peernet/src/transport"
)

// Idle does nothing but hold a neighbor set. Wirers and the bootstrap client
// fill it; other protocols read it.
type Idle struct {
	neighbors []core.Descriptor
}

// NewIdle returns an Idle protocol with room for capacity neighbors.
func NewIdle(capacity int) *Idle {
	return &Idle{
		neighbors: make([]core.Descriptor, 0, capacity),
	}
}

// ProcessEvent ignores every message.
func (p *Idle) ProcessEvent(node *core.Node, pid int, src core.Address, event interface{}) {}

// NextCycle does nothing.
func (p *Idle) NextCycle(node *core.Node, pid int) int64 {
	return 0
}

// CreatePeerHandle returns the address of node on the protocol's transport,
// or its simulated address when the protocol has no transport.
func (p *Idle) CreatePeerHandle(node *core.Node, pid int) core.Descriptor {
	return Handle(node, pid)
}

// AddNeighbor implements core.Linkable.
func (p *Idle) AddNeighbor(d core.Descriptor) bool {
	if d == nil || p.Contains(d) {
		return false
	}
	p.neighbors = append(p.neighbors, d)
	return true
}

// Neighbor implements core.Linkable.
func (p *Idle) Neighbor(i int) core.Descriptor {
	return p.neighbors[i]
}

// Degree implements core.Linkable.
func (p *Idle) Degree() int {
	return len(p.neighbors)
}

// Contains implements core.Linkable.
func (p *Idle) Contains(d core.Descriptor) bool {
	for _, n := range p.neighbors {
		if core.SameAddress(n, d) {
			return true
		}
	}
	return false
}

// OnKill drops every neighbor.
func (p *Idle) OnKill() {
	p.neighbors = nil
}

// Handle is the default descriptor of node for protocol pid.
func Handle(node *core.Node, pid int) core.Descriptor {
	var addr core.Address
	if tr := node.Transport(pid); tr != nil {
		addr = tr.LocalAddress(node)
	} else {
		addr = transport.SimAddress{Node: node}
	}
	return core.Peer{Addr: addr, ID: node.ID()}
}
