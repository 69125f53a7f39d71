package graph

import (
	"fmt"

	"github.com/mosaicnetworks/peernet/src/core"
)

// RandomInit links a new node to k random other nodes of the network.
type RandomInit struct {
	Network *core.Network
	Random  *core.Random
	Pid     int
	K       int
}

// Initialize implements core.NodeInitializer.
func (ri *RandomInit) Initialize(n *core.Node) error {
	size := ri.Network.Size()
	if size <= 1 {
		return nil
	}
	l, ok := n.Protocol(ri.Pid).(core.Linkable)
	if !ok {
		return fmt.Errorf("node %d: %w", n.ID(), ErrNotLinkable)
	}
	for j := 0; j < ri.K; j++ {
		var r int
		if n.Index() < 0 {
			r = ri.Random.Intn(size)
		} else {
			r = ri.Random.Intn(size - 1)
			if r >= n.Index() {
				r++
			}
		}
		peer := ri.Network.Get(r)
		l.AddNeighbor(peer.Protocol(ri.Pid).CreatePeerHandle(peer, ri.Pid))
	}
	return nil
}

// StarInit links a new node to the first node of the network that is up.
type StarInit struct {
	Network *core.Network
	Pid     int

	center *core.Node
}

// Initialize implements core.NodeInitializer.
func (si *StarInit) Initialize(n *core.Node) error {
	if si.Network.Size() == 0 {
		return nil
	}
	for i := 0; (si.center == nil || !si.center.IsUp()) && i < si.Network.Size(); i++ {
		si.center = si.Network.Get(i)
	}
	if si.center == n {
		return nil
	}
	l, ok := n.Protocol(si.Pid).(core.Linkable)
	if !ok {
		return fmt.Errorf("node %d: %w", n.ID(), ErrNotLinkable)
	}
	l.AddNeighbor(si.center.Protocol(si.Pid).CreatePeerHandle(si.center, si.Pid))
	return nil
}
