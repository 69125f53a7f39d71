package core

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// FailState captures the liveness of a Node: Up, Down, or Dead.
type FailState uint32

const (
	// Up nodes receive events.
	Up FailState = iota
	// Down nodes are temporarily switched off; their events are dropped.
	Down
	// Dead is terminal.
	Dead
)

// String ...
func (s FailState) String() string {
	switch s {
	case Up:
		return "Up"
	case Down:
		return "Down"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// ErrNodeDead is returned when trying to revive a Dead node. Callers treat it
// as an invariant violation.
var ErrNodeDead = errors.New("node is dead")

// Node is a participant in the overlay. It owns one instance of each
// configured protocol and transport.
type Node struct {
	id    int64
	index int64
	state uint32

	protocols  []Protocol
	transports []Transport
	// protocol id -> transport index, -1 when the protocol has none
	protocolTransport []int

	mu sync.Mutex
}

func newNode(id int64, nProtocols, nTransports int) *Node {
	n := &Node{
		id:                id,
		index:             -1,
		protocols:         make([]Protocol, nProtocols),
		transports:        make([]Transport, nTransports),
		protocolTransport: make([]int, nProtocols),
	}
	for i := range n.protocolTransport {
		n.protocolTransport[i] = -1
	}
	return n
}

// ID returns the node's unique identifier.
func (n *Node) ID() int64 {
	return atomic.LoadInt64(&n.id)
}

// SetID replaces the node's identifier. Only the bootstrap client does this,
// when it adopts the identifier assigned by a coordinator.
func (n *Node) SetID(id int64) {
	atomic.StoreInt64(&n.id, id)
}

// Index returns the node's position in the Network, or -1 when it is not part
// of one.
func (n *Node) Index() int {
	return int(atomic.LoadInt64(&n.index))
}

func (n *Node) setIndex(i int) {
	atomic.StoreInt64(&n.index, int64(i))
}

// FailState returns the current fail state.
func (n *Node) FailState() FailState {
	return FailState(atomic.LoadUint32(&n.state))
}

// IsUp is shorthand for FailState() == Up.
func (n *Node) IsUp() bool {
	return n.FailState() == Up
}

// SetFailState moves the node to s. Dead is terminal: setting Dead again is a
// no-op, anything else returns ErrNodeDead. Entering Dead detaches the node
// from its index and calls OnKill on every Cleanable protocol.
func (n *Node) SetFailState(s FailState) error {
	switch s {
	case Up, Down:
		for {
			cur := atomic.LoadUint32(&n.state)
			if FailState(cur) == Dead {
				return fmt.Errorf("node %d: %w", n.ID(), ErrNodeDead)
			}
			if atomic.CompareAndSwapUint32(&n.state, cur, uint32(s)) {
				return nil
			}
		}
	case Dead:
		if FailState(atomic.SwapUint32(&n.state, uint32(Dead))) == Dead {
			return nil
		}
		n.setIndex(-1)
		for _, p := range n.protocols {
			if c, ok := p.(Cleanable); ok {
				c.OnKill()
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown fail state %d", s)
	}
}

// ProtocolCount returns the number of protocols on the node.
func (n *Node) ProtocolCount() int {
	return len(n.protocols)
}

// Protocol returns the protocol with identifier pid.
func (n *Node) Protocol(pid int) Protocol {
	if pid < 0 || pid >= len(n.protocols) {
		return nil
	}
	return n.protocols[pid]
}

// TransportCount returns the number of transports on the node.
func (n *Node) TransportCount() int {
	return len(n.transports)
}

// TransportAt returns the i-th transport of the node.
func (n *Node) TransportAt(i int) Transport {
	if i < 0 || i >= len(n.transports) {
		return nil
	}
	return n.transports[i]
}

// Transport returns the transport that protocol pid sends through, or nil.
func (n *Node) Transport(pid int) Transport {
	if pid < 0 || pid >= len(n.protocolTransport) {
		return nil
	}
	return n.TransportAt(n.protocolTransport[pid])
}

// Lock acquires the node's dispatch lock. At most one event executes on a
// node at any time.
func (n *Node) Lock() {
	n.mu.Lock()
}

// Unlock releases the dispatch lock.
func (n *Node) Unlock() {
	n.mu.Unlock()
}

// String ...
func (n *Node) String() string {
	return fmt.Sprintf("Node{id:%d, index:%d, state:%s}", n.ID(), n.Index(), n.FailState())
}
