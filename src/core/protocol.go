package core

import (
	"fmt"
)

// Address identifies where a node can be reached through a Transport.
// Implementations are comparable values so they can key maps.
type Address interface {
	String() string
}

// Descriptor is a shareable handle to a node, as exchanged between protocols.
type Descriptor interface {
	Address() Address
}

// Peer is the default Descriptor: an address and the node ID it belonged to
// when the handle was created.
type Peer struct {
	Addr Address
	ID   int64
}

// Address implements Descriptor.
func (p Peer) Address() Address {
	return p.Addr
}

// String ...
func (p Peer) String() string {
	return fmt.Sprintf("%d@%v", p.ID, p.Addr)
}

// SameAddress reports whether two descriptors point at the same address.
func SameAddress(a, b Descriptor) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Address() == b.Address()
}

// Protocol is the per-node behavior driven by the engine. pid is the
// protocol's own identifier on the node.
type Protocol interface {
	// ProcessEvent handles an asynchronous message from src.
	ProcessEvent(node *Node, pid int, src Address, event interface{})

	// NextCycle runs one periodic step. A positive return value overrides the
	// delay until the next step; 0 means use the Schedule.
	NextCycle(node *Node, pid int) int64

	// CreatePeerHandle returns a Descriptor other nodes can use to reach this
	// one.
	CreatePeerHandle(node *Node, pid int) Descriptor
}

// Linkable is implemented by protocols that hold a neighbor set.
type Linkable interface {
	// AddNeighbor adds d unless a descriptor with the same address is already
	// present. It reports whether d was added.
	AddNeighbor(d Descriptor) bool
	Neighbor(i int) Descriptor
	Degree() int
	Contains(d Descriptor) bool
}

// Cleanable protocols are notified once when their node dies.
type Cleanable interface {
	OnKill()
}

// Transport carries payloads between nodes. Send never delivers
// synchronously.
type Transport interface {
	Send(src *Node, dest Address, pid int, payload interface{})
	LocalAddress(node *Node) Address
}

// Listener is a Transport receiving from a real network. Receive blocks until
// a datagram arrives or the transport is closed.
type Listener interface {
	Transport
	Receive() (src Address, pid int, payload interface{}, err error)
	Close() error
}

// Control is a global behavior run at scheduled times. Returning true stops
// the experiment.
type Control interface {
	Execute() bool
}

// ControlFunc adapts a function to the Control interface.
type ControlFunc func() bool

// Execute implements Control.
func (f ControlFunc) Execute() bool {
	return f()
}

// NodeInitializer prepares a freshly built node, typically one added by churn.
type NodeInitializer interface {
	Initialize(node *Node) error
}

// Scheduler is the engine side of a Context: the current time and the ability
// to enqueue future events.
type Scheduler interface {
	Now() int64
	// Add schedules payload for protocol pid of node, delay time units from
	// now. Negative delays are dropped.
	Add(delay int64, src Address, node *Node, pid int, payload interface{})
}

// Interceptor claims events before they reach protocols. Intercept returns
// false for events it does not handle.
type Interceptor interface {
	Intercept(node *Node, pid int, src Address, payload interface{}) (bool, error)
}
