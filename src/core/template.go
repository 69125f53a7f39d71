package core

import (
	"fmt"
)

// ProtocolFactory builds the instance of a protocol owned by node.
type ProtocolFactory func(ctx *Context, node *Node, pid int) (Protocol, error)

// TransportFactory builds the instance of a transport owned by node. tid is
// the transport's index on the node.
type TransportFactory func(ctx *Context, node *Node, tid int) (Transport, error)

// ProtocolSpec declares one protocol of the node template.
type ProtocolSpec struct {
	Name string
	New  ProtocolFactory
	// Transport is the name of the transport the protocol sends through.
	// Empty when the protocol does not communicate.
	Transport string
	Schedule  Schedule
}

// TransportSpec declares one transport of the node template.
type TransportSpec struct {
	Name string
	New  TransportFactory
}

// Template describes every node of an experiment. It replaces a prototype
// node: each call to Build produces an independent node.
type Template struct {
	Protocols  []ProtocolSpec
	Transports []TransportSpec
}

// ProtocolID returns the identifier of the protocol called name.
func (t *Template) ProtocolID(name string) (int, bool) {
	for i, p := range t.Protocols {
		if p.Name == name {
			return i, true
		}
	}
	return -1, false
}

// TransportIndex returns the index of the transport called name.
func (t *Template) TransportIndex(name string) (int, bool) {
	for i, tr := range t.Transports {
		if tr.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Validate checks that every protocol refers to a declared transport.
func (t *Template) Validate() error {
	seen := make(map[string]bool)
	for _, p := range t.Protocols {
		if seen[p.Name] {
			return fmt.Errorf("duplicate protocol %q", p.Name)
		}
		seen[p.Name] = true
		if p.New == nil {
			return fmt.Errorf("protocol %q has no constructor", p.Name)
		}
		if p.Transport == "" {
			continue
		}
		if _, ok := t.TransportIndex(p.Transport); !ok {
			return fmt.Errorf("protocol %q: unknown transport %q", p.Name, p.Transport)
		}
	}
	for _, tr := range t.Transports {
		if tr.New == nil {
			return fmt.Errorf("transport %q has no constructor", tr.Name)
		}
	}
	return nil
}

// Build creates a node with a fresh ID from ctx. Transports are built before
// protocols so that protocol constructors can query local addresses. The
// node is not added to the Network.
func (t *Template) Build(ctx *Context) (*Node, error) {
	n := newNode(ctx.NextID(), len(t.Protocols), len(t.Transports))

	for i, spec := range t.Transports {
		tr, err := spec.New(ctx, n, i)
		if err != nil {
			return nil, fmt.Errorf("transport %q: %v", spec.Name, err)
		}
		n.transports[i] = tr
	}

	for pid, spec := range t.Protocols {
		if spec.Transport != "" {
			tid, ok := t.TransportIndex(spec.Transport)
			if !ok {
				return nil, fmt.Errorf("protocol %q: unknown transport %q", spec.Name, spec.Transport)
			}
			n.protocolTransport[pid] = tid
		}
	}

	for pid, spec := range t.Protocols {
		p, err := spec.New(ctx, n, pid)
		if err != nil {
			return nil, fmt.Errorf("protocol %q: %v", spec.Name, err)
		}
		n.protocols[pid] = p
	}

	return n, nil
}
