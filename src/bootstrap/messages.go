// Package bootstrap implements the rendezvous protocol through which the
// nodes of a networked experiment obtain their IDs and initial neighbors from
// a coordinator.
//
// A Client periodically sends a Request for each of its unregistered nodes.
// The coordinator answers every Request with a RequestAck carrying the ID it
// assigned to the sender's address. Once the expected number of nodes has
// registered, or the timeout has expired, the coordinator wires them with its
// configured algorithm and sends each one a Response listing its neighbors.
// Responses are resent until every node has answered with a ResponseAck.
package bootstrap

import (
	"fmt"

	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/mosaicnetworks/peernet/src/transport"
)

// MessageType distinguishes the four bootstrap messages.
type MessageType uint8

const (
	// Request registers a node with a coordinator.
	Request MessageType = iota
	// RequestAck returns the ID assigned to a registered node.
	RequestAck
	// Response carries the neighbors of a node once the topology is built.
	Response
	// ResponseAck confirms that a Response was received.
	ResponseAck
)

// String ...
func (t MessageType) String() string {
	switch t {
	case Request:
		return "Request"
	case RequestAck:
		return "RequestAck"
	case Response:
		return "Response"
	case ResponseAck:
		return "ResponseAck"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Handle is the form in which peers travel in bootstrap messages. When the
// protocol's own descriptor is a registered payload type, Kind and Body carry
// it so that neighbors receive it unchanged.
type Handle struct {
	Host string `codec:"h"`
	Port int    `codec:"p"`
	ID   int64  `codec:"i"`
	Kind string `codec:"k,omitempty"`
	Body []byte `codec:"b,omitempty"`
}

// Address returns the UDP address of the handle.
func (h Handle) Address() transport.NetAddress {
	return transport.NetAddress{Host: h.Host, Port: h.Port}
}

// Descriptor converts the handle back to the descriptor it was built from,
// or to a core.Peer when it carries none.
func (h Handle) Descriptor() (core.Descriptor, error) {
	if h.Kind == "" {
		return core.Peer{Addr: h.Address(), ID: h.ID}, nil
	}

	v, err := transport.UnmarshalPayload(h.Kind, h.Body)
	if err != nil {
		return nil, err
	}
	d, ok := v.(core.Descriptor)
	if !ok {
		return nil, fmt.Errorf("payload kind %q is not a descriptor", h.Kind)
	}
	return d, nil
}

// Message is the single payload type of the protocol. Which fields are set
// depends on Type:
//
//	Request      Coordinator, Self
//	RequestAck   Coordinator, NodeID
//	Response     Coordinator, NodeID, Neighbors
//	ResponseAck  Coordinator
type Message struct {
	Type        MessageType `codec:"t"`
	Coordinator string      `codec:"c"`
	NodeID      int64       `codec:"n"`
	Self        Handle      `codec:"s"`
	Neighbors   []Handle    `codec:"l"`
}

// UnknownMessageError is returned when a message arrives at the wrong end of
// the protocol or has a type this version does not know.
type UnknownMessageError struct {
	Type MessageType
}

// Error ...
func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("unexpected bootstrap message %v", e.Type)
}

// IsUnknownMessage ...
func IsUnknownMessage(err error) bool {
	_, ok := err.(*UnknownMessageError)
	return ok
}

func init() {
	transport.RegisterPayload("bootstrap", Message{})
}

// asMessage extracts a Message from an event payload.
func asMessage(payload interface{}) (Message, bool) {
	switch m := payload.(type) {
	case Message:
		return m, true
	case *Message:
		if m == nil {
			return Message{}, false
		}
		return *m, true
	}
	return Message{}, false
}

// handleOf builds the Handle of descriptor d, which must point at a network
// address. Descriptors of unregistered types travel as plain peers.
func handleOf(d core.Descriptor, id int64) (Handle, error) {
	a, ok := d.Address().(transport.NetAddress)
	if !ok {
		return Handle{}, fmt.Errorf("descriptor address %v is not a network address", d.Address())
	}
	h := Handle{Host: a.Host, Port: a.Port, ID: id}

	if _, plain := d.(core.Peer); plain {
		return h, nil
	}
	if _, registered := transport.PayloadKind(d); !registered {
		return h, nil
	}

	kind, body, err := transport.MarshalPayload(d)
	if err != nil {
		return Handle{}, err
	}
	h.Kind = kind
	h.Body = body
	return h, nil
}
