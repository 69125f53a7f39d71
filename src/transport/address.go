package transport

import (
	"fmt"
	"net"
	"strconv"

	"github.com/mosaicnetworks/peernet/src/core"
)

// SimAddress addresses a node living in the same process. Simulated and
// emulated transports deliver straight into the engine.
type SimAddress struct {
	Node *core.Node
}

// String ...
func (a SimAddress) String() string {
	if a.Node == nil {
		return "sim:<nil>"
	}
	return fmt.Sprintf("sim:%d", a.Node.ID())
}

// NetAddress is a UDP endpoint.
type NetAddress struct {
	Host string
	Port int
}

// String ...
func (a NetAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// UDPAddr resolves the address for the net package.
func (a NetAddress) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", a.String())
}

// ParseNetAddress parses "host:port".
func ParseNetAddress(s string) (NetAddress, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return NetAddress{}, err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return NetAddress{}, fmt.Errorf("invalid port in %q: %v", s, err)
	}
	return NetAddress{Host: host, Port: p}, nil
}

func netAddressFromUDP(a *net.UDPAddr) NetAddress {
	return NetAddress{Host: a.IP.String(), Port: a.Port}
}
