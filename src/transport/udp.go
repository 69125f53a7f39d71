package transport

import (
	"errors"
	"net"
	"sync"

	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/sirupsen/logrus"
)

const maxDatagramSize = 65535

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

// UDP sends payloads as datagrams. Send is fire-and-forget: failures are
// logged and the message is lost. Receive blocks for the next datagram.
type UDP struct {
	conn      *net.UDPConn
	advertise NetAddress
	logger    *logrus.Entry

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

// NewUDP binds bindAddr ("host:port", port 0 for an ephemeral one). The
// advertised address is advertise when not empty, the bound address
// otherwise, with unspecified IPs replaced by loopback.
func NewUDP(bindAddr string, advertise string, logger *logrus.Entry) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	local := netAddressFromUDP(conn.LocalAddr().(*net.UDPAddr))
	if advertise != "" {
		adv, err := ParseNetAddress(advertise)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if adv.Port == 0 {
			adv.Port = local.Port
		}
		local = adv
	} else if ip := net.ParseIP(local.Host); ip == nil || ip.IsUnspecified() {
		local.Host = "127.0.0.1"
	}

	if logger == nil {
		l := logrus.New()
		l.Level = logrus.DebugLevel
		logger = logrus.NewEntry(l)
	}

	return &UDP{
		conn:       conn,
		advertise:  local,
		logger:     logger.WithField("udp", local.String()),
		shutdownCh: make(chan struct{}),
	}, nil
}

// Addr returns the advertised address.
func (t *UDP) Addr() NetAddress {
	return t.advertise
}

// LocalAddress implements core.Transport.
func (t *UDP) LocalAddress(node *core.Node) core.Address {
	return t.advertise
}

// Send implements core.Transport.
func (t *UDP) Send(src *core.Node, dest core.Address, pid int, payload interface{}) {
	if err := t.SendTo(dest, pid, payload); err != nil {
		t.logger.WithFields(logrus.Fields{
			"dest":  dest,
			"pid":   pid,
			"error": err,
		}).Error("Send")
	}
}

// SendTo is Send returning the error instead of logging it.
func (t *UDP) SendTo(dest core.Address, pid int, payload interface{}) error {
	if t.IsShutdown() {
		return ErrTransportShutdown
	}

	d, ok := dest.(NetAddress)
	if !ok {
		return errors.New("UDP can only reach network addresses")
	}

	raddr, err := d.UDPAddr()
	if err != nil {
		return err
	}

	data, err := MarshalPacket(pid, payload)
	if err != nil {
		return err
	}

	_, err = t.conn.WriteToUDP(data, raddr)
	return err
}

// Receive implements core.Listener. Malformed datagrams are returned as
// errors; callers log them and keep receiving. After Close it returns
// ErrTransportShutdown.
func (t *UDP) Receive() (core.Address, int, interface{}, error) {
	buf := make([]byte, maxDatagramSize)

	n, raddr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if t.IsShutdown() {
			return nil, 0, nil, ErrTransportShutdown
		}
		return nil, 0, nil, err
	}

	src := netAddressFromUDP(raddr)

	pid, payload, err := UnmarshalPacket(buf[:n])
	if err != nil {
		return src, 0, nil, err
	}

	return src, pid, payload, nil
}

// IsShutdown reports whether Close was called.
func (t *UDP) IsShutdown() bool {
	select {
	case <-t.shutdownCh:
		return true
	default:
		return false
	}
}

// Close implements core.Listener.
func (t *UDP) Close() error {
	t.shutdownLock.Lock()
	defer t.shutdownLock.Unlock()

	if !t.shutdown {
		close(t.shutdownCh)
		t.shutdown = true
		return t.conn.Close()
	}
	return nil
}
