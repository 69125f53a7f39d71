package transport

import (
	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/sirupsen/logrus"
)

// Matrix delivers messages after the latency between the routers of the
// sender and the receiver, plus twice the local access delay. Messages over
// broken links are dropped.
type Matrix struct {
	ctx     *core.Context
	routers *RouterNetwork
	local   int64
	logger  *logrus.Entry
}

// NewMatrix returns a Matrix transport over routers.
func NewMatrix(ctx *core.Context, routers *RouterNetwork, local int64) *Matrix {
	return &Matrix{
		ctx:     ctx,
		routers: routers,
		local:   local,
		logger:  ctx.Logger().WithField("transport", "matrix"),
	}
}

// Latency returns the delay between two nodes, negative when the link is
// broken.
func (t *Matrix) Latency(src, dst *core.Node) int64 {
	lat := int64(t.routers.Latency(t.routers.Router(src.ID()), t.routers.Router(dst.ID())))
	if lat < 0 {
		return lat
	}
	return lat + 2*t.local
}

// Send implements core.Transport.
func (t *Matrix) Send(src *core.Node, dest core.Address, pid int, payload interface{}) {
	d, ok := dest.(SimAddress)
	if !ok || d.Node == nil {
		t.logger.WithField("dest", dest).Error("Matrix can only reach simulated addresses")
		return
	}

	lat := t.Latency(src, d.Node)
	if lat < 0 {
		t.logger.WithFields(logrus.Fields{
			"src":  src.ID(),
			"dest": d.Node.ID(),
		}).Debug("Broken link, message dropped")
		return
	}

	t.ctx.Scheduler().Add(lat, SimAddress{Node: src}, d.Node, pid, payload)
}

// LocalAddress implements core.Transport.
func (t *Matrix) LocalAddress(node *core.Node) core.Address {
	return SimAddress{Node: node}
}
