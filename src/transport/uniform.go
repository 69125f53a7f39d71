package transport

import (
	"fmt"

	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/sirupsen/logrus"
)

// UniformRandom delivers messages after a delay drawn uniformly from
// [min, max]. It never touches the wire.
type UniformRandom struct {
	ctx    *core.Context
	min    int64
	delta  int64
	logger *logrus.Entry
}

// NewUniformRandom returns a UniformRandom transport. max < min is an error.
func NewUniformRandom(ctx *core.Context, min, max int64) (*UniformRandom, error) {
	if min < 0 {
		return nil, fmt.Errorf("negative minimum delay %d", min)
	}
	if max < min {
		return nil, fmt.Errorf("maximum delay %d lower than minimum delay %d", max, min)
	}
	return &UniformRandom{
		ctx:    ctx,
		min:    min,
		delta:  max - min + 1,
		logger: ctx.Logger().WithField("transport", "uniform"),
	}, nil
}

// Delay draws one transmission delay.
func (t *UniformRandom) Delay() int64 {
	if t.delta == 1 {
		return t.min
	}
	return t.min + t.ctx.Random.Int63n(t.delta)
}

// Send implements core.Transport.
func (t *UniformRandom) Send(src *core.Node, dest core.Address, pid int, payload interface{}) {
	d, ok := dest.(SimAddress)
	if !ok || d.Node == nil {
		t.logger.WithField("dest", dest).Error("UniformRandom can only reach simulated addresses")
		return
	}
	t.ctx.Scheduler().Add(t.Delay(), SimAddress{Node: src}, d.Node, pid, payload)
}

// LocalAddress implements core.Transport.
func (t *UniformRandom) LocalAddress(node *core.Node) core.Address {
	return SimAddress{Node: node}
}
