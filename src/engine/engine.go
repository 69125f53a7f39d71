package engine

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/sirupsen/logrus"
)

// Engine drives an experiment. It is the core.Scheduler of its Context.
type Engine interface {
	core.Scheduler

	// Run executes the experiment to completion: initializers, dispatch until
	// end-time, exhaustion or interruption, then final controls.
	Run() error

	// State returns the current lifecycle state.
	State() State

	// AddNode builds a node from the Template, adds it to the Network, runs
	// inits on it and schedules its protocols. It must be called from a
	// Control or before Run.
	AddNode(inits ...core.NodeInitializer) (*core.Node, error)
}

// NamedControl is a Control with its activation schedule. Declaration order
// breaks ties between controls due at the same time.
type NamedControl struct {
	Name     string
	Control  core.Control
	Schedule core.Schedule
}

// Config parametrizes every engine.
type Config struct {
	// EndTime bounds the experiment. Events due at or after EndTime never run.
	// Zero or negative means unbounded.
	EndTime int64

	// TiebreakBits is the number of low-order bits reserved to order events
	// due at the same time.
	TiebreakBits int

	// Initializers run once, in order, before any dispatch.
	Initializers []NamedControl

	// Controls run according to their schedules, and once more at the end
	// when flagged Fin.
	Controls []NamedControl

	Metrics *Metrics
}

// DefaultConfig returns an unbounded configuration with default tie-break
// bits and no controls.
func DefaultConfig() Config {
	return Config{
		TiebreakBits: core.DefaultTiebreakBits,
	}
}

// cycleEvent is the payload of periodic protocol wake-ups.
type cycleEvent struct{}

// base holds what every strategy shares: configuration, lifecycle and
// delivery to protocols.
type base struct {
	ctx     *core.Context
	conf    Config
	endTime int64
	logger  *logrus.Entry
	metrics *Metrics
	state   uint32
}

func newBase(ctx *core.Context, conf Config, name string) (base, error) {
	if conf.TiebreakBits == 0 {
		conf.TiebreakBits = core.DefaultTiebreakBits
	}
	if conf.TiebreakBits < core.MinTiebreakBits || conf.TiebreakBits >= 63 {
		return base{}, core.ErrTiebreakBits
	}

	maxTime := int64(1)<<uint(63-conf.TiebreakBits) - 1
	endTime := conf.EndTime
	if endTime <= 0 || endTime > maxTime {
		endTime = maxTime
	}

	for _, c := range append(append([]NamedControl{}, conf.Initializers...), conf.Controls...) {
		if c.Control == nil {
			return base{}, fmt.Errorf("control %q is nil", c.Name)
		}
	}

	return base{
		ctx:     ctx,
		conf:    conf,
		endTime: endTime,
		logger:  ctx.Logger().WithField("engine", name),
		metrics: conf.Metrics,
	}, nil
}

// State ...
func (b *base) State() State {
	return State(atomic.LoadUint32(&b.state))
}

func (b *base) setState(s State) {
	atomic.StoreUint32(&b.state, uint32(s))
	b.logger.WithField("state", s).Debug("Engine state")
}

// EndTime returns the effective end-time.
func (b *base) EndTime() int64 {
	return b.endTime
}

// checkDelay validates a scheduling request and returns the absolute time.
func (b *base) checkDelay(now, delay int64, node *core.Node, pid int) (int64, bool) {
	if delay < 0 {
		b.logger.WithFields(logrus.Fields{
			"delay": delay,
			"node":  nodeID(node),
			"pid":   pid,
		}).Warn("Negative delay, event dropped")
		b.metrics.dropped(dropNegativeDelay)
		return 0, false
	}
	if delay > math.MaxInt64-now || now+delay >= b.endTime {
		b.metrics.dropped(dropPastEnd)
		return 0, false
	}
	return now + delay, true
}

func (b *base) runInitializers() {
	for _, i := range b.conf.Initializers {
		b.logger.WithField("init", i.Name).Debug("Running initializer")
		i.Control.Execute()
	}
}

func (b *base) runFinal() {
	for _, c := range b.conf.Controls {
		if c.Schedule.Fin {
			b.logger.WithField("control", c.Name).Debug("Running final control")
			b.executeControl(c)
		}
	}
}

func (b *base) executeControl(c NamedControl) bool {
	start := time.Now()
	stop := c.Control.Execute()
	b.metrics.observeControl(time.Since(start))
	b.metrics.dispatched(kindControl)
	return stop
}

// scheduleProtocols enqueues the first wake-up of each protocol of node.
func (b *base) scheduleProtocols(s core.Scheduler, node *core.Node) {
	for pid, spec := range b.ctx.Template.Protocols {
		if d := spec.Schedule.InitialDelay(); d >= 0 {
			s.Add(d, nil, node, pid, cycleEvent{})
		}
	}
}

// deliver runs ev on its node while holding the node lock and returns the
// delay until the next wake-up of a periodic protocol, or -1.
func (b *base) deliver(now int64, ev core.Event) int64 {
	node := ev.Node

	// a control holding every lock may kill the node while we wait
	node.Lock()
	defer node.Unlock()

	switch node.FailState() {
	case core.Dead:
		b.metrics.dropped(dropNodeDead)
		return -1
	case core.Down:
		b.metrics.dropped(dropNodeDown)
		return -1
	}

	if _, ok := ev.Payload.(cycleEvent); ok {
		p := node.Protocol(ev.Pid)
		if p == nil {
			b.unknownProtocol(node, ev.Pid)
			return -1
		}
		b.metrics.dispatched(kindCycle)
		delay := p.NextCycle(node, ev.Pid)
		if delay > 0 {
			return delay
		}
		return b.ctx.Template.Protocols[ev.Pid].Schedule.NextDelay(now)
	}

	b.metrics.dispatched(kindMessage)

	for _, i := range b.ctx.Interceptors() {
		handled, err := i.Intercept(node, ev.Pid, ev.Src, ev.Payload)
		if err != nil {
			b.logger.WithFields(logrus.Fields{
				"node":  node.ID(),
				"src":   ev.Src,
				"error": err,
			}).Error("Intercept")
			b.metrics.dropped(dropIntercepted)
			return -1
		}
		if handled {
			return -1
		}
	}

	p := node.Protocol(ev.Pid)
	if p == nil {
		b.unknownProtocol(node, ev.Pid)
		return -1
	}
	p.ProcessEvent(node, ev.Pid, ev.Src, ev.Payload)
	return -1
}

func (b *base) unknownProtocol(node *core.Node, pid int) {
	b.logger.WithFields(logrus.Fields{
		"node": node.ID(),
		"pid":  pid,
	}).Error("Unknown protocol")
}

func (b *base) buildNode(inits []core.NodeInitializer) (*core.Node, error) {
	n, err := b.ctx.NewNode()
	if err != nil {
		return nil, err
	}
	b.ctx.Network.Add(n)
	for _, i := range inits {
		if err := i.Initialize(n); err != nil {
			return nil, err
		}
	}
	b.metrics.setNodes(b.ctx.Network.Size())
	return n, nil
}

func nodeID(n *core.Node) int64 {
	if n == nil {
		return -1
	}
	return n.ID()
}
