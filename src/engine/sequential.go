package engine

import (
	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/sirupsen/logrus"
)

// Sequential runs an experiment on a single goroutine over one heap, in
// virtual time. For a fixed seed it is fully reproducible.
type Sequential struct {
	base

	heap *core.Heap
	now  int64
}

// NewSequential creates a Sequential engine and installs it as the scheduler
// of ctx.
func NewSequential(ctx *core.Context, conf Config) (*Sequential, error) {
	b, err := newBase(ctx, conf, "sequential")
	if err != nil {
		return nil, err
	}

	h, err := core.NewHeap(b.conf.TiebreakBits)
	if err != nil {
		return nil, err
	}

	e := &Sequential{
		base: b,
		heap: h,
	}
	ctx.SetScheduler(e)

	return e, nil
}

// Now returns the virtual time of the event being dispatched.
func (e *Sequential) Now() int64 {
	return e.now
}

// Pending returns the number of queued events.
func (e *Sequential) Pending() int {
	return e.heap.Size()
}

// Add implements core.Scheduler.
func (e *Sequential) Add(delay int64, src core.Address, node *core.Node, pid int, payload interface{}) {
	t, ok := e.checkDelay(e.now, delay, node, pid)
	if !ok {
		return
	}
	e.push(core.Event{Time: t, Src: src, Node: node, Pid: pid, Payload: payload}, e.ctx.Random.Int63())
}

func (e *Sequential) addControl(delay int64, idx int) {
	t, ok := e.checkDelay(e.now, delay, nil, idx)
	if !ok {
		return
	}
	e.push(core.Event{Time: t, Pid: idx}, int64(idx))
}

func (e *Sequential) push(ev core.Event, tiebreak int64) {
	if err := e.heap.Add(ev, tiebreak); err != nil {
		e.logger.WithField("error", err).Error("Event dropped")
		e.metrics.dropped(dropOverflow)
		return
	}
	e.metrics.setPending(int64(e.heap.Size()))
}

// AddNode implements Engine.
func (e *Sequential) AddNode(inits ...core.NodeInitializer) (*core.Node, error) {
	n, err := e.buildNode(inits)
	if err != nil {
		return nil, err
	}
	// before Run, protocols of every node are scheduled when the run starts
	if e.State() == Running {
		e.scheduleProtocols(e, n)
	}
	return n, nil
}

// Run implements Engine.
func (e *Sequential) Run() error {
	e.metrics.setNodes(e.ctx.Network.Size())

	e.runInitializers()

	for i, c := range e.conf.Controls {
		if d := c.Schedule.InitialDelay(); d >= 0 {
			e.addControl(d, i)
		}
	}
	for i := 0; i < e.ctx.Network.Size(); i++ {
		e.scheduleProtocols(e, e.ctx.Network.Get(i))
	}

	e.setState(Running)

	dispatched := 0
	for e.step() {
		dispatched++
	}

	e.setState(Draining)
	e.runFinal()
	e.setState(Done)

	e.logger.WithFields(logrus.Fields{
		"time":       e.now,
		"dispatched": dispatched,
		"pending":    e.heap.Size(),
	}).Info("Experiment finished")

	return nil
}

// step dispatches the earliest event. It returns false when the experiment is
// over.
func (e *Sequential) step() bool {
	ev, ok := e.heap.RemoveEarliest()
	if !ok {
		return false
	}
	e.metrics.setPending(int64(e.heap.Size()))
	if ev.Time >= e.endTime {
		return false
	}
	e.now = ev.Time

	if ev.IsControl() {
		c := e.conf.Controls[ev.Pid]
		stop := e.executeControl(c)
		if stop {
			e.logger.WithField("control", c.Name).Info("Experiment interrupted")
			return false
		}
		if d := c.Schedule.NextDelay(e.now); d >= 0 {
			e.addControl(d, ev.Pid)
		}
		return true
	}

	if d := e.deliver(e.now, ev); d >= 0 {
		e.Add(d, nil, ev.Node, ev.Pid, cycleEvent{})
	}
	return true
}
