package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/sirupsen/logrus"
)

// runner owns the heap of one node, or the control heap when node is nil.
// Its goroutine sleeps until the earliest event is due and is woken early
// whenever an event is added.
type runner struct {
	node *core.Node

	mu     sync.Mutex
	heap   *core.Heap
	closed bool

	wake chan struct{}
}

func (r *runner) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Threaded runs one goroutine per node plus one for controls, in wall-clock
// milliseconds since the start of the experiment. Execution on a node is
// serialized by the node lock; controls hold every node lock while they run.
type Threaded struct {
	base

	start time.Time

	runnersLock sync.RWMutex
	runners     map[*core.Node]*runner
	control     *runner

	// events queued or being dispatched, across all heaps
	pending int64

	stopOnExhaustion bool
	onNodeStart      func(*core.Node)

	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	listeners sync.WaitGroup

	// every listening transport started, including those of removed nodes
	openLock sync.Mutex
	open     []core.Listener
}

// NewThreaded creates a Threaded engine and installs it as the scheduler of
// ctx. The experiment stops at end-time, when a control returns true, or
// when no events are left.
func NewThreaded(ctx *core.Context, conf Config) (*Threaded, error) {
	return newThreaded(ctx, conf, "threaded", true)
}

func newThreaded(ctx *core.Context, conf Config, name string, stopOnExhaustion bool) (*Threaded, error) {
	b, err := newBase(ctx, conf, name)
	if err != nil {
		return nil, err
	}

	e := &Threaded{
		base:             b,
		runners:          make(map[*core.Node]*runner),
		stopOnExhaustion: stopOnExhaustion,
		stopCh:           make(chan struct{}),
	}

	e.control, err = e.newRunner(nil)
	if err != nil {
		return nil, err
	}

	ctx.SetScheduler(e)

	return e, nil
}

func (e *Threaded) newRunner(node *core.Node) (*runner, error) {
	h, err := core.NewHeap(e.conf.TiebreakBits)
	if err != nil {
		return nil, err
	}
	return &runner{
		node: node,
		heap: h,
		wake: make(chan struct{}, 1),
	}, nil
}

// Now returns the milliseconds elapsed since Run started.
func (e *Threaded) Now() int64 {
	if e.start.IsZero() {
		return 0
	}
	return int64(time.Since(e.start) / time.Millisecond)
}

// Pending returns the number of events queued or being dispatched.
func (e *Threaded) Pending() int64 {
	return atomic.LoadInt64(&e.pending)
}

// Add implements core.Scheduler. It is safe for concurrent use.
func (e *Threaded) Add(delay int64, src core.Address, node *core.Node, pid int, payload interface{}) {
	if node == nil {
		e.logger.WithField("pid", pid).Error("Event without target node")
		return
	}
	t, ok := e.checkDelay(e.Now(), delay, node, pid)
	if !ok {
		return
	}

	r := e.runnerFor(node)
	if r == nil {
		e.metrics.dropped(dropNodeDead)
		return
	}
	e.push(r, core.Event{Time: t, Src: src, Node: node, Pid: pid, Payload: payload}, e.ctx.Random.Int63())
}

func (e *Threaded) addControl(delay int64, idx int) {
	t, ok := e.checkDelay(e.Now(), delay, nil, idx)
	if !ok {
		return
	}
	e.push(e.control, core.Event{Time: t, Pid: idx}, int64(idx))
}

func (e *Threaded) push(r *runner, ev core.Event, tiebreak int64) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		e.metrics.dropped(dropNodeDead)
		return
	}
	if err := r.heap.Add(ev, tiebreak); err != nil {
		r.mu.Unlock()
		e.logger.WithField("error", err).Error("Event dropped")
		e.metrics.dropped(dropOverflow)
		return
	}
	e.metrics.setPending(atomic.AddInt64(&e.pending, 1))
	r.mu.Unlock()

	r.signal()
}

func (e *Threaded) runnerFor(node *core.Node) *runner {
	e.runnersLock.RLock()
	defer e.runnersLock.RUnlock()
	return e.runners[node]
}

// register creates the runner of node. Its goroutine starts with the engine,
// or immediately when the engine is already running.
func (e *Threaded) register(node *core.Node) error {
	r, err := e.newRunner(node)
	if err != nil {
		return err
	}

	e.runnersLock.Lock()
	e.runners[node] = r
	e.runnersLock.Unlock()

	if e.State() == Running {
		e.startRunner(r)
	}
	return nil
}

func (e *Threaded) startRunner(r *runner) {
	e.wg.Add(1)
	go e.loop(r)
	if r.node != nil && e.onNodeStart != nil {
		e.onNodeStart(r.node)
	}
}

// AddNode implements Engine.
func (e *Threaded) AddNode(inits ...core.NodeInitializer) (*core.Node, error) {
	n, err := e.buildNode(inits)
	if err != nil {
		return nil, err
	}
	if err := e.register(n); err != nil {
		return nil, err
	}
	if e.State() == Running {
		e.scheduleProtocols(e, n)
	}
	return n, nil
}

// Stop interrupts the experiment. Events being dispatched run to completion.
func (e *Threaded) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
}

func (e *Threaded) stopped() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// Run implements Engine.
func (e *Threaded) Run() error {
	for i := 0; i < e.ctx.Network.Size(); i++ {
		if err := e.register(e.ctx.Network.Get(i)); err != nil {
			return err
		}
	}
	e.metrics.setNodes(e.ctx.Network.Size())

	e.start = time.Now()

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

	e.runnersLock.RLock()
	runners := make([]*runner, 0, len(e.runners)+1)
	runners = append(runners, e.control)
	for _, r := range e.runners {
		runners = append(runners, r)
	}
	e.runnersLock.RUnlock()

	for _, r := range runners {
		e.startRunner(r)
	}

	if e.stopOnExhaustion && e.Pending() == 0 {
		e.Stop()
	}

	var endCh <-chan time.Time
	if e.endTime < maxWallTime {
		timer := time.NewTimer(time.Duration(e.endTime-e.Now()) * time.Millisecond)
		defer timer.Stop()
		endCh = timer.C
	}

	select {
	case <-e.stopCh:
	case <-endCh:
		e.Stop()
	}

	e.wg.Wait()

	e.setState(Draining)
	e.teardown()
	e.listeners.Wait()
	e.runFinal()
	e.setState(Done)

	e.logger.WithFields(logrus.Fields{
		"time":    e.Now(),
		"pending": e.Pending(),
	}).Info("Experiment finished")

	return nil
}

// maxWallTime bounds end-times that can be waited for with a timer.
const maxWallTime = int64(1) << 43

// teardown closes every listening transport ever started so that listener
// goroutines return, whether or not their node is still in the Network.
func (e *Threaded) teardown() {
	e.openLock.Lock()
	open := e.open
	e.open = nil
	e.openLock.Unlock()

	for _, l := range open {
		if err := l.Close(); err != nil {
			e.logger.WithField("error", err).Warn("Closing transport")
		}
	}
}

func (e *Threaded) track(l core.Listener) {
	e.openLock.Lock()
	e.open = append(e.open, l)
	e.openLock.Unlock()
}

func (e *Threaded) loop(r *runner) {
	defer e.wg.Done()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		if e.stopped() {
			return
		}

		if r.node != nil && r.node.FailState() == core.Dead {
			e.retire(r)
			return
		}

		now := e.Now()

		r.mu.Lock()
		due, ok := r.heap.PeekEarliestTime()
		if ok && due <= now {
			ev, _ := r.heap.RemoveEarliest()
			r.mu.Unlock()
			e.dispatch(r, ev)
			continue
		}
		r.mu.Unlock()

		var timerCh <-chan time.Time
		if ok {
			timer.Reset(time.Duration(due-now) * time.Millisecond)
			timerCh = timer.C
		}

		select {
		case <-e.stopCh:
			return
		case <-r.wake:
		case <-timerCh:
			continue
		}

		if ok && !timer.Stop() {
			<-timer.C
		}
	}
}

func (e *Threaded) dispatch(r *runner, ev core.Event) {
	defer e.done()

	if ev.IsControl() {
		e.dispatchControl(ev)
		return
	}

	if d := e.deliver(ev.Time, ev); d >= 0 {
		e.Add(d, nil, ev.Node, ev.Pid, cycleEvent{})
	}
}

// dispatchControl runs a control while holding the lock of every node, in
// index order, then releases exactly the locks it took.
func (e *Threaded) dispatchControl(ev core.Event) {
	c := e.conf.Controls[ev.Pid]

	locked := e.ctx.Network.Nodes()
	for _, n := range locked {
		n.Lock()
	}

	stop := e.executeControl(c)

	for _, n := range locked {
		n.Unlock()
	}

	if stop {
		e.logger.WithField("control", c.Name).Info("Experiment interrupted")
		e.Stop()
		return
	}

	if d := c.Schedule.NextDelay(e.Now()); d >= 0 {
		e.addControl(d, ev.Pid)
	}
}

// done accounts for a dispatched event.
func (e *Threaded) done() {
	left := atomic.AddInt64(&e.pending, -1)
	e.metrics.setPending(left)
	if left == 0 && e.stopOnExhaustion {
		e.logger.Debug("No events left")
		e.Stop()
	}
}

// retire discards the events of a dead node and forgets its runner.
func (e *Threaded) retire(r *runner) {
	r.mu.Lock()
	r.closed = true
	dropped := int64(r.heap.Size())
	for r.heap.Size() > 0 {
		r.heap.RemoveEarliest()
	}
	r.mu.Unlock()

	e.runnersLock.Lock()
	delete(e.runners, r.node)
	e.runnersLock.Unlock()

	for i := int64(0); i < dropped; i++ {
		e.metrics.dropped(dropNodeDead)
		e.done()
	}
}
