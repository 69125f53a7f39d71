package engine

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mosaicnetworks/peernet/src/common"
	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/mosaicnetworks/peernet/src/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	at   int64
	node int64
	src  core.Address
	msg  interface{}
}

// recorder logs every message and cycle it sees.
type recorder struct {
	ctx *core.Context

	mu         sync.Mutex
	deliveries []delivery
	cycles     []int64
	override   int64
}

func (r *recorder) ProcessEvent(node *core.Node, pid int, src core.Address, event interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, delivery{r.ctx.Now(), node.ID(), src, event})
}

func (r *recorder) NextCycle(node *core.Node, pid int) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, r.ctx.Now())
	return r.override
}

func (r *recorder) CreatePeerHandle(node *core.Node, pid int) core.Descriptor {
	return core.Peer{Addr: node.Transport(pid).LocalAddress(node), ID: node.ID()}
}

func newTestContext(t *testing.T, schedule core.Schedule, min, max int64, override int64) (*core.Context, *recorder) {
	ctx := core.NewContext(42, common.NewTestEntry(t, common.TestLogLevel))
	rec := &recorder{ctx: ctx, override: override}
	ctx.Template = &core.Template{
		Transports: []core.TransportSpec{{
			Name: "tr",
			New: func(ctx *core.Context, node *core.Node, tid int) (core.Transport, error) {
				return transport.NewUniformRandom(ctx, min, max)
			},
		}},
		Protocols: []core.ProtocolSpec{{
			Name:      "rec",
			Transport: "tr",
			Schedule:  schedule,
			New: func(ctx *core.Context, node *core.Node, pid int) (core.Protocol, error) {
				return rec, nil
			},
		}},
	}
	return ctx, rec
}

func TestSequential_FixedDelay(t *testing.T) {
	ctx, rec := newTestContext(t, core.Schedule{}, 5, 5, 0)
	require.NoError(t, ctx.Populate(2))

	a, b := ctx.Network.Get(0), ctx.Network.Get(1)

	send := NamedControl{
		Name: "send",
		Control: core.ControlFunc(func() bool {
			a.Transport(0).Send(a, b.Transport(0).LocalAddress(b), 0, "ping")
			return false
		}),
		Schedule: core.OneShot(0),
	}

	e, err := NewSequential(ctx, Config{EndTime: 100, Controls: []NamedControl{send}})
	require.NoError(t, err)
	require.NoError(t, e.Run())

	require.Len(t, rec.deliveries, 1)
	d := rec.deliveries[0]
	assert.Equal(t, int64(5), d.at)
	assert.Equal(t, b.ID(), d.node)
	assert.Equal(t, transport.SimAddress{Node: a}, d.src)
	assert.Equal(t, "ping", d.msg)
	assert.Equal(t, Done, e.State())
}

func TestSequential_ControlOrderAndFinal(t *testing.T) {
	ctx, _ := newTestContext(t, core.Schedule{}, 1, 1, 0)
	require.NoError(t, ctx.Populate(1))

	var trace []string
	record := func(name string) core.Control {
		return core.ControlFunc(func() bool {
			trace = append(trace, name)
			return false
		})
	}

	conf := Config{
		EndTime: 25,
		Initializers: []NamedControl{
			{Name: "init1", Control: record("init1")},
			{Name: "init2", Control: record("init2")},
		},
		Controls: []NamedControl{
			{Name: "b", Control: record("b"), Schedule: core.Periodic(0, 25, 10)},
			{Name: "a", Control: record("a"), Schedule: core.Periodic(0, 25, 10)},
			{Name: "fin", Control: record("fin"), Schedule: core.Schedule{Fin: true}},
		},
	}

	e, err := NewSequential(ctx, conf)
	require.NoError(t, err)
	require.NoError(t, e.Run())

	// same-time controls run in declaration order
	assert.Equal(t, []string{"init1", "init2", "b", "a", "b", "a", "b", "a", "fin"}, trace)
}

func TestSequential_InterruptRunsFinal(t *testing.T) {
	ctx, _ := newTestContext(t, core.Schedule{}, 1, 1, 0)
	require.NoError(t, ctx.Populate(1))

	runs := 0
	final := 0
	conf := Config{
		EndTime: 1000,
		Controls: []NamedControl{
			{
				Name: "stop",
				Control: core.ControlFunc(func() bool {
					runs++
					return runs == 3
				}),
				Schedule: core.Periodic(0, 1000, 10),
			},
			{
				Name: "fin",
				Control: core.ControlFunc(func() bool {
					final++
					return false
				}),
				Schedule: core.Schedule{Step: 1000, From: 5000, Until: 6000, Fin: true},
			},
		},
	}

	e, err := NewSequential(ctx, conf)
	require.NoError(t, err)
	require.NoError(t, e.Run())

	assert.Equal(t, 3, runs)
	assert.Equal(t, 1, final)
	assert.Equal(t, int64(20), e.Now())
}

func TestSequential_CyclesAndOverride(t *testing.T) {
	ctx, rec := newTestContext(t, core.Periodic(3, 100, 10), 1, 1, 0)
	require.NoError(t, ctx.Populate(1))

	e, err := NewSequential(ctx, Config{EndTime: 40})
	require.NoError(t, err)
	require.NoError(t, e.Run())
	assert.Equal(t, []int64{3, 13, 23, 33}, rec.cycles)

	ctx, rec = newTestContext(t, core.Periodic(3, 100, 10), 1, 1, 7)
	require.NoError(t, ctx.Populate(1))

	e, err = NewSequential(ctx, Config{EndTime: 20})
	require.NoError(t, err)
	require.NoError(t, e.Run())
	assert.Equal(t, []int64{3, 10, 17}, rec.cycles)
}

func TestSequential_DropsAndMonotonicTime(t *testing.T) {
	ctx, rec := newTestContext(t, core.Schedule{}, 0, 20, 0)
	require.NoError(t, ctx.Populate(10))

	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	e, err := NewSequential(ctx, Config{EndTime: 1000, Metrics: metrics})
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		src := ctx.Network.Get(i % 10)
		dst := ctx.Network.Get((i + 3) % 10)
		e.Add(int64(i), transport.SimAddress{Node: src}, dst, 0, i)
	}

	// negative delay and past end-time never enqueued
	e.Add(-1, nil, ctx.Network.Get(0), 0, "negative")
	e.Add(1000, nil, ctx.Network.Get(0), 0, "late")
	assert.Equal(t, 200, e.Pending())

	// events for a node that dies before they fire are dropped
	victim := ctx.Network.Get(3)
	e.Add(500, nil, victim, 0, "to-the-dead")
	down := ctx.Network.Get(4)
	require.NoError(t, down.SetFailState(core.Down))

	killer := NamedControl{
		Name: "kill",
		Control: core.ControlFunc(func() bool {
			ctx.Network.RemoveAt(victim.Index())
			return false
		}),
		Schedule: core.OneShot(250),
	}
	e.conf.Controls = []NamedControl{killer}

	require.NoError(t, e.Run())

	last := int64(-1)
	for _, d := range rec.deliveries {
		if d.at < last {
			t.Fatalf("time went backwards: %d after %d", d.at, last)
		}
		last = d.at
		if d.msg == "negative" || d.msg == "late" || d.msg == "to-the-dead" {
			t.Fatalf("unexpected delivery %v", d.msg)
		}
		if d.node == down.ID() {
			t.Fatalf("delivery to a down node")
		}
		if d.node == victim.ID() && d.at >= 250 {
			t.Fatalf("delivery to a dead node at %d", d.at)
		}
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["peernet_events_dropped_total"])
	assert.True(t, names["peernet_events_dispatched_total"])
}

func TestSequential_Reproducible(t *testing.T) {
	run := func() []delivery {
		ctx, rec := newTestContext(t, core.Schedule{}, 0, 3, 0)
		require.NoError(t, ctx.Populate(5))
		e, err := NewSequential(ctx, Config{EndTime: 100})
		require.NoError(t, err)
		for i := 0; i < 50; i++ {
			e.Add(int64(i%4), nil, ctx.Network.Get(i%5), 0, i)
		}
		require.NoError(t, e.Run())
		return rec.deliveries
	}
	assert.Equal(t, run(), run())
}

func TestSequential_AddNode(t *testing.T) {
	ctx, rec := newTestContext(t, core.Periodic(0, 100, 50), 1, 1, 0)
	require.NoError(t, ctx.Populate(1))

	var e *Sequential
	var added *core.Node
	churn := NamedControl{
		Name: "churn",
		Control: core.ControlFunc(func() bool {
			n, err := e.AddNode()
			require.NoError(t, err)
			added = n
			return false
		}),
		Schedule: core.OneShot(10),
	}

	var err error
	e, err = NewSequential(ctx, Config{EndTime: 100, Controls: []NamedControl{churn}})
	require.NoError(t, err)
	require.NoError(t, e.Run())

	require.NotNil(t, added)
	assert.Equal(t, 2, ctx.Network.Size())
	assert.Equal(t, 1, added.Index())
	// node 0 at 0 and 50, new node at 10 and 60
	assert.Equal(t, []int64{0, 10, 50, 60}, rec.cycles)
}

func TestNewBase_Bits(t *testing.T) {
	ctx, _ := newTestContext(t, core.Schedule{}, 1, 1, 0)
	_, err := NewSequential(ctx, Config{TiebreakBits: 4})
	assert.Equal(t, core.ErrTiebreakBits, err)

	_, err = NewThreaded(ctx, Config{Controls: []NamedControl{{Name: "nil"}}})
	assert.Error(t, err)
}

// pairProtocol updates two counters with a gap in between. Both are guarded
// by the node lock, so a control holding every lock must see them equal.
type pairProtocol struct {
	a, b int64
}

func (p *pairProtocol) ProcessEvent(node *core.Node, pid int, src core.Address, event interface{}) {}

func (p *pairProtocol) NextCycle(node *core.Node, pid int) int64 {
	p.a++
	runtime.Gosched()
	time.Sleep(50 * time.Microsecond)
	p.b++
	return 0
}

func (p *pairProtocol) CreatePeerHandle(node *core.Node, pid int) core.Descriptor {
	return nil
}

func TestThreaded_ControlHoldsAllLocks(t *testing.T) {
	ctx := core.NewContext(1, common.NewTestEntry(t, common.TestLogLevel))
	var pairs []*pairProtocol
	var pairsLock sync.Mutex
	ctx.Template = &core.Template{
		Protocols: []core.ProtocolSpec{{
			Name:     "pair",
			Schedule: core.Periodic(0, 1<<40, 1),
			New: func(ctx *core.Context, node *core.Node, pid int) (core.Protocol, error) {
				p := &pairProtocol{}
				pairsLock.Lock()
				pairs = append(pairs, p)
				pairsLock.Unlock()
				return p, nil
			},
		}},
	}
	require.NoError(t, ctx.Populate(3))

	var inWindow int64
	violations := 0
	executions := 0
	check := NamedControl{
		Name: "check",
		Control: core.ControlFunc(func() bool {
			executions++
			for _, p := range pairs {
				if p.a != p.b {
					violations++
				}
			}
			atomic.AddInt64(&inWindow, 1)
			return executions == 10
		}),
		Schedule: core.Periodic(5, 1<<40, 5),
	}

	e, err := NewThreaded(ctx, Config{EndTime: 5000, Controls: []NamedControl{check}})
	require.NoError(t, err)
	require.NoError(t, e.Run())

	assert.Equal(t, 10, executions)
	assert.Equal(t, int64(10), atomic.LoadInt64(&inWindow))
	assert.Equal(t, 0, violations)
	for _, p := range pairs {
		assert.Equal(t, p.a, p.b)
		assert.True(t, p.a > 0, "every node ran")
	}
}

func TestThreaded_Delivery(t *testing.T) {
	ctx, rec := newTestContext(t, core.Schedule{}, 20, 20, 0)
	require.NoError(t, ctx.Populate(3))

	a, c := ctx.Network.Get(0), ctx.Network.Get(2)
	send := NamedControl{
		Name: "send",
		Control: core.ControlFunc(func() bool {
			a.Transport(0).Send(a, c.Transport(0).LocalAddress(c), 0, "hello")
			return false
		}),
		Schedule: core.OneShot(0),
	}

	e, err := NewThreaded(ctx, Config{EndTime: 10000, Controls: []NamedControl{send}})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, e.Run())

	// the run ends as soon as no events are left, well before end-time
	assert.True(t, time.Since(start) < 5*time.Second)
	require.Len(t, rec.deliveries, 1)
	assert.True(t, rec.deliveries[0].at >= 20, "delivered at %d", rec.deliveries[0].at)
	assert.Equal(t, c.ID(), rec.deliveries[0].node)
	assert.Equal(t, int64(0), e.Pending())
	assert.Equal(t, Done, e.State())
}

func TestThreaded_EndTime(t *testing.T) {
	ctx, rec := newTestContext(t, core.Periodic(0, 1<<40, 10), 1, 1, 0)
	require.NoError(t, ctx.Populate(2))

	final := 0
	fin := NamedControl{
		Name: "fin",
		Control: core.ControlFunc(func() bool {
			final++
			return false
		}),
		Schedule: core.Schedule{Fin: true},
	}

	e, err := NewThreaded(ctx, Config{EndTime: 100, Controls: []NamedControl{fin}})
	require.NoError(t, err)
	require.NoError(t, e.Run())

	assert.Equal(t, 1, final)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.NotEmpty(t, rec.cycles)
	for _, c := range rec.cycles {
		assert.True(t, c < 100+50, "cycle at %d", c)
	}
}

// echo answers every message over UDP until it has seen limit of them.
type echo struct {
	received int64
}

type ball struct {
	Hops int
}

func init() {
	transport.RegisterPayload("engine.ball", ball{})
}

func (p *echo) ProcessEvent(node *core.Node, pid int, src core.Address, event interface{}) {
	atomic.AddInt64(&p.received, 1)
	b := event.(ball)
	if b.Hops >= 10 {
		return
	}
	node.Transport(pid).Send(node, src, pid, ball{Hops: b.Hops + 1})
}

func (p *echo) NextCycle(node *core.Node, pid int) int64 { return 0 }

func (p *echo) CreatePeerHandle(node *core.Node, pid int) core.Descriptor {
	return core.Peer{Addr: node.Transport(pid).LocalAddress(node), ID: node.ID()}
}

func TestNetworked_PingPong(t *testing.T) {
	logger := common.NewTestEntry(t, common.TestLogLevel)
	ctx := core.NewContext(1, logger)

	var echoes []*echo
	ctx.Template = &core.Template{
		Transports: []core.TransportSpec{{
			Name: "udp",
			New: func(ctx *core.Context, node *core.Node, tid int) (core.Transport, error) {
				return transport.NewUDP("127.0.0.1:0", "", logger)
			},
		}},
		Protocols: []core.ProtocolSpec{{
			Name:      "echo",
			Transport: "udp",
			New: func(ctx *core.Context, node *core.Node, pid int) (core.Protocol, error) {
				p := &echo{}
				echoes = append(echoes, p)
				return p, nil
			},
		}},
	}
	require.NoError(t, ctx.Populate(2))
	a, b := ctx.Network.Get(0), ctx.Network.Get(1)

	kick := NamedControl{
		Name: "kick",
		Control: core.ControlFunc(func() bool {
			a.Transport(0).Send(a, b.Transport(0).LocalAddress(b), 0, ball{})
			return false
		}),
		Schedule: core.OneShot(0),
	}
	done := NamedControl{
		Name: "done",
		Control: core.ControlFunc(func() bool {
			return atomic.LoadInt64(&echoes[0].received)+atomic.LoadInt64(&echoes[1].received) >= 11
		}),
		Schedule: core.Periodic(10, 1<<40, 10),
	}

	e, err := NewNetworked(ctx, Config{EndTime: 10000, Controls: []NamedControl{kick, done}})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, e.Run())

	assert.True(t, time.Since(start) < 9*time.Second, "interrupted by control")
	assert.Equal(t, int64(11), echoes[0].received+echoes[1].received)

	// transports are closed at teardown
	udp := a.Transport(0).(*transport.UDP)
	assert.True(t, udp.IsShutdown())
}

func TestDeliver_NodeKilledWhileWaitingForLock(t *testing.T) {
	ctx, rec := newTestContext(t, core.Schedule{}, 1, 1, 0)
	require.NoError(t, ctx.Populate(1))
	n := ctx.Network.Get(0)

	e, err := NewThreaded(ctx, Config{EndTime: 100})
	require.NoError(t, err)

	// a control holds the lock and kills the node while a dispatch waits
	n.Lock()
	delivered := make(chan int64)
	go func() {
		delivered <- e.deliver(0, core.Event{Node: n, Pid: 0, Payload: "late"})
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, n.SetFailState(core.Dead))
	n.Unlock()

	select {
	case d := <-delivered:
		assert.Equal(t, int64(-1), d)
	case <-time.After(2 * time.Second):
		t.Fatal("deliver did not return")
	}
	assert.Empty(t, rec.deliveries)
}

func TestThreaded_ChurnRemovalRunsFinal(t *testing.T) {
	ctx, rec := newTestContext(t, core.Periodic(0, 1<<40, 5), 1, 1, 0)
	require.NoError(t, ctx.Populate(3))
	removed := ctx.Network.Get(0)

	var final int64
	conf := Config{
		EndTime: 150,
		Controls: []NamedControl{
			{
				Name: "remove",
				Control: core.ControlFunc(func() bool {
					ctx.Network.RemoveAt(0)
					return false
				}),
				Schedule: core.OneShot(20),
			},
			{
				Name: "fin",
				Control: core.ControlFunc(func() bool {
					atomic.AddInt64(&final, 1)
					return false
				}),
				Schedule: core.Schedule{Fin: true},
			},
		},
	}

	e, err := NewThreaded(ctx, conf)
	require.NoError(t, err)
	require.NoError(t, e.Run())

	assert.Equal(t, int64(1), atomic.LoadInt64(&final))
	assert.Equal(t, 2, ctx.Network.Size())
	assert.Equal(t, core.Dead, removed.FailState())
	assert.NotEmpty(t, rec.cycles)
}

func TestNetworked_ChurnRemovalEnds(t *testing.T) {
	logger := common.NewTestEntry(t, common.TestLogLevel)
	ctx := core.NewContext(1, logger)
	ctx.Template = &core.Template{
		Transports: []core.TransportSpec{{
			Name: "udp",
			New: func(ctx *core.Context, node *core.Node, tid int) (core.Transport, error) {
				return transport.NewUDP("127.0.0.1:0", "", logger)
			},
		}},
		Protocols: []core.ProtocolSpec{{
			Name:      "echo",
			Transport: "udp",
			New: func(ctx *core.Context, node *core.Node, pid int) (core.Protocol, error) {
				return &echo{}, nil
			},
		}},
	}
	require.NoError(t, ctx.Populate(2))
	removed := ctx.Network.Get(0)

	var final int64
	conf := Config{
		EndTime: 200,
		Controls: []NamedControl{
			{
				Name: "remove",
				Control: core.ControlFunc(func() bool {
					ctx.Network.RemoveAt(0)
					return false
				}),
				Schedule: core.OneShot(10),
			},
			{
				Name: "fin",
				Control: core.ControlFunc(func() bool {
					atomic.AddInt64(&final, 1)
					return false
				}),
				Schedule: core.Schedule{Fin: true},
			},
		},
	}

	e, err := NewNetworked(ctx, conf)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Run()
	}()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return, state %s", e.State())
	}

	assert.Equal(t, Done, e.State())
	assert.Equal(t, int64(1), atomic.LoadInt64(&final))
	assert.Equal(t, 1, ctx.Network.Size())

	// the removed node's socket is closed too
	assert.True(t, removed.Transport(0).(*transport.UDP).IsShutdown())
}
