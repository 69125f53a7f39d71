package peernet

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/peernet/src/bootstrap"
	"github.com/mosaicnetworks/peernet/src/common"
	"github.com/mosaicnetworks/peernet/src/config"
	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/mosaicnetworks/peernet/src/engine"
	"github.com/mosaicnetworks/peernet/src/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseValues() map[string]interface{} {
	return map[string]interface{}{
		"simulation.endtime":      1000,
		"simulation.seed":         42,
		"network.size":            20,
		"transport.tr.class":      "uniform",
		"transport.tr.mindelay":   5,
		"transport.tr.maxdelay":   10,
		"protocol.link.class":     "idle",
		"protocol.link.transport": "tr",
		"init.wire.class":         "wire",
		"init.wire.protocol":      "link",
		"init.wire.wirer":         "kout",
		"init.wire.k":             3,
	}
}

func newTestExperiment(t *testing.T, values map[string]interface{}, opts Options) *Experiment {
	opts.Logger = common.NewTestEntry(t, common.TestLogLevel)
	exp, err := NewExperiment(config.NewMapSource(values), opts)
	require.NoError(t, err)
	return exp
}

func linkDegrees(exp *Experiment) []int {
	res := []int{}
	for _, n := range exp.Ctx.Network.Nodes() {
		res = append(res, n.Protocol(0).(core.Linkable).Degree())
	}
	return res
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"sim", "emu", "net"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}
	_, err := ParseMode("coordinator")
	assert.Error(t, err)
}

func TestExperiment_Sim(t *testing.T) {
	values := baseValues()
	values["control.deg.class"] = "degree"
	values["control.deg.protocol"] = "link"
	values["control.deg.at"] = 0
	values["control.deg.FINAL"] = true

	reg := prometheus.NewRegistry()
	exp := newTestExperiment(t, values, Options{Registerer: reg})

	assert.Equal(t, ModeSim, exp.Mode)
	assert.Equal(t, int64(42), exp.Seed)
	assert.NotEmpty(t, exp.ID)
	assert.IsType(t, &engine.Sequential{}, exp.Engine)

	require.NoError(t, exp.Run())

	assert.Equal(t, engine.Done, exp.Engine.State())
	for _, d := range linkDegrees(exp) {
		assert.Equal(t, 3, d)
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	names := []string{}
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "peernet_nodes")

	stats := exp.GetStats()
	assert.Equal(t, "sim", stats["mode"])
	assert.Equal(t, "20", stats["nodes"])
	assert.Equal(t, "Done", stats["state"])
	assert.Contains(t, stats, "elapsed")
}

func TestDegreeObserver(t *testing.T) {
	exp := newTestExperiment(t, baseValues(), Options{})
	require.NoError(t, exp.Run())

	o := &DegreeObserver{
		ctx:    exp.Ctx,
		pid:    0,
		logger: common.NewTestEntry(t, common.TestLogLevel),
	}
	assert.False(t, o.Execute())

	st := o.Last()
	assert.Equal(t, 20, st.Nodes)
	assert.Equal(t, 3, st.Min)
	assert.Equal(t, 3, st.Max)
	assert.Equal(t, 3.0, st.Mean)
	assert.Equal(t, 3.0, st.Median)
}

func TestExperiment_Reproducible(t *testing.T) {
	neighbors := func() [][]core.Descriptor {
		exp := newTestExperiment(t, baseValues(), Options{})
		require.NoError(t, exp.Run())
		res := [][]core.Descriptor{}
		for _, n := range exp.Ctx.Network.Nodes() {
			l := n.Protocol(0).(core.Linkable)
			ids := []core.Descriptor{}
			for i := 0; i < l.Degree(); i++ {
				ids = append(ids, core.Peer{ID: l.Neighbor(i).(core.Peer).ID})
			}
			res = append(res, ids)
		}
		return res
	}

	assert.Equal(t, neighbors(), neighbors())
}

func TestExperiment_Churn(t *testing.T) {
	values := baseValues()
	values["network.size"] = 10
	values["control.grow.class"] = "churn"
	values["control.grow.add"] = 2
	values["control.grow.maxsize"] = 14
	values["control.grow.from"] = 0
	values["control.grow.until"] = 100
	values["control.grow.step"] = 10
	values["control.grow.init.rand.class"] = "randni"
	values["control.grow.init.rand.protocol"] = "link"
	values["control.grow.init.rand.k"] = 2
	values["control.shrink.class"] = "churn"
	values["control.shrink.add"] = -3
	values["control.shrink.minsize"] = 12
	values["control.shrink.at"] = 500

	exp := newTestExperiment(t, values, Options{})
	require.NoError(t, exp.Run())

	// grown to 14, then shrunk to the minimum
	assert.Equal(t, 12, exp.Ctx.Network.Size())
	for i, n := range exp.Ctx.Network.Nodes() {
		assert.Equal(t, i, n.Index())
		assert.True(t, n.IsUp())
		assert.True(t, n.Protocol(0).(core.Linkable).Degree() >= 1)
	}
}

func TestExperiment_Emu(t *testing.T) {
	values := baseValues()
	values["simulation.mode"] = "emu"

	exp := newTestExperiment(t, values, Options{Mode: ModeSim})
	assert.Equal(t, ModeEmu, exp.Mode)
	assert.IsType(t, &engine.Threaded{}, exp.Engine)

	start := time.Now()
	require.NoError(t, exp.Run())

	// nothing is scheduled, so the run ends well before end-time
	assert.True(t, time.Since(start) < time.Second)
	assert.Equal(t, engine.Done, exp.Engine.State())
	for _, d := range linkDegrees(exp) {
		assert.Equal(t, 3, d)
	}
}

func TestExperiment_Errors(t *testing.T) {
	logger := common.NewTestEntry(t, common.TestLogLevel)

	values := baseValues()
	values["protocol.link.class"] = "nope"
	_, err := NewExperiment(config.NewMapSource(values), Options{Logger: logger})
	assert.True(t, IsUnknownClass(err))

	values = baseValues()
	delete(values, "network.size")
	_, err = NewExperiment(config.NewMapSource(values), Options{Logger: logger})
	assert.True(t, config.IsMissingKey(err))

	values = baseValues()
	values["init.wire.protocol"] = "missing"
	_, err = NewExperiment(config.NewMapSource(values), Options{Logger: logger})
	assert.Error(t, err)

	values = baseValues()
	values["transport.tr.maxdelay"] = 1
	_, err = NewExperiment(config.NewMapSource(values), Options{Logger: logger})
	assert.Error(t, err)

	values = baseValues()
	values["simulation.mode"] = "quantum"
	_, err = NewExperiment(config.NewMapSource(values), Options{Logger: logger})
	assert.Error(t, err)

	// bootstrapping needs real sockets
	values = baseValues()
	values["init.boot.class"] = "bootstrap"
	values["init.boot.protocol"] = "link"
	values["init.boot.address"] = "127.0.0.1:9999"
	_, err = NewExperiment(config.NewMapSource(values), Options{Logger: logger})
	assert.Error(t, err)
}

func TestExperiment_NetBootstrap(t *testing.T) {
	const size = 4
	logger := common.NewTestEntry(t, common.TestLogLevel)

	tr, err := transport.NewUDP("127.0.0.1:0", "", logger)
	require.NoError(t, err)
	server := bootstrap.NewServer(tr, config.NewMapSource(map[string]interface{}{
		"coordinator.boot.nodes":      size,
		"coordinator.boot.init.class": "kout",
		"coordinator.boot.init.k":     2,
	}), nil, 100*time.Millisecond, 1, logger)
	go server.Serve()
	defer server.Close()

	reg := DefaultRegistry()
	reg.RegisterControl("untilwired", func(b *Builder, prefix string) (core.Control, error) {
		pid, err := b.ProtocolID(prefix)
		if err != nil {
			return nil, err
		}
		k := b.Source.IntOr(prefix+".k", 1)
		return core.ControlFunc(func() bool {
			for _, n := range b.Ctx.Network.Nodes() {
				if n.Protocol(pid).(core.Linkable).Degree() < k {
					return false
				}
			}
			return true
		}), nil
	})

	values := map[string]interface{}{
		"simulation.endtime":      10000,
		"network.size":            size,
		"transport.udp.class":     "udp",
		"protocol.link.class":     "idle",
		"protocol.link.transport": "udp",
		"init.boot.class":         "bootstrap",
		"init.boot.protocol":      "link",
		"init.boot.address":       server.Addr().String(),
		"init.boot.period":        50,
		"control.stop.class":      "untilwired",
		"control.stop.protocol":   "link",
		"control.stop.k":          2,
		"control.stop.step":       20,
	}

	exp := newTestExperiment(t, values, Options{Mode: ModeNet, Registry: reg})
	assert.IsType(t, &engine.Networked{}, exp.Engine)

	start := time.Now()
	require.NoError(t, exp.Run())
	assert.True(t, time.Since(start) < 9*time.Second, "stopped once wired")

	ids := make(map[int64]bool)
	for _, n := range exp.Ctx.Network.Nodes() {
		ids[n.ID()] = true
		assert.Equal(t, 2, n.Protocol(0).(core.Linkable).Degree())
	}
	assert.Len(t, ids, size)

	st, ok := server.Status("boot")
	require.True(t, ok)
	assert.True(t, st.Completed)
	assert.Equal(t, size, st.Registered)
}
