package graph

import (
	"testing"

	"github.com/mosaicnetworks/peernet/src/common"
	"github.com/mosaicnetworks/peernet/src/config"
	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/mosaicnetworks/peernet/src/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeighborListGraph(t *testing.T) {
	g := NewNeighborListGraph(3, true)

	assert.True(t, g.SetEdge(0, 1))
	assert.False(t, g.SetEdge(0, 1))
	assert.True(t, g.SetEdge(0, 2))
	assert.True(t, g.IsEdge(0, 1))
	assert.False(t, g.IsEdge(1, 0))
	assert.Equal(t, []int{1, 2}, g.Neighbors(0))
	assert.Equal(t, 2, g.Degree(0))

	assert.True(t, g.ClearEdge(0, 1))
	assert.False(t, g.ClearEdge(0, 1))
	assert.Equal(t, []int{2}, g.Neighbors(0))

	assert.Equal(t, 3, g.AddNode())
	assert.Equal(t, 4, g.Size())

	u := NewNeighborListGraph(2, false)
	u.SetEdge(0, 1)
	assert.True(t, u.IsEdge(1, 0))
	u.ClearEdge(1, 0)
	assert.False(t, u.IsEdge(0, 1))
}

func TestAlgorithms(t *testing.T) {
	r := core.NewRandom(5)

	g := NewNeighborListGraph(20, true)
	KOut(4)(g, r)
	for i := 0; i < g.Size(); i++ {
		assert.Equal(t, 4, g.Degree(i))
		assert.False(t, g.IsEdge(i, i), "no self loops")
	}

	small := NewNeighborListGraph(3, true)
	KOut(10)(small, r)
	for i := 0; i < small.Size(); i++ {
		assert.Equal(t, 2, small.Degree(i))
	}

	star := NewNeighborListGraph(5, false)
	Star()(star, r)
	assert.Equal(t, 4, star.Degree(0))
	for i := 1; i < 5; i++ {
		assert.Equal(t, []int{0}, star.Neighbors(i))
	}

	ring := NewNeighborListGraph(4, true)
	Ring(1)(ring, r)
	assert.Equal(t, []int{0}, ring.Neighbors(3))

	_, err := NewAlgorithm("nope", 1)
	assert.Error(t, err)

	src := config.NewMapSource(map[string]interface{}{
		"coordinator.c.init.class": "kout",
		"coordinator.c.init.k":     3,
	})
	alg, name, err := ParseAlgorithm(src, "coordinator.c.init")
	require.NoError(t, err)
	assert.Equal(t, "kout", name)
	g = NewNeighborListGraph(10, true)
	alg(g, r)
	assert.Equal(t, 3, g.Degree(0))
}

func idleContext(t *testing.T, size int) *core.Context {
	ctx := core.NewContext(7, common.NewTestEntry(t, common.TestLogLevel))
	ctx.Template = &core.Template{
		Protocols: []core.ProtocolSpec{{
			Name: "link",
			New: func(ctx *core.Context, node *core.Node, pid int) (core.Protocol, error) {
				return proto.NewIdle(4), nil
			},
		}},
	}
	require.NoError(t, ctx.Populate(size))
	return ctx
}

func TestOverlayGraph(t *testing.T) {
	ctx := idleContext(t, 4)

	g, err := NewOverlayGraph(ctx.Network, 0, true)
	require.NoError(t, err)

	assert.True(t, g.SetEdge(0, 1))
	assert.True(t, g.IsEdge(0, 1))
	assert.True(t, g.IsEdge(1, 0), "undirected view links both ends")
	assert.Equal(t, []int{1}, g.Neighbors(0))

	g.SetEdge(0, 2)
	assert.Equal(t, 2, g.Degree(0))
	require.NoError(t, ctx.Network.Get(2).SetFailState(core.Down))
	assert.Equal(t, 1, g.Degree(0))
	assert.False(t, g.IsEdge(0, 2))
	assert.False(t, g.ClearEdge(0, 1))
}

func TestWire_Overlay(t *testing.T) {
	ctx := idleContext(t, 10)

	w := NewWire(KOut(3), ctx.Random, ctx.Logger()).WithOverlay(ctx.Network, 0, false)
	assert.False(t, w.Execute())

	for i := 0; i < 10; i++ {
		l := ctx.Network.Get(i).Protocol(0).(core.Linkable)
		assert.True(t, l.Degree() >= 3)
	}

	// an explicit graph takes precedence
	g := NewNeighborListGraph(6, true)
	w.SetGraph(g)
	w.Execute()
	assert.Equal(t, 3, g.Degree(5))
}

func TestNodeInitializers(t *testing.T) {
	ctx := idleContext(t, 5)
	n := ctx.Network.Get(4)

	ri := &RandomInit{Network: ctx.Network, Random: ctx.Random, Pid: 0, K: 2}
	require.NoError(t, ri.Initialize(n))
	l := n.Protocol(0).(core.Linkable)
	for i := 0; i < l.Degree(); i++ {
		assert.NotEqual(t, proto.Handle(n, 0).Address(), l.Neighbor(i).Address())
	}

	si := &StarInit{Network: ctx.Network, Pid: 0}
	require.NoError(t, ctx.Network.Get(0).SetFailState(core.Down))
	m := ctx.Network.Get(3)
	require.NoError(t, si.Initialize(m))
	center := ctx.Network.Get(1)
	assert.True(t, m.Protocol(0).(core.Linkable).Contains(proto.Handle(center, 0)))
}
