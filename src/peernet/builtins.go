package peernet

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/mosaicnetworks/peernet/src/bootstrap"
	"github.com/mosaicnetworks/peernet/src/config"
	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/mosaicnetworks/peernet/src/graph"
	"github.com/mosaicnetworks/peernet/src/proto"
	"github.com/mosaicnetworks/peernet/src/transport"
	"github.com/sirupsen/logrus"
)

// protocol.<name>
//
//	class     idle
//	capacity  initial room for neighbors (10)
func buildIdle(b *Builder, prefix string) (core.ProtocolFactory, error) {
	capacity := b.Source.IntOr(prefix+".capacity", 10)
	return func(ctx *core.Context, node *core.Node, pid int) (core.Protocol, error) {
		return proto.NewIdle(capacity), nil
	}, nil
}

// transport.<name>
//
//	class     uniform
//	mindelay  (0)
//	maxdelay  (mindelay)
func buildUniform(b *Builder, prefix string) (core.TransportFactory, error) {
	min := b.Source.Int64Or(prefix+".mindelay", 0)
	max := b.Source.Int64Or(prefix+".maxdelay", min)

	t, err := transport.NewUniformRandom(b.Ctx, min, max)
	if err != nil {
		return nil, err
	}

	// stateless, so every node shares it
	return func(ctx *core.Context, node *core.Node, tid int) (core.Transport, error) {
		return t, nil
	}, nil
}

// transport.<name>
//
//	class  matrix
//	file   latency matrix in King format
//	ratio  multiplier applied to the matrix values (1)
//	local  delay of the link between a node and its router (0)
func buildMatrix(b *Builder, prefix string) (core.TransportFactory, error) {
	file, err := b.Source.String(prefix + ".file")
	if err != nil {
		return nil, err
	}
	ratio := b.Source.Float64Or(prefix+".ratio", 1)
	local := b.Source.Int64Or(prefix+".local", 0)

	routers, err := transport.LoadKing(file, ratio)
	if err != nil {
		return nil, err
	}

	b.Logger.WithFields(logrus.Fields{
		"file":    file,
		"routers": routers.Size(),
	}).Debug("Latency matrix loaded")

	t := transport.NewMatrix(b.Ctx, routers, local)
	return func(ctx *core.Context, node *core.Node, tid int) (core.Transport, error) {
		return t, nil
	}, nil
}

// transport.<name>
//
//	class      udp
//	host       bind address (127.0.0.1)
//	port       port of the first node, the k-th node binds port+k; 0 picks
//	           ephemeral ports
//	advertise  host announced to peers instead of the bound one
func buildUDP(b *Builder, prefix string) (core.TransportFactory, error) {
	host := b.Source.StringOr(prefix+".host", "127.0.0.1")
	port := b.Source.IntOr(prefix+".port", 0)
	advertise := b.Source.StringOr(prefix+".advertise", "")
	if advertise != "" {
		advertise = net.JoinHostPort(advertise, "0")
	}

	if b.Mode != ModeNet {
		b.Logger.WithField("transport", prefix).Warn("UDP transport outside net mode, nothing receives")
	}

	var (
		mu      sync.Mutex
		k       int
		created []*transport.UDP
	)

	b.OnClose(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, t := range created {
			t.Close()
		}
	})

	return func(ctx *core.Context, node *core.Node, tid int) (core.Transport, error) {
		mu.Lock()
		defer mu.Unlock()

		p := 0
		if port > 0 {
			p = port + k
		}
		k++

		t, err := transport.NewUDP(net.JoinHostPort(host, strconv.Itoa(p)), advertise, ctx.Logger())
		if err != nil {
			return nil, err
		}
		created = append(created, t)
		return t, nil
	}, nil
}

// control.<name> or init.<name>
//
//	class     wire
//	protocol  Linkable protocol to wire
//	wirer     kout, star or ring (kout)
//	k         degree (1)
//	undir     add reverse links too (false)
func buildWire(b *Builder, prefix string) (core.Control, error) {
	pid, err := b.ProtocolID(prefix)
	if err != nil {
		return nil, err
	}
	algo, err := graph.NewAlgorithm(
		b.Source.StringOr(prefix+".wirer", "kout"),
		b.Source.IntOr(prefix+".k", 1))
	if err != nil {
		return nil, err
	}
	undirected := b.Source.BoolOr(prefix+".undir", false)

	logger := b.Logger.WithField("control", config.Leaf(prefix))
	return graph.NewWire(algo, b.Ctx.Random, logger).WithOverlay(b.Ctx.Network, pid, undirected), nil
}

// control.<name> or init.<name>
//
//	class        bootstrap
//	protocol     Linkable protocol receiving the neighbors
//	address      host:port of the coordinator
//	coordinator  name of the run on the coordinator (the component name)
//	period       milliseconds between two rounds of requests (2000)
func buildBootstrap(b *Builder, prefix string) (core.Control, error) {
	pid, err := b.ProtocolID(prefix)
	if err != nil {
		return nil, err
	}
	address, err := b.Source.String(prefix + ".address")
	if err != nil {
		return nil, err
	}
	coordinator, err := transport.ParseNetAddress(address)
	if err != nil {
		return nil, err
	}
	name := b.Source.StringOr(prefix+".coordinator", config.Leaf(prefix))
	period := time.Duration(b.Source.Int64Or(prefix+".period", int64(bootstrap.DefaultPeriod/time.Millisecond))) * time.Millisecond

	if b.Mode != ModeNet {
		return nil, fmt.Errorf("bootstrap requires net mode, not %s", b.Mode)
	}

	c := bootstrap.NewClient(b.Ctx, pid, coordinator, name, period)
	b.OnClose(c.Close)
	return c, nil
}

// control.<name>
//
//	class    churn
//	add      nodes added per run, negative to remove
//	minsize  the network never shrinks below (0)
//	maxsize  the network never grows above (unbounded)
//	init.*   node initializers applied to added nodes
func buildChurn(b *Builder, prefix string) (core.Control, error) {
	add, err := b.Source.Int(prefix + ".add")
	if err != nil {
		return nil, err
	}
	inits, err := b.buildNodeInitializers(prefix + ".init")
	if err != nil {
		return nil, err
	}
	return &Churn{
		b:       b,
		Add:     add,
		MinSize: b.Source.IntOr(prefix+".minsize", 0),
		MaxSize: b.Source.IntOr(prefix+".maxsize", int(^uint(0)>>1)),
		Inits:   inits,
		logger:  b.Logger.WithField("control", config.Leaf(prefix)),
	}, nil
}

// control.<name>
//
//	class     degree
//	protocol  Linkable protocol to observe
func buildDegreeObserver(b *Builder, prefix string) (core.Control, error) {
	pid, err := b.ProtocolID(prefix)
	if err != nil {
		return nil, err
	}
	return &DegreeObserver{
		ctx:    b.Ctx,
		pid:    pid,
		logger: b.Logger.WithField("control", config.Leaf(prefix)),
	}, nil
}

// <control>.init.<name>
//
//	class     randni
//	protocol  Linkable protocol of the new node
//	k         random neighbors, drawn with replacement (1)
func buildRandomInit(b *Builder, prefix string) (core.NodeInitializer, error) {
	pid, err := b.ProtocolID(prefix)
	if err != nil {
		return nil, err
	}
	return &graph.RandomInit{
		Network: b.Ctx.Network,
		Random:  b.Ctx.Random,
		Pid:     pid,
		K:       b.Source.IntOr(prefix+".k", 1),
	}, nil
}

// <control>.init.<name>
//
//	class     starni
//	protocol  Linkable protocol of the new node
func buildStarInit(b *Builder, prefix string) (core.NodeInitializer, error) {
	pid, err := b.ProtocolID(prefix)
	if err != nil {
		return nil, err
	}
	return &graph.StarInit{
		Network: b.Ctx.Network,
		Pid:     pid,
	}, nil
}
