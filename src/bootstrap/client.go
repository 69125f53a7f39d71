package bootstrap

import (
	"fmt"
	"sync"
	"time"

	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/mosaicnetworks/peernet/src/transport"
	"github.com/sirupsen/logrus"
)

// DefaultPeriod is the interval between two rounds of Requests.
const DefaultPeriod = 2 * time.Second

// NodeState is the progress of one node through the protocol.
type NodeState uint32

const (
	// Unregistered nodes have not received a RequestAck yet.
	Unregistered NodeState = iota
	// Registered nodes have an ID but no neighbors yet.
	Registered
	// Wired nodes have applied the neighbors of a Response.
	Wired
)

// String ...
func (s NodeState) String() string {
	switch s {
	case Unregistered:
		return "Unregistered"
	case Registered:
		return "Registered"
	case Wired:
		return "Wired"
	default:
		return "Unknown"
	}
}

// Client registers the nodes of the experiment with a coordinator and fills
// their Linkable protocol with the neighbors it returns. It is a core.Control,
// run once to start registering, and a core.Interceptor, claiming the
// messages of its coordinator run before protocols see them.
type Client struct {
	ctx         *core.Context
	pid         int
	coordinator transport.NetAddress
	name        string
	period      time.Duration
	logger      *logrus.Entry

	mu      sync.Mutex
	states  map[*core.Node]NodeState
	started bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewClient creates a Client for the Linkable protocol pid of every node in
// ctx, registering with the run called name on the coordinator at
// coordinator. A period of 0 means DefaultPeriod.
func NewClient(ctx *core.Context, pid int, coordinator transport.NetAddress, name string, period time.Duration) *Client {
	if period <= 0 {
		period = DefaultPeriod
	}

	c := &Client{
		ctx:         ctx,
		pid:         pid,
		coordinator: coordinator,
		name:        name,
		period:      period,
		logger: ctx.Logger().WithFields(logrus.Fields{
			"bootstrap":   name,
			"coordinator": coordinator.String(),
		}),
		states: make(map[*core.Node]NodeState),
		stopCh: make(chan struct{}),
	}

	ctx.AddInterceptor(c)

	return c
}

// Execute implements core.Control. The first call starts sending Requests for
// every node currently in the Network; later calls do nothing.
func (c *Client) Execute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return false
	}
	c.started = true

	for _, n := range c.ctx.Network.Nodes() {
		if _, ok := c.states[n]; !ok {
			c.states[n] = Unregistered
		}
	}

	offset := time.Duration(c.ctx.Random.Int63n(int64(c.period)))

	c.logger.WithFields(logrus.Fields{
		"nodes":  len(c.states),
		"offset": offset,
	}).Info("Bootstrap started")

	c.wg.Add(1)
	go c.loop(offset)

	return false
}

// State returns the progress of node.
func (c *Client) State(node *core.Node) NodeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[node]
}

// Remaining returns the number of nodes still waiting for a RequestAck.
func (c *Client) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.unregistered())
}

// Close stops sending Requests.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *Client) loop(offset time.Duration) {
	defer c.wg.Done()

	timer := time.NewTimer(offset)
	defer timer.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-timer.C:
		}

		if c.sendRequests() == 0 {
			c.logger.Debug("Every node registered")
			return
		}

		timer.Reset(c.period)
	}
}

// sendRequests sends a Request for every unregistered node, in random order,
// and returns how many it sent.
func (c *Client) sendRequests() int {
	c.mu.Lock()
	nodes := c.unregistered()
	c.mu.Unlock()

	c.ctx.Random.Shuffle(len(nodes), func(i, j int) {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	})

	c.logger.WithField("remaining", len(nodes)).Debug("Sending requests")

	for _, n := range nodes {
		tr := n.Transport(c.pid)
		if tr == nil {
			c.logger.WithField("node", n.ID()).Error("No transport for bootstrap protocol")
			continue
		}
		p := n.Protocol(c.pid)
		if p == nil {
			c.logger.WithField("node", n.ID()).Error("No bootstrap protocol")
			continue
		}
		self, err := handleOf(p.CreatePeerHandle(n, c.pid), n.ID())
		if err != nil {
			c.logger.WithError(err).WithField("node", n.ID()).Error("Bootstrap needs a network descriptor")
			continue
		}
		tr.Send(n, c.coordinator, c.pid, Message{
			Type:        Request,
			Coordinator: c.name,
			Self:        self,
		})
	}

	return len(nodes)
}

func (c *Client) unregistered() []*core.Node {
	res := []*core.Node{}
	for n, s := range c.states {
		if s == Unregistered && n.FailState() != core.Dead {
			res = append(res, n)
		}
	}
	return res
}

// Intercept implements core.Interceptor. It is called by the engine with the
// node lock held.
func (c *Client) Intercept(node *core.Node, pid int, src core.Address, payload interface{}) (bool, error) {
	msg, ok := asMessage(payload)
	if !ok || pid != c.pid || msg.Coordinator != c.name {
		return false, nil
	}

	switch msg.Type {
	case RequestAck:
		node.SetID(msg.NodeID)

		c.mu.Lock()
		if c.states[node] == Unregistered {
			c.states[node] = Registered
		}
		c.mu.Unlock()

		return true, nil

	case Response:
		node.SetID(msg.NodeID)

		if err := c.wire(node, msg.Neighbors); err != nil {
			return true, err
		}

		tr := node.Transport(c.pid)
		if tr == nil {
			return true, fmt.Errorf("node %d has no transport for protocol %d", node.ID(), c.pid)
		}
		tr.Send(node, c.coordinator, c.pid, Message{
			Type:        ResponseAck,
			Coordinator: c.name,
		})

		return true, nil

	default:
		return true, &UnknownMessageError{Type: msg.Type}
	}
}

// wire applies neighbors to node unless a previous Response already did.
func (c *Client) wire(node *core.Node, neighbors []Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.states[node] == Wired {
		return nil
	}

	l, ok := node.Protocol(c.pid).(core.Linkable)
	if !ok {
		return fmt.Errorf("protocol %d of node %d is not linkable", c.pid, node.ID())
	}

	descs := make([]core.Descriptor, 0, len(neighbors))
	for _, h := range neighbors {
		d, err := h.Descriptor()
		if err != nil {
			return err
		}
		descs = append(descs, d)
	}
	for _, d := range descs {
		l.AddNeighbor(d)
	}
	c.states[node] = Wired

	c.logger.WithFields(logrus.Fields{
		"node":      node.ID(),
		"neighbors": len(neighbors),
	}).Debug("Node wired")

	return nil
}
