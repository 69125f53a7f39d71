package graph

import (
	"fmt"

	"github.com/mosaicnetworks/peernet/src/config"
	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/sirupsen/logrus"
)

// Wirer mutates a graph in place. It is given a graph with SetGraph, or works
// on the overlay it was built for when it has none.
type Wirer interface {
	SetGraph(g Graph)
	Execute() bool
}

// Algorithm adds edges to g.
type Algorithm func(g Graph, r *core.Random)

// KOut links every node to k distinct random other nodes, or to all of them
// when there are fewer than k.
func KOut(k int) Algorithm {
	return func(g Graph, r *core.Random) {
		n := g.Size()
		for i := 0; i < n; i++ {
			if n-1 <= k {
				for j := 0; j < n; j++ {
					if j != i {
						g.SetEdge(i, j)
					}
				}
				continue
			}
			// partial Fisher-Yates over the other nodes
			others := make([]int, 0, n-1)
			for j := 0; j < n; j++ {
				if j != i {
					others = append(others, j)
				}
			}
			for c := 0; c < k; c++ {
				pick := c + r.Intn(len(others)-c)
				others[c], others[pick] = others[pick], others[c]
				g.SetEdge(i, others[c])
			}
		}
	}
}

// Star links every node to node 0.
func Star() Algorithm {
	return func(g Graph, r *core.Random) {
		for i := 1; i < g.Size(); i++ {
			g.SetEdge(i, 0)
		}
	}
}

// Ring links every node to the next k nodes, wrapping around.
func Ring(k int) Algorithm {
	return func(g Graph, r *core.Random) {
		n := g.Size()
		for i := 0; i < n; i++ {
			for d := 1; d <= k && d < n; d++ {
				g.SetEdge(i, (i+d)%n)
			}
		}
	}
}

// ParseAlgorithm reads the algorithm declared at prefix: its name ("kout",
// "star" or "ring") and its prefix.k parameter.
func ParseAlgorithm(src config.Source, prefix string) (Algorithm, string, error) {
	name, err := config.Class(src, prefix)
	if err != nil {
		return nil, "", err
	}
	alg, err := NewAlgorithm(name, src.IntOr(prefix+".k", 1))
	return alg, name, err
}

// NewAlgorithm returns the algorithm called name.
func NewAlgorithm(name string, k int) (Algorithm, error) {
	switch name {
	case "kout", "random":
		if k < 0 {
			return nil, fmt.Errorf("negative degree %d", k)
		}
		return KOut(k), nil
	case "star":
		return Star(), nil
	case "ring":
		return Ring(k), nil
	default:
		return nil, fmt.Errorf("unknown wiring algorithm %q", name)
	}
}

// Wire is the Wirer running an Algorithm. As a core.Control it rewires the
// overlay of its protocol each time it runs.
type Wire struct {
	algo   Algorithm
	random *core.Random
	logger *logrus.Entry

	g Graph

	network    *core.Network
	pid        int
	undirected bool
}

// NewWire returns a Wire with no graph. SetGraph or WithOverlay must be called
// before Execute.
func NewWire(algo Algorithm, random *core.Random, logger *logrus.Entry) *Wire {
	return &Wire{
		algo:   algo,
		random: random,
		logger: logger,
		pid:    -1,
	}
}

// WithOverlay makes the Wire act on the Linkable protocol pid of network when
// no graph was set.
func (w *Wire) WithOverlay(network *core.Network, pid int, undirected bool) *Wire {
	w.network = network
	w.pid = pid
	w.undirected = undirected
	return w
}

// SetGraph implements Wirer.
func (w *Wire) SetGraph(g Graph) {
	w.g = g
}

// Execute implements Wirer and core.Control. It never stops the experiment.
func (w *Wire) Execute() bool {
	g := w.g
	if g == nil {
		if w.network == nil || w.pid < 0 {
			w.logger.Error("Wire has neither a graph nor a protocol")
			return false
		}
		og, err := NewOverlayGraph(w.network, w.pid, w.undirected)
		if err != nil {
			w.logger.WithField("error", err).Error("Wire")
			return false
		}
		g = og
	}

	if g.Size() == 0 {
		return false
	}

	w.algo(g, w.random)
	return false
}
