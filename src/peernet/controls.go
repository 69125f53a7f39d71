package peernet

import (
	"sync"

	"github.com/mosaicnetworks/peernet/src/common"
	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/sirupsen/logrus"
)

// Churn adds or removes nodes each time it runs. Added nodes are built from
// the Template and prepared by Inits; removed nodes are picked at random and
// killed.
type Churn struct {
	Add     int
	MinSize int
	MaxSize int
	Inits   []core.NodeInitializer

	b      *Builder
	logger *logrus.Entry
}

// Execute implements core.Control.
func (c *Churn) Execute() bool {
	network := c.b.Ctx.Network
	size := network.Size()

	switch {
	case c.Add > 0:
		n := c.Add
		if room := c.MaxSize - size; n > room {
			n = room
		}
		e := c.b.Engine()
		for i := 0; i < n; i++ {
			if _, err := e.AddNode(c.Inits...); err != nil {
				c.logger.WithField("error", err).Error("Adding node")
				return false
			}
		}
		if n > 0 {
			c.logger.WithFields(logrus.Fields{
				"added": n,
				"size":  network.Size(),
			}).Debug("Churn")
		}

	case c.Add < 0:
		n := -c.Add
		if spare := size - c.MinSize; n > spare {
			n = spare
		}
		for i := 0; i < n; i++ {
			network.RemoveAt(c.b.Ctx.Random.Intn(network.Size()))
		}
		if n > 0 {
			c.logger.WithFields(logrus.Fields{
				"removed": n,
				"size":    network.Size(),
			}).Debug("Churn")
		}
	}

	return false
}

// DegreeStats summarizes the out-degrees of an overlay.
type DegreeStats struct {
	Nodes  int
	Min    int
	Max    int
	Mean   float64
	Median float64
	Time   int64
}

// DegreeObserver logs the degree distribution of a Linkable protocol.
type DegreeObserver struct {
	ctx    *core.Context
	pid    int
	logger *logrus.Entry

	mu   sync.Mutex
	last DegreeStats
}

// Execute implements core.Control.
func (o *DegreeObserver) Execute() bool {
	st := DegreeStats{Time: o.ctx.Now()}

	degrees := []int{}
	total := 0
	for _, n := range o.ctx.Network.Nodes() {
		l, ok := n.Protocol(o.pid).(core.Linkable)
		if !ok {
			continue
		}
		d := l.Degree()
		if st.Nodes == 0 || d < st.Min {
			st.Min = d
		}
		if d > st.Max {
			st.Max = d
		}
		total += d
		degrees = append(degrees, d)
		st.Nodes++
	}
	if st.Nodes > 0 {
		st.Mean = float64(total) / float64(st.Nodes)
	}
	st.Median = common.Median(degrees)

	o.mu.Lock()
	o.last = st
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"time":   st.Time,
		"nodes":  st.Nodes,
		"min":    st.Min,
		"max":    st.Max,
		"mean":   st.Mean,
		"median": st.Median,
	}).Info("Degree")

	return false
}

// Last returns the statistics of the latest run.
func (o *DegreeObserver) Last() DegreeStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}
