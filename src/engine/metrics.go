package engine

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event kinds, as reported in metrics.
const (
	kindControl = "control"
	kindCycle   = "cycle"
	kindMessage = "message"
)

// Reasons for dropping an event.
const (
	dropNegativeDelay = "negative_delay"
	dropPastEnd       = "past_endtime"
	dropNodeDown      = "node_down"
	dropNodeDead      = "node_dead"
	dropOverflow      = "overflow"
	dropIntercepted   = "intercept_error"
)

// Metrics exposes engine activity to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	EventsDispatched *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	EventsPending    prometheus.Gauge
	Nodes            prometheus.Gauge
	ControlDuration  prometheus.Histogram
}

// NewMetrics registers engine metrics against the provided registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peernet_events_dispatched_total",
		Help: "Events dispatched by the engine, by kind.",
	}, []string{"kind"})
	dispatched, err := registerCounterVec(reg, dispatched, "peernet_events_dispatched_total")
	if err != nil {
		return nil, err
	}

	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peernet_events_dropped_total",
		Help: "Events dropped by the engine, by reason.",
	}, []string{"reason"})
	dropped, err = registerCounterVec(reg, dropped, "peernet_events_dropped_total")
	if err != nil {
		return nil, err
	}

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "peernet_events_pending",
		Help: "Events waiting in the engine heaps.",
	})
	pending, err = registerGauge(reg, pending, "peernet_events_pending")
	if err != nil {
		return nil, err
	}

	nodes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "peernet_nodes",
		Help: "Nodes in the network.",
	})
	nodes, err = registerGauge(reg, nodes, "peernet_nodes")
	if err != nil {
		return nil, err
	}

	controlDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "peernet_control_duration_seconds",
		Help:    "Wall-clock duration of control executions.",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
	})
	controlDuration, err = registerHistogram(reg, controlDuration, "peernet_control_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:         gatherer,
		EventsDispatched: dispatched,
		EventsDropped:    dropped,
		EventsPending:    pending,
		Nodes:            nodes,
		ControlDuration:  controlDuration,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the metrics.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.gatherer
}

func (m *Metrics) dispatched(kind string) {
	if m == nil {
		return
	}
	m.EventsDispatched.WithLabelValues(kind).Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) setPending(n int64) {
	if m == nil {
		return
	}
	m.EventsPending.Set(float64(n))
}

func (m *Metrics) setNodes(n int) {
	if m == nil {
		return
	}
	m.Nodes.Set(float64(n))
}

func (m *Metrics) observeControl(d time.Duration) {
	if m == nil {
		return
	}
	m.ControlDuration.Observe(d.Seconds())
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
