// Package peernet assembles experiments from their description: it resolves
// component class names through a Registry, builds the node Template,
// populates the Network and picks the engine matching the execution mode.
package peernet

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/peernet/src/config"
	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/mosaicnetworks/peernet/src/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Mode selects how an experiment is executed.
type Mode string

const (
	// ModeSim runs in virtual time on one goroutine.
	ModeSim Mode = "sim"
	// ModeEmu runs one goroutine per node, in wall-clock milliseconds.
	ModeEmu Mode = "emu"
	// ModeNet is ModeEmu with nodes receiving from real sockets.
	ModeNet Mode = "net"
)

// ParseMode ...
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeSim, ModeEmu, ModeNet:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q, expected sim, emu or net", s)
	}
}

// Experiment settings read from the Source.
const (
	keyMode     = "simulation.mode"
	keyEndTime  = "simulation.endtime"
	keyDuration = "simulation.duration"
	keyBits     = "simulation.timebits"
	keySeed     = "simulation.seed"
	keySize     = "network.size"

	listTransport = "transport"
	listProtocol  = "protocol"
	listInit      = "init"
	listControl   = "control"
)

// Options complete what the experiment file says.
type Options struct {
	// Mode is used when the file has no simulation.mode.
	Mode Mode

	// Registry resolves class names. Defaults to DefaultRegistry().
	Registry *Registry

	// Registerer receives the engine metrics. Defaults to a private registry.
	Registerer prometheus.Registerer

	Logger *logrus.Entry
}

// Experiment is one fully assembled run.
type Experiment struct {
	ID      string
	Mode    Mode
	Seed    int64
	Ctx     *core.Context
	Engine  engine.Engine
	Metrics *engine.Metrics

	logger *logrus.Entry

	mu       sync.Mutex
	started  time.Time
	finished time.Time
	closers  []func()
	closed   bool
}

// Builder is handed to component builders. It gives access to the experiment
// being assembled.
type Builder struct {
	Source   config.Source
	Ctx      *core.Context
	Mode     Mode
	Logger   *logrus.Entry
	registry *Registry
	exp      *Experiment
}

// ProtocolID resolves the protocol named at prefix.protocol.
func (b *Builder) ProtocolID(prefix string) (int, error) {
	name, err := b.Source.String(prefix + ".protocol")
	if err != nil {
		return -1, err
	}
	pid, ok := b.Ctx.Template.ProtocolID(name)
	if !ok {
		return -1, fmt.Errorf("%s.protocol: no protocol called %q", prefix, name)
	}
	return pid, nil
}

// Engine returns the engine of the experiment. It is nil while components are
// being built; controls may use it once they execute.
func (b *Builder) Engine() engine.Engine {
	return b.exp.Engine
}

// OnClose registers f to run when the experiment is closed.
func (b *Builder) OnClose(f func()) {
	b.exp.mu.Lock()
	defer b.exp.mu.Unlock()
	b.exp.closers = append(b.exp.closers, f)
}

// NewExperiment builds the experiment described by src.
func NewExperiment(src config.Source, opts Options) (*Experiment, error) {
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	if opts.Mode == "" {
		opts.Mode = ModeSim
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.Level = logrus.InfoLevel
		opts.Logger = logrus.NewEntry(l)
	}

	mode, err := ParseMode(src.StringOr(keyMode, string(opts.Mode)))
	if err != nil {
		return nil, err
	}

	exp := &Experiment{
		ID:   uuid.Must(uuid.NewV7()).String(),
		Mode: mode,
		Seed: src.Int64Or(keySeed, time.Now().UnixNano()),
	}
	exp.logger = opts.Logger.WithField("experiment", exp.ID)
	exp.Ctx = core.NewContext(exp.Seed, exp.logger)

	b := &Builder{
		Source:   src,
		Ctx:      exp.Ctx,
		Mode:     mode,
		Logger:   exp.logger,
		registry: opts.Registry,
		exp:      exp,
	}

	if err := b.buildTemplate(); err != nil {
		exp.Close()
		return nil, err
	}

	size, err := src.Int(keySize)
	if err != nil {
		exp.Close()
		return nil, err
	}
	if err := exp.Ctx.Populate(size); err != nil {
		exp.Close()
		return nil, err
	}

	conf, err := b.engineConfig()
	if err != nil {
		exp.Close()
		return nil, err
	}

	conf.Metrics, err = engine.NewMetrics(opts.Registerer)
	if err != nil {
		exp.Close()
		return nil, err
	}
	exp.Metrics = conf.Metrics

	switch mode {
	case ModeSim:
		exp.Engine, err = engine.NewSequential(exp.Ctx, conf)
	case ModeEmu:
		exp.Engine, err = engine.NewThreaded(exp.Ctx, conf)
	case ModeNet:
		exp.Engine, err = engine.NewNetworked(exp.Ctx, conf)
	}
	if err != nil {
		exp.Close()
		return nil, err
	}

	exp.logger.WithFields(logrus.Fields{
		"mode":      mode,
		"seed":      exp.Seed,
		"nodes":     size,
		"protocols": len(exp.Ctx.Template.Protocols),
		"inits":     len(conf.Initializers),
		"controls":  len(conf.Controls),
	}).Info("Experiment built")

	return exp, nil
}

// buildTemplate declares the transports, then the protocols of every node.
func (b *Builder) buildTemplate() error {
	t := b.Ctx.Template

	for _, prefix := range b.Source.Names(listTransport) {
		tb, err := b.registry.transport(b.Source, prefix)
		if err != nil {
			return err
		}
		f, err := tb(b, prefix)
		if err != nil {
			return fmt.Errorf("%s: %v", prefix, err)
		}
		t.Transports = append(t.Transports, core.TransportSpec{
			Name: config.Leaf(prefix),
			New:  f,
		})
	}

	for _, prefix := range b.Source.Names(listProtocol) {
		pb, err := b.registry.protocol(b.Source, prefix)
		if err != nil {
			return err
		}
		sched, err := core.ScheduleFromSource(b.Source, prefix)
		if err != nil {
			return err
		}
		f, err := pb(b, prefix)
		if err != nil {
			return fmt.Errorf("%s: %v", prefix, err)
		}
		t.Protocols = append(t.Protocols, core.ProtocolSpec{
			Name:      config.Leaf(prefix),
			New:       f,
			Transport: b.Source.StringOr(prefix+".transport", ""),
			Schedule:  sched,
		})
	}

	return t.Validate()
}

// engineConfig builds the initializers and controls. It runs after the
// network is populated, so that components can inspect it.
func (b *Builder) engineConfig() (engine.Config, error) {
	conf := engine.DefaultConfig()
	conf.EndTime = b.Source.Int64Or(keyEndTime, b.Source.Int64Or(keyDuration, 0))
	conf.TiebreakBits = b.Source.IntOr(keyBits, core.DefaultTiebreakBits)

	for _, prefix := range b.Source.Names(listInit) {
		c, err := b.buildControl(prefix)
		if err != nil {
			return conf, err
		}
		conf.Initializers = append(conf.Initializers, engine.NamedControl{
			Name:    config.Leaf(prefix),
			Control: c,
		})
	}

	for _, prefix := range b.Source.Names(listControl) {
		c, err := b.buildControl(prefix)
		if err != nil {
			return conf, err
		}
		sched, err := core.ScheduleFromSource(b.Source, prefix)
		if err != nil {
			return conf, err
		}
		if !sched.Active() && !sched.Fin {
			b.Logger.WithField("control", prefix).Warn("Control never scheduled")
		}
		conf.Controls = append(conf.Controls, engine.NamedControl{
			Name:     config.Leaf(prefix),
			Control:  c,
			Schedule: sched,
		})
	}

	return conf, nil
}

func (b *Builder) buildControl(prefix string) (core.Control, error) {
	cb, err := b.registry.control(b.Source, prefix)
	if err != nil {
		return nil, err
	}
	c, err := cb(b, prefix)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", prefix, err)
	}
	return c, nil
}

// buildNodeInitializers builds every node initializer declared under prefix.
func (b *Builder) buildNodeInitializers(prefix string) ([]core.NodeInitializer, error) {
	res := []core.NodeInitializer{}
	for _, p := range b.Source.Names(prefix) {
		ib, err := b.registry.initializer(b.Source, p)
		if err != nil {
			return nil, err
		}
		i, err := ib(b, p)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", p, err)
		}
		res = append(res, i)
	}
	return res, nil
}

// Run executes the experiment, then releases its resources.
func (e *Experiment) Run() error {
	e.mu.Lock()
	e.started = time.Now()
	e.mu.Unlock()

	err := e.Engine.Run()

	e.mu.Lock()
	e.finished = time.Now()
	e.mu.Unlock()

	e.Close()

	return err
}

// Close releases what components acquired: sockets, bootstrap clients...
// It is called by Run and is safe to call more than once.
func (e *Experiment) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	closers := e.closers
	e.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// GetStats returns a snapshot of the experiment, for the HTTP service.
func (e *Experiment) GetStats() map[string]string {
	e.mu.Lock()
	started, finished := e.started, e.finished
	e.mu.Unlock()

	stats := map[string]string{
		"id":    e.ID,
		"mode":  string(e.Mode),
		"seed":  strconv.FormatInt(e.Seed, 10),
		"nodes": strconv.Itoa(e.Ctx.Network.Size()),
		"state": "Init",
		"time":  "0",
	}
	if e.Engine != nil {
		stats["state"] = e.Engine.State().String()
		stats["time"] = strconv.FormatInt(e.Engine.Now(), 10)
	}
	if !started.IsZero() {
		end := finished
		if end.IsZero() {
			end = time.Now()
		}
		stats["elapsed"] = end.Sub(started).String()
	}
	return stats
}

// GetGatherer returns the gatherer of the experiment metrics.
func (e *Experiment) GetGatherer() prometheus.Gatherer {
	return e.Metrics.Gatherer()
}
