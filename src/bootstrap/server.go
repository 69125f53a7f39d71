package bootstrap

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mosaicnetworks/peernet/src/config"
	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/mosaicnetworks/peernet/src/graph"
	"github.com/mosaicnetworks/peernet/src/transport"
	"github.com/sirupsen/logrus"
)

// DefaultResendInterval is the interval between two rounds of Responses.
const DefaultResendInterval = 10 * time.Second

// ConfigPrefix is the prefix of coordinator run settings:
//
//	coordinator.<name>.nodes    number of nodes to wait for
//	coordinator.<name>.timeout  milliseconds from the first registration, -1 for none
//	coordinator.<name>.init     wiring algorithm, with its own parameters
const ConfigPrefix = "coordinator"

// WirerFactory builds the Wirer of a run from the settings under prefix.
type WirerFactory func(src config.Source, prefix string, random *core.Random, logger *logrus.Entry) (graph.Wirer, error)

// DefaultWirerFactory builds a graph.Wire running the algorithm declared at
// prefix.
func DefaultWirerFactory(src config.Source, prefix string, random *core.Random, logger *logrus.Entry) (graph.Wirer, error) {
	algo, _, err := graph.ParseAlgorithm(src, prefix)
	if err != nil {
		return nil, err
	}
	return graph.NewWire(algo, random, logger), nil
}

// Server is the coordinator. It serves any number of named runs over one UDP
// socket, creating each run when its first Request arrives.
type Server struct {
	trans    *transport.UDP
	src      config.Source
	store    IDStore
	resend   time.Duration
	random   *core.Random
	newWirer WirerFactory
	logger   *logrus.Entry

	// protects runs and everything inside them
	mu   sync.Mutex
	runs map[string]*run

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// registrant is a node known to a run, by the address it sends from.
type registrant struct {
	handle Handle
	index  int
}

// run is one named bootstrap.
type run struct {
	name    string
	nodes   int
	timeout time.Duration
	wirer   graph.Wirer
	pid     int

	graph       *graph.NeighborListGraph
	registrants []registrant
	byAddress   map[transport.NetAddress]int

	completed  bool
	timer      *time.Timer
	responses  map[transport.NetAddress]Message
	uninformed map[transport.NetAddress]struct{}
	acks       int

	logger *logrus.Entry
}

// NewServer returns a Server answering on trans. Run settings are read from
// src; IDs come from store. A resend of 0 means DefaultResendInterval.
func NewServer(trans *transport.UDP,
	src config.Source,
	store IDStore,
	resend time.Duration,
	seed int64,
	logger *logrus.Entry) *Server {

	if resend <= 0 {
		resend = DefaultResendInterval
	}
	if store == nil {
		store = NewInmemIDStore()
	}
	if logger == nil {
		l := logrus.New()
		l.Level = logrus.DebugLevel
		logger = logrus.NewEntry(l)
	}

	return &Server{
		trans:      trans,
		src:        src,
		store:      store,
		resend:     resend,
		random:     core.NewRandom(seed),
		newWirer:   DefaultWirerFactory,
		logger:     logger.WithField("coordinator", trans.Addr().String()),
		runs:       make(map[string]*run),
		shutdownCh: make(chan struct{}),
	}
}

// SetWirerFactory replaces the way run wirers are built. It must be called
// before Serve.
func (s *Server) SetWirerFactory(f WirerFactory) {
	s.newWirer = f
}

// Addr returns the address clients must send to.
func (s *Server) Addr() transport.NetAddress {
	return s.trans.Addr()
}

// Serve receives and processes messages until Close is called.
func (s *Server) Serve() {
	s.logger.Info("Coordinator listening")

	for {
		src, pid, payload, err := s.trans.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrTransportShutdown) || s.isShutdown() {
				return
			}
			s.logger.WithFields(logrus.Fields{
				"src":   src,
				"error": err,
			}).Error("Receive")
			continue
		}

		msg, ok := asMessage(payload)
		if !ok {
			s.logger.WithField("src", src).Warn("Not a bootstrap message")
			continue
		}

		addr, ok := src.(transport.NetAddress)
		if !ok {
			continue
		}

		if err := s.process(addr, pid, msg); err != nil {
			s.logger.WithFields(logrus.Fields{
				"src":   addr,
				"type":  msg.Type,
				"error": err,
			}).Error("Process")
		}
	}
}

// Close stops Serve and the response senders, and closes the socket. The
// IDStore is left open.
func (s *Server) Close() error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)

		s.mu.Lock()
		for _, r := range s.runs {
			if r.timer != nil {
				r.timer.Stop()
			}
		}
		s.mu.Unlock()

		err = s.trans.Close()
	})
	s.wg.Wait()
	return err
}

func (s *Server) isShutdown() bool {
	select {
	case <-s.shutdownCh:
		return true
	default:
		return false
	}
}

func (s *Server) process(src transport.NetAddress, pid int, msg Message) error {
	switch msg.Type {
	case Request:
		return s.register(src, pid, msg)
	case ResponseAck:
		s.acknowledge(src, msg)
		return nil
	default:
		return &UnknownMessageError{Type: msg.Type}
	}
}

// register records the sender of a Request and acknowledges it with its ID.
func (s *Server) register(src transport.NetAddress, pid int, msg Message) error {
	s.mu.Lock()

	r, err := s.runFor(msg.Coordinator)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	if r.pid < 0 {
		r.pid = pid
	} else if r.pid != pid {
		s.mu.Unlock()
		return fmt.Errorf("run %q serves protocol %d, not %d", r.name, r.pid, pid)
	}

	id, err := s.store.Assign(src.String())
	if err != nil {
		s.mu.Unlock()
		return err
	}

	_, known := r.byAddress[src]
	switch {
	case known:
		r.logger.WithField("src", src).Debug("Duplicate request")
	case r.completed:
		r.logger.WithFields(logrus.Fields{
			"src": src,
			"id":  id,
		}).Warn("Registration after completion, node left unwired")
	default:
		s.addRegistrant(r, src, id, msg.Self)
	}

	s.mu.Unlock()

	return s.trans.SendTo(src, pid, Message{
		Type:        RequestAck,
		Coordinator: r.name,
		NodeID:      id,
	})
}

// addRegistrant records src under id. The address comes from the datagram;
// only the descriptor payload of self is kept.
func (s *Server) addRegistrant(r *run, src transport.NetAddress, id int64, self Handle) {
	idx := r.graph.AddNode()
	r.registrants = append(r.registrants, registrant{
		handle: Handle{
			Host: src.Host,
			Port: src.Port,
			ID:   id,
			Kind: self.Kind,
			Body: self.Body,
		},
		index:  idx,
	})
	r.byAddress[src] = idx

	r.logger.WithFields(logrus.Fields{
		"src":        src,
		"id":         id,
		"registered": len(r.registrants),
	}).Debug("Node registered")

	if len(r.registrants) == 1 && r.timeout >= 0 {
		r.timer = time.AfterFunc(r.timeout, func() { s.expire(r) })
	}

	if r.nodes > 0 && len(r.registrants) >= r.nodes {
		r.logger.WithField("nodes", r.nodes).Info("All nodes registered")
		s.complete(r)
	}
}

func (s *Server) expire(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.completed || s.isShutdown() {
		return
	}
	r.logger.WithField("registered", len(r.registrants)).Info("Timeout expired")
	s.complete(r)
}

// complete wires the registrants and starts sending them Responses. It is
// called with s.mu held.
func (s *Server) complete(r *run) {
	r.completed = true
	if r.timer != nil {
		r.timer.Stop()
	}

	r.wirer.SetGraph(r.graph)
	r.wirer.Execute()

	for _, reg := range r.registrants {
		neighbors := []Handle{}
		for _, n := range r.graph.Neighbors(reg.index) {
			neighbors = append(neighbors, r.registrants[n].handle)
		}
		addr := reg.handle.Address()
		r.responses[addr] = Message{
			Type:        Response,
			Coordinator: r.name,
			NodeID:      reg.handle.ID,
			Neighbors:   neighbors,
		}
		r.uninformed[addr] = struct{}{}
	}

	s.wg.Add(1)
	go s.sendResponses(r)
}

// sendResponses resends the Response of every node that has not acknowledged
// it, once per resend interval, until all have.
func (s *Server) sendResponses(r *run) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.resend)
	defer ticker.Stop()

	for round := 1; ; round++ {
		s.mu.Lock()
		pending := make(map[transport.NetAddress]Message, len(r.uninformed))
		for addr := range r.uninformed {
			pending[addr] = r.responses[addr]
		}
		pid := r.pid
		s.mu.Unlock()

		if len(pending) == 0 {
			r.logger.WithField("rounds", round-1).Info("Every node informed")
			return
		}

		r.logger.WithFields(logrus.Fields{
			"round":     round,
			"responses": len(pending),
		}).Debug("Sending responses")

		for addr, msg := range pending {
			if err := s.trans.SendTo(addr, pid, msg); err != nil {
				r.logger.WithFields(logrus.Fields{
					"dest":  addr,
					"error": err,
				}).Error("Sending response")
			}
		}

		select {
		case <-s.shutdownCh:
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) acknowledge(src transport.NetAddress, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[msg.Coordinator]
	if !ok {
		return
	}
	if _, ok := r.uninformed[src]; !ok {
		return
	}
	delete(r.uninformed, src)
	r.acks++

	r.logger.WithFields(logrus.Fields{
		"src":  src,
		"acks": r.acks,
		"left": len(r.uninformed),
	}).Debug("Response acknowledged")
}

// runFor returns the run called name, creating it from the configuration. It
// is called with s.mu held.
func (s *Server) runFor(name string) (*run, error) {
	if r, ok := s.runs[name]; ok {
		return r, nil
	}

	prefix := ConfigPrefix + "." + name
	nodes := s.src.IntOr(prefix+".nodes", 0)
	timeout := s.src.Int64Or(prefix+".timeout", -1)
	if nodes <= 0 && timeout < 0 {
		return nil, fmt.Errorf("run %q needs %s.nodes or %s.timeout", name, prefix, prefix)
	}

	logger := s.logger.WithField("run", name)

	wirer, err := s.newWirer(s.src, prefix+".init", s.random, logger)
	if err != nil {
		return nil, fmt.Errorf("run %q: %v", name, err)
	}

	r := &run{
		name:       name,
		nodes:      nodes,
		timeout:    time.Duration(timeout) * time.Millisecond,
		wirer:      wirer,
		pid:        -1,
		graph:      graph.NewNeighborListGraph(0, true),
		byAddress:  make(map[transport.NetAddress]int),
		responses:  make(map[transport.NetAddress]Message),
		uninformed: make(map[transport.NetAddress]struct{}),
		logger:     logger,
	}
	s.runs[name] = r

	logger.WithFields(logrus.Fields{
		"nodes":   nodes,
		"timeout": timeout,
	}).Info("Run created")

	return r, nil
}

// RunStatus summarizes a run.
type RunStatus struct {
	Name       string
	Registered int
	Completed  bool
	Acks       int
	Uninformed int
}

// Status returns the state of the run called name.
func (s *Server) Status(name string) (RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[name]
	if !ok {
		return RunStatus{}, false
	}
	return RunStatus{
		Name:       r.name,
		Registered: len(r.registrants),
		Completed:  r.completed,
		Acks:       r.acks,
		Uninformed: len(r.uninformed),
	}, true
}

// GetStats returns counters about every run, for the HTTP service.
func (s *Server) GetStats() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]string{
		"runs":         strconv.Itoa(len(s.runs)),
		"assigned_ids": strconv.Itoa(s.store.Len()),
	}
	for name, r := range s.runs {
		stats[name+".registered"] = strconv.Itoa(len(r.registrants))
		stats[name+".completed"] = strconv.FormatBool(r.completed)
		stats[name+".acks"] = strconv.Itoa(r.acks)
	}
	return stats
}
