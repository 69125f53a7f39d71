package engine

import (
	"github.com/mosaicnetworks/peernet/src/core"
	"github.com/sirupsen/logrus"
)

// Networked is a Threaded engine whose nodes also talk over real sockets. One
// goroutine per listening transport per node injects received packets at the
// current time. The experiment never ends for lack of events: only end-time
// or an interrupting control stop it.
type Networked struct {
	*Threaded
}

// NewNetworked creates a Networked engine and installs it as the scheduler of
// ctx.
func NewNetworked(ctx *core.Context, conf Config) (*Networked, error) {
	t, err := newThreaded(ctx, conf, "networked", false)
	if err != nil {
		return nil, err
	}
	e := &Networked{Threaded: t}
	t.onNodeStart = e.listen
	return e, nil
}

// listen starts one receive loop per listening transport of node.
func (e *Networked) listen(node *core.Node) {
	for i := 0; i < node.TransportCount(); i++ {
		l, ok := node.TransportAt(i).(core.Listener)
		if !ok {
			continue
		}
		e.track(l)
		e.listeners.Add(1)
		go e.receiveLoop(node, l)
	}
}

func (e *Networked) receiveLoop(node *core.Node, l core.Listener) {
	defer e.listeners.Done()

	logger := e.logger.WithField("node", node.ID())

	for {
		src, pid, payload, err := l.Receive()

		if e.stopped() {
			return
		}
		if node.FailState() == core.Dead {
			logger.Debug("Node dead, closing transport")
			l.Close()
			return
		}

		if err != nil {
			logger.WithFields(logrus.Fields{
				"src":   src,
				"error": err,
			}).Error("Receive")
			if isShutdown(l) {
				return
			}
			continue
		}

		e.Add(0, src, node, pid, payload)
	}
}

type shutdowner interface {
	IsShutdown() bool
}

func isShutdown(l core.Listener) bool {
	s, ok := l.(shutdowner)
	return ok && s.IsShutdown()
}
