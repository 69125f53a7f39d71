package core

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Context is the shared state of one experiment. Every component that needs
// the network, the clock, or randomness receives it explicitly.
type Context struct {
	Network  *Network
	Template *Template
	Random   *Random
	logger   *logrus.Entry

	lastID int64

	mu           sync.RWMutex
	scheduler    Scheduler
	interceptors []Interceptor
}

// NewContext creates an empty Context whose randomness derives from seed.
func NewContext(seed int64, logger *logrus.Entry) *Context {
	if logger == nil {
		l := logrus.New()
		l.Level = logrus.InfoLevel
		logger = logrus.NewEntry(l)
	}
	return &Context{
		Network:  NewNetwork(0),
		Template: &Template{},
		Random:   NewRandom(seed),
		logger:   logger,
		lastID:   -1,
	}
}

// Logger returns the experiment logger.
func (c *Context) Logger() *logrus.Entry {
	return c.logger
}

// NextID returns a fresh node identifier.
func (c *Context) NextID() int64 {
	return atomic.AddInt64(&c.lastID, 1)
}

// SetScheduler installs the engine driving the experiment.
func (c *Context) SetScheduler(s Scheduler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduler = s
}

// Scheduler returns the engine driving the experiment.
func (c *Context) Scheduler() Scheduler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scheduler
}

// Now is shorthand for Scheduler().Now(). It returns 0 before an engine is
// installed.
func (c *Context) Now() int64 {
	s := c.Scheduler()
	if s == nil {
		return 0
	}
	return s.Now()
}

// AddInterceptor registers i. Interceptors see events before protocols do,
// in registration order.
func (c *Context) AddInterceptor(i Interceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interceptors = append(c.interceptors, i)
}

// Interceptors returns the registered interceptors.
func (c *Context) Interceptors() []Interceptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interceptors
}

// NewNode builds a node from the Template without adding it to the Network.
func (c *Context) NewNode() (*Node, error) {
	return c.Template.Build(c)
}

// Populate discards the current nodes and builds size new ones.
func (c *Context) Populate(size int) error {
	c.Network.Reset()
	for i := 0; i < size; i++ {
		n, err := c.NewNode()
		if err != nil {
			return err
		}
		c.Network.Add(n)
	}
	c.logger.WithField("size", size).Debug("Network populated")
	return nil
}
