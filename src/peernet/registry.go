package peernet

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mosaicnetworks/peernet/src/config"
	"github.com/mosaicnetworks/peernet/src/core"
)

// ProtocolBuilder reads the protocol declared at prefix and returns the
// factory building its per-node instances.
type ProtocolBuilder func(b *Builder, prefix string) (core.ProtocolFactory, error)

// TransportBuilder reads the transport declared at prefix and returns the
// factory building its per-node instances.
type TransportBuilder func(b *Builder, prefix string) (core.TransportFactory, error)

// ControlBuilder reads the control or initializer declared at prefix.
type ControlBuilder func(b *Builder, prefix string) (core.Control, error)

// NodeInitializerBuilder reads the node initializer declared at prefix.
type NodeInitializerBuilder func(b *Builder, prefix string) (core.NodeInitializer, error)

// Registry maps the class names used in experiment files to constructors.
// Names are resolved once, when the experiment is built.
type Registry struct {
	sync.RWMutex
	protocols    map[string]ProtocolBuilder
	transports   map[string]TransportBuilder
	controls     map[string]ControlBuilder
	initializers map[string]NodeInitializerBuilder
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		protocols:    make(map[string]ProtocolBuilder),
		transports:   make(map[string]TransportBuilder),
		controls:     make(map[string]ControlBuilder),
		initializers: make(map[string]NodeInitializerBuilder),
	}
}

// DefaultRegistry returns a Registry holding every built-in component.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterProtocol("idle", buildIdle)

	r.RegisterTransport("uniform", buildUniform)
	r.RegisterTransport("matrix", buildMatrix)
	r.RegisterTransport("udp", buildUDP)

	r.RegisterControl("wire", buildWire)
	r.RegisterControl("bootstrap", buildBootstrap)
	r.RegisterControl("churn", buildChurn)
	r.RegisterControl("degree", buildDegreeObserver)

	r.RegisterNodeInitializer("randni", buildRandomInit)
	r.RegisterNodeInitializer("starni", buildStarInit)

	return r
}

// RegisterProtocol ...
func (r *Registry) RegisterProtocol(class string, b ProtocolBuilder) {
	r.Lock()
	defer r.Unlock()
	r.protocols[class] = b
}

// RegisterTransport ...
func (r *Registry) RegisterTransport(class string, b TransportBuilder) {
	r.Lock()
	defer r.Unlock()
	r.transports[class] = b
}

// RegisterControl registers a component usable both as a control and as an
// initializer.
func (r *Registry) RegisterControl(class string, b ControlBuilder) {
	r.Lock()
	defer r.Unlock()
	r.controls[class] = b
}

// RegisterNodeInitializer ...
func (r *Registry) RegisterNodeInitializer(class string, b NodeInitializerBuilder) {
	r.Lock()
	defer r.Unlock()
	r.initializers[class] = b
}

// UnknownClassError is returned for a class name nothing was registered
// under.
type UnknownClassError struct {
	Kind  string
	Class string
	Key   string
}

// Error ...
func (e UnknownClassError) Error() string {
	return fmt.Sprintf("%s: unknown %s class %q", e.Key, e.Kind, e.Class)
}

// IsUnknownClass ...
func IsUnknownClass(err error) bool {
	_, ok := err.(UnknownClassError)
	return ok
}

func (r *Registry) protocol(src config.Source, prefix string) (ProtocolBuilder, error) {
	class, err := config.Class(src, prefix)
	if err != nil {
		return nil, err
	}
	r.RLock()
	defer r.RUnlock()
	b, ok := r.protocols[class]
	if !ok {
		return nil, UnknownClassError{"protocol", class, prefix}
	}
	return b, nil
}

func (r *Registry) transport(src config.Source, prefix string) (TransportBuilder, error) {
	class, err := config.Class(src, prefix)
	if err != nil {
		return nil, err
	}
	r.RLock()
	defer r.RUnlock()
	b, ok := r.transports[class]
	if !ok {
		return nil, UnknownClassError{"transport", class, prefix}
	}
	return b, nil
}

func (r *Registry) control(src config.Source, prefix string) (ControlBuilder, error) {
	class, err := config.Class(src, prefix)
	if err != nil {
		return nil, err
	}
	r.RLock()
	defer r.RUnlock()
	b, ok := r.controls[class]
	if !ok {
		return nil, UnknownClassError{"control", class, prefix}
	}
	return b, nil
}

func (r *Registry) initializer(src config.Source, prefix string) (NodeInitializerBuilder, error) {
	class, err := config.Class(src, prefix)
	if err != nil {
		return nil, err
	}
	r.RLock()
	defer r.RUnlock()
	b, ok := r.initializers[class]
	if !ok {
		return nil, UnknownClassError{"node initializer", class, prefix}
	}
	return b, nil
}

// Classes lists the registered class names of every kind.
func (r *Registry) Classes() map[string][]string {
	r.RLock()
	defer r.RUnlock()

	res := make(map[string][]string)
	for k := range r.protocols {
		res["protocol"] = append(res["protocol"], k)
	}
	for k := range r.transports {
		res["transport"] = append(res["transport"], k)
	}
	for k := range r.controls {
		res["control"] = append(res["control"], k)
	}
	for k := range r.initializers {
		res["nodeinitializer"] = append(res["nodeinitializer"], k)
	}
	for _, v := range res {
		sort.Strings(v)
	}
	return res
}
