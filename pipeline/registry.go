package pipeline

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Catalog maps unit names to units. Stage tables refer to units by these
// names (stages.<LETTER>.unit). Safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	units map[string]Unit
}

// NewCatalog returns an empty unit catalog.
func NewCatalog() *Catalog {
	return &Catalog{units: make(map[string]Unit)}
}

// Register adds a unit under the given name. Overwrites any existing registration.
func (c *Catalog) Register(name string, unit Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.units == nil {
		c.units = make(map[string]Unit)
	}
	c.units[name] = unit
}

// Get returns the unit for name, or nil and false if not found.
func (c *Catalog) Get(name string) (Unit, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.units[name]
	return u, ok
}

// MustGet returns the unit for name, or panics if not found.
func (c *Catalog) MustGet(name string) Unit {
	u, ok := c.Get(name)
	if !ok {
		panic(fmt.Sprintf("pipeline: unit %q not registered", name))
	}
	return u
}

// Names returns all registered unit names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.units))
	for n := range c.units {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Entry is how one module is invoked.
type Entry struct {
	Module     ModuleID
	Strategies []Strategy
	// Timeout bounds each attempt; zero means no per-stage limit.
	Timeout time.Duration
}

// Invoker returns the entry's strategy chain.
func (e Entry) Invoker() Invoker { return Invoker{Strategies: e.Strategies} }

// Registry maps module IDs to their invocation entries. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[ModuleID]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[ModuleID]Entry)}
}

// Register sets the entry for e.Module, replacing any previous one.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[ModuleID]Entry)
	}
	r.entries[e.Module] = e
}

// RegisterUnit registers unit as the only strategy for m.
func (r *Registry) RegisterUnit(m ModuleID, unit Unit) {
	r.Register(Entry{Module: m, Strategies: []Strategy{InProcess{Label: m.Name(), Unit: unit}}})
}

// Get returns the entry for m.
func (r *Registry) Get(m ModuleID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[m]
	return e, ok
}

// Modules returns the registered modules in AllModules order.
func (r *Registry) Modules() []ModuleID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ModuleID
	for _, m := range AllModules {
		if _, ok := r.entries[m]; ok {
			out = append(out, m)
		}
	}
	return out
}
