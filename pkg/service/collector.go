// Package service carries the operational surface of the benchmark
// servers: a metrics collector, a periodic metrics reporter and an HTTP
// health endpoint.
package service

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/irctrakz/netbench/pkg/core"
)

// StatusSource reports the state of the network stack.
type StatusSource interface {
	Status() core.Status
}

// MetricsFunc returns the current counters of one component.
type MetricsFunc func() map[string]uint64

// Snapshot is one point-in-time view of all registered counters.
type Snapshot struct {
	Timestamp  string                       `json:"ts"`
	Status     string                       `json:"status"`
	Components map[string]map[string]uint64 `json:"components"`
	RT         map[string]uint64            `json:"rt"`
}

type source struct {
	name string
	fn   MetricsFunc
}

// Collector gathers counters from registered components.
type Collector struct {
	status StatusSource

	mu      sync.Mutex
	sources []source
}

// NewCollector creates a collector reporting the status of status.
func NewCollector(status StatusSource) *Collector {
	return &Collector{status: status}
}

// Register adds a named component. Registering a name again replaces it.
func (c *Collector) Register(name string, fn MetricsFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.sources {
		if c.sources[i].name == name {
			c.sources[i].fn = fn
			return
		}
	}
	c.sources = append(c.sources, source{name: name, fn: fn})
	sort.Slice(c.sources, func(i, j int) bool { return c.sources[i].name < c.sources[j].name })
}

// Names returns the registered component names in order.
func (c *Collector) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sources))
	for i, s := range c.sources {
		out[i] = s.name
	}
	return out
}

// Status returns the current stack status.
func (c *Collector) Status() core.Status {
	if c.status == nil {
		return core.StatusOther
	}
	return c.status.Status()
}

// Snapshot collects all counters now.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	sources := append([]source(nil), c.sources...)
	c.mu.Unlock()

	snap := Snapshot{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Status:     c.Status().String(),
		Components: make(map[string]map[string]uint64, len(sources)),
		RT:         runtimeStats(),
	}
	for _, s := range sources {
		snap.Components[s.name] = s.fn()
	}
	return snap
}

func runtimeStats() map[string]uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return map[string]uint64{
		"heap_alloc": ms.HeapAlloc,
		"heap_inuse": ms.HeapInuse,
		"sys":        ms.Sys,
		"num_gc":     uint64(ms.NumGC),
		"goroutines": uint64(runtime.NumGoroutine()),
	}
}
