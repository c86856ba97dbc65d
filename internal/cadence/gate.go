// Package cadence turns a stream of per-session commit counts into periodic
// triggers.
//
// A Gate holds named counters that all observe the same commits. A counter
// is due once it reaches its period; firing it subtracts the period and
// keeps the remainder, so a session that produces more commits than the
// period still triggers only once and the excess counts toward the next
// trigger.
package cadence

import (
	"fmt"
	"sort"
)

type counter struct {
	every int
	count int
	fired int
}

// Gate is a set of independent commit counters. It is not safe for
// concurrent use.
type Gate struct {
	counters map[string]*counter
}

// New returns an empty Gate.
func New() *Gate {
	return &Gate{counters: make(map[string]*counter)}
}

// Add registers a counter that becomes due every `every` commits.
func (g *Gate) Add(name string, every int) error {
	if every <= 0 {
		return fmt.Errorf("cadence %q: period must be positive, got %d", name, every)
	}
	if _, ok := g.counters[name]; ok {
		return fmt.Errorf("cadence %q already registered", name)
	}
	g.counters[name] = &counter{every: every}
	return nil
}

// Record adds commits to every counter. Non-positive values are ignored.
func (g *Gate) Record(commits int) {
	if commits <= 0 {
		return
	}
	for _, c := range g.counters {
		c.count += commits
	}
}

// Due reports whether the named counter reached its period.
func (g *Gate) Due(name string) bool {
	c, ok := g.counters[name]
	return ok && c.count >= c.every
}

// Fire consumes one period from the named counter. It reports false and
// leaves the counter alone when the counter is not due.
func (g *Gate) Fire(name string) bool {
	if !g.Due(name) {
		return false
	}
	c := g.counters[name]
	c.count -= c.every
	c.fired++
	return true
}

// Count returns the commits accumulated since the counter last fired.
func (g *Gate) Count(name string) int {
	if c, ok := g.counters[name]; ok {
		return c.count
	}
	return 0
}

// Fired returns how many times the counter has fired.
func (g *Gate) Fired(name string) int {
	if c, ok := g.counters[name]; ok {
		return c.fired
	}
	return 0
}

// Names returns the registered counter names in sorted order.
func (g *Gate) Names() []string {
	names := make([]string, 0, len(g.counters))
	for n := range g.counters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
