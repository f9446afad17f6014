// Package gate absorbs a single transient fetch failure when the user is
// already looking at good data.
package gate

import "sync"

// Gate counts consecutive failures for one source. The zero value is
// ready to use. Gate is not safe for concurrent use; see Set.
type Gate struct {
	failures int
}

func (g *Gate) RecordSuccess() { g.failures = 0 }

// ShouldSurfaceError records a failure and reports whether it should
// replace what is displayed. The first failure after prior data is
// suppressed; every other failure surfaces.
func (g *Gate) ShouldSurfaceError(hasPriorData bool) bool {
	g.failures++
	return !(hasPriorData && g.failures == 1)
}

func (g *Gate) Failures() int { return g.failures }

// Set holds one gate per source.
type Set struct {
	mu    sync.Mutex
	gates map[string]*Gate
}

func NewSet() *Set { return &Set{gates: make(map[string]*Gate)} }

func (s *Set) gate(id string) *Gate {
	g, ok := s.gates[id]
	if !ok {
		g = &Gate{}
		s.gates[id] = g
	}
	return g
}

func (s *Set) RecordSuccess(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate(id).RecordSuccess()
}

func (s *Set) ShouldSurfaceError(id string, hasPriorData bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate(id).ShouldSurfaceError(hasPriorData)
}

func (s *Set) Failures(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate(id).Failures()
}
