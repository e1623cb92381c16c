// Package health aggregates readiness checks for the scoring service's
// dependencies: loaded model artifacts, the history store backend and the
// audit database.
package health

import (
	"context"
	"sync"
)

// Status is the outcome of one subsystem check.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a single subsystem. Checkers must be fast; they run
// inline on every health request.
type Checker func(ctx context.Context) Status

// Registry runs a fixed set of named checkers on demand. Registration
// happens during server construction; checks may run concurrently with
// late registrations.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name  string
	check Checker
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a checker under a stable name. Names appear verbatim in
// the /health response.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every registered checker in registration order. The
// aggregate is healthy only when every subsystem is.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, 0, len(checkers))

	for _, nc := range checkers {
		st := nc.check(ctx)
		statuses = append(statuses, st)
		if !st.Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}
