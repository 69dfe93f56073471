// Package health runs named subsystem checks for the readiness endpoint.
package health

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// DefaultTimeout bounds each check.
const DefaultTimeout = 2 * time.Second

// Status is the health of one subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker reports on one subsystem. It should honour ctx.
type Checker func(ctx context.Context) Status

// Registry holds named checkers and runs them concurrently.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// Register adds a named checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every checker and reports whether all are healthy.
// Statuses come back in registration order; a checker that overruns its
// timeout is reported unhealthy.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	timeout := r.timeout
	r.mu.RUnlock()

	statuses = make([]Status, len(checkers))
	var wg sync.WaitGroup
	for i, nc := range checkers {
		wg.Add(1)
		go func(i int, nc namedChecker) {
			defer wg.Done()
			statuses[i] = runCheck(ctx, nc, timeout)
		}(i, nc)
	}
	wg.Wait()

	healthy = true
	for _, s := range statuses {
		if !s.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

func runCheck(ctx context.Context, nc namedChecker, timeout time.Duration) Status {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan Status, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				result <- Status{Name: nc.name, Healthy: false, Detail: "check panicked"}
			}
		}()
		s := nc.check(ctx)
		if s.Name == "" {
			s.Name = nc.name
		}
		result <- s
	}()

	select {
	case s := <-result:
		return s
	case <-ctx.Done():
		return Status{Name: nc.name, Healthy: false, Detail: "check timed out"}
	}
}

// Database checks a SQL connection with a ping.
func Database(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return Status{Name: "database", Healthy: true}
	}
}

// Running adapts a background loop's liveness flag.
func Running(name string, running func() bool) Checker {
	return func(context.Context) Status {
		if !running() {
			return Status{Name: name, Healthy: false, Detail: "not running"}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Informational always reports healthy with detail from fn. It surfaces
// state such as demo mode or an open circuit without failing readiness,
// since screening is fail-open.
func Informational(name string, fn func() string) Checker {
	return func(context.Context) Status {
		return Status{Name: name, Healthy: true, Detail: fn()}
	}
}
