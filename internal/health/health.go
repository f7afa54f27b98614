// Package health tracks mount readiness and serves it over HTTP alongside
// the metrics endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// State represents the health of one component.
type State int

const (
	// StateHealthy indicates the component is fully operational.
	StateHealthy State = iota

	// StatePending indicates the component has not finished initializing.
	StatePending

	// StateUnavailable indicates the component is not operational.
	StateUnavailable
)

// String returns the string representation of a health state.
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StatePending:
		return "pending"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Check probes one component. A nil error means healthy; ErrPending means
// still initializing; any other error means unavailable.
type Check func(ctx context.Context) error

// ErrPending is returned by checks whose component has not resolved yet.
var ErrPending = pendingError{}

type pendingError struct{}

func (pendingError) Error() string { return "initialization pending" }

// ComponentStatus is one component's most recent check result.
type ComponentStatus struct {
	Name    string    `json:"name"`
	State   State     `json:"-"`
	Status  string    `json:"status"`
	Error   string    `json:"error,omitempty"`
	Checked time.Time `json:"checked"`
}

// Tracker runs registered checks on demand and reports the aggregate.
type Tracker struct {
	mu     sync.Mutex
	checks map[string]Check
	order  []string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{checks: make(map[string]Check)}
}

// Register adds a named component check. Registering the same name twice
// replaces the earlier check.
func (t *Tracker) Register(name string, check Check) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.checks[name]; !exists {
		t.order = append(t.order, name)
	}
	t.checks[name] = check
}

// Run executes every registered check and returns per-component results in
// registration order.
func (t *Tracker) Run(ctx context.Context) []ComponentStatus {
	t.mu.Lock()
	names := append([]string(nil), t.order...)
	checks := make([]Check, 0, len(names))
	for _, name := range names {
		checks = append(checks, t.checks[name])
	}
	t.mu.Unlock()

	out := make([]ComponentStatus, 0, len(names))
	for i, name := range names {
		state := StateHealthy
		errMsg := ""
		switch err := checks[i](ctx); {
		case err == nil:
		case err == ErrPending:
			state = StatePending
		default:
			state = StateUnavailable
			errMsg = err.Error()
		}
		out = append(out, ComponentStatus{
			Name:    name,
			State:   state,
			Status:  state.String(),
			Error:   errMsg,
			Checked: time.Now(),
		})
	}
	return out
}

// Aggregate collapses component results to the worst state present.
func Aggregate(components []ComponentStatus) State {
	worst := StateHealthy
	for _, c := range components {
		if c.State > worst {
			worst = c.State
		}
	}
	return worst
}

// Handler serves the tracker as a JSON health endpoint. Healthy reports
// 200, pending 503 with Retry-After, unavailable 503.
func (t *Tracker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		components := t.Run(r.Context())
		state := Aggregate(components)

		w.Header().Set("Content-Type", "application/json")
		if state != StateHealthy {
			if state == StatePending {
				w.Header().Set("Retry-After", "1")
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(struct {
			Status     string            `json:"status"`
			Components []ComponentStatus `json:"components"`
		}{Status: state.String(), Components: components})
	})
}
