// Package health tracks per-component status for the /health surface.
package health

import (
	"sync"
	"time"
)

// Status is one component's health state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Component is one component's current status and most recent error.
type Component struct {
	Status    Status    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry holds per-component status. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{components: make(map[string]Component)}
}

// SetHealthy marks a component healthy and clears its error.
func (r *Registry) SetHealthy(name string) {
	r.set(name, StatusHealthy, "")
}

// SetDegraded marks a component degraded with the failing error.
// Degraded components keep running; the process does not abort.
func (r *Registry) SetDegraded(name string, err error) {
	r.set(name, StatusDegraded, errString(err))
}

// SetUnhealthy marks a component unhealthy with the failing error.
func (r *Registry) SetUnhealthy(name string, err error) {
	r.set(name, StatusUnhealthy, errString(err))
}

func (r *Registry) set(name string, s Status, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = Component{Status: s, LastError: errMsg, UpdatedAt: time.Now().UTC()}
}

// Snapshot returns a copy of every component's status.
func (r *Registry) Snapshot() map[string]Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Component, len(r.components))
	for name, c := range r.components {
		out[name] = c
	}
	return out
}

// Overall folds component statuses: any unhealthy wins, then degraded.
func (r *Registry) Overall() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	overall := StatusHealthy
	for _, c := range r.components {
		switch c.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
