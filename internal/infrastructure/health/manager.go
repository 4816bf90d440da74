// Package health aggregates component health for the status API and the
// gRPC health service
package health

import (
	"sort"
	"sync"

	"arbibot/internal/core"
)

type check struct {
	fn       func() error
	optional bool
}

// HealthManager aggregates health status from different components. A
// failing optional check is reported but does not make the process
// unhealthy.
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]check
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{checks: make(map[string]check)}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a required health check for a component
func (hm *HealthManager) Register(component string, fn func() error) {
	hm.register(component, fn, false)
}

// RegisterOptional adds a check that is reported but never fails the process
func (hm *HealthManager) RegisterOptional(component string, fn func() error) {
	hm.register(component, fn, true)
}

func (hm *HealthManager) register(component string, fn func() error, optional bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check{fn: fn, optional: optional}
	if hm.logger != nil {
		hm.logger.Debug("Registered health check", "component", component, "optional", optional)
	}
}

// GetStatus returns the current status of all registered components
func (hm *HealthManager) GetStatus() map[string]string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := make(map[string]string, len(hm.checks))
	for component, c := range hm.checks {
		if err := c.fn(); err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// IsHealthy returns true if every required component is healthy
func (hm *HealthManager) IsHealthy() bool {
	return len(hm.Failing()) == 0
}

// Failing lists required components whose check fails, sorted
func (hm *HealthManager) Failing() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	var out []string
	for component, c := range hm.checks {
		if c.optional {
			continue
		}
		if err := c.fn(); err != nil {
			out = append(out, component)
		}
	}
	sort.Strings(out)
	return out
}
