// Package health tracks the health of the daemon's components
package health

import (
	"sort"
	"sync"
	"time"
)

// Overall states
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents overall system health
type Status struct {
	Status        string           `json:"status"` // ok, degraded, unhealthy
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Components    map[string]Check `json:"components"`
}

// Check represents a component health check
type Check struct {
	Healthy   bool      `json:"healthy"`
	Critical  bool      `json:"critical,omitempty"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Probe reports a component's current health
type Probe func() (healthy bool, message string)

type registeredProbe struct {
	probe    Probe
	critical bool
}

// Checker tracks health of system components. Components are either set
// directly or polled through registered probes on Refresh.
type Checker struct {
	mu         sync.RWMutex
	version    string
	startTime  time.Time
	components map[string]Check
	probes     map[string]registeredProbe
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		version:    version,
		startTime:  time.Now(),
		components: make(map[string]Check),
		probes:     make(map[string]registeredProbe),
	}
}

// SetComponent updates a component's health status
func (c *Checker) SetComponent(name string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components[name] = Check{
		Healthy:   healthy,
		Critical:  c.components[name].Critical,
		Message:   message,
		LastCheck: time.Now(),
	}
}

// Register adds a probe polled by Refresh. A failing critical component
// makes the whole system unhealthy rather than degraded.
func (c *Checker) Register(name string, critical bool, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.probes[name] = registeredProbe{probe: probe, critical: critical}
	c.components[name] = Check{Critical: critical, Message: "not checked"}
}

// Refresh runs every registered probe
func (c *Checker) Refresh() {
	c.mu.RLock()
	names := make([]string, 0, len(c.probes))
	for name := range c.probes {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		c.mu.RLock()
		p := c.probes[name]
		c.mu.RUnlock()

		// Probes run unlocked since they may call into other components
		healthy, message := p.probe()

		c.mu.Lock()
		c.components[name] = Check{
			Healthy:   healthy,
			Critical:  p.critical,
			Message:   message,
			LastCheck: time.Now(),
		}
		c.mu.Unlock()
	}
}

// GetStatus refreshes probes and returns the overall health status
func (c *Checker) GetStatus() Status {
	c.Refresh()

	c.mu.RLock()
	defer c.mu.RUnlock()

	status := StatusOK
	for _, check := range c.components {
		if check.Healthy {
			continue
		}
		if check.Critical {
			status = StatusUnhealthy
			break
		}
		status = StatusDegraded
	}

	// Copy components map
	components := make(map[string]Check, len(c.components))
	for k, v := range c.components {
		components[k] = v
	}

	return Status{
		Status:        status,
		Version:       c.version,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Components:    components,
	}
}

// IsHealthy returns true if all components are healthy
func (c *Checker) IsHealthy() bool {
	c.Refresh()

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, check := range c.components {
		if !check.Healthy {
			return false
		}
	}
	return true
}
