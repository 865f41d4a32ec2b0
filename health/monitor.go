package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor tracks the health of named components.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	onChange []func(name string, status Status)
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// OnChange registers fn to run after every update whose state differs from
// the previous one. fn must not call back into the monitor.
func (m *Monitor) OnChange(fn func(name string, status Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Update records status for name.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	status.Healthy = status.State == StateHealthy
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	prev, existed := m.statuses[name]
	m.statuses[name] = status
	listeners := m.onChange
	m.mu.Unlock()

	if existed && prev.State == status.State {
		return
	}
	for _, fn := range listeners {
		fn(name, status)
	}
}

// UpdateHealthy marks name healthy.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateDegraded marks name degraded.
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// UpdateUnhealthy marks name unhealthy.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Get returns the status of name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	return s, ok
}

// Remove stops tracking name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
}

// Components lists the tracked names in order.
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AggregateHealth combines every tracked status under systemName.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		subs = append(subs, s)
	}
	m.mu.RUnlock()
	return Aggregate(systemName, subs)
}
