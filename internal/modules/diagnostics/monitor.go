// Package diagnostics tracks component liveness and runs periodic health sweeps.
package diagnostics

import (
	"sort"
	"sync"
	"time"

	"github.com/aristath/touchline/internal/events"
	"github.com/rs/zerolog"
)

// Components are pre-registered so the status payload lists them before their first ping.
var Components = []string{
	"contact_evaluator",
	"trade_recommender",
	"smart_entry_planner",
	"strategy_engine",
	"exit_strategy",
	"portfolio_ledger",
	"pattern_memory",
	"price_feed",
	"pattern_recognizer",
	"data_provider",
	"engine",
	"diagnostic_engine",
}

// ComponentStatus is the liveness of one component.
type ComponentStatus struct {
	Active   bool       `json:"active"`
	LastPing *time.Time `json:"last_ping,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Monitor is the shared HealthSink. Every component gets it injected.
type Monitor struct {
	events *events.Manager
	now    func() time.Time
	log    zerolog.Logger

	mu     sync.RWMutex
	status map[string]*ComponentStatus
}

// NewMonitor creates a monitor. events may be nil.
func NewMonitor(eventManager *events.Manager, log zerolog.Logger) *Monitor {
	m := &Monitor{
		events: eventManager,
		now:    time.Now,
		log:    log.With().Str("component", "diagnostic_monitor").Logger(),
		status: make(map[string]*ComponentStatus, len(Components)),
	}
	for _, c := range Components {
		m.status[c] = &ComponentStatus{}
	}
	return m
}

// Ping marks component active and clears its error.
func (m *Monitor) Ping(component string) {
	now := m.now()

	m.mu.Lock()
	st := m.entry(component)
	changed := !st.Active
	st.Active = true
	st.LastPing = &now
	st.Error = ""
	m.mu.Unlock()

	if changed {
		m.emit(component, true, "")
	}
}

// ReportError marks component inactive with reason.
func (m *Monitor) ReportError(component, reason string) {
	m.mu.Lock()
	st := m.entry(component)
	changed := st.Active || st.Error != reason
	st.Active = false
	st.Error = reason
	m.mu.Unlock()

	if changed {
		m.log.Warn().Str("module", component).Str("reason", reason).Msg("Component reported error")
		m.emit(component, false, reason)
	}
}

// entry must be called with mu held.
func (m *Monitor) entry(component string) *ComponentStatus {
	st, ok := m.status[component]
	if !ok {
		st = &ComponentStatus{}
		m.status[component] = st
	}
	return st
}

func (m *Monitor) emit(component string, active bool, reason string) {
	if m.events == nil {
		return
	}
	data := map[string]interface{}{"component": component, "active": active}
	if reason != "" {
		data["error"] = reason
	}
	m.events.Emit(events.ComponentStatus, "diagnostics", data)
}

// Status returns a copy of every component's status.
func (m *Monitor) Status() map[string]ComponentStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ComponentStatus, len(m.status))
	for name, st := range m.status {
		out[name] = *st
	}
	return out
}

// Unhealthy lists components currently reporting an error, sorted by name.
func (m *Monitor) Unhealthy() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name, st := range m.status {
		if st.Error != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
