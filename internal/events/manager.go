// Package events records pipeline events as structured log lines and keeps
// the most recent ones for the status API.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	ContactDetected   EventType = "CONTACT_DETECTED"
	PatternRecognized EventType = "PATTERN_RECOGNIZED"
	TradeRecommended  EventType = "TRADE_RECOMMENDED"
	EntryRejected     EventType = "ENTRY_REJECTED"
	PositionOpened    EventType = "POSITION_OPENED"
	PositionClosed    EventType = "POSITION_CLOSED"
	OutcomeRecorded   EventType = "OUTCOME_RECORDED"
	LevelsUpdated     EventType = "LEVELS_UPDATED"
	FeedbackRecorded  EventType = "FEEDBACK_RECORDED"
	ComponentStatus   EventType = "COMPONENT_STATUS"
	BackupCompleted   EventType = "BACKUP_COMPLETED"
	PriceUnavailable  EventType = "PRICE_UNAVAILABLE"
	ErrorOccurred     EventType = "ERROR_OCCURRED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

const defaultHistory = 200

// Manager handles event emission and logging
type Manager struct {
	log zerolog.Logger

	mu     sync.Mutex
	recent []Event
	next   int
	full   bool
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:    log.With().Str("service", "events").Logger(),
		recent: make([]Event, defaultHistory),
	}
}

// Emit emits an event
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	m.mu.Lock()
	m.recent[m.next] = event
	m.next = (m.next + 1) % len(m.recent)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()

	eventJSON, err := json.Marshal(event)
	if err != nil {
		m.log.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to encode event")
		return
	}
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}

// Recent returns up to limit events, newest first.
func (m *Manager) Recent(limit int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.full {
		size = len(m.recent)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Event, 0, limit)
	idx := m.next
	for i := 0; i < limit; i++ {
		idx = (idx - 1 + len(m.recent)) % len(m.recent)
		out = append(out, m.recent[idx])
	}
	return out
}
