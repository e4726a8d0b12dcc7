// Package securitytest provides test doubles for the security package.
package securitytest

import (
	"sync"

	"github.com/flemzord/appcraft/internal/security"
)

// NewTestRedactor creates a Redactor with no patterns for testing.
// This avoids false positives in tests that use strings matching
// production secret patterns.
func NewTestRedactor() *security.Redactor {
	return &security.Redactor{}
}

// NewTestAuditLogger creates an AuditLogger that records events in memory.
// Returns the logger and a function to retrieve a snapshot of logged events.
func NewTestAuditLogger() (*security.AuditLogger, func() []security.AuditEvent) {
	var (
		mu     sync.Mutex
		events []security.AuditEvent
	)
	logger := security.NewAuditLogger(security.AuditLoggerConfig{
		OnEvent: func(e security.AuditEvent) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		},
	})
	return logger, func() []security.AuditEvent {
		mu.Lock()
		defer mu.Unlock()
		out := make([]security.AuditEvent, len(events))
		copy(out, events)
		return out
	}
}

// EventsOfType filters events by type.
func EventsOfType(events []security.AuditEvent, typ security.EventType) []security.AuditEvent {
	var out []security.AuditEvent
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
