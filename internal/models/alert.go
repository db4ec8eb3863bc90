package models

import "time"

// Severity is the urgency tier of an alert event.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert event kinds emitted by the guard registries.
const (
	AlertKindSourceBanned       = "source_banned"
	AlertKindPersistentAttacker = "persistent_attacker"
	AlertKindAccountLocked      = "account_locked"
	AlertKindLockoutAbuse       = "lockout_abuse"
	AlertKindSharedAddress      = "shared_address_detected"
)

// AlertEvent is a structured event handed to the dispatcher. Identifiers are
// already hashed by the emitting registry; raw source addresses and account
// names never reach the outbound channel.
type AlertEvent struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Severity   Severity       `json:"severity"`
	SourceHash string         `json:"source_hash,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Message    string         `json:"message"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Notification is a rendered outbound message for the downstream channel.
type Notification struct {
	Subject string
	Body    string
}
