package models

import "time"

// AttemptRecord is a single authentication attempt as seen by the sliding
// window counter. Ephemeral; discarded once older than the window.
type AttemptRecord struct {
	SourceKey string
	At        time.Time
}

// AuthAttempt is the persistent journal row for an authentication outcome,
// written only when the Postgres-backed store is configured.
type AuthAttempt struct {
	ID            string    `db:"id"`
	SourceHash    string    `db:"source_hash"`
	AccountHash   string    `db:"account_hash"`
	SignatureHash string    `db:"signature_hash"`
	Success       bool      `db:"success"`
	AttemptTime   time.Time `db:"attempt_time"`
	ExpiresAt     time.Time `db:"expires_at"`
}
