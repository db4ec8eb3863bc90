package models

import "time"

// AccountFailure is one failed authentication against an account, with the
// source that originated it. Scoped to the account-lock window.
type AccountFailure struct {
	AccountKey string
	SourceKey  string
	At         time.Time
}

// AccountLock is an active time-bounded lock on an account, created when the
// failure threshold is crossed within the lock window. Cleared unconditionally
// on the next successful authentication for the account.
type AccountLock struct {
	AccountKey        string
	LockedAt          time.Time
	ExpiresAt         time.Time
	FailureCount      int
	TriggeringSources map[string]struct{}
}

// Expired reports whether the lock has lapsed at the given instant.
func (l *AccountLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// LockoutTrigger records that a source drove an account into lockout.
// Distinct accounts per source are counted over a one-hour horizon to detect
// lockout-as-weapon abuse.
type LockoutTrigger struct {
	AccountKey string
	At         time.Time
}
