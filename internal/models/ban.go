package models

import "time"

// BanReason identifies what pushed a source over the line.
type BanReason string

const (
	BanReasonRateLimit    BanReason = "rate_limit"
	BanReasonLockoutAbuse BanReason = "lockout_abuse"
	BanReasonManual       BanReason = "manual"
)

// Ban represents an active temporary ban on a source key. At most one Ban
// exists per source; a re-trigger replaces the entry rather than stacking.
type Ban struct {
	SourceKey    string        `db:"source_key"`
	Reason       BanReason     `db:"reason"`
	BannedAt     time.Time     `db:"banned_at"`
	ExpiresAt    time.Time     `db:"expires_at"`
	Duration     time.Duration `db:"-"`
	AttemptCount int           `db:"attempt_count"` // attempts in window when the ban triggered
	BanCount24h  int           `db:"ban_count_24h"` // bans for this source within the escalation window, this one included
	Escalated    bool          `db:"escalated"`
}

// Expired reports whether the ban has lapsed at the given instant.
func (b *Ban) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// BanHistoryEntry records when a source was banned, retained only within the
// escalation window to compute BanCount24h.
type BanHistoryEntry struct {
	SourceKey string
	BannedAt  time.Time
}
