package services

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bastionsec/bastion/internal/metrics"
	"github.com/bastionsec/bastion/internal/models"
	pkglogger "github.com/bastionsec/bastion/pkg/logger"
)

// lockoutTriggerWindow is the horizon over which a single source's lockout
// triggers are counted for abuse detection.
const lockoutTriggerWindow = time.Hour

// LockConfig holds the account-lock thresholds.
type LockConfig struct {
	Window              time.Duration
	MaxFailures         int
	LockDuration        time.Duration
	LockoutTriggerLimit int
}

// FailureResult is the outcome of recording one authentication failure.
type FailureResult struct {
	Locked       bool
	FailureCount int
}

// AccountLockService tracks authentication failures per account, independent
// of source address, and issues time-bounded locks. It also watches for
// sources that drive many distinct accounts into lockout, so the lock
// mechanism cannot be turned into a denial-of-service weapon.
type AccountLockService struct {
	mu       sync.Mutex
	failures map[string][]models.AccountFailure
	locks    map[string]*models.AccountLock
	triggers map[string][]models.LockoutTrigger
	abusers  map[string]time.Time

	config LockConfig
	alerts AlertSink
	audit  *pkglogger.AuditLogger
	logger *slog.Logger

	now func() time.Time
}

// NewAccountLockService creates an account lock registry.
func NewAccountLockService(config LockConfig, alerts AlertSink, audit *pkglogger.AuditLogger, logger *slog.Logger) *AccountLockService {
	return &AccountLockService{
		failures: make(map[string][]models.AccountFailure),
		locks:    make(map[string]*models.AccountLock),
		triggers: make(map[string][]models.LockoutTrigger),
		abusers:  make(map[string]time.Time),
		config:   config,
		alerts:   alerts,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordFailure registers a failed authentication for the account,
// originating from the given source. Crossing the failure threshold within
// the window creates a lock. The result never distinguishes "unknown account"
// from "locked account"; callers must keep that property at their boundary.
func (s *AccountLockService) RecordFailure(accountKey, sourceKey string) FailureResult {
	now := s.now()

	s.mu.Lock()
	kept := s.pruneFailuresLocked(accountKey, now)
	kept = append(kept, models.AccountFailure{AccountKey: accountKey, SourceKey: sourceKey, At: now})
	s.failures[accountKey] = kept
	count := len(kept)

	if count < s.config.MaxFailures {
		s.mu.Unlock()
		return FailureResult{FailureCount: count}
	}

	if existing, ok := s.locks[accountKey]; ok && !existing.Expired(now) {
		// Already locked; keep counting but do not re-trigger.
		s.mu.Unlock()
		return FailureResult{Locked: true, FailureCount: count}
	}

	sources := make(map[string]struct{}, len(kept))
	for _, f := range kept {
		sources[f.SourceKey] = struct{}{}
	}
	lock := &models.AccountLock{
		AccountKey:        accountKey,
		LockedAt:          now,
		ExpiresAt:         now.Add(s.config.LockDuration),
		FailureCount:      count,
		TriggeringSources: sources,
	}
	s.locks[accountKey] = lock

	distinctLocked, becameAbuser := s.recordTriggerLocked(sourceKey, accountKey, now)
	s.mu.Unlock()

	metrics.LocksCreated.Inc()

	accountHash := pkglogger.HashKey(accountKey)
	sourceHash := pkglogger.HashKey(sourceKey)
	s.audit.Log(pkglogger.AuditEvent{
		Kind:        "account_lock",
		AccountHash: accountHash,
		SourceHash:  sourceHash,
		Count:       count,
		Duration:    s.config.LockDuration,
		Metadata:    map[string]string{"distinct_sources": fmt.Sprintf("%d", len(sources))},
	})

	s.alerts.Dispatch(models.AlertEvent{
		ID:         uuid.New().String(),
		Kind:       models.AlertKindAccountLocked,
		Severity:   models.SeverityMedium,
		SourceHash: sourceHash,
		OccurredAt: now,
		Message:    fmt.Sprintf("account locked after %d failures from %d sources", count, len(sources)),
		Fields: map[string]any{
			"account_hash":     accountHash,
			"failure_count":    count,
			"distinct_sources": len(sources),
		},
	})

	if becameAbuser {
		s.audit.Log(pkglogger.AuditEvent{
			Kind:       "lockout_abuse",
			SourceHash: sourceHash,
			Count:      distinctLocked,
		})
		s.alerts.Dispatch(models.AlertEvent{
			ID:         uuid.New().String(),
			Kind:       models.AlertKindLockoutAbuse,
			Severity:   models.SeverityHigh,
			SourceHash: sourceHash,
			OccurredAt: now,
			Message:    fmt.Sprintf("source drove %d distinct accounts into lockout within an hour", distinctLocked),
			Fields:     map[string]any{"locked_accounts": distinctLocked},
		})
	}

	return FailureResult{Locked: true, FailureCount: count}
}

// recordTriggerLocked notes that sourceKey drove accountKey into lockout and
// re-evaluates the abuse flag. Returns the distinct locked-account count and
// whether the source crossed the abuse limit with this trigger.
func (s *AccountLockService) recordTriggerLocked(sourceKey, accountKey string, now time.Time) (int, bool) {
	cutoff := now.Add(-lockoutTriggerWindow)
	kept := s.triggers[sourceKey][:0:0]
	for _, t := range s.triggers[sourceKey] {
		if t.At.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, models.LockoutTrigger{AccountKey: accountKey, At: now})
	s.triggers[sourceKey] = kept

	distinct := make(map[string]struct{}, len(kept))
	for _, t := range kept {
		distinct[t.AccountKey] = struct{}{}
	}

	_, wasAbuser := s.abusers[sourceKey]
	isAbuser := len(distinct) >= s.config.LockoutTriggerLimit
	if isAbuser {
		s.abusers[sourceKey] = now
	}
	return len(distinct), isAbuser && !wasAbuser
}

// IsLocked reports whether the account is currently locked. Expired locks are
// removed lazily on the check that observes them.
func (s *AccountLockService) IsLocked(accountKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[accountKey]
	if !ok {
		return false
	}
	if lock.Expired(s.now()) {
		delete(s.locks, accountKey)
		return false
	}
	return true
}

// Clear removes the account's failure history and any active lock. Invoked on
// every successful authentication, including for accounts below threshold.
func (s *AccountLockService) Clear(accountKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, accountKey)
	delete(s.locks, accountKey)
}

// IsLockoutAbuser reports whether the source has driven more than the
// configured number of distinct accounts into lockout within an hour. The
// caller is expected to escalate such a source to a full ban.
func (s *AccountLockService) IsLockoutAbuser(sourceKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	flaggedAt, ok := s.abusers[sourceKey]
	if !ok {
		return false
	}
	if s.now().Sub(flaggedAt) > lockoutTriggerWindow {
		delete(s.abusers, sourceKey)
		return false
	}
	return true
}

// ActiveLockCount returns the number of unexpired locks.
func (s *AccountLockService) ActiveLockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, lock := range s.locks {
		if !lock.Expired(now) {
			count++
		}
	}
	return count
}

func (s *AccountLockService) pruneFailuresLocked(accountKey string, now time.Time) []models.AccountFailure {
	cutoff := now.Add(-s.config.Window)
	fs := s.failures[accountKey]

	idx := 0
	for idx < len(fs) && !fs[idx].At.After(cutoff) {
		idx++
	}
	return fs[idx:]
}

// Sweep drops expired locks, stale failures and triggers, then bounds each
// map to maxKeys with oldest-first eviction.
func (s *AccountLockService) Sweep(now time.Time, maxKeys int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, lock := range s.locks {
		if lock.Expired(now) {
			delete(s.locks, key)
			removed++
		}
	}
	failureCutoff := now.Add(-s.config.Window)
	for key, fs := range s.failures {
		if len(fs) == 0 || !fs[len(fs)-1].At.After(failureCutoff) {
			delete(s.failures, key)
			removed++
		}
	}
	triggerCutoff := now.Add(-lockoutTriggerWindow)
	for key, ts := range s.triggers {
		if len(ts) == 0 || !ts[len(ts)-1].At.After(triggerCutoff) {
			delete(s.triggers, key)
			removed++
		}
	}
	for key, at := range s.abusers {
		if !at.After(triggerCutoff) {
			delete(s.abusers, key)
			removed++
		}
	}

	removed += evictOldest(len(s.locks)-maxKeys, s.locks, func(l *models.AccountLock) time.Time { return l.LockedAt })
	removed += evictOldest(len(s.failures)-maxKeys, s.failures, func(fs []models.AccountFailure) time.Time { return fs[0].At })
	removed += evictOldest(len(s.triggers)-maxKeys, s.triggers, func(ts []models.LockoutTrigger) time.Time { return ts[0].At })
	return removed
}

// TrackedKeys reports the number of accounts with failure state.
func (s *AccountLockService) TrackedKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures)
}
