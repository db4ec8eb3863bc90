package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/bastionsec/bastion/internal/metrics"
	"github.com/bastionsec/bastion/internal/models"
	pkglogger "github.com/bastionsec/bastion/pkg/logger"
)

// AttemptJournal is the optional persistent record of authentication
// outcomes, used when a Postgres backend is configured. Journal errors are
// logged and swallowed; the in-memory decision path never waits on them.
type AttemptJournal interface {
	RecordOutcome(ctx context.Context, attempt *models.AuthAttempt) error
}

// GuardServiceConfig holds the facade-level knobs.
type GuardServiceConfig struct {
	MaxAttempts    int
	BaseRetryAfter time.Duration // reported for first-tier bans
	MaxRetryAfter  time.Duration // reported for escalated bans
	Allowlist      []string
	JournalWindow  time.Duration // retention for journaled attempts
}

// SourceDecision is the outcome of a pre-authentication source check.
// RetryAfter is always the configured maximum for the ban tier, never the
// exact remaining time, so a blocked client gets no precise timing oracle.
type SourceDecision struct {
	Blocked    bool
	RetryAfter time.Duration
}

// GuardService is the facade over the abuse-mitigation registries. Request
// handling calls CheckSource and CheckAccount before credential verification
// and OnAuthenticationOutcome after it.
type GuardService struct {
	config    GuardServiceConfig
	allowlist map[string]struct{}

	counter *WindowCounter
	bans    *BanService
	locks   *AccountLockService
	shared  *SharedAddressService
	alerts  *AlertService
	journal AttemptJournal
	logger  *slog.Logger
}

// NewGuardService wires the registries into a facade. journal may be nil.
func NewGuardService(
	config GuardServiceConfig,
	counter *WindowCounter,
	bans *BanService,
	locks *AccountLockService,
	shared *SharedAddressService,
	alerts *AlertService,
	journal AttemptJournal,
	logger *slog.Logger,
) *GuardService {
	allowlist := make(map[string]struct{}, len(config.Allowlist))
	for _, key := range config.Allowlist {
		allowlist[key] = struct{}{}
	}

	return &GuardService{
		config:    config,
		allowlist: allowlist,
		counter:   counter,
		bans:      bans,
		locks:     locks,
		shared:    shared,
		alerts:    alerts,
		journal:   journal,
		logger:    logger,
	}
}

// Allowlisted reports whether the source is exempt from rate limiting and
// bans. Allowlisted sources can still trip account locks; those protect the
// account, not the source.
func (s *GuardService) Allowlisted(sourceKey string) bool {
	_, ok := s.allowlist[sourceKey]
	return ok
}

// CheckSource decides whether requests from the source may proceed to
// credential verification. A source that has weaponized account lockouts is
// escalated to a full ban here, on the check that first observes it.
func (s *GuardService) CheckSource(sourceKey string) SourceDecision {
	if s.Allowlisted(sourceKey) {
		return SourceDecision{}
	}

	if !s.bans.IsBanned(sourceKey) && s.locks.IsLockoutAbuser(sourceKey) {
		s.bans.RegisterOverflow(sourceKey, s.counter.Peek(sourceKey).Count, models.BanReasonLockoutAbuse)
	}

	ban := s.bans.GetBan(sourceKey)
	if ban == nil {
		return SourceDecision{}
	}

	retryAfter := s.config.BaseRetryAfter
	if ban.Escalated {
		retryAfter = s.config.MaxRetryAfter
	}
	return SourceDecision{Blocked: true, RetryAfter: retryAfter}
}

// CheckAccount reports whether the account is currently locked. The caller
// must present the same response for "locked" and "does not exist".
func (s *GuardService) CheckAccount(accountKey string) bool {
	return s.locks.IsLocked(accountKey)
}

// OnAuthenticationOutcome records the result of one credential verification.
// Success clears only the account's failure history; the source's sliding
// window is deliberately left intact, otherwise one valid credential would
// let an attacker reset their own rate limit.
func (s *GuardService) OnAuthenticationOutcome(ctx context.Context, accountKey, sourceKey, clientSignature string, success bool) {
	if success {
		metrics.AuthAttempts.WithLabelValues("success").Inc()
		s.locks.Clear(accountKey)
	} else {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		s.locks.RecordFailure(accountKey, sourceKey)

		count := s.counter.Record(sourceKey)
		if !s.Allowlisted(sourceKey) {
			threshold := s.shared.AdjustedThreshold(sourceKey, s.config.MaxAttempts)
			if count > threshold {
				s.bans.RegisterOverflow(sourceKey, count, models.BanReasonRateLimit)
			}
		}
	}

	s.shared.Track(sourceKey, accountKey, clientSignature)
	s.journalOutcome(ctx, accountKey, sourceKey, clientSignature, success)
}

func (s *GuardService) journalOutcome(ctx context.Context, accountKey, sourceKey, clientSignature string, success bool) {
	if s.journal == nil {
		return
	}

	now := time.Now()
	attempt := &models.AuthAttempt{
		SourceHash:    pkglogger.HashKey(sourceKey),
		AccountHash:   pkglogger.HashKey(accountKey),
		SignatureHash: pkglogger.HashKey(clientSignature),
		Success:       success,
		AttemptTime:   now,
		ExpiresAt:     now.Add(s.config.JournalWindow),
	}
	if err := s.journal.RecordOutcome(ctx, attempt); err != nil {
		s.logger.Error("failed to journal auth outcome", slog.Any("error", err))
	}
}

// Stats returns the monitoring snapshot across all registries.
func (s *GuardService) Stats() models.GuardStats {
	activeBans, escalated := s.bans.ActiveBanCount()
	profiles, shared := s.shared.SharedCount()

	return models.GuardStats{
		ActiveBans:      activeBans,
		EscalatedBans:   escalated,
		ActiveLocks:     s.locks.ActiveLockCount(),
		TrackedSources:  s.counter.TrackedKeys(),
		TrackedAccounts: s.locks.TrackedKeys(),
		TrackedProfiles: profiles,
		SharedProfiles:  shared,
		PendingAlerts:   s.alerts.PendingCount(),
	}
}
