package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bastionsec/bastion/internal/metrics"
	"github.com/bastionsec/bastion/internal/models"
	pkglogger "github.com/bastionsec/bastion/pkg/logger"
)

// AlertSink receives structured events from the registries. AlertService is
// the production implementation; tests substitute a recorder.
type AlertSink interface {
	Dispatch(event models.AlertEvent)
}

// BanStore is the pluggable persistence seam for bans. The default in-memory
// registry works without one; the Postgres implementation lives in
// internal/repositories. Store errors never block a decision: the registry
// logs them and carries on with its in-memory state.
type BanStore interface {
	SaveBan(ctx context.Context, ban *models.Ban) error
	DeleteBan(ctx context.Context, sourceKey string) error
	LoadActiveBans(ctx context.Context, now time.Time) ([]*models.Ban, error)
}

// BanConfig holds the escalation knobs for the ban registry.
type BanConfig struct {
	BaseDuration         time.Duration
	MaxDuration          time.Duration
	EscalationThreshold  int
	EscalationMultiplier float64
	EscalationWindow     time.Duration
}

// BanService is the authority on whether a source is currently banned. It
// consumes window-counter overflow signals, computes escalated durations from
// recent ban history, and emits one alert per ban issued.
type BanService struct {
	mu      sync.Mutex
	bans    map[string]*models.Ban
	history map[string][]time.Time

	config BanConfig
	alerts AlertSink
	audit  *pkglogger.AuditLogger
	store  BanStore
	logger *slog.Logger

	now func() time.Time
}

// NewBanService creates a ban registry. store may be nil for the pure
// in-memory configuration.
func NewBanService(config BanConfig, alerts AlertSink, audit *pkglogger.AuditLogger, store BanStore, logger *slog.Logger) *BanService {
	return &BanService{
		bans:    make(map[string]*models.Ban),
		history: make(map[string][]time.Time),
		config:  config,
		alerts:  alerts,
		audit:   audit,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// LoadPersisted pre-populates the registry from the backing store after a
// restart. A load failure is logged and the registry starts empty: the
// subsystem fails open rather than refusing to start.
func (s *BanService) LoadPersisted(ctx context.Context) {
	if s.store == nil {
		return
	}

	bans, err := s.store.LoadActiveBans(ctx, s.now())
	if err != nil {
		s.logger.Error("failed to load persisted bans", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	for _, ban := range bans {
		s.bans[ban.SourceKey] = ban
	}
	s.mu.Unlock()

	s.logger.Info("loaded persisted bans", slog.Int("count", len(bans)))
}

// IsBanned reports whether the source is currently banned. Expiry is lazy:
// an expired entry is removed on the check that observes it, not by a timer.
func (s *BanService) IsBanned(sourceKey string) bool {
	s.mu.Lock()
	ban, ok := s.bans[sourceKey]
	if ok && ban.Expired(s.now()) {
		delete(s.bans, sourceKey)
		ok = false
		s.mu.Unlock()
		s.unpersist(sourceKey)
		return false
	}
	s.mu.Unlock()

	return ok
}

// GetBan returns the active ban for the source, or nil.
func (s *BanService) GetBan(sourceKey string) *models.Ban {
	s.mu.Lock()
	defer s.mu.Unlock()

	ban, ok := s.bans[sourceKey]
	if !ok || ban.Expired(s.now()) {
		return nil
	}
	copied := *ban
	return &copied
}

// RegisterOverflow records that the source exceeded its attempt threshold and
// issues a ban, replacing any existing entry for the source. The duration is
// escalated based on how many bans the source accumulated within the
// escalation window, this one included.
func (s *BanService) RegisterOverflow(sourceKey string, attemptCount int, reason models.BanReason) *models.Ban {
	now := s.now()

	s.mu.Lock()
	hist := s.pruneHistoryLocked(sourceKey, now)
	hist = append(hist, now)
	s.history[sourceKey] = hist
	n := len(hist)

	duration, escalated := EscalatedBanDuration(
		s.config.BaseDuration, n, s.config.EscalationMultiplier,
		s.config.EscalationThreshold, s.config.MaxDuration,
	)

	ban := &models.Ban{
		SourceKey:    sourceKey,
		Reason:       reason,
		BannedAt:     now,
		ExpiresAt:    now.Add(duration),
		Duration:     duration,
		AttemptCount: attemptCount,
		BanCount24h:  n,
		Escalated:    escalated,
	}
	s.bans[sourceKey] = ban
	s.mu.Unlock()

	metrics.BansCreated.WithLabelValues(string(reason)).Inc()

	sourceHash := pkglogger.HashKey(sourceKey)
	s.audit.Log(pkglogger.AuditEvent{
		Kind:       "ban",
		SourceHash: sourceHash,
		Count:      attemptCount,
		Duration:   duration,
		Escalated:  escalated,
		Metadata:   map[string]string{"reason": string(reason), "ban_count_24h": fmt.Sprintf("%d", n)},
	})

	severity := models.SeverityMedium
	if escalated {
		severity = models.SeverityHigh
	}
	s.alerts.Dispatch(models.AlertEvent{
		ID:         uuid.New().String(),
		Kind:       models.AlertKindSourceBanned,
		Severity:   severity,
		SourceHash: sourceHash,
		OccurredAt: now,
		Message:    fmt.Sprintf("source banned for %s after %d attempts", duration, attemptCount),
		Fields: map[string]any{
			"reason":        string(reason),
			"ban_count_24h": n,
			"escalated":     escalated,
		},
	})

	// The first time a source crosses the escalation threshold it graduates
	// from noise to a persistent attacker; flag it for operator review.
	if n == s.config.EscalationThreshold {
		s.alerts.Dispatch(models.AlertEvent{
			ID:         uuid.New().String(),
			Kind:       models.AlertKindPersistentAttacker,
			Severity:   models.SeverityHigh,
			SourceHash: sourceHash,
			OccurredAt: now,
			Message:    fmt.Sprintf("source reached %d bans within %s", n, s.config.EscalationWindow),
			Fields:     map[string]any{"ban_count_24h": n},
		})
	}

	s.persist(ban)
	return ban
}

// persist writes the ban through to the backing store, failing open on error.
func (s *BanService) persist(ban *models.Ban) {
	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.SaveBan(ctx, ban); err != nil {
		s.logger.Error("failed to persist ban",
			slog.String("source_hash", pkglogger.HashKey(ban.SourceKey)),
			slog.Any("error", err))
	}
}

// unpersist removes the ban's row from the backing store after lazy expiry
// dropped it from the registry, failing open on error. A row left behind is
// still harmless: LoadActiveBans skips expired rows and the retention sweep
// deletes them.
func (s *BanService) unpersist(sourceKey string) {
	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.DeleteBan(ctx, sourceKey); err != nil {
		s.logger.Error("failed to delete persisted ban",
			slog.String("source_hash", pkglogger.HashKey(sourceKey)),
			slog.Any("error", err))
	}
}

// pruneHistoryLocked drops ban history entries outside the escalation window.
func (s *BanService) pruneHistoryLocked(sourceKey string, now time.Time) []time.Time {
	cutoff := now.Add(-s.config.EscalationWindow)
	hist := s.history[sourceKey]

	idx := 0
	for idx < len(hist) && !hist[idx].After(cutoff) {
		idx++
	}
	return hist[idx:]
}

// ActiveBanCount returns (total, escalated) counts of unexpired bans.
func (s *BanService) ActiveBanCount() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	total, escalated := 0, 0
	for _, ban := range s.bans {
		if ban.Expired(now) {
			continue
		}
		total++
		if ban.Escalated {
			escalated++
		}
	}
	return total, escalated
}

// Sweep removes expired bans and stale history, then bounds both maps to
// maxKeys with oldest-first eviction. Returns the number of entries removed.
func (s *BanService) Sweep(now time.Time, maxKeys int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, ban := range s.bans {
		if ban.Expired(now) {
			delete(s.bans, key)
			removed++
		}
	}
	cutoff := now.Add(-s.config.EscalationWindow)
	for key, hist := range s.history {
		if len(hist) == 0 || !hist[len(hist)-1].After(cutoff) {
			delete(s.history, key)
			removed++
		}
	}

	removed += evictOldest(len(s.bans)-maxKeys, s.bans, func(b *models.Ban) time.Time { return b.BannedAt })
	removed += evictOldest(len(s.history)-maxKeys, s.history, func(h []time.Time) time.Time { return h[0] })
	return removed
}

// TrackedKeys reports the number of sources with ban state or history.
func (s *BanService) TrackedKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bans) > len(s.history) {
		return len(s.bans)
	}
	return len(s.history)
}

// evictOldest removes excess entries from m, oldest-first by the age
// function. Shared by the registries' Sweep implementations.
func evictOldest[V any](excess int, m map[string]V, age func(V) time.Time) int {
	if excess <= 0 {
		return 0
	}

	type aged struct {
		key string
		at  time.Time
	}
	order := make([]aged, 0, len(m))
	for key, v := range m {
		order = append(order, aged{key: key, at: age(v)})
	}
	sort.Slice(order, func(i, j int) bool { return order[i].at.Before(order[j].at) })

	for _, a := range order[:excess] {
		delete(m, a.key)
	}
	return excess
}
