package services

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bastionsec/bastion/internal/models"
	pkglogger "github.com/bastionsec/bastion/pkg/logger"
)

// SharedConfig holds the shared-address detection thresholds.
type SharedConfig struct {
	UsernameThreshold  int
	SignatureThreshold int
	ThresholdFactor    int
}

// SharedAddressService distinguishes addresses that legitimately serve many
// users (carrier NAT, campus networks) from single attackers, so the rate
// limiter can relax its threshold instead of banning a whole school. This is
// a heuristic: it trades higher abuse tolerance from shared addresses for
// fewer false positives against the users behind them.
type SharedAddressService struct {
	mu       sync.Mutex
	profiles map[string]*models.SharedAddressProfile

	config SharedConfig
	alerts AlertSink
	logger *slog.Logger

	now func() time.Time
}

// NewSharedAddressService creates a shared-address detector.
func NewSharedAddressService(config SharedConfig, alerts AlertSink, logger *slog.Logger) *SharedAddressService {
	return &SharedAddressService{
		profiles: make(map[string]*models.SharedAddressProfile),
		config:   config,
		alerts:   alerts,
		logger:   logger,
		now:      time.Now,
	}
}

// Track records one observed (source, account, client signature) triple.
// Once either distinct-count crosses its threshold the profile is flagged
// shared, permanently for its lifetime.
func (s *SharedAddressService) Track(sourceKey, accountKey, clientSignature string) {
	s.mu.Lock()

	profile, ok := s.profiles[sourceKey]
	if !ok {
		profile = &models.SharedAddressProfile{
			SourceKey:  sourceKey,
			Accounts:   make(map[string]struct{}),
			Signatures: make(map[string]struct{}),
			FirstSeen:  s.now(),
		}
		s.profiles[sourceKey] = profile
	}

	if accountKey != "" {
		profile.Accounts[accountKey] = struct{}{}
	}
	if clientSignature != "" {
		profile.Signatures[clientSignature] = struct{}{}
	}

	flipped := false
	if !profile.Shared &&
		(len(profile.Accounts) >= s.config.UsernameThreshold ||
			len(profile.Signatures) >= s.config.SignatureThreshold) {
		profile.Shared = true
		flipped = true
	}
	accounts, signatures := len(profile.Accounts), len(profile.Signatures)
	s.mu.Unlock()

	if flipped {
		s.alerts.Dispatch(models.AlertEvent{
			ID:         uuid.New().String(),
			Kind:       models.AlertKindSharedAddress,
			Severity:   models.SeverityLow,
			SourceHash: pkglogger.HashKey(sourceKey),
			OccurredAt: s.now(),
			Message:    fmt.Sprintf("source flagged as shared (%d accounts, %d signatures)", accounts, signatures),
			Fields: map[string]any{
				"distinct_accounts":   accounts,
				"distinct_signatures": signatures,
			},
		})
	}
}

// IsShared reports whether the source has been flagged as a shared address.
func (s *SharedAddressService) IsShared(sourceKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[sourceKey]
	return ok && profile.Shared
}

// AdjustedThreshold relaxes the base threshold for shared sources by the
// configured factor; non-shared sources get the base unchanged.
func (s *SharedAddressService) AdjustedThreshold(sourceKey string, base int) int {
	if s.IsShared(sourceKey) {
		return base * s.config.ThresholdFactor
	}
	return base
}

// SharedCount returns (tracked profiles, profiles flagged shared).
func (s *SharedAddressService) SharedCount() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shared := 0
	for _, p := range s.profiles {
		if p.Shared {
			shared++
		}
	}
	return len(s.profiles), shared
}

// Sweep bounds the profile map to maxKeys with oldest-first eviction.
// Profiles have no window expiry of their own; the bound is the only thing
// keeping this map finite.
func (s *SharedAddressService) Sweep(now time.Time, maxKeys int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return evictOldest(len(s.profiles)-maxKeys, s.profiles,
		func(p *models.SharedAddressProfile) time.Time { return p.FirstSeen })
}

// TrackedKeys reports the number of tracked profiles.
func (s *SharedAddressService) TrackedKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}
