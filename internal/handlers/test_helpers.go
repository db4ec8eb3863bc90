package handlers

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/services"
	pkglogger "github.com/bastionsec/bastion/pkg/logger"
)

// testFixture wires a guard stack with tight limits and no timing padding so
// handler tests run fast.
type testFixture struct {
	guard       *services.GuardService
	credentials *services.CredentialService
	handler     *AuthHandler
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := pkglogger.NewAuditLogger(logger)
	alerts := services.NewAlertService(services.AlertServiceConfig{
		HighPerMinute:   3,
		MediumPerHour:   10,
		SummaryInterval: time.Hour,
	}, &services.LogNotifier{Logger: logger}, logger)

	counter := services.NewWindowCounter(30*time.Second, 10)
	bans := services.NewBanService(services.BanConfig{
		BaseDuration:         15 * time.Minute,
		MaxDuration:          24 * time.Hour,
		EscalationThreshold:  3,
		EscalationMultiplier: 2.0,
		EscalationWindow:     24 * time.Hour,
	}, alerts, audit, nil, logger)
	locks := services.NewAccountLockService(services.LockConfig{
		Window:              5 * time.Minute,
		MaxFailures:         3,
		LockDuration:        30 * time.Minute,
		LockoutTriggerLimit: 3,
	}, alerts, audit, logger)
	shared := services.NewSharedAddressService(services.SharedConfig{
		UsernameThreshold:  50,
		SignatureThreshold: 20,
		ThresholdFactor:    5,
	}, alerts, logger)

	guard := services.NewGuardService(services.GuardServiceConfig{
		MaxAttempts:    10,
		BaseRetryAfter: 15 * time.Minute,
		MaxRetryAfter:  24 * time.Hour,
		JournalWindow:  time.Hour,
	}, counter, bans, locks, shared, alerts, nil, logger)

	credentials := services.NewCredentialService()
	if err := credentials.AddUser("alice", "SecureP@ss123"); err != nil {
		t.Fatalf("seeding test user: %v", err)
	}

	tokenManager := auth.NewTokenManager("test-secret-that-is-long-enough-0000", 15*time.Minute)
	timing := auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 0, RandomDelayMs: 0})

	handler := NewAuthHandler(guard, credentials, tokenManager, timing, nil, 15*time.Minute)

	return &testFixture{
		guard:       guard,
		credentials: credentials,
		handler:     handler,
	}
}
