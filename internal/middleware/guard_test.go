package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bastionsec/bastion/internal/services"
	pkglogger "github.com/bastionsec/bastion/pkg/logger"
)

func newTestGuard(t *testing.T) *services.GuardService {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := pkglogger.NewAuditLogger(logger)
	alerts := services.NewAlertService(services.AlertServiceConfig{
		HighPerMinute:   3,
		MediumPerHour:   10,
		SummaryInterval: time.Hour,
	}, &services.LogNotifier{Logger: logger}, logger)

	counter := services.NewWindowCounter(30*time.Second, 3)
	bans := services.NewBanService(services.BanConfig{
		BaseDuration:         15 * time.Minute,
		MaxDuration:          24 * time.Hour,
		EscalationThreshold:  3,
		EscalationMultiplier: 2.0,
		EscalationWindow:     24 * time.Hour,
	}, alerts, audit, nil, logger)
	locks := services.NewAccountLockService(services.LockConfig{
		Window:              5 * time.Minute,
		MaxFailures:         5,
		LockDuration:        30 * time.Minute,
		LockoutTriggerLimit: 3,
	}, alerts, audit, logger)
	shared := services.NewSharedAddressService(services.SharedConfig{
		UsernameThreshold:  50,
		SignatureThreshold: 20,
		ThresholdFactor:    5,
	}, alerts, logger)

	return services.NewGuardService(services.GuardServiceConfig{
		MaxAttempts:    3,
		BaseRetryAfter: 900 * time.Second,
		MaxRetryAfter:  24 * time.Hour,
		JournalWindow:  time.Hour,
	}, counter, bans, locks, shared, alerts, nil, logger)
}

func TestSourceGuard_PassesUnknownSource(t *testing.T) {
	guard := newTestGuard(t)
	handler := SourceGuard(guard, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/v1/auth/login", nil)
	req.RemoteAddr = "203.0.113.10:4040"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSourceGuard_BlocksBannedSource(t *testing.T) {
	guard := newTestGuard(t)

	// Overflow the window for this source so it gets banned
	for i := 0; i < 4; i++ {
		guard.OnAuthenticationOutcome(context.Background(), "alice", "203.0.113.20", "sig", false)
	}

	handler := SourceGuard(guard, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/v1/auth/login", nil)
	req.RemoteAddr = "203.0.113.20:4040"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
}

func TestSourceGuard_BlocksBannedIPv6Prefix(t *testing.T) {
	guard := newTestGuard(t)

	// Outcomes are recorded under the /64 prefix key, the same derivation
	// the login handler uses
	for i := 0; i < 4; i++ {
		guard.OnAuthenticationOutcome(context.Background(), "alice", "2001:db8:aaaa:bbbb::/64", "sig", false)
	}

	handler := SourceGuard(guard, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for a banned source")
	}))

	// Any interface ID within the banned /64 is blocked at the gate
	req := httptest.NewRequest("POST", "/v1/auth/login", nil)
	req.RemoteAddr = "[2001:db8:aaaa:bbbb::42]:4040"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
}

func TestSourceGuard_OtherSourcesUnaffected(t *testing.T) {
	guard := newTestGuard(t)

	for i := 0; i < 4; i++ {
		guard.OnAuthenticationOutcome(context.Background(), "alice", "203.0.113.30", "sig", false)
	}

	handler := SourceGuard(guard, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/v1/auth/login", nil)
	req.RemoteAddr = "198.51.100.7:4040"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
