package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultGuardConfig() GuardConfig {
	return GuardConfig{
		WindowSeconds:        30,
		MaxAttempts:          10,
		BanDuration:          15 * time.Minute,
		MaxBanDuration:       24 * time.Hour,
		EscalationThreshold:  3,
		EscalationMultiplier: 2.0,
		EscalationWindow:     24 * time.Hour,
		LockWindow:           5 * time.Minute,
		LockMaxFailures:      5,
		LockDuration:         30 * time.Minute,
		LockoutTriggerLimit:  3,

		SharedUsernameThreshold:  50,
		SharedSignatureThreshold: 20,
		SharedThresholdFactor:    5,

		MaxTrackedKeys:  10000,
		CleanupInterval: 5 * time.Minute,
	}
}

func TestGuardConfigValidate_Defaults(t *testing.T) {
	g := defaultGuardConfig()
	require.NoError(t, g.Validate())
	assert.Equal(t, 30*time.Second, g.Window())
}

func TestGuardConfigValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GuardConfig)
	}{
		{"negative window", func(g *GuardConfig) { g.WindowSeconds = -1 }},
		{"zero max attempts", func(g *GuardConfig) { g.MaxAttempts = 0 }},
		{"zero ban duration", func(g *GuardConfig) { g.BanDuration = 0 }},
		{"max ban below base", func(g *GuardConfig) { g.MaxBanDuration = time.Minute }},
		{"multiplier below one", func(g *GuardConfig) { g.EscalationMultiplier = 0.5 }},
		{"zero escalation threshold", func(g *GuardConfig) { g.EscalationThreshold = 0 }},
		{"zero lock failures", func(g *GuardConfig) { g.LockMaxFailures = 0 }},
		{"zero trigger limit", func(g *GuardConfig) { g.LockoutTriggerLimit = 0 }},
		{"zero shared factor", func(g *GuardConfig) { g.SharedThresholdFactor = 0 }},
		{"zero tracked keys", func(g *GuardConfig) { g.MaxTrackedKeys = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := defaultGuardConfig()
			tt.mutate(&g)
			assert.Error(t, g.Validate())
		})
	}
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_GuardDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-perfectly-fine-dev-secret")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Guard.WindowSeconds)
	assert.Equal(t, 10, cfg.Guard.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Guard.BanDuration)
	assert.Equal(t, 3, cfg.Guard.EscalationThreshold)
	assert.Equal(t, 50, cfg.Guard.SharedUsernameThreshold)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.False(t, cfg.Guard.FailClosed)
}

func TestLoad_RejectsBadGuardValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-perfectly-fine-dev-secret")
	t.Setenv("WINDOW_SECONDS", "-5")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ParsesAllowlist(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-perfectly-fine-dev-secret")
	t.Setenv("ALLOWLIST", "10.0.0.1, 10.0.0.2 ,")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Guard.Allowlist)
}

func TestLoad_RejectsUnknownStoreBackend(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-perfectly-fine-dev-secret")
	t.Setenv("STORE_BACKEND", "redis")
	_, err := Load()
	assert.Error(t, err)
}
