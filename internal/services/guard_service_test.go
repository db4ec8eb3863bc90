package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionsec/bastion/internal/models"
)

type guardFixture struct {
	guard   *GuardService
	counter *WindowCounter
	bans    *BanService
	locks   *AccountLockService
	shared  *SharedAddressService
	sink    *recorderSink
	current time.Time
}

func newGuardFixture(t *testing.T, allowlist ...string) *guardFixture {
	t.Helper()

	f := &guardFixture{
		sink:    &recorderSink{},
		current: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.current }

	logger := testLogger()
	audit := testAudit()

	f.counter = NewWindowCounter(30*time.Second, 10)
	f.counter.now = clock
	f.bans = NewBanService(testBanConfig(), f.sink, audit, nil, logger)
	f.bans.now = clock
	f.locks = NewAccountLockService(testLockConfig(), f.sink, audit, logger)
	f.locks.now = clock
	f.shared = NewSharedAddressService(SharedConfig{
		UsernameThreshold:  50,
		SignatureThreshold: 20,
		ThresholdFactor:    5,
	}, f.sink, logger)
	f.shared.now = clock

	alerts := NewAlertService(testAlertConfig(), &recorderNotifier{}, logger)
	alerts.now = clock

	f.guard = NewGuardService(GuardServiceConfig{
		MaxAttempts:    10,
		BaseRetryAfter: 15 * time.Minute,
		MaxRetryAfter:  24 * time.Hour,
		Allowlist:      allowlist,
		JournalWindow:  time.Hour,
	}, f.counter, f.bans, f.locks, f.shared, alerts, nil, logger)

	return f
}

func (f *guardFixture) fail(account, source string) {
	f.guard.OnAuthenticationOutcome(context.Background(), account, source, "sig", false)
}

func (f *guardFixture) succeed(account, source string) {
	f.guard.OnAuthenticationOutcome(context.Background(), account, source, "sig", true)
}

func TestGuard_TenFailuresInWindowNotBanned(t *testing.T) {
	f := newGuardFixture(t)

	for i := 0; i < 10; i++ {
		f.current = f.current.Add(time.Second)
		f.fail(fmt.Sprintf("user-%d", i), "1.2.3.4")
	}

	decision := f.guard.CheckSource("1.2.3.4")
	assert.False(t, decision.Blocked)
}

func TestGuard_EleventhFailureBans(t *testing.T) {
	f := newGuardFixture(t)

	for i := 0; i < 11; i++ {
		f.current = f.current.Add(time.Second)
		f.fail(fmt.Sprintf("user-%d", i), "1.2.3.4")
	}

	decision := f.guard.CheckSource("1.2.3.4")
	assert.True(t, decision.Blocked)
	assert.Equal(t, 15*time.Minute, decision.RetryAfter)
}

func TestGuard_WindowSlidesPastOldFailures(t *testing.T) {
	f := newGuardFixture(t)

	for i := 0; i < 10; i++ {
		f.fail("alice", "1.2.3.4")
	}

	// The burst ages out; one more failure does not overflow
	f.current = f.current.Add(31 * time.Second)
	f.fail("alice", "1.2.3.4")

	assert.False(t, f.guard.CheckSource("1.2.3.4").Blocked)
}

func TestGuard_SuccessClearsAccountNotSource(t *testing.T) {
	f := newGuardFixture(t)

	for i := 0; i < 9; i++ {
		f.fail(fmt.Sprintf("user-%d", i), "1.2.3.4")
	}
	f.succeed("user-0", "1.2.3.4")

	// The source window survived the success; two more failures overflow it
	f.fail("user-a", "1.2.3.4")
	assert.False(t, f.guard.CheckSource("1.2.3.4").Blocked)
	f.fail("user-b", "1.2.3.4")
	assert.True(t, f.guard.CheckSource("1.2.3.4").Blocked)
}

func TestGuard_SuccessClearsAccountLockState(t *testing.T) {
	f := newGuardFixture(t)

	for i := 0; i < 4; i++ {
		f.fail("bob", fmt.Sprintf("10.0.0.%d", i))
	}
	f.succeed("bob", "10.0.0.99")

	// Four fresh failures stay below the lock threshold of five
	for i := 0; i < 4; i++ {
		f.fail("bob", fmt.Sprintf("10.0.1.%d", i))
	}
	assert.False(t, f.guard.CheckAccount("bob"))
}

func TestGuard_AccountLockIndependentOfSource(t *testing.T) {
	f := newGuardFixture(t)

	// Five failures against one account from five different sources
	for i := 0; i < 5; i++ {
		f.fail("bob", fmt.Sprintf("10.0.0.%d", i))
	}

	assert.True(t, f.guard.CheckAccount("bob"))
	for i := 0; i < 5; i++ {
		assert.False(t, f.guard.CheckSource(fmt.Sprintf("10.0.0.%d", i)).Blocked)
	}
}

func TestGuard_AllowlistedSourceNeverBanned(t *testing.T) {
	f := newGuardFixture(t, "9.9.9.9")

	for i := 0; i < 50; i++ {
		f.current = f.current.Add(100 * time.Millisecond)
		f.fail(fmt.Sprintf("user-%d", i%3), "9.9.9.9")
	}

	assert.False(t, f.guard.CheckSource("9.9.9.9").Blocked)
}

func TestGuard_AllowlistedSourceStillLocksAccounts(t *testing.T) {
	f := newGuardFixture(t, "9.9.9.9")

	for i := 0; i < 5; i++ {
		f.fail("bob", "9.9.9.9")
	}

	assert.True(t, f.guard.CheckAccount("bob"))
}

func TestGuard_SharedAddressRaisesThreshold(t *testing.T) {
	f := newGuardFixture(t)

	// 50 distinct accounts mark the source shared; threshold becomes 10*5
	for i := 0; i < 50; i++ {
		f.current = f.current.Add(5 * time.Second)
		f.fail(fmt.Sprintf("student-%d", i), "198.51.100.1")
	}
	require.True(t, f.shared.IsShared("198.51.100.1"))

	// Burst of 20 failures in one window: over the base limit of 10,
	// under the relaxed limit of 50
	f.current = f.current.Add(time.Minute)
	for i := 0; i < 20; i++ {
		f.fail(fmt.Sprintf("student-%d", i), "198.51.100.1")
	}
	assert.False(t, f.guard.CheckSource("198.51.100.1").Blocked)

	// A non-shared source gets banned for the same burst
	for i := 0; i < 20; i++ {
		f.fail("victim", "203.0.113.9")
	}
	assert.True(t, f.guard.CheckSource("203.0.113.9").Blocked)
}

func TestGuard_LockoutAbuserEscalatedToBan(t *testing.T) {
	f := newGuardFixture(t)

	// One source locks three distinct accounts, pacing to stay under the
	// source window limit
	for i := 0; i < 3; i++ {
		for j := 0; j < 5; j++ {
			f.current = f.current.Add(10 * time.Second)
			f.fail(fmt.Sprintf("victim-%d", i), "6.6.6.6")
		}
	}
	require.True(t, f.locks.IsLockoutAbuser("6.6.6.6"))

	decision := f.guard.CheckSource("6.6.6.6")
	assert.True(t, decision.Blocked)

	ban := f.bans.GetBan("6.6.6.6")
	require.NotNil(t, ban)
	assert.Equal(t, models.BanReasonLockoutAbuse, ban.Reason)
}

func TestGuard_EscalatedBanReportsMaxRetryAfter(t *testing.T) {
	f := newGuardFixture(t)

	for n := 0; n < 3; n++ {
		f.bans.RegisterOverflow("1.2.3.4", 11, models.BanReasonRateLimit)
	}

	decision := f.guard.CheckSource("1.2.3.4")
	assert.True(t, decision.Blocked)
	assert.Equal(t, 24*time.Hour, decision.RetryAfter)
}

func TestGuard_StatsSnapshot(t *testing.T) {
	f := newGuardFixture(t)

	for i := 0; i < 11; i++ {
		f.current = f.current.Add(time.Second)
		f.fail("bob", "1.2.3.4")
	}

	stats := f.guard.Stats()
	assert.Equal(t, 1, stats.ActiveBans)
	assert.Equal(t, 1, stats.ActiveLocks)
	assert.Equal(t, 1, stats.TrackedSources)
	assert.Equal(t, 1, stats.TrackedAccounts)
	assert.Equal(t, 1, stats.TrackedProfiles)
}

type recordingJournal struct {
	attempts []*models.AuthAttempt
}

func (j *recordingJournal) RecordOutcome(_ context.Context, attempt *models.AuthAttempt) error {
	j.attempts = append(j.attempts, attempt)
	return nil
}

func TestGuard_JournalReceivesHashedKeysOnly(t *testing.T) {
	f := newGuardFixture(t)
	journal := &recordingJournal{}
	f.guard.journal = journal

	f.fail("alice", "1.2.3.4")

	require.Len(t, journal.attempts, 1)
	attempt := journal.attempts[0]
	assert.NotEqual(t, "alice", attempt.AccountHash)
	assert.NotEqual(t, "1.2.3.4", attempt.SourceHash)
	assert.Len(t, attempt.SourceHash, 16)
	assert.False(t, attempt.Success)
}
