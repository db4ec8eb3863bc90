package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bastionsec/bastion/internal/models"
)

// Counters are package-level so the registries can increment them without
// holding a reference; gauges come from the stats snapshot at scrape time.
var (
	BansCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bastion",
		Name:      "bans_created_total",
		Help:      "Bans issued, by reason.",
	}, []string{"reason"})

	LocksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bastion",
		Name:      "account_locks_created_total",
		Help:      "Account locks issued.",
	})

	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bastion",
		Name:      "alerts_sent_total",
		Help:      "Alerts delivered to the downstream channel, by severity.",
	}, []string{"severity"})

	AlertsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bastion",
		Name:      "alerts_queued_total",
		Help:      "Alerts deferred to the aggregated summary.",
	})

	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bastion",
		Name:      "auth_attempts_total",
		Help:      "Authentication attempts observed, by outcome.",
	}, []string{"outcome"})
)

// RegisterGuardStats exposes the guard's point-in-time snapshot as gauges,
// evaluated at scrape time.
func RegisterGuardStats(reg prometheus.Registerer, stats func() models.GuardStats) {
	gauge := func(name, help string, value func(models.GuardStats) int) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "bastion",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(stats())) }))
	}

	gauge("active_bans", "Currently active source bans.", func(s models.GuardStats) int { return s.ActiveBans })
	gauge("escalated_bans", "Currently active escalated bans.", func(s models.GuardStats) int { return s.EscalatedBans })
	gauge("active_locks", "Currently active account locks.", func(s models.GuardStats) int { return s.ActiveLocks })
	gauge("tracked_sources", "Source keys tracked by the window counter.", func(s models.GuardStats) int { return s.TrackedSources })
	gauge("tracked_accounts", "Accounts with recorded failures.", func(s models.GuardStats) int { return s.TrackedAccounts })
	gauge("tracked_profiles", "Shared-address profiles tracked.", func(s models.GuardStats) int { return s.TrackedProfiles })
	gauge("shared_profiles", "Profiles flagged as shared addresses.", func(s models.GuardStats) int { return s.SharedProfiles })
	gauge("pending_alerts", "Alerts queued for the next summary flush.", func(s models.GuardStats) int { return s.PendingAlerts })
}
