package models

// GuardStats is a point-in-time snapshot of the guard registries, exposed to
// the monitoring surface.
type GuardStats struct {
	ActiveBans      int `json:"active_bans"`
	EscalatedBans   int `json:"escalated_bans"`
	ActiveLocks     int `json:"active_locks"`
	TrackedSources  int `json:"tracked_sources"`
	TrackedAccounts int `json:"tracked_accounts"`
	TrackedProfiles int `json:"tracked_profiles"`
	SharedProfiles  int `json:"shared_profiles"`
	PendingAlerts   int `json:"pending_alerts"`
}
