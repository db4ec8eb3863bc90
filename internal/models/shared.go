package models

import "time"

// SharedAddressProfile accumulates the distinct accounts and client
// signatures observed behind one source key. Once Shared flips true it stays
// true for the profile's lifetime; flapping back would reintroduce the false
// positives the detector exists to prevent.
type SharedAddressProfile struct {
	SourceKey  string
	Accounts   map[string]struct{}
	Signatures map[string]struct{}
	Shared     bool
	FirstSeen  time.Time
}
