package services

import (
	"math"
	"time"
)

// EscalatedBanDuration computes the duration of the n-th ban for a source
// within the escalation window. Below the threshold every ban gets the base
// duration; from the threshold on, duration grows exponentially with the
// offense count and is capped at max. The second return value reports whether
// the ban counts as escalated.
//
// Pure function; the registry that calls it owns all state.
func EscalatedBanDuration(base time.Duration, offenseCount int, multiplier float64, threshold int, max time.Duration) (time.Duration, bool) {
	if offenseCount < threshold {
		return base, false
	}

	seconds := base.Seconds() * math.Pow(multiplier, float64(offenseCount-1))
	capped := max.Seconds()
	if seconds > capped || math.IsInf(seconds, 1) || math.IsNaN(seconds) {
		seconds = capped
	}
	return time.Duration(seconds * float64(time.Second)), true
}
