package session

import "time"

// StaleThreshold is how long after the last accepted sample the session
// still counts as connected. "Socket open" and "data flowing" are
// different things; freshness tracks the latter.
const StaleThreshold = 30 * time.Second

// Fresh reports whether live data is currently arriving. It is a pure
// function of the last sample time and now; there is no independent
// freshness state to drift out of sync.
func Fresh(lastSampleAt, now time.Time) bool {
	if lastSampleAt.IsZero() {
		return false
	}
	return now.Sub(lastSampleAt) < StaleThreshold
}
