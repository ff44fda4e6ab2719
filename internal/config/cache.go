package config

import "time"

// CacheConfig defines TTLs for the read-through caches. Each resource gets
// its own lifetime: availability is the hottest and shortest-lived, user
// booking lists can tolerate more staleness. Every successful ledger
// mutation also deletes the affected keys explicitly, so these TTLs only
// bound staleness for writes this process never saw.
type CacheConfig struct {
	Enabled         bool
	AvailabilityTTL time.Duration
	BookingTTL      time.Duration
	UserBookingsTTL time.Duration
	Prefix          string
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
// Defaults are used when variables are not set.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:         envBool("CACHE_ENABLED", true),
		AvailabilityTTL: envDur("CACHE_TTL_AVAILABILITY", 30*time.Second),
		BookingTTL:      envDur("CACHE_TTL_BOOKINGS", 60*time.Second),
		UserBookingsTTL: envDur("CACHE_TTL_USER_BOOKINGS", 5*time.Minute),
		Prefix:          envStr("CACHE_PREFIX", "bookings"),
	}
}
