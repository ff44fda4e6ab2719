package config

import "time"

// ConsistencyConfig groups the knobs of the concurrency-control protocol.
// The distributed lock is the primary serialization mechanism; the
// optimistic version check is a backstop, so both stay enabled in normal
// operation. LockTTL is the server-side auto-release so a crashed holder
// cannot deadlock an event.
type ConsistencyConfig struct {
	LockTTL            time.Duration // server-side lock expiry
	LockWait           time.Duration // max time to block waiting for the lock
	LockRetryDelay     time.Duration // pause between lock acquisition attempts
	MaxRetryAttempts   int           // retries after a version conflict
	RetryDelay         time.Duration // backoff between version-conflict retries
	TransactionTimeout time.Duration // per-transaction deadline
}

// LoadConsistencyConfig reads the consistency settings from the
// environment. Defaults match the values the engine was tuned with.
func LoadConsistencyConfig() ConsistencyConfig {
	cfg := ConsistencyConfig{
		LockTTL:            envDur("LOCK_TTL", 30*time.Second),
		LockWait:           envDur("LOCK_WAIT", 10*time.Second),
		LockRetryDelay:     envDur("LOCK_RETRY_DELAY", 100*time.Millisecond),
		MaxRetryAttempts:   envInt("MAX_RETRY_ATTEMPTS", 3),
		RetryDelay:         envDur("RETRY_DELAY", 100*time.Millisecond),
		TransactionTimeout: envDur("TRANSACTION_TIMEOUT", 60*time.Second),
	}
	if cfg.MaxRetryAttempts < 1 {
		cfg.MaxRetryAttempts = 1
	}
	if cfg.LockRetryDelay <= 0 {
		cfg.LockRetryDelay = 100 * time.Millisecond
	}
	if cfg.TransactionTimeout <= 0 {
		cfg.TransactionTimeout = 60 * time.Second
	}
	return cfg
}

// BookingConfig groups the business policy knobs of the reservation
// protocol. DuplicatePrevention and MaxActivePerUserEvent form the
// duplicate-booking policy hook: when enabled, a user may hold at most
// MaxActivePerUserEvent active (pending or confirmed) bookings for the same
// event. Historical bookings never count.
type BookingConfig struct {
	MaxQuantity           int           // upper bound on tickets per booking
	HoldDuration          time.Duration // how long a pending booking holds capacity
	DuplicatePrevention   bool          // reject bookings beyond the per-user limit
	MaxActivePerUserEvent int           // active bookings a user may hold per event
}

// LoadBookingConfig reads the booking policy settings from the environment.
func LoadBookingConfig() BookingConfig {
	cfg := BookingConfig{
		MaxQuantity:           envInt("MAX_BOOKING_QUANTITY", 10),
		HoldDuration:          envDur("BOOKING_HOLD_DURATION", 15*time.Minute),
		DuplicatePrevention:   envBool("ENABLE_DUPLICATE_PREVENTION", true),
		MaxActivePerUserEvent: envInt("MAX_ACTIVE_BOOKINGS_PER_USER_EVENT", 1),
	}
	if cfg.MaxQuantity < 1 {
		cfg.MaxQuantity = 1
	}
	if cfg.HoldDuration <= 0 {
		cfg.HoldDuration = 15 * time.Minute
	}
	return cfg
}

// ReclaimerConfig controls the background expiry sweep.
type ReclaimerConfig struct {
	Enabled   bool          // run the sweeper at all
	Interval  time.Duration // how often to sweep
	BatchSize int           // max bookings processed per sweep
}

// LoadReclaimerConfig reads the reclaimer settings from the environment.
func LoadReclaimerConfig() ReclaimerConfig {
	cfg := ReclaimerConfig{
		Enabled:   envBool("RECLAIMER_ENABLED", true),
		Interval:  envDur("RECLAIMER_INTERVAL", 60*time.Second),
		BatchSize: envInt("RECLAIMER_BATCH_SIZE", 100),
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	return cfg
}
