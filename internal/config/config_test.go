package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_STR", "hello")
	t.Setenv("X_BOOL", "yes")
	t.Setenv("X_INT", "42")
	t.Setenv("X_DUR", "250ms")
	t.Setenv("X_BAD", "not-a-number")

	assert.Equal(t, "hello", envStr("X_STR", "d"))
	assert.Equal(t, "d", envStr("X_UNSET", "d"))
	assert.True(t, envBool("X_BOOL", false))
	assert.True(t, envBool("X_UNSET", true))
	assert.Equal(t, 42, envInt("X_INT", 1))
	assert.Equal(t, 1, envInt("X_BAD", 1))
	assert.Equal(t, 250*time.Millisecond, envDur("X_DUR", time.Second))
	assert.Equal(t, time.Second, envDur("X_BAD", time.Second))
}

func TestLoadBookingConfigDefaults(t *testing.T) {
	cfg := LoadBookingConfig()
	assert.Equal(t, 10, cfg.MaxQuantity)
	assert.Equal(t, 15*time.Minute, cfg.HoldDuration)
	assert.True(t, cfg.DuplicatePrevention)
	assert.Equal(t, 1, cfg.MaxActivePerUserEvent)
}

func TestLoadConsistencyConfigClamping(t *testing.T) {
	t.Setenv("MAX_RETRY_ATTEMPTS", "0")
	t.Setenv("LOCK_RETRY_DELAY", "-5ms")
	t.Setenv("TRANSACTION_TIMEOUT", "-1s")

	cfg := LoadConsistencyConfig()
	assert.Equal(t, 1, cfg.MaxRetryAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.LockRetryDelay)
	assert.Equal(t, 60*time.Second, cfg.TransactionTimeout)
}

func TestLoadRateLimitConfigClamping(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")

	cfg := LoadRateLimitConfig()
	assert.Equal(t, 1, cfg.Capacity)
	assert.Equal(t, 10*time.Second, cfg.TTL, "TTL is raised to five refill intervals")
}
