// Package cache provides a read-through Redis cache for availability and
// booking reads. Every operation fails open: a Redis outage degrades to
// database reads, it never fails a request.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/evently/bookings/internal/config"
	"github.com/evently/bookings/internal/model"
)

// Cache stores serialized availability and booking snapshots with short
// TTLs. A nil *Cache is valid and disables all operations, so callers do
// not branch on whether caching is configured.
type Cache struct {
	rdb  *redis.Client
	cfg  config.CacheConfig
	logg zerolog.Logger
}

// New builds a Cache. Returns nil when caching is disabled or no Redis
// client is available.
func New(rdb *redis.Client, cfg config.CacheConfig, logg zerolog.Logger) *Cache {
	if rdb == nil || !cfg.Enabled {
		return nil
	}
	return &Cache{rdb: rdb, cfg: cfg, logg: logg}
}

func (c *Cache) availabilityKey(eventID uint64) string {
	return c.cfg.Prefix + ":availability:event:" + strconv.FormatUint(eventID, 10)
}

func (c *Cache) bookingKey(id uint64) string {
	return c.cfg.Prefix + ":booking:" + strconv.FormatUint(id, 10)
}

func (c *Cache) userBookingsPattern(userID uint64) string {
	return c.cfg.Prefix + ":user:" + strconv.FormatUint(userID, 10) + ":bookings:*"
}

// UserBookingsKey builds the cache key for one page of a user's booking
// list. The status filter and pagination are part of the key.
func (c *Cache) userBookingsKey(userID uint64, status string, page, pageSize int) string {
	if status == "" {
		status = "all"
	}
	return c.cfg.Prefix + ":user:" + strconv.FormatUint(userID, 10) + ":bookings:" +
		status + ":" + strconv.Itoa(page) + ":" + strconv.Itoa(pageSize)
}

// GetAvailability returns the cached availability snapshot, or nil on a
// miss or any Redis error.
func (c *Cache) GetAvailability(ctx context.Context, eventID uint64) *model.EventAvailability {
	if c == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, c.availabilityKey(eventID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logg.Debug().Err(err).Uint64("event_id", eventID).Msg("availability cache read failed")
		}
		return nil
	}
	var a model.EventAvailability
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil
	}
	return &a
}

// SetAvailability stores an availability snapshot with the configured TTL.
func (c *Cache) SetAvailability(ctx context.Context, a *model.EventAvailability) {
	if c == nil || a == nil {
		return
	}
	c.set(ctx, c.availabilityKey(a.EventID), a, c.cfg.AvailabilityTTL)
}

// InvalidateAvailability drops the cached snapshot after a capacity
// mutation committed.
func (c *Cache) InvalidateAvailability(ctx context.Context, eventID uint64) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, c.availabilityKey(eventID)).Err(); err != nil {
		c.logg.Debug().Err(err).Uint64("event_id", eventID).Msg("availability cache invalidation failed")
	}
}

// GetBooking returns a cached booking, or nil on a miss.
func (c *Cache) GetBooking(ctx context.Context, id uint64) *model.Booking {
	if c == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, c.bookingKey(id)).Bytes()
	if err != nil {
		return nil
	}
	var b model.Booking
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil
	}
	return &b
}

// SetBooking stores a booking snapshot with the configured TTL.
func (c *Cache) SetBooking(ctx context.Context, b *model.Booking) {
	if c == nil || b == nil {
		return
	}
	c.set(ctx, c.bookingKey(b.ID), b, c.cfg.BookingTTL)
}

// InvalidateBooking drops a booking snapshot and every cached list page of
// its owner.
func (c *Cache) InvalidateBooking(ctx context.Context, bookingID, userID uint64) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, c.bookingKey(bookingID)).Err(); err != nil {
		c.logg.Debug().Err(err).Uint64("booking_id", bookingID).Msg("booking cache invalidation failed")
	}
	c.invalidateUserBookings(ctx, userID)
}

// BookingPage is the cached form of one list page.
type BookingPage struct {
	Bookings []model.Booking `json:"bookings"`
	Total    int             `json:"total"`
}

// GetUserBookings returns a cached list page, or nil on a miss.
func (c *Cache) GetUserBookings(ctx context.Context, userID uint64, status string, page, pageSize int) *BookingPage {
	if c == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, c.userBookingsKey(userID, status, page, pageSize)).Bytes()
	if err != nil {
		return nil
	}
	var p BookingPage
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return &p
}

// SetUserBookings stores a list page with the configured TTL.
func (c *Cache) SetUserBookings(ctx context.Context, userID uint64, status string, page, pageSize int, p *BookingPage) {
	if c == nil || p == nil {
		return
	}
	c.set(ctx, c.userBookingsKey(userID, status, page, pageSize), p, c.cfg.UserBookingsTTL)
}

// invalidateUserBookings scans and deletes all cached list pages for one
// user. SCAN keeps the operation incremental on a shared Redis.
func (c *Cache) invalidateUserBookings(ctx context.Context, userID uint64) {
	iter := c.rdb.Scan(ctx, 0, c.userBookingsPattern(userID), 50).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			c.logg.Debug().Err(err).Str("key", iter.Val()).Msg("list cache invalidation failed")
		}
	}
	if err := iter.Err(); err != nil {
		c.logg.Debug().Err(err).Uint64("user_id", userID).Msg("list cache scan failed")
	}
}

func (c *Cache) set(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logg.Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
}
