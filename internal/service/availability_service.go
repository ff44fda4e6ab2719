package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/evently/bookings/internal/cache"
	"github.com/evently/bookings/internal/config"
	"github.com/evently/bookings/internal/lock"
	"github.com/evently/bookings/internal/model"
)

// StatsLedger extends the ledger with the aggregate view used by the admin
// surface.
type StatsLedger interface {
	AvailabilityLedger
	Stats(ctx context.Context) (model.AvailabilityStats, error)
}

// AvailabilityService serves availability reads through the cache and the
// admin mutations on the ledger.
type AvailabilityService struct {
	ledger StatsLedger
	locker lock.Locker
	cache  *cache.Cache
	cons   config.ConsistencyConfig
	logg   zerolog.Logger
}

// NewAvailabilityService wires an AvailabilityService. cache may be nil.
func NewAvailabilityService(ledger StatsLedger, locker lock.Locker, c *cache.Cache, cons config.ConsistencyConfig, logg zerolog.Logger) *AvailabilityService {
	return &AvailabilityService{ledger: ledger, locker: locker, cache: c, cons: cons, logg: logg}
}

// GetAvailability returns the event's capacity snapshot, serving from cache
// when possible. Snapshots may lag a committed write by at most the cache
// TTL; any booking mutation deletes the key eagerly.
func (s *AvailabilityService) GetAvailability(ctx context.Context, eventID uint64) (*model.EventAvailability, error) {
	if a := s.cache.GetAvailability(ctx, eventID); a != nil {
		return a, nil
	}
	a, err := s.ledger.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	s.cache.SetAvailability(ctx, a)
	return a, nil
}

// CheckAvailability reports whether the event currently has room for the
// requested quantity. Advisory only: the authoritative check happens inside
// the booking transaction.
func (s *AvailabilityService) CheckAvailability(ctx context.Context, eventID uint64, quantity int) (bool, *model.EventAvailability, error) {
	if quantity < 1 {
		return false, nil, model.ErrInvalidQuantity
	}
	a, err := s.GetAvailability(ctx, eventID)
	if err != nil {
		return false, nil, err
	}
	return a.Available >= quantity, a, nil
}

// CreateAvailability publishes the ledger row for a new event with all
// capacity available. Admin only.
func (s *AvailabilityService) CreateAvailability(ctx context.Context, eventID uint64, totalCapacity int, priceCents int64) (*model.EventAvailability, error) {
	if totalCapacity < 0 {
		return nil, fmt.Errorf("total capacity must not be negative: %w", model.ErrInvalidQuantity)
	}
	a, err := s.ledger.Create(ctx, eventID, totalCapacity, priceCents)
	if err != nil {
		return nil, err
	}
	s.logg.Info().Uint64("event_id", eventID).Int("capacity", totalCapacity).Msg("availability created")
	return a, nil
}

// UpdateCapacity changes an event's total capacity under the event lock.
// Shrinking below the currently held capacity fails with
// model.ErrInsufficientCapacity.
func (s *AvailabilityService) UpdateCapacity(ctx context.Context, eventID uint64, newTotal int) (*model.EventAvailability, error) {
	if newTotal < 0 {
		return nil, fmt.Errorf("total capacity must not be negative: %w", model.ErrInvalidQuantity)
	}
	handle, err := s.locker.Acquire(ctx, lock.EventKey(eventID))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := handle.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Warn().Err(err).Uint64("event_id", eventID).Msg("lock release failed")
		}
	}()

	current, err := s.ledger.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.UpdateTotalCapacity(ctx, eventID, current.Version, newTotal); err != nil {
		return nil, err
	}
	s.cache.InvalidateAvailability(ctx, eventID)

	updated, err := s.ledger.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	s.logg.Info().Uint64("event_id", eventID).Int("total", newTotal).Msg("capacity updated")
	return updated, nil
}

// Stats returns aggregate capacity numbers across all events. Admin only.
func (s *AvailabilityService) Stats(ctx context.Context) (model.AvailabilityStats, error) {
	return s.ledger.Stats(ctx)
}
