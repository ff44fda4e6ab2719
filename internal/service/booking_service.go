// Package service implements the reservation protocol over the capacity
// ledger, the booking store and the per-event distributed lock. The lock
// serializes writers for one event; the ledger's version check is the
// backstop that catches anything the lock missed. Cache invalidation and
// event publication happen strictly after commit and never inside the lock.
package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evently/bookings/internal/cache"
	"github.com/evently/bookings/internal/clock"
	"github.com/evently/bookings/internal/config"
	"github.com/evently/bookings/internal/lock"
	"github.com/evently/bookings/internal/model"
	"github.com/evently/bookings/internal/queue"
)

// AvailabilityLedger is the capacity ledger the protocol mutates.
type AvailabilityLedger interface {
	Get(ctx context.Context, eventID uint64) (*model.EventAvailability, error)
	ApplyDelta(ctx context.Context, eventID uint64, expectedVersion uint32, d model.CapacityDelta) (uint32, error)
	Create(ctx context.Context, eventID uint64, totalCapacity int, priceCents int64) (*model.EventAvailability, error)
	UpdateTotalCapacity(ctx context.Context, eventID uint64, expectedVersion uint32, newTotal int) (uint32, error)
}

// BookingStore persists booking records and their guarded status
// transitions. WithTx must give the other stores' calls inside fn the same
// commit point.
type BookingStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, b *model.Booking) error
	CreateItems(ctx context.Context, items []model.BookingItem) error
	GetByID(ctx context.Context, id uint64) (*model.Booking, error)
	MarkConfirmed(ctx context.Context, id uint64, expectedVersion uint32, at time.Time) error
	MarkCancelled(ctx context.Context, id uint64, expectedVersion uint32, at time.Time) error
	MarkExpired(ctx context.Context, id uint64, expectedVersion uint32) error
	CountActiveByUserEvent(ctx context.Context, userID, eventID uint64) (int, error)
	ListByUser(ctx context.Context, userID uint64, status *model.BookingStatus, page, pageSize int) ([]model.Booking, int, error)
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)
}

// AuditLog records booking mutations inside the mutating transaction.
type AuditLog interface {
	Append(ctx context.Context, e *model.AuditLogEntry) error
}

// EventPublisher publishes booking lifecycle events after commit. A nil
// publisher disables publication.
type EventPublisher interface {
	PublishConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
	PublishCancelled(ctx context.Context, ev queue.BookingCancelledEvent) error
	PublishExpired(ctx context.Context, ev queue.BookingExpiredEvent) error
}

// BookingService drives the reservation protocol.
type BookingService struct {
	ledger    AvailabilityLedger
	bookings  BookingStore
	audit     AuditLog
	locker    lock.Locker
	cache     *cache.Cache
	publisher EventPublisher
	clk       clock.Clock
	cons      config.ConsistencyConfig
	policy    config.BookingConfig
	logg      zerolog.Logger
}

// NewBookingService wires a BookingService. cache and publisher may be nil.
func NewBookingService(
	ledger AvailabilityLedger,
	bookings BookingStore,
	audit AuditLog,
	locker lock.Locker,
	c *cache.Cache,
	publisher EventPublisher,
	clk clock.Clock,
	cons config.ConsistencyConfig,
	policy config.BookingConfig,
	logg zerolog.Logger,
) *BookingService {
	return &BookingService{
		ledger:    ledger,
		bookings:  bookings,
		audit:     audit,
		locker:    locker,
		cache:     c,
		publisher: publisher,
		clk:       clk,
		cons:      cons,
		policy:    policy,
		logg:      logg,
	}
}

// newBookingReference builds the human-facing reference, e.g.
// BK-20260828-9F3C01AB. The random part comes from a v4 UUID so references
// never leak booking volume.
func newBookingReference(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("BK-%s-%s", now.UTC().Format("20060102"),
		strings.ToUpper(hex.EncodeToString(id[:4])))
}

// retry runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget runs out. Only version conflicts are retried: they mean a
// concurrent writer won the race and the world may have room for us on a
// fresh read.
func (s *BookingService) retry(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.cons.MaxRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cons.RetryDelay):
			}
		}
		err = op(ctx)
		if !errors.Is(err, model.ErrConcurrencyConflict) {
			return err
		}
		s.logg.Debug().Int("attempt", attempt+1).Msg("version conflict, retrying")
	}
	return err
}

// inTx runs fn in one transaction under the configured per-transaction
// deadline. When the deadline fires the driver rolls the transaction back
// and the error surfaces to the caller; the lock release does not depend on
// this context.
func (s *BookingService) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.cons.TransactionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cons.TransactionTimeout)
		defer cancel()
	}
	return s.bookings.WithTx(ctx, fn)
}

// withEventLock acquires the per-event lock, runs fn, and releases. The
// release uses a background-derived context so an already-cancelled request
// cannot leave the lock to time out on its own.
func (s *BookingService) withEventLock(ctx context.Context, eventID uint64, fn func(ctx context.Context) error) error {
	handle, err := s.locker.Acquire(ctx, lock.EventKey(eventID))
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := handle.Release(releaseCtx); err != nil {
			s.logg.Warn().Err(err).Uint64("event_id", eventID).Msg("lock release failed")
		}
	}()
	return fn(ctx)
}

// CreateBooking reserves capacity and records a pending booking with a hold
// deadline. The whole mutation runs under the event lock inside one
// transaction; the capacity delta and the booking row commit or roll back
// together.
func (s *BookingService) CreateBooking(ctx context.Context, userID, eventID uint64, quantity int, notes string) (*model.Booking, error) {
	if quantity < 1 || quantity > s.policy.MaxQuantity {
		return nil, fmt.Errorf("quantity must be between 1 and %d: %w", s.policy.MaxQuantity, model.ErrInvalidQuantity)
	}

	var booking *model.Booking
	err := s.retry(ctx, func(ctx context.Context) error {
		return s.withEventLock(ctx, eventID, func(ctx context.Context) error {
			return s.inTx(ctx, func(ctx context.Context) error {
				avail, err := s.ledger.Get(ctx, eventID)
				if err != nil {
					return err
				}
				if quantity > avail.Available {
					return fmt.Errorf("requested %d, available %d: %w",
						quantity, avail.Available, model.ErrInsufficientCapacity)
				}
				if s.policy.DuplicatePrevention {
					active, err := s.bookings.CountActiveByUserEvent(ctx, userID, eventID)
					if err != nil {
						return err
					}
					if active >= s.policy.MaxActivePerUserEvent {
						return model.ErrDuplicateBooking
					}
				}
				if _, err := s.ledger.ApplyDelta(ctx, eventID, avail.Version, model.ReserveDelta(quantity)); err != nil {
					return err
				}

				now := s.clk.Now()
				expires := now.Add(s.policy.HoldDuration)
				b := &model.Booking{
					UserID:           userID,
					EventID:          eventID,
					BookingReference: newBookingReference(now),
					Quantity:         quantity,
					TotalAmountCents: avail.PriceCents * int64(quantity),
					Currency:         "USD",
					Status:           model.BookingPending,
					PaymentStatus:    model.PaymentPending,
					ExpiresAt:        &expires,
					Version:          1,
					Notes:            notes,
				}
				if err := s.bookings.Create(ctx, b); err != nil {
					return err
				}
				if err := s.bookings.CreateItems(ctx, []model.BookingItem{{
					BookingID:         b.ID,
					PricePerItemCents: avail.PriceCents,
					Quantity:          quantity,
					TotalPriceCents:   avail.PriceCents * int64(quantity),
				}}); err != nil {
					return err
				}
				if err := s.audit.Append(ctx, &model.AuditLogEntry{
					BookingID: b.ID,
					Action:    model.AuditActionCreate,
					NewValue:  string(model.BookingPending),
					ChangedBy: &userID,
				}); err != nil {
					return err
				}
				booking = b
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateAvailability(ctx, eventID)
	s.cache.InvalidateBooking(ctx, booking.ID, userID)
	s.logg.Info().
		Uint64("booking_id", booking.ID).
		Str("reference", booking.BookingReference).
		Uint64("event_id", eventID).
		Int("quantity", quantity).
		Msg("booking created")
	return booking, nil
}

// ConfirmBooking moves a pending booking to confirmed and shifts its
// capacity from reserved to confirmed. A hold whose deadline passed is
// expired on the spot and the confirm is rejected.
func (s *BookingService) ConfirmBooking(ctx context.Context, bookingID, actorID uint64, isAdmin bool) (*model.Booking, error) {
	var booking *model.Booking
	err := s.retry(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.UserID != actorID && !isAdmin {
			return model.ErrForbidden
		}
		now := s.clk.Now()
		if b.IsExpired(now) {
			if err := s.expireBooking(ctx, b); err != nil && !errors.Is(err, model.ErrConcurrencyConflict) {
				s.logg.Warn().Err(err).Uint64("booking_id", b.ID).Msg("lazy expiry failed")
			}
			return model.ErrBookingExpired
		}
		if b.Status != model.BookingPending {
			return fmt.Errorf("cannot confirm a %s booking: %w", b.Status, model.ErrInvalidTransition)
		}

		err = s.withEventLock(ctx, b.EventID, func(ctx context.Context) error {
			return s.inTx(ctx, func(ctx context.Context) error {
				fresh, err := s.bookings.GetByID(ctx, bookingID)
				if err != nil {
					return err
				}
				if fresh.Status != model.BookingPending {
					return model.ErrConcurrencyConflict
				}
				if err := s.bookings.MarkConfirmed(ctx, fresh.ID, fresh.Version, now); err != nil {
					return err
				}
				avail, err := s.ledger.Get(ctx, fresh.EventID)
				if err != nil {
					return err
				}
				if _, err := s.ledger.ApplyDelta(ctx, fresh.EventID, avail.Version, model.ConfirmDelta(fresh.Quantity)); err != nil {
					return err
				}
				return s.audit.Append(ctx, &model.AuditLogEntry{
					BookingID: fresh.ID,
					Action:    model.AuditActionConfirm,
					FieldName: "status",
					OldValue:  string(model.BookingPending),
					NewValue:  string(model.BookingConfirmed),
					ChangedBy: &actorID,
				})
			})
		})
		if err != nil {
			return err
		}
		booking, err = s.bookings.GetByID(ctx, bookingID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateAvailability(ctx, booking.EventID)
	s.cache.InvalidateBooking(ctx, booking.ID, booking.UserID)
	s.publishConfirmed(ctx, booking)
	s.logg.Info().
		Uint64("booking_id", booking.ID).
		Str("reference", booking.BookingReference).
		Msg("booking confirmed")
	return booking, nil
}

// CancelBooking cancels a pending or confirmed booking and returns its
// capacity to the available bucket.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, actorID uint64, isAdmin bool, reason string) (*model.Booking, error) {
	var booking *model.Booking
	var refunded bool
	err := s.retry(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.UserID != actorID && !isAdmin {
			return model.ErrForbidden
		}
		if !b.IsActive() {
			return fmt.Errorf("cannot cancel a %s booking: %w", b.Status, model.ErrInvalidTransition)
		}

		err = s.withEventLock(ctx, b.EventID, func(ctx context.Context) error {
			return s.inTx(ctx, func(ctx context.Context) error {
				fresh, err := s.bookings.GetByID(ctx, bookingID)
				if err != nil {
					return err
				}
				if !fresh.IsActive() {
					return model.ErrConcurrencyConflict
				}
				wasConfirmed := fresh.Status == model.BookingConfirmed
				refunded = wasConfirmed && fresh.PaymentStatus == model.PaymentCompleted
				if err := s.bookings.MarkCancelled(ctx, fresh.ID, fresh.Version, s.clk.Now()); err != nil {
					return err
				}
				avail, err := s.ledger.Get(ctx, fresh.EventID)
				if err != nil {
					return err
				}
				delta := model.ReleaseReservedDelta(fresh.Quantity)
				if wasConfirmed {
					delta = model.ReleaseConfirmedDelta(fresh.Quantity)
				}
				if _, err := s.ledger.ApplyDelta(ctx, fresh.EventID, avail.Version, delta); err != nil {
					return err
				}
				return s.audit.Append(ctx, &model.AuditLogEntry{
					BookingID: fresh.ID,
					Action:    model.AuditActionCancel,
					FieldName: "status",
					OldValue:  string(fresh.Status),
					NewValue:  string(model.BookingCancelled),
					ChangedBy: &actorID,
					Reason:    reason,
				})
			})
		})
		if err != nil {
			return err
		}
		booking, err = s.bookings.GetByID(ctx, bookingID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateAvailability(ctx, booking.EventID)
	s.cache.InvalidateBooking(ctx, booking.ID, booking.UserID)
	s.publishCancelled(ctx, booking, refunded)
	s.logg.Info().
		Uint64("booking_id", booking.ID).
		Str("reference", booking.BookingReference).
		Bool("refunded", refunded).
		Msg("booking cancelled")
	return booking, nil
}

// expireBooking performs the expiry transition for one pending booking
// whose deadline passed: mark expired, release the reserved capacity,
// audit. Used by both the lazy confirm-time path and the reclaimer.
func (s *BookingService) expireBooking(ctx context.Context, b *model.Booking) error {
	err := s.withEventLock(ctx, b.EventID, func(ctx context.Context) error {
		return s.inTx(ctx, func(ctx context.Context) error {
			fresh, err := s.bookings.GetByID(ctx, b.ID)
			if err != nil {
				return err
			}
			// Someone confirmed or cancelled it since the candidate scan.
			if !fresh.IsExpired(s.clk.Now()) {
				return model.ErrConcurrencyConflict
			}
			if err := s.bookings.MarkExpired(ctx, fresh.ID, fresh.Version); err != nil {
				return err
			}
			avail, err := s.ledger.Get(ctx, fresh.EventID)
			if err != nil {
				return err
			}
			if _, err := s.ledger.ApplyDelta(ctx, fresh.EventID, avail.Version, model.ReleaseReservedDelta(fresh.Quantity)); err != nil {
				return err
			}
			return s.audit.Append(ctx, &model.AuditLogEntry{
				BookingID: fresh.ID,
				Action:    model.AuditActionExpire,
				FieldName: "status",
				OldValue:  string(model.BookingPending),
				NewValue:  string(model.BookingExpired),
				Reason:    "hold deadline passed",
			})
		})
	})
	if err != nil {
		return err
	}

	s.cache.InvalidateAvailability(ctx, b.EventID)
	s.cache.InvalidateBooking(ctx, b.ID, b.UserID)
	s.publishExpired(ctx, b)
	return nil
}

// GetBooking returns a booking visible to the actor.
func (s *BookingService) GetBooking(ctx context.Context, bookingID, actorID uint64, isAdmin bool) (*model.Booking, error) {
	if b := s.cache.GetBooking(ctx, bookingID); b != nil {
		if b.UserID != actorID && !isAdmin {
			return nil, model.ErrForbidden
		}
		return b, nil
	}
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != actorID && !isAdmin {
		return nil, model.ErrForbidden
	}
	s.cache.SetBooking(ctx, b)
	return b, nil
}

// ListUserBookings returns one page of the user's bookings, optionally
// filtered by status.
func (s *BookingService) ListUserBookings(ctx context.Context, userID uint64, status *model.BookingStatus, page, pageSize int) ([]model.Booking, int, error) {
	statusKey := ""
	if status != nil {
		statusKey = string(*status)
	}
	if p := s.cache.GetUserBookings(ctx, userID, statusKey, page, pageSize); p != nil {
		return p.Bookings, p.Total, nil
	}
	bookings, total, err := s.bookings.ListByUser(ctx, userID, status, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	s.cache.SetUserBookings(ctx, userID, statusKey, page, pageSize, &cache.BookingPage{
		Bookings: bookings,
		Total:    total,
	})
	return bookings, total, nil
}

func (s *BookingService) publishConfirmed(ctx context.Context, b *model.Booking) {
	if s.publisher == nil {
		return
	}
	at := ""
	if b.ConfirmedAt != nil {
		at = b.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	if err := s.publisher.PublishConfirmed(ctx, queue.BookingConfirmedEvent{
		BookingID:        b.ID,
		BookingReference: b.BookingReference,
		UserID:           b.UserID,
		EventID:          b.EventID,
		Quantity:         b.Quantity,
		TotalAmountCents: b.TotalAmountCents,
		Currency:         b.Currency,
		ConfirmedAt:      at,
	}); err != nil {
		s.logg.Warn().Err(err).Uint64("booking_id", b.ID).Msg("publish confirmed event failed")
	}
}

func (s *BookingService) publishCancelled(ctx context.Context, b *model.Booking, refunded bool) {
	if s.publisher == nil {
		return
	}
	at := ""
	if b.CancelledAt != nil {
		at = b.CancelledAt.UTC().Format(time.RFC3339)
	}
	if err := s.publisher.PublishCancelled(ctx, queue.BookingCancelledEvent{
		BookingID:        b.ID,
		BookingReference: b.BookingReference,
		UserID:           b.UserID,
		EventID:          b.EventID,
		Quantity:         b.Quantity,
		Refunded:         refunded,
		CancelledAt:      at,
	}); err != nil {
		s.logg.Warn().Err(err).Uint64("booking_id", b.ID).Msg("publish cancelled event failed")
	}
}

func (s *BookingService) publishExpired(ctx context.Context, b *model.Booking) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishExpired(ctx, queue.BookingExpiredEvent{
		BookingID:        b.ID,
		BookingReference: b.BookingReference,
		UserID:           b.UserID,
		EventID:          b.EventID,
		Quantity:         b.Quantity,
		ExpiredAt:        s.clk.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		s.logg.Warn().Err(err).Uint64("booking_id", b.ID).Msg("publish expired event failed")
	}
}
