package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evently/bookings/internal/clock"
	"github.com/evently/bookings/internal/config"
	"github.com/evently/bookings/internal/model"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testConsistency() config.ConsistencyConfig {
	return config.ConsistencyConfig{
		LockTTL:            30 * time.Second,
		LockWait:           5 * time.Second,
		LockRetryDelay:     time.Millisecond,
		MaxRetryAttempts:   3,
		RetryDelay:         time.Millisecond,
		TransactionTimeout: 5 * time.Second,
	}
}

func testPolicy() config.BookingConfig {
	return config.BookingConfig{
		MaxQuantity:           10,
		HoldDuration:          15 * time.Minute,
		DuplicatePrevention:   true,
		MaxActivePerUserEvent: 1,
	}
}

type fixture struct {
	svc    *BookingService
	ledger *fakeLedger
	store  *fakeBookingStore
	audit  *fakeAudit
	pub    *fakePublisher
	locker *fakeLocker
}

func newFixture(t *testing.T, ledger *fakeLedger, store *fakeBookingStore, opts ...func(*config.BookingConfig)) *fixture {
	t.Helper()
	policy := testPolicy()
	for _, opt := range opts {
		opt(&policy)
	}
	audit := &fakeAudit{}
	pub := &fakePublisher{}
	locker := newFakeLocker()
	svc := NewBookingService(
		ledger, store, audit, locker, nil, pub,
		clock.NewFixed(testNow), testConsistency(), policy, zerolog.Nop(),
	)
	return &fixture{svc: svc, ledger: ledger, store: store, audit: audit, pub: pub, locker: locker}
}

func requireInvariant(t *testing.T, ledger *fakeLedger, eventID uint64) *model.EventAvailability {
	t.Helper()
	a, err := ledger.Get(context.Background(), eventID)
	require.NoError(t, err)
	require.NoError(t, a.CheckInvariant())
	return a
}

func TestBookingService_CreateBooking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("reserves capacity and records a pending hold", func(t *testing.T) {
		f := newFixture(t,
			newFakeLedger(model.EventAvailability{EventID: 7, Total: 100, Available: 100, PriceCents: 2500, Version: 1}),
			newFakeBookingStore(),
		)

		b, err := f.svc.CreateBooking(ctx, 42, 7, 3, "aisle please")
		require.NoError(t, err)

		assert.Equal(t, model.BookingPending, b.Status)
		assert.Equal(t, model.PaymentPending, b.PaymentStatus)
		assert.Equal(t, int64(7500), b.TotalAmountCents)
		require.NotNil(t, b.ExpiresAt)
		assert.Equal(t, testNow.Add(15*time.Minute), *b.ExpiresAt)
		assert.True(t, strings.HasPrefix(b.BookingReference, "BK-20260314-"), "reference %q", b.BookingReference)
		assert.Len(t, b.BookingReference, len("BK-20260314-")+8)

		a := requireInvariant(t, f.ledger, 7)
		assert.Equal(t, 97, a.Available)
		assert.Equal(t, 3, a.Reserved)
		assert.Equal(t, uint32(2), a.Version)

		require.Len(t, f.store.items, 1)
		assert.Equal(t, int64(2500), f.store.items[0].PricePerItemCents)
		require.Len(t, f.audit.byAction(model.AuditActionCreate), 1)
	})

	t.Run("rejects quantity outside bounds", func(t *testing.T) {
		f := newFixture(t,
			newFakeLedger(model.EventAvailability{EventID: 7, Total: 100, Available: 100, Version: 1}),
			newFakeBookingStore(),
		)

		_, err := f.svc.CreateBooking(ctx, 42, 7, 0, "")
		assert.ErrorIs(t, err, model.ErrInvalidQuantity)

		_, err = f.svc.CreateBooking(ctx, 42, 7, 11, "")
		assert.ErrorIs(t, err, model.ErrInvalidQuantity)
	})

	t.Run("rejects when capacity is insufficient", func(t *testing.T) {
		f := newFixture(t,
			newFakeLedger(model.EventAvailability{EventID: 7, Total: 10, Available: 2, Reserved: 8, Version: 5}),
			newFakeBookingStore(),
		)

		_, err := f.svc.CreateBooking(ctx, 42, 7, 3, "")
		assert.ErrorIs(t, err, model.ErrInsufficientCapacity)

		a := requireInvariant(t, f.ledger, 7)
		assert.Equal(t, uint32(5), a.Version, "failed booking must not touch the ledger")
	})

	t.Run("insufficient capacity is reported before the duplicate policy", func(t *testing.T) {
		exp := testNow.Add(10 * time.Minute)
		f := newFixture(t,
			newFakeLedger(model.EventAvailability{EventID: 7, Total: 10, Available: 1, Reserved: 9, Version: 3}),
			newFakeBookingStore(model.Booking{
				UserID: 42, EventID: 7, Quantity: 9,
				Status: model.BookingPending, ExpiresAt: &exp,
			}),
		)

		// Both rejections apply; the capacity check runs first.
		_, err := f.svc.CreateBooking(ctx, 42, 7, 2, "")
		assert.ErrorIs(t, err, model.ErrInsufficientCapacity)
	})

	t.Run("rejects a second active booking for the same event", func(t *testing.T) {
		exp := testNow.Add(10 * time.Minute)
		f := newFixture(t,
			newFakeLedger(model.EventAvailability{EventID: 7, Total: 100, Available: 95, Reserved: 5, Version: 2}),
			newFakeBookingStore(model.Booking{
				UserID: 42, EventID: 7, Quantity: 5,
				Status: model.BookingPending, ExpiresAt: &exp,
			}),
		)

		_, err := f.svc.CreateBooking(ctx, 42, 7, 1, "")
		assert.ErrorIs(t, err, model.ErrDuplicateBooking)
	})

	t.Run("historical bookings do not count as duplicates", func(t *testing.T) {
		f := newFixture(t,
			newFakeLedger(model.EventAvailability{EventID: 7, Total: 100, Available: 100, Version: 1}),
			newFakeBookingStore(model.Booking{
				UserID: 42, EventID: 7, Quantity: 2, Status: model.BookingCancelled,
			}),
		)

		_, err := f.svc.CreateBooking(ctx, 42, 7, 1, "")
		assert.NoError(t, err)
	})

	t.Run("duplicate prevention can be disabled", func(t *testing.T) {
		exp := testNow.Add(10 * time.Minute)
		f := newFixture(t,
			newFakeLedger(model.EventAvailability{EventID: 7, Total: 100, Available: 95, Reserved: 5, Version: 2}),
			newFakeBookingStore(model.Booking{
				UserID: 42, EventID: 7, Quantity: 5,
				Status: model.BookingPending, ExpiresAt: &exp,
			}),
			func(p *config.BookingConfig) { p.DuplicatePrevention = false },
		)

		_, err := f.svc.CreateBooking(ctx, 42, 7, 1, "")
		assert.NoError(t, err)
	})

	t.Run("unknown event", func(t *testing.T) {
		f := newFixture(t, newFakeLedger(), newFakeBookingStore())

		_, err := f.svc.CreateBooking(ctx, 42, 999, 1, "")
		assert.ErrorIs(t, err, model.ErrEventNotFound)
	})
}

func TestBookingService_ConfirmBooking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pendingFixture := func(t *testing.T) (*fixture, *model.Booking) {
		f := newFixture(t,
			newFakeLedger(model.EventAvailability{EventID: 7, Total: 100, Available: 100, PriceCents: 1000, Version: 1}),
			newFakeBookingStore(),
		)
		b, err := f.svc.CreateBooking(ctx, 42, 7, 2, "")
		require.NoError(t, err)
		return f, b
	}

	t.Run("moves reserved capacity to confirmed", func(t *testing.T) {
		f, b := pendingFixture(t)

		got, err := f.svc.ConfirmBooking(ctx, b.ID, 42, false)
		require.NoError(t, err)
		assert.Equal(t, model.BookingConfirmed, got.Status)
		assert.Equal(t, model.PaymentCompleted, got.PaymentStatus)
		assert.Nil(t, got.ExpiresAt)
		require.NotNil(t, got.ConfirmedAt)

		a := requireInvariant(t, f.ledger, 7)
		assert.Equal(t, 98, a.Available)
		assert.Equal(t, 0, a.Reserved)
		assert.Equal(t, 2, a.Confirmed)

		require.Len(t, f.pub.confirmed, 1)
		assert.Equal(t, b.ID, f.pub.confirmed[0].BookingID)
		require.Len(t, f.audit.byAction(model.AuditActionConfirm), 1)
	})

	t.Run("owner only, unless admin", func(t *testing.T) {
		f, b := pendingFixture(t)

		_, err := f.svc.ConfirmBooking(ctx, b.ID, 99, false)
		assert.ErrorIs(t, err, model.ErrForbidden)

		_, err = f.svc.ConfirmBooking(ctx, b.ID, 99, true)
		assert.NoError(t, err)
	})

	t.Run("expired hold is rejected and reclaimed", func(t *testing.T) {
		exp := testNow.Add(-time.Minute)
		store := newFakeBookingStore(model.Booking{
			UserID: 42, EventID: 7, Quantity: 4,
			Status: model.BookingPending, ExpiresAt: &exp,
		})
		f := newFixture(t,
			newFakeLedger(model.EventAvailability{EventID: 7, Total: 100, Available: 96, Reserved: 4, Version: 2}),
			store,
		)

		_, err := f.svc.ConfirmBooking(ctx, 1, 42, false)
		assert.ErrorIs(t, err, model.ErrBookingExpired)

		got, err := store.GetByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, model.BookingExpired, got.Status)

		a := requireInvariant(t, f.ledger, 7)
		assert.Equal(t, 100, a.Available)
		assert.Equal(t, 0, a.Reserved)
		require.Len(t, f.pub.expired, 1)
	})

	t.Run("terminal statuses cannot be confirmed", func(t *testing.T) {
		f := newFixture(t,
			newFakeLedger(model.EventAvailability{EventID: 7, Total: 100, Available: 100, Version: 1}),
			newFakeBookingStore(model.Booking{
				UserID: 42, EventID: 7, Quantity: 1, Status: model.BookingCancelled,
			}),
		)

		_, err := f.svc.ConfirmBooking(ctx, 1, 42, false)
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
	})

	t.Run("unknown booking", func(t *testing.T) {
		f := newFixture(t, newFakeLedger(), newFakeBookingStore())

		_, err := f.svc.ConfirmBooking(ctx, 123, 42, false)
		assert.ErrorIs(t, err, model.ErrBookingNotFound)
	})
}

func TestBookingService_CancelBooking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("cancelling a pending hold releases reserved capacity", func(t *testing.T) {
		f := newFixture(t,
			newFakeLedger(model.EventAvailability{EventID: 7, Total: 100, Available: 100, Version: 1}),
			newFakeBookingStore(),
		)
		b, err := f.svc.CreateBooking(ctx, 42, 7, 5, "")
		require.NoError(t, err)

		got, err := f.svc.CancelBooking(ctx, b.ID, 42, false, "changed plans")
		require.NoError(t, err)
		assert.Equal(t, model.BookingCancelled, got.Status)

		a := requireInvariant(t, f.ledger, 7)
		assert.Equal(t, 100, a.Available)
		assert.Equal(t, 0, a.Reserved)

		require.Len(t, f.pub.cancelled, 1)
		assert.False(t, f.pub.cancelled[0].Refunded)

		cancels := f.audit.byAction(model.AuditActionCancel)
		require.Len(t, cancels, 1)
		assert.Equal(t, "changed plans", cancels[0].Reason)
	})

	t.Run("cancelling a confirmed booking releases confirmed capacity and refunds", func(t *testing.T) {
		f := newFixture(t,
			newFakeLedger(model.EventAvailability{EventID: 7, Total: 100, Available: 100, Version: 1}),
			newFakeBookingStore(),
		)
		b, err := f.svc.CreateBooking(ctx, 42, 7, 2, "")
		require.NoError(t, err)
		_, err = f.svc.ConfirmBooking(ctx, b.ID, 42, false)
		require.NoError(t, err)

		_, err = f.svc.CancelBooking(ctx, b.ID, 42, false, "")
		require.NoError(t, err)

		a := requireInvariant(t, f.ledger, 7)
		assert.Equal(t, 100, a.Available)
		assert.Equal(t, 0, a.Confirmed)

		require.Len(t, f.pub.cancelled, 1)
		assert.True(t, f.pub.cancelled[0].Refunded)
	})

	t.Run("terminal bookings cannot be cancelled", func(t *testing.T) {
		f := newFixture(t,
			newFakeLedger(model.EventAvailability{EventID: 7, Total: 100, Available: 100, Version: 1}),
			newFakeBookingStore(model.Booking{
				UserID: 42, EventID: 7, Quantity: 1, Status: model.BookingExpired,
			}),
		)

		_, err := f.svc.CancelBooking(ctx, 1, 42, false, "")
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
	})

	t.Run("owner only, unless admin", func(t *testing.T) {
		f := newFixture(t,
			newFakeLedger(model.EventAvailability{EventID: 7, Total: 100, Available: 100, Version: 1}),
			newFakeBookingStore(),
		)
		b, err := f.svc.CreateBooking(ctx, 42, 7, 1, "")
		require.NoError(t, err)

		_, err = f.svc.CancelBooking(ctx, b.ID, 99, false, "")
		assert.ErrorIs(t, err, model.ErrForbidden)

		_, err = f.svc.CancelBooking(ctx, b.ID, 99, true, "ops cleanup")
		assert.NoError(t, err)
	})
}

func TestBookingService_FullLifecycleAccounting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t,
		newFakeLedger(model.EventAvailability{EventID: 1, Total: 100, Available: 100, PriceCents: 500, Version: 1}),
		newFakeBookingStore(),
	)

	b, err := f.svc.CreateBooking(ctx, 1, 1, 2, "")
	require.NoError(t, err)
	a := requireInvariant(t, f.ledger, 1)
	assert.Equal(t, 98, a.Available)
	assert.Equal(t, 2, a.Reserved)

	_, err = f.svc.ConfirmBooking(ctx, b.ID, 1, false)
	require.NoError(t, err)
	a = requireInvariant(t, f.ledger, 1)
	assert.Equal(t, 98, a.Available)
	assert.Equal(t, 2, a.Confirmed)

	_, err = f.svc.CancelBooking(ctx, b.ID, 1, false, "")
	require.NoError(t, err)
	a = requireInvariant(t, f.ledger, 1)
	assert.Equal(t, 100, a.Available)
	assert.Equal(t, 0, a.Reserved)
	assert.Equal(t, 0, a.Confirmed)
	assert.Equal(t, 100, a.Total)

	assert.Equal(t, 3, f.locker.acquireCount(), "each mutation takes the event lock exactly once")
}

func TestBookingService_TransactionDeadline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t,
		newFakeLedger(model.EventAvailability{EventID: 7, Total: 10, Available: 10, Version: 1}),
		newFakeBookingStore(),
	)

	_, err := f.svc.CreateBooking(ctx, 42, 7, 1, "")
	require.NoError(t, err)

	require.True(t, f.store.txHasDeadline, "the transaction context must carry a deadline")
	remaining := time.Until(f.store.txDeadline)
	assert.Positive(t, remaining)
	assert.LessOrEqual(t, remaining, testConsistency().TransactionTimeout)
}

// Reads served after a committed mutation must reflect it: the snapshot
// cache is deleted on every write, so the next read goes to the ledger.
func TestBookingService_ReadsReflectCommittedWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ledger := newFakeLedger(model.EventAvailability{EventID: 7, Total: 100, Available: 100, PriceCents: 500, Version: 1})
	f := newFixture(t, ledger, newFakeBookingStore())
	reads := NewAvailabilityService(ledger, f.locker, nil, testConsistency(), zerolog.Nop())

	b, err := f.svc.CreateBooking(ctx, 42, 7, 3, "")
	require.NoError(t, err)

	a, err := reads.GetAvailability(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 97, a.Available)
	assert.Equal(t, 3, a.Reserved)

	mine, total, err := f.svc.ListUserBookings(ctx, 42, nil, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)

	_, err = f.svc.CancelBooking(ctx, b.ID, 42, false, "")
	require.NoError(t, err)

	a, err = reads.GetAvailability(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 100, a.Available)
	assert.Equal(t, 0, a.Reserved)
}

func TestBookingService_ConcurrentCreates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	const capacity = 5
	const contenders = 20

	f := newFixture(t,
		newFakeLedger(model.EventAvailability{EventID: 1, Total: capacity, Available: capacity, Version: 1}),
		newFakeBookingStore(),
	)

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateBooking(ctx, uint64(i+1), 1, 1, "")
		}(i)
	}
	wg.Wait()

	won, lost := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, model.ErrInsufficientCapacity):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, capacity, won, "exactly capacity-many bookings must win")
	assert.Equal(t, contenders-capacity, lost)
	assert.Equal(t, contenders, f.locker.acquireCount(), "every contender serializes through the lock")

	a := requireInvariant(t, f.ledger, 1)
	assert.Equal(t, 0, a.Available)
	assert.Equal(t, capacity, a.Reserved)
	assert.Equal(t, uint32(1+capacity), a.Version, "each winning write bumps the version once")
}

func TestBookingService_CapacityRace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t,
		newFakeLedger(model.EventAvailability{EventID: 1, Total: 10, Available: 10, Version: 1}),
		newFakeBookingStore(),
	)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateBooking(ctx, uint64(i+1), 1, 6, "")
		}(i)
	}
	wg.Wait()

	won, lost := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, model.ErrInsufficientCapacity):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won, "only one of two 6-ticket requests fits in 10")
	assert.Equal(t, 1, lost)

	a := requireInvariant(t, f.ledger, 1)
	assert.Equal(t, 4, a.Available)
	assert.Equal(t, 6, a.Reserved)
}

func TestBookingService_GetBooking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t,
		newFakeLedger(model.EventAvailability{EventID: 7, Total: 10, Available: 10, Version: 1}),
		newFakeBookingStore(),
	)
	b, err := f.svc.CreateBooking(ctx, 42, 7, 1, "")
	require.NoError(t, err)

	got, err := f.svc.GetBooking(ctx, b.ID, 42, false)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = f.svc.GetBooking(ctx, b.ID, 99, false)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.svc.GetBooking(ctx, b.ID, 99, true)
	assert.NoError(t, err)

	_, err = f.svc.GetBooking(ctx, 999, 42, false)
	assert.ErrorIs(t, err, model.ErrBookingNotFound)
}

func TestBookingService_ListUserBookings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newFakeBookingStore(
		model.Booking{UserID: 1, EventID: 1, Quantity: 1, Status: model.BookingConfirmed},
		model.Booking{UserID: 1, EventID: 2, Quantity: 2, Status: model.BookingCancelled},
		model.Booking{UserID: 2, EventID: 1, Quantity: 1, Status: model.BookingPending},
	)
	f := newFixture(t, newFakeLedger(), store)

	all, total, err := f.svc.ListUserBookings(ctx, 1, nil, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	confirmed := model.BookingConfirmed
	filtered, total, err := f.svc.ListUserBookings(ctx, 1, &confirmed, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, filtered, 1)
	assert.Equal(t, model.BookingConfirmed, filtered[0].Status)
}
