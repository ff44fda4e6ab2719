package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evently/bookings/internal/model"
)

// AvailabilityRepo is the capacity ledger. ApplyDelta is the sole mutation
// entry point for the three capacity buckets: every write is predicated on
// the expected version and on non-negativity of the resulting buckets, so a
// lost update or a protocol bug cannot commit corrupted accounting.
type AvailabilityRepo struct {
	db *sql.DB
}

// NewAvailabilityRepo returns an AvailabilityRepo bound to the database.
func NewAvailabilityRepo(db *sql.DB) *AvailabilityRepo { return &AvailabilityRepo{db: db} }

// WithTx runs fn inside a transaction shared by all repositories in this
// package.
func (r *AvailabilityRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.db, fn)
}

// Get loads the ledger row for an event. It joins an ambient transaction
// when one is present on the context.
func (r *AvailabilityRepo) Get(ctx context.Context, eventID uint64) (*model.EventAvailability, error) {
	const q = `SELECT id, event_id, total_capacity, available_capacity, reserved_capacity,
	                  confirmed_capacity, price_cents, version, last_updated
	           FROM event_availability WHERE event_id = ?`
	var a model.EventAvailability
	err := conn(ctx, r.db).QueryRowContext(ctx, q, eventID).Scan(
		&a.ID, &a.EventID, &a.Total, &a.Available, &a.Reserved,
		&a.Confirmed, &a.PriceCents, &a.Version, &a.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrEventNotFound
		}
		return nil, fmt.Errorf("get availability: %w", err)
	}
	return &a, nil
}

// ApplyDelta mutates the capacity buckets of an event's ledger row. The
// update only lands when the stored version equals expectedVersion and no
// bucket would go negative; the version is bumped atomically with the
// buckets. When zero rows are affected the row is re-read to distinguish a
// stale version (model.ErrConcurrencyConflict, retryable) from a delta that
// would break the accounting (model.ErrInvariantViolation, fatal).
func (r *AvailabilityRepo) ApplyDelta(ctx context.Context, eventID uint64, expectedVersion uint32, d model.CapacityDelta) (uint32, error) {
	const q = `UPDATE event_availability
	           SET available_capacity = available_capacity + ?,
	               reserved_capacity  = reserved_capacity + ?,
	               confirmed_capacity = confirmed_capacity + ?,
	               version            = version + 1
	           WHERE event_id = ? AND version = ?
	             AND available_capacity + ? >= 0
	             AND reserved_capacity + ? >= 0
	             AND confirmed_capacity + ? >= 0`
	res, err := conn(ctx, r.db).ExecContext(ctx, q,
		d.Available, d.Reserved, d.Confirmed,
		eventID, expectedVersion,
		d.Available, d.Reserved, d.Confirmed,
	)
	if err != nil {
		return 0, fmt.Errorf("apply capacity delta: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		current, getErr := r.Get(ctx, eventID)
		if getErr != nil {
			return 0, getErr
		}
		if current.Version != expectedVersion {
			return 0, model.ErrConcurrencyConflict
		}
		// Version matched, so the non-negativity guard is what refused the
		// write. That is a protocol bug, not a race.
		return 0, model.ErrInvariantViolation
	}
	return expectedVersion + 1, nil
}

// Create inserts the ledger row for a newly published event with all
// capacity available.
func (r *AvailabilityRepo) Create(ctx context.Context, eventID uint64, totalCapacity int, priceCents int64) (*model.EventAvailability, error) {
	if totalCapacity < 0 {
		return nil, model.ErrInvariantViolation
	}
	const q = `INSERT INTO event_availability
	           (event_id, total_capacity, available_capacity, reserved_capacity, confirmed_capacity, price_cents, version)
	           VALUES (?, ?, ?, 0, 0, ?, 1)`
	if _, err := conn(ctx, r.db).ExecContext(ctx, q, eventID, totalCapacity, totalCapacity, priceCents); err != nil {
		if isDuplicateEntry(err) {
			return nil, model.ErrAvailabilityExists
		}
		return nil, fmt.Errorf("create availability: %w", err)
	}
	return r.Get(ctx, eventID)
}

// UpdateTotalCapacity changes an event's total capacity. The available
// bucket is recomputed so reserved and confirmed stay untouched; shrinking
// below the currently held capacity is refused.
func (r *AvailabilityRepo) UpdateTotalCapacity(ctx context.Context, eventID uint64, expectedVersion uint32, newTotal int) (uint32, error) {
	const q = `UPDATE event_availability
	           SET total_capacity     = ?,
	               available_capacity = ? - reserved_capacity - confirmed_capacity,
	               version            = version + 1
	           WHERE event_id = ? AND version = ?
	             AND reserved_capacity + confirmed_capacity <= ?`
	res, err := conn(ctx, r.db).ExecContext(ctx, q, newTotal, newTotal, eventID, expectedVersion, newTotal)
	if err != nil {
		return 0, fmt.Errorf("update total capacity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		current, getErr := r.Get(ctx, eventID)
		if getErr != nil {
			return 0, getErr
		}
		if current.Version != expectedVersion {
			return 0, model.ErrConcurrencyConflict
		}
		return 0, model.ErrInsufficientCapacity
	}
	return expectedVersion + 1, nil
}

// Stats returns aggregate capacity numbers across all events.
func (r *AvailabilityRepo) Stats(ctx context.Context) (model.AvailabilityStats, error) {
	const q = `SELECT COUNT(*),
	                  COALESCE(SUM(available_capacity > 0), 0),
	                  COALESCE(SUM(available_capacity = 0), 0),
	                  COALESCE(SUM(total_capacity), 0),
	                  COALESCE(SUM(available_capacity), 0),
	                  COALESCE(SUM(reserved_capacity), 0),
	                  COALESCE(SUM(confirmed_capacity), 0)
	           FROM event_availability`
	var s model.AvailabilityStats
	err := conn(ctx, r.db).QueryRowContext(ctx, q).Scan(
		&s.TotalEvents, &s.AvailableCount, &s.SoldOutCount,
		&s.TotalCapacity, &s.TotalAvailable, &s.TotalReserved, &s.TotalConfirmed,
	)
	if err != nil {
		return model.AvailabilityStats{}, fmt.Errorf("availability stats: %w", err)
	}
	return s, nil
}
