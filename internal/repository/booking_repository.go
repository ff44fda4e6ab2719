package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evently/bookings/internal/model"
)

// BookingRepo provides data access to the bookings, booking_items and
// related tables. Status transitions are guarded updates: the WHERE clause
// carries the expected version and the expected current status, so a
// concurrent writer that slipped past the lock cannot double-apply a
// transition. All timestamps are stored in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// WithTx runs fn inside a transaction shared by all repositories in this
// package.
func (r *BookingRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.db, fn)
}

const bookingColumns = `id, user_id, event_id, booking_reference, quantity, total_amount_cents,
	currency, status, payment_status, expires_at, confirmed_at, cancelled_at,
	created_at, updated_at, version, notes`

func scanBooking(row interface{ Scan(...any) error }) (*model.Booking, error) {
	var b model.Booking
	var expiresAt, confirmedAt, cancelledAt sql.NullTime
	var notes sql.NullString
	err := row.Scan(
		&b.ID, &b.UserID, &b.EventID, &b.BookingReference, &b.Quantity, &b.TotalAmountCents,
		&b.Currency, &b.Status, &b.PaymentStatus, &expiresAt, &confirmedAt, &cancelledAt,
		&b.CreatedAt, &b.UpdatedAt, &b.Version, &notes,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		b.ExpiresAt = &t
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		b.ConfirmedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		b.CancelledAt = &t
	}
	if notes.Valid {
		b.Notes = notes.String
	}
	return &b, nil
}

// Create inserts a booking row and populates the generated ID and
// timestamps on the provided record. Status, version and reference must
// already be set by the caller.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	const q = `INSERT INTO bookings
	           (user_id, event_id, booking_reference, quantity, total_amount_cents, currency,
	            status, payment_status, expires_at, notes, version)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var notes any
	if b.Notes != "" {
		notes = b.Notes
	}
	var expires any
	if b.ExpiresAt != nil {
		expires = b.ExpiresAt.UTC()
	}
	res, err := conn(ctx, r.db).ExecContext(ctx, q,
		b.UserID, b.EventID, b.BookingReference, b.Quantity, b.TotalAmountCents, b.Currency,
		b.Status, b.PaymentStatus, expires, notes, b.Version,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return fmt.Errorf("create booking: duplicate reference %s: %w", b.BookingReference, err)
		}
		return fmt.Errorf("create booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	// Query back the full row to populate DB-side timestamps.
	const sel = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	loaded, err := scanBooking(conn(ctx, r.db).QueryRowContext(ctx, sel, b.ID))
	if err != nil {
		return fmt.Errorf("reload booking: %w", err)
	}
	*b = *loaded
	return nil
}

// CreateItems inserts the booking's line items in a single statement.
// Passing an empty slice has no effect and returns nil.
func (r *BookingRepo) CreateItems(ctx context.Context, items []model.BookingItem) error {
	if len(items) == 0 {
		return nil
	}
	query := `INSERT INTO booking_items (booking_id, price_per_item_cents, quantity, total_price_cents) VALUES `
	args := make([]any, 0, len(items)*4)
	for i, it := range items {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, it.BookingID, it.PricePerItemCents, it.Quantity, it.TotalPriceCents)
	}
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("create booking items: %w", err)
	}
	return nil
}

// GetByID returns a booking with its line items. It returns
// model.ErrBookingNotFound when no row matches.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(conn(ctx, r.db).QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrBookingNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	items, err := r.itemsFor(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.Items = items
	return b, nil
}

func (r *BookingRepo) itemsFor(ctx context.Context, bookingID uint64) ([]model.BookingItem, error) {
	const q = `SELECT id, booking_id, price_per_item_cents, quantity, total_price_cents, created_at
	           FROM booking_items WHERE booking_id = ? ORDER BY id`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, bookingID)
	if err != nil {
		return nil, fmt.Errorf("booking items: %w", err)
	}
	defer rows.Close()
	var items []model.BookingItem
	for rows.Next() {
		var it model.BookingItem
		if err := rows.Scan(&it.ID, &it.BookingID, &it.PricePerItemCents, &it.Quantity, &it.TotalPriceCents, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// transition applies a guarded status update. Zero rows affected means the
// booking moved underneath us (version or status mismatch) and surfaces as
// model.ErrConcurrencyConflict; the caller re-reads and decides.
func (r *BookingRepo) transition(ctx context.Context, q string, args ...any) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("booking transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrConcurrencyConflict
	}
	return nil
}

// MarkConfirmed transitions pending -> confirmed, completes the payment and
// clears the hold deadline.
func (r *BookingRepo) MarkConfirmed(ctx context.Context, id uint64, expectedVersion uint32, at time.Time) error {
	const q = `UPDATE bookings
	           SET status = 'confirmed', payment_status = 'completed',
	               confirmed_at = ?, expires_at = NULL, version = version + 1
	           WHERE id = ? AND version = ? AND status = 'pending'`
	return r.transition(ctx, q, at.UTC(), id, expectedVersion)
}

// MarkCancelled transitions an active booking to cancelled.
func (r *BookingRepo) MarkCancelled(ctx context.Context, id uint64, expectedVersion uint32, at time.Time) error {
	const q = `UPDATE bookings
	           SET status = 'cancelled', cancelled_at = ?, expires_at = NULL, version = version + 1
	           WHERE id = ? AND version = ? AND status IN ('pending', 'confirmed')`
	return r.transition(ctx, q, at.UTC(), id, expectedVersion)
}

// MarkExpired transitions pending -> expired. Only the reclaimer calls
// this.
func (r *BookingRepo) MarkExpired(ctx context.Context, id uint64, expectedVersion uint32) error {
	const q = `UPDATE bookings
	           SET status = 'expired', version = version + 1
	           WHERE id = ? AND version = ? AND status = 'pending'`
	return r.transition(ctx, q, id, expectedVersion)
}

// CountActiveByUserEvent counts a user's pending and confirmed bookings for
// one event. Feeds the duplicate-prevention policy.
func (r *BookingRepo) CountActiveByUserEvent(ctx context.Context, userID, eventID uint64) (int, error) {
	const q = `SELECT COUNT(*) FROM bookings
	           WHERE user_id = ? AND event_id = ? AND status IN ('pending', 'confirmed')`
	var n int
	if err := conn(ctx, r.db).QueryRowContext(ctx, q, userID, eventID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active bookings: %w", err)
	}
	return n, nil
}

// ListByUser returns a page of the user's bookings, newest first, with an
// optional status filter, plus the total count for pagination.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64, status *model.BookingStatus, page, pageSize int) ([]model.Booking, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	countQ := `SELECT COUNT(*) FROM bookings WHERE user_id = ?`
	listQ := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = ?`
	args := []any{userID}
	if status != nil {
		countQ += ` AND status = ?`
		listQ += ` AND status = ?`
		args = append(args, *status)
	}

	var total int
	if err := conn(ctx, r.db).QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	listQ += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := conn(ctx, r.db).QueryContext(ctx, listQ, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]model.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// FindExpiredPending returns pending bookings whose hold deadline has
// passed, oldest first, capped at limit. The reclaimer re-verifies each
// candidate under the per-event lock before acting on it.
func (r *BookingRepo) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings
	           WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < ?
	           ORDER BY expires_at LIMIT ?`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find expired bookings: %w", err)
	}
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
