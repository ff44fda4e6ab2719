package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/evently/bookings/internal/model"
)

// AuditRepo appends immutable audit log entries for booking mutations.
// There is no update or delete path on purpose.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo returns an AuditRepo bound to the database.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

// Append writes one audit entry. It joins the ambient transaction so the
// entry commits atomically with the mutation it records.
func (r *AuditRepo) Append(ctx context.Context, e *model.AuditLogEntry) error {
	const q = `INSERT INTO booking_audit_logs
	           (booking_id, action, field_name, old_value, new_value, changed_by, reason)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	var field, oldV, newV, reason any
	if e.FieldName != "" {
		field = e.FieldName
	}
	if e.OldValue != "" {
		oldV = e.OldValue
	}
	if e.NewValue != "" {
		newV = e.NewValue
	}
	if e.Reason != "" {
		reason = e.Reason
	}
	var changedBy any
	if e.ChangedBy != nil {
		changedBy = *e.ChangedBy
	}
	res, err := conn(ctx, r.db).ExecContext(ctx, q,
		e.BookingID, e.Action, field, oldV, newV, changedBy, reason,
	)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// ListByBooking returns a booking's audit trail, oldest first.
func (r *AuditRepo) ListByBooking(ctx context.Context, bookingID uint64) ([]model.AuditLogEntry, error) {
	const q = `SELECT id, booking_id, action, COALESCE(field_name, ''), COALESCE(old_value, ''),
	                  COALESCE(new_value, ''), changed_by, changed_at, COALESCE(reason, '')
	           FROM booking_audit_logs WHERE booking_id = ? ORDER BY changed_at, id`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()
	var out []model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		var changedBy sql.NullInt64
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Action, &e.FieldName, &e.OldValue,
			&e.NewValue, &changedBy, &e.ChangedAt, &e.Reason); err != nil {
			return nil, err
		}
		if changedBy.Valid {
			v := uint64(changedBy.Int64)
			e.ChangedBy = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
