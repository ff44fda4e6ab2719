package model

import "time"

// Audit actions recorded on booking state transitions.
const (
	AuditActionCreate  = "CREATE"
	AuditActionConfirm = "CONFIRM"
	AuditActionCancel  = "CANCEL"
	AuditActionExpire  = "EXPIRE"
)

// AuditLogEntry is an immutable record of a state-affecting mutation. Rows
// are appended inside the owning transaction and never updated or deleted.
//
// Fields:
//  BookingID – booking the change applies to.
//  Action    – one of the AuditAction constants.
//  FieldName – which field changed, when a single field is meaningful.
//  OldValue  – previous value, serialized as text.
//  NewValue  – new value, serialized as text.
//  ChangedBy – user who made the change; nil for system actions such as
//              expiry reclamation.
//  Reason    – free-form reason for the change.
type AuditLogEntry struct {
	ID        uint64    `json:"id"`
	BookingID uint64    `json:"booking_id"`
	Action    string    `json:"action"`
	FieldName string    `json:"field_name,omitempty"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	ChangedBy *uint64   `json:"changed_by,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
	Reason    string    `json:"reason,omitempty"`
}
