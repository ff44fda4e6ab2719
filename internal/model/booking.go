package model

import "time"

// BookingStatus enumerates the lifecycle states of a booking.
// pending -> {confirmed, cancelled, expired}; confirmed -> {cancelled,
// refunded, completed}. cancelled, expired, refunded and completed are
// terminal.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
	BookingRefunded  BookingStatus = "refunded"
	BookingCompleted BookingStatus = "completed"
)

// PaymentStatus tracks the payment side of a booking independently of the
// booking lifecycle.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// Booking records a user's claim on event capacity.
//
// Fields:
//  ID               – primary key identifier.
//  UserID           – user who made the booking (owned by auth service).
//  EventID          – event being booked (owned by events service).
//  BookingReference – globally unique, human-shareable reference.
//  Quantity         – number of tickets, bounded by configuration.
//  TotalAmountCents – total price in cents for all tickets.
//  Currency         – ISO currency code (always "USD" for now).
//  Status           – lifecycle state, see BookingStatus.
//  PaymentStatus    – payment state, see PaymentStatus.
//  ExpiresAt        – hold deadline; set only while pending.
//  ConfirmedAt      – when the booking was confirmed.
//  CancelledAt      – when the booking was cancelled.
//  Version          – optimistic counter, incremented on every mutation.
//  Notes            – free-form customer notes.
type Booking struct {
	ID               uint64        `json:"id"`
	UserID           uint64        `json:"user_id"`
	EventID          uint64        `json:"event_id"`
	BookingReference string        `json:"booking_reference"`
	Quantity         int           `json:"quantity"`
	TotalAmountCents int64         `json:"total_amount_cents"`
	Currency         string        `json:"currency"`
	Status           BookingStatus `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
	ConfirmedAt      *time.Time    `json:"confirmed_at,omitempty"`
	CancelledAt      *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Version          uint32        `json:"version"`
	Notes            string        `json:"notes,omitempty"`
	Items            []BookingItem `json:"items,omitempty"`
}

// IsActive reports whether the booking currently holds capacity on the
// ledger (reserved while pending, confirmed once paid).
func (b *Booking) IsActive() bool {
	return b.Status == BookingPending || b.Status == BookingConfirmed
}

// IsTerminal reports whether no further transitions are allowed.
func (b *Booking) IsTerminal() bool {
	switch b.Status {
	case BookingCancelled, BookingExpired, BookingRefunded, BookingCompleted:
		return true
	}
	return false
}

// IsExpired reports whether a pending booking's hold deadline has passed at
// the given instant. Non-pending bookings never count as expired.
func (b *Booking) IsExpired(now time.Time) bool {
	if b.Status != BookingPending || b.ExpiresAt == nil {
		return false
	}
	return now.After(*b.ExpiresAt)
}

// BookingItem is a line item within a booking. Items carry no lifecycle of
// their own beyond their parent booking.
type BookingItem struct {
	ID                uint64    `json:"id"`
	BookingID         uint64    `json:"booking_id"`
	PricePerItemCents int64     `json:"price_per_item_cents"`
	Quantity          int       `json:"quantity"`
	TotalPriceCents   int64     `json:"total_price_cents"`
	CreatedAt         time.Time `json:"created_at"`
}
