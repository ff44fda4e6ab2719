// Package queue defines message payloads exchanged over the message broker
// and the background consumer that records booking lifecycle events.
package queue

// Queue names for booking lifecycle events. Routing uses the default
// exchange, so the queue name is the routing key.
const (
	ConfirmedQueue = "booking.confirmed"
	CancelledQueue = "booking.cancelled"
	ExpiredQueue   = "booking.expired"
)

// BookingConfirmedEvent is published after a booking confirmation commits.
// It carries enough information for downstream consumers to log, notify,
// or trigger analytics without querying the primary database.
type BookingConfirmedEvent struct {
	BookingID        uint64 `json:"booking_id"`
	BookingReference string `json:"booking_reference"`
	UserID           uint64 `json:"user_id"`
	EventID          uint64 `json:"event_id"`
	Quantity         int    `json:"quantity"`
	TotalAmountCents int64  `json:"total_amount_cents"`
	Currency         string `json:"currency"`
	ConfirmedAt      string `json:"confirmed_at"`
}

// BookingCancelledEvent is published after a cancellation commits. Refunded
// reports whether the booking had a completed payment at cancellation time.
type BookingCancelledEvent struct {
	BookingID        uint64 `json:"booking_id"`
	BookingReference string `json:"booking_reference"`
	UserID           uint64 `json:"user_id"`
	EventID          uint64 `json:"event_id"`
	Quantity         int    `json:"quantity"`
	Refunded         bool   `json:"refunded"`
	CancelledAt      string `json:"cancelled_at"`
}

// BookingExpiredEvent is published when the reclaimer expires a pending
// booking whose hold deadline passed.
type BookingExpiredEvent struct {
	BookingID        uint64 `json:"booking_id"`
	BookingReference string `json:"booking_reference"`
	UserID           uint64 `json:"user_id"`
	EventID          uint64 `json:"event_id"`
	Quantity         int    `json:"quantity"`
	ExpiredAt        string `json:"expired_at"`
}
