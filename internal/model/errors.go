// Package model defines the domain entities of the booking engine and the
// sentinel errors shared by the service and repository layers. Handlers
// translate these into stable HTTP error codes; the service layer decides
// which of them are retryable.
package model

import "errors"

// ErrLockTimeout is returned when the per-event distributed lock could not
// be acquired within the configured wait bound. Callers may retry.
var ErrLockTimeout = errors.New("lock timeout")

// ErrInsufficientCapacity is returned when an event does not have enough
// available capacity for the requested quantity. Not retryable without a
// state change (a cancellation or expiry).
var ErrInsufficientCapacity = errors.New("insufficient capacity")

// ErrConcurrencyConflict is returned when the ledger version check failed
// and the internal retry budget is exhausted. Callers may retry.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ErrDuplicateBooking is returned when duplicate prevention is enabled and
// the user already holds the configured number of active bookings for the
// event.
var ErrDuplicateBooking = errors.New("duplicate booking")

// ErrBookingNotFound is returned when no booking matches the given id, or
// the booking is not in a state the operation accepts.
var ErrBookingNotFound = errors.New("booking not found")

// ErrBookingExpired is returned when a confirm arrives after the hold's
// expires_at has passed.
var ErrBookingExpired = errors.New("booking expired")

// ErrForbidden is returned when a caller attempts an operation on a booking
// they do not own and they are not an admin.
var ErrForbidden = errors.New("forbidden")

// ErrInvariantViolation signals that a ledger mutation would break the
// capacity accounting (a negative bucket or a sum mismatch). It is never
// retried: committing would risk overselling, so the transaction aborts.
var ErrInvariantViolation = errors.New("capacity invariant violation")

// ErrInvalidTransition is returned when an operation does not apply to the
// booking's current status, e.g. confirming a cancelled booking.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrEventNotFound is returned when no availability record exists for the
// event.
var ErrEventNotFound = errors.New("event availability not found")

// ErrInvalidQuantity is returned when the requested quantity is outside the
// configured bounds.
var ErrInvalidQuantity = errors.New("invalid quantity")

// ErrAvailabilityExists is returned when creating an availability record
// for an event that already has one.
var ErrAvailabilityExists = errors.New("availability record already exists")
