package model

import "time"

// EventAvailability is the capacity ledger row for a single event. It is the
// only shared mutable record per event: all mutations go through the
// reservation protocol under the per-event lock and are paired with a
// version check.
//
// Invariant: Available + Reserved + Confirmed == Total at all times, and no
// bucket is ever negative.
type EventAvailability struct {
	ID          uint64    `json:"-"`
	EventID     uint64    `json:"event_id"`
	Total       int       `json:"total_capacity"`
	Available   int       `json:"available_capacity"`
	Reserved    int       `json:"reserved_capacity"`
	Confirmed   int       `json:"confirmed_capacity"`
	PriceCents  int64     `json:"price_cents"`
	Version     uint32    `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
}

// CheckInvariant validates the capacity accounting. A non-nil error means
// the ledger is corrupt and the surrounding transaction must abort.
func (a *EventAvailability) CheckInvariant() error {
	if a.Available < 0 || a.Reserved < 0 || a.Confirmed < 0 || a.Total < 0 {
		return ErrInvariantViolation
	}
	if a.Available+a.Reserved+a.Confirmed != a.Total {
		return ErrInvariantViolation
	}
	return nil
}

// IsSoldOut reports whether no capacity remains available.
func (a *EventAvailability) IsSoldOut() bool {
	return a.Available == 0
}

// AvailabilityStats aggregates the ledger across all events.
type AvailabilityStats struct {
	TotalEvents    int   `json:"total_events"`
	AvailableCount int   `json:"available_events"`
	SoldOutCount   int   `json:"sold_out_events"`
	TotalCapacity  int64 `json:"total_capacity"`
	TotalAvailable int64 `json:"total_available"`
	TotalReserved  int64 `json:"total_reserved"`
	TotalConfirmed int64 `json:"total_confirmed"`
}

// CapacityDelta describes a single ledger mutation. Each field is added to
// the corresponding bucket; the sum of the three must be zero so that Total
// stays constant (Total itself only changes through admin capacity updates).
type CapacityDelta struct {
	Available int
	Reserved  int
	Confirmed int
}

// ReserveDelta moves qty from available to reserved.
func ReserveDelta(qty int) CapacityDelta {
	return CapacityDelta{Available: -qty, Reserved: qty}
}

// ConfirmDelta moves qty from reserved to confirmed.
func ConfirmDelta(qty int) CapacityDelta {
	return CapacityDelta{Reserved: -qty, Confirmed: qty}
}

// ReleaseReservedDelta returns qty from reserved back to available.
func ReleaseReservedDelta(qty int) CapacityDelta {
	return CapacityDelta{Available: qty, Reserved: -qty}
}

// ReleaseConfirmedDelta returns qty from confirmed back to available.
func ReleaseConfirmedDelta(qty int) CapacityDelta {
	return CapacityDelta{Available: qty, Confirmed: -qty}
}
