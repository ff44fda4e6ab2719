package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/evently/bookings/internal/lock"
	"github.com/evently/bookings/internal/model"
	"github.com/evently/bookings/internal/queue"
)

// fakeLedger is an in-memory capacity ledger with the same version and
// non-negativity semantics as the real one.
type fakeLedger struct {
	mu   sync.Mutex
	rows map[uint64]*model.EventAvailability
}

func newFakeLedger(rows ...model.EventAvailability) *fakeLedger {
	l := &fakeLedger{rows: map[uint64]*model.EventAvailability{}}
	for i := range rows {
		r := rows[i]
		l.rows[r.EventID] = &r
	}
	return l
}

func (l *fakeLedger) Get(_ context.Context, eventID uint64) (*model.EventAvailability, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rows[eventID]
	if !ok {
		return nil, model.ErrEventNotFound
	}
	cp := *r
	return &cp, nil
}

func (l *fakeLedger) ApplyDelta(_ context.Context, eventID uint64, expectedVersion uint32, d model.CapacityDelta) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rows[eventID]
	if !ok {
		return 0, model.ErrEventNotFound
	}
	if r.Version != expectedVersion {
		return 0, model.ErrConcurrencyConflict
	}
	if r.Available+d.Available < 0 || r.Reserved+d.Reserved < 0 || r.Confirmed+d.Confirmed < 0 {
		return 0, model.ErrInvariantViolation
	}
	r.Available += d.Available
	r.Reserved += d.Reserved
	r.Confirmed += d.Confirmed
	r.Version++
	return r.Version, nil
}

func (l *fakeLedger) Create(_ context.Context, eventID uint64, totalCapacity int, priceCents int64) (*model.EventAvailability, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.rows[eventID]; ok {
		return nil, model.ErrAvailabilityExists
	}
	r := &model.EventAvailability{
		EventID:    eventID,
		Total:      totalCapacity,
		Available:  totalCapacity,
		PriceCents: priceCents,
		Version:    1,
	}
	l.rows[eventID] = r
	cp := *r
	return &cp, nil
}

func (l *fakeLedger) UpdateTotalCapacity(_ context.Context, eventID uint64, expectedVersion uint32, newTotal int) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rows[eventID]
	if !ok {
		return 0, model.ErrEventNotFound
	}
	if r.Version != expectedVersion {
		return 0, model.ErrConcurrencyConflict
	}
	if r.Reserved+r.Confirmed > newTotal {
		return 0, model.ErrInsufficientCapacity
	}
	r.Total = newTotal
	r.Available = newTotal - r.Reserved - r.Confirmed
	r.Version++
	return r.Version, nil
}

func (l *fakeLedger) Stats(_ context.Context) (model.AvailabilityStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var s model.AvailabilityStats
	for _, r := range l.rows {
		s.TotalEvents++
		if r.Available > 0 {
			s.AvailableCount++
		} else {
			s.SoldOutCount++
		}
		s.TotalCapacity += int64(r.Total)
		s.TotalAvailable += int64(r.Available)
		s.TotalReserved += int64(r.Reserved)
		s.TotalConfirmed += int64(r.Confirmed)
	}
	return s, nil
}

// fakeBookingStore keeps bookings in memory with the same guarded
// transition semantics as the SQL store.
type fakeBookingStore struct {
	mu            sync.Mutex
	nextID        uint64
	bookings      map[uint64]*model.Booking
	items         []model.BookingItem
	txDeadline    time.Time
	txHasDeadline bool
}

func newFakeBookingStore(seed ...model.Booking) *fakeBookingStore {
	s := &fakeBookingStore{bookings: map[uint64]*model.Booking{}}
	for i := range seed {
		b := seed[i]
		if b.ID == 0 {
			s.nextID++
			b.ID = s.nextID
		} else if b.ID > s.nextID {
			s.nextID = b.ID
		}
		if b.Version == 0 {
			b.Version = 1
		}
		s.bookings[b.ID] = &b
	}
	return s
}

func (s *fakeBookingStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.txDeadline, s.txHasDeadline = ctx.Deadline()
	s.mu.Unlock()
	return fn(ctx)
}

func (s *fakeBookingStore) Create(_ context.Context, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	b.ID = s.nextID
	cp := *b
	s.bookings[b.ID] = &cp
	return nil
}

func (s *fakeBookingStore) CreateItems(_ context.Context, items []model.BookingItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
	return nil
}

func (s *fakeBookingStore) GetByID(_ context.Context, id uint64) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, model.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *fakeBookingStore) MarkConfirmed(_ context.Context, id uint64, expectedVersion uint32, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Version != expectedVersion || b.Status != model.BookingPending {
		return model.ErrConcurrencyConflict
	}
	b.Status = model.BookingConfirmed
	b.PaymentStatus = model.PaymentCompleted
	t := at
	b.ConfirmedAt = &t
	b.ExpiresAt = nil
	b.Version++
	return nil
}

func (s *fakeBookingStore) MarkCancelled(_ context.Context, id uint64, expectedVersion uint32, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Version != expectedVersion || !b.IsActive() {
		return model.ErrConcurrencyConflict
	}
	b.Status = model.BookingCancelled
	t := at
	b.CancelledAt = &t
	b.ExpiresAt = nil
	b.Version++
	return nil
}

func (s *fakeBookingStore) MarkExpired(_ context.Context, id uint64, expectedVersion uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Version != expectedVersion || b.Status != model.BookingPending {
		return model.ErrConcurrencyConflict
	}
	b.Status = model.BookingExpired
	b.Version++
	return nil
}

func (s *fakeBookingStore) CountActiveByUserEvent(_ context.Context, userID, eventID uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.bookings {
		if b.UserID == userID && b.EventID == eventID && b.IsActive() {
			n++
		}
	}
	return n, nil
}

func (s *fakeBookingStore) ListByUser(_ context.Context, userID uint64, status *model.BookingStatus, page, pageSize int) ([]model.Booking, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []model.Booking
	for _, b := range s.bookings {
		if b.UserID != userID {
			continue
		}
		if status != nil && b.Status != *status {
			continue
		}
		all = append(all, *b)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *fakeBookingStore) FindExpiredPending(_ context.Context, now time.Time, limit int) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.IsExpired(now) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeAudit records entries in memory.
type fakeAudit struct {
	mu      sync.Mutex
	entries []model.AuditLogEntry
}

func (a *fakeAudit) Append(_ context.Context, e *model.AuditLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *e)
	return nil
}

func (a *fakeAudit) byAction(action string) []model.AuditLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.AuditLogEntry
	for _, e := range a.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// fakeLocker serializes callers per key the way the Redis lock does.
type fakeLocker struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	acquires int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{locks: map[string]*sync.Mutex{}}
}

func (l *fakeLocker) Acquire(_ context.Context, key string) (lock.Handle, error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.acquires++
	l.mu.Unlock()
	m.Lock()
	return fakeHandle{m: m}, nil
}

func (l *fakeLocker) acquireCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquires
}

type fakeHandle struct {
	m *sync.Mutex
}

func (h fakeHandle) Release(context.Context) error {
	h.m.Unlock()
	return nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu        sync.Mutex
	confirmed []queue.BookingConfirmedEvent
	cancelled []queue.BookingCancelledEvent
	expired   []queue.BookingExpiredEvent
}

func (p *fakePublisher) PublishConfirmed(_ context.Context, ev queue.BookingConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, ev)
	return nil
}

func (p *fakePublisher) PublishCancelled(_ context.Context, ev queue.BookingCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, ev)
	return nil
}

func (p *fakePublisher) PublishExpired(_ context.Context, ev queue.BookingExpiredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expired = append(p.expired, ev)
	return nil
}
