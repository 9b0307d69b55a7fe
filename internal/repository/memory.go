package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
	"github.com/Domenick1991/bookingcore/internal/lock"
)

// MemoryBookingRepository keeps bookings in maps guarded by a RWMutex for the
// indices and a KeyedMutex for per-booking read-modify-write cycles.
type MemoryBookingRepository struct {
	mu          sync.RWMutex
	byID        map[string]*domain.Booking
	byReference map[string]string
	byOwner     map[string]map[string]struct{}

	locks       *lock.KeyedMutex
	lockTimeout time.Duration
}

func NewMemoryBookingRepository(lockTimeout time.Duration) *MemoryBookingRepository {
	return &MemoryBookingRepository{
		byID:        make(map[string]*domain.Booking),
		byReference: make(map[string]string),
		byOwner:     make(map[string]map[string]struct{}),
		locks:       lock.NewKeyedMutex(),
		lockTimeout: lockTimeout,
	}
}

func (r *MemoryBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	if err := validateForWrite(booking); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[booking.ID]; ok {
		return fmt.Errorf("create %s: %w", booking.ID, ErrDuplicateID)
	}
	if _, ok := r.byReference[booking.Reference]; ok {
		return fmt.Errorf("create %s: %w", booking.Reference, domain.ErrReferenceConflict)
	}

	r.byID[booking.ID] = booking.Clone()
	r.byReference[booking.Reference] = booking.ID
	owned, ok := r.byOwner[booking.OwnerID]
	if !ok {
		owned = make(map[string]struct{})
		r.byOwner[booking.OwnerID] = owned
	}
	owned[booking.ID] = struct{}{}
	return nil
}

func (r *MemoryBookingRepository) FindByID(ctx context.Context, id string) (*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b.Clone(), nil
}

func (r *MemoryBookingRepository) FindByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byReference[reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryBookingRepository) FindByOwner(ctx context.Context, ownerID string, filter OwnerFilter) ([]*domain.Booking, error) {
	r.mu.RLock()
	var out []*domain.Booking
	for id := range r.byOwner[ownerID] {
		b := r.byID[id]
		if matchesFilter(b, filter) {
			out = append(out, b.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := listLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryBookingRepository) Update(ctx context.Context, booking *domain.Booking) error {
	if err := validateForWrite(booking); err != nil {
		return err
	}
	unlock, err := r.lock(ctx, booking.ID)
	if err != nil {
		return err
	}
	defer unlock()

	return r.store(booking)
}

func (r *MemoryBookingRepository) Mutate(ctx context.Context, id string, fn MutateFunc) (*domain.Booking, error) {
	unlock, err := r.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(current); err != nil {
		return nil, err
	}
	if err := validateForWrite(current); err != nil {
		return nil, err
	}
	if err := r.store(current); err != nil {
		return nil, err
	}
	return current.Clone(), nil
}

func (r *MemoryBookingRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	var due []*domain.Booking
	for _, b := range r.byID {
		if b.Status == domain.BookingStatusPending && b.ExpiresAt != nil && b.ExpiresAt.Before(now) {
			due = append(due, b)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(*due[j].ExpiresAt) })
	ids := collectIDs(due, listLimit(limit))
	r.mu.RUnlock()
	return ids, nil
}

func (r *MemoryBookingRepository) ListAwaitingRefund(ctx context.Context, limit int) ([]string, error) {
	r.mu.RLock()
	var due []*domain.Booking
	for _, b := range r.byID {
		if b.Ledger != nil && b.RefundDue() > 0 {
			due = append(due, b)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].UpdatedAt.Before(due[j].UpdatedAt) })
	ids := collectIDs(due, listLimit(limit))
	r.mu.RUnlock()
	return ids, nil
}

// store must be called with the booking's key lock held.
func (r *MemoryBookingRepository) store(booking *domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[booking.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if err := checkImmutable(stored, booking); err != nil {
		return err
	}
	r.byID[booking.ID] = booking.Clone()
	return nil
}

func (r *MemoryBookingRepository) lock(ctx context.Context, id string) (func(), error) {
	if r.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lockTimeout)
		defer cancel()
	}
	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: lock booking %s: %v", domain.ErrUnavailable, id, err)
		}
		return nil, err
	}
	return unlock, nil
}

func collectIDs(bookings []*domain.Booking, limit int) []string {
	if len(bookings) > limit {
		bookings = bookings[:limit]
	}
	ids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
	}
	return ids
}

var _ BookingRepository = (*MemoryBookingRepository)(nil)
