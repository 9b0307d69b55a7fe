package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
)

// ErrDuplicateID is returned by Create when the booking id is already stored.
var ErrDuplicateID = errors.New("booking id already exists")

type OwnerFilter struct {
	Status domain.BookingStatus
	Kind   domain.Kind
	Limit  int
}

// MutateFunc changes a booking inside the per-id critical section. Returning an
// error aborts the write.
type MutateFunc func(b *domain.Booking) error

// BookingRepository is the persistence boundary and the concurrency boundary for bookings.
// Every read returns a copy; callers never share state with the store.
type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	FindByID(ctx context.Context, id string) (*domain.Booking, error)
	FindByReference(ctx context.Context, reference string) (*domain.Booking, error)
	FindByOwner(ctx context.Context, ownerID string, filter OwnerFilter) ([]*domain.Booking, error)
	// Update replaces the whole aggregate.
	Update(ctx context.Context, booking *domain.Booking) error
	// Mutate runs fn under an exclusive lock on id and stores the result.
	Mutate(ctx context.Context, id string, fn MutateFunc) (*domain.Booking, error)
	// ListExpired returns ids of pending bookings whose deadline is before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
	// ListAwaitingRefund returns ids of cancelled bookings that still owe a refund.
	ListAwaitingRefund(ctx context.Context, limit int) ([]string, error)
}

const defaultListLimit = 100

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// checkImmutable guards the fields that never change after creation.
func checkImmutable(stored, next *domain.Booking) error {
	switch {
	case stored.Reference != next.Reference:
		return fmt.Errorf("%w: booking reference is immutable", domain.ErrValidation)
	case stored.OwnerID != next.OwnerID:
		return fmt.Errorf("%w: owner is immutable", domain.ErrValidation)
	case stored.Kind != next.Kind:
		return fmt.Errorf("%w: kind is immutable", domain.ErrValidation)
	case stored.Status != domain.BookingStatusPending && next.Status == domain.BookingStatusPending:
		return fmt.Errorf("%w: %s booking cannot return to pending", domain.ErrInvalidTransition, stored.Status)
	}
	return nil
}

func matchesFilter(b *domain.Booking, f OwnerFilter) bool {
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.Kind != "" && b.Kind != f.Kind {
		return false
	}
	return true
}

func validateForWrite(b *domain.Booking) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("%w: booking id is required", domain.ErrValidation)
	}
	return b.CheckInvariants()
}
