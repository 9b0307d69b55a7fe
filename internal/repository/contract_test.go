package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func newTestBooking(t *testing.T, n int, owner string, kind domain.Kind) *domain.Booking {
	t.Helper()
	var details domain.TypeDetails
	switch kind {
	case domain.KindHotel:
		free := baseTime.Add(-time.Hour)
		details.Hotel = &domain.HotelDetails{
			CheckIn:               baseTime.Add(48 * time.Hour),
			CheckOut:              baseTime.Add(72 * time.Hour),
			FreeCancellationUntil: &free,
		}
	case domain.KindFlight:
		details.Flight = &domain.FlightDetails{
			DepartureAt: baseTime.Add(10 * time.Hour),
			ArrivalAt:   baseTime.Add(14 * time.Hour),
		}
	}
	b, err := domain.NewBooking(domain.NewBookingParams{
		ID:        fmt.Sprintf("booking-%03d", n),
		Reference: fmt.Sprintf("NVY-AAA%03d", n),
		OwnerID:   owner,
		Kind:      kind,
		Details:   details,
		Currency:  "USD",
		Total:     1000,
		CreatedAt: baseTime.Add(time.Duration(n) * time.Second),
		HoldTTL:   15 * time.Minute,
	})
	require.NoError(t, err)
	return b
}

// runRepositoryContract checks behaviour every backend must share.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) BookingRepository) {
	ctx := context.Background()

	t.Run("CreateAndFind", func(t *testing.T) {
		repo := newRepo(t)
		b := newTestBooking(t, 1, "user-1", domain.KindHotel)
		require.NoError(t, repo.Create(ctx, b))

		got, err := repo.FindByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b.Reference, got.Reference)
		assert.Equal(t, domain.BookingStatusPending, got.Status)
		assert.True(t, b.CreatedAt.Equal(got.CreatedAt))
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, b.ExpiresAt.Equal(*got.ExpiresAt))
		require.NotNil(t, got.Details.Hotel)
		require.NotNil(t, got.Details.Hotel.FreeCancellationUntil)
		assert.Nil(t, got.Ledger)

		byRef, err := repo.FindByReference(ctx, b.Reference)
		require.NoError(t, err)
		assert.Equal(t, b.ID, byRef.ID)
	})

	t.Run("NotFound", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = repo.FindByReference(ctx, "NVY-ZZZZZZ")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = repo.Mutate(ctx, "missing", func(*domain.Booking) error { return nil })
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ReferenceConflict", func(t *testing.T) {
		repo := newRepo(t)
		first := newTestBooking(t, 2, "user-1", domain.KindHotel)
		require.NoError(t, repo.Create(ctx, first))

		dup := newTestBooking(t, 3, "user-2", domain.KindHotel)
		dup.Reference = first.Reference
		assert.ErrorIs(t, repo.Create(ctx, dup), domain.ErrReferenceConflict)

		sameID := newTestBooking(t, 2, "user-2", domain.KindHotel)
		sameID.Reference = "NVY-BBB002"
		err := repo.Create(ctx, sameID)
		assert.ErrorIs(t, err, ErrDuplicateID)
		assert.NotErrorIs(t, err, domain.ErrReferenceConflict)
	})

	t.Run("FindByOwnerFilters", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, newTestBooking(t, 10, "owner", domain.KindHotel)))
		require.NoError(t, repo.Create(ctx, newTestBooking(t, 11, "owner", domain.KindFlight)))
		require.NoError(t, repo.Create(ctx, newTestBooking(t, 12, "owner", domain.KindInsurance)))
		require.NoError(t, repo.Create(ctx, newTestBooking(t, 13, "other", domain.KindHotel)))

		_, err := repo.Mutate(ctx, "booking-011", func(b *domain.Booking) error {
			_, err := b.Confirm(baseTime.Add(time.Minute), domain.Capture{ProviderReference: "pay_11", Amount: 1000})
			return err
		})
		require.NoError(t, err)

		all, err := repo.FindByOwner(ctx, "owner", OwnerFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "booking-012", all[0].ID)

		hotels, err := repo.FindByOwner(ctx, "owner", OwnerFilter{Kind: domain.KindHotel})
		require.NoError(t, err)
		require.Len(t, hotels, 1)
		assert.Equal(t, "booking-010", hotels[0].ID)

		confirmed, err := repo.FindByOwner(ctx, "owner", OwnerFilter{Status: domain.BookingStatusConfirmed})
		require.NoError(t, err)
		require.Len(t, confirmed, 1)
		require.NotNil(t, confirmed[0].Ledger)
		assert.Equal(t, "pay_11", confirmed[0].Ledger.ProviderReference)

		limited, err := repo.FindByOwner(ctx, "owner", OwnerFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		none, err := repo.FindByOwner(ctx, "nobody", OwnerFilter{})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("MutatePersistsLedger", func(t *testing.T) {
		repo := newRepo(t)
		b := newTestBooking(t, 20, "user-1", domain.KindHotel)
		require.NoError(t, repo.Create(ctx, b))

		_, err := repo.Mutate(ctx, b.ID, func(b *domain.Booking) error {
			_, err := b.Confirm(baseTime.Add(time.Minute), domain.Capture{ProviderReference: "pay_20", Amount: 1000})
			return err
		})
		require.NoError(t, err)
		_, err = repo.Mutate(ctx, b.ID, func(b *domain.Booking) error {
			if _, err := b.Cancel("plans changed", baseTime.Add(2*time.Minute), func(domain.Kind, domain.TypeDetails, int64, time.Time) int64 { return 100 }); err != nil {
				return err
			}
			_, err := b.ApplyRefund(b.RefundDue(), "re_20", baseTime.Add(3*time.Minute))
			return err
		})
		require.NoError(t, err)

		got, err := repo.FindByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusCancelled, got.Status)
		assert.Equal(t, int64(900), got.Pricing.RefundedAmount)
		assert.Equal(t, domain.PaymentPartiallyRefunded, got.Pricing.PaymentStatus)
		require.NotNil(t, got.Ledger)
		assert.Equal(t, int64(900), got.Ledger.AmountRefunded)
		assert.Equal(t, []string{"re_20"}, got.Ledger.RefundReferences)
		assert.Equal(t, domain.LedgerRefundedPartial, got.Ledger.Status)
		assert.Nil(t, got.ExpiresAt)
	})

	t.Run("MutateErrorDiscardsChanges", func(t *testing.T) {
		repo := newRepo(t)
		b := newTestBooking(t, 30, "user-1", domain.KindInsurance)
		require.NoError(t, repo.Create(ctx, b))

		boom := errors.New("boom")
		_, err := repo.Mutate(ctx, b.ID, func(b *domain.Booking) error {
			b.CancellationReason = "changed"
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := repo.FindByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, got.CancellationReason)
	})

	t.Run("UpdateRejectsInvalidAggregate", func(t *testing.T) {
		repo := newRepo(t)
		b := newTestBooking(t, 40, "user-1", domain.KindInsurance)
		require.NoError(t, repo.Create(ctx, b))

		changed := b.Clone()
		changed.Reference = "NVY-CCC040"
		assert.ErrorIs(t, repo.Update(ctx, changed), domain.ErrValidation)

		broken := b.Clone()
		broken.ExpiresAt = nil
		assert.Error(t, repo.Update(ctx, broken))

		ok := b.Clone()
		ok.CancellationReason = "note"
		require.NoError(t, repo.Update(ctx, ok))
		got, err := repo.FindByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "note", got.CancellationReason)
	})

	t.Run("ListExpiredAndAwaitingRefund", func(t *testing.T) {
		repo := newRepo(t)
		for i := 50; i < 53; i++ {
			require.NoError(t, repo.Create(ctx, newTestBooking(t, i, "user-1", domain.KindInsurance)))
		}
		_, err := repo.Mutate(ctx, "booking-051", func(b *domain.Booking) error {
			if _, err := b.Confirm(baseTime, domain.Capture{ProviderReference: "pay_51", Amount: 1000}); err != nil {
				return err
			}
			_, err := b.Cancel("", baseTime, func(domain.Kind, domain.TypeDetails, int64, time.Time) int64 { return 0 })
			return err
		})
		require.NoError(t, err)

		ids, err := repo.ListExpired(ctx, baseTime.Add(5*time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, ids)

		ids, err = repo.ListExpired(ctx, baseTime.Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"booking-050", "booking-052"}, ids)

		ids, err = repo.ListExpired(ctx, baseTime.Add(time.Hour), 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"booking-050"}, ids)

		ids, err = repo.ListAwaitingRefund(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"booking-051"}, ids)
	})

	t.Run("ConcurrentMutationsSerialize", func(t *testing.T) {
		repo := newRepo(t)
		b := newTestBooking(t, 60, "user-1", domain.KindInsurance)
		require.NoError(t, repo.Create(ctx, b))

		var confirmedCount, rejected int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := repo.Mutate(ctx, b.ID, func(b *domain.Booking) error {
					if i%2 == 0 {
						changed, err := b.Confirm(baseTime, domain.Capture{ProviderReference: fmt.Sprintf("pay_%d", i), Amount: 1000})
						if changed {
							atomic.AddInt32(&confirmedCount, 1)
						}
						return err
					}
					return b.MarkExpired(baseTime.Add(time.Hour))
				})
				if errors.Is(err, domain.ErrInvalidTransition) {
					atomic.AddInt32(&rejected, 1)
				}
			}(i)
		}
		wg.Wait()

		got, err := repo.FindByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Nil(t, got.ExpiresAt)
		switch got.Status {
		case domain.BookingStatusConfirmed:
			assert.Equal(t, int32(1), confirmedCount)
			assert.Equal(t, int32(4), rejected)
		case domain.BookingStatusFailed:
			assert.Equal(t, int32(0), confirmedCount)
			assert.Equal(t, domain.ExpiredReason, got.CancellationReason)
		default:
			t.Fatalf("unexpected final status %s", got.Status)
		}
	})
}
