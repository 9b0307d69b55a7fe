// Package policy computes cancellation fees from a booking's type details.
package policy

import (
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
)

const (
	// FlightFreeWindow is how long before departure a flight can be cancelled for free.
	FlightFreeWindow = 24 * time.Hour
	// DefaultFeePercent applies once the free window has passed.
	DefaultFeePercent = 10
)

// FreeUntil returns the end of the free-cancellation window, if the booking has one.
func FreeUntil(kind domain.Kind, d domain.TypeDetails) (time.Time, bool) {
	switch kind {
	case domain.KindFlight:
		if d.Flight == nil || d.Flight.DepartureAt.IsZero() {
			return time.Time{}, false
		}
		return d.Flight.DepartureAt.Add(-FlightFreeWindow), true
	case domain.KindHotel:
		if d.Hotel == nil || d.Hotel.FreeCancellationUntil == nil {
			return time.Time{}, false
		}
		return *d.Hotel.FreeCancellationUntil, true
	case domain.KindCar:
		if d.Car == nil || d.Car.FreeCancellationUntil == nil {
			return time.Time{}, false
		}
		return *d.Car.FreeCancellationUntil, true
	}
	return time.Time{}, false
}

// EvaluateFee returns the cancellation fee in minor units. It is a domain.FeeFunc.
func EvaluateFee(kind domain.Kind, d domain.TypeDetails, total int64, now time.Time) int64 {
	if total <= 0 {
		return 0
	}
	if freeUntil, ok := FreeUntil(kind, d); ok && now.Before(freeUntil) {
		return 0
	}
	if kind == domain.KindHotel && d.Hotel != nil && d.Hotel.NonRefundable {
		return total
	}
	return percentOf(total, DefaultFeePercent)
}

// percentOf rounds half-up to the minor unit.
func percentOf(total int64, percent int64) int64 {
	return (total*percent + 50) / 100
}

var _ domain.FeeFunc = EvaluateFee
