package domain

import "time"

type Kind string

const (
	KindFlight    Kind = "flight"
	KindHotel     Kind = "hotel"
	KindCar       Kind = "car"
	KindInsurance Kind = "insurance"
	KindPackage   Kind = "package"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindFlight, KindHotel, KindCar, KindInsurance, KindPackage:
		return true
	default:
		return false
	}
}

// RequiresDetails reports whether the kind must carry type details before confirmation.
func (k Kind) RequiresDetails() bool {
	return k == KindFlight || k == KindHotel || k == KindCar
}

// TypeDetails is the policy-relevant projection of the booked product.
// Exactly one field is set and it matches the booking kind.
type TypeDetails struct {
	Flight    *FlightDetails    `json:"flight,omitempty"`
	Hotel     *HotelDetails     `json:"hotel,omitempty"`
	Car       *CarDetails       `json:"car,omitempty"`
	Insurance *InsuranceDetails `json:"insurance,omitempty"`
	Package   *PackageDetails   `json:"package,omitempty"`
}

type FlightDetails struct {
	DepartureAt time.Time `json:"departure_at"`
	ArrivalAt   time.Time `json:"arrival_at"`
}

type HotelDetails struct {
	CheckIn               time.Time  `json:"check_in"`
	CheckOut              time.Time  `json:"check_out"`
	FreeCancellationUntil *time.Time `json:"free_cancellation_until,omitempty"`
	NonRefundable         bool       `json:"non_refundable"`
}

type CarDetails struct {
	PickupAt              time.Time  `json:"pickup_at"`
	DropoffAt             time.Time  `json:"dropoff_at"`
	FreeCancellationUntil *time.Time `json:"free_cancellation_until,omitempty"`
}

type InsuranceDetails struct {
	CoverageEndsAt time.Time `json:"coverage_ends_at"`
}

type PackageDetails struct {
	EndsAt time.Time `json:"ends_at"`
}

// Populated reports whether the details required by kind are present and usable.
func (d TypeDetails) Populated(kind Kind) bool {
	switch kind {
	case KindFlight:
		return d.Flight != nil && !d.Flight.DepartureAt.IsZero() && !d.Flight.ArrivalAt.IsZero()
	case KindHotel:
		return d.Hotel != nil && !d.Hotel.CheckIn.IsZero() && !d.Hotel.CheckOut.IsZero()
	case KindCar:
		return d.Car != nil && !d.Car.PickupAt.IsZero() && !d.Car.DropoffAt.IsZero()
	case KindInsurance, KindPackage:
		return true
	default:
		return false
	}
}

// matches rejects payloads that carry details of another kind.
func (d TypeDetails) matches(kind Kind) bool {
	set := map[Kind]bool{
		KindFlight:    d.Flight != nil,
		KindHotel:     d.Hotel != nil,
		KindCar:       d.Car != nil,
		KindInsurance: d.Insurance != nil,
		KindPackage:   d.Package != nil,
	}
	for k, present := range set {
		if present && k != kind {
			return false
		}
	}
	return true
}

// ServiceEnd is the moment after which the booking can be completed.
// A zero time means the kind carries no end date.
func (d TypeDetails) ServiceEnd(kind Kind) time.Time {
	switch {
	case kind == KindFlight && d.Flight != nil:
		return d.Flight.ArrivalAt
	case kind == KindHotel && d.Hotel != nil:
		return d.Hotel.CheckOut
	case kind == KindCar && d.Car != nil:
		return d.Car.DropoffAt
	case kind == KindInsurance && d.Insurance != nil:
		return d.Insurance.CoverageEndsAt
	case kind == KindPackage && d.Package != nil:
		return d.Package.EndsAt
	}
	return time.Time{}
}

func (d TypeDetails) clone() TypeDetails {
	var out TypeDetails
	if d.Flight != nil {
		f := *d.Flight
		out.Flight = &f
	}
	if d.Hotel != nil {
		h := *d.Hotel
		h.FreeCancellationUntil = cloneTime(d.Hotel.FreeCancellationUntil)
		out.Hotel = &h
	}
	if d.Car != nil {
		c := *d.Car
		c.FreeCancellationUntil = cloneTime(d.Car.FreeCancellationUntil)
		out.Car = &c
	}
	if d.Insurance != nil {
		i := *d.Insurance
		out.Insurance = &i
	}
	if d.Package != nil {
		p := *d.Package
		out.Package = &p
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
