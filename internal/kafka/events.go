package kafka

import (
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
)

// BookingEvent is the JSON payload written to both the lifecycle and the
// notification topics.
type BookingEvent struct {
	Type            string     `json:"type"`
	BookingID       string     `json:"booking_id"`
	Reference       string     `json:"booking_reference"`
	OwnerID         string     `json:"owner_id"`
	Kind            string     `json:"kind"`
	Status          string     `json:"status"`
	PaymentStatus   string     `json:"payment_status"`
	Currency        string     `json:"currency"`
	Total           int64      `json:"total"`
	PaidAmount      int64      `json:"paid_amount"`
	CancellationFee int64      `json:"cancellation_fee,omitempty"`
	RefundAmount    int64      `json:"refund_amount,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

func NewBookingEvent(eventType string, b *domain.Booking, refundAmount int64, at time.Time) BookingEvent {
	event := BookingEvent{
		Type:            eventType,
		BookingID:       b.ID,
		Reference:       b.Reference,
		OwnerID:         b.OwnerID,
		Kind:            string(b.Kind),
		Status:          string(b.Status),
		PaymentStatus:   string(b.Pricing.PaymentStatus),
		Currency:        b.Pricing.Currency,
		Total:           b.Pricing.Total,
		PaidAmount:      b.Pricing.PaidAmount,
		CancellationFee: b.Pricing.CancellationFee,
		RefundAmount:    refundAmount,
		Reason:          b.CancellationReason,
		OccurredAt:      at.UTC(),
	}
	if b.ExpiresAt != nil {
		exp := b.ExpiresAt.UTC()
		event.ExpiresAt = &exp
	}
	return event
}
