package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
)

// bookingRecord is the flat row shared by the SQL backends.
type bookingRecord struct {
	ID                 string
	Reference          string
	OwnerID            string
	Kind               string
	Status             string
	Details            []byte
	Currency           string
	Total              int64
	PaidAmount         int64
	RefundedAmount     int64
	CancellationFee    int64
	PaymentStatus      string
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ConfirmedAt        *time.Time
	CancelledAt        *time.Time
	CompletedAt        *time.Time
	ExpiresAt          *time.Time
}

type ledgerRecord struct {
	BookingID         string
	ProviderReference string
	Currency          string
	AmountCaptured    int64
	AmountRefunded    int64
	Status            string
	RefundReferences  []byte
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func toRecord(b *domain.Booking) (bookingRecord, error) {
	details, err := json.Marshal(b.Details)
	if err != nil {
		return bookingRecord{}, fmt.Errorf("encode details: %w", err)
	}
	return bookingRecord{
		ID:                 b.ID,
		Reference:          b.Reference,
		OwnerID:            b.OwnerID,
		Kind:               string(b.Kind),
		Status:             string(b.Status),
		Details:            details,
		Currency:           b.Pricing.Currency,
		Total:              b.Pricing.Total,
		PaidAmount:         b.Pricing.PaidAmount,
		RefundedAmount:     b.Pricing.RefundedAmount,
		CancellationFee:    b.Pricing.CancellationFee,
		PaymentStatus:      string(b.Pricing.PaymentStatus),
		CancellationReason: b.CancellationReason,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
		ConfirmedAt:        b.ConfirmedAt,
		CancelledAt:        b.CancelledAt,
		CompletedAt:        b.CompletedAt,
		ExpiresAt:          b.ExpiresAt,
	}, nil
}

func (r bookingRecord) toDomain() (*domain.Booking, error) {
	var details domain.TypeDetails
	if len(r.Details) > 0 {
		if err := json.Unmarshal(r.Details, &details); err != nil {
			return nil, fmt.Errorf("decode details of %s: %w", r.ID, err)
		}
	}
	return &domain.Booking{
		ID:        r.ID,
		Reference: r.Reference,
		OwnerID:   r.OwnerID,
		Kind:      domain.Kind(r.Kind),
		Status:    domain.BookingStatus(r.Status),
		Details:   details,
		Pricing: domain.Pricing{
			Currency:        r.Currency,
			Total:           r.Total,
			PaidAmount:      r.PaidAmount,
			RefundedAmount:  r.RefundedAmount,
			CancellationFee: r.CancellationFee,
			PaymentStatus:   domain.PaymentStatus(r.PaymentStatus),
		},
		CancellationReason: r.CancellationReason,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
		ConfirmedAt:        utcPtr(r.ConfirmedAt),
		CancelledAt:        utcPtr(r.CancelledAt),
		CompletedAt:        utcPtr(r.CompletedAt),
		ExpiresAt:          utcPtr(r.ExpiresAt),
	}, nil
}

func toLedgerRecord(l *domain.LedgerEntry) (ledgerRecord, error) {
	refs := l.RefundReferences
	if refs == nil {
		refs = []string{}
	}
	encoded, err := json.Marshal(refs)
	if err != nil {
		return ledgerRecord{}, fmt.Errorf("encode refund references: %w", err)
	}
	return ledgerRecord{
		BookingID:         l.BookingID,
		ProviderReference: l.ProviderReference,
		Currency:          l.Currency,
		AmountCaptured:    l.AmountCaptured,
		AmountRefunded:    l.AmountRefunded,
		Status:            string(l.Status),
		RefundReferences:  encoded,
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
	}, nil
}

func (r ledgerRecord) toDomain() (*domain.LedgerEntry, error) {
	var refs []string
	if len(r.RefundReferences) > 0 {
		if err := json.Unmarshal(r.RefundReferences, &refs); err != nil {
			return nil, fmt.Errorf("decode refund references of %s: %w", r.BookingID, err)
		}
	}
	if len(refs) == 0 {
		refs = nil
	}
	return &domain.LedgerEntry{
		BookingID:         r.BookingID,
		ProviderReference: r.ProviderReference,
		Currency:          r.Currency,
		AmountCaptured:    r.AmountCaptured,
		AmountRefunded:    r.AmountRefunded,
		Status:            domain.LedgerStatus(r.Status),
		RefundReferences:  refs,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
