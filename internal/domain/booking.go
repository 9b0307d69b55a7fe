package domain

import (
	"fmt"
	"time"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusRefunded  BookingStatus = "refunded"
	BookingStatusFailed    BookingStatus = "failed"
)

// Status is kept short for method signatures.
type Status = BookingStatus

var validTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled, BookingStatusFailed},
	BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusCancelled, BookingStatusRefunded},
	BookingStatusCancelled: {BookingStatusRefunded},
	BookingStatusCompleted: {},
	BookingStatusRefunded:  {},
	BookingStatusFailed:    {},
}

func (s BookingStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status can no longer be cancelled or confirmed.
// Cancelled is terminal for user actions; only the refund step may still move it.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCancelled, BookingStatusCompleted, BookingStatusRefunded, BookingStatusFailed:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentFullyRefunded     PaymentStatus = "fully_refunded"
	PaymentFailed            PaymentStatus = "failed"
)

// ExpiredReason is the cancellation reason recorded by the reaper.
const ExpiredReason = "expired"

// Pricing amounts are minor currency units.
type Pricing struct {
	Currency        string        `json:"currency"`
	Total           int64         `json:"total"`
	PaidAmount      int64         `json:"paid_amount"`
	RefundedAmount  int64         `json:"refunded_amount"`
	CancellationFee int64         `json:"cancellation_fee"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
}

type Booking struct {
	ID                 string        `json:"id"`
	Reference          string        `json:"booking_reference"`
	OwnerID            string        `json:"owner_id"`
	Kind               Kind          `json:"kind"`
	Status             BookingStatus `json:"status"`
	Details            TypeDetails   `json:"type_details"`
	Pricing            Pricing       `json:"pricing"`
	Ledger             *LedgerEntry  `json:"ledger,omitempty"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	ConfirmedAt        *time.Time    `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	ExpiresAt          *time.Time    `json:"expires_at,omitempty"`
}

// FeeFunc computes the cancellation fee for a booking at a given instant.
type FeeFunc func(kind Kind, details TypeDetails, total int64, now time.Time) int64

type NewBookingParams struct {
	ID        string
	Reference string
	OwnerID   string
	Kind      Kind
	Details   TypeDetails
	Currency  string
	Total     int64
	CreatedAt time.Time
	HoldTTL   time.Duration
}

// NewBooking builds a pending booking with an expiry deadline of CreatedAt+HoldTTL.
func NewBooking(p NewBookingParams) (*Booking, error) {
	if p.OwnerID == "" {
		return nil, validationError("owner id is required")
	}
	if !p.Kind.IsValid() {
		return nil, validationError("unknown booking kind %q", p.Kind)
	}
	if p.Total <= 0 {
		return nil, validationError("total must be positive")
	}
	if p.Currency == "" {
		return nil, validationError("currency is required")
	}
	if !p.Details.matches(p.Kind) {
		return nil, validationError("type details do not match kind %s", p.Kind)
	}
	if p.Kind.RequiresDetails() && !p.Details.Populated(p.Kind) {
		return nil, validationError("%s bookings require type details", p.Kind)
	}
	if !ValidReference(p.Reference) {
		return nil, validationError("malformed booking reference %q", p.Reference)
	}
	if p.HoldTTL <= 0 {
		return nil, validationError("hold ttl must be positive")
	}

	now := p.CreatedAt.UTC()
	expires := now.Add(p.HoldTTL)
	return &Booking{
		ID:        p.ID,
		Reference: p.Reference,
		OwnerID:   p.OwnerID,
		Kind:      p.Kind,
		Status:    BookingStatusPending,
		Details:   p.Details.clone(),
		Pricing: Pricing{
			Currency:      p.Currency,
			Total:         p.Total,
			PaymentStatus: PaymentPending,
		},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: &expires,
	}, nil
}

// Confirm moves a pending booking to confirmed and opens its ledger entry.
// The capture must cover the total; any excess is not recorded as paid.
// Confirming an already confirmed booking is a no-op and reports changed=false.
func (b *Booking) Confirm(now time.Time, capture Capture) (bool, error) {
	if b.Status == BookingStatusConfirmed {
		return false, nil
	}
	if err := b.CheckConfirmable(); err != nil {
		return false, err
	}
	if capture.ProviderReference == "" {
		return false, validationError("payment reference is required")
	}

	if capture.Amount < b.Pricing.Total {
		return false, validationError("captured amount %d does not cover total %d", capture.Amount, b.Pricing.Total)
	}
	paid := b.Pricing.Total

	now = now.UTC()
	b.Status = BookingStatusConfirmed
	b.ConfirmedAt = &now
	b.ExpiresAt = nil
	b.Pricing.PaidAmount = paid
	b.Pricing.PaymentStatus = PaymentPaid
	b.Ledger = &LedgerEntry{
		BookingID:         b.ID,
		ProviderReference: capture.ProviderReference,
		Currency:          b.Pricing.Currency,
		AmountCaptured:    paid,
		Status:            LedgerCaptured,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	b.UpdatedAt = now
	return true, nil
}

// CheckConfirmable reports why a pending booking could not be confirmed yet.
func (b *Booking) CheckConfirmable() error {
	if b.Status != BookingStatusPending {
		return newTransitionError("confirm", b.Status)
	}
	if !b.Details.Populated(b.Kind) {
		return validationError("%s booking has no type details", b.Kind)
	}
	if b.Pricing.Total <= 0 {
		return validationError("total must be positive")
	}
	return nil
}

// Cancel cancels a pending or confirmed booking and returns the fee charged.
// The ledger is left alone; the caller drives the refund.
func (b *Booking) Cancel(reason string, now time.Time, evaluate FeeFunc) (int64, error) {
	if b.Status != BookingStatusPending && b.Status != BookingStatusConfirmed {
		return 0, newTransitionError("cancel", b.Status)
	}

	fee := evaluate(b.Kind, b.Details, b.Pricing.Total, now)
	if fee < 0 {
		fee = 0
	}
	if fee > b.Pricing.Total {
		fee = b.Pricing.Total
	}

	now = now.UTC()
	b.Status = BookingStatusCancelled
	b.CancelledAt = &now
	b.CancellationReason = reason
	b.ExpiresAt = nil
	b.Pricing.CancellationFee = fee
	b.UpdatedAt = now
	return fee, nil
}

// Complete closes a confirmed booking once its service end has passed.
func (b *Booking) Complete(now time.Time) error {
	if b.Status != BookingStatusConfirmed {
		return newTransitionError("complete", b.Status)
	}
	end := b.Details.ServiceEnd(b.Kind)
	if !end.IsZero() && !now.After(end) {
		return &TransitionError{
			Op:   "complete",
			From: b.Status,
			Err:  fmt.Errorf("%w: service ends at %s", ErrInvalidTransition, end.UTC().Format(time.RFC3339)),
		}
	}

	now = now.UTC()
	b.Status = BookingStatusCompleted
	b.CompletedAt = &now
	b.UpdatedAt = now
	return nil
}

// MarkExpired fails a pending booking whose deadline has passed.
func (b *Booking) MarkExpired(now time.Time) error {
	if b.Status != BookingStatusPending {
		return newTransitionError("expire", b.Status)
	}
	if b.ExpiresAt == nil || !now.After(*b.ExpiresAt) {
		return &TransitionError{
			Op:   "expire",
			From: b.Status,
			Err:  fmt.Errorf("%w: deadline not reached", ErrInvalidTransition),
		}
	}

	now = now.UTC()
	b.Status = BookingStatusFailed
	b.CancellationReason = ExpiredReason
	b.ExpiresAt = nil
	b.UpdatedAt = now
	return nil
}

// RefundDue is what the cancellation still owes the customer.
func (b *Booking) RefundDue() int64 {
	if b.Status != BookingStatusCancelled {
		return 0
	}
	owed := b.Pricing.Total - b.Pricing.CancellationFee
	if owed > b.Pricing.PaidAmount {
		owed = b.Pricing.PaidAmount
	}
	owed -= b.Pricing.RefundedAmount
	if owed < 0 {
		return 0
	}
	return owed
}

// Refundable is the captured amount not yet returned.
func (b *Booking) Refundable() int64 {
	return b.Pricing.PaidAmount - b.Pricing.RefundedAmount
}

// CheckRefundable validates a refund request before money moves.
func (b *Booking) CheckRefundable(amount int64) error {
	if b.Status != BookingStatusConfirmed && b.Status != BookingStatusCancelled {
		return newTransitionError("refund", b.Status)
	}
	if amount <= 0 {
		return validationError("refund amount must be positive")
	}
	if b.Ledger == nil {
		return validationError("booking has no captured payment")
	}
	return nil
}

// ApplyRefund records a refund the payment provider has executed and returns the applied amount.
// A refund reference that was already recorded is ignored.
func (b *Booking) ApplyRefund(amount int64, refundRef string, now time.Time) (int64, error) {
	if err := b.CheckRefundable(amount); err != nil {
		return 0, err
	}
	if b.Ledger.hasRefund(refundRef) {
		return 0, nil
	}

	applied := amount
	if remaining := b.Refundable(); applied > remaining {
		applied = remaining
	}
	if applied <= 0 {
		return 0, nil
	}

	now = now.UTC()
	b.Pricing.RefundedAmount += applied
	b.Ledger.recordRefund(applied, refundRef, now)
	if b.Pricing.RefundedAmount == b.Pricing.PaidAmount {
		b.Pricing.PaymentStatus = PaymentFullyRefunded
		b.Status = BookingStatusRefunded
	} else {
		b.Pricing.PaymentStatus = PaymentPartiallyRefunded
	}
	b.UpdatedAt = now
	return applied, nil
}

// CheckInvariants verifies the aggregate before it is persisted.
func (b *Booking) CheckInvariants() error {
	if !ValidReference(b.Reference) {
		return fmt.Errorf("booking %s: malformed reference %q", b.ID, b.Reference)
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("booking %s: unknown status %q", b.ID, b.Status)
	}
	if (b.Status == BookingStatusPending) != (b.ExpiresAt != nil) {
		return fmt.Errorf("booking %s: expires_at must be set only while pending", b.ID)
	}
	p := b.Pricing
	if p.RefundedAmount < 0 || p.RefundedAmount > p.PaidAmount || p.PaidAmount > p.Total {
		return fmt.Errorf("booking %s: amounts out of bounds (refunded=%d paid=%d total=%d)",
			b.ID, p.RefundedAmount, p.PaidAmount, p.Total)
	}
	if b.Ledger != nil && (b.Ledger.AmountRefunded != p.RefundedAmount || b.Ledger.AmountCaptured != p.PaidAmount) {
		return fmt.Errorf("booking %s: ledger out of sync with pricing", b.ID)
	}
	return nil
}

// Clone returns a deep copy so callers never share state with a store.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	out := *b
	out.Details = b.Details.clone()
	out.Ledger = b.Ledger.clone()
	out.ConfirmedAt = cloneTime(b.ConfirmedAt)
	out.CancelledAt = cloneTime(b.CancelledAt)
	out.CompletedAt = cloneTime(b.CompletedAt)
	out.ExpiresAt = cloneTime(b.ExpiresAt)
	return &out
}
