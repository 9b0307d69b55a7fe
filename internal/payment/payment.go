// Package payment is the boundary to the external payment provider.
package payment

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the provider could not be reached or timed out. Retryable.
	ErrUnavailable = errors.New("payment provider unavailable")
	// ErrDeclined means the provider refused the operation. Not retryable.
	ErrDeclined = errors.New("payment declined")
)

// Gateway captures and refunds money. Refund must be idempotent under idempotencyKey.
type Gateway interface {
	Capture(ctx context.Context, bookingID string, amount int64, currency string) (string, error)
	Refund(ctx context.Context, paymentRef string, amount int64, idempotencyKey string) (string, error)
}

// RefundKey builds the idempotency key for the refund owed after a cancellation.
// A booking owes at most one such amount at a time, so retries collapse onto it.
func RefundKey(bookingID string, amount int64) string {
	return bookingID + ":" + formatAmount(amount)
}

// RequestedRefundKey keys an explicitly requested refund by what had been refunded
// before it. A retry of the same request reuses the key; the next request, made
// after the first was recorded, gets a fresh one.
func RequestedRefundKey(bookingID string, refundedBefore, amount int64) string {
	return bookingID + ":" + formatAmount(refundedBefore) + ":" + formatAmount(amount)
}
