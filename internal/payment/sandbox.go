package payment

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Sandbox is an in-process provider used for local runs and tests.
// Refunds are recorded per idempotency key and replayed on retry.
type Sandbox struct {
	mu       sync.Mutex
	captures map[string]sandboxCapture
	refunds  map[string]string
	failures int
}

type sandboxCapture struct {
	bookingID string
	amount    int64
	refunded  int64
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		captures: make(map[string]sandboxCapture),
		refunds:  make(map[string]string),
	}
}

// FailNext makes the next n calls return ErrUnavailable.
func (s *Sandbox) FailNext(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

func (s *Sandbox) Capture(ctx context.Context, bookingID string, amount int64, currency string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return "", ErrUnavailable
	}
	if amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrDeclined)
	}
	ref := "pay_" + uuid.NewString()
	s.captures[ref] = sandboxCapture{bookingID: bookingID, amount: amount}
	return ref, nil
}

func (s *Sandbox) Refund(ctx context.Context, paymentRef string, amount int64, idempotencyKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return "", ErrUnavailable
	}
	if ref, ok := s.refunds[idempotencyKey]; ok {
		return ref, nil
	}
	c, ok := s.captures[paymentRef]
	if !ok {
		return "", fmt.Errorf("%w: unknown payment %s", ErrDeclined, paymentRef)
	}
	if amount <= 0 || c.refunded+amount > c.amount {
		return "", fmt.Errorf("%w: refund of %d exceeds captured %d", ErrDeclined, amount, c.amount-c.refunded)
	}
	c.refunded += amount
	s.captures[paymentRef] = c

	ref := "re_" + uuid.NewString()
	s.refunds[idempotencyKey] = ref
	return ref, nil
}

// Refunded reports the total refunded against a payment.
func (s *Sandbox) Refunded(paymentRef string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures[paymentRef].refunded
}

func formatAmount(amount int64) string {
	return strconv.FormatInt(amount, 10)
}

var _ Gateway = (*Sandbox)(nil)
