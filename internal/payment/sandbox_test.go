package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_RefundIsIdempotent(t *testing.T) {
	s := NewSandbox()
	ctx := context.Background()

	payRef, err := s.Capture(ctx, "b-1", 1000, "USD")
	require.NoError(t, err)

	key := RefundKey("b-1", 900)
	assert.Equal(t, "b-1:900", key)

	first, err := s.Refund(ctx, payRef, 900, key)
	require.NoError(t, err)
	second, err := s.Refund(ctx, payRef, 900, key)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(900), s.Refunded(payRef))
}

func TestSandbox_RefundBounds(t *testing.T) {
	s := NewSandbox()
	ctx := context.Background()
	payRef, err := s.Capture(ctx, "b-1", 1000, "USD")
	require.NoError(t, err)

	_, err = s.Refund(ctx, payRef, 1001, "k1")
	assert.ErrorIs(t, err, ErrDeclined)

	_, err = s.Refund(ctx, "pay_unknown", 10, "k2")
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestSandbox_FailNext(t *testing.T) {
	s := NewSandbox()
	ctx := context.Background()
	s.FailNext(1)

	_, err := s.Capture(ctx, "b-1", 1000, "USD")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.Capture(ctx, "b-1", 1000, "USD")
	assert.NoError(t, err)
}

func TestSandbox_CancelledContext(t *testing.T) {
	s := NewSandbox()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Capture(ctx, "b-1", 1000, "USD")
	assert.ErrorIs(t, err, ErrUnavailable)
}
