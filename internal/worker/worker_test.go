package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Domenick1991/bookingcore/internal/lock"
	"github.com/Domenick1991/bookingcore/internal/service/booking"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockExpirer struct {
	mock.Mock
}

func (m *MockExpirer) ExpirePendingBookings(ctx context.Context, limit int) (booking.SweepResult, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).(booking.SweepResult), args.Error(1)
}

type MockRefundService struct {
	mock.Mock
}

func (m *MockRefundService) PendingRefunds(ctx context.Context, limit int) ([]string, error) {
	args := m.Called(ctx, limit)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MockRefundService) RetryRefund(ctx context.Context, id string) (*booking.RefundResult, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*booking.RefundResult)
	return res, args.Error(1)
}

func TestRetryPolicy_NextDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}

	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.Equal(t, 10*time.Second, p.NextDelay(10))
	assert.Equal(t, 10*time.Second, p.NextDelay(200))
	assert.Equal(t, time.Second, RetryPolicy{}.NextDelay(1))
	assert.Equal(t, 24*time.Hour, RetryPolicy{InitialDelay: time.Hour}.NextDelay(1000))
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3}
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.False(t, RetryPolicy{}.Exhausted(100))
}

func TestReaper_RunOnceDrainsFullBatches(t *testing.T) {
	svc := &MockExpirer{}
	svc.On("ExpirePendingBookings", mock.Anything, 2).Return(booking.SweepResult{Scanned: 2, Expired: 2}, nil).Once()
	svc.On("ExpirePendingBookings", mock.Anything, 2).Return(booking.SweepResult{Scanned: 1, Expired: 0, Skipped: 1}, nil).Once()

	r := NewReaper(svc, time.Minute, 2, zerolog.Nop())
	res, err := r.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, booking.SweepResult{Scanned: 3, Expired: 2, Skipped: 1}, res)
	svc.AssertExpectations(t)
}

func TestReaper_RunOnceStopsWhenNothingExpires(t *testing.T) {
	svc := &MockExpirer{}
	svc.On("ExpirePendingBookings", mock.Anything, 2).Return(booking.SweepResult{Scanned: 2, Failed: 2}, nil).Once()

	r := NewReaper(svc, time.Minute, 2, zerolog.Nop())
	res, err := r.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	svc.AssertNumberOfCalls(t, "ExpirePendingBookings", 1)
}

func TestReaper_RunOncePropagatesError(t *testing.T) {
	svc := &MockExpirer{}
	boom := errors.New("db down")
	svc.On("ExpirePendingBookings", mock.Anything, 100).Return(booking.SweepResult{}, boom).Once()

	r := NewReaper(svc, time.Minute, 0, zerolog.Nop())
	_, err := r.RunOnce(context.Background())

	assert.ErrorIs(t, err, boom)
}

func TestReaper_SweepLockSkipsWhenHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	other := lock.NewRedisLock(client, lock.SweepLockKey("expiry"), time.Minute)
	lease, err := other.TryAcquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, lease)

	svc := &MockExpirer{}
	r := NewReaper(svc, time.Minute, 10, zerolog.Nop(),
		WithSweepLock(lock.NewRedisLock(client, lock.SweepLockKey("expiry"), time.Minute)))

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, booking.SweepResult{}, res)
	svc.AssertNotCalled(t, "ExpirePendingBookings", mock.Anything, mock.Anything)

	require.NoError(t, lease.Release(context.Background()))
	svc.On("ExpirePendingBookings", mock.Anything, 10).Return(booking.SweepResult{Scanned: 1, Expired: 1}, nil).Once()

	res, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.False(t, mr.Exists(lock.SweepLockKey("expiry")))
}

func TestReaper_StartStopsOnCancel(t *testing.T) {
	svc := &MockExpirer{}
	svc.On("ExpirePendingBookings", mock.Anything, 100).Return(booking.SweepResult{}, nil).Maybe()
	r := NewReaper(svc, 5*time.Millisecond, 100, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestRefundRetrier_BacksOffPerBooking(t *testing.T) {
	svc := &MockRefundService{}
	svc.On("PendingRefunds", mock.Anything, 100).Return([]string{"b-1", "b-2"}, nil).Once()
	svc.On("PendingRefunds", mock.Anything, 100).Return([]string{"b-1"}, nil).Once()
	svc.On("RetryRefund", mock.Anything, "b-1").Return(nil, errors.New("payment unavailable")).Once()
	svc.On("RetryRefund", mock.Anything, "b-2").Return(&booking.RefundResult{Applied: 900}, nil).Once()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	r := NewRefundRetrier(svc, time.Second, 0, RetryPolicy{MaxRetries: 2, InitialDelay: time.Minute, BackoffFactor: 2}, zerolog.Nop())
	r.now = func() time.Time { return now }

	stats, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RetryStats{Refunded: 1, Failed: 1}, stats)

	// inside the backoff window nothing is retried
	now = now.Add(30 * time.Second)
	stats, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RetryStats{Waiting: 1}, stats)
	svc.AssertNumberOfCalls(t, "RetryRefund", 2)
}

func TestRefundRetrier_GivesUpAfterMaxRetries(t *testing.T) {
	svc := &MockRefundService{}
	svc.On("PendingRefunds", mock.Anything, 100).Return([]string{"b-1"}, nil)
	svc.On("RetryRefund", mock.Anything, "b-1").Return(nil, errors.New("declined"))

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	r := NewRefundRetrier(svc, time.Second, 100, RetryPolicy{MaxRetries: 2, InitialDelay: time.Second, MaxDelay: time.Second}, zerolog.Nop())
	r.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_, err := r.RunOnce(context.Background())
		require.NoError(t, err)
		now = now.Add(time.Minute)
	}
	stats, err := r.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, RetryStats{GaveUp: 1}, stats)
	svc.AssertNumberOfCalls(t, "RetryRefund", 2)
}

func TestRefundRetrier_ForgetsResolvedBookings(t *testing.T) {
	svc := &MockRefundService{}
	svc.On("PendingRefunds", mock.Anything, 100).Return([]string{"b-1"}, nil).Once()
	svc.On("PendingRefunds", mock.Anything, 100).Return([]string{}, nil).Once()
	svc.On("RetryRefund", mock.Anything, "b-1").Return(nil, errors.New("unavailable")).Once()

	r := NewRefundRetrier(svc, time.Second, 100, RetryPolicy{}, zerolog.Nop())

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, r.attempts, 1)

	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, r.attempts)
}
