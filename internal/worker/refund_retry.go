package worker

import (
	"context"
	"sync"
	"time"

	"github.com/Domenick1991/bookingcore/internal/metrics"
	"github.com/Domenick1991/bookingcore/internal/service/booking"
	"github.com/rs/zerolog"
)

type RefundService interface {
	PendingRefunds(ctx context.Context, limit int) ([]string, error)
	RetryRefund(ctx context.Context, id string) (*booking.RefundResult, error)
}

type refundAttempt struct {
	count  int
	nextAt time.Time
}

// RefundRetrier re-drives refunds of cancelled bookings whose payment step
// failed. Each booking backs off on its own schedule; after MaxRetries failures
// it is left for manual handling.
type RefundRetrier struct {
	service   RefundService
	interval  time.Duration
	batchSize int
	policy    RetryPolicy
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	attempts map[string]*refundAttempt
}

type RetryStats struct {
	Refunded int
	Failed   int
	Waiting  int
	GaveUp   int
}

func NewRefundRetrier(service RefundService, interval time.Duration, batchSize int, policy RetryPolicy, logger zerolog.Logger) *RefundRetrier {
	if policy.MaxRetries == 0 {
		policy.MaxRetries = 10
	}
	if policy.InitialDelay == 0 {
		policy.InitialDelay = interval
	}
	if policy.MaxDelay == 0 {
		policy.MaxDelay = time.Hour
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &RefundRetrier{
		service:   service,
		interval:  interval,
		batchSize: batchSize,
		policy:    policy,
		logger:    logger.With().Str("worker", "refund_retry").Logger(),
		now:       time.Now,
		attempts:  make(map[string]*refundAttempt),
	}
}

func (r *RefundRetrier) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("refund retrier started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("refund retrier stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("refund retry pass failed")
			}
		}
	}
}

func (r *RefundRetrier) RunOnce(ctx context.Context) (RetryStats, error) {
	var stats RetryStats
	ids, err := r.service.PendingRefunds(ctx, r.batchSize)
	if err != nil {
		return stats, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(ids)

	now := r.now()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		st := r.attempts[id]
		if st == nil {
			st = &refundAttempt{}
			r.attempts[id] = st
		}
		if r.policy.Exhausted(st.count) {
			stats.GaveUp++
			continue
		}
		if now.Before(st.nextAt) {
			stats.Waiting++
			continue
		}

		res, err := r.service.RetryRefund(ctx, id)
		if err == nil {
			delete(r.attempts, id)
			stats.Refunded++
			r.logger.Info().Str("booking_id", id).Int64("amount", res.Applied).Msg("deferred refund applied")
			continue
		}

		st.count++
		st.nextAt = now.Add(r.policy.NextDelay(st.count))
		stats.Failed++
		if r.policy.Exhausted(st.count) {
			r.logger.Error().Err(err).Str("booking_id", id).Int("attempts", st.count).Msg("giving up on refund")
		} else {
			r.logger.Warn().Err(err).Str("booking_id", id).Int("attempt", st.count).Time("next_at", st.nextAt).Msg("refund retry failed")
		}
	}

	metrics.AddSweep("refund_retry", "refunded", stats.Refunded)
	metrics.AddSweep("refund_retry", "failed", stats.Failed)
	metrics.AddSweep("refund_retry", "gave_up", stats.GaveUp)
	return stats, nil
}

// prune forgets bookings that no longer await a refund. Callers hold mu.
func (r *RefundRetrier) prune(pending []string) {
	keep := make(map[string]struct{}, len(pending))
	for _, id := range pending {
		keep[id] = struct{}{}
	}
	for id := range r.attempts {
		if _, ok := keep[id]; !ok {
			delete(r.attempts, id)
		}
	}
}
