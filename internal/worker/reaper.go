package worker

import (
	"context"
	"time"

	"github.com/Domenick1991/bookingcore/internal/lock"
	"github.com/Domenick1991/bookingcore/internal/metrics"
	"github.com/Domenick1991/bookingcore/internal/service/booking"
	"github.com/rs/zerolog"
)

type Expirer interface {
	ExpirePendingBookings(ctx context.Context, limit int) (booking.SweepResult, error)
}

// Reaper fails pending bookings whose payment deadline has passed.
type Reaper struct {
	service   Expirer
	interval  time.Duration
	batchSize int
	sweepLock *lock.RedisLock
	logger    zerolog.Logger
}

type ReaperOption func(*Reaper)

// WithSweepLock makes the reaper skip a tick while another instance holds l.
func WithSweepLock(l *lock.RedisLock) ReaperOption {
	return func(r *Reaper) {
		r.sweepLock = l
	}
}

func NewReaper(service Expirer, interval time.Duration, batchSize int, logger zerolog.Logger, opts ...ReaperOption) *Reaper {
	if batchSize <= 0 {
		batchSize = 100
	}
	r := &Reaper{
		service:   service,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.With().Str("worker", "reaper").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reaper) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("expiry reaper started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("expiry reaper stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("expiry sweep failed")
			}
		}
	}
}

// RunOnce sweeps batches until a batch comes back short or expires nothing.
func (r *Reaper) RunOnce(ctx context.Context) (booking.SweepResult, error) {
	var total booking.SweepResult

	if r.sweepLock != nil {
		lease, err := r.sweepLock.TryAcquire(ctx)
		if err != nil {
			return total, err
		}
		if lease == nil {
			r.logger.Debug().Msg("sweep lock held elsewhere, skipping")
			metrics.AddSweep("reaper", "locked", 1)
			return total, nil
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn().Err(err).Msg("release sweep lock")
			}
		}()
	}

	for {
		res, err := r.service.ExpirePendingBookings(ctx, r.batchSize)
		total.Scanned += res.Scanned
		total.Expired += res.Expired
		total.Skipped += res.Skipped
		total.Failed += res.Failed
		if err != nil {
			r.record(total)
			return total, err
		}
		if res.Scanned < r.batchSize || res.Expired == 0 {
			break
		}
	}

	r.record(total)
	if total.Scanned > 0 {
		r.logger.Info().Int("expired", total.Expired).Int("skipped", total.Skipped).
			Int("failed", total.Failed).Msg("expiry sweep completed")
	}
	if total.Failed > 0 {
		r.logger.Warn().Int("failed", total.Failed).Msg("bookings failed to expire during sweep")
	}
	return total, nil
}

func (r *Reaper) record(res booking.SweepResult) {
	metrics.AddSweep("reaper", "expired", res.Expired)
	metrics.AddSweep("reaper", "skipped", res.Skipped)
	metrics.AddSweep("reaper", "failed", res.Failed)
}
