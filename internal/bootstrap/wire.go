package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/bookingcore/config"
	"github.com/Domenick1991/bookingcore/internal/kafka"
	"github.com/Domenick1991/bookingcore/internal/lock"
	"github.com/Domenick1991/bookingcore/internal/payment"
	"github.com/Domenick1991/bookingcore/internal/repository"
	"github.com/Domenick1991/bookingcore/internal/service/booking"
	"github.com/Domenick1991/bookingcore/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// OpenRepository opens the configured booking store. The returned func
// releases it.
func OpenRepository(ctx context.Context, cfg *config.Config) (repository.BookingRepository, func(), error) {
	lockTimeout := cfg.Booking.LockTimeout()

	switch cfg.Storage.Driver {
	case config.StorageMemory:
		return repository.NewMemoryBookingRepository(lockTimeout), func() {}, nil
	case config.StorageSQLite:
		repo, err := repository.NewSQLiteBookingRepository(cfg.Storage.SQLitePath, lockTimeout)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		repo := repository.NewBookingRepository(pool, lockTimeout)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func NewPaymentGateway(cfg config.PaymentConfig) (payment.Gateway, error) {
	switch cfg.Driver {
	case config.PaymentSandbox:
		return payment.NewSandbox(), nil
	case config.PaymentHTTP:
		return payment.NewHTTPGateway(cfg.BaseURL, cfg.APIKey, cfg.Timeout()), nil
	default:
		return nil, fmt.Errorf("unknown payment driver %q", cfg.Driver)
	}
}

// NewBookingService wires the service from config. notifier may be nil.
func NewBookingService(cfg *config.Config, repo repository.BookingRepository, gateway payment.Gateway, notifier *kafka.Notifier, logger zerolog.Logger) *booking.BookingService {
	opts := []booking.BookingServiceOption{
		booking.WithLogger(logger.With().Str("component", "booking_service").Logger()),
		booking.WithPaymentTimeout(cfg.Payment.Timeout()),
		booking.WithNotifyTimeout(cfg.Booking.NotifyTimeout()),
		booking.WithReferenceAttempts(cfg.Booking.ReferenceAttempts),
	}
	if notifier != nil {
		opts = append(opts, booking.WithNotifier(notifier), booking.WithEventPublisher(notifier))
	}
	return booking.NewBookingService(repo, gateway, cfg.Booking.HoldTTL(), opts...)
}

// Workers are the background loops that keep bookings moving without a caller.
type Workers struct {
	Reaper        *worker.Reaper
	RefundRetrier *worker.RefundRetrier
}

// NewWorkers builds the reaper and refund retrier. A non-nil redis client
// enables the cross-instance sweep lock when configured.
func NewWorkers(cfg *config.Config, svc *booking.BookingService, redisClient redis.Cmdable, logger zerolog.Logger) *Workers {
	var reaperOpts []worker.ReaperOption
	if cfg.Worker.SweepLock && redisClient != nil {
		sweepLock := lock.NewRedisLock(redisClient, lock.SweepLockKey("expiry"), cfg.Worker.SweepInterval())
		reaperOpts = append(reaperOpts, worker.WithSweepLock(sweepLock))
	}

	retry := worker.RetryPolicy{
		MaxRetries:    cfg.Worker.MaxRefundAttempts,
		InitialDelay:  cfg.Worker.RefundRetryInterval(),
		MaxDelay:      time.Hour,
		BackoffFactor: 2,
	}

	return &Workers{
		Reaper:        worker.NewReaper(svc, cfg.Worker.SweepInterval(), cfg.Worker.BatchSize, logger, reaperOpts...),
		RefundRetrier: worker.NewRefundRetrier(svc, cfg.Worker.RefundRetryInterval(), cfg.Worker.BatchSize, retry, logger),
	}
}
