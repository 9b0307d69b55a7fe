package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/bookingcore/config"
	"github.com/Domenick1991/bookingcore/internal/bootstrap"
	"github.com/Domenick1991/bookingcore/internal/email"
	"github.com/Domenick1991/bookingcore/internal/kafka"
	"github.com/Domenick1991/bookingcore/internal/lock"
	"github.com/Domenick1991/bookingcore/internal/logging"
	"github.com/Domenick1991/bookingcore/internal/metrics"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bookingcore worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.Driver == config.StorageMemory {
		return errors.New("the worker needs shared storage; with the memory driver the app runs the background loops itself")
	}

	logger, logCloser, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := bootstrap.OpenRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	gateway, err := bootstrap.NewPaymentGateway(cfg.Payment)
	if err != nil {
		return err
	}

	var notifier *kafka.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, logger.With().Str("component", "kafka").Logger())
		defer producer.Close()
		notifier = kafka.NewNotifier(producer, cfg.Kafka.BookingEventsTopic, cfg.Kafka.NotificationsTopic)
	}

	bookingService := bootstrap.NewBookingService(cfg, repo, gateway, notifier, *logger)

	redisClient := lock.NewRedisClient(cfg.Redis)
	defer redisClient.Close()
	workers := bootstrap.NewWorkers(cfg, bookingService, redisClient, *logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return workers.Reaper.Start(gctx) })
	g.Go(func() error { return workers.RefundRetrier.Start(gctx) })

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.NotificationsTopic != "" {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic,
			logger.With().Str("component", "kafka_consumer").Logger())
		defer consumer.Close()
		sender := email.NewSender(logger.With().Str("component", "email").Logger())

		g.Go(func() error {
			err := consumer.ConsumeEvents(gctx, sender.Send)
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("notification consumer stopped: %w", err)
		})
	}

	logger.Info().Msg("worker started")
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker error")
		return err
	}
	logger.Info().Msg("worker stopped")
	return nil
}
