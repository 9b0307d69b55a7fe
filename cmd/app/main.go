package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/bookingcore/api"
	"github.com/Domenick1991/bookingcore/config"
	"github.com/Domenick1991/bookingcore/internal/bootstrap"
	"github.com/Domenick1991/bookingcore/internal/kafka"
	"github.com/Domenick1991/bookingcore/internal/logging"
	"github.com/Domenick1991/bookingcore/internal/metrics"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bookingcore: %v\n", err)
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
		if err := producer.CheckConnection(ctx); err != nil {
			logger.Warn().Err(err).Msg("kafka not reachable, events will be retried per message")
		}
		notifier = kafka.NewNotifier(producer, cfg.Kafka.BookingEventsTopic, cfg.Kafka.NotificationsTopic)
	}

	bookingService := bootstrap.NewBookingService(cfg, repo, gateway, notifier, *logger)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewBookingHandler(bookingService, logger.With().Str("component", "api").Logger())
	router := api.NewRouter(handler, cfg.API, cfg.Payment.WebhookSecret, *logger)
	if cfg.Payment.WebhookSecret == "" {
		logger.Warn().Msg("payment webhook disabled: payment.webhook_secret is empty")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bootstrap.Run(gctx, cfg, router, *logger)
	})

	// Memory storage is private to this process, so the background loops run here
	// and no cross-instance sweep lock is needed.
	if cfg.Storage.Driver == config.StorageMemory {
		workers := bootstrap.NewWorkers(cfg, bookingService, nil, *logger)
		g.Go(func() error { return workers.Reaper.Start(gctx) })
		g.Go(func() error { return workers.RefundRetrier.Start(gctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
		return err
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
