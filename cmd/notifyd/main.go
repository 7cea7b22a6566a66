package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/example/clinic-notify/internal/adapters/common"
	emailadapter "github.com/example/clinic-notify/internal/adapters/email"
	lineadapter "github.com/example/clinic-notify/internal/adapters/line"
	smsadapter "github.com/example/clinic-notify/internal/adapters/sms"
	"github.com/example/clinic-notify/internal/config"
	"github.com/example/clinic-notify/internal/content"
	"github.com/example/clinic-notify/internal/dispatch"
	"github.com/example/clinic-notify/internal/events"
	"github.com/example/clinic-notify/internal/logger"
	"github.com/example/clinic-notify/internal/metrics"
	emailprovider "github.com/example/clinic-notify/internal/providers/email"
	lineprovider "github.com/example/clinic-notify/internal/providers/line"
	smsprovider "github.com/example/clinic-notify/internal/providers/sms"
	"github.com/example/clinic-notify/internal/retry"
	"github.com/example/clinic-notify/internal/server"
	"github.com/example/clinic-notify/internal/store"
	"github.com/example/clinic-notify/internal/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		fallback.Fatal().Err(err).Msg("failed to load config")
	}

	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fallback := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		fallback.Fatal().Err(err).Msg("failed to initialise logger")
	}
	fail := func(err error, msg string) {
		log.Fatal().Err(err).Msg(msg)
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		fail(err, "failed to connect to database")
	}
	defer pool.Close()

	deliveryStore, err := store.NewPostgresStore(pool)
	if err != nil {
		fail(err, "failed to initialise delivery store")
	}
	if err := deliveryStore.Migrate(ctx); err != nil {
		fail(err, "failed to migrate delivery log schema")
	}
	directory, err := store.NewPostgresDirectory(pool)
	if err != nil {
		fail(err, "failed to initialise recipient directory")
	}

	providerTimeout := time.Duration(cfg.Timeouts.ProviderTimeoutSeconds) * time.Second

	lineProv, err := lineprovider.NewHTTPProvider(cfg.LINE, *log)
	if err != nil {
		fail(err, "failed to initialise line provider")
	}
	emailProv, err := emailprovider.NewSMTPProvider(cfg.SMTP, *log)
	if err != nil {
		fail(err, "failed to initialise smtp provider")
	}
	smsProv, err := smsprovider.NewHTTPProvider(cfg.SMS, *log)
	if err != nil {
		fail(err, "failed to initialise sms provider")
	}

	lineAd, err := lineadapter.NewAdapter(lineProv, *log, lineadapter.WithTimeout(providerTimeout))
	if err != nil {
		fail(err, "failed to initialise line adapter")
	}
	emailAd, err := emailadapter.NewAdapter(emailProv, *log, emailadapter.WithTimeout(providerTimeout))
	if err != nil {
		fail(err, "failed to initialise email adapter")
	}
	smsAd, err := smsadapter.NewAdapter(smsProv, *log,
		smsadapter.WithTimeout(providerTimeout),
		smsadapter.WithCountryCode(cfg.SMS.CountryCode),
	)
	if err != nil {
		fail(err, "failed to initialise sms adapter")
	}
	adapters := []common.Adapter{lineAd, emailAd, smsAd}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.StatusTopic, *log)
		if err != nil {
			fail(err, "failed to initialise kafka status publisher")
		}
		defer kafkaPub.Close()
		publisher = kafkaPub
	}

	mtr := metrics.New(prometheus.DefaultRegisterer)
	builder := content.NewBuilder()

	dispatcher, err := dispatch.NewDispatcher(dispatch.Dependencies{
		Adapters:  adapters,
		Builder:   builder,
		Store:     deliveryStore,
		Publisher: publisher,
		Metrics:   mtr,
		Logger:    *log,
	})
	if err != nil {
		fail(err, "failed to initialise dispatcher")
	}

	scheduler, err := retry.NewScheduler(retry.Config{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BackoffUnit:   time.Duration(cfg.Retry.BackoffUnitSeconds) * time.Second,
		Concurrency:   cfg.Retry.WorkerConcurrency,
		SweepInterval: cfg.Retry.SweepInterval,
	}, retry.Dependencies{
		Store:     deliveryStore,
		Directory: directory,
		Adapters:  adapters,
		Builder:   builder,
		Fallback:  dispatcher,
		Publisher: publisher,
		Metrics:   mtr,
		Logger:    *log,
	})
	if err != nil {
		fail(err, "failed to initialise retry scheduler")
	}
	dispatcher.SetRetrier(scheduler)
	scheduler.Start()
	defer scheduler.Stop()

	processor, err := webhook.NewProcessor(cfg.LINE.ChannelSecret, webhook.Dependencies{
		Store:     deliveryStore,
		Directory: directory,
		Replier:   lineProv,
		Builder:   builder,
		Publisher: publisher,
		Metrics:   mtr,
		Logger:    *log,
	})
	if err != nil {
		fail(err, "failed to initialise webhook processor")
	}

	srv, err := server.New(cfg.App.Port, server.Dependencies{
		Dispatcher: dispatcher,
		Processor:  processor,
		Directory:  directory,
		Store:      deliveryStore,
		Logger:     *log,
	})
	if err != nil {
		fail(err, "failed to initialise http server")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().Str("env", cfg.App.Env).Int("port", cfg.App.Port).Msg("notification daemon started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	log.Info().Msg("notification daemon stopped")
}
