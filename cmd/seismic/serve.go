package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/urfave/cli/v2"

	httpadapter "github.com/couchcryptid/seismic-feed-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/seismic-feed-service/internal/adapter/kafka"
	"github.com/couchcryptid/seismic-feed-service/internal/config"
	"github.com/couchcryptid/seismic-feed-service/internal/domain"
	"github.com/couchcryptid/seismic-feed-service/internal/feed"
	"github.com/couchcryptid/seismic-feed-service/internal/notify"
	"github.com/couchcryptid/seismic-feed-service/internal/observability"
	"github.com/couchcryptid/seismic-feed-service/internal/pipeline"
	"github.com/couchcryptid/seismic-feed-service/internal/scheduler"
	"github.com/couchcryptid/seismic-feed-service/internal/store"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduler and HTTP API",
		Description: `Runs an ingestion immediately, then every poll interval while
		auto-update is on. Serves the quake API, /healthz, /readyz and /metrics
		on HTTP_ADDR. New quakes are forwarded to Kafka when KAFKA_BROKERS is set.`,
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	s, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	notifier := notify.NewBroker(notify.WithDropHook[domain.StoredQuake](metrics.NotificationsDropped.Inc))
	p := newPipeline(cfg, s, notifier, logger, metrics)
	sched := scheduler.New(p, cfg.Preferences, nil, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Store:           s,
		Scheduler:       sched,
		PreferencesFile: cfg.PreferencesFile,
	}, logger)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	var wg sync.WaitGroup

	logSub := notifier.Subscribe(cfg.NotifyBuffer)
	wg.Go(func() { logQuakes(ctx, logSub, logger) })

	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		sub := notifier.Subscribe(cfg.NotifyBuffer)
		wg.Go(func() {
			if err := writer.Run(ctx, sub); err != nil {
				logger.Error("kafka sink stopped", "error", err)
			}
		})
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka sink disabled")
	}

	// Start HTTP server.
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	// Start scheduler.
	wg.Go(func() {
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	})

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-srvErr:
		logger.Error("http server error", "error", runErr)
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	cancel()
	wg.Wait()
	notifier.Close()

	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

func newPipeline(cfg *config.Config, s *store.Store, pub pipeline.Publisher, logger *slog.Logger, metrics *observability.Metrics) *pipeline.Pipeline {
	return pipeline.New(
		feed.NewClient(cfg.FetchTimeout, cfg.FetchMaxBytes, metrics, logger),
		feed.NewParser(),
		s,
		pub,
		pipeline.Options{
			FeedURL:       cfg.FeedURL,
			Retries:       cfg.FetchRetries,
			RetryInterval: cfg.FetchRetryInterval,
		},
		logger,
		metrics,
	)
}

// logQuakes is the notifier subscriber that reports each notable quake.
func logQuakes(ctx context.Context, sub *notify.Subscription[domain.StoredQuake], logger *slog.Logger) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-sub.C:
			if !ok {
				return
			}
			logger.Info("new quake",
				"id", q.ID,
				"magnitude", q.Magnitude,
				"details", q.Details,
				"occurred_at", q.OccurredAt,
				"link", q.Link,
			)
		}
	}
}
