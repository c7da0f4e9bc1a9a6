package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	kafkaadapter "github.com/couchcryptid/seismic-feed-service/internal/adapter/kafka"
	"github.com/couchcryptid/seismic-feed-service/internal/domain"
	"github.com/couchcryptid/seismic-feed-service/internal/notify"
	"github.com/couchcryptid/seismic-feed-service/internal/observability"
	"github.com/couchcryptid/seismic-feed-service/internal/store"
)

// refreshBuffer holds every quake one run can notify so the Kafka sink sees
// all of them even though it only drains after the run.
const refreshBuffer = 4096

type refreshOutput struct {
	domain.IngestionResult
	RecordErrors []string `json:"record_errors"`
}

func refreshCmd() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Run one ingestion and print its result",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:  "min-magnitude",
				Usage: "notification threshold for this run (defaults to the configured preference)",
			},
		},
		Action: refresh,
	}
}

func refresh(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := commandLogger(cfg)
	metrics := observability.NewMetrics()

	prefs := cfg.Preferences
	if c.IsSet("min-magnitude") {
		prefs.MinimumMagnitude = c.Float64("min-magnitude")
		if err := prefs.Validate(); err != nil {
			return err
		}
	}

	s, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	notifier := notify.NewBroker(notify.WithDropHook[domain.StoredQuake](func() {
		logger.Warn("notification dropped")
	}))

	sinkDone := make(chan struct{})
	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer writer.Close()
		sub := notifier.Subscribe(refreshBuffer)
		go func() {
			defer close(sinkDone)
			_ = writer.Run(context.WithoutCancel(c.Context), sub)
		}()
	} else {
		close(sinkDone)
	}

	result, err := newPipeline(cfg, s, notifier, logger, metrics).RunOnce(c.Context, prefs)
	notifier.Close()
	<-sinkDone
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(refreshOutput{
		IngestionResult: result,
		RecordErrors:    lo.Map(result.Errors, func(e *domain.RecordError, _ int) string { return e.Error() }),
	}); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
