package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/couchcryptid/seismic-feed-service/internal/config"
	"github.com/couchcryptid/seismic-feed-service/internal/domain"
	"github.com/couchcryptid/seismic-feed-service/internal/observability"
)

// Fetcher downloads the raw feed document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Parser turns a feed document into a sequence of quakes.
type Parser interface {
	Parse(raw []byte) (iter.Seq2[domain.Quake, error], error)
}

// Store is the subset of the event store the pipeline writes through.
type Store interface {
	Exists(ctx context.Context, occurredAt time.Time) (bool, error)
	Insert(ctx context.Context, q domain.Quake) (domain.StoredQuake, error)
}

// Publisher fans a newly stored quake out to subscribers and returns how many received it.
type Publisher interface {
	Publish(q domain.StoredQuake) int
}

// Options tunes the fetch stage.
type Options struct {
	FeedURL       string
	Retries       int           // extra attempts after a retryable fetch failure
	RetryInterval time.Duration // initial backoff between attempts
}

// Pipeline runs fetch, parse, dedup, persist, and notify for one feed document.
// It holds no run state; callers serialize runs.
type Pipeline struct {
	fetcher   Fetcher
	parser    Parser
	store     Store
	publisher Publisher
	opts      Options
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Pipeline with the given stages and observability.
func New(f Fetcher, p Parser, s Store, pub Publisher, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	return &Pipeline{
		fetcher:   f,
		parser:    p,
		store:     s,
		publisher: pub,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}
}

// RunOnce performs a single ingestion run. A fetch or parse failure aborts the
// run before any store change and is returned. Per-entry failures are collected
// in the result and do not stop the run. Every new quake is stored; only those
// at or above prefs.MinimumMagnitude are published.
func (p *Pipeline) RunOnce(ctx context.Context, prefs config.Preferences) (domain.IngestionResult, error) {
	start := time.Now()
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	result, err := p.run(ctx, prefs)
	p.metrics.RunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.Runs.WithLabelValues("failed").Inc()
		return result, err
	}
	p.metrics.Runs.WithLabelValues("success").Inc()

	p.logger.Info("ingestion run complete",
		"new_count", result.NewCount,
		"skipped_count", result.SkippedCount,
		"notified_count", result.NotifiedCount,
		"record_errors", len(result.Errors),
		"duration", time.Since(start),
	)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, prefs config.Preferences) (domain.IngestionResult, error) {
	var result domain.IngestionResult

	raw, err := p.fetch(ctx)
	if err != nil {
		return result, err
	}

	quakes, err := p.parser.Parse(raw)
	if err != nil {
		return result, err
	}

	index := 0
	for q, err := range quakes {
		i := index
		index++

		if err != nil {
			p.metrics.EntriesDropped.Inc()
			p.recordError(&result, asRecordError(i, q, err))
			continue
		}
		p.metrics.EntriesParsed.Inc()

		if ctx.Err() != nil {
			return result, fmt.Errorf("ingest feed: %w", ctx.Err())
		}

		stored, skipped, err := p.ingest(ctx, q)
		switch {
		case err != nil:
			p.recordError(&result, &domain.RecordError{Index: i, OccurredAt: q.OccurredAt, Err: err})
		case skipped:
			result.SkippedCount++
			p.metrics.QuakesSkipped.Inc()
		default:
			result.NewCount++
			p.metrics.QuakesIngested.Inc()
			if stored.Magnitude >= prefs.MinimumMagnitude {
				p.publisher.Publish(stored)
				result.NotifiedCount++
			}
		}
	}

	return result, nil
}

// errSentinelTaken marks an unparseable timestamp whose fallback key is
// already stored. The entry is a different event, so it is not skipped.
var errSentinelTaken = errors.New("timestamp unparseable and sentinel key already stored")

// ingest stores q unless its OccurredAt is already known.
func (p *Pipeline) ingest(ctx context.Context, q domain.Quake) (domain.StoredQuake, bool, error) {
	exists, err := p.store.Exists(ctx, q.OccurredAt)
	if err != nil {
		return domain.StoredQuake{}, false, fmt.Errorf("check exists: %w", err)
	}
	if exists && q.OccurredAt.Equal(domain.SentinelTime) {
		return domain.StoredQuake{}, false, &domain.StoreError{Reason: domain.StoreDuplicate, Err: errSentinelTaken}
	}
	if exists {
		return domain.StoredQuake{}, true, nil
	}

	stored, err := p.store.Insert(ctx, q)
	if err != nil {
		return domain.StoredQuake{}, false, err
	}
	return stored, false, nil
}

// fetch downloads the feed, retrying network and 5xx failures with exponential backoff.
func (p *Pipeline) fetch(ctx context.Context) ([]byte, error) {
	var raw []byte
	attempt := 0
	op := func() error {
		attempt++
		body, err := p.fetcher.Fetch(ctx, p.opts.FeedURL)
		if err == nil {
			raw = body
			return nil
		}
		var fe *domain.FetchError
		if errors.As(err, &fe) && fe.Retryable() {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.RetryInterval
	b.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		p.logger.Warn("feed fetch failed, retrying",
			"error", err,
			"attempt", attempt,
			"wait", wait,
		)
	}

	retries := max(p.opts.Retries, 0)
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx), notify)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (p *Pipeline) recordError(result *domain.IngestionResult, rec *domain.RecordError) {
	result.Errors = append(result.Errors, rec)
	p.metrics.RecordErrors.Inc()
	p.logger.Warn("feed entry not ingested",
		"index", rec.Index,
		"duplicate", domain.IsDuplicate(rec),
		"error", rec.Err,
	)
}

func asRecordError(index int, q domain.Quake, err error) *domain.RecordError {
	var rec *domain.RecordError
	if errors.As(err, &rec) {
		return rec
	}
	return &domain.RecordError{Index: index, OccurredAt: q.OccurredAt, Err: err}
}
