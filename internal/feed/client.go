// Package feed downloads the seismic Atom feed and turns it into quakes.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/seismic-feed-service/internal/domain"
	"github.com/couchcryptid/seismic-feed-service/internal/observability"
)

const (
	// DefaultTimeout bounds a single download.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxBytes caps the accepted body size.
	DefaultMaxBytes int64 = 10 << 20

	userAgent = "seismic-feed-service/1.0"
)

var errBodyTooLarge = errors.New("response body exceeds size limit")

// Client performs one HTTP GET per Fetch. It never retries.
type Client struct {
	httpClient *http.Client
	maxBytes   int64
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a feed client. Non-positive timeout or maxBytes select the defaults.
func NewClient(timeout time.Duration, maxBytes int64, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxBytes: maxBytes,
		metrics:  metrics,
		logger:   logger,
	}
}

// Fetch downloads url and returns the raw body. Failures are *domain.FetchError.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	body, err := c.fetch(ctx, url)
	c.metrics.FetchDuration.Observe(time.Since(start).Seconds())

	var fe *domain.FetchError
	switch {
	case err == nil:
		c.metrics.FetchRequests.WithLabelValues("success").Inc()
		c.logger.Debug("feed fetched", "url", url, "bytes", len(body))
	case errors.As(err, &fe) && fe.Reason == domain.FetchBadStatus:
		c.metrics.FetchRequests.WithLabelValues("bad_status").Inc()
	default:
		c.metrics.FetchRequests.WithLabelValues("network").Inc()
	}
	return body, err
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.FetchError{Reason: domain.FetchNetwork, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/atom+xml, application/xml;q=0.9, */*;q=0.1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{Reason: domain.FetchNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &domain.FetchError{Reason: domain.FetchBadStatus, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, &domain.FetchError{Reason: domain.FetchNetwork, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > c.maxBytes {
		return nil, &domain.FetchError{Reason: domain.FetchNetwork, Err: errBodyTooLarge}
	}
	return body, nil
}
