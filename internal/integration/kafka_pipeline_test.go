//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/seismic-feed-service/internal/adapter/kafka"
	"github.com/couchcryptid/seismic-feed-service/internal/config"
	"github.com/couchcryptid/seismic-feed-service/internal/domain"
	"github.com/couchcryptid/seismic-feed-service/internal/feed"
	"github.com/couchcryptid/seismic-feed-service/internal/notify"
	"github.com/couchcryptid/seismic-feed-service/internal/observability"
	"github.com/couchcryptid/seismic-feed-service/internal/pipeline"
	"github.com/couchcryptid/seismic-feed-service/internal/store"
)

const testTopic = "test-quakes"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("seismic-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func serveFeed(t *testing.T) string {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", "feed.xml"))
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

type sinkMessage struct {
	Quake   domain.StoredQuake
	Key     string
	Headers map[string]string
}

func readQuake(ctx context.Context, t *testing.T, consumer *kafkago.Reader) sinkMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from quake topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var q domain.StoredQuake
	require.NoError(t, json.Unmarshal(msg.Value, &q), "unmarshal quake message")
	return sinkMessage{Quake: q, Key: string(msg.Key), Headers: headers}
}

// TestPipelineToKafka runs one ingestion against a local feed and verifies that
// quakes at or above the threshold reach the topic in feed order.
func TestPipelineToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	s, err := store.Open(filepath.Join(t.TempDir(), "quakes.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	metrics := observability.NewMetricsForTesting()
	notifier := notify.NewBroker[domain.StoredQuake]()
	t.Cleanup(notifier.Close)

	writer := kafka.NewWriter([]string{broker}, testTopic, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	sinkCtx, sinkCancel := context.WithCancel(ctx)
	sinkDone := make(chan error, 1)
	sub := notifier.Subscribe(16)
	go func() { sinkDone <- writer.Run(sinkCtx, sub) }()

	p := pipeline.New(
		feed.NewClient(10*time.Second, feed.DefaultMaxBytes, metrics, discardLogger()),
		feed.NewParser(),
		s,
		notifier,
		pipeline.Options{FeedURL: serveFeed(t)},
		discardLogger(),
		metrics,
	)

	prefs := config.Preferences{AutoUpdate: false, PollInterval: time.Minute, MinimumMagnitude: 4.5}
	result, err := p.RunOnce(ctx, prefs)
	require.NoError(t, err)
	assert.Equal(t, 4, result.NewCount)
	assert.Equal(t, 2, result.NotifiedCount)
	assert.Len(t, result.Errors, 1)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	first := readQuake(ctx, t, consumer)
	assert.Equal(t, "2024-04-26T03:05:51Z", first.Key)
	assert.Equal(t, "Offshore Valparaiso, Chile", first.Quake.Details)
	assert.Equal(t, "5", first.Headers["magnitude"])
	_, err = time.Parse(time.RFC3339, first.Headers["ingested_at"])
	assert.NoError(t, err, "ingested_at should be valid RFC3339")

	second := readQuake(ctx, t, consumer)
	assert.Equal(t, "2024-04-26T05:58:14Z", second.Key)
	assert.Equal(t, "Near East Coast of Honshu, Japan", second.Quake.Details)
	assert.InDelta(t, 36.4, second.Quake.Latitude, 1e-9)
	assert.InDelta(t, 141.2, second.Quake.Longitude, 1e-9)

	// A second run finds nothing new and publishes nothing.
	result, err = p.RunOnce(ctx, prefs)
	require.NoError(t, err)
	assert.Equal(t, 0, result.NewCount)
	assert.Equal(t, 4, result.SkippedCount)

	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err = consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no further messages on the quake topic")

	sinkCancel()
	require.NoError(t, <-sinkDone)
}
