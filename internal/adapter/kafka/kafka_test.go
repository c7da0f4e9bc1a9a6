package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/seismic-feed-service/internal/domain"
	"github.com/couchcryptid/seismic-feed-service/internal/notify"
)

var occurred = time.Date(2024, 4, 26, 5, 58, 14, 0, time.UTC)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]kafkago.Message
	errs    []error
	closed  bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	f.batches = append(f.batches, msgs)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func (f *fakeWriter) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, b := range f.batches {
		for _, m := range b {
			out = append(out, string(m.Key))
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quake(id int64, offset time.Duration, mag float64) domain.StoredQuake {
	return domain.StoredQuake{
		ID: id,
		Quake: domain.Quake{
			OccurredAt: occurred.Add(offset),
			Details:    "Near East Coast of Honshu, Japan",
			Latitude:   36.4,
			Longitude:  141.2,
			Magnitude:  mag,
			Link:       "http://example.com/q",
		},
		IngestedAt: occurred.Add(time.Hour),
	}
}

func TestSerializeToMessage(t *testing.T) {
	msg, err := serializeToMessage(quake(7, 0, 6))
	require.NoError(t, err)

	assert.Equal(t, []byte("2024-04-26T05:58:14Z"), msg.Key)
	assert.Contains(t, string(msg.Value), `"details":"Near East Coast of Honshu, Japan"`)
	assert.Contains(t, string(msg.Value), `"id":7`)
	assert.Len(t, msg.Headers, 2)
	assert.Equal(t, "magnitude", msg.Headers[0].Key)
	assert.Equal(t, []byte("6"), msg.Headers[0].Value)
	assert.Equal(t, "ingested_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2024-04-26T06:58:14Z"), msg.Headers[1].Value)
}

func TestLoadBatch_Empty(t *testing.T) {
	fw := &fakeWriter{}
	w := &Writer{writer: fw, logger: discardLogger()}

	require.NoError(t, w.LoadBatch(context.Background(), nil))
	assert.Empty(t, fw.batches)
}

func TestRun_ForwardsInOrder(t *testing.T) {
	fw := &fakeWriter{}
	w := &Writer{writer: fw, logger: discardLogger()}
	broker := notify.NewBroker[domain.StoredQuake]()
	sub := broker.Subscribe(16)

	for i := range 3 {
		broker.Publish(quake(int64(i+1), time.Duration(i)*time.Minute, 4))
	}
	broker.Close()

	require.NoError(t, w.Run(context.Background(), sub))
	assert.Equal(t, []string{
		"2024-04-26T05:58:14Z",
		"2024-04-26T05:59:14Z",
		"2024-04-26T06:00:14Z",
	}, fw.keys())
}

func TestRun_WriteFailureDoesNotStop(t *testing.T) {
	fw := &fakeWriter{errs: []error{errors.New("broker down")}}
	w := &Writer{writer: fw, logger: discardLogger()}
	broker := notify.NewBroker[domain.StoredQuake]()
	sub := broker.Subscribe(16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, sub) }()

	broker.Publish(quake(1, 0, 4))
	assert.Eventually(t, func() bool {
		fw.mu.Lock()
		defer fw.mu.Unlock()
		return len(fw.errs) == 0
	}, time.Second, time.Millisecond)

	broker.Publish(quake(2, time.Minute, 5))
	assert.Eventually(t, func() bool { return len(fw.keys()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"2024-04-26T05:59:14Z"}, fw.keys())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, broker.Len(), "Run releases its subscription")
}

func TestWriter_Close(t *testing.T) {
	fw := &fakeWriter{}
	w := &Writer{writer: fw, logger: discardLogger()}
	require.NoError(t, w.Close())
	assert.True(t, fw.closed)
}
