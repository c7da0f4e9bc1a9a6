package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/seismic-feed-service/internal/domain"
	"github.com/couchcryptid/seismic-feed-service/internal/notify"
)

// maxBatch bounds how many queued quakes go into one WriteMessages call.
const maxBatch = 100

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer forwards notified quakes to a Kafka topic.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Run consumes sub until it is closed or ctx is cancelled. Whatever is already
// queued is written as one batch. A failed write is logged and the batch is
// dropped; delivery is best-effort like the rest of the notifier.
func (w *Writer) Run(ctx context.Context, sub *notify.Subscription[domain.StoredQuake]) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case q, ok := <-sub.C:
			if !ok {
				return nil
			}
			batch := drain(sub.C, []domain.StoredQuake{q})
			if err := w.LoadBatch(ctx, batch); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("kafka write failed", "count", len(batch), "error", err)
				continue
			}
			w.logger.Debug("quakes forwarded to kafka", "count", len(batch))
		}
	}
}

func drain(c <-chan domain.StoredQuake, batch []domain.StoredQuake) []domain.StoredQuake {
	for len(batch) < maxBatch {
		select {
		case q, ok := <-c:
			if !ok {
				return batch
			}
			batch = append(batch, q)
		default:
			return batch
		}
	}
	return batch
}

// LoadBatch serializes and publishes quakes in a single WriteMessages call.
func (w *Writer) LoadBatch(ctx context.Context, quakes []domain.StoredQuake) error {
	if len(quakes) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(quakes))
	for i := range quakes {
		msg, err := serializeToMessage(quakes[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a StoredQuake into a Kafka message keyed by its
// occurred-at time, the quake's identity across services.
func serializeToMessage(q domain.StoredQuake) (kafkago.Message, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize quake: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(q.OccurredAt.UTC().Format(time.RFC3339)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "magnitude", Value: []byte(strconv.FormatFloat(q.Magnitude, 'f', -1, 64))},
			{Key: "ingested_at", Value: []byte(q.IngestedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
