package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/place-lookup-service/internal/config"
	"github.com/couchcryptid/place-lookup-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces lookup results to a Kafka topic.
// It implements pipeline.ResultLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes lookup results in a single
// WriteMessages call. Results are keyed by session so one session's answers
// stay ordered on one partition.
func (w *Writer) LoadBatch(ctx context.Context, results []domain.LookupResult) error {
	if len(results) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(results))
	for i := range results {
		msg, err := serializeToMessage(results[i])
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

// serializeToMessage marshals a LookupResult into a Kafka message.
func serializeToMessage(result domain.LookupResult) (kafkago.Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize lookup result: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(result.SessionID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "session_id", Value: []byte(result.SessionID)},
			{Key: "resolved_at", Value: []byte(result.ResolvedAt.Format(time.RFC3339))},
		},
	}, nil
}
