package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/place-lookup-service/internal/config"
	"github.com/couchcryptid/place-lookup-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes query updates from a Kafka topic.
// It implements pipeline.UpdateExtractor.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a Kafka consumer for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaSourceTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Reader{reader: r, logger: logger}
}

// Extract fetches the next message without committing it. The returned
// Commit func acknowledges the message once it has been dispatched.
func (r *Reader) Extract(ctx context.Context) (domain.RawUpdate, error) {
	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return domain.RawUpdate{}, fmt.Errorf("fetch message: %w", err)
	}
	raw := mapMessageToRawUpdate(msg)
	raw.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return raw, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

func mapMessageToRawUpdate(msg kafkago.Message) domain.RawUpdate {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawUpdate{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
