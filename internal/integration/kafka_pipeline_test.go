//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/place-lookup-service/internal/adapter/kafka"
	"github.com/couchcryptid/place-lookup-service/internal/config"
	"github.com/couchcryptid/place-lookup-service/internal/domain"
	"github.com/couchcryptid/place-lookup-service/internal/lookup"
	"github.com/couchcryptid/place-lookup-service/internal/observability"
	"github.com/couchcryptid/place-lookup-service/internal/pipeline"
	"github.com/couchcryptid/place-lookup-service/internal/schedule"
	"github.com/couchcryptid/place-lookup-service/internal/session"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const (
	testSourceTopic = "test-source"
	testSinkTopic   = "test-sink"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("place-lookup-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

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

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers:     []string{broker},
		KafkaSourceTopic: testSourceTopic,
		KafkaSinkTopic:   testSinkTopic,
		KafkaGroupID:     fmt.Sprintf("%s-%d", group, time.Now().UnixNano()),
	}
}

type sinkMessage struct {
	Result  domain.LookupResult
	Key     string
	Headers map[string]string
}

func readResult(ctx context.Context, t *testing.T, consumer *kafkago.Reader) sinkMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var result domain.LookupResult
	require.NoError(t, json.Unmarshal(msg.Value, &result), "unmarshal sink message")
	return sinkMessage{Result: result, Key: string(msg.Key), Headers: headers}
}

func sinkConsumer(t *testing.T, broker string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

func publishUpdates(ctx context.Context, t *testing.T, broker string, updates ...domain.QueryUpdate) {
	t.Helper()
	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })

	msgs := make([]kafkago.Message, 0, len(updates))
	for _, u := range updates {
		payload, err := json.Marshal(u)
		require.NoError(t, err)
		msgs = append(msgs, kafkago.Message{Key: []byte(u.SessionID), Value: payload})
	}
	require.NoError(t, producer.WriteMessages(ctx, msgs...))
}

type countingSearcher struct {
	calls atomic.Int32
}

func (s *countingSearcher) Search(_ context.Context, query string) ([]domain.GeocodePlace, error) {
	s.calls.Add(1)
	if query == "atlantis" {
		return nil, domain.ErrPlacemarkNotFound
	}
	return []domain.GeocodePlace{{Name: query, Address: query + ", Austin, Texas"}}, nil
}

// TestKafkaReaderWriter verifies the adapter layer round-trips an update and a
// result through Kafka.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-reader")

	publishUpdates(ctx, t, broker, domain.QueryUpdate{SessionID: "s1", Seq: 4, Query: "cafe"})

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	raw, err := reader.Extract(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("s1"), raw.Key)
	assert.Equal(t, testSourceTopic, raw.Topic)
	require.NotNil(t, raw.Commit, "commit callback should be set")
	require.NoError(t, raw.Commit(ctx))

	update, err := domain.ParseQueryUpdate(raw.Value)
	require.NoError(t, err)
	assert.Equal(t, int64(4), update.Seq)

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	result := domain.NewLookupResult(update.SessionID, update.Seq, update.Query,
		[]domain.GeocodePlace{{Name: "Cafe Uno"}})
	require.NoError(t, writer.LoadBatch(ctx, []domain.LookupResult{result}))

	sm := readResult(ctx, t, sinkConsumer(t, broker))
	assert.Equal(t, "s1", sm.Key)
	assert.Equal(t, "s1", sm.Headers["session_id"])
	_, err = time.Parse(time.RFC3339, sm.Headers["resolved_at"])
	assert.NoError(t, err, "resolved_at should be valid RFC3339")
	assert.Equal(t, "cafe", sm.Result.Query)
	require.Len(t, sm.Result.Places, 1)
	assert.Equal(t, "Cafe Uno", sm.Result.Places[0].Name)
}

// TestPipelineEndToEnd wires Reader, session Manager, and Writer with real
// Kafka and checks that each session gets answers for its own queries.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-pipeline")

	publishUpdates(ctx, t, broker,
		domain.QueryUpdate{SessionID: "a", Seq: 1, Query: "c"},
		domain.QueryUpdate{SessionID: "b", Seq: 1, Query: "atlantis"},
		domain.QueryUpdate{SessionID: "c", Seq: 1, Query: "  zilker   park "},
		domain.QueryUpdate{SessionID: "junk"},
	)

	searcher := &countingSearcher{}
	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()

	loop := schedule.NewLoop(nil)
	loopCtx, stopLoop := context.WithCancel(ctx)
	t.Cleanup(stopLoop)
	go func() { _ = loop.Run(loopCtx) }()

	manager := session.NewManager(loop, func(l *schedule.Loop) *lookup.Coordinator {
		return lookup.New(l, searcher,
			lookup.WithMinRequestDelay(50*time.Millisecond),
			lookup.WithLogger(logger),
			lookup.WithMetrics(metrics))
	}, logger, metrics)

	reader := kafka.NewReader(cfg, logger)
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, logger)
	t.Cleanup(func() { _ = writer.Close() })

	p := pipeline.New(reader, manager, manager, writer, logger, metrics, 50)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	consumer := sinkConsumer(t, broker)
	received := map[string]domain.LookupResult{}
	for len(received) < 4 {
		sm := readResult(ctx, t, consumer)
		assert.Equal(t, sm.Result.SessionID, sm.Key)
		received[sm.Result.SessionID] = sm.Result
	}

	pipelineCancel()
	require.NoError(t, <-errCh)

	assert.Nil(t, received["a"].Places, "short query answers nil")
	assert.Nil(t, received["b"].Places, "not found answers nil")
	assert.Equal(t, "zilker park", received["c"].Query)
	require.Len(t, received["c"].Places, 1)
	assert.Equal(t, "zilker park", received["c"].Places[0].Name)
	assert.Nil(t, received["junk"].Places, "empty query answers nil")
	assert.Equal(t, int32(2), searcher.calls.Load())
	assert.NoError(t, p.CheckReadiness(ctx))
}

// TestPipelineInvalidUpdate verifies that a poison pill is skipped and the
// pipeline keeps serving valid updates.
func TestPipelineInvalidUpdate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-poison")

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })
	valid, err := json.Marshal(domain.QueryUpdate{SessionID: "s1", Seq: 1, Query: "cafe"})
	require.NoError(t, err)
	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")},
		kafkago.Message{Key: []byte("s1"), Value: valid},
	))

	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()
	loop := schedule.NewLoop(nil)
	loopCtx, stopLoop := context.WithCancel(ctx)
	t.Cleanup(stopLoop)
	go func() { _ = loop.Run(loopCtx) }()

	manager := session.NewManager(loop, func(l *schedule.Loop) *lookup.Coordinator {
		return lookup.New(l, &countingSearcher{}, lookup.WithMinRequestDelay(0), lookup.WithMetrics(metrics))
	}, logger, metrics)

	reader := kafka.NewReader(cfg, logger)
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, logger)
	t.Cleanup(func() { _ = writer.Close() })

	p := pipeline.New(reader, manager, manager, writer, logger, metrics, 50)
	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	consumer := sinkConsumer(t, broker)
	sm := readResult(ctx, t, consumer)
	assert.Equal(t, "s1", sm.Result.SessionID)
	assert.Equal(t, "cafe", sm.Result.Query)

	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err = consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no second message on sink topic")

	pipelineCancel()
	require.NoError(t, <-errCh)
}
