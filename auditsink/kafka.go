package auditsink

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/frog8/authflow"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig configures a KafkaSink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit events to a Kafka topic.
type KafkaSink struct {
	writer  messageWriter
	timeout time.Duration
	logger  *zap.Logger
	written atomic.Uint64
	failed  atomic.Uint64
}

func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka audit sink requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka audit sink requires a topic")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaSink(writer, cfg.WriteTimeout, logger), nil
}

func newKafkaSink(w messageWriter, timeout time.Duration, logger *zap.Logger) *KafkaSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{
		writer:  w,
		timeout: timeout,
		logger:  logger.Named("audit.kafka"),
	}
}

func (s *KafkaSink) Emit(ctx context.Context, event authflow.AuditEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.failed.Add(1)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.FlowID),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("audit event not published",
			zap.String("event_type", event.EventType),
			zap.String("flow_id", event.FlowID),
			zap.Error(err),
		)
		return
	}
	s.written.Add(1)
}

// Written counts events acknowledged by the broker.
func (s *KafkaSink) Written() uint64 {
	return s.written.Load()
}

// Failed counts events that could not be published.
func (s *KafkaSink) Failed() uint64 {
	return s.failed.Load()
}

// Close flushes pending batches and closes the writer.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
