package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/equiprent/rental-workflow/internal/application/port"
)

// messageWriter is the subset of kafka.Writer the publisher needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig holds event stream configuration
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaPublisher writes workflow events to a Kafka topic. Messages are keyed
// by entity so one entity's events stay ordered within a partition.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewKafkaPublisher creates a synchronous publisher with hash partitioning
func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newKafkaPublisher(writer, cfg, logger)
}

func newKafkaPublisher(writer messageWriter, cfg KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaPublisher{
		writer:  writer,
		topic:   cfg.Topic,
		timeout: timeout,
		logger:  logger,
	}
}

// Publish writes one message and waits for all in-sync replicas
func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("topic", p.topic),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to write message to %s: %w", p.topic, err)
	}

	p.logger.Debug("Event published", zap.String("topic", p.topic), zap.String("key", key))
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ port.EventPublisher = (*KafkaPublisher)(nil)
