package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/backoffice-ledger/internal/interfaces"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events as JSON to Kafka. Each domain topic maps to one
// Kafka topic, optionally prefixed.
type Publisher struct {
	writer messageWriter
	prefix string
	logger *zap.Logger
}

func NewPublisher(brokers []string, prefix string, logger *zap.Logger) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
	}, prefix, logger)
}

func newPublisher(w messageWriter, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{writer: w, prefix: prefix, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	msg := kafka.Message{
		Topic: p.prefix + topic,
		Value: data,
	}
	// keyed events land on one partition per entity
	if k, ok := event.(interface{ Key() string }); ok {
		msg.Key = []byte(k.Key())
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to kafka: %w", msg.Topic, err)
	}
	p.logger.Debug("event published", zap.String("topic", msg.Topic), zap.ByteString("key", msg.Key))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
