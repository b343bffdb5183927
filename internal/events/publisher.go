package events

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/backoffice-ledger/internal/interfaces"
)

// LogPublisher writes every event to the logger. It is the publisher used
// when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.logger.Info("event", zap.String("topic", topic), zap.ByteString("payload", data))
	return nil
}

// Message is one event captured by a Recorder.
type Message struct {
	Topic string
	Event any
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(ctx context.Context, topic string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, Message{Topic: topic, Event: event})
	return nil
}

// Messages returns the recorded events, optionally only those of one topic.
func (r *Recorder) Messages(topic string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Message
	for _, m := range r.messages {
		if topic == "" || m.Topic == topic {
			result = append(result, m)
		}
	}
	return result
}

// Fanout publishes to every publisher and returns the first error.
type Fanout []interfaces.EventPublisher

func (f Fanout) Publish(ctx context.Context, topic string, event any) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, topic, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ interfaces.EventPublisher = (*LogPublisher)(nil)
	_ interfaces.EventPublisher = (*Recorder)(nil)
	_ interfaces.EventPublisher = Fanout(nil)
)
