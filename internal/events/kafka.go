package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a topic keyed by booking id, so all events
// of one booking land on the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
}

// DefaultKafkaBatchTimeout keeps a single event from waiting for the
// writer's one second default.
const DefaultKafkaBatchTimeout = 10 * time.Millisecond

// KafkaOptions configures the writer behind a KafkaPublisher.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	// Async returns from Publish before the broker acknowledges. Delivery
	// errors are then only logged.
	Async bool
}

func NewKafkaPublisher(opts KafkaOptions, log *zap.Logger) (*KafkaPublisher, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = DefaultKafkaBatchTimeout
	}
	sugar := log.Sugar()
	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: opts.BatchTimeout,
		Async:        opts.Async,
		Logger:       kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger:  kafka.LoggerFunc(sugar.Errorf),
	}
	if opts.Async {
		w.Completion = func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Error("kafka delivery failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		}
	}
	return &KafkaPublisher{writer: w}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka: marshal event failed: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.BookingID),
		Value: body,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
			{Key: "event-id", Value: []byte(e.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write failed: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
