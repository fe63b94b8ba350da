package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// MessageWriter is the part of *kafka.Writer the publishers use.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer for topic on the given brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
	}
}

// KafkaPublisher writes wager events to a Kafka topic keyed by account, so
// one account's events stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaPublisher creates a KafkaPublisher.
func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// PublishWagerEvent implements domain.EventPublisher.
func (p *KafkaPublisher) PublishWagerEvent(ctx context.Context, ev domain.WagerEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Kind, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.AccountID),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: kafka write %s: %w", ev.Kind, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ domain.EventPublisher = (*KafkaPublisher)(nil)
