package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// MessageWriter is the part of *kafka.Writer the venue uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// executionMessage is the wire form of a request on the execution topic.
type executionMessage struct {
	ExecutionID string           `json:"execution_id"`
	WagerID     string           `json:"wager_id"`
	AccountID   string           `json:"account_id"`
	Type        domain.WagerType `json:"type"`
	StakeCents  int64            `json:"stake_cents"`
	Price       float64          `json:"price"`
	Selections  []string         `json:"selections"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

// KafkaVenue hands committed wagers to an external executor over Kafka. A
// successful write with RequireAll acks is the venue's acknowledgement.
type KafkaVenue struct {
	writer MessageWriter
	dedup  *Dedup
}

// NewKafkaVenue creates a KafkaVenue.
func NewKafkaVenue(w MessageWriter, dedupTTL time.Duration) *KafkaVenue {
	if dedupTTL <= 0 {
		dedupTTL = 24 * time.Hour
	}
	return &KafkaVenue{writer: w, dedup: NewDedup(dedupTTL)}
}

// Submit implements domain.ExecutionVenue.
func (v *KafkaVenue) Submit(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionAck, error) {
	if ack, ok := v.dedup.Lookup(req.WagerID); ok {
		return ack, nil
	}

	now := time.Now().UTC()
	msg := executionMessage{
		ExecutionID: uuid.NewString(),
		WagerID:     req.WagerID,
		AccountID:   req.AccountID,
		Type:        req.Type,
		StakeCents:  req.StakeCents,
		Price:       req.Price,
		Selections:  req.Selections,
		SubmittedAt: now,
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return domain.ExecutionAck{}, fmt.Errorf("kafka venue: marshal %s: %w", req.WagerID, err)
	}
	if err := v.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(req.WagerID),
		Value: value,
		Time:  now,
	}); err != nil {
		return domain.ExecutionAck{}, fmt.Errorf("kafka venue: write %s: %w", req.WagerID, err)
	}

	ack := domain.ExecutionAck{ExecutionID: msg.ExecutionID, AcceptedAt: now}
	v.dedup.Remember(req.WagerID, ack)
	return ack, nil
}

var _ domain.ExecutionVenue = (*KafkaVenue)(nil)
