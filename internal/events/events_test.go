package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

type fakeBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
	err       error
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func sampleEvent() domain.WagerEvent {
	return domain.WagerEvent{
		Kind:       "wager_placed",
		WagerID:    "w1",
		AccountID:  "acct",
		Type:       domain.WagerTypeMoneyline,
		Status:     domain.WagerStatusPending,
		StakeCents: 4_000,
		At:         time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC),
	}
}

func TestBusPublisher(t *testing.T) {
	bus := newFakeBus()
	p := NewBusPublisher(bus, "wagers:log")

	require.NoError(t, p.PublishWagerEvent(context.Background(), sampleEvent()))

	require.Len(t, bus.published["wagers.wager_placed"], 1)
	require.Len(t, bus.streamed["wagers:log"], 1)

	var got domain.WagerEvent
	require.NoError(t, json.Unmarshal(bus.published["wagers.wager_placed"][0], &got))
	assert.Equal(t, "w1", got.WagerID)
	assert.Equal(t, int64(4_000), got.StakeCents)
}

func TestKafkaPublisher_KeysByAccount(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)

	require.NoError(t, p.PublishWagerEvent(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("acct"), w.msgs[0].Key)
	assert.Equal(t, "kind", w.msgs[0].Headers[0].Key)
}

func TestMulti_JoinsErrors(t *testing.T) {
	bad := newFakeBus()
	bad.err = errors.New("down")
	w := &fakeWriter{}

	err := Multi{NewBusPublisher(bad, ""), NewKafkaPublisher(w)}.PublishWagerEvent(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Len(t, w.msgs, 1)
}
