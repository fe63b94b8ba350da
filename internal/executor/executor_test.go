package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

func request(id string) domain.ExecutionRequest {
	return domain.ExecutionRequest{
		WagerID:    id,
		AccountID:  "acct",
		Type:       domain.WagerTypeMoneyline,
		StakeCents: 4_000,
		Price:      1.909,
		Selections: []string{"g1:Lakers"},
	}
}

func TestPaper_AcksAndDedupes(t *testing.T) {
	p := NewPaper(PaperConfig{}, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	first, err := p.Submit(ctx, request("w1"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.ExecutionID, "paper-"))

	again, err := p.Submit(ctx, request("w1"))
	require.NoError(t, err)
	assert.Equal(t, first.ExecutionID, again.ExecutionID)

	other, err := p.Submit(ctx, request("w2"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ExecutionID, other.ExecutionID)
}

func TestPaper_RejectsMalformed(t *testing.T) {
	p := NewPaper(PaperConfig{}, slog.New(slog.DiscardHandler))
	req := request("w1")
	req.Selections = nil
	_, err := p.Submit(context.Background(), req)
	assert.Error(t, err)
}

func TestPaper_PacingHonoursContext(t *testing.T) {
	p := NewPaper(PaperConfig{RatePerSecond: 0.001, Burst: 1}, slog.New(slog.DiscardHandler))

	_, err := p.Submit(context.Background(), request("w1"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Submit(ctx, request("w2"))
	assert.Error(t, err)
}

func TestDedup_Expiry(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	d.Remember("w1", domain.ExecutionAck{ExecutionID: "e1"})
	ack, ok := d.Lookup("w1")
	require.True(t, ok)
	assert.Equal(t, "e1", ack.ExecutionID)

	now = now.Add(2 * time.Minute)
	_, ok = d.Lookup("w1")
	assert.False(t, ok)
	assert.Equal(t, 1, d.Cleanup())
	assert.Zero(t, d.Len())
}

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaVenue_Submit(t *testing.T) {
	w := &captureWriter{}
	v := NewKafkaVenue(w, 0)

	ack, err := v.Submit(context.Background(), request("w1"))
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("w1"), w.msgs[0].Key)

	var msg executionMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &msg))
	assert.Equal(t, ack.ExecutionID, msg.ExecutionID)
	assert.Equal(t, int64(4_000), msg.StakeCents)

	_, err = v.Submit(context.Background(), request("w1"))
	require.NoError(t, err)
	assert.Len(t, w.msgs, 1)
}

func TestKafkaVenue_WriteFailure(t *testing.T) {
	v := NewKafkaVenue(&captureWriter{err: errors.New("broker down")}, 0)
	_, err := v.Submit(context.Background(), request("w1"))
	assert.ErrorContains(t, err, "broker down")
}

type keyLimiter struct {
	keys []string
	err  error
}

func (l *keyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *keyLimiter) Wait(_ context.Context, key string) error {
	l.keys = append(l.keys, key)
	return l.err
}

func TestPaced_WaitsPerAccount(t *testing.T) {
	limiter := &keyLimiter{}
	venue := NewPaced(NewPaper(PaperConfig{}, slog.New(slog.DiscardHandler)), limiter)

	ack, err := venue.Submit(context.Background(), request("w1"))
	require.NoError(t, err)
	assert.NotEmpty(t, ack.ExecutionID)
	assert.Equal(t, []string{"execution:acct"}, limiter.keys)

	limiter.err = context.DeadlineExceeded
	_, err = venue.Submit(context.Background(), request("w2"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
