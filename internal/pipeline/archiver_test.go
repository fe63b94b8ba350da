package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobArchiver struct {
	wagerCutoffs    []time.Time
	incidentCutoffs []time.Time
	err             error
}

func (f *fakeBlobArchiver) ArchiveWagers(_ context.Context, before time.Time) (int64, error) {
	f.wagerCutoffs = append(f.wagerCutoffs, before)
	return 3, f.err
}

func (f *fakeBlobArchiver) ArchiveIncidents(_ context.Context, before time.Time) (int64, error) {
	f.incidentCutoffs = append(f.incidentCutoffs, before)
	return 1, nil
}

func TestArchiver_RunUsesRetentionCutoff(t *testing.T) {
	blobs := &fakeBlobArchiver{}
	a := NewArchiver(blobs, 30, slog.New(slog.DiscardHandler))
	now := time.Date(2026, 4, 15, 3, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	require.NoError(t, a.Run(context.Background()))
	want := time.Date(2026, 3, 16, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, []time.Time{want}, blobs.wagerCutoffs)
	assert.Equal(t, []time.Time{want}, blobs.incidentCutoffs)

	blobs.err = errors.New("s3 down")
	require.Error(t, a.Run(context.Background()))
	assert.Len(t, blobs.incidentCutoffs, 1)
}

func TestParseCron(t *testing.T) {
	after := time.Date(2026, 3, 1, 10, 7, 30, 0, time.UTC) // a Sunday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 3 * * *", time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)},
		{"30 9-17 * * 1-5", time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"5,10 10 * * *", time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := parseCron(tt.expr)
			require.NoError(t, err)
			got, err := c.next(after)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCron_Invalid(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "* 5-2 * * *", "*/0 * * * *", "a * * * *", "* * 0 * *"} {
		_, err := parseCron(expr)
		assert.Error(t, err, expr)
	}

	c, err := parseCron("0 0 31 2 *")
	require.NoError(t, err)
	_, err = c.next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}

func TestRunCron_StopsOnCancel(t *testing.T) {
	a := NewArchiver(&fakeBlobArchiver{}, 30, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.RunCron(ctx, "0 3 * * *"))
	assert.Error(t, a.RunCron(context.Background(), "bad"))
}
