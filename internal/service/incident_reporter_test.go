package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/store/memory"
)

type countingNotifier struct {
	mu    sync.Mutex
	types []string
}

func (n *countingNotifier) NotifyIncident(_ context.Context, inc domain.Incident) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.types = append(n.types, inc.DataType)
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.types)
}

type quotaLimiter struct {
	mu   sync.Mutex
	seen map[string]int
}

func (l *quotaLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[string]int)
	}
	l.seen[key]++
	return l.seen[key] <= limit, nil
}

func (l *quotaLimiter) Wait(context.Context, string) error { return nil }

func TestIncidentReporter_PersistsAndRateLimitsNotifications(t *testing.T) {
	db := memory.New()
	store := memory.NewIncidentStore(db)
	notifier := &countingNotifier{}
	r := NewIncidentReporter(store, notifier, &quotaLimiter{}, IncidentReporterConfig{
		BufferSize:  16,
		NotifyLimit: 2,
	}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		r.RecordIncident(context.Background(), domain.Incident{
			Severity:      domain.SeverityHigh,
			DataType:      "prediction.total",
			MissingFields: []string{"line"},
		})
	}
	r.RecordIncident(context.Background(), domain.Incident{Severity: domain.SeverityMedium, DataType: "prediction.spread"})

	require.Eventually(t, func() bool {
		list, err := store.List(context.Background(), domain.ListOpts{})
		return err == nil && len(list) == 6
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 3, notifier.count())
}

func TestIncidentReporter_DropsWhenFull(t *testing.T) {
	db := memory.New()
	store := memory.NewIncidentStore(db)
	r := NewIncidentReporter(store, nil, nil, IncidentReporterConfig{BufferSize: 2}, slog.New(slog.DiscardHandler))

	for i := 0; i < 5; i++ {
		r.RecordIncident(context.Background(), domain.Incident{Severity: domain.SeverityLow, DataType: "prediction.moneyline"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))

	list, err := store.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
