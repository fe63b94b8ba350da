package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

const streamBatch = 500

// RedisStreamFeed reads predictions from a Redis stream. Each call drains
// entries appended since the previous call into a snapshot and answers from
// it, so the stream is read once however many schedulers share the feed.
type RedisStreamFeed struct {
	bus    domain.SignalBus
	stream string
	snap   *Snapshot
	logger *slog.Logger

	mu     sync.Mutex
	lastID string
}

// NewRedisStreamFeed creates a feed over stream.
func NewRedisStreamFeed(bus domain.SignalBus, stream string, logger *slog.Logger) *RedisStreamFeed {
	return &RedisStreamFeed{
		bus:    bus,
		stream: stream,
		snap:   NewSnapshot(),
		logger: logger.With(slog.String("component", "redis_stream_feed")),
		lastID: "0",
	}
}

// Predictions implements domain.PredictionFeed.
func (f *RedisStreamFeed) Predictions(ctx context.Context, from, to time.Time) ([]domain.PredictionRecord, error) {
	if err := f.drain(ctx); err != nil {
		return nil, err
	}
	f.snap.Prune(from.Add(-24 * time.Hour))
	return f.snap.Window(from, to), nil
}

func (f *RedisStreamFeed) drain(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		msgs, err := f.bus.StreamRead(ctx, f.stream, f.lastID, streamBatch)
		if err != nil {
			return fmt.Errorf("feed: read stream %s: %w", f.stream, err)
		}
		if len(msgs) == 0 {
			return nil
		}

		recs := make([]domain.PredictionRecord, 0, len(msgs))
		for _, m := range msgs {
			rec, err := DecodePrediction(m.Payload)
			if err != nil {
				f.logger.WarnContext(ctx, "skip undecodable prediction",
					slog.String("id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			recs = append(recs, rec)
		}
		f.snap.Upsert(time.Now(), recs...)
		f.lastID = msgs[len(msgs)-1].ID

		if len(msgs) < streamBatch {
			return nil
		}
	}
}

// RedisResultSource keeps the latest result per game from a Redis stream.
type RedisResultSource struct {
	bus    domain.SignalBus
	stream string
	logger *slog.Logger

	mu      sync.Mutex
	lastID  string
	results map[string]domain.GameResult
}

// NewRedisResultSource creates a result source over stream.
func NewRedisResultSource(bus domain.SignalBus, stream string, logger *slog.Logger) *RedisResultSource {
	return &RedisResultSource{
		bus:     bus,
		stream:  stream,
		logger:  logger.With(slog.String("component", "redis_result_source")),
		lastID:  "0",
		results: make(map[string]domain.GameResult),
	}
}

// Results implements domain.ResultSource. The map is keyed by game id and
// is a copy the caller may keep.
func (s *RedisResultSource) Results(ctx context.Context) (map[string]domain.GameResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		msgs, err := s.bus.StreamRead(ctx, s.stream, s.lastID, streamBatch)
		if err != nil {
			return nil, fmt.Errorf("feed: read results %s: %w", s.stream, err)
		}
		for _, m := range msgs {
			r, err := DecodeResult(m.Payload)
			if err != nil {
				s.logger.WarnContext(ctx, "skip undecodable result",
					slog.String("id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if prev, ok := s.results[r.GameID]; ok && prev.UpdatedAt.After(r.UpdatedAt) {
				continue
			}
			s.results[r.GameID] = r
		}
		if len(msgs) > 0 {
			s.lastID = msgs[len(msgs)-1].ID
		}
		if len(msgs) < streamBatch {
			break
		}
	}

	out := make(map[string]domain.GameResult, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out, nil
}

var (
	_ domain.PredictionFeed = (*RedisStreamFeed)(nil)
	_ domain.ResultSource   = (*RedisResultSource)(nil)
)
