package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// FileFeed reads predictions from a local JSONL file on every call. It backs
// paper runs and replays.
type FileFeed struct {
	path   string
	logger *slog.Logger
}

// NewFileFeed creates a FileFeed for path.
func NewFileFeed(path string, logger *slog.Logger) *FileFeed {
	return &FileFeed{
		path:   path,
		logger: logger.With(slog.String("component", "file_feed")),
	}
}

// Predictions implements domain.PredictionFeed.
func (f *FileFeed) Predictions(ctx context.Context, from, to time.Time) ([]domain.PredictionRecord, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("feed: open %s: %w", f.path, err)
	}
	defer fh.Close()

	recs, bad, err := decodeLines(fh)
	if err != nil {
		return nil, err
	}
	if bad > 0 {
		f.logger.WarnContext(ctx, "skipped undecodable lines",
			slog.String("path", f.path),
			slog.Int("count", bad),
		)
	}
	return filterWindow(recs, from, to), nil
}

var _ domain.PredictionFeed = (*FileFeed)(nil)
