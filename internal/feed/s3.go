package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// S3Feed reads daily prediction files from object storage. The upstream
// model job writes one JSONL object per UTC day at <prefix>/<YYYY-MM-DD>.jsonl.
type S3Feed struct {
	reader domain.BlobReader
	prefix string
	logger *slog.Logger
}

// NewS3Feed creates an S3Feed.
func NewS3Feed(reader domain.BlobReader, prefix string, logger *slog.Logger) *S3Feed {
	return &S3Feed{
		reader: reader,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With(slog.String("component", "s3_feed")),
	}
}

// DayPath returns the object path for day.
func (f *S3Feed) DayPath(day time.Time) string {
	name := day.UTC().Format("2006-01-02") + ".jsonl"
	if f.prefix == "" {
		return name
	}
	return f.prefix + "/" + name
}

// Predictions implements domain.PredictionFeed. Missing daily objects are
// skipped; a window with no objects yields no records.
func (f *S3Feed) Predictions(ctx context.Context, from, to time.Time) ([]domain.PredictionRecord, error) {
	var all []domain.PredictionRecord

	start := from.UTC().Truncate(24 * time.Hour)
	for day := start; day.Before(to); day = day.Add(24 * time.Hour) {
		path := f.DayPath(day)
		ok, err := f.reader.Exists(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("feed: stat %s: %w", path, err)
		}
		if !ok {
			continue
		}

		body, err := f.reader.Get(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("feed: get %s: %w", path, err)
		}
		recs, bad, err := decodeLines(body)
		body.Close()
		if err != nil {
			return nil, fmt.Errorf("feed: read %s: %w", path, err)
		}
		if bad > 0 {
			f.logger.WarnContext(ctx, "skipped undecodable lines",
				slog.String("path", path),
				slog.Int("count", bad),
			)
		}
		all = append(all, recs...)
	}
	return filterWindow(all, from, to), nil
}

var _ domain.PredictionFeed = (*S3Feed)(nil)
