package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// WagerArchiveStore lists settled wagers for archival.
type WagerArchiveStore interface {
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Wager, error)
}

// IncidentArchiveStore lists old data incidents for archival.
type IncidentArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Incident, error)
}

// ArchiveImpl implements domain.Archiver by serializing old records to JSONL
// and uploading them to S3. Records are not deleted from the primary store;
// pruning is a separate step once the archive has been verified.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	wagers    WagerArchiveStore
	incidents IncidentArchiveStore
	audit     domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	wagers WagerArchiveStore,
	incidents IncidentArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		wagers:    wagers,
		incidents: incidents,
		audit:     audit,
	}
}

type legRecord struct {
	ID            string   `json:"id"`
	PredictionID  string   `json:"prediction_id,omitempty"`
	GameID        string   `json:"game_id"`
	WagerType     string   `json:"wager_type"`
	Selection     string   `json:"selection"`
	Line          *float64 `json:"line,omitempty"`
	PriceAmerican int      `json:"price_american,omitempty"`
	DecimalPrice  float64  `json:"decimal_price"`
	Result        string   `json:"result"`
}

type wagerRecord struct {
	ID            string      `json:"id"`
	AccountID     string      `json:"account_id"`
	Type          string      `json:"type"`
	Sport         string      `json:"sport,omitempty"`
	GameID        string      `json:"game_id,omitempty"`
	PredictionID  string      `json:"prediction_id,omitempty"`
	Selection     string      `json:"selection,omitempty"`
	Line          *float64    `json:"line,omitempty"`
	StakeCents    int64       `json:"stake_cents"`
	PriceAmerican int         `json:"price_american,omitempty"`
	DecimalPrice  float64     `json:"decimal_price"`
	Probability   float64     `json:"probability"`
	Status        string      `json:"status"`
	PayoutCents   *int64      `json:"payout_cents,omitempty"`
	PlacedAt      time.Time   `json:"placed_at"`
	SettledAt     *time.Time  `json:"settled_at,omitempty"`
	ExecutionID   string      `json:"execution_id,omitempty"`
	Strategy      string      `json:"strategy"`
	Legs          []legRecord `json:"legs,omitempty"`
}

func toWagerRecord(w domain.Wager) wagerRecord {
	rec := wagerRecord{
		ID:            w.ID,
		AccountID:     w.AccountID,
		Type:          string(w.Type),
		Sport:         w.Sport,
		GameID:        w.GameID,
		PredictionID:  w.PredictionID,
		Selection:     w.Selection,
		Line:          w.Line,
		StakeCents:    w.StakeCents,
		PriceAmerican: w.PriceAmerican,
		DecimalPrice:  w.DecimalPrice,
		Probability:   w.Probability,
		Status:        string(w.Status),
		PayoutCents:   w.PayoutCents,
		PlacedAt:      w.PlacedAt,
		SettledAt:     w.SettledAt,
		ExecutionID:   w.ExecutionID,
		Strategy:      w.Strategy,
	}
	for _, l := range w.Legs {
		rec.Legs = append(rec.Legs, legRecord{
			ID:            l.ID,
			PredictionID:  l.PredictionID,
			GameID:        l.GameID,
			WagerType:     string(l.WagerType),
			Selection:     l.Selection,
			Line:          l.Line,
			PriceAmerican: l.PriceAmerican,
			DecimalPrice:  l.DecimalPrice,
			Result:        string(l.Result),
		})
	}
	return rec
}

type incidentRecord struct {
	ID            int64          `json:"id"`
	Severity      string         `json:"severity"`
	DataType      string         `json:"data_type"`
	MissingFields []string       `json:"missing_fields,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ArchiveWagers uploads wagers settled before the cutoff to
// archive/wagers/YYYY-MM-DD.jsonl and records the run in the audit log.
func (a *ArchiveImpl) ArchiveWagers(ctx context.Context, before time.Time) (int64, error) {
	wagers, err := a.wagers.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive wagers query: %w", err)
	}
	recs := make([]wagerRecord, len(wagers))
	for i, w := range wagers {
		recs[i] = toWagerRecord(w)
	}
	return upload(ctx, a, "wagers", before, recs)
}

// ArchiveIncidents uploads incidents created before the cutoff to
// archive/incidents/YYYY-MM-DD.jsonl and records the run in the audit log.
func (a *ArchiveImpl) ArchiveIncidents(ctx context.Context, before time.Time) (int64, error) {
	incidents, err := a.incidents.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive incidents query: %w", err)
	}
	recs := make([]incidentRecord, len(incidents))
	for i, inc := range incidents {
		recs[i] = incidentRecord{
			ID:            inc.ID,
			Severity:      string(inc.Severity),
			DataType:      inc.DataType,
			MissingFields: inc.MissingFields,
			Context:       inc.Context,
			CreatedAt:     inc.CreatedAt,
		}
	}
	return upload(ctx, a, "incidents", before, recs)
}

func upload[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, recs []T) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(recs))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// UTC date of the cutoff:
//
//	archive/wagers/2026-03-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
