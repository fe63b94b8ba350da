package domain

import (
	"context"
	"time"
)

// Incident is a data quality problem observed on an incoming record.
type Incident struct {
	ID            int64
	Severity      Severity
	DataType      string
	MissingFields []string
	Context       map[string]any
	CreatedAt     time.Time
}

// IncidentSink receives incidents. Implementations must not block the
// caller on delivery.
type IncidentSink interface {
	RecordIncident(ctx context.Context, inc Incident)
}

// IncidentStore persists incidents for later review.
type IncidentStore interface {
	Insert(ctx context.Context, inc Incident) error
	List(ctx context.Context, opts ListOpts) ([]Incident, error)
}
