package storage

import (
	"context"
	"time"

	"argus/internal/trace"
)

// Store persists the audit trail of verification runs.
type Store interface {
	TraceStore
	VerdictStore
	Close() error
}

// TraceStore is an append-only trace sink that external readers can query.
type TraceStore interface {
	trace.Sink

	// SaveRecords writes a batch of records in one transaction.
	SaveRecords(ctx context.Context, records []trace.Record) error

	// ListRecords returns a run's records ordered by unit, attempt and sequence.
	ListRecords(ctx context.Context, runID string) ([]trace.Record, error)
}

// VerdictStore keeps the terminal verdict of every unit in a run.
type VerdictStore interface {
	// SaveVerdict upserts the verdict row for (run, unit).
	SaveVerdict(ctx context.Context, v VerdictRow) error

	// ListVerdicts returns a run's verdicts ordered by unit.
	ListVerdicts(ctx context.Context, runID string) ([]VerdictRow, error)
}

// VerdictRow is the persisted form of one unit's outcome.
type VerdictRow struct {
	RunID        string    `json:"run_id"`
	Unit         string    `json:"unit"`
	Verdict      string    `json:"verdict"`
	Reason       string    `json:"reason"`
	Engine       string    `json:"engine"`
	Translator   string    `json:"translator"`
	Attempts     int       `json:"attempts"`
	PropertyHash string    `json:"property_hash"`
	Error        string    `json:"error,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}
