package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"argus/internal/trace"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// Workers write concurrently; sqlite takes one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trace_records (
			run_id TEXT,
			unit TEXT,
			attempt INTEGER,
			seq INTEGER,
			stage TEXT,
			status TEXT,
			inputs JSON,
			raw TEXT,
			detail JSON,
			error TEXT,
			elapsed_ns INTEGER,
			at TEXT,
			PRIMARY KEY (run_id, unit, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS verdicts (
			run_id TEXT,
			unit TEXT,
			verdict TEXT,
			reason TEXT,
			engine TEXT,
			translator TEXT,
			attempts INTEGER,
			property_hash TEXT,
			error TEXT,
			recorded_at TEXT,
			PRIMARY KEY (run_id, unit)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trace_run ON trace_records(run_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

const insertRecord = `
	INSERT INTO trace_records (run_id, unit, attempt, seq, stage, status, inputs, raw, detail, error, elapsed_ns, at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, unit, seq) DO NOTHING
`

// Write implements trace.Sink. Records are append-only: a second write for
// the same (run, unit, seq) is ignored.
func (s *SQLiteStore) Write(ctx context.Context, r trace.Record) error {
	_, err := s.db.ExecContext(ctx, insertRecord, recordArgs(r)...)
	return err
}

func (s *SQLiteStore) SaveRecords(ctx context.Context, records []trace.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertRecord)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, recordArgs(r)...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func recordArgs(r trace.Record) []any {
	var inputs []byte
	if len(r.Inputs) > 0 {
		inputs, _ = json.Marshal(r.Inputs)
	}
	var detail []byte
	if len(r.Detail) > 0 {
		detail = []byte(r.Detail)
	}
	return []any{
		r.RunID, r.Unit, r.Attempt, r.Seq, string(r.Stage), string(r.Status),
		inputs, r.Raw, detail, r.Error, int64(r.Elapsed), r.At.UTC().Format(time.RFC3339Nano),
	}
}

func (s *SQLiteStore) ListRecords(ctx context.Context, runID string) ([]trace.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, unit, attempt, seq, stage, status, inputs, raw, detail, error, elapsed_ns, at
		FROM trace_records WHERE run_id = ? ORDER BY unit, attempt, seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace records: %w", err)
	}
	defer rows.Close()

	var out []trace.Record
	for rows.Next() {
		var (
			r              trace.Record
			stage, status  string
			inputs, detail []byte
			elapsed        int64
			at             string
		)
		if err := rows.Scan(&r.RunID, &r.Unit, &r.Attempt, &r.Seq, &stage, &status, &inputs, &r.Raw, &detail, &r.Error, &elapsed, &at); err != nil {
			return nil, fmt.Errorf("failed to scan trace record: %w", err)
		}
		r.Stage = trace.Stage(stage)
		r.Status = trace.Status(status)
		r.Elapsed = time.Duration(elapsed)
		if len(inputs) > 0 {
			_ = json.Unmarshal(inputs, &r.Inputs)
		}
		if len(detail) > 0 {
			r.Detail = json.RawMessage(detail)
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveVerdict(ctx context.Context, v VerdictRow) error {
	if v.RecordedAt.IsZero() {
		v.RecordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verdicts (run_id, unit, verdict, reason, engine, translator, attempts, property_hash, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, unit) DO UPDATE SET
			verdict=excluded.verdict,
			reason=excluded.reason,
			engine=excluded.engine,
			translator=excluded.translator,
			attempts=excluded.attempts,
			property_hash=excluded.property_hash,
			error=excluded.error,
			recorded_at=excluded.recorded_at
	`, v.RunID, v.Unit, v.Verdict, v.Reason, v.Engine, v.Translator, v.Attempts, v.PropertyHash, v.Error, v.RecordedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) ListVerdicts(ctx context.Context, runID string) ([]VerdictRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, unit, verdict, reason, engine, translator, attempts, property_hash, error, recorded_at
		FROM verdicts WHERE run_id = ? ORDER BY unit`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query verdicts: %w", err)
	}
	defer rows.Close()

	var out []VerdictRow
	for rows.Next() {
		var v VerdictRow
		var at string
		if err := rows.Scan(&v.RunID, &v.Unit, &v.Verdict, &v.Reason, &v.Engine, &v.Translator, &v.Attempts, &v.PropertyHash, &v.Error, &at); err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		v.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, v)
	}
	return out, rows.Err()
}
