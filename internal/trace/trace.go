// Package trace records what every pipeline stage saw and produced. Records
// are append-only; the pipeline writes them and never reads them back.
package trace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Stage names one pipeline step. The values are persisted; do not rename.
type Stage string

const (
	StageExtract   Stage = "extract"
	StagePolicy    Stage = "policy"
	StageDiscovery Stage = "discovery"
	StageEvidence  Stage = "evidence"
	StageCanon     Stage = "canonicalize"
	StageRoute     Stage = "route"
	StageTranslate Stage = "translate"
	StageGuard     Stage = "guard"
	StageVerify    Stage = "verify"
	StageVerdict   Stage = "verdict"
	StageRepair    Stage = "repair"
)

// Status is the outcome of one stage.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Record is one stage of one attempt for one unit.
type Record struct {
	RunID   string `json:"run_id"`
	Unit    string `json:"unit"`
	Attempt int    `json:"attempt"`
	Seq     int    `json:"seq"`
	Stage   Stage  `json:"stage"`
	Status  Status `json:"status"`
	// Inputs maps an input name to the hash of its content.
	Inputs map[string]string `json:"inputs,omitempty"`
	// Raw holds external output verbatim: provider text or compiler output.
	Raw     string          `json:"raw,omitempty"`
	Detail  json.RawMessage `json:"detail,omitempty"`
	Error   string          `json:"error,omitempty"`
	Elapsed time.Duration   `json:"elapsed_ns"`
	At      time.Time       `json:"at"`
}

// Sink accepts records. Implementations must tolerate concurrent writers
// as long as each writer owns a distinct unit.
type Sink interface {
	Write(ctx context.Context, r Record) error
	Close() error
}

// NopSink discards every record.
type NopSink struct{}

func (NopSink) Write(context.Context, Record) error { return nil }
func (NopSink) Close() error                        { return nil }

// MultiSink fans a record out to every sink. A failing sink does not stop
// the others.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps records in memory, in arrival order.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Write(_ context.Context, rec Record) error {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

// Snapshot returns a copy of the records written so far.
func (r *Recorder) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Hash returns the hex sha256 of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashString is Hash over a string.
func HashString(s string) string { return Hash([]byte(s)) }

// Detail marshals v for Record.Detail, dropping values that cannot be
// encoded.
func Detail(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
