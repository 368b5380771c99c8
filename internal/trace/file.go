package trace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileSink appends JSON lines under <root>/<run id>/, one file per unit.
// Each unit is written by a single worker, so files are never shared.
type FileSink struct {
	dir string
}

// NewFileSink creates the run directory.
func NewFileSink(root, runID string) (*FileSink, error) {
	if runID == "" {
		return nil, fmt.Errorf("trace: empty run id")
	}
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("trace: create run dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Dir returns the run directory.
func (s *FileSink) Dir() string { return s.dir }

// UnitPath returns the file that holds records for unit.
func (s *FileSink) UnitPath(unit string) string {
	return filepath.Join(s.dir, unitFileName(unit))
}

func (s *FileSink) Write(_ context.Context, r Record) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("trace: encode record: %w", err)
	}
	f, err := os.OpenFile(s.UnitPath(r.Unit), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("trace: open unit file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("trace: append record: %w", err)
	}
	return f.Close()
}

func (s *FileSink) Close() error { return nil }

// Manifest describes one run.
type Manifest struct {
	RunID     string    `json:"run_id"`
	Mode      string    `json:"mode"`
	Files     []string  `json:"files"`
	Config    any       `json:"config,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Summary counts verdicts for one run.
type Summary struct {
	RunID    string         `json:"run_id"`
	Units    int            `json:"units"`
	Verdicts map[string]int `json:"verdicts"`
	Elapsed  time.Duration  `json:"elapsed_ns"`
}

// WriteManifest writes manifest.json into the run directory.
func (s *FileSink) WriteManifest(m Manifest) error {
	return writeJSON(filepath.Join(s.dir, "manifest.json"), m)
}

// WriteSummary writes summary.json into the run directory.
func (s *FileSink) WriteSummary(sum Summary) error {
	return writeJSON(filepath.Join(s.dir, "summary.json"), sum)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("trace: encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("trace: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

var unitNameReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "__", " ", "_")

// unitFileName keeps a readable prefix and disambiguates it with a digest
// of the full unit id, so units that flatten to the same prefix never
// share a file.
func unitFileName(unit string) string {
	name := unitNameReplacer.Replace(strings.TrimLeft(unit, "./"))
	if name == "" {
		name = "unit"
	}
	sum := sha256.Sum256([]byte(unit))
	return name + "." + hex.EncodeToString(sum[:6]) + ".jsonl"
}
