package pipeline

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"argus/internal/trace"
	"argus/internal/verdict"
)

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// RunBatch runs every input on a bounded pool of workers. Each worker runs
// an independent unit pipeline; one unit's failure never stops the others.
// Results keep input order. The error is non-nil only when ctx ended.
func (p *Pipeline) RunBatch(ctx context.Context, runID string, inputs []Input) ([]*Result, error) {
	results := make([]*Result, len(inputs))
	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for i, in := range inputs {
		g.Go(func() error {
			results[i] = p.Run(ctx, runID, in)
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("batch finished",
		zap.String("run_id", runID),
		zap.Int("units", len(inputs)),
		zap.Any("verdicts", Summarize(runID, results, 0).Verdicts),
	)
	return results, ctx.Err()
}

// Summarize counts verdicts. Every verdict appears, zero counts included.
func Summarize(runID string, results []*Result, elapsed time.Duration) trace.Summary {
	sum := trace.Summary{RunID: runID, Units: len(results), Verdicts: map[string]int{}, Elapsed: elapsed}
	for _, v := range verdict.All {
		sum.Verdicts[string(v)] = 0
	}
	for _, r := range results {
		if r != nil {
			sum.Verdicts[string(r.Verdict)]++
		}
	}
	return sum
}

// LineFilter selects functions by file and 1-based line span.
type LineFilter func(path string, start, end int) bool

// Collect turns files into inputs, one per top-level function. When keep is
// non-nil only functions it accepts are returned. Files with no functions
// contribute nothing.
func (p *Pipeline) Collect(ctx context.Context, files []string, keep LineFilter) ([]Input, error) {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	var inputs []Input
	for _, path := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
		units, err := p.extractor.ExtractFromSource(ctx, src, path)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		for _, u := range units {
			if seen[u.Name] {
				p.logger.Warn("duplicate function name, verifying the first definition",
					zap.String("path", path), zap.String("function", u.Name))
				continue
			}
			seen[u.Name] = true
			if keep != nil && !keep(path, u.StartLine, u.EndLine) {
				continue
			}
			inputs = append(inputs, Input{Path: path, Function: u.Name, Source: src})
		}
	}
	return inputs, nil
}
