package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"

	"argus/internal/canon"
	"argus/internal/evidence"
	"argus/internal/extractor"
	"argus/internal/property"
	"argus/internal/verdict"
)

// Gate names. They are part of the report format.
const (
	GateDeterminism        = "obligation_determinism"
	GateAssumptionCoverage = "assumption_coverage"
	GateUnsupported        = "unsupported_fail_closed"
	GateMutationKillRate   = "mutation_kill_rate"
)

// DefaultMinKillRate is the share of mutants that must not verify.
const DefaultMinKillRate = 0.95

// GateOptions selects and tunes the gates.
type GateOptions struct {
	Runs        int     // derivations per unit for the determinism gate, at least 2
	Mutations   bool    // also verify mutants of every supported unit
	MinKillRate float64 // zero means DefaultMinKillRate
}

// GateResult is one gate's judgement on one unit.
type GateResult struct {
	Gate   string `json:"gate"`
	Unit   string `json:"unit"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Gates checks every input against the quality gates:
//   - deriving the property set runs times yields one hash,
//   - every assumption in the set re-validates against its evidence,
//   - a unit with unsupported constructs ends UNVERIFIED,
//   - with Mutations set, mutants of a verified unit do not verify.
func (p *Pipeline) Gates(ctx context.Context, runID string, inputs []Input, opts GateOptions) ([]GateResult, error) {
	runs := opts.Runs
	if runs < 2 {
		runs = 2
	}
	var out []GateResult
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		unit := in.UnitID()

		u, err := p.extractor.ParseFunction(ctx, in.Source, in.Path, in.Function)
		if err != nil {
			out = append(out, GateResult{Gate: GateUnsupported, Unit: unit, Detail: err.Error()})
			continue
		}
		if !u.Supported() {
			res := p.Run(ctx, runID, in)
			out = append(out, GateResult{
				Gate:   GateUnsupported,
				Unit:   unit,
				Passed: res.Verdict == verdict.Unverified,
				Detail: fmt.Sprintf("%s: %s", res.Verdict, strings.Join(u.Unsupported, ", ")),
			})
			continue
		}

		sets := make([]*property.Set, 0, runs)
		var derr error
		for i := 0; i < runs; i++ {
			set, err := p.deriveSet(ctx, u)
			if err != nil {
				derr = err
				break
			}
			sets = append(sets, set)
		}
		if derr != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			out = append(out, GateResult{Gate: GateDeterminism, Unit: unit, Detail: derr.Error()})
			continue
		}
		out = append(out, determinism(unit, sets))
		out = append(out, p.coverage(unit, sets[0]))

		if opts.Mutations {
			g, err := p.mutationGate(ctx, runID, in, u, opts.MinKillRate)
			if err != nil {
				return out, err
			}
			out = append(out, g)
		}
	}
	return out, nil
}

// GatesPassed reports whether every gate result passed.
func GatesPassed(results []GateResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// deriveSet runs policy, discovery and canonicalization with no trace.
// Rejected evidence still yields the set of what was admitted.
func (p *Pipeline) deriveSet(ctx context.Context, u *extractor.CodeUnit) (*property.Set, error) {
	obs, err := p.policy.Derive(u)
	if err != nil {
		return nil, err
	}
	pctx, cancel := p.providerContext(ctx)
	defer cancel()
	adm, err := p.discovery.Discover(pctx, u, obs)
	if err != nil && !errors.Is(err, evidence.ErrEvidenceMissing) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("discovery: %w", err)
	}
	return canon.Build(u.Name, obs, adm)
}

func determinism(unit string, sets []*property.Set) GateResult {
	first := sets[0]
	for i, s := range sets[1:] {
		if s.Hash != first.Hash {
			return GateResult{
				Gate:   GateDeterminism,
				Unit:   unit,
				Detail: fmt.Sprintf("run %d differs from run 0 (-run0 +run%d):\n%s", i+1, i+1, cmp.Diff(first, s)),
			}
		}
	}
	return GateResult{Gate: GateDeterminism, Unit: unit, Passed: true, Detail: "hash " + first.Hash}
}

func (p *Pipeline) coverage(unit string, set *property.Set) GateResult {
	var missing []string
	for _, a := range set.Assumptions {
		_, err := p.validator.Validate(property.AssumedInput{
			Property: a.Property,
			Evidence: a.Evidence,
			Severity: a.Severity,
		})
		if err != nil {
			missing = append(missing, a.Property)
		}
	}
	if len(missing) > 0 {
		return GateResult{Gate: GateAssumptionCoverage, Unit: unit, Detail: "no valid evidence for: " + strings.Join(missing, ", ")}
	}
	return GateResult{
		Gate:   GateAssumptionCoverage,
		Unit:   unit,
		Passed: true,
		Detail: fmt.Sprintf("%d assumption(s) evidenced", len(set.Assumptions)),
	}
}
