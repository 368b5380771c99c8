package pipeline

import (
	"context"
	"fmt"
	"strings"

	"argus/internal/extractor"
	"argus/internal/trace"
	"argus/internal/verdict"
)

// Mutation is one operator swap applied to a function body.
type Mutation struct {
	From string `json:"from"`
	To   string `json:"to"`
	Code string `json:"-"` // the mutated function
}

func (m Mutation) String() string { return fmt.Sprintf("%q->%q", m.From, m.To) }

// mutationOperators each rewrite the first match in the body.
var mutationOperators = [][2]string{
	{">=", ">"},
	{"<=", "<"},
	{"==", "!="},
	{"!=", "=="},
	{" + ", " - "},
	{" - ", " + "},
	{"and ", "or "},
	{"if ", "if not "},
}

// Mutations returns one mutant of fn per operator that occurs in its body.
// The def line is left alone so every mutant keeps its signature.
func Mutations(fn string) []Mutation {
	sig, body, ok := strings.Cut(fn, "\n")
	if !ok {
		return nil
	}
	var out []Mutation
	for _, op := range mutationOperators {
		if !strings.Contains(body, op[0]) {
			continue
		}
		out = append(out, Mutation{
			From: op[0],
			To:   op[1],
			Code: sig + "\n" + strings.Replace(body, op[0], op[1], 1),
		})
	}
	return out
}

// mutationGate verifies the unit, then every mutant of it. A mutant is
// killed when it ends VULNERABLE, UNVERIFIED or ERROR. Mutants are never
// repaired and leave no trace records.
func (p *Pipeline) mutationGate(ctx context.Context, runID string, in Input, u *extractor.CodeUnit, minRate float64) (GateResult, error) {
	if minRate <= 0 {
		minRate = DefaultMinKillRate
	}
	unit := in.UnitID()
	q := *p
	q.proposer = nil
	q.sink = trace.NopSink{}

	base := q.Run(ctx, runID, in)
	if err := ctx.Err(); err != nil {
		return GateResult{}, err
	}
	if base.Verdict != verdict.Verified {
		return GateResult{Gate: GateMutationKillRate, Unit: unit, Detail: fmt.Sprintf("unit itself is %s: %s", base.Verdict, base.Reason)}, nil
	}

	muts := Mutations(u.Content)
	if len(muts) == 0 {
		return GateResult{Gate: GateMutationKillRate, Unit: unit, Detail: "no mutations generated"}, nil
	}
	src := string(in.Source)
	var survived []string
	for _, m := range muts {
		mi := in
		mi.Source = []byte(strings.Replace(src, u.Content, m.Code, 1))
		res := q.Run(ctx, runID, mi)
		if err := ctx.Err(); err != nil {
			return GateResult{}, err
		}
		if !killed(res.Verdict) {
			survived = append(survived, m.String())
		}
	}

	k := len(muts) - len(survived)
	rate := float64(k) / float64(len(muts))
	detail := fmt.Sprintf("killed=%d/%d rate=%.3f", k, len(muts), rate)
	if len(survived) > 0 {
		detail += " survived: " + strings.Join(survived, ", ")
	}
	return GateResult{Gate: GateMutationKillRate, Unit: unit, Passed: rate >= minRate, Detail: detail}, nil
}

func killed(v verdict.Verdict) bool {
	switch v {
	case verdict.Vulnerable, verdict.Unverified, verdict.Error:
		return true
	}
	return false
}
