// Package canon merges policy obligations and admitted discovery output into
// one ordered, deduplicated, hashed property set.
package canon

import (
	"fmt"
	"sort"

	"argus/internal/discovery"
	"argus/internal/evidence"
	"argus/internal/policy"
	"argus/internal/property"
)

// Build returns the canonical set for function. Conflicting severities for
// the same property resolve to the maximum; the category kept is the first
// in canonical order. Obligations must carry the policy origin.
func Build(function string, obs []property.Obligation, adm discovery.Admitted) (*property.Set, error) {
	merged := make([]property.Obligation, 0, len(obs))
	index := map[string]int{}
	for _, o := range obs {
		if o.Origin != property.OriginPolicy {
			return nil, fmt.Errorf("obligation %q has origin %q", o.Property, o.Origin)
		}
		if !o.Category.Valid() || !o.Severity.Valid() {
			return nil, fmt.Errorf("obligation %q is not well formed", o.Property)
		}
		if sev, ok := adm.Severity(o.Category, o.Property); ok {
			o.Severity = property.MaxSeverity(o.Severity, sev)
		}
		if i, ok := index[o.Property]; ok {
			cur := &merged[i]
			cur.Severity = property.MaxSeverity(cur.Severity, o.Severity)
			if o.Category.Rank() < cur.Category.Rank() {
				cur.Category = o.Category
			}
			continue
		}
		index[o.Property] = len(merged)
		merged = append(merged, o)
	}
	policy.SortObligations(merged)

	counts := map[property.Category]int{}
	for i := range merged {
		counts[merged[i].Category]++
		merged[i].ID = fmt.Sprintf("%s_%s_%d", function, merged[i].Category, counts[merged[i].Category])
	}

	set := &property.Set{
		Function:    function,
		Obligations: merged,
		Assumptions: assumptions(function, adm.Assumptions()),
	}
	hash, err := set.ComputeHash()
	if err != nil {
		return nil, err
	}
	set.Hash = hash
	return set, nil
}

func assumptions(function string, accepted []evidence.Accepted) []property.Assumption {
	seen := map[string]bool{}
	out := make([]property.Assumption, 0, len(accepted))
	for _, a := range accepted {
		if seen[a.Property()] {
			continue
		}
		seen[a.Property()] = true
		out = append(out, property.Assumption{
			Property:    a.Property(),
			Severity:    a.Severity(),
			Evidence:    a.Evidence(),
			Description: a.Description(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() > out[j].Severity.Rank()
		}
		return out[i].Property < out[j].Property
	})
	for i := range out {
		out[i].ID = fmt.Sprintf("%s_assume_%d", function, i+1)
	}
	return out
}
