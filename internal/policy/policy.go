// Package policy derives proof obligations from a CodeUnit with a fixed rule
// pack. Nothing here calls out of process or depends on ordering of maps, so
// the same unit always yields the same obligations.
package policy

import (
	"sort"

	"argus/internal/extractor"
	"argus/internal/property"
)

// Finding is one rule match before normalization.
type Finding struct {
	Category    property.Category
	Severity    property.Severity
	Property    *extractor.Expr
	Description string
	Line        int
}

// DeterministicRule is a trusted, pure, synchronous pattern over a CodeUnit.
type DeterministicRule interface {
	Name() string
	Apply(u *extractor.CodeUnit) []Finding
}

// Engine runs a rule pack.
type Engine struct {
	rules []DeterministicRule
}

// New builds an engine over rules, applied in the given order.
func New(rules ...DeterministicRule) *Engine {
	return &Engine{rules: rules}
}

// Default returns the engine with the built-in rule pack.
func Default() *Engine {
	return New(
		NonNegativityRule{},
		BoundsRule{},
		UniquenessRule{},
		ConservationRule{},
		MonotonicityRule{},
		StateTransitionRule{},
		TypeRangeRule{},
	)
}

// Derive returns the obligations for u in canonical order, without ids. Units
// that carry unsupported constructs fail with UnsupportedConstructError.
func (e *Engine) Derive(u *extractor.CodeUnit) ([]property.Obligation, error) {
	if err := extractor.CheckSupported(u); err != nil {
		return nil, err
	}

	type key struct {
		cat  property.Category
		prop string
	}
	index := map[key]int{}
	var out []property.Obligation
	for _, r := range e.rules {
		for _, f := range r.Apply(u) {
			k := key{f.Category, f.Property.String()}
			if i, ok := index[k]; ok {
				out[i].Severity = property.MaxSeverity(out[i].Severity, f.Severity)
				continue
			}
			index[k] = len(out)
			out = append(out, property.Obligation{
				Property:    k.prop,
				Category:    f.Category,
				Severity:    f.Severity,
				Origin:      property.OriginPolicy,
				Description: f.Description,
				Line:        f.Line,
			})
		}
	}
	SortObligations(out)
	return out, nil
}

// Categories returns the distinct categories policy requires for u.
func (e *Engine) Categories(u *extractor.CodeUnit) (map[property.Category]bool, error) {
	obs, err := e.Derive(u)
	if err != nil {
		return nil, err
	}
	out := make(map[property.Category]bool, len(obs))
	for _, o := range obs {
		out[o.Category] = true
	}
	return out, nil
}

// SortObligations orders by category, then severity descending, then
// property text.
func SortObligations(obs []property.Obligation) {
	sort.SliceStable(obs, func(i, j int) bool {
		a, b := obs[i], obs[j]
		if a.Category.Rank() != b.Category.Rank() {
			return a.Category.Rank() < b.Category.Rank()
		}
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		return a.Property < b.Property
	})
}
