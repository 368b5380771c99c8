package policy

import (
	"fmt"
	"sort"
	"strings"

	"argus/internal/extractor"
	"argus/internal/property"
)

// ResultName is the reserved name for a function's return value inside
// property text.
const ResultName = "result"

var numericHints = map[string]bool{
	"balance": true,
	"amount":  true,
	"total":   true,
	"count":   true,
	"value":   true,
	"sum":     true,
}

var stateHints = map[string]bool{
	"state":  true,
	"status": true,
	"level":  true,
}

var nonNegativeTypes = map[string]bool{
	"NonNegativeInt": true,
	"NonNegInt":      true,
	"Nat":            true,
	"Natural":        true,
	"PositiveInt":    true,
	"conint(ge=0)":   true,
}

type intRange struct{ lo, hi int64 }

var boundedIntTypes = map[string]intRange{
	"int8":   {-128, 127},
	"int16":  {-32768, 32767},
	"int32":  {-2147483648, 2147483647},
	"uint8":  {0, 255},
	"uint16": {0, 65535},
	"uint32": {0, 4294967295},
}

// IsIntType reports whether t is rendered as a mathematical integer.
func IsIntType(t string) bool {
	if t == "int" || nonNegativeTypes[t] {
		return true
	}
	_, ok := boundedIntTypes[t]
	return ok
}

// IsIntPair reports whether t is a two-integer tuple annotation.
func IsIntPair(t string) bool {
	switch t {
	case "tuple[int,int]", "Tuple[int,int]", "typing.Tuple[int,int]":
		return true
	}
	return false
}

func hasHint(name string, hints map[string]bool) bool {
	for _, tok := range strings.Split(strings.ToLower(name), "_") {
		if hints[tok] {
			return true
		}
	}
	return false
}

func hintParams(u *extractor.CodeUnit, hints map[string]bool) []extractor.Param {
	var out []extractor.Param
	for _, p := range u.Params {
		if hasHint(p.Name, hints) {
			out = append(out, p)
		}
	}
	return out
}

func result() *extractor.Expr { return extractor.Name(ResultName) }

func resultAt(i int64) *extractor.Expr {
	return &extractor.Expr{Kind: extractor.ExprSubscript, Args: []*extractor.Expr{result(), extractor.Int(i)}}
}

// NonNegativityRule flags results that subtraction or a declared type says
// must not go below zero.
type NonNegativityRule struct{}

func (NonNegativityRule) Name() string { return "non_negativity" }

func (NonNegativityRule) Apply(u *extractor.CodeUnit) []Finding {
	hint := len(hintParams(u, numericHints)) > 0
	sub := u.Features.HasSubtraction

	if IsIntPair(u.ReturnType) {
		if !sub || !hint {
			return nil
		}
		return []Finding{
			{property.NonNegativity, property.Critical, extractor.Compare(">=", resultAt(0), extractor.Int(0)), "first component stays non-negative", 0},
			{property.NonNegativity, property.Critical, extractor.Compare(">=", resultAt(1), extractor.Int(0)), "second component stays non-negative", 0},
		}
	}
	if !IsIntType(u.ReturnType) {
		return nil
	}

	nonNeg := nonNegativeTypes[u.ReturnType]
	goal := extractor.Compare(">=", result(), extractor.Int(0))
	switch {
	case sub && (nonNeg || hint):
		return []Finding{{property.NonNegativity, property.Critical, goal, "subtraction must not drive the result below zero", 0}}
	case nonNeg:
		return []Finding{{property.NonNegativity, property.High, goal, fmt.Sprintf("declared return type %s is non-negative", u.ReturnType), 0}}
	case returnsHintName(u):
		return []Finding{{property.NonNegativity, property.High, goal, "returned quantity must remain non-negative", 0}}
	}
	return nil
}

func returnsHintName(u *extractor.CodeUnit) bool {
	for _, r := range u.Features.Returns {
		if r != nil && r.Kind == extractor.ExprName && hasHint(r.Name, numericHints) {
			return true
		}
	}
	return false
}

// BoundsRule requires every index access to be in range under the branch
// conditions that reach it.
type BoundsRule struct{}

func (BoundsRule) Name() string { return "bounds" }

func (BoundsRule) Apply(u *extractor.CodeUnit) []Finding {
	var out []Finding
	for _, site := range u.Features.Subscripts {
		out = append(out, Finding{
			Category:    property.Bounds,
			Severity:    property.Critical,
			Property:    BoundsProperty(site),
			Description: fmt.Sprintf("index into %s stays in range", site.Collection),
			Line:        site.Line,
		})
	}
	return out
}

// BoundsProperty is the in-range condition for one index access, guarded by
// the branch conditions that reach it.
func BoundsProperty(site extractor.SubscriptSite) *extractor.Expr {
	bound := &extractor.Expr{
		Kind: extractor.ExprCompare,
		Ops:  []string{"<=", "<"},
		Args: []*extractor.Expr{extractor.Int(0), site.Index.Clone(), extractor.Call("len", extractor.Name(site.Collection))},
	}
	if pc := Conjoin(site.PathCond); pc != nil {
		return extractor.Call("implies", pc, bound)
	}
	return bound
}

// Conjoin folds es into a left-nested `and`, or nil when es is empty.
func Conjoin(es []*extractor.Expr) *extractor.Expr {
	var out *extractor.Expr
	for _, e := range es {
		if out == nil {
			out = e.Clone()
			continue
		}
		out = &extractor.Expr{Kind: extractor.ExprBoolOp, Op: "and", Args: []*extractor.Expr{out, e.Clone()}}
	}
	return out
}

// UniquenessRule requires collections grown by insertion to stay duplicate free.
type UniquenessRule struct{}

func (UniquenessRule) Name() string { return "uniqueness" }

func (UniquenessRule) Apply(u *extractor.CodeUnit) []Finding {
	var out []Finding
	for _, site := range u.Features.Appends {
		target := extractor.Name(site.Collection)
		for _, r := range u.Features.Returns {
			if r != nil && r.Kind == extractor.ExprName && r.Name == site.Collection {
				target = result()
				break
			}
		}
		out = append(out, Finding{
			Category:    property.Uniqueness,
			Severity:    property.High,
			Property:    extractor.Call("distinct", target),
			Description: fmt.Sprintf("%s on %s must not insert duplicates", site.Method, site.Collection),
			Line:        site.Line,
		})
	}
	return out
}

// ConservationRule matches transfer-shaped functions that move a quantity
// between two values and return both.
type ConservationRule struct{}

func (ConservationRule) Name() string { return "conservation" }

func (ConservationRule) Apply(u *extractor.CodeUnit) []Finding {
	if !IsIntPair(u.ReturnType) {
		return nil
	}
	for _, r := range u.Features.Returns {
		if r == nil || r.Kind != extractor.ExprTuple || len(r.Args) != 2 {
			continue
		}
		a, b, ok := transferPair(u, r.Args[0], r.Args[1])
		if !ok {
			continue
		}
		goal := extractor.Compare("==",
			extractor.BinOp("+", resultAt(0), resultAt(1)),
			extractor.BinOp("+", extractor.Name(a), extractor.Name(b)))
		return []Finding{{property.Conservation, property.Critical, goal, fmt.Sprintf("transfer preserves %s + %s", a, b), 0}}
	}
	return nil
}

// transferPair recognizes (a - x, b + x) and (a + x, b - x) over parameters a and b.
func transferPair(u *extractor.CodeUnit, l, r *extractor.Expr) (string, string, bool) {
	if l.Kind != extractor.ExprBinOp || r.Kind != extractor.ExprBinOp {
		return "", "", false
	}
	if !((l.Op == "-" && r.Op == "+") || (l.Op == "+" && r.Op == "-")) {
		return "", "", false
	}
	la, ra := l.Args[0], r.Args[0]
	if la.Kind != extractor.ExprName || ra.Kind != extractor.ExprName || la.Name == ra.Name {
		return "", "", false
	}
	if _, ok := u.Param(la.Name); !ok {
		return "", "", false
	}
	if _, ok := u.Param(ra.Name); !ok {
		return "", "", false
	}
	if !l.Args[1].Equal(r.Args[1]) {
		return "", "", false
	}
	return la.Name, ra.Name, true
}

// MonotonicityRule matches credit-shaped returns `p + q` where p is a
// quantity parameter: the result must not fall below p.
type MonotonicityRule struct{}

func (MonotonicityRule) Name() string { return "monotonicity" }

func (MonotonicityRule) Apply(u *extractor.CodeUnit) []Finding {
	if !IsIntType(u.ReturnType) {
		return nil
	}
	seen := map[string]bool{}
	var out []Finding
	for _, r := range u.Features.Returns {
		if r == nil || r.Kind != extractor.ExprBinOp || r.Op != "+" {
			continue
		}
		base := r.Args[0]
		if base.Kind != extractor.ExprName || seen[base.Name] || !hasHint(base.Name, numericHints) {
			continue
		}
		if _, ok := u.Param(base.Name); !ok {
			continue
		}
		seen[base.Name] = true
		out = append(out, Finding{
			Category:    property.Monotonicity,
			Severity:    property.High,
			Property:    extractor.Compare(">=", result(), extractor.Name(base.Name)),
			Description: fmt.Sprintf("crediting %s never decreases it", base.Name),
		})
	}
	return out
}

// StateTransitionRule closes state-like results over the current state and
// the literal states the function can produce.
type StateTransitionRule struct{}

func (StateTransitionRule) Name() string { return "state_transition" }

func (StateTransitionRule) Apply(u *extractor.CodeUnit) []Finding {
	if !IsIntType(u.ReturnType) {
		return nil
	}
	var states []*extractor.Expr
	for _, p := range hintParams(u, stateHints) {
		if IsIntType(p.Type) {
			states = append(states, extractor.Name(p.Name))
		}
	}
	if len(states) == 0 {
		return nil
	}

	lits := map[int64]bool{}
	for _, r := range u.Features.Returns {
		collectLiterals(r, lits)
	}
	vals := make([]int64, 0, len(lits))
	for v := range lits {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	for _, v := range vals {
		states = append(states, extractor.Int(v))
	}

	goal := extractor.Compare("in", result(), &extractor.Expr{Kind: extractor.ExprSet, Args: states})
	return []Finding{{property.StateTransition, property.High, goal, "result is the current state or a declared target state", 0}}
}

func collectLiterals(e *extractor.Expr, into map[int64]bool) {
	if e == nil {
		return
	}
	switch e.Kind {
	case extractor.ExprInt:
		into[e.Value] = true
	case extractor.ExprCond:
		collectLiterals(e.Args[1], into)
		collectLiterals(e.Args[2], into)
	}
}

// TypeRangeRule requires results annotated with a fixed-width integer type
// to stay within that width.
type TypeRangeRule struct{}

func (TypeRangeRule) Name() string { return "type_range" }

func (TypeRangeRule) Apply(u *extractor.CodeUnit) []Finding {
	r, ok := boundedIntTypes[u.ReturnType]
	if !ok {
		return nil
	}
	goal := &extractor.Expr{
		Kind: extractor.ExprCompare,
		Ops:  []string{"<=", "<="},
		Args: []*extractor.Expr{extractor.Int(r.lo), result(), extractor.Int(r.hi)},
	}
	return []Finding{{property.TypeRange, property.High, goal, fmt.Sprintf("result fits in %s", u.ReturnType), 0}}
}
