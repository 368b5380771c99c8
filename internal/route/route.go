// Package route selects the translator and verification engine for a unit.
// Selection is a pure function of code structure and happens once per
// attempt; nothing downstream may revisit it after a failure.
package route

import (
	"fmt"

	"argus/internal/extractor"
	"argus/internal/policy"
)

// TranslatorKind is the closed set of translators.
type TranslatorKind int

const (
	AST TranslatorKind = iota
	LoopSpecialist
	ReasoningAssisted
)

func (k TranslatorKind) String() string {
	switch k {
	case AST:
		return "ast"
	case LoopSpecialist:
		return "loop_specialist"
	case ReasoningAssisted:
		return "reasoning_assisted"
	}
	return "unknown"
}

// Engine is the closed set of verification engines.
type Engine int

const (
	ProofCompiler Engine = iota
	SMTBacked
)

func (e Engine) String() string {
	switch e {
	case ProofCompiler:
		return "lean"
	case SMTBacked:
		return "dafny"
	}
	return "unknown"
}

func (k TranslatorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *TranslatorKind) UnmarshalText(b []byte) error {
	for _, c := range []TranslatorKind{AST, LoopSpecialist, ReasoningAssisted} {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown translator %q", b)
}

func (e Engine) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *Engine) UnmarshalText(b []byte) error {
	for _, c := range []Engine{ProofCompiler, SMTBacked} {
		if c.String() == string(b) {
			*e = c
			return nil
		}
	}
	return fmt.Errorf("unknown engine %q", b)
}

// Route is one (translator, engine) pair.
type Route struct {
	Translator TranslatorKind `json:"translator"`
	Engine     Engine         `json:"engine"`
	Reason     string         `json:"reason"`
}

type arm struct {
	match func(*extractor.CodeUnit) bool
	route Route
}

// arms are tried in order; the last one always matches.
var arms = []arm{
	{
		match: func(u *extractor.CodeUnit) bool { return u.Features.HasLoop },
		route: Route{LoopSpecialist, SMTBacked, "loop present"},
	},
	{
		match: needsReasoning,
		route: Route{ReasoningAssisted, ProofCompiler, "constructs outside the deterministic subset"},
	},
	{
		match: func(*extractor.CodeUnit) bool { return true },
		route: Route{AST, ProofCompiler, "straight-line integer code"},
	},
}

// Select returns the route for u.
func Select(u *extractor.CodeUnit) Route {
	for _, a := range arms {
		if a.match(u) {
			return a.route
		}
	}
	panic("route: no arm matched")
}

func needsReasoning(u *extractor.CodeUnit) bool {
	f := u.Features
	if f.HasCollection || f.HasComprehension || f.HasSubscript || f.HasRaise || f.HasFloat || f.HasSideEffect {
		return true
	}
	for _, p := range u.Params {
		if !ScalarType(p.Type) {
			return true
		}
	}
	return !(ScalarType(u.ReturnType) || policy.IsIntPair(u.ReturnType))
}

// ScalarType reports whether t renders directly as Int or Bool.
func ScalarType(t string) bool {
	return t == "bool" || policy.IsIntType(t)
}
