// Package verdict is the fail-closed verdict contract. Decide is total: every
// input yields exactly one verdict, and a passing verdict requires a
// completed run whose every obligation proved through trusted modules only.
package verdict

import (
	"fmt"
	"sort"
	"strings"
)

type Verdict string

const (
	Verified   Verdict = "VERIFIED"
	Fixed      Verdict = "FIXED"
	Vulnerable Verdict = "VULNERABLE"
	Unverified Verdict = "UNVERIFIED"
	Error      Verdict = "ERROR"
)

// All lists verdicts in report order.
var All = []Verdict{Verified, Fixed, Vulnerable, Unverified, Error}

// Passing reports whether v certifies the unit.
func (v Verdict) Passing() bool { return v == Verified || v == Fixed }

// Tooling classifies how far the compiler got.
type Tooling int

const (
	// Completed means the compiler ran and every goal has a status.
	Completed Tooling = iota
	// Recoverable means translation or result attribution could not finish.
	Recoverable
	// Infrastructure means the compiler crashed, timed out or was refused.
	Infrastructure
	// NotRun means an earlier gate stopped the attempt.
	NotRun
)

// Module identifies a pipeline component for the trust table.
type Module string

const (
	Policy              Module = "policy"
	Evidence            Module = "evidence"
	Canonicalizer       Module = "canon"
	Discovery           Module = "discovery"
	ASTTranslator       Module = "translator.ast"
	LoopTranslator      Module = "translator.loop_specialist"
	ReasoningTranslator Module = "translator.reasoning_assisted"
	Guard               Module = "guard"
	LeanVerifier        Module = "verifier.lean"
	DafnyVerifier       Module = "verifier.dafny"
	Repair              Module = "repair"
)

// trusted says which modules may stand behind a passing verdict. Discovery
// and repair output never reaches the pass criteria. Reasoning-assisted
// translations are admitted only because the statements are rendered
// locally and checked by the guard.
var trusted = map[Module]bool{
	Policy:              true,
	Evidence:            true,
	Canonicalizer:       true,
	Discovery:           false,
	ASTTranslator:       true,
	LoopTranslator:      true,
	ReasoningTranslator: true,
	Guard:               true,
	LeanVerifier:        true,
	DafnyVerifier:       true,
	Repair:              false,
}

// Trusted reports the table entry for m. Unknown modules are untrusted.
func Trusted(m Module) bool { return trusted[m] }

// Inputs is everything the contract looks at for one attempt.
type Inputs struct {
	ConstructSupported bool
	Unsupported        []string
	EvidenceValid      bool
	RejectedEvidence   []string
	GuardPassed        bool
	Tooling            Tooling
	AllPassed          bool
	AttemptIndex       int
	MaxAttempts        int
	// CategoriesPreserved is true when the repaired code still requires
	// every category policy required of the original.
	CategoriesPreserved bool
	// Producers are the modules the passing result would rest on.
	Producers []Module
}

// Decision is the contract's answer. Terminal is false only for a failed
// attempt that still has repair budget left.
type Decision struct {
	Verdict  Verdict `json:"verdict"`
	Reason   string  `json:"reason"`
	Terminal bool    `json:"terminal"`
}

func Decide(in Inputs) Decision {
	switch {
	case !in.ConstructSupported:
		return terminal(Unverified, "unsupported constructs: "+list(in.Unsupported))
	case !in.EvidenceValid:
		return terminal(Unverified, "assumption evidence rejected: "+list(in.RejectedEvidence))
	case !in.GuardPassed:
		return terminal(Unverified, "semantic guard rejected the artifact")
	case in.Tooling == Infrastructure:
		return terminal(Error, "compiler infrastructure failure")
	case in.Tooling == Recoverable:
		return terminal(Unverified, "tooling could not establish a proof status")
	case in.Tooling == NotRun:
		return terminal(Unverified, "verification did not run")
	}

	if in.AllPassed {
		if m, ok := untrusted(in.Producers); ok {
			return terminal(Unverified, fmt.Sprintf("result rests on untrusted module %s", m))
		}
		if in.AttemptIndex == 0 {
			return terminal(Verified, "all obligations proved")
		}
		if in.CategoriesPreserved {
			return terminal(Fixed, fmt.Sprintf("all obligations proved after %d repair attempt(s)", in.AttemptIndex))
		}
		return next(in, "repair removed a policy-required obligation category")
	}
	return next(in, "one or more obligations did not prove")
}

func next(in Inputs, reason string) Decision {
	if in.AttemptIndex+1 >= in.MaxAttempts {
		return terminal(Vulnerable, reason+"; repair attempts exhausted")
	}
	return Decision{Verdict: Vulnerable, Reason: reason, Terminal: false}
}

func terminal(v Verdict, reason string) Decision {
	return Decision{Verdict: v, Reason: reason, Terminal: true}
}

func untrusted(ms []Module) (Module, bool) {
	for _, m := range ms {
		if !trusted[m] {
			return m, true
		}
	}
	return "", false
}

func list(xs []string) string {
	if len(xs) == 0 {
		return "unspecified"
	}
	s := append([]string(nil), xs...)
	sort.Strings(s)
	return strings.Join(s, ", ")
}
