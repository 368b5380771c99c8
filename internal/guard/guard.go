// Package guard is the static check between translation and verification.
// It re-reads the artifact the translator produced and compares it with the
// canonical property set in force, so a weaker encoding never reaches a
// compiler.
package guard

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"argus/internal/extractor"
	"argus/internal/policy"
	"argus/internal/property"
	"argus/internal/route"
	"argus/internal/translator"
)

// Code names one class of guard violation.
type Code string

const (
	HashMismatch         Code = "HASH_MISMATCH"
	ManifestMalformed    Code = "MANIFEST_MALFORMED"
	NoObligations        Code = "NO_OBLIGATIONS"
	MissingFunction      Code = "MISSING_FUNCTION"
	TranslatorMismatch   Code = "TRANSLATOR_MISMATCH"
	DroppedProperty      Code = "DROPPED_PROPERTY"
	WeakenedProperty     Code = "WEAKENED_PROPERTY"
	CategoryMoved        Code = "CATEGORY_MOVED"
	UnexpectedGoal       Code = "UNEXPECTED_GOAL"
	UnexpectedHypothesis Code = "UNEXPECTED_HYPOTHESIS"
	MissingStatement     Code = "MISSING_STATEMENT"
	DriftPattern         Code = "DRIFT_PATTERN"
)

// Violation is one finding.
type Violation struct {
	Code   Code   `json:"code"`
	Ref    string `json:"ref,omitempty"`
	Detail string `json:"detail"`
}

func (v Violation) String() string {
	if v.Ref != "" {
		return fmt.Sprintf("%s(%s): %s", v.Code, v.Ref, v.Detail)
	}
	return fmt.Sprintf("%s: %s", v.Code, v.Detail)
}

// ErrGuardViolation is the category sentinel for GuardViolationError.
var ErrGuardViolation = errors.New("semantic guard violation")

// GuardViolationError carries every violation found in one artifact.
type GuardViolationError struct {
	Violations []Violation
}

func (e *GuardViolationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "semantic guard rejected artifact: " + strings.Join(parts, "; ")
}

func (e *GuardViolationError) Unwrap() error { return ErrGuardViolation }

// Codes returns the distinct violation codes in sorted order.
func (e *GuardViolationError) Codes() []Code {
	seen := map[Code]bool{}
	var out []Code
	for _, v := range e.Violations {
		if !seen[v.Code] {
			seen[v.Code] = true
			out = append(out, v.Code)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether a violation with code c was recorded.
func (e *GuardViolationError) Has(c Code) bool {
	for _, v := range e.Violations {
		if v.Code == c {
			return true
		}
	}
	return false
}

type driftPattern struct {
	re     *regexp.Regexp
	reason string
}

var leanDrift = []driftPattern{
	{regexp.MustCompile(`\baxiom\b`), "axiom declaration"},
	{regexp.MustCompile(`\bNat\b|ℕ`), "natural numbers truncate subtraction"},
	{regexp.MustCompile(`\bInt\.toNat\b|\bInt\.natAbs\b`), "conversion to natural numbers"},
	{regexp.MustCompile(`\bnative_decide\b`), "native_decide trusts the compiler"},
	{regexp.MustCompile(`\bpartial\s+def\b|\bunsafe\b|@\[implemented_by`), "definition escapes the kernel"},
	{regexp.MustCompile(`^\s*variable\b`), "section variables add hypotheses"},
	{regexp.MustCompile(`\bopaque\b`), "opaque definition hides the body"},
}

var dafnyDrift = []driftPattern{
	{regexp.MustCompile(`\bassume\b`), "assume statement"},
	{regexp.MustCompile(`\{:axiom\}`), "axiom attribute"},
	{regexp.MustCompile(`\{:verify\s+false\}`), "verification disabled"},
	{regexp.MustCompile(`\{:extern`), "extern body"},
	{regexp.MustCompile(`\bnat\b`), "nat narrows the input domain"},
	{regexp.MustCompile(`decreases\s+\*`), "termination check disabled"},
}

// Guard checks artifacts. It holds no state between calls.
type Guard struct {
	drift map[route.Engine][]driftPattern
}

func New() *Guard {
	return &Guard{drift: map[route.Engine][]driftPattern{
		route.ProofCompiler: leanDrift,
		route.SMTBacked:     dafnyDrift,
	}}
}

// Check returns nil when a may be sent to its engine, or a
// *GuardViolationError listing every problem found.
func (g *Guard) Check(u *extractor.CodeUnit, set *property.Set, a *translator.Artifact) error {
	var vs []Violation
	add := func(c Code, ref, format string, args ...any) {
		vs = append(vs, Violation{Code: c, Ref: ref, Detail: fmt.Sprintf(format, args...)})
	}

	if len(set.Obligations) == 0 {
		add(NoObligations, set.Function, "property set has no obligations to prove")
	}
	if a.PropertySetHash != set.Hash {
		add(HashMismatch, "", "artifact references %s, set in force is %s", short(a.PropertySetHash), short(set.Hash))
	}

	m, err := translator.ParseManifest(a.Engine, a.Source)
	if err != nil {
		add(ManifestMalformed, "", "%v", err)
		return &GuardViolationError{Violations: vs}
	}
	if m.PropertySetHash != set.Hash {
		add(HashMismatch, "manifest", "manifest declares %s, set in force is %s", short(m.PropertySetHash), short(set.Hash))
	}
	if m.Translator != a.Translator.String() {
		add(TranslatorMismatch, "", "manifest names %q, artifact was produced by %q", m.Translator, a.Translator)
	}
	if m.Function != set.Function || a.Function != set.Function {
		add(MissingFunction, set.Function, "artifact is for %q", m.Function)
	}

	vs = append(vs, compareManifest(set, m)...)
	vs = append(vs, g.scanDrift(a)...)

	switch a.Engine {
	case route.ProofCompiler:
		vs = append(vs, checkLean(u, set, a)...)
	case route.SMTBacked:
		vs = append(vs, checkDafny(u, set, a)...)
	default:
		add(TranslatorMismatch, "", "unknown engine %q", a.Engine)
	}

	if len(vs) == 0 {
		return nil
	}
	return &GuardViolationError{Violations: vs}
}

// compareManifest re-parses every rendered property and checks it against
// the canonical set, both ways.
func compareManifest(set *property.Set, m translator.Manifest) []Violation {
	var vs []Violation
	goals := map[string]translator.ManifestGoal{}
	for _, mg := range m.Goals {
		if _, dup := goals[mg.ID]; dup {
			vs = append(vs, Violation{UnexpectedGoal, mg.ID, "goal rendered twice"})
		}
		goals[mg.ID] = mg
	}
	hyps := map[string]translator.ManifestHyp{}
	hypByProp := map[string]string{}
	for _, mh := range m.Hyps {
		hyps[mh.ID] = mh
		hypByProp[normalize(mh.Property)] = mh.ID
	}

	for _, ob := range set.Obligations {
		if id, ok := hypByProp[ob.Property]; ok {
			vs = append(vs, Violation{CategoryMoved, ob.ID, fmt.Sprintf("obligation rendered as hypothesis %s", id)})
		}
		mg, ok := goals[ob.ID]
		if !ok {
			if _, asHyp := hyps[ob.ID]; !asHyp {
				vs = append(vs, Violation{DroppedProperty, ob.ID, "obligation has no goal"})
			}
			continue
		}
		if got := normalize(mg.Property); got != ob.Property {
			vs = append(vs, Violation{WeakenedProperty, ob.ID, fmt.Sprintf("rendered %q, canonical %q", mg.Property, ob.Property)})
		}
		if mg.Category != ob.Category {
			vs = append(vs, Violation{CategoryMoved, ob.ID, fmt.Sprintf("category %s, canonical %s", mg.Category, ob.Category)})
		}
	}
	for id := range goals {
		if _, ok := set.Obligation(id); !ok {
			vs = append(vs, Violation{UnexpectedGoal, id, "goal not in the canonical set"})
		}
	}

	known := map[string]property.Assumption{}
	for _, a := range set.Assumptions {
		known[a.ID] = a
		mh, ok := hyps[a.ID]
		if !ok {
			vs = append(vs, Violation{DroppedProperty, a.ID, "assumption has no hypothesis"})
			continue
		}
		if normalize(mh.Property) != normalize(a.Property) {
			vs = append(vs, Violation{UnexpectedHypothesis, a.ID, fmt.Sprintf("rendered %q, canonical %q", mh.Property, a.Property)})
		}
	}
	for id := range hyps {
		if _, ok := known[id]; ok {
			continue
		}
		if _, ok := set.Obligation(id); ok {
			vs = append(vs, Violation{CategoryMoved, id, "obligation rendered as hypothesis"})
			continue
		}
		vs = append(vs, Violation{UnexpectedHypothesis, id, "hypothesis not in the canonical set"})
	}
	sortViolations(vs)
	return vs
}

func (g *Guard) scanDrift(a *translator.Artifact) []Violation {
	var vs []Violation
	comment := translator.CommentPrefix(a.Engine)
	for i, line := range strings.Split(a.Source, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), comment) {
			continue
		}
		for _, p := range g.drift[a.Engine] {
			if p.re.MatchString(line) {
				vs = append(vs, Violation{DriftPattern, fmt.Sprintf("line %d", i+1), p.reason})
			}
		}
		if a.Engine == route.ProofCompiler {
			if cmd, ok := translator.LeanCommandIn(line); ok {
				vs = append(vs, Violation{DriftPattern, fmt.Sprintf("line %d", i+1), fmt.Sprintf("Lean command %q", cmd)})
			}
		}
	}
	return vs
}

// checkLean requires the function definition and exactly one theorem per
// obligation whose statement matches the canonical rendering.
func checkLean(u *extractor.CodeUnit, set *property.Set, a *translator.Artifact) []Violation {
	var vs []Violation
	lines := codeLines(a.Source, translator.CommentPrefix(a.Engine))

	sig := fmt.Sprintf("def %s ", translator.LeanIdent(u.Name))
	if !anyPrefix(lines, sig) {
		vs = append(vs, Violation{MissingFunction, u.Name, "no definition of the function"})
	}
	vs = append(vs, topLevelLean(a.Source)...)

	expected := map[string]bool{}
	for _, ob := range set.Obligations {
		stmt, err := translator.LeanStatement(u, set, ob)
		if err != nil {
			vs = append(vs, Violation{MissingStatement, ob.ID, err.Error()})
			continue
		}
		expected[ob.ID] = true
		if countStatement(lines, stmt) != 1 {
			vs = append(vs, Violation{MissingStatement, ob.ID, "theorem statement differs from the canonical rendering"})
		}
		if len(goalLines(a, ob.ID)) == 0 {
			vs = append(vs, Violation{MissingStatement, ob.ID, "no goal site recorded"})
		}
	}
	for _, l := range lines {
		for _, kw := range []string{"theorem ", "lemma ", "example "} {
			if !strings.HasPrefix(l, kw) {
				continue
			}
			name := strings.Fields(strings.TrimPrefix(l, kw))
			if kw == "example " || len(name) == 0 || !expected[name[0]] {
				vs = append(vs, Violation{UnexpectedGoal, strings.TrimSpace(kw), "declaration outside the canonical set"})
			}
		}
	}
	return vs
}

// topLevelLean allows exactly one column-0 def and otherwise only theorems.
// Anything else at column 0 is a command the translator never writes.
func topLevelLean(src string) []Violation {
	var vs []Violation
	defs := 0
	for i, l := range strings.Split(src, "\n") {
		if l == "" || l[0] == ' ' || l[0] == '\t' || strings.HasPrefix(l, "--") {
			continue
		}
		switch {
		case strings.HasPrefix(l, "def "):
			defs++
			if defs > 1 {
				vs = append(vs, Violation{UnexpectedGoal, fmt.Sprintf("line %d", i+1), "second definition in artifact"})
			}
		case strings.HasPrefix(l, "theorem "):
		default:
			vs = append(vs, Violation{UnexpectedGoal, fmt.Sprintf("line %d", i+1), "top-level command outside the definition and theorems"})
		}
	}
	return vs
}

// checkDafny requires the method, one precondition per assumption and no
// other, and a goal site for every obligation. Postconditions about the
// result must match the canonical rendering.
func checkDafny(u *extractor.CodeUnit, set *property.Set, a *translator.Artifact) []Violation {
	var vs []Violation
	lines := codeLines(a.Source, translator.CommentPrefix(a.Engine))

	if !anyPrefix(lines, fmt.Sprintf("method %s(", translator.DafnyIdent(u.Name))) {
		vs = append(vs, Violation{MissingFunction, u.Name, "no method for the function"})
	}
	if n := countPrefix(lines, "method "); n != 1 {
		vs = append(vs, Violation{UnexpectedGoal, "method", fmt.Sprintf("%d methods in artifact", n)})
	}
	for _, kw := range []string{"lemma ", "function ", "ghost "} {
		if countPrefix(lines, kw) > 0 {
			vs = append(vs, Violation{UnexpectedGoal, strings.TrimSpace(kw), "declaration outside the canonical set"})
		}
	}

	for _, as := range set.Assumptions {
		req, err := translator.DafnyRequires(as)
		if err != nil || count(lines, "requires "+req) != 1 {
			vs = append(vs, Violation{DroppedProperty, as.ID, "precondition differs from the canonical rendering"})
		}
	}
	if n := countPrefix(lines, "requires "); n != len(set.Assumptions) {
		vs = append(vs, Violation{UnexpectedHypothesis, "requires", fmt.Sprintf("%d preconditions for %d assumptions", n, len(set.Assumptions))})
	}
	for _, l := range lines {
		if strings.HasPrefix(l, "modifies ") || strings.HasPrefix(l, "reads ") {
			vs = append(vs, Violation{UnexpectedHypothesis, "frame", "frame clause on a pure method"})
		}
	}

	src := strings.Split(a.Source, "\n")
	for _, ob := range set.Obligations {
		sites := goalLines(a, ob.ID)
		if len(sites) == 0 {
			vs = append(vs, Violation{MissingStatement, ob.ID, "no goal site recorded"})
			continue
		}
		if mentionsResult(ob.Property) {
			ens, err := translator.DafnyEnsures(u, set, ob)
			if err != nil || count(lines, "ensures "+ens) != 1 {
				vs = append(vs, Violation{MissingStatement, ob.ID, "postcondition differs from the canonical rendering"})
			}
			continue
		}
		checked := false
		for _, l := range sites {
			if l >= 1 && l <= len(src) {
				t := strings.TrimSpace(src[l-1])
				if strings.HasPrefix(t, "assert ") || strings.HasPrefix(t, "ensures ") {
					checked = true
				}
			}
		}
		if !checked {
			vs = append(vs, Violation{MissingStatement, ob.ID, "goal site is not an assertion or postcondition"})
		}
	}
	return vs
}

func mentionsResult(prop string) bool {
	e, err := extractor.ParseExpr(prop)
	if err != nil {
		return false
	}
	for _, n := range e.Names() {
		if n == policy.ResultName {
			return true
		}
	}
	return false
}

func goalLines(a *translator.Artifact, id string) []int {
	for _, g := range a.Goals {
		if g.ObligationID == id {
			return g.Lines
		}
	}
	return nil
}

func normalize(prop string) string {
	e, err := extractor.ParseExpr(prop)
	if err != nil {
		return "\x00" + prop
	}
	return e.String()
}

func codeLines(src, comment string) []string {
	var out []string
	for _, l := range strings.Split(src, "\n") {
		t := strings.TrimSpace(l)
		if t == "" || strings.HasPrefix(t, comment) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func anyPrefix(lines []string, p string) bool { return countPrefix(lines, p) > 0 }

func countPrefix(lines []string, p string) int {
	n := 0
	for _, l := range lines {
		if strings.HasPrefix(l, p) {
			n++
		}
	}
	return n
}

func count(lines []string, exact string) int {
	n := 0
	for _, l := range lines {
		if l == exact {
			n++
		}
	}
	return n
}

func countStatement(lines []string, stmt string) int {
	n := 0
	for _, l := range lines {
		if l == stmt+" :=" || strings.HasPrefix(l, stmt+" := ") {
			n++
		}
	}
	return n
}

func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Code != vs[j].Code {
			return vs[i].Code < vs[j].Code
		}
		return vs[i].Ref < vs[j].Ref
	})
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	if h == "" {
		return "<none>"
	}
	return h
}
