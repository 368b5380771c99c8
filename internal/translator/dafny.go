package translator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"argus/internal/extractor"
	"argus/internal/policy"
	"argus/internal/property"
	"argus/internal/route"
)

var dafnyKeywords = map[string]bool{
	"abstract": true, "array": true, "as": true, "assert": true, "assume": true, "bool": true,
	"break": true, "calc": true, "case": true, "char": true, "class": true, "const": true,
	"continue": true, "datatype": true, "decreases": true, "else": true, "ensures": true,
	"exists": true, "expect": true, "false": true, "forall": true, "fresh": true, "function": true,
	"ghost": true, "if": true, "in": true, "int": true, "invariant": true, "is": true,
	"label": true, "lemma": true, "map": true, "match": true, "method": true, "modifies": true,
	"module": true, "multiset": true, "nat": true, "new": true, "null": true, "object": true,
	"old": true, "predicate": true, "print": true, "reads": true, "real": true, "requires": true,
	"return": true, "returns": true, "seq": true, "set": true, "string": true, "then": true,
	"this": true, "trait": true, "true": true, "type": true, "var": true, "while": true,
	"yield": true,
}

// DafnyIdent renames identifiers that collide with Dafny keywords.
func DafnyIdent(n string) string {
	if dafnyKeywords[n] {
		return n + "_"
	}
	return n
}

// DafnyType maps a Python annotation to a Dafny type.
func DafnyType(t string) (string, error) {
	switch {
	case t == "bool":
		return "bool", nil
	case policy.IsIntType(t):
		return "int", nil
	case policy.IsIntPair(t):
		return "(int, int)", nil
	}
	for _, p := range []string{"List", "list", "Sequence", "typing.List"} {
		if t == p+"[int]" {
			return "seq<int>", nil
		}
	}
	return "", fmt.Errorf("no Dafny rendering for type %q", t)
}

const distinctPredicate = `predicate Distinct(s: seq<int>)
{
  forall i, j :: 0 <= i < j < |s| ==> s[i] != s[j]
}
`

// LoopTranslator renders loop-bearing functions as a Dafny method. Goals
// about the result become postconditions, index safety becomes assertions at
// the access site, and loops receive synthesized invariants and measures.
type LoopTranslator struct{}

func (LoopTranslator) Kind() route.TranslatorKind { return route.LoopSpecialist }

func (LoopTranslator) Translate(ctx context.Context, u *extractor.CodeUnit, set *property.Set) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := newDafnyCtx(u, set)
	if err != nil {
		return nil, err
	}
	src, goals, err := d.render()
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Engine:          route.SMTBacked,
		Translator:      route.LoopSpecialist,
		Function:        u.Name,
		Source:          src,
		PropertySetHash: set.Hash,
		Goals:           goals,
	}, nil
}

type dafnyCtx struct {
	u       *extractor.CodeUnit
	set     *property.Set
	types   map[string]string // params and locals
	params  map[string]bool
	renames map[string]string // mutated params -> local copies

	ensures     []property.Obligation
	siteAsserts map[int][]property.Obligation // python line -> bounds obligations
	exitAsserts []property.Obligation         // checked before every return
	invariants  map[string][]dafnyInvariant   // loop-assigned var -> invariants

	counter int
	lines   []string
	goals   map[string][]int
}

type dafnyInvariant struct {
	obligation string
	text       string
}

func (d *dafnyCtx) fail(format string, args ...any) error {
	return newError(route.LoopSpecialist, format, args...)
}

func newDafnyCtx(u *extractor.CodeUnit, set *property.Set) (*dafnyCtx, error) {
	d := &dafnyCtx{
		u:           u,
		set:         set,
		types:       map[string]string{},
		params:      map[string]bool{},
		renames:     map[string]string{},
		siteAsserts: map[int][]property.Obligation{},
		invariants:  map[string][]dafnyInvariant{},
		goals:       map[string][]int{},
	}
	for _, p := range u.Params {
		if p.Name == policy.ResultName {
			return nil, d.fail("parameter named %q collides with the result", p.Name)
		}
		dt, err := DafnyType(p.Type)
		if err != nil {
			return nil, &TranslationError{Translator: route.LoopSpecialist, Reason: "signature", Err: err}
		}
		d.types[p.Name] = dt
		d.params[p.Name] = true
	}
	if _, err := DafnyType(u.ReturnType); err != nil {
		return nil, &TranslationError{Translator: route.LoopSpecialist, Reason: "signature", Err: err}
	}
	if !extractor.Terminates(u.Body) {
		return nil, d.fail("not every path returns a value")
	}

	for _, name := range mutatedNames(u.Body) {
		if name == policy.ResultName {
			return nil, d.fail("local named %q collides with the result", name)
		}
		if d.params[name] {
			d.renames[name] = "argus_" + name
		}
	}
	d.inferLocals()
	if err := d.classify(); err != nil {
		return nil, err
	}
	return d, nil
}

// mutatedNames lists every name written in the body: assignment targets,
// loop variables and receivers of in-place insertion.
func mutatedNames(body []*extractor.Stmt) []string {
	seen := map[string]bool{}
	for _, n := range extractor.AssignedNames(body) {
		seen[n] = true
	}
	extractor.WalkStmts(body, func(s *extractor.Stmt) {
		if s.Kind == extractor.StmtExpr && s.Value != nil && s.Value.Kind == extractor.ExprMethodCall && s.Value.Args[0].Kind == extractor.ExprName {
			seen[s.Value.Args[0].Name] = true
		}
	})
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (d *dafnyCtx) inferLocals() {
	extractor.WalkStmts(d.u.Body, func(s *extractor.Stmt) {
		switch s.Kind {
		case extractor.StmtAssign:
			if _, ok := d.types[s.Target]; !ok {
				d.types[s.Target] = d.inferType(s.Value)
			}
		case extractor.StmtAugAssign:
			if _, ok := d.types[s.Target]; !ok {
				d.types[s.Target] = "int"
			}
		case extractor.StmtFor:
			if _, ok := d.types[s.LoopVar]; !ok {
				d.types[s.LoopVar] = "int"
			}
		}
	})
}

func (d *dafnyCtx) inferType(e *extractor.Expr) string {
	switch e.Kind {
	case extractor.ExprList:
		return "seq<int>"
	case extractor.ExprCompare, extractor.ExprBoolOp, extractor.ExprNot, extractor.ExprBool:
		return "bool"
	case extractor.ExprTuple:
		return "(int, int)"
	case extractor.ExprName:
		if t, ok := d.types[e.Name]; ok {
			return t
		}
	case extractor.ExprBinOp:
		if e.Op == "+" && (d.inferType(e.Args[0]) == "seq<int>" || d.inferType(e.Args[1]) == "seq<int>") {
			return "seq<int>"
		}
	}
	return "int"
}

// classify decides where each obligation is checked and synthesizes the
// loop invariants that goals about the result need.
func (d *dafnyCtx) classify() error {
	returned := commonReturnName(d.u.Features.Returns)
	loopAssigned := map[string]bool{}
	extractor.WalkStmts(d.u.Body, func(s *extractor.Stmt) {
		if s.Kind == extractor.StmtFor || s.Kind == extractor.StmtWhile {
			for _, n := range mutatedNames(s.Body) {
				loopAssigned[n] = true
			}
			if s.LoopVar != "" {
				loopAssigned[s.LoopVar] = true
			}
		}
	})

	bySite := map[string][]int{}
	for _, site := range d.u.Features.Subscripts {
		prop := policy.BoundsProperty(site).String()
		bySite[prop] = append(bySite[prop], site.Line)
	}

	for _, ob := range d.set.Obligations {
		e, err := extractor.ParseExpr(ob.Property)
		if err != nil {
			return &TranslationError{Translator: route.LoopSpecialist, Reason: "obligation " + ob.ID, Err: err}
		}
		names := e.Names()
		mentionsResult := contains(names, policy.ResultName)

		if ob.Category == property.Bounds && !mentionsResult {
			lines := bySite[ob.Property]
			if len(lines) == 0 {
				return d.fail("no access site for %s", ob.ID)
			}
			for _, l := range lines {
				d.siteAsserts[l] = append(d.siteAsserts[l], ob)
			}
			continue
		}
		if !mentionsResult {
			if d.onlyParams(names) {
				d.ensures = append(d.ensures, ob)
			} else {
				d.exitAsserts = append(d.exitAsserts, ob)
			}
			continue
		}

		d.ensures = append(d.ensures, ob)
		switch {
		case returned != "" && loopAssigned[returned]:
			inv, err := d.prop(e.Subst(map[string]*extractor.Expr{policy.ResultName: extractor.Name(returned)}), true)
			if err != nil {
				return &TranslationError{Translator: route.LoopSpecialist, Reason: "invariant for " + ob.ID, Err: err}
			}
			d.invariants[returned] = append(d.invariants[returned], dafnyInvariant{obligation: ob.ID, text: inv})
		case returnsLoopState(d.u.Features.Returns, loopAssigned):
			return d.fail("cannot synthesize a loop invariant for %s", ob.ID)
		}
	}
	return nil
}

func commonReturnName(returns []*extractor.Expr) string {
	name := ""
	for _, r := range returns {
		if r == nil || r.Kind != extractor.ExprName {
			return ""
		}
		if name != "" && r.Name != name {
			return ""
		}
		name = r.Name
	}
	return name
}

func returnsLoopState(returns []*extractor.Expr, loopAssigned map[string]bool) bool {
	for _, r := range returns {
		for _, n := range r.Names() {
			if loopAssigned[n] {
				return true
			}
		}
	}
	return false
}

func (d *dafnyCtx) onlyParams(names []string) bool {
	for _, n := range names {
		if !d.params[n] {
			return false
		}
	}
	return true
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func (d *dafnyCtx) emit(depth int, format string, args ...any) int {
	d.lines = append(d.lines, strings.Repeat("  ", depth)+fmt.Sprintf(format, args...))
	return len(d.lines)
}

func (d *dafnyCtx) site(id string, lines ...int) {
	d.goals[id] = append(d.goals[id], lines...)
}

func (d *dafnyCtx) render() (string, []GoalSite, error) {
	for _, l := range strings.Split(strings.TrimRight(RenderManifest(route.SMTBacked, route.LoopSpecialist, d.set), "\n"), "\n") {
		d.emit(0, "%s", l)
	}
	d.emit(0, "")
	if d.needsDistinct() {
		for _, l := range strings.Split(strings.TrimRight(distinctPredicate, "\n"), "\n") {
			d.emit(0, "%s", l)
		}
		d.emit(0, "")
	}

	var params []string
	for _, p := range d.u.Params {
		params = append(params, fmt.Sprintf("%s: %s", DafnyIdent(p.Name), d.types[p.Name]))
	}
	rt, _ := DafnyType(d.u.ReturnType)
	d.emit(0, "method %s(%s) returns (result: %s)", DafnyIdent(d.u.Name), strings.Join(params, ", "), rt)

	for _, a := range d.set.Assumptions {
		e, err := extractor.ParseExpr(a.Property)
		if err != nil {
			return "", nil, &TranslationError{Translator: route.LoopSpecialist, Reason: "assumption " + a.ID, Err: err}
		}
		p, err := d.prop(e, false)
		if err != nil {
			return "", nil, &TranslationError{Translator: route.LoopSpecialist, Reason: "assumption " + a.ID, Err: err}
		}
		d.emit(1, "requires %s", p)
	}
	for _, ob := range d.ensures {
		line, err := d.ensuresLine(ob)
		if err != nil {
			return "", nil, err
		}
		d.site(ob.ID, d.emit(1, "ensures %s", line))
	}
	d.emit(0, "{")

	for _, p := range d.u.Params {
		if local, ok := d.renames[p.Name]; ok {
			d.emit(1, "var %s: %s := %s;", local, d.types[p.Name], DafnyIdent(p.Name))
		}
	}
	locals := make([]string, 0, len(d.types))
	for n := range d.types {
		if !d.params[n] {
			locals = append(locals, n)
		}
	}
	sort.Strings(locals)
	for _, n := range locals {
		d.emit(1, "var %s: %s;", DafnyIdent(n), d.types[n])
	}
	counterDecl := len(d.lines)
	d.emit(1, "")

	if err := d.block(d.u.Body, 1); err != nil {
		return "", nil, err
	}
	d.emit(0, "}")

	if d.counter > 0 {
		var names []string
		for i := 1; i <= d.counter; i++ {
			names = append(names, fmt.Sprintf("argus_i%d: int", i))
		}
		d.lines[counterDecl] = "  var " + strings.Join(names, ", ") + ";"
	}

	var goals []GoalSite
	for _, ob := range d.set.Obligations {
		ls := d.goals[ob.ID]
		if len(ls) == 0 {
			return "", nil, d.fail("obligation %s was not encoded", ob.ID)
		}
		sort.Ints(ls)
		goals = append(goals, GoalSite{ObligationID: ob.ID, Lines: ls})
	}
	return strings.Join(d.lines, "\n") + "\n", goals, nil
}

// DafnyEnsures renders the postcondition text for ob.
func DafnyEnsures(u *extractor.CodeUnit, set *property.Set, ob property.Obligation) (string, error) {
	d := &dafnyCtx{u: u, set: set, types: map[string]string{}, params: map[string]bool{}, renames: map[string]string{}}
	for _, p := range u.Params {
		d.params[p.Name] = true
		if dt, err := DafnyType(p.Type); err == nil {
			d.types[p.Name] = dt
		}
	}
	return d.ensuresLine(ob)
}

// DafnyRequires renders the precondition text for an assumption.
func DafnyRequires(a property.Assumption) (string, error) {
	e, err := extractor.ParseExpr(a.Property)
	if err != nil {
		return "", err
	}
	d := &dafnyCtx{renames: map[string]string{}, types: map[string]string{}}
	return d.prop(e, false)
}

func (d *dafnyCtx) ensuresLine(ob property.Obligation) (string, error) {
	e, err := extractor.ParseExpr(ob.Property)
	if err != nil {
		return "", &TranslationError{Translator: route.LoopSpecialist, Reason: "obligation " + ob.ID, Err: err}
	}
	p, err := d.prop(e, false)
	if err != nil {
		return "", &TranslationError{Translator: route.LoopSpecialist, Reason: "obligation " + ob.ID, Err: err}
	}
	return p, nil
}

func (d *dafnyCtx) needsDistinct() bool {
	for _, ob := range d.set.Obligations {
		if strings.Contains(ob.Property, "distinct(") {
			return true
		}
	}
	return false
}

func (d *dafnyCtx) block(stmts []*extractor.Stmt, depth int) error {
	for _, s := range stmts {
		if err := d.stmt(s, depth); err != nil {
			return err
		}
	}
	return nil
}

func (d *dafnyCtx) assertSite(s *extractor.Stmt, depth int) (func(), error) {
	obs := d.siteAsserts[s.Line]
	if len(obs) == 0 {
		return func() {}, nil
	}
	var ids []string
	for _, ob := range obs {
		e, err := extractor.ParseExpr(ob.Property)
		if err != nil {
			return nil, err
		}
		p, err := d.prop(e, true)
		if err != nil {
			return nil, &TranslationError{Translator: route.LoopSpecialist, Reason: "assertion for " + ob.ID, Err: err}
		}
		d.site(ob.ID, d.emit(depth, "assert %s;", p))
		ids = append(ids, ob.ID)
	}
	// The statement that follows carries the engine's own index check.
	next := len(d.lines) + 1
	return func() {
		for _, id := range ids {
			d.site(id, next)
		}
	}, nil
}

func (d *dafnyCtx) stmt(s *extractor.Stmt, depth int) error {
	mark, err := d.assertSite(s, depth)
	if err != nil {
		return err
	}
	mark()

	switch s.Kind {
	case extractor.StmtPass:
		return nil
	case extractor.StmtBreak:
		d.emit(depth, "break;")
	case extractor.StmtContinue:
		d.emit(depth, "continue;")
	case extractor.StmtAssign:
		v, err := d.term(s.Value, true)
		if err != nil {
			return d.lineErr(s, err)
		}
		d.emit(depth, "%s := %s;", d.local(s.Target), v)
	case extractor.StmtAugAssign:
		v, err := d.term(extractor.BinOp(s.Op, extractor.Name(s.Target), s.Value), true)
		if err != nil {
			return d.lineErr(s, err)
		}
		d.emit(depth, "%s := %s;", d.local(s.Target), v)
	case extractor.StmtReturn:
		if s.Value == nil {
			return d.fail("line %d: bare return", s.Line)
		}
		v, err := d.term(s.Value, true)
		if err != nil {
			return d.lineErr(s, err)
		}
		d.emit(depth, "result := %s;", v)
		for _, ob := range d.exitAsserts {
			e, err := extractor.ParseExpr(ob.Property)
			if err != nil {
				return err
			}
			p, err := d.prop(e, true)
			if err != nil {
				return d.lineErr(s, err)
			}
			d.site(ob.ID, d.emit(depth, "assert %s;", p))
		}
		d.emit(depth, "return;")
	case extractor.StmtIf:
		c, err := d.prop(s.Cond, true)
		if err != nil {
			return d.lineErr(s, err)
		}
		d.emit(depth, "if %s {", c)
		if err := d.block(s.Then, depth+1); err != nil {
			return err
		}
		if len(s.Else) > 0 {
			d.emit(depth, "} else {")
			if err := d.block(s.Else, depth+1); err != nil {
				return err
			}
		}
		d.emit(depth, "}")
	case extractor.StmtFor:
		return d.forLoop(s, depth)
	case extractor.StmtWhile:
		return d.whileLoop(s, depth)
	case extractor.StmtExpr:
		return d.insertion(s, depth)
	default:
		return d.fail("line %d: statement has no Dafny rendering", s.Line)
	}
	return nil
}

func (d *dafnyCtx) lineErr(s *extractor.Stmt, err error) error {
	return &TranslationError{Translator: route.LoopSpecialist, Reason: "line " + strconv.Itoa(s.Line), Err: err}
}

func (d *dafnyCtx) local(n string) string {
	if r, ok := d.renames[n]; ok {
		return r
	}
	return DafnyIdent(n)
}

func (d *dafnyCtx) insertion(s *extractor.Stmt, depth int) error {
	call := s.Value
	if call == nil || call.Kind != extractor.ExprMethodCall || call.Args[0].Kind != extractor.ExprName {
		return d.fail("line %d: expression statement has no Dafny rendering", s.Line)
	}
	recv := d.local(call.Args[0].Name)
	args := make([]string, 0, len(call.Args)-1)
	for _, a := range call.Args[1:] {
		t, err := d.term(a, true)
		if err != nil {
			return d.lineErr(s, err)
		}
		args = append(args, t)
	}
	switch {
	case call.Name == "append" && len(args) == 1:
		d.emit(depth, "%s := %s + [%s];", recv, recv, args[0])
	case call.Name == "insert" && len(args) == 2:
		d.emit(depth, "%s := %s[..%s] + [%s] + %s[%s..];", recv, recv, args[0], args[1], recv, args[0])
	default:
		return d.fail("line %d: unsupported call %s", s.Line, call.Name)
	}
	return nil
}

// loopInvariants returns the goal invariants for loops whose body writes a
// variable that carries one.
func (d *dafnyCtx) loopInvariants(body []*extractor.Stmt) []dafnyInvariant {
	var out []dafnyInvariant
	for _, n := range mutatedNames(body) {
		out = append(out, d.invariants[n]...)
	}
	return out
}

func (d *dafnyCtx) emitInvariants(body []*extractor.Stmt, depth int) {
	for _, inv := range d.loopInvariants(body) {
		d.site(inv.obligation, d.emit(depth, "invariant %s", inv.text))
	}
}

func (d *dafnyCtx) forLoop(s *extractor.Stmt, depth int) error {
	d.counter++
	k := fmt.Sprintf("argus_i%d", d.counter)
	v := d.local(s.LoopVar)
	if s.Iter == nil {
		return d.fail("line %d: loop without iterable", s.Line)
	}

	switch {
	case s.Iter.Kind == extractor.ExprCall && s.Iter.Name == "range" && (len(s.Iter.Args) == 1 || len(s.Iter.Args) == 2):
		lo, hi := "0", ""
		var err error
		if len(s.Iter.Args) == 2 {
			if lo, err = d.term(s.Iter.Args[0], true); err != nil {
				return d.lineErr(s, err)
			}
		}
		if hi, err = d.term(s.Iter.Args[len(s.Iter.Args)-1], true); err != nil {
			return d.lineErr(s, err)
		}
		d.emit(depth, "%s := %s;", k, lo)
		d.emit(depth, "while %s < %s", k, hi)
		d.emit(depth+1, "invariant %s <= %s", lo, k)
		d.emit(depth+1, "invariant %s <= %s || %s == %s", k, hi, k, lo)
		d.emitInvariants(s.Body, depth+1)
		d.emit(depth+1, "decreases %s - %s", hi, k)
	case s.Iter.Kind == extractor.ExprName && d.types[s.Iter.Name] == "seq<int>":
		xs := d.local(s.Iter.Name)
		d.emit(depth, "%s := 0;", k)
		d.emit(depth, "while %s < |%s|", k, xs)
		d.emit(depth+1, "invariant 0 <= %s <= |%s|", k, xs)
		d.emitInvariants(s.Body, depth+1)
		d.emit(depth+1, "decreases |%s| - %s", xs, k)
		d.emit(depth, "{")
		d.emit(depth+1, "%s := %s[%s];", v, xs, k)
		d.emit(depth+1, "%s := %s + 1;", k, k)
		if err := d.block(s.Body, depth+1); err != nil {
			return err
		}
		d.emit(depth, "}")
		return nil
	default:
		return d.fail("line %d: cannot iterate over %q", s.Line, s.Iter.String())
	}

	d.emit(depth, "{")
	d.emit(depth+1, "%s := %s;", v, k)
	d.emit(depth+1, "%s := %s + 1;", k, k)
	if err := d.block(s.Body, depth+1); err != nil {
		return err
	}
	d.emit(depth, "}")
	return nil
}

func (d *dafnyCtx) whileLoop(s *extractor.Stmt, depth int) error {
	measure, err := d.measure(s)
	if err != nil {
		return err
	}
	c, err := d.prop(s.Cond, true)
	if err != nil {
		return d.lineErr(s, err)
	}
	d.emit(depth, "while %s", c)
	d.emitInvariants(s.Body, depth+1)
	d.emit(depth+1, "decreases %s", measure)
	d.emit(depth, "{")
	if err := d.block(s.Body, depth+1); err != nil {
		return err
	}
	d.emit(depth, "}")
	return nil
}

// measure synthesizes a decreasing expression from a guard `x < e`, `x <= e`,
// `x > e` or `x >= e` whose variable moves toward the bound by a positive
// constant step in the loop body.
func (d *dafnyCtx) measure(s *extractor.Stmt) (string, error) {
	c := s.Cond
	if c == nil || c.Kind != extractor.ExprCompare || len(c.Ops) != 1 {
		return "", d.fail("line %d: cannot synthesize a decreasing measure for %q", s.Line, c.String())
	}
	op, l, r := c.Ops[0], c.Args[0], c.Args[1]
	if l.Kind != extractor.ExprName {
		op, l, r = flip(op), r, l
	}
	if l.Kind != extractor.ExprName {
		return "", d.fail("line %d: loop guard has no variable side", s.Line)
	}
	x := l.Name
	up := steps(s.Body, x, "+")
	down := steps(s.Body, x, "-")
	bound, err := d.term(r, true)
	if err != nil {
		return "", d.lineErr(s, err)
	}
	xv := d.local(x)
	switch {
	case op == "<" && up && !down:
		return fmt.Sprintf("%s - %s", bound, xv), nil
	case op == "<=" && up && !down:
		return fmt.Sprintf("%s - %s + 1", bound, xv), nil
	case op == ">" && down && !up:
		return fmt.Sprintf("%s - %s", xv, bound), nil
	case op == ">=" && down && !up:
		return fmt.Sprintf("%s - %s + 1", xv, bound), nil
	}
	return "", d.fail("line %d: cannot synthesize a decreasing measure for %q", s.Line, c.String())
}

func flip(op string) string {
	switch op {
	case "<":
		return ">"
	case "<=":
		return ">="
	case ">":
		return "<"
	case ">=":
		return "<="
	}
	return op
}

// steps reports whether body moves x by a positive constant with op.
func steps(body []*extractor.Stmt, x, op string) bool {
	found := false
	extractor.WalkStmts(body, func(s *extractor.Stmt) {
		switch {
		case s.Kind == extractor.StmtAugAssign && s.Target == x && s.Op == op:
			found = found || (s.Value.Kind == extractor.ExprInt && s.Value.Value > 0)
		case s.Kind == extractor.StmtAssign && s.Target == x && s.Value.Kind == extractor.ExprBinOp && s.Value.Op == op:
			a, b := s.Value.Args[0], s.Value.Args[1]
			found = found || (a.Kind == extractor.ExprName && a.Name == x && b.Kind == extractor.ExprInt && b.Value > 0)
		}
	})
	return found
}

var dafnyCompare = map[string]string{
	"<": "<", "<=": "<=", ">": ">", ">=": ">=", "==": "==", "!=": "!=", "in": "in", "not in": "!in",
}

// prop renders a boolean expression. Inside the body, mutated parameters
// resolve to their local copies; in contracts they keep their own names.
func (d *dafnyCtx) prop(e *extractor.Expr, body bool) (string, error) {
	switch e.Kind {
	case extractor.ExprCompare:
		var parts []string
		for i, op := range e.Ops {
			sym, ok := dafnyCompare[op]
			if !ok {
				return "", fmt.Errorf("unsupported comparison %q", op)
			}
			l, err := d.term(e.Args[i], body)
			if err != nil {
				return "", err
			}
			r, err := d.term(e.Args[i+1], body)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s %s %s", l, sym, r))
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return "(" + strings.Join(parts, " && ") + ")", nil
	case extractor.ExprBoolOp:
		l, err := d.prop(e.Args[0], body)
		if err != nil {
			return "", err
		}
		r, err := d.prop(e.Args[1], body)
		if err != nil {
			return "", err
		}
		op := "&&"
		if e.Op == "or" {
			op = "||"
		}
		return fmt.Sprintf("(%s %s %s)", l, op, r), nil
	case extractor.ExprNot:
		p, err := d.prop(e.Args[0], body)
		if err != nil {
			return "", err
		}
		return "!" + wrap(p), nil
	case extractor.ExprCall:
		switch {
		case e.Name == "implies" && len(e.Args) == 2:
			l, err := d.prop(e.Args[0], body)
			if err != nil {
				return "", err
			}
			r, err := d.prop(e.Args[1], body)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("(%s ==> %s)", l, r), nil
		case e.Name == "distinct" && len(e.Args) == 1:
			t, err := d.term(e.Args[0], body)
			if err != nil {
				return "", err
			}
			return "Distinct(" + t + ")", nil
		}
	}
	return d.term(e, body)
}

func (d *dafnyCtx) term(e *extractor.Expr, body bool) (string, error) {
	switch e.Kind {
	case extractor.ExprName:
		if e.Name == policy.ResultName {
			return "result", nil
		}
		if body {
			return d.local(e.Name), nil
		}
		return DafnyIdent(e.Name), nil
	case extractor.ExprInt:
		if e.Value < 0 {
			return "(" + strconv.FormatInt(e.Value, 10) + ")", nil
		}
		return strconv.FormatInt(e.Value, 10), nil
	case extractor.ExprBool:
		if e.Value != 0 {
			return "true", nil
		}
		return "false", nil
	case extractor.ExprNeg:
		a, err := d.term(e.Args[0], body)
		if err != nil {
			return "", err
		}
		return "(-" + a + ")", nil
	case extractor.ExprBinOp:
		l, err := d.term(e.Args[0], body)
		if err != nil {
			return "", err
		}
		r, err := d.term(e.Args[1], body)
		if err != nil {
			return "", err
		}
		positive := e.Args[1].Kind == extractor.ExprInt && e.Args[1].Value > 0
		switch {
		case e.Op == "+" || e.Op == "-" || e.Op == "*":
			return fmt.Sprintf("(%s %s %s)", l, e.Op, r), nil
		case e.Op == "//" && positive:
			return fmt.Sprintf("(%s / %s)", l, r), nil
		case e.Op == "%" && positive:
			return fmt.Sprintf("(%s %% %s)", l, r), nil
		}
		return "", fmt.Errorf("no Dafny rendering for operator %q", e.Op)
	case extractor.ExprCall:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			s, err := d.term(a, body)
			if err != nil {
				return "", err
			}
			args[i] = s
		}
		switch {
		case e.Name == "len" && len(args) == 1:
			return "|" + args[0] + "|", nil
		case e.Name == "abs" && len(args) == 1:
			return fmt.Sprintf("(if %s < 0 then -%s else %s)", args[0], args[0], args[0]), nil
		case e.Name == "min" && len(args) == 2:
			return fmt.Sprintf("(if %s <= %s then %s else %s)", args[0], args[1], args[0], args[1]), nil
		case e.Name == "max" && len(args) == 2:
			return fmt.Sprintf("(if %s <= %s then %s else %s)", args[0], args[1], args[1], args[0]), nil
		}
		return "", fmt.Errorf("no Dafny rendering for call %q", e.String())
	case extractor.ExprSubscript:
		base, idx := e.Args[0], e.Args[1]
		if base.Kind == extractor.ExprName && base.Name == policy.ResultName && idx.Kind == extractor.ExprInt && (idx.Value == 0 || idx.Value == 1) {
			return fmt.Sprintf("result.%d", idx.Value), nil
		}
		b, err := d.term(base, body)
		if err != nil {
			return "", err
		}
		i, err := d.term(idx, body)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s[%s]", b, i), nil
	case extractor.ExprCond:
		c, err := d.prop(e.Args[0], body)
		if err != nil {
			return "", err
		}
		a, err := d.term(e.Args[1], body)
		if err != nil {
			return "", err
		}
		b, err := d.term(e.Args[2], body)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(if %s then %s else %s)", c, a, b), nil
	case extractor.ExprTuple:
		if len(e.Args) != 2 {
			return "", fmt.Errorf("only pairs are supported, got %q", e.String())
		}
		a, err := d.term(e.Args[0], body)
		if err != nil {
			return "", err
		}
		b, err := d.term(e.Args[1], body)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s, %s)", a, b), nil
	case extractor.ExprList, extractor.ExprSet:
		items := make([]string, len(e.Args))
		for i, a := range e.Args {
			s, err := d.term(a, body)
			if err != nil {
				return "", err
			}
			items[i] = s
		}
		if e.Kind == extractor.ExprSet {
			return "{" + strings.Join(items, ", ") + "}", nil
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	case extractor.ExprCompare, extractor.ExprBoolOp, extractor.ExprNot:
		return d.prop(e, body)
	}
	return "", fmt.Errorf("no Dafny rendering for %q", e.String())
}
