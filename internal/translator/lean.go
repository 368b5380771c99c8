package translator

import (
	"fmt"
	"strconv"
	"strings"

	"argus/internal/extractor"
	"argus/internal/policy"
	"argus/internal/property"
)

var leanKeywords = map[string]bool{
	"at": true, "by": true, "def": true, "do": true, "else": true, "end": true,
	"fun": true, "have": true, "if": true, "in": true, "let": true, "match": true,
	"open": true, "show": true, "then": true, "theorem": true, "with": true,
	"where": true, "from": true, "Type": true, "Prop": true, "Sort": true,
	"namespace": true, "section": true, "variable": true, "structure": true,
	"instance": true, "deriving": true, "mutual": true, "universe": true,
	"example": true, "lemma": true, "axiom": true, "abbrev": true, "class": true,
	"inductive": true, "opaque": true, "macro": true, "syntax": true, "elab": true,
	"notation": true, "infix": true, "infixl": true, "infixr": true, "prefix": true,
	"postfix": true, "attribute": true, "import": true, "export": true,
	"initialize": true, "partial": true, "unsafe": true, "noncomputable": true,
	"run_cmd": true, "set_option": true, "extern": true,
}

// LeanIdent quotes n when it is a Lean keyword.
func LeanIdent(n string) string {
	if leanKeywords[n] {
		return "«" + n + "»"
	}
	return n
}

// LeanType maps a Python annotation to a Lean type.
func LeanType(t string) (string, error) {
	switch {
	case t == "bool":
		return "Bool", nil
	case policy.IsIntType(t):
		return "Int", nil
	case policy.IsIntPair(t):
		return "Int × Int", nil
	}
	for _, p := range []string{"List", "list", "Sequence", "typing.List"} {
		if t == p+"[int]" {
			return "List Int", nil
		}
	}
	return "", fmt.Errorf("no Lean rendering for type %q", t)
}

// leanCtx carries what the renderer needs to know about the function.
type leanCtx struct {
	fn     string
	params []extractor.Param
	ret    string
	types  map[string]string
}

func newLeanCtx(u *extractor.CodeUnit) (*leanCtx, error) {
	c := &leanCtx{fn: u.Name, params: u.Params, ret: u.ReturnType, types: map[string]string{}}
	for _, p := range u.Params {
		lt, err := LeanType(p.Type)
		if err != nil {
			return nil, err
		}
		c.types[p.Name] = lt
	}
	if _, err := LeanType(u.ReturnType); err != nil {
		return nil, err
	}
	return c, nil
}

// call renders the function applied to its parameters.
func (c *leanCtx) call() string {
	parts := []string{LeanIdent(c.fn)}
	for _, p := range c.params {
		parts = append(parts, LeanIdent(p.Name))
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// binders renders explicit parameter binders.
func (c *leanCtx) binders() string {
	var sb strings.Builder
	for _, p := range c.params {
		fmt.Fprintf(&sb, " (%s : %s)", LeanIdent(p.Name), c.types[p.Name])
	}
	return sb.String()
}

// Signature renders `def f (a : Int) ... : T`.
func (c *leanCtx) signature() string {
	rt, _ := LeanType(c.ret)
	return fmt.Sprintf("def %s%s : %s", LeanIdent(c.fn), c.binders(), rt)
}

var leanCompare = map[string]string{
	"<": "<", "<=": "≤", ">": ">", ">=": "≥", "==": "=", "!=": "≠",
}

// prop renders e in proposition position.
func (c *leanCtx) prop(e *extractor.Expr) (string, error) {
	switch e.Kind {
	case extractor.ExprBool:
		if e.Value != 0 {
			return "True", nil
		}
		return "False", nil
	case extractor.ExprCompare:
		var parts []string
		for i, op := range e.Ops {
			l, r := e.Args[i], e.Args[i+1]
			s, err := c.compare(op, l, r)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return "(" + strings.Join(parts, " ∧ ") + ")", nil
	case extractor.ExprBoolOp:
		l, err := c.prop(e.Args[0])
		if err != nil {
			return "", err
		}
		r, err := c.prop(e.Args[1])
		if err != nil {
			return "", err
		}
		op := "∧"
		if e.Op == "or" {
			op = "∨"
		}
		return fmt.Sprintf("(%s %s %s)", l, op, r), nil
	case extractor.ExprNot:
		p, err := c.prop(e.Args[0])
		if err != nil {
			return "", err
		}
		return "¬" + wrap(p), nil
	case extractor.ExprCall:
		switch {
		case e.Name == "implies" && len(e.Args) == 2:
			l, err := c.prop(e.Args[0])
			if err != nil {
				return "", err
			}
			r, err := c.prop(e.Args[1])
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("(%s → %s)", l, r), nil
		case e.Name == "distinct" && len(e.Args) == 1:
			t, err := c.term(e.Args[0])
			if err != nil {
				return "", err
			}
			return t + ".Nodup", nil
		}
	}
	t, err := c.term(e)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s = true)", t), nil
}

func (c *leanCtx) compare(op string, l, r *extractor.Expr) (string, error) {
	lt, err := c.term(l)
	if err != nil {
		return "", err
	}
	if op == "in" || op == "not in" {
		if r.Kind != extractor.ExprSet && r.Kind != extractor.ExprTuple && r.Kind != extractor.ExprList {
			return "", fmt.Errorf("membership needs a literal collection, got %q", r.String())
		}
		if len(r.Args) == 0 {
			if op == "in" {
				return "False", nil
			}
			return "True", nil
		}
		var alts []string
		for _, a := range r.Args {
			at, err := c.term(a)
			if err != nil {
				return "", err
			}
			alts = append(alts, fmt.Sprintf("%s = %s", lt, at))
		}
		s := "(" + strings.Join(alts, " ∨ ") + ")"
		if op == "not in" {
			s = "¬" + s
		}
		return s, nil
	}
	sym, ok := leanCompare[op]
	if !ok {
		return "", fmt.Errorf("unsupported comparison %q", op)
	}
	rt, err := c.term(r)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", lt, sym, rt), nil
}

// term renders e in value position.
func (c *leanCtx) term(e *extractor.Expr) (string, error) {
	switch e.Kind {
	case extractor.ExprName:
		if e.Name == policy.ResultName {
			return c.call(), nil
		}
		return LeanIdent(e.Name), nil
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
		a, err := c.term(e.Args[0])
		if err != nil {
			return "", err
		}
		return "(-" + a + ")", nil
	case extractor.ExprBinOp:
		return c.binop(e)
	case extractor.ExprCall:
		return c.builtin(e)
	case extractor.ExprSubscript:
		base, idx := e.Args[0], e.Args[1]
		if base.Kind == extractor.ExprName && base.Name == policy.ResultName && policy.IsIntPair(c.ret) && idx.Kind == extractor.ExprInt {
			switch idx.Value {
			case 0:
				return c.call() + ".1", nil
			case 1:
				return c.call() + ".2", nil
			}
		}
		return "", fmt.Errorf("no Lean rendering for subscript %q", e.String())
	case extractor.ExprCond:
		cond, err := c.prop(e.Args[0])
		if err != nil {
			return "", err
		}
		a, err := c.term(e.Args[1])
		if err != nil {
			return "", err
		}
		b, err := c.term(e.Args[2])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(if %s then %s else %s)", cond, a, b), nil
	case extractor.ExprTuple:
		if len(e.Args) != 2 {
			return "", fmt.Errorf("only pairs are supported, got %q", e.String())
		}
		a, err := c.term(e.Args[0])
		if err != nil {
			return "", err
		}
		b, err := c.term(e.Args[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s, %s)", a, b), nil
	case extractor.ExprCompare, extractor.ExprBoolOp, extractor.ExprNot:
		p, err := c.prop(e)
		if err != nil {
			return "", err
		}
		return "(decide " + wrap(p) + ")", nil
	}
	return "", fmt.Errorf("no Lean rendering for %q", e.String())
}

func (c *leanCtx) binop(e *extractor.Expr) (string, error) {
	l, err := c.term(e.Args[0])
	if err != nil {
		return "", err
	}
	r, err := c.term(e.Args[1])
	if err != nil {
		return "", err
	}
	positiveLiteral := e.Args[1].Kind == extractor.ExprInt && e.Args[1].Value > 0
	switch e.Op {
	case "+", "-", "*":
		return fmt.Sprintf("(%s %s %s)", l, e.Op, r), nil
	case "//":
		// Int `/` is Euclidean, which agrees with floor division only for a
		// positive divisor.
		if positiveLiteral {
			return fmt.Sprintf("(%s / %s)", l, r), nil
		}
		return fmt.Sprintf("(Int.fdiv %s %s)", l, r), nil
	case "%":
		if positiveLiteral {
			return fmt.Sprintf("(%s %% %s)", l, r), nil
		}
		return fmt.Sprintf("(Int.fmod %s %s)", l, r), nil
	}
	return "", fmt.Errorf("unsupported operator %q", e.Op)
}

func (c *leanCtx) builtin(e *extractor.Expr) (string, error) {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		s, err := c.term(a)
		if err != nil {
			return "", err
		}
		args[i] = s
	}
	switch {
	case e.Name == "len" && len(args) == 1:
		return fmt.Sprintf("(%s.length : Int)", args[0]), nil
	case e.Name == "abs" && len(args) == 1:
		return fmt.Sprintf("(if %s < 0 then -%s else %s)", args[0], args[0], args[0]), nil
	case e.Name == "min" && len(args) == 2:
		return fmt.Sprintf("(if %s ≤ %s then %s else %s)", args[0], args[1], args[0], args[1]), nil
	case e.Name == "max" && len(args) == 2:
		return fmt.Sprintf("(if %s ≤ %s then %s else %s)", args[0], args[1], args[1], args[0]), nil
	}
	return "", fmt.Errorf("no Lean rendering for call %q", e.String())
}

// wrap parenthesizes s unless a single pair of parentheses already encloses it.
func wrap(s string) string {
	if enclosed(s) {
		return s
	}
	return "(" + s + ")"
}

func enclosed(s string) bool {
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return false
	}
	depth := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(s)-1 {
				return false
			}
		}
	}
	return depth == 0
}

// DefaultLeanTactic closes goals over if-then-else integer definitions.
const DefaultLeanTactic = `by
  unfold %s
  repeat' split
  all_goals (try dsimp only at *)
  all_goals first | omega | simp_all | decide`

func defaultProof(fn string) string {
	return fmt.Sprintf(DefaultLeanTactic, LeanIdent(fn))
}

// LeanStatement renders the statement of the theorem that encodes ob,
// with every assumption of the set as a hypothesis binder.
func LeanStatement(u *extractor.CodeUnit, set *property.Set, ob property.Obligation) (string, error) {
	c, err := newLeanCtx(u)
	if err != nil {
		return "", err
	}
	return c.statement(set, ob)
}

func (c *leanCtx) statement(set *property.Set, ob property.Obligation) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "theorem %s%s", ob.ID, c.binders())
	for _, a := range set.Assumptions {
		e, err := extractor.ParseExpr(a.Property)
		if err != nil {
			return "", fmt.Errorf("assumption %s: %w", a.ID, err)
		}
		h, err := c.prop(e)
		if err != nil {
			return "", fmt.Errorf("assumption %s: %w", a.ID, err)
		}
		fmt.Fprintf(&sb, " (h_%s : %s)", a.ID, h)
	}
	e, err := extractor.ParseExpr(ob.Property)
	if err != nil {
		return "", fmt.Errorf("obligation %s: %w", ob.ID, err)
	}
	g, err := c.prop(e)
	if err != nil {
		return "", fmt.Errorf("obligation %s: %w", ob.ID, err)
	}
	fmt.Fprintf(&sb, " : %s", g)
	return sb.String(), nil
}

// assembleLean lays out header, definition and one theorem per obligation,
// recording each theorem's line span.
func assembleLean(c *leanCtx, k kindedSet, definition string, proofs map[string]string) (string, []GoalSite, error) {
	var sb strings.Builder
	sb.WriteString(RenderManifest(k.engine, k.kind, k.set))
	sb.WriteString("\n")
	sb.WriteString(strings.TrimRight(definition, "\n"))
	sb.WriteString("\n")

	var goals []GoalSite
	for _, ob := range k.set.Obligations {
		stmt, err := c.statement(k.set, ob)
		if err != nil {
			return "", nil, err
		}
		proof := proofs[ob.ID]
		if strings.TrimSpace(proof) == "" {
			proof = defaultProof(c.fn)
		}
		sb.WriteString("\n")
		start := strings.Count(sb.String(), "\n") + 1
		fmt.Fprintf(&sb, "%s := %s\n", stmt, strings.TrimSpace(proof))
		end := strings.Count(sb.String(), "\n")
		lines := make([]int, 0, end-start+1)
		for l := start; l <= end; l++ {
			lines = append(lines, l)
		}
		goals = append(goals, GoalSite{ObligationID: ob.ID, Lines: lines})
	}
	return sb.String(), goals, nil
}
