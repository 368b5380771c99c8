package extractor

import (
	"sort"
	"strconv"
	"strings"
)

// ExprKind tags the normalized expression forms the pipeline understands.
type ExprKind int

const (
	ExprUnknown ExprKind = iota
	ExprName
	ExprInt
	ExprBool
	ExprBinOp   // Args[0] Op Args[1]
	ExprCompare // Args[0] Ops[0] Args[1] Ops[1] Args[2] ...
	ExprBoolOp  // Args[0] Op Args[1]
	ExprNot
	ExprNeg
	ExprCall // Name(Args...)
	ExprMethodCall
	ExprSubscript // Args[0][Args[1]]
	ExprTuple
	ExprList
	ExprSet
	ExprCond // Args[1] if Args[0] else Args[2]
	ExprFloat
	ExprString
	ExprNone
	ExprComprehension
)

// Expr is a normalized Python expression. Unknown expressions keep their raw
// text so callers can report them, but nothing downstream renders them.
type Expr struct {
	Kind  ExprKind `json:"kind"`
	Op    string   `json:"op,omitempty"`
	Ops   []string `json:"ops,omitempty"`
	Name  string   `json:"name,omitempty"`
	Value int64    `json:"value,omitempty"`
	Args  []*Expr  `json:"args,omitempty"`
	Raw   string   `json:"raw,omitempty"`
}

// StmtKind tags normalized statements.
type StmtKind int

const (
	StmtOther StmtKind = iota
	StmtReturn
	StmtIf
	StmtAssign
	StmtAugAssign
	StmtFor
	StmtWhile
	StmtExpr
	StmtPass
	StmtRaise
	StmtAssert
	StmtBreak
	StmtContinue
)

// Stmt is a normalized statement. Only simple-name assignment targets are
// representable; anything else lands in StmtOther with Raw set.
type Stmt struct {
	Kind    StmtKind `json:"kind"`
	Target  string   `json:"target,omitempty"`
	Op      string   `json:"op,omitempty"`
	Value   *Expr    `json:"value,omitempty"`
	Cond    *Expr    `json:"cond,omitempty"`
	Then    []*Stmt  `json:"then,omitempty"`
	Else    []*Stmt  `json:"else,omitempty"`
	LoopVar string   `json:"loop_var,omitempty"`
	Iter    *Expr    `json:"iter,omitempty"`
	Body    []*Stmt  `json:"body,omitempty"`
	Line    int      `json:"line"`
	Raw     string   `json:"raw,omitempty"`
}

func Name(n string) *Expr { return &Expr{Kind: ExprName, Name: n} }

func Int(v int64) *Expr { return &Expr{Kind: ExprInt, Value: v} }

func BinOp(op string, l, r *Expr) *Expr {
	return &Expr{Kind: ExprBinOp, Op: op, Args: []*Expr{l, r}}
}

func Compare(op string, l, r *Expr) *Expr {
	return &Expr{Kind: ExprCompare, Ops: []string{op}, Args: []*Expr{l, r}}
}

func Call(fn string, args ...*Expr) *Expr {
	return &Expr{Kind: ExprCall, Name: fn, Args: args}
}

func Cond(c, then, els *Expr) *Expr {
	return &Expr{Kind: ExprCond, Args: []*Expr{c, then, els}}
}

// Clone returns a deep copy.
func (e *Expr) Clone() *Expr {
	if e == nil {
		return nil
	}
	out := *e
	if e.Ops != nil {
		out.Ops = append([]string(nil), e.Ops...)
	}
	if e.Args != nil {
		out.Args = make([]*Expr, len(e.Args))
		for i, a := range e.Args {
			out.Args[i] = a.Clone()
		}
	}
	return &out
}

// Walk visits e and every sub-expression in pre-order.
func (e *Expr) Walk(fn func(*Expr)) {
	if e == nil {
		return
	}
	fn(e)
	for _, a := range e.Args {
		a.Walk(fn)
	}
}

// Names returns the sorted set of free variable names referenced by e.
func (e *Expr) Names() []string {
	seen := map[string]bool{}
	e.Walk(func(x *Expr) {
		if x.Kind == ExprName {
			seen[x.Name] = true
		}
	})
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Subst replaces free names according to env. The receiver is not modified.
func (e *Expr) Subst(env map[string]*Expr) *Expr {
	if e == nil {
		return nil
	}
	if e.Kind == ExprName {
		if v, ok := env[e.Name]; ok {
			return v.Clone()
		}
		return e.Clone()
	}
	out := *e
	if e.Args != nil {
		out.Args = make([]*Expr, len(e.Args))
		for i, a := range e.Args {
			out.Args[i] = a.Subst(env)
		}
	}
	return &out
}

// Equal reports structural equality.
func (e *Expr) Equal(o *Expr) bool {
	return e.String() == o.String()
}

// String prints e as normalized Python. Nested operators are always
// parenthesized so the printed form is a canonical key.
func (e *Expr) String() string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	e.print(&sb)
	return sb.String()
}

func (e *Expr) print(sb *strings.Builder) {
	switch e.Kind {
	case ExprName:
		sb.WriteString(e.Name)
	case ExprInt:
		sb.WriteString(strconv.FormatInt(e.Value, 10))
	case ExprBool:
		if e.Value != 0 {
			sb.WriteString("True")
		} else {
			sb.WriteString("False")
		}
	case ExprNone:
		sb.WriteString("None")
	case ExprBinOp, ExprBoolOp:
		e.Args[0].printOperand(sb)
		sb.WriteString(" " + e.Op + " ")
		e.Args[1].printOperand(sb)
	case ExprCompare:
		e.Args[0].printOperand(sb)
		for i, op := range e.Ops {
			sb.WriteString(" " + op + " ")
			e.Args[i+1].printOperand(sb)
		}
	case ExprNot:
		sb.WriteString("not ")
		e.Args[0].printOperand(sb)
	case ExprNeg:
		sb.WriteString("-")
		e.Args[0].printOperand(sb)
	case ExprCall:
		sb.WriteString(e.Name)
		printList(sb, "(", e.Args, ")")
	case ExprMethodCall:
		e.Args[0].printOperand(sb)
		sb.WriteString("." + e.Name)
		printList(sb, "(", e.Args[1:], ")")
	case ExprSubscript:
		e.Args[0].printOperand(sb)
		sb.WriteString("[")
		e.Args[1].print(sb)
		sb.WriteString("]")
	case ExprTuple:
		printList(sb, "(", e.Args, ")")
	case ExprList:
		printList(sb, "[", e.Args, "]")
	case ExprSet:
		printList(sb, "{", e.Args, "}")
	case ExprCond:
		e.Args[1].printOperand(sb)
		sb.WriteString(" if ")
		e.Args[0].printOperand(sb)
		sb.WriteString(" else ")
		e.Args[2].printOperand(sb)
	default:
		sb.WriteString(strings.Join(strings.Fields(e.Raw), " "))
	}
}

func (e *Expr) printOperand(sb *strings.Builder) {
	switch e.Kind {
	case ExprBinOp, ExprBoolOp, ExprCompare, ExprCond, ExprNot, ExprNeg:
		sb.WriteString("(")
		e.print(sb)
		sb.WriteString(")")
	default:
		e.print(sb)
	}
}

func printList(sb *strings.Builder, open string, args []*Expr, close string) {
	sb.WriteString(open)
	for i, a := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		a.print(sb)
	}
	sb.WriteString(close)
}

// WalkStmts visits every statement (including nested blocks) in pre-order.
func WalkStmts(stmts []*Stmt, fn func(*Stmt)) {
	for _, s := range stmts {
		fn(s)
		WalkStmts(s.Then, fn)
		WalkStmts(s.Else, fn)
		WalkStmts(s.Body, fn)
	}
}

// Exprs returns the expressions owned directly by s.
func (s *Stmt) Exprs() []*Expr {
	var out []*Expr
	for _, e := range []*Expr{s.Value, s.Cond, s.Iter} {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// AssignedNames returns the sorted set of names assigned anywhere in stmts,
// including loop variables.
func AssignedNames(stmts []*Stmt) []string {
	seen := map[string]bool{}
	WalkStmts(stmts, func(s *Stmt) {
		switch s.Kind {
		case StmtAssign, StmtAugAssign:
			if s.Target != "" {
				seen[s.Target] = true
			}
		case StmtFor:
			if s.LoopVar != "" {
				seen[s.LoopVar] = true
			}
		}
	})
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
