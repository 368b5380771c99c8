package extractor

import "strings"

var collectionTypePrefixes = []string{
	"list", "List", "set", "Set", "dict", "Dict", "Sequence", "Iterable",
	"frozenset", "FrozenSet", "Mapping", "MutableSequence",
}

// IsCollectionType reports whether a type annotation names a collection.
func IsCollectionType(t string) bool {
	for _, p := range collectionTypePrefixes {
		if t == p || strings.HasPrefix(t, p+"[") || strings.HasPrefix(t, "typing."+p) {
			return true
		}
	}
	return false
}

// analyze derives the structural feature summary of a unit. It only reads
// the normalized body, so it must run after conversion.
func analyze(u *CodeUnit) Features {
	var f Features

	for _, p := range u.Params {
		if IsCollectionType(p.Type) {
			f.HasCollection = true
		}
		if p.Type == "float" {
			f.HasFloat = true
		}
	}
	if IsCollectionType(u.ReturnType) {
		f.HasCollection = true
	}
	if u.ReturnType == "float" {
		f.HasFloat = true
	}

	WalkStmts(u.Body, func(s *Stmt) {
		switch s.Kind {
		case StmtFor, StmtWhile:
			f.HasLoop = true
		case StmtRaise, StmtAssert:
			f.HasRaise = true
		case StmtReturn:
			f.Returns = append(f.Returns, s.Value)
		case StmtAugAssign:
			if s.Op == "-" {
				f.HasSubtraction = true
			}
			if s.Op == "/" {
				f.HasFloat = true
			}
		case StmtAssign:
			if s.Value != nil && s.Value.Kind == ExprBinOp && s.Value.Op == "+" {
				l, r := s.Value.Args[0], s.Value.Args[1]
				if l.Kind == ExprName && l.Name == s.Target && r.Kind == ExprList {
					f.Appends = append(f.Appends, AppendSite{Collection: s.Target, Method: "concat", Line: s.Line})
				}
			}
		}
		for _, e := range s.Exprs() {
			e.Walk(func(x *Expr) {
				switch x.Kind {
				case ExprBinOp:
					switch x.Op {
					case "-":
						f.HasSubtraction = true
					case "/":
						f.HasFloat = true
					}
				case ExprNeg:
					f.HasSubtraction = true
				case ExprFloat:
					f.HasFloat = true
				case ExprList, ExprSet:
					f.HasCollection = true
				case ExprSubscript:
					f.HasSubscript = true
					f.HasCollection = true
				case ExprComprehension:
					f.HasComprehension = true
					f.HasCollection = true
				case ExprMethodCall:
					f.HasSideEffect = true
					f.HasCollection = true
					if recv := x.Args[0]; recv.Kind == ExprName {
						f.Appends = append(f.Appends, AppendSite{Collection: recv.Name, Method: x.Name, Line: s.Line})
					}
				case ExprCall:
					if x.Name == "len" {
						f.HasCollection = true
					}
				}
			})
		}
	})

	f.Subscripts = subscriptSites(u.Body, nil)
	return f
}

// subscriptSites collects indexing expressions with the if-conditions that
// dominate them, including guards whose branch always exits. Loop headers do
// not contribute to the path condition.
func subscriptSites(stmts []*Stmt, pc []*Expr) []SubscriptSite {
	var out []SubscriptSite
	pc = cloneAll(pc)
	for _, s := range stmts {
		for _, e := range s.Exprs() {
			e.Walk(func(x *Expr) {
				if x.Kind != ExprSubscript || x.Args[0].Kind != ExprName {
					return
				}
				out = append(out, SubscriptSite{
					Collection: x.Args[0].Name,
					Index:      x.Args[1].Clone(),
					PathCond:   cloneAll(pc),
					Line:       s.Line,
				})
			})
		}
		switch s.Kind {
		case StmtIf:
			neg := Negate(s.Cond)
			out = append(out, subscriptSites(s.Then, append(cloneAll(pc), s.Cond.Clone()))...)
			out = append(out, subscriptSites(s.Else, append(cloneAll(pc), neg))...)
			switch {
			case Terminates(s.Then) && !Terminates(s.Else):
				pc = append(pc, neg.Clone())
			case Terminates(s.Else) && !Terminates(s.Then):
				pc = append(pc, s.Cond.Clone())
			}
		case StmtFor, StmtWhile:
			out = append(out, subscriptSites(s.Body, pc)...)
		}
	}
	return out
}

// Terminates reports whether every path through stmts ends in a return or
// raise.
func Terminates(stmts []*Stmt) bool {
	if len(stmts) == 0 {
		return false
	}
	last := stmts[len(stmts)-1]
	switch last.Kind {
	case StmtReturn, StmtRaise:
		return true
	case StmtIf:
		return Terminates(last.Then) && Terminates(last.Else)
	}
	return false
}

// Negate returns `not e`, folding double negation.
func Negate(e *Expr) *Expr {
	if e.Kind == ExprNot {
		return e.Args[0].Clone()
	}
	return &Expr{Kind: ExprNot, Args: []*Expr{e.Clone()}}
}

func cloneAll(es []*Expr) []*Expr {
	out := make([]*Expr, len(es))
	for i, e := range es {
		out[i] = e.Clone()
	}
	return out
}
