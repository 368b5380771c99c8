package translator

import (
	"context"
	"fmt"
	"strings"

	"argus/internal/extractor"
	"argus/internal/property"
	"argus/internal/route"
)

type kindedSet struct {
	engine route.Engine
	kind   route.TranslatorKind
	set    *property.Set
}

// ASTTranslator lowers straight-line integer code into a Lean definition by
// symbolic substitution: locals are inlined and every branch carries the rest
// of its block, so the definition is a single if-then-else term.
type ASTTranslator struct{}

func (ASTTranslator) Kind() route.TranslatorKind { return route.AST }

func (t ASTTranslator) Translate(ctx context.Context, u *extractor.CodeUnit, set *property.Set) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := newLeanCtx(u)
	if err != nil {
		return nil, &TranslationError{Translator: route.AST, Reason: "signature", Err: err}
	}
	body, err := lowerBlock(c, u.Body, map[string]*extractor.Expr{}, 1)
	if err != nil {
		return nil, &TranslationError{Translator: route.AST, Reason: "body", Err: err}
	}
	def := c.signature() + " :=\n" + body

	src, goals, err := assembleLean(c, kindedSet{route.ProofCompiler, route.AST, set}, def, nil)
	if err != nil {
		return nil, &TranslationError{Translator: route.AST, Reason: "theorems", Err: err}
	}
	return &Artifact{
		Engine:          route.ProofCompiler,
		Translator:      route.AST,
		Function:        u.Name,
		Source:          src,
		PropertySetHash: set.Hash,
		Goals:           goals,
	}, nil
}

func lowerBlock(c *leanCtx, stmts []*extractor.Stmt, env map[string]*extractor.Expr, depth int) (string, error) {
	indent := strings.Repeat("  ", depth)
	env = copyEnv(env)
	for i, s := range stmts {
		switch s.Kind {
		case extractor.StmtPass:
		case extractor.StmtAssign:
			if c.isParam(s.Target) {
				return "", fmt.Errorf("line %d: reassigning parameter %q", s.Line, s.Target)
			}
			env[s.Target] = s.Value.Subst(env)
		case extractor.StmtAugAssign:
			if c.isParam(s.Target) {
				return "", fmt.Errorf("line %d: reassigning parameter %q", s.Line, s.Target)
			}
			cur, ok := env[s.Target]
			if !ok {
				return "", fmt.Errorf("line %d: %q used before assignment", s.Line, s.Target)
			}
			env[s.Target] = extractor.BinOp(s.Op, cur, s.Value.Subst(env))
		case extractor.StmtReturn:
			v, err := c.term(s.Value.Subst(env))
			if err != nil {
				return "", fmt.Errorf("line %d: %w", s.Line, err)
			}
			return indent + v, nil
		case extractor.StmtIf:
			cond, err := c.prop(s.Cond.Subst(env))
			if err != nil {
				return "", fmt.Errorf("line %d: %w", s.Line, err)
			}
			rest := stmts[i+1:]
			yes, err := lowerBlock(c, joinBlocks(s.Then, rest), env, depth+1)
			if err != nil {
				return "", err
			}
			no, err := lowerBlock(c, joinBlocks(s.Else, rest), env, depth+1)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%sif %s then\n%s\n%selse\n%s", indent, cond, yes, indent, no), nil
		default:
			return "", fmt.Errorf("line %d: statement outside the straight-line subset", s.Line)
		}
	}
	return "", fmt.Errorf("not every path returns a value")
}

func (c *leanCtx) isParam(n string) bool {
	_, ok := c.types[n]
	return ok
}

func joinBlocks(a, b []*extractor.Stmt) []*extractor.Stmt {
	out := make([]*extractor.Stmt, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func copyEnv(env map[string]*extractor.Expr) map[string]*extractor.Expr {
	out := make(map[string]*extractor.Expr, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
