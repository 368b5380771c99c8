package extractor

import (
	"context"
	"fmt"
	"os"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Extractor orchestrates the extraction process using language-specific extractors.
type Extractor struct {
	langExtractor LanguageExtractor
	langName      string
}

// NewExtractor creates a new extractor for a given language.
func NewExtractor(lang string) (*Extractor, error) {
	var langExt LanguageExtractor
	switch lang {
	case "python", "py":
		langExt = &PythonExtractor{}
		lang = "python"
	default:
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}
	return &Extractor{langExtractor: langExt, langName: lang}, nil
}

// ExtractFromFile parses a single source file and extracts every function unit.
func (e *Extractor) ExtractFromFile(filepath string) ([]*CodeUnit, error) {
	sourceCode, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filepath, err)
	}
	return e.ExtractFromSource(context.Background(), sourceCode, filepath)
}

// ExtractFromSource parses in-memory source. A fresh parser is created per
// call so concurrent workers never share tree-sitter state.
func (e *Extractor) ExtractFromSource(ctx context.Context, sourceCode []byte, filepath string) ([]*CodeUnit, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(e.langExtractor.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, sourceCode)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file %s: %w", filepath, err)
	}
	defer tree.Close()

	return e.langExtractor.ExtractUnits(tree.RootNode(), sourceCode, filepath), nil
}

// ParseFunction extracts the function called name from source. When name is
// empty the first function is returned.
func (e *Extractor) ParseFunction(ctx context.Context, sourceCode []byte, filepath, name string) (*CodeUnit, error) {
	units, err := e.ExtractFromSource(ctx, sourceCode, filepath)
	if err != nil {
		return nil, err
	}
	for _, u := range units {
		if name == "" || u.Name == name {
			return u, nil
		}
	}
	if name == "" {
		return nil, fmt.Errorf("%s: no function definition found", filepath)
	}
	return nil, fmt.Errorf("%s: function %q not found", filepath, name)
}

// predicateCalls are the helper functions allowed inside property text.
var predicateCalls = map[string]bool{
	"implies":  true,
	"distinct": true,
	"len":      true,
	"abs":      true,
	"min":      true,
	"max":      true,
}

// ParseExpr parses a single Python predicate expression, such as the
// property text of an obligation. It rejects anything it cannot normalize.
func ParseExpr(text string) (*Expr, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if strings.ContainsAny(text, "\n;") {
		return nil, fmt.Errorf("expression %q spans multiple statements", text)
	}

	src := []byte(text + "\n")
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage((&PythonExtractor{}).GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", text, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() || root.NamedChildCount() != 1 {
		return nil, fmt.Errorf("expression %q is not well formed", text)
	}
	stmt := root.NamedChild(0)
	if stmt.Type() != "expression_statement" || stmt.NamedChildCount() != 1 {
		return nil, fmt.Errorf("expression %q is not a predicate", text)
	}

	c := &converter{src: src}
	expr := c.expr(stmt.NamedChild(0))

	var bad string
	expr.Walk(func(x *Expr) {
		if bad != "" {
			return
		}
		switch x.Kind {
		case ExprUnknown, ExprComprehension, ExprFloat, ExprString:
			bad = x.String()
		case ExprCall:
			if !predicateCalls[x.Name] {
				bad = x.Name
			}
		case ExprMethodCall:
			bad = x.String()
		}
	})
	if bad != "" {
		return nil, fmt.Errorf("expression %q uses unsupported term %q", text, bad)
	}
	return expr, nil
}

// NormalizeExpr returns the canonical printed form of a predicate.
func NormalizeExpr(text string) (string, error) {
	e, err := ParseExpr(text)
	if err != nil {
		return "", err
	}
	return e.String(), nil
}
