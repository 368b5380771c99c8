package extractor

import sitter "github.com/smacker/go-tree-sitter"

// CodeUnit is one analyzed function: its normalized structure plus the raw
// source. A CodeUnit is never mutated after extraction.
type CodeUnit struct {
	ID          string   `json:"id"`
	Filepath    string   `json:"filepath"`
	Language    string   `json:"language"`
	StartLine   int      `json:"start_line"`
	EndLine     int      `json:"end_line"`
	Content     string   `json:"content"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      []Param  `json:"params"`
	ReturnType  string   `json:"return_type"`
	Body        []*Stmt  `json:"body"`
	Features    Features `json:"features"`
	Unsupported []string `json:"unsupported,omitempty"`
}

// Param is a function parameter with its declared annotation (empty when
// unannotated).
type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Features is the control-flow and data-shape summary of a unit.
type Features struct {
	HasLoop          bool            `json:"has_loop"`
	HasSubtraction   bool            `json:"has_subtraction"`
	HasSubscript     bool            `json:"has_subscript"`
	HasComprehension bool            `json:"has_comprehension"`
	HasCollection    bool            `json:"has_collection"`
	HasRaise         bool            `json:"has_raise"`
	HasFloat         bool            `json:"has_float"`
	HasSideEffect    bool            `json:"has_side_effect"`
	Subscripts       []SubscriptSite `json:"subscripts,omitempty"`
	Appends          []AppendSite    `json:"appends,omitempty"`
	Returns          []*Expr         `json:"returns,omitempty"`
}

// SubscriptSite is one indexing expression together with the branch
// conditions that guard it.
type SubscriptSite struct {
	Collection string  `json:"collection"`
	Index      *Expr   `json:"index"`
	PathCond   []*Expr `json:"path_cond,omitempty"`
	Line       int     `json:"line"`
}

// AppendSite is one insertion into a named collection.
type AppendSite struct {
	Collection string `json:"collection"`
	Method     string `json:"method"`
	Line       int    `json:"line"`
}

// Supported reports whether policy analysis may run on the unit at all.
func (u *CodeUnit) Supported() bool { return len(u.Unsupported) == 0 }

// Param returns the parameter named n.
func (u *CodeUnit) Param(n string) (Param, bool) {
	for _, p := range u.Params {
		if p.Name == n {
			return p, true
		}
	}
	return Param{}, false
}

// ParamNames returns parameter names in declaration order.
func (u *CodeUnit) ParamNames() []string {
	out := make([]string, len(u.Params))
	for i, p := range u.Params {
		out[i] = p.Name
	}
	return out
}

// LanguageExtractor is implemented per source language.
type LanguageExtractor interface {
	GetLanguage() *sitter.Language
	ExtractUnits(root *sitter.Node, sourceCode []byte, filepath string) []*CodeUnit
}
