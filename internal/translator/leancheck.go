package translator

import (
	"fmt"
	"regexp"
	"strings"
)

// leanCommand matches Lean commands and meta-level escapes. Any of them can
// add declarations, change options or run code inside the elaborator, so
// none may appear in provider text or in a finished artifact.
var leanCommand = regexp.MustCompile(`(?:^|[^\w.'])(run_cmd|run_elab|run_meta|elab|elab_rules|macro|macro_rules|syntax|declare_syntax_cat|notation|infix|infixl|infixr|prefix|postfix|set_option|attribute|instance|initialize|builtin_initialize|import|open|export|namespace|section|universe|variable|opaque|axiom|axioms|abbrev|structure|class|inductive|mutual|unsafe|partial|noncomputable|ofReduceBool|implemented_by|extern)(?:[^\w.'!?]|$)` +
	`|(#[A-Za-z_]+)|(@\[)|\b(Lean\.)`)

// leanDeclaration matches statements the translator alone may write.
var leanDeclaration = regexp.MustCompile(`(?:^|[^\w.'])(theorem|lemma|example|def)(?:[^\w.'!?]|$)`)

// quotedIdent is a «guillemet» identifier; its text is never a keyword.
var quotedIdent = regexp.MustCompile(`«[^»]*»`)

// LeanCommandIn returns the first Lean command or meta-level escape in text.
func LeanCommandIn(text string) (string, bool) {
	m := leanCommand.FindStringSubmatch(quotedIdent.ReplaceAllString(text, "x"))
	if m == nil {
		return "", false
	}
	for _, g := range m[1:] {
		if g != "" {
			return g, true
		}
	}
	return strings.TrimSpace(m[0]), true
}

// checkProviderLean rejects provider text that could do more than fill in
// a term: extra commands or declarations, block comments that could swallow
// rendered lines, manifest markers, and any column-0 line after the first.
func checkProviderLean(text string, allowDef bool) error {
	if cmd, ok := LeanCommandIn(text); ok {
		return fmt.Errorf("contains Lean command %q", cmd)
	}
	if strings.Contains(text, markerTag) {
		return fmt.Errorf("contains manifest marker %q", markerTag)
	}
	if strings.Contains(text, "/-") || strings.Contains(text, "-/") {
		return fmt.Errorf("contains a block comment")
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		body := quotedIdent.ReplaceAllString(l, "x")
		if m := leanDeclaration.FindStringSubmatch(body); m != nil && !(allowDef && i == 0 && m[1] == "def") {
			return fmt.Errorf("line %d declares %q", i+1, m[1])
		}
		if i > 0 && strings.TrimSpace(l) != "" && l[0] != ' ' && l[0] != '\t' {
			return fmt.Errorf("line %d starts a new top-level command", i+1)
		}
	}
	return nil
}
