package translator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/internal/canon"
	"argus/internal/discovery"
	"argus/internal/extractor"
	"argus/internal/knowledge"
	"argus/internal/policy"
	"argus/internal/property"
	"argus/internal/route"
)

func unitAndSet(t *testing.T, src string) (*extractor.CodeUnit, *property.Set) {
	t.Helper()
	ext, err := extractor.NewExtractor("python")
	require.NoError(t, err)
	u, err := ext.ParseFunction(context.Background(), []byte(src), "t.py", "")
	require.NoError(t, err)
	obs, err := policy.Default().Derive(u)
	require.NoError(t, err)
	set, err := canon.Build(u.Name, obs, discovery.Admitted{})
	require.NoError(t, err)
	return u, set
}

func lineOf(t *testing.T, src, needle string) int {
	t.Helper()
	for i, l := range strings.Split(src, "\n") {
		if strings.Contains(l, needle) {
			return i + 1
		}
	}
	t.Fatalf("%q not found in:\n%s", needle, src)
	return 0
}

const withdraw = `def withdraw(balance: int, amount: int) -> int:
    if amount > balance:
        return balance
    return balance - amount
`

func TestASTTranslator_Withdraw(t *testing.T) {
	u, set := unitAndSet(t, withdraw)
	require.Len(t, set.Obligations, 1)
	id := set.Obligations[0].ID

	art, err := ASTTranslator{}.Translate(context.Background(), u, set)
	require.NoError(t, err)
	assert.Equal(t, route.ProofCompiler, art.Engine)
	assert.Equal(t, route.AST, art.Translator)
	assert.Equal(t, set.Hash, art.PropertySetHash)

	src := art.Source
	assert.True(t, strings.HasPrefix(src, "-- argus:property-set "+set.Hash+"\n"))
	assert.Contains(t, src, "def withdraw (balance : Int) (amount : Int) : Int :=")
	assert.Contains(t, src, "if amount > balance then")
	assert.Contains(t, src, "theorem "+id+" (balance : Int) (amount : Int) : ")
	assert.Contains(t, src, "≥ 0")
	assert.Contains(t, src, "unfold withdraw")
	assert.NotContains(t, src, "sorry")

	line := lineOf(t, src, "theorem "+id)
	assert.Equal(t, []string{id}, art.ObligationAt(line))
	assert.Empty(t, art.ObligationAt(1))
}

func TestASTTranslator_PairProjection(t *testing.T) {
	src := "def transfer(src_balance: int, dst_balance: int, amount: int) -> tuple[int, int]:\n    if amount > src_balance:\n        return (src_balance, dst_balance)\n    return (src_balance - amount, dst_balance + amount)\n"
	u, set := unitAndSet(t, src)
	art, err := ASTTranslator{}.Translate(context.Background(), u, set)
	require.NoError(t, err)
	assert.Contains(t, art.Source, "def transfer (src_balance : Int) (dst_balance : Int) (amount : Int) : Int × Int :=")
	assert.Contains(t, art.Source, "(transfer src_balance dst_balance amount).1")
	assert.Contains(t, art.Source, "(transfer src_balance dst_balance amount).2")
	assert.Len(t, art.Goals, len(set.Obligations))
}

func TestASTTranslator_MissingReturn(t *testing.T) {
	u, set := unitAndSet(t, "def f(x: int) -> int:\n    if x > 0:\n        return x\n")
	_, err := ASTTranslator{}.Translate(context.Background(), u, set)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTranslation)
	var te *TranslationError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, route.AST, te.Translator)
}

func TestASTTranslator_RejectsLoops(t *testing.T) {
	u, set := unitAndSet(t, "def f(n: int) -> int:\n    s = 0\n    for i in range(n):\n        s += i\n    return s\n")
	_, err := ASTTranslator{}.Translate(context.Background(), u, set)
	assert.ErrorIs(t, err, ErrTranslation)
}

func reasoningReply(t *testing.T, def string, proofs map[string]string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{"definition": def, "proofs": proofs})
	require.NoError(t, err)
	return string(b)
}

func TestReasoningTranslator(t *testing.T) {
	u, set := unitAndSet(t, withdraw)
	id := set.Obligations[0].ID
	sig := "def withdraw (balance : Int) (amount : Int) : Int"

	tests := []struct {
		name    string
		reply   string
		genErr  error
		wantErr bool
	}{
		{name: "accepted", reply: reasoningReply(t, sig+" :=\n  if amount > balance then balance else balance - amount", nil)},
		{name: "accepted with proof", reply: reasoningReply(t, sig+" :=\n  if amount > balance then balance else balance - amount", map[string]string{id: "by\n  unfold withdraw\n  split <;> omega"})},
		{name: "fenced", reply: "```json\n" + reasoningReply(t, sig+" :=\n  balance", nil) + "\n```"},
		{name: "wrong signature", reply: reasoningReply(t, "def withdraw (balance : Nat) (amount : Nat) : Nat :=\n  balance - amount", nil), wantErr: true},
		{name: "smuggled theorem", reply: reasoningReply(t, sig+" :=\n  balance\ntheorem x : True := trivial", nil), wantErr: true},
		{name: "smuggled marker", reply: reasoningReply(t, sig+" :=\n  balance -- argus:goal x", nil), wantErr: true},
		{name: "unknown proof", reply: reasoningReply(t, sig+" :=\n  balance", map[string]string{"other": "by simp"}), wantErr: true},
		{name: "proof not tactic", reply: reasoningReply(t, sig+" :=\n  balance", map[string]string{id: "trivial"}), wantErr: true},
		{name: "elaborator axiom after definition", reply: reasoningReply(t, sig+" :=\n  balance\nrun_cmd Lean.addDecl (.axiomDecl {name := `cheat, type := .const ``False [], levelParams := [], isUnsafe := false})", nil), wantErr: true},
		{name: "indented option", reply: reasoningReply(t, sig+" :=\n  set_option maxHeartbeats 0 in\n  balance", nil), wantErr: true},
		{name: "attribute at column 0", reply: reasoningReply(t, sig+" :=\n  balance\nattribute [simp] withdraw", nil), wantErr: true},
		{name: "hash command", reply: reasoningReply(t, sig+" :=\n  balance\n  #eval 1", nil), wantErr: true},
		{name: "block comment", reply: reasoningReply(t, sig+" :=\n  /- hidden -/ balance", nil), wantErr: true},
		{name: "second def", reply: reasoningReply(t, sig+" :=\n  balance\n  def cheat : Int := 0", nil), wantErr: true},
		{name: "proof runs a command", reply: reasoningReply(t, sig+" :=\n  balance", map[string]string{id: "by\n  run_cmd pure ()\n  omega"}), wantErr: true},
		{name: "proof reaches the elaborator", reply: reasoningReply(t, sig+" :=\n  balance", map[string]string{id: "by exact Lean.Elab.cheat"}), wantErr: true},
		{name: "proof at column 0", reply: reasoningReply(t, sig+" :=\n  balance", map[string]string{id: "by\nomega"}), wantErr: true},
		{name: "missing definition", reply: `{"proofs": {}}`, wantErr: true},
		{name: "not json", reply: "I cannot help with that", wantErr: true},
		{name: "provider failure", genErr: errors.New("quota"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := knowledge.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
				assert.Contains(t, prompt, sig)
				return tt.reply, tt.genErr
			})
			art, err := NewReasoningTranslator(gen).Translate(context.Background(), u, set)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTranslation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, route.ReasoningAssisted, art.Translator)
			assert.Equal(t, tt.reply, art.RawOutput)
			assert.Contains(t, art.Source, sig+" :=")
			assert.Contains(t, art.Source, "theorem "+id)
		})
	}
}

func TestLeanCommandIn(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"run_cmd Lean.addDecl d", "run_cmd"},
		{"  set_option maxHeartbeats 0 in", "set_option"},
		{"  #eval IO.println 1", "#eval"},
		{"@[implemented_by f] def g := 0", "@["},
		{"by exact Lean.Elab.x", "Lean."},
		{"instance : Inhabited Int := ⟨0⟩", "instance"},
		{"(ofReduceBool a b h)", "ofReduceBool"},
		{"if open_x > 0 then 1 else 0", ""},
		{"«open» + «prefix»", ""},
		{"List.prefix xs", ""},
		{"  unfold withdraw", ""},
		{"all_goals first | omega | simp_all | decide", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := LeanCommandIn(tt.text)
			assert.Equal(t, tt.want != "", ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReasoningTranslator_NoProvider(t *testing.T) {
	u, set := unitAndSet(t, withdraw)
	_, err := NewReasoningTranslator(nil).Translate(context.Background(), u, set)
	assert.ErrorIs(t, err, ErrTranslation)
}

const accumulate = `def sum_amounts(amounts: list[int]) -> int:
    running_total = 0
    for a in amounts:
        running_total += a
    return running_total
`

func TestLoopTranslator_Accumulator(t *testing.T) {
	u, set := unitAndSet(t, accumulate)
	require.Len(t, set.Obligations, 1)
	id := set.Obligations[0].ID

	art, err := LoopTranslator{}.Translate(context.Background(), u, set)
	require.NoError(t, err)
	assert.Equal(t, route.SMTBacked, art.Engine)

	src := art.Source
	assert.True(t, strings.HasPrefix(src, "// argus:property-set "+set.Hash+"\n"))
	assert.Contains(t, src, "method sum_amounts(amounts: seq<int>) returns (result: int)")
	assert.Contains(t, src, "  ensures result >= 0\n")
	assert.Contains(t, src, "  var argus_i1: int;\n")
	assert.Contains(t, src, "    invariant 0 <= argus_i1 <= |amounts|\n")
	assert.Contains(t, src, "    invariant running_total >= 0\n")
	assert.Contains(t, src, "    decreases |amounts| - argus_i1\n")
	assert.Contains(t, src, "    running_total := (running_total + a);\n")
	assert.Contains(t, src, "  result := running_total;\n")

	ensures := lineOf(t, src, "ensures result >= 0")
	invariant := lineOf(t, src, "invariant running_total >= 0")
	assert.Equal(t, []string{id}, art.ObligationAt(ensures))
	assert.Equal(t, []string{id}, art.ObligationAt(invariant))

	m, err := ParseManifest(route.SMTBacked, src)
	require.NoError(t, err)
	assert.Equal(t, set.Hash, m.PropertySetHash)
	assert.Equal(t, "loop_specialist", m.Translator)
	assert.Equal(t, "sum_amounts", m.Function)
	require.Len(t, m.Goals, 1)
	assert.Equal(t, ManifestGoal{ID: id, Category: property.NonNegativity, Property: "result >= 0"}, m.Goals[0])
}

func TestLoopTranslator_WhileMeasure(t *testing.T) {
	src := "def countdown(n: int) -> int:\n    steps = 0\n    while n > 0:\n        n -= 1\n        steps += 1\n    return steps\n"
	u, set := unitAndSet(t, src)
	art, err := LoopTranslator{}.Translate(context.Background(), u, set)
	require.NoError(t, err)
	assert.Contains(t, art.Source, "  var argus_n: int := n;\n")
	assert.Contains(t, art.Source, "  while argus_n > 0\n")
	assert.Contains(t, art.Source, "    decreases argus_n - 0\n")
	assert.Contains(t, art.Source, "    argus_n := (argus_n - 1);\n")
}

func TestLoopTranslator_NoMeasure(t *testing.T) {
	src := "def spin(n: int) -> int:\n    count = 0\n    while count != n:\n        count += 1\n    return count\n"
	u, set := unitAndSet(t, src)
	_, err := LoopTranslator{}.Translate(context.Background(), u, set)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTranslation)
	assert.Contains(t, err.Error(), "decreasing measure")
}

func TestLoopTranslator_BoundsAssertion(t *testing.T) {
	src := "def pick(xs: list[int], i: int) -> int:\n    if i < len(xs):\n        return xs[i]\n    return 0\n"
	u, set := unitAndSet(t, src)
	var bounds property.Obligation
	for _, ob := range set.Obligations {
		if ob.Category == property.Bounds {
			bounds = ob
		}
	}
	require.NotEmpty(t, bounds.ID)

	art, err := LoopTranslator{}.Translate(context.Background(), u, set)
	require.NoError(t, err)
	assertLine := lineOf(t, art.Source, "assert ")
	assert.Contains(t, art.Source, "0 <= i && i < |xs|")
	assert.Equal(t, []string{bounds.ID}, art.ObligationAt(assertLine))
	assert.Equal(t, []string{bounds.ID}, art.ObligationAt(assertLine+1))
	assert.Equal(t, assertLine+1, lineOf(t, art.Source, "result := xs[i];"))
}

func TestLoopTranslator_RejectsRaise(t *testing.T) {
	src := "def f(xs: list[int]) -> int:\n    for x in xs:\n        if x < 0:\n            raise ValueError(\"neg\")\n    return 0\n"
	ext, err := extractor.NewExtractor("python")
	require.NoError(t, err)
	u, err := ext.ParseFunction(context.Background(), []byte(src), "t.py", "")
	require.NoError(t, err)
	_, err = LoopTranslator{}.Translate(context.Background(), u, &property.Set{Function: "f"})
	assert.ErrorIs(t, err, ErrTranslation)
}

func TestRegistry_NoFallback(t *testing.T) {
	r := NewRegistry(ASTTranslator{}, LoopTranslator{})
	tr, err := r.For(route.LoopSpecialist)
	require.NoError(t, err)
	assert.Equal(t, route.LoopSpecialist, tr.Kind())

	_, err = r.For(route.ReasoningAssisted)
	assert.ErrorIs(t, err, ErrTranslation)
}

func TestCommentPrefix(t *testing.T) {
	assert.Equal(t, "--", CommentPrefix(route.ProofCompiler))
	assert.Equal(t, "//", CommentPrefix(route.SMTBacked))
}

func TestParseManifest_Malformed(t *testing.T) {
	_, err := ParseManifest(route.ProofCompiler, "-- argus:goal only_one_field :: x >= 0\n")
	assert.Error(t, err)
	_, err = ParseManifest(route.ProofCompiler, "-- argus:mystery x\n")
	assert.Error(t, err)
}
