package guard

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
	"argus/internal/translator"
)

type fixture struct {
	unit *extractor.CodeUnit
	set  *property.Set
	art  *translator.Artifact
}

func build(t *testing.T, src string, tr translator.Translator) fixture {
	t.Helper()
	ext, err := extractor.NewExtractor("python")
	require.NoError(t, err)
	u, err := ext.ParseFunction(context.Background(), []byte(src), "t.py", "")
	require.NoError(t, err)
	obs, err := policy.Default().Derive(u)
	require.NoError(t, err)
	set, err := canon.Build(u.Name, obs, discovery.Admitted{})
	require.NoError(t, err)
	art, err := tr.Translate(context.Background(), u, set)
	require.NoError(t, err)
	return fixture{unit: u, set: set, art: art}
}

const withdraw = "def withdraw(balance: int, amount: int) -> int:\n    if amount > balance:\n        return balance\n    return balance - amount\n"

const accumulate = "def sum_amounts(amounts: list[int]) -> int:\n    running_total = 0\n    for a in amounts:\n        running_total += a\n    return running_total\n"

func violation(t *testing.T, err error) *GuardViolationError {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGuardViolation)
	var gv *GuardViolationError
	require.True(t, errors.As(err, &gv))
	return gv
}

func TestCheck_CleanArtifacts(t *testing.T) {
	g := New()
	lean := build(t, withdraw, translator.ASTTranslator{})
	assert.NoError(t, g.Check(lean.unit, lean.set, lean.art))

	dafny := build(t, accumulate, translator.LoopTranslator{})
	assert.NoError(t, g.Check(dafny.unit, dafny.set, dafny.art))
}

func TestCheck_LeanTampering(t *testing.T) {
	id := "withdraw_non_negativity_1"
	tests := []struct {
		name   string
		mutate func(f *fixture)
		want   Code
	}{
		{
			name:   "stale hash",
			mutate: func(f *fixture) { f.art.PropertySetHash = strings.Repeat("0", 64) },
			want:   HashMismatch,
		},
		{
			name: "goal dropped",
			mutate: func(f *fixture) {
				f.art.Source = dropLines(f.art.Source, "-- argus:goal ")
			},
			want: DroppedProperty,
		},
		{
			name: "goal weakened",
			mutate: func(f *fixture) {
				f.art.Source = strings.Replace(f.art.Source, ":: result >= 0", ":: result >= -1", 1)
			},
			want: WeakenedProperty,
		},
		{
			name: "goal moved to hypothesis",
			mutate: func(f *fixture) {
				f.art.Source = strings.Replace(f.art.Source, "-- argus:goal "+id+" non_negativity :: ", "-- argus:hyp "+id+" :: ", 1)
			},
			want: CategoryMoved,
		},
		{
			name: "category relabelled",
			mutate: func(f *fixture) {
				f.art.Source = strings.Replace(f.art.Source, id+" non_negativity ::", id+" type_range ::", 1)
			},
			want: CategoryMoved,
		},
		{
			name: "extra hypothesis",
			mutate: func(f *fixture) {
				f.art.Source = strings.Replace(f.art.Source, "-- argus:goal", "-- argus:hyp smuggled :: amount <= balance\n-- argus:goal", 1)
			},
			want: UnexpectedHypothesis,
		},
		{
			name: "statement edited",
			mutate: func(f *fixture) {
				f.art.Source = strings.Replace(f.art.Source, "≥ 0 :=", "≥ 0 ∨ True :=", 1)
			},
			want: MissingStatement,
		},
		{
			name: "axiom added",
			mutate: func(f *fixture) {
				f.art.Source += "\naxiom cheat : False\n"
			},
			want: DriftPattern,
		},
		{
			name: "natural numbers",
			mutate: func(f *fixture) {
				f.art.Source = strings.ReplaceAll(f.art.Source, ": Int", ": Nat")
			},
			want: DriftPattern,
		},
		{
			name: "extra theorem",
			mutate: func(f *fixture) {
				f.art.Source += "\ntheorem helper : True := trivial\n"
			},
			want: UnexpectedGoal,
		},
		{
			name: "elaborator command between definition and theorems",
			mutate: func(f *fixture) {
				f.art.Source = strings.Replace(f.art.Source, "\ntheorem ", "\nrun_cmd Lean.addDecl (.axiomDecl {name := `cheat, type := .const ``False [], levelParams := [], isUnsafe := false})\n\ntheorem ", 1)
			},
			want: DriftPattern,
		},
		{
			name: "top-level attribute",
			mutate: func(f *fixture) {
				f.art.Source += "\nattribute [simp] withdraw\n"
			},
			want: UnexpectedGoal,
		},
		{
			name: "indented option",
			mutate: func(f *fixture) {
				f.art.Source = strings.Replace(f.art.Source, "\ntheorem ", "\n  set_option maxHeartbeats 0 in\ntheorem ", 1)
			},
			want: DriftPattern,
		},
		{
			name: "second definition",
			mutate: func(f *fixture) {
				f.art.Source += "\ndef cheat : Int := 0\n"
			},
			want: UnexpectedGoal,
		},
		{
			name: "function renamed",
			mutate: func(f *fixture) {
				f.art.Source = strings.Replace(f.art.Source, "def withdraw ", "def withdraw2 ", 1)
			},
			want: MissingFunction,
		},
		{
			name: "translator relabelled",
			mutate: func(f *fixture) {
				f.art.Source = strings.Replace(f.art.Source, "-- argus:translator ast", "-- argus:translator reasoning_assisted", 1)
			},
			want: TranslatorMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := build(t, withdraw, translator.ASTTranslator{})
			tt.mutate(&f)
			gv := violation(t, New().Check(f.unit, f.set, f.art))
			assert.True(t, gv.Has(tt.want), "want %s, got %v", tt.want, gv.Codes())
		})
	}
}

func TestCheck_ReasoningArtifact(t *testing.T) {
	sig := "def withdraw (balance : Int) (amount : Int) : Int"
	reply := func(def string) knowledge.Generator {
		return knowledge.GeneratorFunc(func(context.Context, string) (string, error) {
			b, err := json.Marshal(map[string]any{"definition": def})
			return string(b), err
		})
	}

	clean := build(t, withdraw, translator.NewReasoningTranslator(reply(sig+" :=\n  if amount > balance then balance else balance - amount")))
	require.NoError(t, New().Check(clean.unit, clean.set, clean.art))

	// Whatever slips past the translator is still caught on the artifact.
	tampered := clean
	art := *clean.art
	art.Source = strings.Replace(art.Source, "\ntheorem ", "\nrun_cmd Lean.addDecl (.axiomDecl {name := `cheat, type := .const ``False [], levelParams := [], isUnsafe := false})\ntheorem ", 1)
	tampered.art = &art
	gv := violation(t, New().Check(tampered.unit, tampered.set, tampered.art))
	assert.True(t, gv.Has(DriftPattern), "got %v", gv.Codes())
	assert.True(t, gv.Has(UnexpectedGoal), "got %v", gv.Codes())

	_, err := translator.NewReasoningTranslator(reply(sig+" :=\n  balance\nrun_cmd Lean.addDecl d")).Translate(context.Background(), clean.unit, clean.set)
	assert.ErrorIs(t, err, translator.ErrTranslation)
}

func TestCheck_DafnyTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(src string) string
		want   Code
	}{
		{"assume", func(s string) string {
			return strings.Replace(s, "  result := running_total;", "  assume false;\n  result := running_total;", 1)
		}, DriftPattern},
		{"extra requires", func(s string) string {
			return strings.Replace(s, "  ensures ", "  requires |amounts| == 0\n  ensures ", 1)
		}, UnexpectedHypothesis},
		{"weaker ensures", func(s string) string {
			return strings.Replace(s, "ensures result >= 0", "ensures result >= 0 || true", 1)
		}, MissingStatement},
		{"verification off", func(s string) string {
			return strings.Replace(s, "method sum_amounts(", "method {:verify false} sum_amounts(", 1)
		}, DriftPattern},
		{"nat parameter", func(s string) string {
			return strings.Replace(s, "amounts: seq<int>", "amounts: seq<nat>", 1)
		}, DriftPattern},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := build(t, accumulate, translator.LoopTranslator{})
			f.art.Source = tt.mutate(f.art.Source)
			gv := violation(t, New().Check(f.unit, f.set, f.art))
			assert.True(t, gv.Has(tt.want), "want %s, got %v", tt.want, gv.Codes())
		})
	}
}

func TestCheck_NoObligations(t *testing.T) {
	f := build(t, "def double(x: int) -> int:\n    return x + x\n", translator.ASTTranslator{})
	require.Empty(t, f.set.Obligations)
	gv := violation(t, New().Check(f.unit, f.set, f.art))
	assert.Equal(t, []Code{NoObligations}, gv.Codes())
}

func TestGuardViolationError_Message(t *testing.T) {
	err := &GuardViolationError{Violations: []Violation{
		{Code: DriftPattern, Ref: "line 4", Detail: "axiom declaration"},
		{Code: HashMismatch, Detail: "stale"},
	}}
	assert.Equal(t, "semantic guard rejected artifact: DRIFT_PATTERN(line 4): axiom declaration; HASH_MISMATCH: stale", err.Error())
	assert.Equal(t, []Code{DriftPattern, HashMismatch}, err.Codes())
}

func dropLines(src, prefix string) string {
	var out []string
	for _, l := range strings.Split(src, "\n") {
		if !strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
