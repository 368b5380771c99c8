package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/internal/extractor"
	"argus/internal/property"
)

func parse(t *testing.T, src string) *extractor.CodeUnit {
	t.Helper()
	ext, err := extractor.NewExtractor("python")
	require.NoError(t, err)
	u, err := ext.ParseFunction(context.Background(), []byte(src), "t.py", "")
	require.NoError(t, err)
	return u
}

func props(obs []property.Obligation) []string {
	out := make([]string, len(obs))
	for i, o := range obs {
		out[i] = string(o.Category) + " " + string(o.Severity) + " " + o.Property
	}
	return out
}

func TestDerive_Rules(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "subtraction with non-negative return",
			src:  "def withdraw(balance: int, amount: int) -> NonNegativeInt:\n    return balance - amount\n",
			want: []string{"non_negativity critical result >= 0"},
		},
		{
			name: "declared non-negative return without subtraction",
			src:  "def f(x: int) -> Nat:\n    return x * x\n",
			want: []string{"non_negativity high result >= 0"},
		},
		{
			name: "plain arithmetic has no obligation",
			src:  "def f(x: int, y: int) -> int:\n    return x * y\n",
			want: nil,
		},
		{
			name: "bounds with early return guard",
			src:  "def at(xs: List[int], i: int) -> int:\n    if i < 0 or i >= len(xs):\n        return 0\n    return xs[i]\n",
			want: []string{"bounds critical implies(not ((i < 0) or (i >= len(xs))), 0 <= i < len(xs))"},
		},
		{
			name: "uniqueness on returned collection",
			src:  "def add(xs: List[int], x: int) -> List[int]:\n    xs.append(x)\n    return xs\n",
			want: []string{"uniqueness high distinct(result)"},
		},
		{
			name: "conservation and non-negativity on transfer",
			src:  "def transfer(src_balance: int, dst_balance: int, amount: int) -> tuple[int, int]:\n    return (src_balance - amount, dst_balance + amount)\n",
			want: []string{
				"non_negativity critical result[0] >= 0",
				"non_negativity critical result[1] >= 0",
				"conservation critical (result[0] + result[1]) == (src_balance + dst_balance)",
			},
		},
		{
			name: "monotonicity on credit",
			src:  "def deposit(balance: int, amount: int) -> int:\n    return balance + amount\n",
			want: []string{"monotonicity high result >= balance"},
		},
		{
			name: "state transition closure",
			src:  "def advance(state: int, ok: bool) -> int:\n    if ok:\n        return 2\n    return 1 if state == 0 else state\n",
			want: []string{"state_transition high result in {state, 1, 2}"},
		},
		{
			name: "type range",
			src:  "def clamp8(x: int) -> int8:\n    return x\n",
			want: []string{"type_range high -128 <= result <= 127"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, err := Default().Derive(parse(t, tt.src))
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, obs)
				return
			}
			assert.Equal(t, tt.want, props(obs))
			for _, o := range obs {
				assert.Equal(t, property.OriginPolicy, o.Origin)
			}
		})
	}
}

func TestDerive_Unsupported(t *testing.T) {
	u := parse(t, "def f(x) -> int:\n    return x - 1\n")
	_, err := Default().Derive(u)
	var uce *extractor.UnsupportedConstructError
	require.ErrorAs(t, err, &uce)
	assert.Contains(t, uce.Constructs, "unannotated_parameter")
}

func TestDerive_Deterministic(t *testing.T) {
	src := "def f(balance: int, amount: int, xs: List[int], i: int) -> int:\n    if i < len(xs):\n        return xs[i] - amount\n    return balance - amount\n"
	first, err := Default().Derive(parse(t, src))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Default().Derive(parse(t, src))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDerive_DuplicateFindingsKeepMaxSeverity(t *testing.T) {
	e := New(fixedRule{property.Low}, fixedRule{property.Critical}, fixedRule{property.Medium})
	obs, err := e.Derive(parse(t, "def f(x: int) -> int:\n    return x\n"))
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, property.Critical, obs[0].Severity)
}

type fixedRule struct{ sev property.Severity }

func (fixedRule) Name() string { return "fixed" }

func (r fixedRule) Apply(*extractor.CodeUnit) []Finding {
	return []Finding{{
		Category: property.NonNegativity,
		Severity: r.sev,
		Property: extractor.Compare(">=", extractor.Name("result"), extractor.Int(0)),
	}}
}

func TestSortObligations(t *testing.T) {
	obs := []property.Obligation{
		{Property: "b", Category: property.Bounds, Severity: property.High},
		{Property: "a", Category: property.Bounds, Severity: property.High},
		{Property: "z", Category: property.Bounds, Severity: property.Critical},
		{Property: "y", Category: property.NonNegativity, Severity: property.Low},
	}
	SortObligations(obs)
	assert.Equal(t, []string{"y", "z", "a", "b"}, []string{obs[0].Property, obs[1].Property, obs[2].Property, obs[3].Property})
}
