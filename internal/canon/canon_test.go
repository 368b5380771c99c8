package canon

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/internal/discovery"
	"argus/internal/extractor"
	"argus/internal/policy"
	"argus/internal/property"
)

type rawSource string

func (r rawSource) Candidates(context.Context, string) (string, error) { return string(r), nil }

func build(t *testing.T, src, raw string) *property.Set {
	t.Helper()
	ext, err := extractor.NewExtractor("python")
	require.NoError(t, err)
	u, err := ext.ParseFunction(context.Background(), []byte(src), "t.py", "")
	require.NoError(t, err)
	obs, err := policy.Default().Derive(u)
	require.NoError(t, err)

	var source discovery.CandidateSource
	if raw != "" {
		source = rawSource(raw)
	}
	adm, err := discovery.NewAdapter(source).Discover(context.Background(), u, obs)
	require.NoError(t, err)

	set, err := Build(u.Name, obs, adm)
	require.NoError(t, err)
	return set
}

const transfer = "def transfer(src_balance: int, dst_balance: int, amount: int) -> tuple[int, int]:\n    if amount > src_balance:\n        return (src_balance, dst_balance)\n    return (src_balance - amount, dst_balance + amount)\n"

const evidenced = `{"obligations": [{"property": "result[0] >= 0", "description": "", "severity": "critical", "category": "non_negativity"}],
 "assumed_inputs": [
  {"property": "amount >= 0", "description": "", "justification": "", "source_type": "db_constraint", "source_ref": "transfers.amount", "evidence_id": "CHK-3", "severity": "high"},
  {"property": "src_balance >= 0", "description": "", "justification": "", "source_type": "db_constraint", "source_ref": "accounts.balance", "evidence_id": "CHK-1", "severity": "critical"}
 ],
 "loop_invariants": []}`

func TestBuild_Deterministic(t *testing.T) {
	first := build(t, transfer, evidenced)
	for i := 0; i < 3; i++ {
		again := build(t, transfer, evidenced)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("canonical set differs between runs (-first +again):\n%s", diff)
		}
	}
	assert.Len(t, first.Hash, 64)
}

func TestBuild_OrderAndIDs(t *testing.T) {
	set := build(t, transfer, evidenced)
	require.Len(t, set.Obligations, 3)
	assert.Equal(t, []string{
		"transfer_non_negativity_1",
		"transfer_non_negativity_2",
		"transfer_conservation_1",
	}, set.ObligationIDs())

	require.Len(t, set.Assumptions, 2)
	assert.Equal(t, "src_balance >= 0", set.Assumptions[0].Property)
	assert.Equal(t, "transfer_assume_1", set.Assumptions[0].ID)
	assert.Equal(t, "amount >= 0", set.Assumptions[1].Property)
}

func TestBuild_DiscoveryChangesHashOnlyThroughGates(t *testing.T) {
	withoutDiscovery := build(t, transfer, "")
	withGarbage := build(t, transfer, `{"obligations": [{"property": "result[0] == 0", "description": "", "severity": "low", "category": "conservation"}], "assumed_inputs": [], "loop_invariants": []}`)
	assert.Equal(t, withoutDiscovery.Hash, withGarbage.Hash, "unmatched candidates must not alter the set")
}

func TestBuild_MaxSeverityAndFirstCategory(t *testing.T) {
	obs := []property.Obligation{
		{Property: "result >= 0", Category: property.Monotonicity, Severity: property.Low, Origin: property.OriginPolicy},
		{Property: "result >= 0", Category: property.NonNegativity, Severity: property.High, Origin: property.OriginPolicy},
	}
	set, err := Build("f", obs, discovery.Admitted{})
	require.NoError(t, err)
	require.Len(t, set.Obligations, 1)
	assert.Equal(t, property.NonNegativity, set.Obligations[0].Category)
	assert.Equal(t, property.High, set.Obligations[0].Severity)
}

func TestBuild_RejectsForeignOrigin(t *testing.T) {
	_, err := Build("f", []property.Obligation{{Property: "x > 0", Category: property.Bounds, Severity: property.Low, Origin: "llm"}}, discovery.Admitted{})
	assert.Error(t, err)
}
