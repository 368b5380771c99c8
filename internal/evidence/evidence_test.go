package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/internal/property"
)

func candidate(prop, st, ref, id string) property.AssumedInput {
	return property.AssumedInput{
		Property: prop,
		Evidence: property.Evidence{SourceType: st, SourceRef: ref, EvidenceID: id},
		Severity: property.High,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		in     property.AssumedInput
		reason string
	}{
		{"accepted", candidate("amount > 0", "api_schema", "openapi.yaml#/amount", "EV-1"), ""},
		{"policy id source", candidate("amount > 0", "policy_id", "POL-7", "EV-2"), ""},
		{"missing source type", candidate("amount > 0", "", "ref", "id"), "missing source_type"},
		{"unknown source type", candidate("amount > 0", "slack_thread", "ref", "id"), `unsupported source_type "slack_thread"`},
		{"missing ref", candidate("amount > 0", "api_schema", " ", "id"), "missing source_ref"},
		{"missing id", candidate("amount > 0", "api_schema", "ref", ""), "missing evidence_id"},
		{"empty property", candidate("  ", "api_schema", "ref", "id"), "missing property"},
		{"unparseable", candidate("amount >", "api_schema", "ref", "id"), "unparseable property"},
		{"constrains result", candidate("result >= 0", "api_schema", "ref", "id"), "assumption constrains the result"},
	}
	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := v.Validate(tt.in)
			if tt.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, "amount > 0", acc.Property())
				assert.Equal(t, property.High, acc.Severity())
				return
			}
			var eme *EvidenceMissingError
			require.ErrorAs(t, err, &eme)
			require.Len(t, eme.Issues, 1)
			assert.Equal(t, tt.reason, eme.Issues[0].Reason)
			assert.ErrorIs(t, err, ErrEvidenceMissing)
		})
	}
}

func TestValidateAll_NamesRejected(t *testing.T) {
	v := NewValidator()
	accepted, err := v.ValidateAll([]property.AssumedInput{
		candidate("amount > 0", "api_schema", "openapi.yaml#/amount", "EV-1"),
		{Property: "balance >= 0"},
		candidate("amount>0", "db_constraint", "accounts.amount", "CHK-1"),
	})
	require.Len(t, accepted, 1)
	assert.Equal(t, "amount > 0", accepted[0].Property())

	var eme *EvidenceMissingError
	require.ErrorAs(t, err, &eme)
	assert.Equal(t, []string{"balance >= 0", "amount > 0"}, eme.Properties())
	assert.Contains(t, err.Error(), `"balance >= 0"`)
	assert.Equal(t, "duplicate assumption property", eme.Issues[1].Reason)
}

func TestValidate_DefaultSeverity(t *testing.T) {
	in := candidate("x >= 1", "validator", "pydantic:X", "v1")
	in.Severity = ""
	acc, err := NewValidator().Validate(in)
	require.NoError(t, err)
	assert.Equal(t, property.Medium, acc.Severity())
}

func TestNewValidator_CustomSourceTypes(t *testing.T) {
	v := NewValidator("ticket")
	_, err := v.Validate(candidate("x > 0", "api_schema", "ref", "id"))
	assert.Error(t, err)
	_, err = v.Validate(candidate("x > 0", "ticket", "JIRA-1", "id"))
	assert.NoError(t, err)
}
