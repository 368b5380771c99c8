package verdict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func passing() Inputs {
	return Inputs{
		ConstructSupported:  true,
		EvidenceValid:       true,
		GuardPassed:         true,
		Tooling:             Completed,
		AllPassed:           true,
		MaxAttempts:         3,
		CategoriesPreserved: true,
		Producers:           []Module{Policy, Canonicalizer, ASTTranslator, Guard, LeanVerifier},
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Inputs)
		want     Verdict
		terminal bool
	}{
		{"first attempt passes", func(*Inputs) {}, Verified, true},
		{"later attempt passes", func(in *Inputs) { in.AttemptIndex = 1 }, Fixed, true},
		{"unsupported beats everything", func(in *Inputs) { in.ConstructSupported = false; in.Tooling = Infrastructure }, Unverified, true},
		{"evidence rejected", func(in *Inputs) { in.EvidenceValid = false }, Unverified, true},
		{"guard failed", func(in *Inputs) { in.GuardPassed = false; in.Tooling = NotRun; in.AllPassed = false }, Unverified, true},
		{"timeout", func(in *Inputs) { in.Tooling = Infrastructure; in.AllPassed = false }, Error, true},
		{"tooling incomplete", func(in *Inputs) { in.Tooling = Recoverable; in.AllPassed = false }, Unverified, true},
		{"not run", func(in *Inputs) { in.Tooling = NotRun }, Unverified, true},
		{"proof failed with budget", func(in *Inputs) { in.AllPassed = false }, Vulnerable, false},
		{"proof failed on last attempt", func(in *Inputs) { in.AllPassed = false; in.AttemptIndex = 2 }, Vulnerable, true},
		{"category dropped by repair", func(in *Inputs) { in.AttemptIndex = 1; in.CategoriesPreserved = false }, Vulnerable, false},
		{"category dropped on last attempt", func(in *Inputs) { in.AttemptIndex = 2; in.CategoriesPreserved = false }, Vulnerable, true},
		{"untrusted producer", func(in *Inputs) { in.Producers = append(in.Producers, Repair) }, Unverified, true},
		{"unknown producer", func(in *Inputs) { in.Producers = []Module{"plugin"} }, Unverified, true},
		{"zero attempts budget", func(in *Inputs) { in.AllPassed = false; in.MaxAttempts = 0 }, Vulnerable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := passing()
			tt.mutate(&in)
			d := Decide(in)
			assert.Equal(t, tt.want, d.Verdict)
			assert.Equal(t, tt.terminal, d.Terminal)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

// Any input with an unknown proof status must not pass.
func TestDecide_FailClosed(t *testing.T) {
	for _, tooling := range []Tooling{Recoverable, Infrastructure, NotRun} {
		for _, guard := range []bool{true, false} {
			for _, evidence := range []bool{true, false} {
				in := passing()
				in.Tooling, in.GuardPassed, in.EvidenceValid = tooling, guard, evidence
				for attempt := 0; attempt < 3; attempt++ {
					in.AttemptIndex = attempt
					d := Decide(in)
					assert.False(t, d.Verdict.Passing())
					assert.Contains(t, []Verdict{Unverified, Error}, d.Verdict)
				}
			}
		}
	}
}

func TestReasonsNameRejections(t *testing.T) {
	in := passing()
	in.EvidenceValid = false
	in.RejectedEvidence = []string{"balance >= 0"}
	assert.Contains(t, Decide(in).Reason, "balance >= 0")

	in = passing()
	in.ConstructSupported = false
	in.Unsupported = []string{"import", "class_definition"}
	assert.Contains(t, Decide(in).Reason, "class_definition, import")
}

func TestTrustTable(t *testing.T) {
	assert.True(t, Trusted(Policy))
	assert.True(t, Trusted(DafnyVerifier))
	assert.False(t, Trusted(Discovery))
	assert.False(t, Trusted(Repair))
	assert.False(t, Trusted("unknown"))
}
