// Package evidence checks the provenance shape of assumed inputs. It does not
// decide whether the evidence is true, only that it names a real kind of
// source with a reference and an identifier.
package evidence

import (
	"errors"
	"fmt"
	"strings"

	"argus/internal/extractor"
	"argus/internal/policy"
	"argus/internal/property"
)

// DefaultSourceTypes is the fixed set of accepted evidence sources.
var DefaultSourceTypes = []string{
	"api_schema",
	"db_constraint",
	"policy_id",
	"policy",
	"validator",
	"runtime_guard",
}

// ErrEvidenceMissing is the category sentinel for EvidenceMissingError.
var ErrEvidenceMissing = errors.New("assumption evidence missing")

// Issue is one rejected assumption and why.
type Issue struct {
	Property string `json:"property"`
	Reason   string `json:"reason"`
}

// EvidenceMissingError lists every rejected assumption of a batch.
type EvidenceMissingError struct {
	Issues []Issue
}

func (e *EvidenceMissingError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = fmt.Sprintf("%q (%s)", is.Property, is.Reason)
	}
	return "rejected assumptions: " + strings.Join(parts, "; ")
}

func (e *EvidenceMissingError) Unwrap() error { return ErrEvidenceMissing }

// Properties returns the rejected property texts in order.
func (e *EvidenceMissingError) Properties() []string {
	out := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		out[i] = is.Property
	}
	return out
}

// Accepted is an assumed input that passed validation. Its fields are
// unexported so only this package can produce one.
type Accepted struct {
	property    string
	severity    property.Severity
	evidence    property.Evidence
	description string
}

func (a Accepted) Property() string            { return a.property }
func (a Accepted) Severity() property.Severity { return a.severity }
func (a Accepted) Evidence() property.Evidence { return a.evidence }
func (a Accepted) Description() string         { return a.description }

// Validator accepts or rejects candidates against a fixed source-type set.
type Validator struct {
	allowed map[string]bool
}

// NewValidator builds a validator over sourceTypes, or DefaultSourceTypes
// when none are given.
func NewValidator(sourceTypes ...string) *Validator {
	if len(sourceTypes) == 0 {
		sourceTypes = DefaultSourceTypes
	}
	allowed := make(map[string]bool, len(sourceTypes))
	for _, s := range sourceTypes {
		allowed[s] = true
	}
	return &Validator{allowed: allowed}
}

// Validate checks a single candidate.
func (v *Validator) Validate(in property.AssumedInput) (Accepted, error) {
	acc, issue := v.check(in)
	if issue != nil {
		return Accepted{}, &EvidenceMissingError{Issues: []Issue{*issue}}
	}
	return acc, nil
}

// ValidateAll checks a batch. Accepted candidates are returned even when
// others were rejected; the error then names every rejected property.
// Rejection is final: nothing is retried with relaxed rules.
func (v *Validator) ValidateAll(ins []property.AssumedInput) ([]Accepted, error) {
	var accepted []Accepted
	var issues []Issue
	seen := map[string]bool{}
	for _, in := range ins {
		acc, issue := v.check(in)
		if issue != nil {
			issues = append(issues, *issue)
			continue
		}
		if seen[acc.property] {
			issues = append(issues, Issue{Property: acc.property, Reason: "duplicate assumption property"})
			continue
		}
		seen[acc.property] = true
		accepted = append(accepted, acc)
	}
	if len(issues) > 0 {
		return accepted, &EvidenceMissingError{Issues: issues}
	}
	return accepted, nil
}

func (v *Validator) check(in property.AssumedInput) (Accepted, *Issue) {
	raw := strings.TrimSpace(in.Property)
	if raw == "" {
		return Accepted{}, &Issue{Property: "<empty>", Reason: "missing property"}
	}
	reject := func(reason string) (Accepted, *Issue) {
		return Accepted{}, &Issue{Property: raw, Reason: reason}
	}

	ev := property.Evidence{
		SourceType: strings.TrimSpace(in.Evidence.SourceType),
		SourceRef:  strings.TrimSpace(in.Evidence.SourceRef),
		EvidenceID: strings.TrimSpace(in.Evidence.EvidenceID),
	}
	switch {
	case ev.SourceType == "":
		return reject("missing source_type")
	case !v.allowed[ev.SourceType]:
		return reject(fmt.Sprintf("unsupported source_type %q", ev.SourceType))
	case ev.SourceRef == "":
		return reject("missing source_ref")
	case ev.EvidenceID == "":
		return reject("missing evidence_id")
	}

	expr, err := extractor.ParseExpr(raw)
	if err != nil {
		return reject("unparseable property")
	}
	for _, n := range expr.Names() {
		if n == policy.ResultName {
			return reject("assumption constrains the result")
		}
	}

	sev := in.Severity
	if sev == "" {
		sev = property.Medium
	}
	if !sev.Valid() {
		return reject(fmt.Sprintf("unknown severity %q", sev))
	}

	return Accepted{
		property:    expr.String(),
		severity:    sev,
		evidence:    ev,
		description: strings.TrimSpace(in.Description),
	}, nil
}
