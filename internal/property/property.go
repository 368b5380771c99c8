// Package property holds the canonical property model shared by every stage:
// obligations (proof goals), assumed inputs (hypotheses) and the hashed set
// that binds them to one attempt.
package property

import (
	"fmt"
)

// Category is the closed set of obligation categories. Declaration order is
// the canonical sort order.
type Category string

const (
	NonNegativity   Category = "non_negativity"
	Bounds          Category = "bounds"
	Uniqueness      Category = "uniqueness"
	Conservation    Category = "conservation"
	Monotonicity    Category = "monotonicity"
	StateTransition Category = "state_transition"
	TypeRange       Category = "type_range"
)

// Categories lists every category in canonical order.
var Categories = []Category{
	NonNegativity, Bounds, Uniqueness, Conservation, Monotonicity, StateTransition, TypeRange,
}

// Rank returns the canonical position of c, or -1 when c is not a known category.
func (c Category) Rank() int {
	for i, x := range Categories {
		if x == c {
			return i
		}
	}
	return -1
}

func (c Category) Valid() bool { return c.Rank() >= 0 }

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Severity orders obligations inside a category; higher rank sorts first.
type Severity string

const (
	Low      Severity = "low"
	Medium   Severity = "medium"
	High     Severity = "high"
	Critical Severity = "critical"
)

func (s Severity) Rank() int {
	switch s {
	case Low:
		return 0
	case Medium:
		return 1
	case High:
		return 2
	case Critical:
		return 3
	}
	return -1
}

func (s Severity) Valid() bool { return s.Rank() >= 0 }

// ParseSeverity validates a severity name.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// MaxSeverity returns the stronger of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Origin records which component produced a property.
type Origin string

// OriginPolicy is the only origin an Obligation may carry.
const OriginPolicy Origin = "policy"

// Obligation is a proof goal. Property holds the normalized predicate text.
type Obligation struct {
	ID          string   `json:"id"`
	Property    string   `json:"property"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Origin      Origin   `json:"origin"`
	Description string   `json:"description,omitempty"`
	Line        int      `json:"line,omitempty"`
}

// Evidence is the provenance metadata that backs an assumed input.
type Evidence struct {
	SourceType string `json:"source_type"`
	SourceRef  string `json:"source_ref"`
	EvidenceID string `json:"evidence_id"`
}

// AssumedInput is a caller-contract precondition candidate. It becomes a
// hypothesis only after evidence validation.
type AssumedInput struct {
	Property      string   `json:"property"`
	Description   string   `json:"description,omitempty"`
	Justification string   `json:"justification,omitempty"`
	Evidence      Evidence `json:"evidence"`
	Severity      Severity `json:"severity"`
}

// Assumption is a validated assumed input inside a canonical set.
type Assumption struct {
	ID          string   `json:"id"`
	Property    string   `json:"property"`
	Severity    Severity `json:"severity"`
	Evidence    Evidence `json:"evidence"`
	Description string   `json:"description,omitempty"`
}
