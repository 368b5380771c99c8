package property

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Set is the canonical property set for one attempt. It is built only by
// the canonicalizer and never mutated afterwards.
type Set struct {
	Function    string       `json:"function"`
	Obligations []Obligation `json:"obligations"`
	Assumptions []Assumption `json:"assumptions"`
	Hash        string       `json:"hash"`
}

// hashView is the part of a set covered by the hash. Free text such as
// descriptions and source lines is deliberately left out.
type hashView struct {
	Function    string         `json:"function"`
	Obligations []hashedGoal   `json:"obligations"`
	Assumptions []hashedAssume `json:"assumptions"`
}

type hashedGoal struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Property string   `json:"property"`
}

type hashedAssume struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	Property string   `json:"property"`
	Evidence Evidence `json:"evidence"`
}

// CanonicalJSON returns the byte encoding the hash is computed over.
func (s *Set) CanonicalJSON() ([]byte, error) {
	v := hashView{
		Function:    s.Function,
		Obligations: make([]hashedGoal, len(s.Obligations)),
		Assumptions: make([]hashedAssume, len(s.Assumptions)),
	}
	for i, o := range s.Obligations {
		v.Obligations[i] = hashedGoal{ID: o.ID, Category: o.Category, Severity: o.Severity, Property: o.Property}
	}
	for i, a := range s.Assumptions {
		v.Assumptions[i] = hashedAssume{ID: a.ID, Severity: a.Severity, Property: a.Property, Evidence: a.Evidence}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode property set: %w", err)
	}
	return b, nil
}

// ComputeHash returns the sha256 hex digest of the canonical encoding.
func (s *Set) ComputeHash() (string, error) {
	b, err := s.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Obligation returns the obligation with the given id.
func (s *Set) Obligation(id string) (Obligation, bool) {
	for _, o := range s.Obligations {
		if o.ID == id {
			return o, true
		}
	}
	return Obligation{}, false
}

// ObligationIDs returns ids in canonical order.
func (s *Set) ObligationIDs() []string {
	out := make([]string, len(s.Obligations))
	for i, o := range s.Obligations {
		out[i] = o.ID
	}
	return out
}

// CategorySet returns the distinct obligation categories in the set.
func (s *Set) CategorySet() map[Category]bool {
	out := make(map[Category]bool, len(s.Obligations))
	for _, o := range s.Obligations {
		out[o.Category] = true
	}
	return out
}

// CoversCategories reports whether s requires at least every category in want.
func (s *Set) CoversCategories(want map[Category]bool) bool {
	have := s.CategorySet()
	for c := range want {
		if !have[c] {
			return false
		}
	}
	return true
}
