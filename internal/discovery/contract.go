package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"

	"argus/internal/knowledge"
	"argus/internal/property"
)

// ObligationCandidate is one parsed obligation suggestion.
type ObligationCandidate struct {
	Property    string
	Description string
	Severity    property.Severity
	Category    property.Category
}

// Batch is a fully well-formed provider response.
type Batch struct {
	Obligations    []ObligationCandidate
	AssumedInputs  []property.AssumedInput
	LoopInvariants []string
}

var (
	obligationFields = []string{"property", "description", "severity", "category"}
	assumptionFields = []string{"property", "description", "justification", "source_type", "source_ref", "evidence_id", "severity"}

	// evidenceFields may be omitted; absent means empty, which the evidence
	// validator then rejects.
	evidenceFields = map[string]bool{"source_type": true, "source_ref": true, "evidence_id": true}
)

// ParseBatch decodes the structured output contract. Every key must be
// present with the right JSON type; an empty string is a value, not a missing
// field. Any violation discards the whole batch. The evidence keys of an
// assumed input are the exception: omitted ones read as "".
func ParseBatch(raw string) (Batch, error) {
	var top map[string]json.RawMessage
	if err := decodeStrict(knowledge.CleanFencedOutput(raw), &top); err != nil {
		return Batch{}, fmt.Errorf("malformed batch: %w", err)
	}

	var b Batch
	obs, err := objectList(top, "obligations", obligationFields, nil)
	if err != nil {
		return Batch{}, err
	}
	for i, o := range obs {
		sev, err := property.ParseSeverity(o["severity"])
		if err != nil {
			return Batch{}, fmt.Errorf("malformed batch: obligations[%d]: %w", i, err)
		}
		cat, err := property.ParseCategory(o["category"])
		if err != nil {
			return Batch{}, fmt.Errorf("malformed batch: obligations[%d]: %w", i, err)
		}
		b.Obligations = append(b.Obligations, ObligationCandidate{
			Property:    o["property"],
			Description: o["description"],
			Severity:    sev,
			Category:    cat,
		})
	}

	ais, err := objectList(top, "assumed_inputs", assumptionFields, evidenceFields)
	if err != nil {
		return Batch{}, err
	}
	for i, a := range ais {
		sev, err := property.ParseSeverity(a["severity"])
		if err != nil {
			return Batch{}, fmt.Errorf("malformed batch: assumed_inputs[%d]: %w", i, err)
		}
		b.AssumedInputs = append(b.AssumedInputs, property.AssumedInput{
			Property:      a["property"],
			Description:   a["description"],
			Justification: a["justification"],
			Severity:      sev,
			Evidence: property.Evidence{
				SourceType: a["source_type"],
				SourceRef:  a["source_ref"],
				EvidenceID: a["evidence_id"],
			},
		})
	}

	rawInv, ok := top["loop_invariants"]
	if !ok {
		return Batch{}, fmt.Errorf("malformed batch: missing key %q", "loop_invariants")
	}
	if err := decodeStrict(string(rawInv), &b.LoopInvariants); err != nil || b.LoopInvariants == nil {
		return Batch{}, fmt.Errorf("malformed batch: loop_invariants must be a list of strings")
	}
	return b, nil
}

func objectList(top map[string]json.RawMessage, key string, fields []string, optional map[string]bool) ([]map[string]string, error) {
	raw, ok := top[key]
	if !ok {
		return nil, fmt.Errorf("malformed batch: missing key %q", key)
	}
	var items []map[string]json.RawMessage
	if err := decodeStrict(string(raw), &items); err != nil || items == nil {
		return nil, fmt.Errorf("malformed batch: %s must be a list of objects", key)
	}
	out := make([]map[string]string, len(items))
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("malformed batch: %s[%d] is not an object", key, i)
		}
		m := make(map[string]string, len(fields))
		for _, f := range fields {
			v, ok := item[f]
			if !ok && optional[f] {
				m[f] = ""
				continue
			}
			if !ok {
				return nil, fmt.Errorf("malformed batch: %s[%d] missing %q", key, i, f)
			}
			var s string
			if err := json.Unmarshal(v, &s); err != nil || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
				return nil, fmt.Errorf("malformed batch: %s[%d].%s must be a string", key, i, f)
			}
			m[f] = s
		}
		out[i] = m
	}
	return out, nil
}

func decodeStrict(s string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}
