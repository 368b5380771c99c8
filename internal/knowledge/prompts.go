package knowledge

import (
	"fmt"
	"strings"
)

// PromptBuilder constructs the fixed prompts for each reasoning contract.
type PromptBuilder struct{}

const noFenceInstruction = "\nReturn only the requested payload. Do not wrap it in markdown fences and do not add commentary.\n"

// BuildDiscoveryPrompt asks for candidate obligations and assumed inputs
// under the structured output contract.
func (pb *PromptBuilder) BuildDiscoveryPrompt(source string) string {
	var sb strings.Builder
	sb.WriteString("Role: Formal verification engineer. Task: propose safety properties for one Python function.\n")
	sb.WriteString("\nRespond with a single JSON object with exactly these keys:\n")
	sb.WriteString(`{
  "obligations": [{"property": str, "description": str, "severity": "low|medium|high|critical", "category": str}],
  "assumed_inputs": [{"property": str, "description": str, "justification": str, "source_type": str, "source_ref": str, "evidence_id": str, "severity": str}],
  "loop_invariants": [str]
}
`)
	sb.WriteString("\nRules:\n")
	sb.WriteString("- Properties are Python boolean expressions over parameter names; use `result` for the return value.\n")
	sb.WriteString("- category is one of: non_negativity, bounds, uniqueness, conservation, monotonicity, state_transition, type_range.\n")
	sb.WriteString("- An assumed input is a caller precondition. Only list one when you can cite its source: source_type is one of api_schema, db_constraint, policy_id, policy, validator, runtime_guard.\n")
	sb.WriteString("- Leave evidence fields empty rather than inventing a reference.\n")
	sb.WriteString(noFenceInstruction)
	sb.WriteString("\nPython:\n")
	sb.WriteString(source)
	sb.WriteString("\n")
	return sb.String()
}

// TranslationRequest is the input of the reasoning-assisted translator.
type TranslationRequest struct {
	Source     string
	Function   string
	Signature  string
	Theorems   []string
	Language   string
	PriorError string
}

// BuildTranslationPrompt asks for a definition of the function only. The
// theorem statements are shown for context and are rendered by the caller.
func (pb *PromptBuilder) BuildTranslationPrompt(req TranslationRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Role: %s expert. Task: translate one Python function into a total %s definition.\n", req.Language, req.Language)
	fmt.Fprintf(&sb, "\nThe definition must have exactly this signature:\n%s\n", req.Signature)
	sb.WriteString("\nThe following theorems will be checked against your definition. Do not restate them.\n")
	for _, th := range req.Theorems {
		fmt.Fprintf(&sb, "- %s\n", th)
	}
	sb.WriteString("\nRespond with a JSON object: {\"definition\": str, \"proofs\": {\"<theorem name>\": str}}.\n")
	sb.WriteString("`definition` holds only the definition. Each proof is a tactic block starting with `by`.\n")
	sb.WriteString("Never use sorry, admit, axioms, native_decide, partial or unsafe definitions, or natural-number types.\n")
	if req.PriorError != "" {
		fmt.Fprintf(&sb, "\nThe previous translation failed with:\n%s\n", req.PriorError)
	}
	sb.WriteString(noFenceInstruction)
	sb.WriteString("\nPython:\n")
	sb.WriteString(req.Source)
	sb.WriteString("\n")
	return sb.String()
}

// BuildRepairPrompt asks for replacement code only.
func (pb *PromptBuilder) BuildRepairPrompt(code, compilerError string, violated []string) string {
	var sb strings.Builder
	sb.WriteString("Role: Senior Python engineer. Task: fix the function so every listed property holds for all inputs.\n")
	sb.WriteString("\nProperties that must hold (use `result` for the return value):\n")
	if len(violated) == 0 {
		sb.WriteString("- none reported\n")
	}
	for _, v := range violated {
		fmt.Fprintf(&sb, "- %s\n", v)
	}
	sb.WriteString("\nVerifier output:\n")
	sb.WriteString(strings.TrimSpace(compilerError))
	sb.WriteString("\n\nConstraints:\n")
	sb.WriteString("- Keep the function name, parameters and type annotations unchanged.\n")
	sb.WriteString("- Use only integer arithmetic, if/else, and the builtins len, abs, min, max, range.\n")
	sb.WriteString("- Do not add imports, classes, or calls to other functions.\n")
	sb.WriteString("\nRespond with the complete corrected Python function, then a line `EXPLANATION:` followed by one short paragraph.\n")
	sb.WriteString("\nPython:\n")
	sb.WriteString(code)
	sb.WriteString("\n")
	return sb.String()
}
