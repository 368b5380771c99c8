package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"argus/internal/extractor"
	"argus/internal/knowledge"
	"argus/internal/property"
	"argus/internal/route"
)

// ReasoningTranslator asks the reasoning provider for a Lean definition of
// constructs the AST translator cannot lower. The provider never writes a
// statement: theorem statements and the manifest are rendered here, and the
// provider only contributes the definition body and optional proofs.
type ReasoningTranslator struct {
	gen     knowledge.Generator
	prompts *knowledge.PromptBuilder
}

func NewReasoningTranslator(gen knowledge.Generator) *ReasoningTranslator {
	return &ReasoningTranslator{gen: gen, prompts: &knowledge.PromptBuilder{}}
}

func (*ReasoningTranslator) Kind() route.TranslatorKind { return route.ReasoningAssisted }

type reasoningResponse struct {
	Definition *string           `json:"definition"`
	Proofs     map[string]string `json:"proofs"`
}

func (t *ReasoningTranslator) Translate(ctx context.Context, u *extractor.CodeUnit, set *property.Set) (*Artifact, error) {
	if t.gen == nil {
		return nil, newError(route.ReasoningAssisted, "no reasoning provider configured")
	}
	c, err := newLeanCtx(u)
	if err != nil {
		return nil, &TranslationError{Translator: route.ReasoningAssisted, Reason: "signature", Err: err}
	}

	theorems := make([]string, 0, len(set.Obligations))
	for _, ob := range set.Obligations {
		stmt, err := c.statement(set, ob)
		if err != nil {
			return nil, &TranslationError{Translator: route.ReasoningAssisted, Reason: "theorems", Err: err}
		}
		theorems = append(theorems, stmt)
	}

	sig := c.signature()
	raw, err := t.gen.Generate(ctx, t.prompts.BuildTranslationPrompt(knowledge.TranslationRequest{
		Source:    u.Content,
		Function:  u.Name,
		Signature: sig,
		Theorems:  theorems,
		Language:  "Lean 4",
	}))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TranslationError{Translator: route.ReasoningAssisted, Reason: "provider", Err: err}
	}

	var resp reasoningResponse
	if err := json.Unmarshal([]byte(knowledge.CleanFencedOutput(raw)), &resp); err != nil || resp.Definition == nil {
		return nil, &TranslationError{Translator: route.ReasoningAssisted, Reason: "malformed provider response", Err: err}
	}
	def := strings.TrimSpace(*resp.Definition)
	if err := checkDefinition(def, sig); err != nil {
		return nil, &TranslationError{Translator: route.ReasoningAssisted, Reason: "definition rejected", Err: err}
	}
	for name, proof := range resp.Proofs {
		if _, ok := set.Obligation(name); !ok {
			return nil, newError(route.ReasoningAssisted, "proof for unknown theorem %q", name)
		}
		proof = strings.TrimSpace(proof)
		if !strings.HasPrefix(proof, "by") {
			return nil, newError(route.ReasoningAssisted, "proof for %q is not a tactic block", name)
		}
		if err := checkProviderLean(proof, false); err != nil {
			return nil, &TranslationError{Translator: route.ReasoningAssisted, Reason: "proof for " + name + " rejected", Err: err}
		}
	}

	src, goals, err := assembleLean(c, kindedSet{route.ProofCompiler, route.ReasoningAssisted, set}, def, resp.Proofs)
	if err != nil {
		return nil, &TranslationError{Translator: route.ReasoningAssisted, Reason: "assemble", Err: err}
	}
	return &Artifact{
		Engine:          route.ProofCompiler,
		Translator:      route.ReasoningAssisted,
		Function:        u.Name,
		Source:          src,
		PropertySetHash: set.Hash,
		Goals:           goals,
		RawOutput:       raw,
	}, nil
}

// checkDefinition enforces the fixed signature and requires def to be that
// one declaration and nothing else.
func checkDefinition(def, sig string) error {
	if !strings.HasPrefix(def, sig+" :=") && !strings.HasPrefix(def, sig+"\n") {
		return fmt.Errorf("definition does not start with %q", sig)
	}
	return checkProviderLean(def, true)
}
