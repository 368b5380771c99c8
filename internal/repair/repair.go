// Package repair asks the reasoning provider for replacement code. The
// proposer sees code, compiler output and the violated property text; it
// returns code and nothing the pipeline treats as a pass criterion.
package repair

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"argus/internal/knowledge"
	"argus/internal/metrics"
)

// ErrRejected marks a proposal that cannot be used as code.
var ErrRejected = errors.New("repair proposal rejected")

// Request is the whole input of one repair call.
type Request struct {
	Code          string
	CompilerError string
	Violated      []string
}

// Proposal is untrusted output. Explanation is for the report only.
type Proposal struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation,omitempty"`
	Raw         string `json:"raw"`
}

// Proposer produces replacement code.
type Proposer interface {
	Propose(ctx context.Context, req Request) (Proposal, error)
}

// GeneratorProposer backs Proposer with a knowledge.Generator.
type GeneratorProposer struct {
	gen     knowledge.Generator
	prompts *knowledge.PromptBuilder
	logger  *zap.Logger
}

func NewGeneratorProposer(gen knowledge.Generator, logger *zap.Logger) *GeneratorProposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeneratorProposer{gen: gen, prompts: &knowledge.PromptBuilder{}, logger: logger}
}

func (p *GeneratorProposer) Propose(ctx context.Context, req Request) (Proposal, error) {
	if p.gen == nil {
		return Proposal{}, errors.New("no reasoning provider configured for repair")
	}
	metrics.RecordRepairAttempt()
	raw, err := p.gen.Generate(ctx, p.prompts.BuildRepairPrompt(req.Code, req.CompilerError, req.Violated))
	if err != nil {
		if ctx.Err() != nil {
			return Proposal{}, ctx.Err()
		}
		return Proposal{}, fmt.Errorf("repair provider: %w", err)
	}
	prop, err := ParseProposal(raw)
	if err != nil {
		p.logger.Debug("repair proposal rejected", zap.Error(err))
		return prop, err
	}
	return prop, nil
}

var (
	explanationLine = regexp.MustCompile(`(?im)^\s*EXPLANATION:`)
	proofMarker     = regexp.MustCompile(`\b(sorry|admit)\b|argus:`)
	functionDef     = regexp.MustCompile(`(?m)^\s*def\s+\w+\s*\(`)
)

// ParseProposal splits raw provider text into code and explanation and
// rejects anything that is not plain replacement code.
func ParseProposal(raw string) (Proposal, error) {
	prop := Proposal{Raw: raw}
	body := raw
	if loc := explanationLine.FindStringIndex(raw); loc != nil {
		body = raw[:loc[0]]
		prop.Explanation = strings.TrimSpace(raw[loc[1]:])
	}
	code := knowledge.CleanFencedOutput(body)
	switch {
	case code == "":
		return prop, fmt.Errorf("%w: empty code", ErrRejected)
	case proofMarker.MatchString(code):
		return prop, fmt.Errorf("%w: code carries proof or manifest markers", ErrRejected)
	case strings.HasPrefix(code, "{"):
		return prop, fmt.Errorf("%w: structured payload instead of code", ErrRejected)
	case !functionDef.MatchString(code):
		return prop, fmt.Errorf("%w: no function definition", ErrRejected)
	}
	prop.Code = code + "\n"
	return prop, nil
}
