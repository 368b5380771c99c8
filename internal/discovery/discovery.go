// Package discovery wraps the reasoning provider's property suggestions.
// Suggestions are candidates only: an obligation candidate can at most raise
// the severity of an obligation policy already derived, and an assumed input
// reaches the property set only through evidence validation.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"argus/internal/evidence"
	"argus/internal/extractor"
	"argus/internal/knowledge"
	"argus/internal/property"
)

// CandidateSource is the untrusted capability: it returns raw provider text
// for one code unit and may be called concurrently.
type CandidateSource interface {
	Candidates(ctx context.Context, source string) (string, error)
}

// GeneratorSource asks a knowledge.Generator with the discovery prompt.
type GeneratorSource struct {
	gen     knowledge.Generator
	prompts *knowledge.PromptBuilder
}

func NewGeneratorSource(gen knowledge.Generator) *GeneratorSource {
	return &GeneratorSource{gen: gen, prompts: &knowledge.PromptBuilder{}}
}

func (s *GeneratorSource) Candidates(ctx context.Context, source string) (string, error) {
	return s.gen.Generate(ctx, s.prompts.BuildDiscoveryPrompt(source))
}

// Admitted is everything discovery may contribute to a property set. It has
// no path to construct an Obligation.
type Admitted struct {
	raises      map[obligationKey]property.Severity
	assumptions []evidence.Accepted

	// RawOutput is the provider text, kept for the trace.
	RawOutput string
	// BatchError is set when the whole batch was discarded.
	BatchError error
	// Discarded counts obligation candidates with no policy equivalent.
	Discarded int
	// LoopInvariants are parsed for the trace but never forwarded: the loop
	// translator synthesizes its own.
	LoopInvariants []string
}

type obligationKey struct {
	category property.Category
	property string
}

// Severity returns the severity discovery asks for on a policy obligation.
func (a Admitted) Severity(cat property.Category, prop string) (property.Severity, bool) {
	s, ok := a.raises[obligationKey{cat, prop}]
	return s, ok
}

// Assumptions returns the validated assumed inputs in provider order.
func (a Admitted) Assumptions() []evidence.Accepted {
	return append([]evidence.Accepted(nil), a.assumptions...)
}

// Adapter runs a CandidateSource and gates its output.
type Adapter struct {
	source    CandidateSource
	validator *evidence.Validator
	logger    *zap.Logger
}

type Option func(*Adapter)

func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

func WithValidator(v *evidence.Validator) Option {
	return func(a *Adapter) { a.validator = v }
}

// NewAdapter builds an adapter. A nil source disables discovery.
func NewAdapter(source CandidateSource, opts ...Option) *Adapter {
	a := &Adapter{source: source, validator: evidence.NewValidator(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Discover queries the source for u and admits what passes. A provider
// failure or malformed batch yields zero candidates. Rejected assumptions
// return an *evidence.EvidenceMissingError alongside the admitted remainder.
func (a *Adapter) Discover(ctx context.Context, u *extractor.CodeUnit, policyObs []property.Obligation) (Admitted, error) {
	out := Admitted{raises: map[obligationKey]property.Severity{}}
	if a.source == nil {
		return out, nil
	}

	raw, err := a.source.Candidates(ctx, u.Content)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		out.BatchError = fmt.Errorf("candidate source: %w", err)
		a.logger.Warn("discovery provider failed", zap.String("unit", u.Name), zap.Error(err))
		return out, nil
	}
	out.RawOutput = raw

	batch, err := ParseBatch(raw)
	if err != nil {
		out.BatchError = err
		a.logger.Warn("discovery batch discarded", zap.String("unit", u.Name), zap.Error(err))
		return out, nil
	}
	out.LoopInvariants = batch.LoopInvariants

	known := make(map[obligationKey]bool, len(policyObs))
	for _, o := range policyObs {
		known[obligationKey{o.Category, o.Property}] = true
	}
	for _, c := range batch.Obligations {
		norm, err := extractor.NormalizeExpr(c.Property)
		if err != nil {
			out.Discarded++
			continue
		}
		k := obligationKey{c.Category, norm}
		if !known[k] {
			out.Discarded++
			continue
		}
		out.raises[k] = property.MaxSeverity(out.raises[k], c.Severity)
	}

	accepted, err := a.validator.ValidateAll(batch.AssumedInputs)
	out.assumptions = accepted
	if err != nil {
		var eme *evidence.EvidenceMissingError
		if errors.As(err, &eme) {
			a.logger.Info("assumptions rejected", zap.String("unit", u.Name), zap.Strings("properties", eme.Properties()))
		}
		return out, err
	}

	a.logger.Debug("discovery admitted",
		zap.String("unit", u.Name),
		zap.Int("raised", len(out.raises)),
		zap.Int("assumptions", len(out.assumptions)),
		zap.Int("discarded", out.Discarded))
	return out, nil
}
