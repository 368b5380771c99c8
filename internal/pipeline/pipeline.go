// Package pipeline runs one code unit through policy, discovery,
// canonicalization, translation, the semantic guard and a verifier, then
// repairs and re-runs it from scratch until the verdict contract says stop.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"argus/internal/discovery"
	"argus/internal/evidence"
	"argus/internal/extractor"
	"argus/internal/guard"
	"argus/internal/policy"
	"argus/internal/property"
	"argus/internal/repair"
	"argus/internal/route"
	"argus/internal/trace"
	"argus/internal/translator"
	"argus/internal/verdict"
	"argus/internal/verifier"
)

const (
	DefaultMaxAttempts = 3
	DefaultWorkers     = 4
)

// Verifier runs an artifact on the engine its route names.
// *verifier.Router is the production implementation.
type Verifier interface {
	Verify(ctx context.Context, rt route.Route, a *translator.Artifact, set *property.Set) (*verifier.Result, error)
}

// Input is one function to verify. Source is the whole file so that
// file-level constructs are seen by extraction.
type Input struct {
	Path     string `json:"path"`
	Function string `json:"function"`
	Source   []byte `json:"-"`
}

// UnitID names the unit in traces and reports.
func (in Input) UnitID() string { return in.Path + ":" + in.Function }

// Attempt is everything one pass produced. Nothing is dropped on failure.
type Attempt struct {
	Index        int                  `json:"index"`
	Code         string               `json:"code"`
	PropertySet  *property.Set        `json:"property_set,omitempty"`
	Route        *route.Route         `json:"route,omitempty"`
	Artifact     *translator.Artifact `json:"artifact,omitempty"`
	Verification *verifier.Result     `json:"verification,omitempty"`
	Decision     verdict.Decision     `json:"decision"`
	Error        string               `json:"error,omitempty"`
	Repair       *repair.Proposal     `json:"repair,omitempty"`
}

// Result is the terminal outcome for one unit: the verdict plus the final
// property set, artifact and verification result.
type Result struct {
	RunID        string               `json:"run_id"`
	Unit         string               `json:"unit"`
	Verdict      verdict.Verdict      `json:"verdict"`
	Reason       string               `json:"reason"`
	PropertySet  *property.Set        `json:"property_set,omitempty"`
	Artifact     *translator.Artifact `json:"artifact,omitempty"`
	Verification *verifier.Result     `json:"verification,omitempty"`
	Route        *route.Route         `json:"route,omitempty"`
	Attempts     []Attempt            `json:"attempts"`
	Error        string               `json:"error,omitempty"`
	Elapsed      time.Duration        `json:"elapsed_ns"`

	// Err is the retained error behind a non-passing verdict.
	Err error `json:"-"`
}

// Repairs returns the number of repair proposals that led to a new attempt.
func (r *Result) Repairs() int {
	if len(r.Attempts) == 0 {
		return 0
	}
	return len(r.Attempts) - 1
}

// Pipeline holds the stage implementations. It has no per-unit state and is
// safe for concurrent use.
type Pipeline struct {
	extractor       *extractor.Extractor
	policy          *policy.Engine
	discovery       *discovery.Adapter
	validator       *evidence.Validator
	translators     *translator.Registry
	guard           *guard.Guard
	verifier        Verifier
	proposer        repair.Proposer
	sink            trace.Sink
	logger          *zap.Logger
	maxAttempts     int
	workers         int
	providerTimeout time.Duration
}

type Option func(*Pipeline)

// WithDiscovery sets the candidate discovery adapter. Without it discovery
// contributes nothing.
func WithDiscovery(a *discovery.Adapter) Option {
	return func(p *Pipeline) { p.discovery = a }
}

// WithValidator sets the validator the assumption-coverage gate re-checks
// evidence with.
func WithValidator(v *evidence.Validator) Option {
	return func(p *Pipeline) { p.validator = v }
}

func WithTranslators(r *translator.Registry) Option {
	return func(p *Pipeline) { p.translators = r }
}

func WithPolicy(e *policy.Engine) Option {
	return func(p *Pipeline) { p.policy = e }
}

// WithProposer enables the repair loop.
func WithProposer(pr repair.Proposer) Option {
	return func(p *Pipeline) { p.proposer = pr }
}

func WithSink(s trace.Sink) Option {
	return func(p *Pipeline) { p.sink = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMaxAttempts bounds attempts per unit, the first one included.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithProviderTimeout bounds every reasoning-provider call.
func WithProviderTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.providerTimeout = d }
}

// New builds a pipeline that verifies through v.
func New(v Verifier, opts ...Option) (*Pipeline, error) {
	if v == nil {
		return nil, fmt.Errorf("pipeline: verifier is required")
	}
	ext, err := extractor.NewExtractor("python")
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}
	p := &Pipeline{
		extractor: ext,
		policy:    policy.Default(),
		discovery: discovery.NewAdapter(nil),
		validator: evidence.NewValidator(),
		translators: translator.NewRegistry(
			translator.ASTTranslator{},
			translator.LoopTranslator{},
			translator.NewReasoningTranslator(nil),
		),
		guard:       guard.New(),
		verifier:    v,
		sink:        trace.NopSink{},
		logger:      zap.NewNop(),
		maxAttempts: DefaultMaxAttempts,
		workers:     DefaultWorkers,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Extractor returns the extractor the pipeline parses with.
func (p *Pipeline) Extractor() *extractor.Extractor { return p.extractor }

func (p *Pipeline) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.providerTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.providerTimeout)
}
