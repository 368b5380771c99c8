// Package verifier invokes the external proof compilers and turns their
// output into a per-obligation result. Each engine has one driver; the
// router dispatches on the route chosen before translation and never falls
// back to another engine.
package verifier

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"argus/internal/metrics"
	"argus/internal/property"
	"argus/internal/route"
	"argus/internal/translator"
)

// EngineConfig describes how to launch one compiler.
type EngineConfig struct {
	Command    string
	Args       []string
	ProjectDir string
	Timeout    time.Duration
}

// ObligationResult is the proof status of one goal.
type ObligationResult struct {
	Proved     bool   `json:"proved"`
	RawMessage string `json:"raw_message,omitempty"`
}

// Result is one completed compiler run.
type Result struct {
	Engine        route.Engine                `json:"engine"`
	PerObligation map[string]ObligationResult `json:"per_obligation"`
	AllPassed     bool                        `json:"all_passed"`
	Elapsed       time.Duration               `json:"elapsed"`
	ExitCode      int                         `json:"exit_code"`
	Output        string                      `json:"output,omitempty"`
}

// Failed returns the IDs of goals that did not prove, in set order.
func (r *Result) Failed(set *property.Set) []string {
	var out []string
	for _, ob := range set.Obligations {
		if !r.PerObligation[ob.ID].Proved {
			out = append(out, ob.ID)
		}
	}
	return out
}

// finish fills AllPassed and returns an ObligationFailure when any goal is
// unproved. An empty set never passes.
func finish(res *Result, set *property.Set) (*Result, error) {
	failed := res.Failed(set)
	res.AllPassed = len(set.Obligations) > 0 && len(failed) == 0
	if len(failed) > 0 {
		return res, &ObligationFailure{Engine: res.Engine, Failed: failed}
	}
	return res, nil
}

// Driver runs one engine.
type Driver interface {
	Engine() route.Engine
	Verify(ctx context.Context, a *translator.Artifact, set *property.Set) (*Result, error)
}

// invoke writes the artifact and runs the compiler on it, translating
// runner failures into the infrastructure error types.
func invoke(ctx context.Context, runner Runner, engine route.Engine, cfg EngineConfig, ext, source string) (Output, error) {
	var out Output
	cmd := Command{Name: cfg.Command, Dir: cfg.ProjectDir, Timeout: cfg.Timeout}
	err := withArtifact("", "argus-*"+ext, source, func(path string) error {
		cmd.Args = append(append([]string(nil), cfg.Args...), path)
		var err error
		out, err = runner.Run(ctx, cmd)
		return err
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return out, ctx.Err()
	case errors.Is(err, errDeadline):
		return out, &CompilerTimeoutError{Engine: engine, Timeout: cmd.effectiveTimeout().String()}
	default:
		return out, &CompilerCrashError{Engine: engine, Reason: "could not run " + cfg.Command, Err: err}
	}
	if out.Signaled {
		return out, &CompilerCrashError{Engine: engine, Reason: "terminated by signal", ExitCode: out.ExitCode, Stderr: out.Stderr}
	}
	return out, nil
}

// Router maps each engine to its driver.
type Router struct {
	drivers        map[route.Engine]Driver
	requireSandbox bool
	allowLocal     bool
	inSandbox      func(allowLocal bool) bool
	logger         *zap.Logger
}

type RouterOption func(*Router)

// WithSandbox refuses to start a compiler outside a container unless
// allowLocal is set.
func WithSandbox(require, allowLocal bool) RouterOption {
	return func(r *Router) {
		r.requireSandbox = require
		r.allowLocal = allowLocal
	}
}

func WithLogger(l *zap.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

func withSandboxCheck(fn func(bool) bool) RouterOption {
	return func(r *Router) { r.inSandbox = fn }
}

func NewRouter(drivers []Driver, opts ...RouterOption) *Router {
	r := &Router{
		drivers:   map[route.Engine]Driver{},
		inSandbox: InSandbox,
		logger:    zap.NewNop(),
	}
	for _, d := range drivers {
		r.drivers[d.Engine()] = d
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Verify runs the driver for rt.Engine on a.
func (r *Router) Verify(ctx context.Context, rt route.Route, a *translator.Artifact, set *property.Set) (*Result, error) {
	if a.Engine != rt.Engine {
		return nil, &ToolingError{Engine: rt.Engine, Reason: "artifact targets " + a.Engine.String()}
	}
	d, ok := r.drivers[rt.Engine]
	if !ok {
		return nil, &CompilerCrashError{Engine: rt.Engine, Reason: "no driver configured"}
	}
	if r.requireSandbox && !r.inSandbox(r.allowLocal) {
		return nil, &CompilerCrashError{Engine: rt.Engine, Reason: "refusing to run outside a sandbox; set ARGUS_ALLOW_LOCAL_VERIFY=true to override"}
	}

	start := time.Now()
	res, err := d.Verify(ctx, a, set)
	elapsed := time.Since(start)
	outcome := Outcome(err)
	metrics.ObserveVerifier(rt.Engine.String(), outcome, elapsed)
	r.logger.Debug("verifier finished",
		zap.String("engine", rt.Engine.String()),
		zap.String("function", a.Function),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", elapsed),
	)
	return res, err
}

// Outcome labels a driver error for metrics and traces.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "proved"
	case errors.Is(err, ErrObligationFailure):
		return "failed"
	case errors.Is(err, ErrCompilerTimeout):
		return "timeout"
	case errors.Is(err, ErrCompilerCrash):
		return "crash"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "tooling"
}
