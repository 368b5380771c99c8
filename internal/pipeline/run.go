package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"argus/internal/canon"
	"argus/internal/discovery"
	"argus/internal/evidence"
	"argus/internal/extractor"
	"argus/internal/guard"
	"argus/internal/metrics"
	"argus/internal/property"
	"argus/internal/repair"
	"argus/internal/route"
	"argus/internal/trace"
	"argus/internal/translator"
	"argus/internal/verdict"
	"argus/internal/verifier"
)

// unitRun is the state of one unit's pipeline. It is owned by a single
// goroutine.
type unitRun struct {
	p        *Pipeline
	runID    string
	in       Input
	unit     string
	seq      int
	res      *Result
	origCats map[property.Category]bool
	log      *zap.Logger
}

// Run verifies one unit. It never fails: every error, panics included,
// becomes a terminal verdict with the error retained on the result.
func (p *Pipeline) Run(ctx context.Context, runID string, in Input) (res *Result) {
	start := time.Now()
	r := &unitRun{
		p:     p,
		runID: runID,
		in:    in,
		unit:  in.UnitID(),
		res:   &Result{RunID: runID, Unit: in.UnitID()},
		log:   p.logger.With(zap.String("run_id", runID), zap.String("unit", in.UnitID())),
	}
	res = r.res
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("unit pipeline panicked", zap.Any("panic", v), zap.Stack("stack"))
			r.finish(ctx, verdict.Decision{Verdict: verdict.Error, Reason: "internal error", Terminal: true}, fmt.Errorf("panic: %v", v))
		}
		res.Elapsed = time.Since(start)
	}()

	code := in.Source
	for idx := 0; ; idx++ {
		at, dec, err := r.attempt(ctx, idx, code)
		at.Decision = dec
		if err != nil {
			at.Error = err.Error()
		}
		res.Attempts = append(res.Attempts, at)
		if dec.Terminal {
			r.finish(ctx, dec, err)
			return res
		}
		r.emit(ctx, idx, trace.StageVerdict, time.Now(), nil, trace.Record{Detail: trace.Detail(dec)})

		prop, perr := r.repairStage(ctx, idx, &res.Attempts[idx], err)
		if perr != nil {
			if cerr := ctx.Err(); cerr != nil {
				r.finish(ctx, cancelled(cerr), cerr)
				return res
			}
			r.finish(ctx,
				verdict.Decision{Verdict: verdict.Vulnerable, Reason: dec.Reason + "; no usable repair", Terminal: true},
				&RepairExhaustedError{Attempts: idx + 1, Cause: errors.Join(err, fmt.Errorf("repair: %w", perr))})
			return res
		}
		code = []byte(prop.Code)
	}
}

// attempt runs every stage once on code. Stages are strictly sequential and
// the first failing gate decides the attempt.
func (r *unitRun) attempt(ctx context.Context, idx int, code []byte) (Attempt, verdict.Decision, error) {
	at := Attempt{Index: idx, Code: string(code)}
	in := verdict.Inputs{
		ConstructSupported: true,
		EvidenceValid:      true,
		GuardPassed:        true,
		Tooling:            verdict.NotRun,
		AttemptIndex:       idx,
		MaxAttempts:        r.p.maxAttempts,
	}
	if err := ctx.Err(); err != nil {
		return at, cancelled(err), err
	}

	// Unsupported repaired code means the repair is unusable; the original
	// code is still the one that failed.
	unsupported := func(err error, constructs []string) (Attempt, verdict.Decision, error) {
		if idx > 0 {
			return at, verdict.Decision{
				Verdict:  verdict.Vulnerable,
				Reason:   "repaired code is outside the supported subset: " + strings.Join(constructs, ", "),
				Terminal: true,
			}, err
		}
		in.ConstructSupported = false
		in.Unsupported = constructs
		return at, verdict.Decide(in), err
	}

	u, err := r.extractStage(ctx, idx, code)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return at, cancelled(cerr), cerr
		}
		return unsupported(err, []string{err.Error()})
	}
	at.Code = u.Content

	obs, err := r.policyStage(ctx, idx, u)
	if err != nil {
		var uce *extractor.UnsupportedConstructError
		if errors.As(err, &uce) {
			return unsupported(err, uce.Constructs)
		}
		in.Tooling = verdict.Recoverable
		return at, verdict.Decide(in), err
	}
	if idx == 0 {
		r.origCats = categories(obs)
	}
	in.CategoriesPreserved = covers(categories(obs), r.origCats)

	adm, err := r.discoveryStage(ctx, idx, u, obs)
	if err != nil {
		var eme *evidence.EvidenceMissingError
		if errors.As(err, &eme) {
			in.EvidenceValid = false
			in.RejectedEvidence = eme.Properties()
			// The set records what was admitted; it is never translated.
			if set, berr := canon.Build(u.Name, obs, adm); berr == nil {
				at.PropertySet = set
			}
			return at, verdict.Decide(in), err
		}
		return at, cancelled(err), err
	}

	set, err := r.canonStage(ctx, idx, u, obs, adm)
	if err != nil {
		in.Tooling = verdict.Recoverable
		return at, verdict.Decide(in), err
	}
	at.PropertySet = set

	rt := r.routeStage(ctx, idx, u)
	at.Route = &rt
	in.Producers = producers(rt)

	a, err := r.translateStage(ctx, idx, u, set, rt)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return at, cancelled(cerr), cerr
		}
		in.Tooling = verdict.Recoverable
		return at, verdict.Decide(in), err
	}
	at.Artifact = a

	if err := r.guardStage(ctx, idx, u, set, a); err != nil {
		in.GuardPassed = false
		return at, verdict.Decide(in), err
	}

	res, err := r.verifyStage(ctx, idx, rt, a, set)
	at.Verification = res
	if cerr := ctx.Err(); cerr != nil {
		return at, cancelled(cerr), errors.Join(err, cerr)
	}
	in.Tooling = toolingOf(err)
	in.AllPassed = err == nil && res != nil && res.AllPassed
	return at, verdict.Decide(in), err
}

func (r *unitRun) extractStage(ctx context.Context, idx int, code []byte) (*extractor.CodeUnit, error) {
	start := time.Now()
	u, err := r.p.extractor.ParseFunction(ctx, code, r.in.Path, r.in.Function)
	rec := trace.Record{Inputs: map[string]string{"source": trace.Hash(code)}}
	if err == nil {
		rec.Detail = trace.Detail(map[string]any{
			"function":    u.Name,
			"start_line":  u.StartLine,
			"end_line":    u.EndLine,
			"unsupported": u.Unsupported,
		})
	}
	r.emit(ctx, idx, trace.StageExtract, start, err, rec)
	return u, err
}

func (r *unitRun) policyStage(ctx context.Context, idx int, u *extractor.CodeUnit) ([]property.Obligation, error) {
	start := time.Now()
	obs, err := r.p.policy.Derive(u)
	props := make([]string, len(obs))
	for i, o := range obs {
		props[i] = string(o.Category) + ": " + o.Property
	}
	r.emit(ctx, idx, trace.StagePolicy, start, err, trace.Record{
		Inputs: map[string]string{"unit": trace.HashString(u.Content)},
		Detail: trace.Detail(map[string]any{"obligations": props}),
	})
	return obs, err
}

// discoveryStage returns an error only for rejected evidence or a cancelled
// run. Provider failures leave zero candidates.
func (r *unitRun) discoveryStage(ctx context.Context, idx int, u *extractor.CodeUnit, obs []property.Obligation) (discovery.Admitted, error) {
	start := time.Now()
	pctx, cancel := r.p.providerContext(ctx)
	defer cancel()

	adm, err := r.p.discovery.Discover(pctx, u, obs)
	rec := trace.Record{
		Inputs: map[string]string{"unit": trace.HashString(u.Content)},
		Raw:    adm.RawOutput,
	}
	var eme *evidence.EvidenceMissingError
	switch {
	case err == nil, errors.As(err, &eme):
	case ctx.Err() != nil:
		err = ctx.Err()
	default:
		r.log.Warn("discovery provider did not answer", zap.Error(err))
		rec.Status = trace.StatusFailed
		rec.Error = err.Error()
		adm, err = discovery.Admitted{}, nil
	}

	outcome := discoveryOutcome(adm, rec.Error != "")
	metrics.RecordDiscoveryBatch(outcome)
	accepted := adm.Assumptions()
	assumed := make([]string, len(accepted))
	for i, a := range accepted {
		assumed[i] = a.Property()
	}
	detail := map[string]any{
		"outcome":         outcome,
		"assumptions":     assumed,
		"discarded":       adm.Discarded,
		"loop_invariants": adm.LoopInvariants,
	}
	if adm.BatchError != nil {
		detail["batch_error"] = adm.BatchError.Error()
	}
	if eme != nil {
		detail["rejected"] = eme.Properties()
	}
	rec.Detail = trace.Detail(detail)
	r.emit(ctx, idx, trace.StageDiscovery, start, err, rec)
	return adm, err
}

func discoveryOutcome(adm discovery.Admitted, failed bool) string {
	switch {
	case failed:
		return "failed"
	case adm.BatchError != nil && adm.RawOutput == "":
		return "failed"
	case adm.BatchError != nil:
		return "discarded"
	case adm.RawOutput == "":
		return "disabled"
	}
	return "admitted"
}

func (r *unitRun) canonStage(ctx context.Context, idx int, u *extractor.CodeUnit, obs []property.Obligation, adm discovery.Admitted) (*property.Set, error) {
	start := time.Now()
	set, err := canon.Build(u.Name, obs, adm)
	rec := trace.Record{Inputs: map[string]string{"unit": trace.HashString(u.Content)}}
	if err == nil {
		rec.Detail = trace.Detail(map[string]any{
			"property_set_hash": set.Hash,
			"obligations":       set.ObligationIDs(),
			"assumptions":       len(set.Assumptions),
		})
	}
	r.emit(ctx, idx, trace.StageCanon, start, err, rec)
	return set, err
}

func (r *unitRun) routeStage(ctx context.Context, idx int, u *extractor.CodeUnit) route.Route {
	start := time.Now()
	rt := route.Select(u)
	r.emit(ctx, idx, trace.StageRoute, start, nil, trace.Record{
		Inputs: map[string]string{"unit": trace.HashString(u.Content)},
		Detail: trace.Detail(rt),
	})
	return rt
}

func (r *unitRun) translateStage(ctx context.Context, idx int, u *extractor.CodeUnit, set *property.Set, rt route.Route) (*translator.Artifact, error) {
	start := time.Now()
	var a *translator.Artifact
	tr, err := r.p.translators.For(rt.Translator)
	if err == nil {
		tctx, cancel := ctx, context.CancelFunc(func() {})
		if rt.Translator == route.ReasoningAssisted {
			tctx, cancel = r.p.providerContext(ctx)
		}
		a, err = tr.Translate(tctx, u, set)
		cancel()
	}

	rec := trace.Record{Inputs: map[string]string{
		"unit":         trace.HashString(u.Content),
		"property_set": set.Hash,
	}}
	detail := map[string]any{"translator": rt.Translator, "engine": rt.Engine}
	if a != nil {
		rec.Raw = a.RawOutput
		detail["artifact_hash"] = trace.HashString(a.Source)
		detail["goals"] = a.Goals
	}
	rec.Detail = trace.Detail(detail)
	r.emit(ctx, idx, trace.StageTranslate, start, err, rec)
	return a, err
}

func (r *unitRun) guardStage(ctx context.Context, idx int, u *extractor.CodeUnit, set *property.Set, a *translator.Artifact) error {
	start := time.Now()
	err := r.p.guard.Check(u, set, a)
	rec := trace.Record{Inputs: map[string]string{
		"artifact":     trace.HashString(a.Source),
		"property_set": set.Hash,
	}}
	var gve *guard.GuardViolationError
	if errors.As(err, &gve) {
		for _, c := range gve.Codes() {
			metrics.RecordGuardViolation(string(c))
		}
		rec.Detail = trace.Detail(map[string]any{"violations": gve.Violations})
	}
	r.emit(ctx, idx, trace.StageGuard, start, err, rec)
	return err
}

func (r *unitRun) verifyStage(ctx context.Context, idx int, rt route.Route, a *translator.Artifact, set *property.Set) (*verifier.Result, error) {
	start := time.Now()
	res, err := r.p.verifier.Verify(ctx, rt, a, set)
	rec := trace.Record{Inputs: map[string]string{
		"artifact":     trace.HashString(a.Source),
		"property_set": set.Hash,
	}}
	detail := map[string]any{"engine": rt.Engine, "outcome": verifier.Outcome(err)}
	if res != nil {
		rec.Raw = res.Output
		detail["exit_code"] = res.ExitCode
		detail["failed"] = res.Failed(set)
		detail["all_passed"] = res.AllPassed
	}
	rec.Detail = trace.Detail(detail)
	r.emit(ctx, idx, trace.StageVerify, start, err, rec)
	return res, err
}

// repairStage asks for replacement code. The proposer sees code, compiler
// output and violated properties only; the property set is never handed
// over.
func (r *unitRun) repairStage(ctx context.Context, idx int, at *Attempt, cause error) (repair.Proposal, error) {
	start := time.Now()
	if r.p.proposer == nil {
		err := errors.New("no repair proposer configured")
		r.emit(ctx, idx, trace.StageRepair, start, err, trace.Record{Status: trace.StatusSkipped})
		return repair.Proposal{}, err
	}

	req := repair.Request{
		Code:          at.Code,
		CompilerError: compilerError(at, cause),
		Violated:      r.violated(at),
	}
	pctx, cancel := r.p.providerContext(ctx)
	defer cancel()
	prop, err := r.p.proposer.Propose(pctx, req)
	if err == nil {
		at.Repair = &prop
	}
	r.emit(ctx, idx, trace.StageRepair, start, err, trace.Record{
		Inputs: map[string]string{
			"code":           trace.HashString(req.Code),
			"compiler_error": trace.HashString(req.CompilerError),
		},
		Raw: prop.Raw,
		Detail: trace.Detail(map[string]any{
			"violated":    req.Violated,
			"explanation": prop.Explanation,
		}),
	})
	return prop, err
}

func compilerError(at *Attempt, cause error) string {
	if at.Verification != nil && at.Verification.Output != "" {
		return at.Verification.Output
	}
	if cause != nil {
		return cause.Error()
	}
	return ""
}

// violated lists the property text of every unproved obligation, or the
// policy categories the attempt lost when everything proved.
func (r *unitRun) violated(at *Attempt) []string {
	var out []string
	if at.Verification != nil && at.PropertySet != nil {
		for _, id := range at.Verification.Failed(at.PropertySet) {
			if ob, ok := at.PropertySet.Obligation(id); ok {
				out = append(out, ob.Property)
			}
		}
	}
	if len(out) > 0 || at.PropertySet == nil {
		return out
	}
	have := at.PropertySet.CategorySet()
	for _, c := range property.Categories {
		if r.origCats[c] && !have[c] {
			out = append(out, fmt.Sprintf("policy requires a %s obligation", c))
		}
	}
	return out
}

func (r *unitRun) finish(ctx context.Context, dec verdict.Decision, err error) {
	if dec.Verdict == verdict.Vulnerable {
		var ree *RepairExhaustedError
		if !errors.As(err, &ree) {
			err = &RepairExhaustedError{Attempts: len(r.res.Attempts), Cause: err}
		}
	}

	res := r.res
	res.Verdict = dec.Verdict
	res.Reason = dec.Reason
	res.Err = err
	if err != nil {
		res.Error = err.Error()
	}
	for i := len(res.Attempts) - 1; i >= 0; i-- {
		at := res.Attempts[i]
		if res.PropertySet == nil {
			res.PropertySet = at.PropertySet
		}
		if res.Artifact == nil {
			res.Artifact = at.Artifact
		}
		if res.Verification == nil {
			res.Verification = at.Verification
		}
		if res.Route == nil {
			res.Route = at.Route
		}
	}

	engine := "none"
	if res.Route != nil {
		engine = res.Route.Engine.String()
	}
	metrics.RecordVerdict(string(dec.Verdict), engine)

	attempt := len(res.Attempts) - 1
	if attempt < 0 {
		attempt = 0
	}
	r.emit(ctx, attempt, trace.StageVerdict, time.Now(), err, trace.Record{
		Status: trace.StatusOK,
		Detail: trace.Detail(dec),
	})
	r.log.Info("unit verdict",
		zap.String("verdict", string(dec.Verdict)),
		zap.String("engine", engine),
		zap.Int("attempts", len(res.Attempts)),
		zap.String("reason", dec.Reason),
	)
}

// emit writes one trace record. A sink failure is logged and never changes
// the unit's outcome.
func (r *unitRun) emit(ctx context.Context, attempt int, stage trace.Stage, start time.Time, err error, rec trace.Record) {
	rec.RunID = r.runID
	rec.Unit = r.unit
	rec.Attempt = attempt
	rec.Seq = r.seq
	rec.Stage = stage
	rec.Elapsed = time.Since(start)
	rec.At = start
	r.seq++
	if rec.Status == "" {
		rec.Status = trace.StatusOK
		if err != nil {
			rec.Status = trace.StatusFailed
		}
	}
	if err != nil && rec.Error == "" {
		rec.Error = err.Error()
	}
	if werr := r.p.sink.Write(context.WithoutCancel(ctx), rec); werr != nil {
		r.log.Warn("trace write failed", zap.String("stage", string(stage)), zap.Error(werr))
	}
	r.log.Debug("stage finished",
		zap.String("stage", string(stage)),
		zap.Int("attempt", attempt),
		zap.String("status", string(rec.Status)),
		zap.Duration("elapsed", rec.Elapsed),
	)
}

func cancelled(err error) verdict.Decision {
	d := verdict.Decide(verdict.Inputs{
		ConstructSupported: true,
		EvidenceValid:      true,
		GuardPassed:        true,
		Tooling:            verdict.Infrastructure,
	})
	d.Reason = "run cancelled: " + err.Error()
	return d
}

func toolingOf(err error) verdict.Tooling {
	switch {
	case err == nil, errors.Is(err, verifier.ErrObligationFailure):
		return verdict.Completed
	case errors.Is(err, verifier.ErrCompilerTimeout), errors.Is(err, verifier.ErrCompilerCrash),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return verdict.Infrastructure
	}
	return verdict.Recoverable
}

func producers(rt route.Route) []verdict.Module {
	ms := []verdict.Module{verdict.Policy, verdict.Evidence, verdict.Canonicalizer, verdict.Guard}
	switch rt.Translator {
	case route.AST:
		ms = append(ms, verdict.ASTTranslator)
	case route.LoopSpecialist:
		ms = append(ms, verdict.LoopTranslator)
	case route.ReasoningAssisted:
		ms = append(ms, verdict.ReasoningTranslator)
	}
	switch rt.Engine {
	case route.ProofCompiler:
		ms = append(ms, verdict.LeanVerifier)
	case route.SMTBacked:
		ms = append(ms, verdict.DafnyVerifier)
	}
	return ms
}

func categories(obs []property.Obligation) map[property.Category]bool {
	out := make(map[property.Category]bool, len(obs))
	for _, o := range obs {
		out[o.Category] = true
	}
	return out
}

func covers(have, want map[property.Category]bool) bool {
	for c := range want {
		if !have[c] {
			return false
		}
	}
	return true
}
