package verifier

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"argus/internal/property"
	"argus/internal/route"
	"argus/internal/translator"
)

var DefaultDafny = EngineConfig{Command: "dafny", Args: []string{"verify"}}

// DafnyDriver checks SMT-backed artifacts. Every failing assertion or
// postcondition is mapped back to the obligation whose goal site it hits;
// a failure that maps to no goal leaves the run without a proof status.
type DafnyDriver struct {
	cfg    EngineConfig
	runner Runner
}

func NewDafnyDriver(cfg EngineConfig, runner Runner) *DafnyDriver {
	if cfg.Command == "" {
		cfg.Command, cfg.Args = DefaultDafny.Command, DefaultDafny.Args
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &DafnyDriver{cfg: cfg, runner: runner}
}

func (*DafnyDriver) Engine() route.Engine { return route.SMTBacked }

func (d *DafnyDriver) Verify(ctx context.Context, a *translator.Artifact, set *property.Set) (*Result, error) {
	out, err := invoke(ctx, d.runner, route.SMTBacked, d.cfg, ".dfy", a.Source)
	if err != nil {
		return nil, err
	}
	return parseDafny(a, set, out)
}

var (
	dafnyDiag       = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\): (Error|Warning|Related location): ?(.*)$`)
	dafnySummary    = regexp.MustCompile(`Dafny program verifier finished with (\d+) verified, (\d+) errors?(?:, (\d+) time outs?)?`)
	dafnyResolution = regexp.MustCompile(`(\d+) (?:resolution/type|parse) errors? detected`)
)

type dafnyFailure struct {
	line    int
	message string
	related []int
}

func parseDafny(a *translator.Artifact, set *property.Set, out Output) (*Result, error) {
	combined := strings.TrimSpace(out.Stdout + "\n" + out.Stderr)
	res := &Result{
		Engine:        route.SMTBacked,
		PerObligation: map[string]ObligationResult{},
		Elapsed:       out.Elapsed,
		ExitCode:      out.ExitCode,
		Output:        combined,
	}

	if m := dafnyResolution.FindStringSubmatch(combined); m != nil {
		return nil, &ToolingError{Engine: route.SMTBacked, Reason: m[0], Message: combined}
	}

	var failures []dafnyFailure
	for _, raw := range strings.Split(combined, "\n") {
		m := dafnyDiag.FindStringSubmatch(strings.TrimSpace(raw))
		if m == nil {
			continue
		}
		line, _ := strconv.Atoi(m[2])
		switch m[4] {
		case "Error":
			failures = append(failures, dafnyFailure{line: line, message: m[5]})
		case "Related location":
			if len(failures) > 0 {
				f := &failures[len(failures)-1]
				f.related = append(f.related, line)
			}
		}
	}

	sum := dafnySummary.FindStringSubmatch(combined)
	if sum == nil {
		if out.ExitCode != 0 && len(failures) == 0 {
			return nil, &CompilerCrashError{Engine: route.SMTBacked, Reason: "exited without a verification summary", ExitCode: out.ExitCode, Stderr: tail(out.Stderr)}
		}
		return nil, &ToolingError{Engine: route.SMTBacked, Reason: "no verification summary", Message: combined}
	}
	if sum[3] != "" && sum[3] != "0" {
		return nil, &ToolingError{Engine: route.SMTBacked, Reason: fmt.Sprintf("%s verification condition(s) timed out", sum[3]), Message: combined}
	}
	if n, _ := strconv.Atoi(sum[2]); n > 0 && len(failures) == 0 {
		return nil, &ToolingError{Engine: route.SMTBacked, Reason: "errors reported without locations", Message: combined}
	}
	if out.ExitCode != 0 && len(failures) == 0 {
		return nil, &ToolingError{Engine: route.SMTBacked, Reason: fmt.Sprintf("exit code %d without attributed failures", out.ExitCode), Message: combined}
	}

	failed := map[string][]string{}
	var unattributed []string
	for _, f := range failures {
		ids := map[string]bool{}
		for _, l := range append([]int{f.line}, f.related...) {
			for _, id := range a.ObligationAt(l) {
				ids[id] = true
			}
		}
		if len(ids) == 0 {
			unattributed = append(unattributed, fmt.Sprintf("line %d: %s", f.line, f.message))
			continue
		}
		for id := range ids {
			failed[id] = append(failed[id], fmt.Sprintf("line %d: %s", f.line, f.message))
		}
	}
	if len(unattributed) > 0 {
		return nil, &ToolingError{Engine: route.SMTBacked, Reason: "failures outside every goal", Message: strings.Join(unattributed, "\n")}
	}

	for _, ob := range set.Obligations {
		if msgs := failed[ob.ID]; len(msgs) > 0 {
			res.PerObligation[ob.ID] = ObligationResult{Proved: false, RawMessage: strings.Join(msgs, "\n")}
			continue
		}
		res.PerObligation[ob.ID] = ObligationResult{Proved: true}
	}
	return finish(res, set)
}
