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

// DefaultLean runs the file inside the configured Lake project.
var DefaultLean = EngineConfig{Command: "lake", Args: []string{"env", "lean"}}

// LeanDriver checks proof-compiler artifacts. A goal proves only when the
// compiler exits cleanly and no incomplete-proof marker is present anywhere
// in the artifact or its output.
type LeanDriver struct {
	cfg    EngineConfig
	runner Runner
}

func NewLeanDriver(cfg EngineConfig, runner Runner) *LeanDriver {
	if cfg.Command == "" {
		cfg.Command, cfg.Args = DefaultLean.Command, DefaultLean.Args
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &LeanDriver{cfg: cfg, runner: runner}
}

func (*LeanDriver) Engine() route.Engine { return route.ProofCompiler }

func (d *LeanDriver) Verify(ctx context.Context, a *translator.Artifact, set *property.Set) (*Result, error) {
	out, err := invoke(ctx, d.runner, route.ProofCompiler, d.cfg, ".lean", a.Source)
	if err != nil {
		return nil, err
	}
	return parseLean(a, set, out)
}

var (
	leanDiag   = regexp.MustCompile(`^(.+?):(\d+):(\d+): (error|warning|info)(?:\([^)]*\))?: ?(.*)$`)
	leanMarker = regexp.MustCompile(`\b(sorry|admit)\b`)
)

const leanSorryWarning = "declaration uses 'sorry'"

type diagnostic struct {
	line     int
	severity string
	message  string
}

func parseLeanDiagnostics(output string) []diagnostic {
	var out []diagnostic
	for _, raw := range strings.Split(output, "\n") {
		if m := leanDiag.FindStringSubmatch(raw); m != nil {
			line, _ := strconv.Atoi(m[2])
			out = append(out, diagnostic{line: line, severity: m[4], message: m[5]})
			continue
		}
		if len(out) > 0 && strings.TrimSpace(raw) != "" {
			out[len(out)-1].message += "\n" + raw
		}
	}
	return out
}

// sourceHasMarker scans code lines, skipping comments, for sorry or admit.
func sourceHasMarker(src string) bool {
	for _, l := range strings.Split(src, "\n") {
		code, _, _ := strings.Cut(l, "--")
		if leanMarker.MatchString(code) {
			return true
		}
	}
	return false
}

func parseLean(a *translator.Artifact, set *property.Set, out Output) (*Result, error) {
	combined := strings.TrimSpace(out.Stdout + "\n" + out.Stderr)
	res := &Result{
		Engine:        route.ProofCompiler,
		PerObligation: map[string]ObligationResult{},
		Elapsed:       out.Elapsed,
		ExitCode:      out.ExitCode,
		Output:        combined,
	}

	diags := parseLeanDiagnostics(combined)
	marker := sourceHasMarker(a.Source)
	failed := map[string][]string{}
	var unattributed []string
	errorsSeen := 0
	for _, dg := range diags {
		if dg.severity == "warning" && strings.Contains(dg.message, leanSorryWarning) {
			marker = true
			continue
		}
		if dg.severity != "error" {
			continue
		}
		errorsSeen++
		ids := a.ObligationAt(dg.line)
		if len(ids) == 0 {
			unattributed = append(unattributed, fmt.Sprintf("line %d: %s", dg.line, dg.message))
			continue
		}
		for _, id := range ids {
			failed[id] = append(failed[id], dg.message)
		}
	}

	if out.ExitCode != 0 && errorsSeen == 0 {
		return nil, &CompilerCrashError{Engine: route.ProofCompiler, Reason: "exited without diagnostics", ExitCode: out.ExitCode, Stderr: tail(out.Stderr)}
	}
	if len(unattributed) > 0 {
		return nil, &ToolingError{Engine: route.ProofCompiler, Reason: "errors outside every goal", Message: strings.Join(unattributed, "\n")}
	}

	for _, ob := range set.Obligations {
		r := ObligationResult{Proved: true}
		switch {
		case marker:
			r = ObligationResult{Proved: false, RawMessage: "incomplete proof marker present"}
		case len(failed[ob.ID]) > 0:
			r = ObligationResult{Proved: false, RawMessage: strings.Join(failed[ob.ID], "\n")}
		}
		res.PerObligation[ob.ID] = r
	}
	return finish(res, set)
}

func tail(s string) string {
	const max = 2048
	if len(s) > max {
		return s[len(s)-max:]
	}
	return s
}
