package verifier

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/internal/property"
	"argus/internal/route"
	"argus/internal/translator"
)

type fakeRunner struct {
	out   Output
	err   error
	calls []Command
	seen  []bool // whether the artifact existed during the call
}

func (f *fakeRunner) Run(_ context.Context, c Command) (Output, error) {
	f.calls = append(f.calls, c)
	_, err := os.Stat(c.Args[len(c.Args)-1])
	f.seen = append(f.seen, err == nil)
	return f.out, f.err
}

func twoGoalSet() *property.Set {
	return &property.Set{
		Function: "f",
		Hash:     "h",
		Obligations: []property.Obligation{
			{ID: "f_non_negativity_1", Property: "result >= 0", Category: property.NonNegativity},
			{ID: "f_bounds_1", Property: "0 <= i < len(xs)", Category: property.Bounds},
		},
	}
}

func leanArtifact(src string) *translator.Artifact {
	return &translator.Artifact{
		Engine:     route.ProofCompiler,
		Translator: route.AST,
		Function:   "f",
		Source:     src,
		Goals: []translator.GoalSite{
			{ObligationID: "f_non_negativity_1", Lines: []int{10, 11, 12}},
			{ObligationID: "f_bounds_1", Lines: []int{14, 15, 16}},
		},
	}
}

func dafnyArtifact() *translator.Artifact {
	return &translator.Artifact{
		Engine:     route.SMTBacked,
		Translator: route.LoopSpecialist,
		Function:   "f",
		Source:     "method f() returns (result: int)\n{\n}\n",
		Goals: []translator.GoalSite{
			{ObligationID: "f_non_negativity_1", Lines: []int{5, 12}},
			{ObligationID: "f_bounds_1", Lines: []int{20, 21}},
		},
	}
}

const leanSource = "-- argus:function f\ndef f (x : Int) : Int := x\n"

func TestLeanDriver(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		out     Output
		runErr  error
		wantErr error
		proved  map[string]bool
		allPass bool
	}{
		{
			name:    "clean exit",
			out:     Output{},
			proved:  map[string]bool{"f_non_negativity_1": true, "f_bounds_1": true},
			allPass: true,
		},
		{
			name:    "sorry warning with exit zero",
			out:     Output{Stdout: "/tmp/argus-1.lean:10:8: warning: declaration uses 'sorry'\n"},
			wantErr: ErrObligationFailure,
			proved:  map[string]bool{"f_non_negativity_1": false, "f_bounds_1": false},
		},
		{
			name:    "marker in source",
			src:     leanSource + "theorem t : True := by sorry\n",
			wantErr: ErrObligationFailure,
			proved:  map[string]bool{"f_non_negativity_1": false, "f_bounds_1": false},
		},
		{
			name: "one goal fails",
			out: Output{ExitCode: 1, Stdout: "/tmp/argus-1.lean:15:2: error: omega could not prove the goal:\n" +
				"a possible counterexample may satisfy the constraints\n  x ≤ -1\n"},
			wantErr: ErrObligationFailure,
			proved:  map[string]bool{"f_non_negativity_1": true, "f_bounds_1": false},
		},
		{
			name:    "error in definition",
			out:     Output{ExitCode: 1, Stdout: "/tmp/argus-1.lean:2:4: error(lean.unknownIdentifier): unknown identifier 'y'\n"},
			wantErr: ErrTooling,
		},
		{
			name:    "exit without diagnostics",
			out:     Output{ExitCode: 137, Stderr: "out of memory"},
			wantErr: ErrCompilerCrash,
		},
		{
			name:    "deadline",
			runErr:  errDeadline,
			wantErr: ErrCompilerTimeout,
		},
		{
			name:    "missing binary",
			runErr:  errors.Join(errStart, exec.ErrNotFound),
			wantErr: ErrCompilerCrash,
		},
		{
			name:    "signal",
			out:     Output{ExitCode: -1, Signaled: true},
			wantErr: ErrCompilerCrash,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.src
			if src == "" {
				src = leanSource
			}
			fr := &fakeRunner{out: tt.out, err: tt.runErr}
			d := NewLeanDriver(EngineConfig{Timeout: time.Second}, fr)
			set := twoGoalSet()
			res, err := d.Verify(context.Background(), leanArtifact(src), set)

			require.Len(t, fr.calls, 1)
			assert.Equal(t, "lake", fr.calls[0].Name)
			assert.Equal(t, []string{"env", "lean"}, fr.calls[0].Args[:2])
			assert.True(t, fr.seen[0], "artifact must exist while the compiler runs")
			_, statErr := os.Stat(fr.calls[0].Args[2])
			assert.True(t, os.IsNotExist(statErr), "artifact must be removed afterwards")

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			if tt.proved == nil {
				assert.Nil(t, res)
				return
			}
			require.NotNil(t, res)
			for id, want := range tt.proved {
				assert.Equal(t, want, res.PerObligation[id].Proved, id)
			}
			assert.Equal(t, tt.allPass, res.AllPassed)
		})
	}
}

func TestLeanDriver_FailureNamesObligations(t *testing.T) {
	fr := &fakeRunner{out: Output{ExitCode: 1, Stdout: "x.lean:11:0: error: unsolved goals\n"}}
	res, err := NewLeanDriver(EngineConfig{}, fr).Verify(context.Background(), leanArtifact(leanSource), twoGoalSet())
	var of *ObligationFailure
	require.True(t, errors.As(err, &of))
	assert.Equal(t, []string{"f_non_negativity_1"}, of.Failed)
	assert.Contains(t, res.PerObligation["f_non_negativity_1"].RawMessage, "unsolved goals")
}

func TestDafnyDriver(t *testing.T) {
	tests := []struct {
		name    string
		out     Output
		wantErr error
		proved  map[string]bool
	}{
		{
			name:   "all verified",
			out:    Output{Stdout: "\nDafny program verifier finished with 3 verified, 0 errors\n"},
			proved: map[string]bool{"f_non_negativity_1": true, "f_bounds_1": true},
		},
		{
			name: "postcondition fails on return path",
			out: Output{ExitCode: 4, Stdout: "/tmp/argus-2.dfy(30,4): Error: a postcondition could not be proved on this return path\n" +
				"/tmp/argus-2.dfy(5,10): Related location: this is the postcondition that could not be proved\n" +
				"\nDafny program verifier finished with 2 verified, 1 error\n"},
			wantErr: ErrObligationFailure,
			proved:  map[string]bool{"f_non_negativity_1": false, "f_bounds_1": true},
		},
		{
			name: "index check at goal site",
			out: Output{ExitCode: 4, Stdout: "/tmp/argus-2.dfy(21,15): Error: index out of range\n" +
				"\nDafny program verifier finished with 2 verified, 1 error\n"},
			wantErr: ErrObligationFailure,
			proved:  map[string]bool{"f_non_negativity_1": true, "f_bounds_1": false},
		},
		{
			name: "termination failure",
			out: Output{ExitCode: 4, Stdout: "/tmp/argus-2.dfy(9,14): Error: decreases expression might not decrease\n" +
				"\nDafny program verifier finished with 2 verified, 1 error\n"},
			wantErr: ErrTooling,
		},
		{
			name:    "resolution error",
			out:     Output{ExitCode: 2, Stdout: "/tmp/argus-2.dfy(3,4): Error: unresolved identifier: y\n1 resolution/type errors detected in argus-2.dfy\n"},
			wantErr: ErrTooling,
		},
		{
			name:    "solver time out",
			out:     Output{ExitCode: 4, Stdout: "Dafny program verifier finished with 1 verified, 0 errors, 1 time out\n"},
			wantErr: ErrTooling,
		},
		{
			name:    "crash",
			out:     Output{ExitCode: 134, Stderr: "Unhandled exception"},
			wantErr: ErrCompilerCrash,
		},
		{
			name:    "nonzero exit with a clean summary",
			out:     Output{ExitCode: 3, Stdout: "\nDafny program verifier finished with 3 verified, 0 errors\n"},
			wantErr: ErrTooling,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := &fakeRunner{out: tt.out}
			res, err := NewDafnyDriver(EngineConfig{}, fr).Verify(context.Background(), dafnyArtifact(), twoGoalSet())
			require.Len(t, fr.calls, 1)
			assert.Equal(t, "dafny", fr.calls[0].Name)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.True(t, res.AllPassed)
			}
			if tt.proved == nil {
				assert.Nil(t, res)
				return
			}
			for id, want := range tt.proved {
				assert.Equal(t, want, res.PerObligation[id].Proved, id)
			}
		})
	}
}

func TestInvoke_RemovesArtifact(t *testing.T) {
	t.Run("on timeout", func(t *testing.T) {
		fr := &fakeRunner{err: errDeadline}
		_, err := invoke(context.Background(), fr, route.ProofCompiler, EngineConfig{Command: "lake"}, ".lean", leanSource)
		assert.ErrorIs(t, err, ErrCompilerTimeout)
		require.Len(t, fr.calls, 1)
		assert.Equal(t, []bool{true}, fr.seen)
		_, statErr := os.Stat(fr.calls[0].Args[0])
		assert.ErrorIs(t, statErr, os.ErrNotExist)
	})

	t.Run("on panic", func(t *testing.T) {
		var path string
		assert.Panics(t, func() {
			_ = withArtifact("", "argus-*.lean", leanSource, func(p string) error {
				path = p
				panic("compiler driver bug")
			})
		})
		require.NotEmpty(t, path)
		_, err := os.Stat(path)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestInvoke_TimeoutReportsEffectiveLimit(t *testing.T) {
	_, err := invoke(context.Background(), &fakeRunner{err: errDeadline}, route.SMTBacked, EngineConfig{Command: "dafny"}, ".dfy", "")
	var te *CompilerTimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, DefaultTimeout.String(), te.Timeout)
	assert.Contains(t, err.Error(), "1m0s")

	_, err = invoke(context.Background(), &fakeRunner{err: errDeadline}, route.SMTBacked, EngineConfig{Command: "dafny", Timeout: 90 * time.Second}, ".dfy", "")
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "1m30s", te.Timeout)
}

func TestFinish_EmptySetNeverPasses(t *testing.T) {
	res, err := finish(&Result{PerObligation: map[string]ObligationResult{}}, &property.Set{Function: "f"})
	require.NoError(t, err)
	assert.False(t, res.AllPassed)
}

type countingDriver struct {
	engine route.Engine
	calls  int
}

func (c *countingDriver) Engine() route.Engine { return c.engine }

func (c *countingDriver) Verify(context.Context, *translator.Artifact, *property.Set) (*Result, error) {
	c.calls++
	return &Result{Engine: c.engine, AllPassed: true}, nil
}

func TestRouter(t *testing.T) {
	lean := &countingDriver{engine: route.ProofCompiler}
	leanRoute := route.Route{Translator: route.AST, Engine: route.ProofCompiler}
	dafnyRoute := route.Route{Translator: route.LoopSpecialist, Engine: route.SMTBacked}

	t.Run("dispatches on route", func(t *testing.T) {
		r := NewRouter([]Driver{lean})
		_, err := r.Verify(context.Background(), leanRoute, leanArtifact(leanSource), twoGoalSet())
		require.NoError(t, err)
		assert.Equal(t, 1, lean.calls)
	})

	t.Run("no fallback to another engine", func(t *testing.T) {
		before := lean.calls
		r := NewRouter([]Driver{lean})
		_, err := r.Verify(context.Background(), dafnyRoute, dafnyArtifact(), twoGoalSet())
		assert.ErrorIs(t, err, ErrCompilerCrash)
		assert.Equal(t, before, lean.calls)
	})

	t.Run("artifact for another engine", func(t *testing.T) {
		r := NewRouter([]Driver{lean})
		_, err := r.Verify(context.Background(), leanRoute, dafnyArtifact(), twoGoalSet())
		assert.ErrorIs(t, err, ErrTooling)
	})

	t.Run("sandbox required", func(t *testing.T) {
		before := lean.calls
		r := NewRouter([]Driver{lean}, WithSandbox(true, false), withSandboxCheck(func(bool) bool { return false }))
		_, err := r.Verify(context.Background(), leanRoute, leanArtifact(leanSource), twoGoalSet())
		assert.ErrorIs(t, err, ErrCompilerCrash)
		assert.Contains(t, err.Error(), "ARGUS_ALLOW_LOCAL_VERIFY")
		assert.Equal(t, before, lean.calls)
	})
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "proved", Outcome(nil))
	assert.Equal(t, "failed", Outcome(&ObligationFailure{}))
	assert.Equal(t, "timeout", Outcome(&CompilerTimeoutError{}))
	assert.Equal(t, "crash", Outcome(&CompilerCrashError{}))
	assert.Equal(t, "tooling", Outcome(&ToolingError{}))
	assert.Equal(t, "cancelled", Outcome(context.Canceled))
}

func TestInSandbox_AllowLocal(t *testing.T) {
	assert.True(t, InSandbox(true))
}

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := ExecRunner{WaitDelay: 100 * time.Millisecond}

	out, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo out; echo err >&2; exit 3"}, Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "out\n", out.Stdout)
	assert.Equal(t, "err\n", out.Stderr)
	assert.Equal(t, 3, out.ExitCode)

	_, err = r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "sleep 5"}, Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, errDeadline)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, Command{Name: "sh", Args: []string{"-c", "sleep 5"}, Timeout: 5 * time.Second})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = r.Run(context.Background(), Command{Name: "argus-definitely-missing-binary", Timeout: time.Second})
	assert.ErrorIs(t, err, errStart)
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &limitedWriter{w: &buf, limit: 4}
	n, err := w.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", buf.String())
}
