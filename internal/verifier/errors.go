package verifier

import (
	"errors"
	"fmt"
	"strings"

	"argus/internal/route"
)

var (
	// ErrCompilerTimeout marks a compiler killed at its deadline.
	ErrCompilerTimeout = errors.New("compiler timed out")
	// ErrCompilerCrash marks a compiler that could not start or exited
	// without diagnostics.
	ErrCompilerCrash = errors.New("compiler crashed")
	// ErrTooling marks a run whose output could not be attributed to
	// obligations, so no proof status is known.
	ErrTooling = errors.New("verification tooling incomplete")
	// ErrObligationFailure marks a run in which the compiler completed and at
	// least one goal did not prove.
	ErrObligationFailure = errors.New("obligation not proved")
)

// CompilerTimeoutError is an infrastructure failure.
type CompilerTimeoutError struct {
	Engine  route.Engine
	Timeout string
}

func (e *CompilerTimeoutError) Error() string {
	return fmt.Sprintf("%s compiler exceeded %s", e.Engine, e.Timeout)
}

func (e *CompilerTimeoutError) Unwrap() error { return ErrCompilerTimeout }

// CompilerCrashError is an infrastructure failure.
type CompilerCrashError struct {
	Engine   route.Engine
	Reason   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CompilerCrashError) Error() string {
	msg := fmt.Sprintf("%s compiler: %s", e.Engine, e.Reason)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CompilerCrashError) Unwrap() error {
	if e.Err != nil {
		return errors.Join(ErrCompilerCrash, e.Err)
	}
	return ErrCompilerCrash
}

// ToolingError is recoverable incompleteness: the compiler ran but its
// diagnostics point outside every goal site.
type ToolingError struct {
	Engine  route.Engine
	Reason  string
	Message string
}

func (e *ToolingError) Error() string {
	return fmt.Sprintf("%s tooling: %s", e.Engine, e.Reason)
}

func (e *ToolingError) Unwrap() error { return ErrTooling }

// ObligationFailure lists the goals that did not prove. It accompanies a
// complete Result.
type ObligationFailure struct {
	Engine route.Engine
	Failed []string
}

func (e *ObligationFailure) Error() string {
	return fmt.Sprintf("%s: %d obligation(s) not proved: %s", e.Engine, len(e.Failed), strings.Join(e.Failed, ", "))
}

func (e *ObligationFailure) Unwrap() error { return ErrObligationFailure }
