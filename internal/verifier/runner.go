package verifier

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Command is one compiler invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

func (c Command) effectiveTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Output is what a finished subprocess produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Signaled bool
	Elapsed  time.Duration
}

// Runner executes compiler subprocesses. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// DefaultTimeout applies when a Command carries none.
const DefaultTimeout = 60 * time.Second

var (
	errDeadline = errors.New("deadline reached")
	errStart    = errors.New("start failed")
)

// ExecRunner runs commands with os/exec. On timeout or cancellation the
// process is killed and partial output is discarded.
type ExecRunner struct {
	// MaxOutput caps each captured stream. Zero means 4 MiB.
	MaxOutput int
	// WaitDelay bounds how long Wait lingers on inherited pipes after kill.
	WaitDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, c Command) (Output, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, c.effectiveTimeout())
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Cancel = func() error { return cmd.Process.Kill() }
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	limit := r.MaxOutput
	if limit <= 0 {
		limit = 4 << 20
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: limit}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: limit}

	start := time.Now()
	err := cmd.Run()
	out := Output{Elapsed: time.Since(start)}

	if ctx.Err() != nil {
		return Output{Elapsed: out.Elapsed}, ctx.Err()
	}
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return Output{Elapsed: out.Elapsed}, errDeadline
	}

	out.Stdout, out.Stderr = stdout.String(), stderr.String()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return out, errors.Join(errStart, err)
		}
		out.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			out.Signaled = true
		}
	}
	return out, nil
}

type limitedWriter struct {
	w     io.Writer
	limit int
	n     int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n >= l.limit {
		return len(p), nil
	}
	room := l.limit - l.n
	chunk := p
	if len(chunk) > room {
		chunk = chunk[:room]
	}
	n, err := l.w.Write(chunk)
	l.n += n
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// withArtifact writes source to a scoped temporary file and removes it on
// every exit path of fn, including panics.
func withArtifact(dir, pattern, source string, fn func(path string) error) error {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(source); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fn(path)
}

// InSandbox reports whether the process runs inside a container, or local
// verification was explicitly allowed.
func InSandbox(allowLocal bool) bool {
	if allowLocal {
		return true
	}
	_, err := os.Stat("/.dockerenv")
	return err == nil
}
