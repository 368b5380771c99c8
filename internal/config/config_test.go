package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv isolates a test from the caller's ARGUS_* settings.
func clearEnv(t *testing.T) {
	for _, k := range []string{"ARGUS_API_KEY", "GEMINI_API_KEY", "ARGUS_AI_PROVIDER", "ARGUS_AI_MODEL", "ARGUS_ALLOW_LOCAL_VERIFY", "ARGUS_TRACE_ROOT"} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "argus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.True(t, cfg.Verifier.RequireSandbox)
	assert.Equal(t, 0.95, cfg.Pipeline.MinKillRate)
}

func TestLoadConfig_File(t *testing.T) {
	clearEnv(t)
	path := write(t, `
ai:
  provider: openai
  model: gpt-4o-mini
  base_url: http://localhost:8080/v1
  timeout: 45s
pipeline:
  max_attempts: 5
  workers: 8
  discovery: false
evidence:
  source_types: [api_schema, db_constraint]
verifier:
  lean:
    project_dir: ./proofs
    timeout: 90s
  dafny:
    command: /opt/dafny/dafny
    args: [verify, --cores, "2"]
  require_sandbox: false
trace:
  sqlite: trace.db
log:
  level: debug
  development: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, 45*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.False(t, cfg.Pipeline.Discovery)
	assert.True(t, cfg.Pipeline.Repair, "unset keys keep defaults")
	assert.Equal(t, []string{"api_schema", "db_constraint"}, cfg.Evidence.SourceTypes)
	assert.Equal(t, "./proofs", cfg.Verifier.Lean.ProjectDir)
	assert.Equal(t, 90*time.Second, cfg.Verifier.Lean.Timeout)
	assert.Equal(t, []string{"verify", "--cores", "2"}, cfg.Verifier.Dafny.Args)
	assert.Equal(t, 2*time.Minute, cfg.Verifier.Dafny.Timeout)
	assert.False(t, cfg.Verifier.RequireSandbox)
	assert.Equal(t, ".argus/runs", cfg.Trace.Root)
	assert.Equal(t, "trace.db", cfg.Trace.SQLite)
	assert.True(t, cfg.Log.Development)
}

func TestLoadConfig_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("ARGUS_AI_MODEL", "gemini-2.5-pro")
	t.Setenv("ARGUS_ALLOW_LOCAL_VERIFY", "true")
	t.Setenv("ARGUS_TRACE_ROOT", "/tmp/argus")

	cfg, err := LoadConfig("absent.yaml")
	require.NoError(t, err)
	assert.Equal(t, "gemini-key", cfg.AI.APIKey)
	assert.Equal(t, "gemini-2.5-pro", cfg.AI.Model)
	assert.True(t, cfg.Verifier.AllowLocal)
	assert.Equal(t, "/tmp/argus", cfg.Trace.Root)

	t.Setenv("ARGUS_API_KEY", "argus-key")
	cfg, err = LoadConfig("absent.yaml")
	require.NoError(t, err)
	assert.Equal(t, "argus-key", cfg.AI.APIKey)
}

func TestLoadConfig_Errors(t *testing.T) {
	clearEnv(t)

	_, err := LoadConfig(write(t, "pipeline: [not, a, map]\n"))
	assert.ErrorContains(t, err, "parse")

	_, err = LoadConfig(write(t, "verifier:\n  lean:\n    timeout: soon\n"))
	assert.Error(t, err)

	_, err = LoadConfig(write(t, "pipeline:\n  max_attempts: 0\n  workers: 0\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "max_attempts")
	assert.ErrorContains(t, err, "workers")

	_, err = LoadConfig(write(t, "pipeline:\n  min_kill_rate: 1.5\n"))
	assert.ErrorContains(t, err, "min_kill_rate")

	_, err = LoadConfig(write(t, "log:\n  level: loud\n"))
	assert.ErrorContains(t, err, "log.level")

	t.Setenv("ARGUS_ALLOW_LOCAL_VERIFY", "maybe")
	_, err = LoadConfig("absent.yaml")
	assert.ErrorContains(t, err, "ARGUS_ALLOW_LOCAL_VERIFY")
}
