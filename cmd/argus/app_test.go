package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"argus/internal/config"
	"argus/internal/pipeline"
	"argus/internal/property"
	"argus/internal/route"
	"argus/internal/verdict"
	"argus/internal/verifier"
)

func TestEngineConfig(t *testing.T) {
	got := engineConfig(verifier.DefaultDafny, config.Engine{ProjectDir: "/work", Timeout: time.Minute})
	assert.Equal(t, verifier.EngineConfig{
		Command:    "dafny",
		Args:       []string{"verify"},
		ProjectDir: "/work",
		Timeout:    time.Minute,
	}, got)

	got = engineConfig(verifier.DefaultLean, config.Engine{Command: "lean", Args: []string{"--json"}})
	assert.Equal(t, "lean", got.Command)
	assert.Equal(t, []string{"--json"}, got.Args)
	assert.Equal(t, []string{"env", "lean"}, verifier.DefaultLean.Args, "defaults are not mutated")
}

func TestVerdictRow(t *testing.T) {
	res := &pipeline.Result{
		RunID:       "run-1",
		Unit:        "bank.py:withdraw",
		Verdict:     verdict.Fixed,
		Reason:      "all obligations proved after repair",
		Route:       &route.Route{Translator: route.LoopSpecialist, Engine: route.SMTBacked},
		PropertySet: &property.Set{Hash: "abc123"},
		Attempts:    make([]pipeline.Attempt, 2),
	}
	row := verdictRow(res)
	assert.Equal(t, "FIXED", row.Verdict)
	assert.Equal(t, route.SMTBacked.String(), row.Engine)
	assert.Equal(t, route.LoopSpecialist.String(), row.Translator)
	assert.Equal(t, 2, row.Attempts)
	assert.Equal(t, "abc123", row.PropertyHash)

	row = verdictRow(&pipeline.Result{RunID: "run-1", Unit: "x.py:f", Verdict: verdict.Error, Error: "boom"})
	assert.Equal(t, "none", row.Engine)
	assert.Equal(t, "boom", row.Error)
}

func TestRedacted(t *testing.T) {
	c := config.Default()
	c.AI.APIKey = "secret"
	snap := redacted(c)
	assert.Equal(t, "REDACTED", snap.AI.APIKey)
	assert.Equal(t, "secret", c.AI.APIKey)
}

func TestFirstLineAndShort(t *testing.T) {
	assert.Equal(t, "run 1 differs", firstLine("run 1 differs\n-a\n+b"))
	assert.Equal(t, "-", short(""))
	assert.Equal(t, "0123456789ab", short("0123456789abcdef"))
}
