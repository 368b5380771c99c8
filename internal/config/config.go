package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "argus.yaml"

type Config struct {
	AI struct {
		Provider string        `yaml:"provider"`
		Model    string        `yaml:"model"`
		APIKey   string        `yaml:"api_key"`
		BaseURL  string        `yaml:"base_url"`
		Timeout  time.Duration `yaml:"timeout"` // per provider call
	} `yaml:"ai"`
	Pipeline struct {
		MaxAttempts int     `yaml:"max_attempts"`
		Workers     int     `yaml:"workers"`
		Discovery   bool    `yaml:"discovery"`
		Repair      bool    `yaml:"repair"`
		GateRuns    int     `yaml:"gate_runs"`
		MinKillRate float64 `yaml:"min_kill_rate"`
	} `yaml:"pipeline"`
	Evidence struct {
		SourceTypes []string `yaml:"source_types"`
	} `yaml:"evidence"`
	Verifier struct {
		Lean           Engine `yaml:"lean"`
		Dafny          Engine `yaml:"dafny"`
		RequireSandbox bool   `yaml:"require_sandbox"`
		AllowLocal     bool   `yaml:"allow_local"`
	} `yaml:"verifier"`
	Trace struct {
		Root   string `yaml:"root"`
		SQLite string `yaml:"sqlite"` // empty disables the sqlite sink
	} `yaml:"trace"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Engine is how to launch one compiler. Empty fields keep the driver's
// defaults.
type Engine struct {
	Command    string        `yaml:"command"`
	Args       []string      `yaml:"args"`
	ProjectDir string        `yaml:"project_dir"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	var cfg Config
	cfg.AI.Provider = "gemini"
	cfg.AI.Model = "gemini-2.5-flash"
	cfg.AI.Timeout = 2 * time.Minute
	cfg.Pipeline.MaxAttempts = 3
	cfg.Pipeline.Workers = 4
	cfg.Pipeline.Discovery = true
	cfg.Pipeline.Repair = true
	cfg.Pipeline.GateRuns = 3
	cfg.Pipeline.MinKillRate = 0.95
	cfg.Verifier.Lean.Timeout = 2 * time.Minute
	cfg.Verifier.Dafny.Timeout = 2 * time.Minute
	cfg.Verifier.RequireSandbox = true
	cfg.Trace.Root = ".argus/runs"
	cfg.Log.Level = "info"
	return &cfg
}

// LoadConfig reads path over the defaults, then applies .env and the
// ARGUS_* environment. A missing file is not an error; a malformed one is.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config
	cfg := Default()
	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// 3. Override with Environment Variables if present
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if apiKey := os.Getenv("ARGUS_API_KEY"); apiKey != "" {
		cfg.AI.APIKey = apiKey
	} else if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" && cfg.AI.APIKey == "" {
		cfg.AI.APIKey = apiKey
	}
	if provider := os.Getenv("ARGUS_AI_PROVIDER"); provider != "" {
		cfg.AI.Provider = provider
	}
	if model := os.Getenv("ARGUS_AI_MODEL"); model != "" {
		cfg.AI.Model = model
	}
	if root := os.Getenv("ARGUS_TRACE_ROOT"); root != "" {
		cfg.Trace.Root = root
	}
	if v := os.Getenv("ARGUS_ALLOW_LOCAL_VERIFY"); v != "" {
		allow, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ARGUS_ALLOW_LOCAL_VERIFY: %w", err)
		}
		cfg.Verifier.AllowLocal = allow
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Pipeline.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_attempts must be at least 1, got %d", c.Pipeline.MaxAttempts))
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.MinKillRate < 0 || c.Pipeline.MinKillRate > 1 {
		errs = append(errs, fmt.Errorf("pipeline.min_kill_rate must be within [0, 1], got %g", c.Pipeline.MinKillRate))
	}
	if c.AI.Timeout < 0 || c.Verifier.Lean.Timeout < 0 || c.Verifier.Dafny.Timeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}
