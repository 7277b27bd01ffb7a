// Package config loads and validates the `.taut.kdl` project configuration
// file: worker pool sizing, isolation mode, coverage collection, per-item
// timeout, discovery globs, and group filters. It is the single place a run
// turns project-level intent into the structs the Discovery Walker,
// Scheduler, and Worker Supervisor consume directly.
package config

import (
	"os"
	"path/filepath"

	"github.com/standardbeagle/taut/internal/types"
)

// Project identifies the source tree a run discovers tests under.
type Project struct {
	Root string
	Name string
}

// Interpreter is the worker entry point handed to the Worker Supervisor.
// When `.taut.kdl` names none, defaults() supplies `python3 -m taut.worker`.
type Interpreter struct {
	Command string
	Args    []string
	Env     []string
}

// Config is the fully-resolved, validated configuration for one run.
type Config struct {
	Version int

	Project     Project
	Interpreter Interpreter

	WorkerCount int
	Isolation   string // "process-per-run" | "process-per-test"
	Coverage    bool
	TimeoutSec  float64

	RespectGitignore bool

	Include []string
	Exclude []string

	GroupInclude []string
	GroupExclude []string
}

// IsolationMode translates the string isolation field into the enum the
// Worker Supervisor accepts.
func (c *Config) IsolationMode() types.IsolationMode {
	if c.Isolation == "process-per-test" {
		return types.ProcessPerTest
	}
	return types.ProcessPerRun
}

// defaultExclude is the baseline exclusion set for a Python project,
// mirroring the handful of directories the Discovery Walker's own
// DefaultExcludes already encodes, kept here too since a `.taut.kdl`
// `exclude` block replaces rather than extends this list.
var defaultExclude = []string{
	"**/.git/**",
	"**/__pycache__/**",
	"**/*.pyc",
	"**/.venv/**",
	"**/venv/**",
	"**/.tox/**",
	"**/.nox/**",
	"**/build/**",
	"**/dist/**",
	"**/*.egg-info/**",
	"**/.pytest_cache/**",
	"**/.mypy_cache/**",
	"**/.ruff_cache/**",
	"**/node_modules/**",
}

// defaults returns a Config populated with every field a run can operate
// without a `.taut.kdl` file at all: a `python3` interpreter, one worker per
// CPU (signaled by WorkerCount 0, resolved by ValidateAndSetDefaults), process-per-run
// isolation, no coverage, and no timeout.
func defaults(root string) Config {
	return Config{
		Version: 1,
		Project: Project{Root: root, Name: filepath.Base(root)},
		Interpreter: Interpreter{
			Command: "python3",
			Args:    []string{"-m", "taut.worker"},
		},
		WorkerCount:      types.DefaultWorkerCount,
		Isolation:        types.ProcessPerRun.String(),
		Coverage:         false,
		TimeoutSec:       0,
		RespectGitignore: true,
		Exclude:          append([]string(nil), defaultExclude...),
	}
}

// Load reads `.taut.kdl` from projectRoot if present, merges it over the
// defaults, enriches the exclusion list from `pyproject.toml` build-artifact
// hints and an existing `.gitignore`, validates the result, and returns it
// ready for the Discovery Walker. A missing `.taut.kdl` is not an error:
// Load falls back to defaults(projectRoot) alone.
func Load(projectRoot string) (*Config, error) {
	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		absRoot = projectRoot
	}

	cfg := defaults(absRoot)

	kdlPath := filepath.Join(absRoot, ".taut.kdl")
	if _, statErr := os.Stat(kdlPath); statErr == nil {
		if loadErr := loadKDL(kdlPath, &cfg); loadErr != nil {
			return nil, loadErr
		}
	}

	if extra, err := detectPythonOutputs(absRoot); err == nil {
		cfg.Exclude = append(cfg.Exclude, extra...)
	}

	if cfg.RespectGitignore {
		if patterns, err := gitignoreExcludes(absRoot); err == nil {
			cfg.Exclude = append(cfg.Exclude, patterns...)
		}
	}

	if err := ValidateAndSetDefaults(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
