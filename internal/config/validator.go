package config

import (
	"fmt"
	"runtime"

	"github.com/google/jsonschema-go/jsonschema"

	runnererrors "github.com/standardbeagle/taut/internal/errors"
	"github.com/standardbeagle/taut/internal/types"
)

// filterShapeSchema describes the shape of the group-filter and isolation
// fields: spec.md is silent on config validation failure modes, so this is
// the supplemented schema check that turns a malformed `.taut.kdl` into a
// spec.md §7 configuration error, fatal before dispatch, instead of a
// confusing failure deep inside the Scheduler.
var zero = 0.0

var filterShapeSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"isolation":     {Type: "string", Enum: []any{"process-per-run", "process-per-test"}},
		"worker_count":  {Type: "integer", Minimum: &zero},
		"timeout_sec":   {Type: "number", Minimum: &zero},
		"group_include": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		"group_exclude": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
	},
}

// shapeDoc mirrors Config's validated fields as the plain map the schema
// above was written against; jsonschema.Schema validates generic Go values,
// not struct tags, so the translation is explicit.
func shapeDoc(cfg *Config) map[string]any {
	return map[string]any{
		"isolation":     cfg.Isolation,
		"worker_count":  cfg.WorkerCount,
		"timeout_sec":   cfg.TimeoutSec,
		"group_include": toAnySlice(cfg.GroupInclude),
		"group_exclude": toAnySlice(cfg.GroupExclude),
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// ValidateAndSetDefaults validates cfg's shape against filterShapeSchema,
// checks the handful of invariants a schema can't express (non-empty
// project root, positive resolved worker count), and fills in any
// zero-valued field that has a sensible runtime default.
func ValidateAndSetDefaults(cfg *Config) error {
	if cfg.Isolation == "" {
		cfg.Isolation = types.ProcessPerRun.String()
	}

	resolved, err := filterShapeSchema.Resolve(nil)
	if err != nil {
		return runnererrors.New(runnererrors.ErrorTypeInternal, "config.schema", err)
	}
	if err := resolved.Validate(shapeDoc(cfg)); err != nil {
		return runnererrors.New(runnererrors.ErrorTypeConfig, "config.validate", err)
	}

	if cfg.Project.Root == "" {
		return runnererrors.New(runnererrors.ErrorTypeConfig, "config.validate", fmt.Errorf("project root cannot be empty"))
	}

	if cfg.Interpreter.Command == "" {
		return runnererrors.New(runnererrors.ErrorTypeConfig, "config.validate", fmt.Errorf("interpreter command cannot be empty"))
	}

	if cfg.TimeoutSec < 0 {
		return runnererrors.New(runnererrors.ErrorTypeConfig, "config.validate", fmt.Errorf("timeout-sec cannot be negative, got %v", cfg.TimeoutSec))
	}

	if cfg.WorkerCount < 0 {
		return runnererrors.New(runnererrors.ErrorTypeConfig, "config.validate", fmt.Errorf("worker-count cannot be negative, got %d", cfg.WorkerCount))
	}
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = max(1, runtime.NumCPU())
	}

	return nil
}
