// Package executor interprets root-LM programs: bounded step execution over
// select/glimpse/repl/noop actions with recursive subcall descent, plus the
// assembly-mode runner that maps execution outcomes to assembled context.
package executor

import (
	"encoding/json"
	"fmt"
)

// Limits bound one program execution. All values are positive after clamping.
type Limits struct {
	MaxSteps        int
	MaxSubcalls     int
	MaxDepth        int
	MaxProgramChars int
	MaxEventErrors  int
	MaxGlimpseChars int
	MaxGrepHits     int
}

// DefaultPipelineLimits are the bounds for three-round runs.
func DefaultPipelineLimits() Limits {
	return Limits{
		MaxSteps:        32,
		MaxSubcalls:     24,
		MaxDepth:        4,
		MaxProgramChars: 20000,
		MaxEventErrors:  3,
		MaxGlimpseChars: 2000,
		MaxGrepHits:     5,
	}
}

// DefaultAssemblyLimits are the tighter bounds for assembly-only runs.
func DefaultAssemblyLimits() Limits {
	limits := DefaultPipelineLimits()
	limits.MaxSteps = 16
	limits.MaxEventErrors = 2
	return limits
}

// LimitsFromOptions overlays options.limits onto a default set. Non-numeric
// or non-positive values keep the default.
func LimitsFromOptions(options map[string]any, defaults Limits) Limits {
	raw, _ := options["limits"].(map[string]any)
	limits := defaults
	limits.MaxSteps = positiveInt(raw["max_steps"], defaults.MaxSteps)
	limits.MaxSubcalls = positiveInt(raw["max_subcalls"], defaults.MaxSubcalls)
	limits.MaxDepth = positiveInt(raw["max_depth"], defaults.MaxDepth)
	limits.MaxProgramChars = positiveInt(raw["max_program_chars"], defaults.MaxProgramChars)
	limits.MaxEventErrors = positiveInt(raw["max_event_errors"], defaults.MaxEventErrors)
	limits.MaxGlimpseChars = positiveInt(raw["max_glimpse_chars"], defaults.MaxGlimpseChars)
	limits.MaxGrepHits = positiveInt(raw["max_grep_hits"], defaults.MaxGrepHits)
	return limits
}

// Snapshot renders the walk-relevant limits as they are persisted in run
// metadata and program payloads.
func (l Limits) Snapshot() map[string]any {
	return map[string]any{
		"max_steps":         l.MaxSteps,
		"max_subcalls":      l.MaxSubcalls,
		"max_depth":         l.MaxDepth,
		"max_program_chars": l.MaxProgramChars,
		"max_event_errors":  l.MaxEventErrors,
	}
}

func positiveInt(v any, def int) int {
	var n int
	switch val := v.(type) {
	case int:
		n = val
	case int64:
		n = int(val)
	case float64:
		n = int(val)
	default:
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

// LimitError reports a breached execution bound.
type LimitError struct {
	Limit string
	Value int
	Max   int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s exceeded: %d > %d", e.Limit, e.Value, e.Max)
}

// ParseError reports a program whose shape cannot be interpreted.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// ExtractProgram normalizes a raw program value into a step list. Accepted
// shapes: a step list, an object with steps (or a nested program), a single
// step object, a JSON string of any of those, or nil (empty program).
func ExtractProgram(raw any) ([]map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return []map[string]any{}, nil
	case []any:
		return stepList(v), nil
	case []map[string]any:
		return v, nil
	case map[string]any:
		if steps, ok := v["steps"]; ok {
			return ExtractProgram(steps)
		}
		if nested, ok := v["program"]; ok {
			return ExtractProgram(nested)
		}
		return []map[string]any{v}, nil
	case string:
		trimmed := v
		if trimmed == "" {
			return []map[string]any{}, nil
		}
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return nil, &ParseError{Message: fmt.Sprintf("program json invalid: %v", err)}
		}
		return ExtractProgram(decoded)
	default:
		return nil, &ParseError{Message: "program must be list, object, or json string"}
	}
}

func stepList(items []any) []map[string]any {
	steps := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if step, ok := item.(map[string]any); ok {
			steps = append(steps, step)
		}
	}
	return steps
}

// EstimateProgramChars measures the serialized size of a raw program.
func EstimateProgramChars(raw any) int {
	switch v := raw.(type) {
	case nil:
		return 0
	case string:
		return len(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return len(fmt.Sprint(v))
		}
		return len(data)
	}
}

// CheckLimits walks the step tree before execution, failing on the first
// breached bound. Nested subcalls descend one depth level and each nested
// step counts against the subcall budget.
func CheckLimits(steps []map[string]any, limits Limits) error {
	stepCount := 0
	subcallCount := 0

	var walk func(steps []map[string]any, depth int) error
	walk = func(steps []map[string]any, depth int) error {
		if depth > limits.MaxDepth {
			return &LimitError{Limit: "max_depth", Value: depth, Max: limits.MaxDepth}
		}
		for _, step := range steps {
			stepCount++
			if stepCount > limits.MaxSteps {
				return &LimitError{Limit: "max_steps", Value: stepCount, Max: limits.MaxSteps}
			}
			raw, ok := step["subcalls"]
			if !ok || raw == nil {
				continue
			}
			nested, ok := raw.([]any)
			if !ok {
				return &ParseError{Message: "subcalls must be a list"}
			}
			if len(nested) == 0 {
				continue
			}
			subcallCount += len(nested)
			if subcallCount > limits.MaxSubcalls {
				return &LimitError{Limit: "max_subcalls", Value: subcallCount, Max: limits.MaxSubcalls}
			}
			if err := walk(stepList(nested), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	return walk(steps, 1)
}
