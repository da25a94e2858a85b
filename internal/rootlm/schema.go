package rootlm

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Structural schemas for the two payload shapes the model may return. They
// gate shape only; unknown fields pass through untouched.
var (
	programSchema = jsonschema.MustCompileString("program.json", `{
		"type": "object",
		"properties": {
			"steps": {"type": "array"},
			"candidate_ids": {"type": "array", "items": {"type": "string"}},
			"policy": {"type": "object"},
			"limits": {"type": "object"}
		}
	}`)

	finalSchema = jsonschema.MustCompileString("final.json", `{
		"type": "object",
		"properties": {
			"citations": {"type": "array"}
		}
	}`)
)

// ValidProgramShape reports whether a candidate program object has the
// expected field types.
func ValidProgramShape(program map[string]any) bool {
	return programSchema.Validate(map[string]any(program)) == nil
}

// ValidFinalShape reports whether a candidate final object has the expected
// field types.
func ValidFinalShape(final map[string]any) bool {
	return finalSchema.Validate(map[string]any(final)) == nil
}
