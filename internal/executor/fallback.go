package executor

import (
	"sort"
	"strings"

	"github.com/haasonsaas/rlmd/pkg/models"
)

// DefaultFallbackTopK is the selection size when assembly degrades to the
// deterministic fallback.
const DefaultFallbackTopK = 5

// Outcome is the result of running a program in assembly mode.
type Outcome struct {
	Status           models.RunStatus
	AssembledContext map[string]any
	Errors           []models.RunErr
	Events           []models.Event
	Degraded         bool
}

// BuildLimitsSnapshot resolves the walk limits for an assembly run from
// top-level option keys. Non-numeric or non-positive values keep defaults.
func BuildLimitsSnapshot(options map[string]any) map[string]any {
	defaults := DefaultAssemblyLimits()
	return map[string]any{
		"max_steps":         positiveInt(options["max_steps"], defaults.MaxSteps),
		"max_subcalls":      positiveInt(options["max_subcalls"], defaults.MaxSubcalls),
		"max_depth":         positiveInt(options["max_depth"], defaults.MaxDepth),
		"max_program_chars": positiveInt(options["max_program_chars"], defaults.MaxProgramChars),
		"max_event_errors":  positiveInt(options["max_event_errors"], defaults.MaxEventErrors),
	}
}

func limitsFromSnapshot(snapshot map[string]any) Limits {
	defaults := DefaultAssemblyLimits()
	return Limits{
		MaxSteps:        positiveInt(snapshot["max_steps"], defaults.MaxSteps),
		MaxSubcalls:     positiveInt(snapshot["max_subcalls"], defaults.MaxSubcalls),
		MaxDepth:        positiveInt(snapshot["max_depth"], defaults.MaxDepth),
		MaxProgramChars: positiveInt(snapshot["max_program_chars"], defaults.MaxProgramChars),
		MaxEventErrors:  positiveInt(snapshot["max_event_errors"], defaults.MaxEventErrors),
		MaxGlimpseChars: defaults.MaxGlimpseChars,
		MaxGrepHits:     defaults.MaxGrepHits,
	}
}

// DeterministicFallback selects the top-K candidates by
// (pinned, weight, hit_count, base_score) descending. It never consults the
// program, so the result depends only on the index.
func DeterministicFallback(index *models.CandidateIndex, topK int) map[string]any {
	candidates := append([]models.Candidate{}, index.Candidates...)
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.ScoreBreakdown.HitCount != b.ScoreBreakdown.HitCount {
			return a.ScoreBreakdown.HitCount > b.ScoreBreakdown.HitCount
		}
		return a.BaseScore > b.BaseScore
	})
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}

	selectedIDs := make([]string, len(candidates))
	selected := make([]map[string]any, len(candidates))
	for i, c := range candidates {
		selectedIDs[i] = c.ArtifactID
		selected[i] = map[string]any{
			"artifact_id": c.ArtifactID,
			"pinned":      c.Pinned,
			"weight":      c.Weight,
			"hit_count":   c.ScoreBreakdown.HitCount,
		}
	}
	return map[string]any{
		"mode":         "deterministic_fallback",
		"selected_ids": selectedIDs,
		"selected":     selected,
	}
}

// RunProgram executes options.program in assembly mode: select/noop steps
// only, pre-walk limit checks, and degradation to the deterministic fallback
// on parse failures or the error threshold.
func RunProgram(index *models.CandidateIndex, options map[string]any, snapshot map[string]any) *Outcome {
	limits := limitsFromSnapshot(snapshot)
	fallbackTopK := clampInt(options["fallback_top_k"], DefaultFallbackTopK, 1, 200)
	rawProgram := options["program"]

	if chars := EstimateProgramChars(rawProgram); chars > limits.MaxProgramChars {
		return &Outcome{
			Status:           models.RunStopped,
			AssembledContext: map[string]any{},
			Errors: []models.RunErr{{
				Type: "limit_exceeded", Limit: "max_program_chars",
				Value: chars, Max: limits.MaxProgramChars,
			}},
			Events: []models.Event{},
		}
	}

	degrade := func(errs []models.RunErr, events []models.Event) *Outcome {
		return &Outcome{
			Status:           models.RunDegraded,
			AssembledContext: DeterministicFallback(index, fallbackTopK),
			Errors:           errs,
			Events:           events,
			Degraded:         true,
		}
	}

	steps, err := ExtractProgram(rawProgram)
	if err != nil {
		return degrade([]models.RunErr{{
			Type: "program_parse_failed", Message: err.Error(),
		}}, []models.Event{})
	}
	if err := CheckLimits(steps, limits); err != nil {
		if breach, ok := err.(*LimitError); ok {
			return &Outcome{
				Status:           models.RunStopped,
				AssembledContext: map[string]any{},
				Errors: []models.RunErr{{
					Type: "limit_exceeded", Limit: breach.Limit,
					Value: breach.Value, Max: breach.Max,
				}},
				Events: []models.Event{},
			}
		}
		return degrade([]models.RunErr{{
			Type: "program_parse_failed", Message: err.Error(),
		}}, []models.Event{})
	}

	walk := &assemblyWalk{limits: limits}
	walk.run(steps, 1)

	if walk.thresholdHit {
		return degrade(walk.errors, walk.events)
	}

	selectedIDs := []string{}
	for _, id := range walk.selectedIDs {
		if !containsString(selectedIDs, id) {
			selectedIDs = append(selectedIDs, id)
		}
	}
	return &Outcome{
		Status: models.RunOK,
		AssembledContext: map[string]any{
			"mode":         "program",
			"selected_ids": selectedIDs,
		},
		Errors: walk.errors,
		Events: walk.events,
	}
}

// assemblyWalk executes the restricted assembly step set. Only select and
// noop succeed; anything else records a per-step error.
type assemblyWalk struct {
	limits       Limits
	stepIndex    int
	errorCount   int
	thresholdHit bool
	selectedIDs  []string
	events       []models.Event
	errors       []models.RunErr
}

func (w *assemblyWalk) run(steps []map[string]any, depth int) bool {
	for _, step := range steps {
		w.stepIndex++
		action := strings.ToLower(strings.TrimSpace(stringField(step, "action", "noop")))

		if err := w.step(action, step); err != nil {
			w.errorCount++
			w.events = append(w.events, models.Event{
				Step: w.stepIndex, Action: action, Status: "error", Error: err.Error(),
			})
			w.errors = append(w.errors, models.RunErr{
				Type: "event_error", Step: w.stepIndex, Action: action, Message: err.Error(),
			})
			if w.errorCount > w.limits.MaxEventErrors {
				w.errors = append(w.errors, models.RunErr{
					Type:  "event_error_threshold",
					Limit: "max_event_errors",
					Value: w.errorCount,
					Max:   w.limits.MaxEventErrors,
				})
				w.thresholdHit = true
				return false
			}
		}

		if nested, _ := step["subcalls"].([]any); len(nested) > 0 {
			if !w.run(stepList(nested), depth+1) {
				return false
			}
		}
	}
	return true
}

func (w *assemblyWalk) step(action string, step map[string]any) error {
	switch action {
	case models.ActionNoop:
		w.events = append(w.events, models.Event{Step: w.stepIndex, Action: action, Status: "ok"})
		return nil
	case models.ActionSelect:
		rawIDs, ok := step["selected_ids"].([]any)
		if !ok {
			return &ParseError{Message: "select requires selected_ids list"}
		}
		for _, item := range rawIDs {
			id, ok := item.(string)
			if !ok || id == "" {
				return &ParseError{Message: "select requires non-empty string ids"}
			}
			w.selectedIDs = append(w.selectedIDs, id)
		}
		w.events = append(w.events, models.Event{Step: w.stepIndex, Action: action, Status: "ok"})
		return nil
	default:
		return &ParseError{Message: "unsupported action: " + action}
	}
}

func clampInt(v any, def, lo, hi int) int {
	n := def
	switch val := v.(type) {
	case int:
		n = val
	case int64:
		n = int(val)
	case float64:
		n = int(val)
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
