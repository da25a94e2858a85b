package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/rlmd/internal/glimpse"
	"github.com/haasonsaas/rlmd/internal/observability"
	"github.com/haasonsaas/rlmd/internal/storage"
	"github.com/haasonsaas/rlmd/pkg/models"
)

// SubcallPreviewChars bounds the prompt preview stored on subcall records.
const SubcallPreviewChars = 200

// Result is the outcome of one program execution.
type Result struct {
	Events    []models.Event
	Glimpses  []models.Glimpse
	Subcalls  []models.Subcall
	Variables map[string]any
	Status    string
	Meta      map[string]any
	Errors    []models.RunErr
	Stopped   bool
}

// SelectedIDs returns the accumulated selection, if any.
func (r *Result) SelectedIDs() []string {
	ids, _ := r.Variables["selected_ids"].([]string)
	return ids
}

// Executor runs a program against a candidate index.
type Executor interface {
	Execute(ctx context.Context, program any, index *models.CandidateIndex, options map[string]any) (*Result, error)
}

// REPLResult is the outcome of one sandboxed code evaluation.
type REPLResult struct {
	Stdout     string
	Stderr     string
	Exception  string
	DurationMS int64
	Vars       map[string]any
}

// REPL evaluates program-supplied code in a sandbox with a wall-clock
// timeout. The executor treats a missing sandbox as a per-step failure.
type REPL interface {
	Run(ctx context.Context, code string, timeout time.Duration, vars map[string]any) (*REPLResult, error)
}

// Pipeline is the real executor: it resolves artifact text through the
// candidate store, extracts glimpses through the content-addressed cache,
// and descends into recursive subcalls within the configured limits.
type Pipeline struct {
	store   storage.CandidateStore
	cache   glimpse.Cache
	repl    REPL
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewPipeline creates the real executor. cache and repl may be nil: a nil
// cache always misses, a nil repl fails repl steps with repl_env_unavailable.
func NewPipeline(store storage.CandidateStore, cache glimpse.Cache, repl REPL, logger *observability.Logger, metrics *observability.Metrics) *Pipeline {
	if cache == nil {
		cache = glimpse.NopCache{}
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Pipeline{store: store, cache: cache, repl: repl, logger: logger, metrics: metrics}
}

type execState struct {
	limits     Limits
	index      *models.CandidateIndex
	runID      string
	vars       map[string]any
	events     []models.Event
	glimpses   []models.Glimpse
	subcalls   []models.Subcall
	errors     []models.RunErr
	stepIndex  int
	errorCount int
	stopped    bool
	status     string
}

func (p *Pipeline) Execute(ctx context.Context, program any, index *models.CandidateIndex, options map[string]any) (*Result, error) {
	limits := LimitsFromOptions(options, DefaultPipelineLimits())

	state := &execState{
		limits: limits,
		index:  index,
		runID:  stringOption(options, "run_id", "unknown"),
		vars:   map[string]any{},
		status: "ok",
	}
	if seed, ok := options["vars"].(map[string]any); ok {
		for k, v := range seed {
			state.vars[k] = v
		}
	}

	if chars := EstimateProgramChars(program); chars > limits.MaxProgramChars {
		state.status = "stopped"
		state.stopped = true
		state.errors = append(state.errors, models.RunErr{
			Type: "limit_exceeded", Limit: "max_program_chars",
			Value: chars, Max: limits.MaxProgramChars,
		})
		return p.finish(state), nil
	}

	steps, err := ExtractProgram(program)
	if err != nil {
		state.status = "error"
		state.errors = append(state.errors, models.RunErr{
			Type: "program_parse_failed", Message: err.Error(),
		})
		return p.finish(state), nil
	}

	if err := CheckLimits(steps, limits); err != nil {
		state.stopped = true
		switch breach := err.(type) {
		case *LimitError:
			state.status = "stopped"
			state.errors = append(state.errors, models.RunErr{
				Type: "limit_exceeded", Limit: breach.Limit,
				Value: breach.Value, Max: breach.Max,
			})
		default:
			state.status = "error"
			state.errors = append(state.errors, models.RunErr{
				Type: "program_parse_failed", Message: err.Error(),
			})
		}
		return p.finish(state), nil
	}

	p.walk(ctx, steps, 1, state)
	return p.finish(state), nil
}

// walk executes a step list, descending into nested subcalls. Returns false
// when execution must stop.
func (p *Pipeline) walk(ctx context.Context, steps []map[string]any, depth int, state *execState) bool {
	for _, step := range steps {
		state.stepIndex++
		action := strings.ToLower(strings.TrimSpace(stringField(step, "action", "noop")))

		if err := p.runStep(ctx, action, step, state); err != nil {
			state.errorCount++
			state.status = "error"
			state.events = append(state.events, models.Event{
				Step: state.stepIndex, Action: action, Status: "error", Error: err.Error(),
			})
			state.errors = append(state.errors, models.RunErr{
				Type: "event_error", Step: state.stepIndex, Action: action, Message: err.Error(),
			})
			p.countStep(action, "error")
			if state.errorCount > state.limits.MaxEventErrors {
				state.errors = append(state.errors, models.RunErr{
					Type:  "event_error_threshold",
					Limit: "max_event_errors",
					Value: state.errorCount,
					Max:   state.limits.MaxEventErrors,
				})
				state.stopped = true
				return false
			}
		} else {
			p.countStep(action, "ok")
		}

		nested, _ := step["subcalls"].([]any)
		if len(nested) == 0 {
			continue
		}
		for _, item := range nested {
			sub, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if prompt, ok := sub["prompt"].(string); ok && prompt != "" {
				state.subcalls = append(state.subcalls, models.Subcall{
					SubcallID:   uuid.NewString(),
					Prompt:      prompt,
					Preview:     truncate(prompt, SubcallPreviewChars),
					Length:      len(prompt),
					ParentRunID: state.runID,
				})
			}
		}
		if !p.walk(ctx, stepList(nested), depth+1, state) {
			return false
		}
	}
	return true
}

// runStep executes one step and appends its ok event. An error return leaves
// event emission to the caller.
func (p *Pipeline) runStep(ctx context.Context, action string, step map[string]any, state *execState) error {
	switch action {
	case models.ActionNoop:
		state.events = append(state.events, models.Event{
			Step: state.stepIndex, Action: action, Status: "ok",
		})
		return nil
	case models.ActionSelect:
		return p.runSelect(action, step, state)
	case models.ActionGlimpse:
		return p.runGlimpse(ctx, action, step, state)
	case models.ActionRepl:
		return p.runRepl(ctx, action, step, state)
	default:
		return fmt.Errorf("unsupported action: %s", action)
	}
}

func (p *Pipeline) runSelect(action string, step map[string]any, state *execState) error {
	rawIDs, ok := step["selected_ids"].([]any)
	if !ok {
		return fmt.Errorf("select requires selected_ids list")
	}

	merged, _ := state.vars["selected_ids"].([]string)
	merged = append([]string{}, merged...)
	for _, item := range rawIDs {
		id, ok := item.(string)
		if !ok || id == "" {
			return fmt.Errorf("select requires non-empty string ids")
		}
		if !containsString(merged, id) {
			merged = append(merged, id)
		}
	}
	state.vars["selected_ids"] = merged
	if store := stringField(step, "store", ""); store != "" {
		state.vars[store] = append([]string{}, merged...)
	}
	state.events = append(state.events, models.Event{
		Step: state.stepIndex, Action: action, Status: "ok",
	})
	return nil
}

func (p *Pipeline) runGlimpse(ctx context.Context, action string, step map[string]any, state *execState) error {
	artifactID := stringField(step, "artifact_id", "")
	if artifactID == "" {
		return fmt.Errorf("glimpse requires artifact_id")
	}

	var candidate *models.Candidate
	if state.index != nil {
		candidate = state.index.Candidate(artifactID)
	}

	text, contentHash := p.resolveText(ctx, artifactID, candidate)
	if text == "" {
		return fmt.Errorf("glimpse text not found for artifact_id=%s", artifactID)
	}

	mode := strings.ToLower(stringField(step, "mode", models.GlimpseHead))
	spec := buildSpec(mode, step, state.limits)
	mode, _ = spec["mode"].(string)

	excerpt, extractMeta := p.cachedExtract(ctx, state.runID, artifactID, contentHash, text, spec)
	if excerpt == "" {
		return fmt.Errorf("glimpse extracted empty text")
	}

	glimpseMeta := map[string]any{
		"step":        state.stepIndex,
		"source":      "pipeline_executor",
		"artifact_id": artifactID,
	}
	if candidate != nil {
		if rank := state.index.Rank(artifactID); rank > 0 {
			glimpseMeta["rank"] = rank
		}
		glimpseMeta["score"] = candidate.BaseScore
	}
	if contentHash != "" {
		glimpseMeta["content_hash"] = contentHash
	}

	state.glimpses = append(state.glimpses, models.Glimpse{
		ArtifactID:  artifactID,
		Mode:        mode,
		Text:        excerpt,
		Span:        spanFromMeta(extractMeta),
		Hash:        sha256Hex(excerpt),
		GlimpseMeta: glimpseMeta,
	})
	if store := stringField(step, "store", ""); store != "" {
		state.vars[store] = excerpt
	}
	state.events = append(state.events, models.Event{
		Step: state.stepIndex, Action: action, Status: "ok",
	})
	return nil
}

func (p *Pipeline) runRepl(ctx context.Context, action string, step map[string]any, state *execState) error {
	if p.repl == nil {
		return fmt.Errorf("repl_env_unavailable")
	}
	code := stringField(step, "code", "")
	timeout := time.Second
	if v, ok := step["timeout_s"].(float64); ok && v > 0 {
		timeout = time.Duration(v * float64(time.Second))
	}

	result, err := p.repl.Run(ctx, code, timeout, state.vars)
	if err != nil {
		return err
	}
	if result.Vars != nil {
		for k, v := range result.Vars {
			state.vars[k] = v
		}
	}
	if store := stringField(step, "store", ""); store != "" {
		if result.Vars != nil {
			state.vars[store] = result.Vars
		} else {
			state.vars[store] = map[string]any{}
		}
	}
	payload := map[string]any{
		"stdout":      result.Stdout,
		"stderr":      result.Stderr,
		"exception":   result.Exception,
		"duration_ms": result.DurationMS,
	}
	state.events = append(state.events, models.Event{
		Step: state.stepIndex, Action: action, Status: "ok", Payload: payload,
	})
	return nil
}

// resolveText fetches the full artifact body, falling back to the candidate
// preview when the store has no row.
func (p *Pipeline) resolveText(ctx context.Context, artifactID string, candidate *models.Candidate) (string, string) {
	var text, contentHash string
	if p.store != nil {
		if t, err := p.store.GetArtifactText(ctx, artifactID); err == nil {
			text = t
		}
		if meta, err := p.store.GetArtifactMetadata(ctx, artifactID); err == nil {
			if h, ok := meta["content_hash"].(string); ok {
				contentHash = h
			}
		}
	}
	if candidate != nil {
		if text == "" {
			text = candidate.ContentPreview
		}
		if contentHash == "" {
			contentHash = candidate.ContentHash
		}
	}
	return text, contentHash
}

// cachedExtract serves the excerpt through the glimpse cache when a content
// hash is known; otherwise extraction bypasses the cache entirely.
func (p *Pipeline) cachedExtract(ctx context.Context, runID, artifactID, contentHash, text string, spec map[string]any) (string, map[string]any) {
	if contentHash == "" {
		p.countCache("bypass")
		return extract(text, spec)
	}

	glimpseID := glimpse.ID(artifactID, contentHash, spec)
	if entry, ok := p.cache.Get(ctx, runID, glimpseID); ok {
		p.countCache("hit")
		return entry.Text, entry.Meta
	}
	p.countCache("miss")

	excerpt, meta := extract(text, spec)
	if excerpt != "" {
		p.cache.Set(ctx, runID, glimpseID, glimpse.Entry{Meta: meta, Text: excerpt})
	}
	return excerpt, meta
}

func (p *Pipeline) finish(state *execState) *Result {
	return &Result{
		Events:    state.events,
		Glimpses:  state.glimpses,
		Subcalls:  state.subcalls,
		Variables: state.vars,
		Status:    state.status,
		Errors:    state.errors,
		Stopped:   state.stopped,
		Meta: map[string]any{
			"mode":        "pipeline_executor",
			"step_count":  len(state.events),
			"error_count": state.errorCount,
			"stopped":     state.stopped,
		},
	}
}

func (p *Pipeline) countStep(action, status string) {
	if p.metrics != nil {
		p.metrics.ExecutorStepCounter.WithLabelValues(action, status).Inc()
	}
}

func (p *Pipeline) countCache(outcome string) {
	if p.metrics != nil {
		p.metrics.GlimpseCacheCounter.WithLabelValues(outcome).Inc()
	}
}

// MockExec echoes execution fixtures from options; used by tests and the
// executor_backend=mock escape hatch.
type MockExec struct{}

// NewMockExec creates the mock executor.
func NewMockExec() *MockExec { return &MockExec{} }

func (m *MockExec) Execute(ctx context.Context, program any, index *models.CandidateIndex, options map[string]any) (*Result, error) {
	result := &Result{
		Variables: map[string]any{},
		Status:    "ok",
		Meta:      map[string]any{"mode": "mock"},
	}
	if programMap, ok := program.(map[string]any); ok {
		result.Meta["program_summary"] = programMap["steps"]
	}
	decodeOption(options, "events", &result.Events)
	decodeOption(options, "glimpses", &result.Glimpses)
	decodeOption(options, "subcalls", &result.Subcalls)
	if vars, ok := options["vars"].(map[string]any); ok {
		for k, v := range vars {
			result.Variables[k] = v
		}
	}
	if status := stringOption(options, "executor_status", ""); status != "" {
		result.Status = status
	}
	return result, nil
}

// decodeOption converts a decoded-JSON option value into a typed slice.
func decodeOption(options map[string]any, key string, dst any) {
	raw, ok := options[key]
	if !ok || raw == nil {
		return
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, dst)
}

func stringField(step map[string]any, key, def string) string {
	if v, ok := step[key].(string); ok && v != "" {
		return v
	}
	return def
}

func stringOption(options map[string]any, key, def string) string {
	if v, ok := options[key].(string); ok && v != "" {
		return v
	}
	return def
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
