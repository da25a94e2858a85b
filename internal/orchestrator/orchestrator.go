// Package orchestrator drives the three-round RLM pipeline: retrieval,
// plan, examine, and decision. The run row is re-persisted as a full
// snapshot after every round, so a crash mid-run leaves the last completed
// round durable.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/rlmd/internal/config"
	"github.com/haasonsaas/rlmd/internal/executor"
	"github.com/haasonsaas/rlmd/internal/observability"
	"github.com/haasonsaas/rlmd/internal/retrieval"
	"github.com/haasonsaas/rlmd/internal/rootlm"
	"github.com/haasonsaas/rlmd/internal/storage"
	"github.com/haasonsaas/rlmd/internal/trace"
	"github.com/haasonsaas/rlmd/pkg/models"
)

// ErrEmptyQuery rejects blank queries before any run row is created.
var ErrEmptyQuery = errors.New("empty_query_not_allowed")

// RunResult is the response shape of a full pipeline run.
type RunResult struct {
	RunID       string           `json:"run_id"`
	Status      models.RunStatus `json:"status"`
	Program     map[string]any   `json:"program"`
	Glimpses    []models.Glimpse `json:"glimpses"`
	Subcalls    []models.Subcall `json:"subcalls"`
	FinalAnswer string           `json:"final_answer"`
	Citations   []any            `json:"citations"`
	Final       map[string]any   `json:"final"`
}

// Orchestrator wires retrieval, the root-LM backends, the executor, and run
// persistence into the pipeline entry points.
type Orchestrator struct {
	store     storage.Store
	retrieval *retrieval.Service
	planner   rootlm.Client
	pipeline  executor.Executor
	mockExec  executor.Executor
	cfg       *config.Config
	trace     *trace.Logger
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// New creates an orchestrator. The plan round always uses the mock backend;
// the decision round backend is resolved per request from options and config.
func New(store storage.Store, retrievalSvc *retrieval.Service, pipeline executor.Executor,
	cfg *config.Config, traceLogger *trace.Logger, logger *observability.Logger,
	metrics *observability.Metrics) *Orchestrator {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = observability.Nop()
	}
	if traceLogger == nil {
		traceLogger = trace.NewLogger("", logger)
	}
	return &Orchestrator{
		store:     store,
		retrieval: retrievalSvc,
		planner:   rootlm.NewMock(),
		pipeline:  pipeline,
		mockExec:  executor.NewMockExec(),
		cfg:       cfg,
		trace:     traceLogger,
		logger:    logger,
		metrics:   metrics,
	}
}

// runState accumulates the snapshot persisted after each round.
type runState struct {
	runID        string
	index        *models.CandidateIndex
	options      map[string]any
	program      map[string]any
	meta         map[string]any
	events       []models.Event
	glimpses     []models.Glimpse
	glimpsesMeta []map[string]any
	subcalls     []models.Subcall
	evidence     []map[string]any
	final        map[string]any
	finalAnswer  string
	citations    []any
	status       models.RunStatus
	errors       []models.RunErr
}

// Run executes the full pipeline for one query.
func (o *Orchestrator) Run(ctx context.Context, sessionID, query string, options map[string]any) (*RunResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if options == nil {
		options = map[string]any{}
	}
	started := time.Now()

	// Round 0: retrieval.
	index, err := o.retrieval.BuildCandidateIndex(ctx, sessionID, query, options)
	if err != nil {
		return nil, err
	}

	runID, err := o.store.InsertRun(ctx, sessionID, query, options, index)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	ctx = observability.WithRunID(ctx, runID)

	state := &runState{
		runID:   runID,
		index:   index,
		options: options,
		meta: map[string]any{
			"round0": map[string]any{"candidate_count": len(index.Candidates)},
		},
		status: models.RunOK,
	}

	if err := o.planRound(ctx, state); err != nil {
		o.finishRunMetrics("run", state.status, started)
		return o.result(state), nil
	}
	o.examineRound(ctx, state)
	o.decisionRound(ctx, state)

	o.finishRunMetrics("run", state.status, started)
	o.logger.Info(ctx, "run finished",
		"session_id", sessionID,
		"status", string(state.status),
		"events", len(state.events),
		"glimpses", len(state.glimpses),
	)
	return o.result(state), nil
}

// planRound asks the plan backend for a program. Plan failures terminate the
// run; the error snapshot is still persisted.
func (o *Orchestrator) planRound(ctx context.Context, state *runState) error {
	policy, _ := state.options["policy"].(map[string]any)
	if policy == nil {
		policy = map[string]any{}
	}
	limits := executor.LimitsFromOptions(state.options, executor.DefaultPipelineLimits()).Snapshot()

	result, err := observeRootLM(o, rootlm.BackendMock, "plan", func() (*rootlm.ProgramResult, error) {
		return o.planner.GenerateProgram(ctx, state.index, policy, limits, state.options)
	})
	if err != nil {
		state.status = models.RunError
		state.errors = append(state.errors, models.RunErr{Stage: "round1", Error: err.Error()})
		o.persist(ctx, state)
		o.trace.Append(ctx, state.runID, trace.StageError,
			map[string]any{"error": err.Error()}, map[string]any{"stage": "round1"})
		return err
	}

	state.program = result.Program
	state.meta["round1"] = mergeMeta(result.Meta, map[string]any{
		"policy": policy,
		"limits": limits,
		"stage":  "plan",
	})
	o.persist(ctx, state)
	o.appendRunEvent(ctx, state.runID, map[string]any{
		"stage": "plan", "steps": listLen(state.program["steps"]),
	})
	o.trace.Append(ctx, state.runID, trace.StagePlan, map[string]any{
		"steps":         state.program["steps"],
		"candidate_ids": state.program["candidate_ids"],
	}, state.metaRound("round1"))
	return nil
}

// examineRound executes the program. Executor outcomes, including stops and
// per-step errors, flow into the run status; they never abort the pipeline.
func (o *Orchestrator) examineRound(ctx context.Context, state *runState) {
	exec := o.pipeline
	if backend, _ := state.options["executor_backend"].(string); backend == "mock" {
		exec = o.mockExec
	}

	execOptions := make(map[string]any, len(state.options)+1)
	for k, v := range state.options {
		execOptions[k] = v
	}
	execOptions["run_id"] = state.runID

	result, err := exec.Execute(ctx, state.program, state.index, execOptions)
	if err != nil {
		state.status = models.RunError
		state.errors = append(state.errors, models.RunErr{Stage: "round2", Error: err.Error()})
		o.persist(ctx, state)
		o.trace.Append(ctx, state.runID, trace.StageError,
			map[string]any{"error": err.Error()}, map[string]any{"stage": "round2"})
		return
	}

	state.events = result.Events
	state.glimpses = result.Glimpses
	state.subcalls = result.Subcalls
	state.errors = append(state.errors, result.Errors...)
	state.status = statusFromExecutor(result.Status)

	state.glimpsesMeta = glimpsesMetaFromOptions(state.options)
	if len(state.glimpsesMeta) == 0 {
		state.glimpsesMeta = make([]map[string]any, 0, len(result.Glimpses))
		for _, g := range result.Glimpses {
			if g.GlimpseMeta != nil {
				state.glimpsesMeta = append(state.glimpsesMeta, g.GlimpseMeta)
			}
		}
	}

	state.evidence = []map[string]any{
		{"events": state.events},
		{"glimpses": state.glimpses},
		{"subcalls": state.subcalls},
	}
	state.meta["round2"] = mergeMeta(result.Meta, map[string]any{
		"vars":   result.Variables,
		"status": result.Status,
		"stage":  "examine",
	})
	o.persist(ctx, state)
	o.appendRunEvent(ctx, state.runID, map[string]any{
		"stage": "examine", "events": len(state.events), "glimpses": len(state.glimpses),
	})
	o.trace.Append(ctx, state.runID, trace.StageExamine, map[string]any{
		"events":   state.events,
		"glimpses": state.glimpses,
	}, state.metaRound("round2"))
}

// decisionRound produces the final answer. A failing vllm backend falls back
// to mock and records the reason; the run status is not degraded by fallback.
func (o *Orchestrator) decisionRound(ctx context.Context, state *runState) {
	client, backend, fallbackMeta := o.decisionClient(ctx, state.options)

	result, err := observeRootLM(o, backend, "decision", func() (*rootlm.FinalResult, error) {
		return client.GenerateFinal(ctx, state.index, state.evidence, state.subcalls, state.options)
	})
	if err != nil {
		if backend == rootlm.BackendVLLM {
			fallbackMeta = map[string]any{
				"fallback_reason": err.Error(),
				"fallback_from":   rootlm.BackendVLLM,
			}
			o.countRootLM(rootlm.BackendVLLM, "decision", "fallback")
			backend = rootlm.BackendMock
			result, err = observeRootLM(o, backend, "decision", func() (*rootlm.FinalResult, error) {
				return rootlm.NewMock().GenerateFinal(ctx, state.index, state.evidence, state.subcalls, state.options)
			})
		}
		if err != nil {
			state.status = models.RunError
			state.errors = append(state.errors, models.RunErr{Stage: "round3", Error: err.Error()})
			o.persist(ctx, state)
			o.trace.Append(ctx, state.runID, trace.StageError,
				map[string]any{"error": err.Error()}, map[string]any{"stage": "round3"})
			return
		}
	}

	state.final = result.Final
	state.finalAnswer = stringify(result.Final["answer"])
	if citations, ok := result.Final["citations"].([]any); ok {
		state.citations = citations
	} else {
		state.citations = []any{}
	}

	round3 := mergeMeta(result.Meta, map[string]any{
		"evidence_items": len(state.evidence),
		"stage":          "decision",
	})
	for k, v := range fallbackMeta {
		round3[k] = v
	}
	state.meta["round3"] = round3

	o.persist(ctx, state)
	o.appendRunEvent(ctx, state.runID, map[string]any{
		"stage": "decision", "citations": len(state.citations),
	})
	o.trace.Append(ctx, state.runID, trace.StageDecision, map[string]any{
		"final_answer_preview": trace.AnswerPreview(state.finalAnswer),
		"citations_count":      len(state.citations),
	}, state.metaRound("round3"))
}

// decisionClient resolves the decision backend. A vllm selection that cannot
// be constructed degrades to mock with a recorded reason.
func (o *Orchestrator) decisionClient(ctx context.Context, options map[string]any) (rootlm.Client, string, map[string]any) {
	backend, err := rootlm.ResolveBackend(options, o.cfg.RootLMBackend)
	if err != nil {
		o.logger.Warn(ctx, "unknown rootlm backend, using mock", "error", err)
		return rootlm.NewMock(), rootlm.BackendMock, map[string]any{
			"fallback_reason": err.Error(),
			"fallback_from":   "unknown",
		}
	}
	if backend != rootlm.BackendVLLM {
		return rootlm.NewMock(), rootlm.BackendMock, nil
	}

	httpConfig := rootlm.HTTPConfig{
		BaseURL:     o.cfg.VLLM.BaseURL,
		APIKey:      o.cfg.VLLM.APIKey,
		Model:       o.cfg.VLLM.Model,
		MaxTokens:   o.cfg.VLLM.MaxTokens,
		Temperature: o.cfg.VLLM.Temperature,
		Timeout:     time.Duration(o.cfg.VLLM.TimeoutS * float64(time.Second)),
		MaxRetries:  o.cfg.VLLM.MaxRetries,
		Backoff:     time.Duration(o.cfg.VLLM.BackoffS * float64(time.Second)),
	}.OverlayOptions(options)

	client, err := rootlm.NewHTTPChat(httpConfig, o.logger)
	if err != nil {
		o.logger.Warn(ctx, "vllm backend unavailable, using mock", "error", err)
		return rootlm.NewMock(), rootlm.BackendMock, map[string]any{
			"fallback_reason": err.Error(),
			"fallback_from":   rootlm.BackendVLLM,
		}
	}
	return client, rootlm.BackendVLLM, nil
}

// persist writes the full snapshot. Persistence failures are logged; the
// in-memory state remains authoritative for the response.
func (o *Orchestrator) persist(ctx context.Context, state *runState) {
	payload := storage.RunPayload{
		Program:      state.program,
		Meta:         state.meta,
		Events:       state.events,
		Glimpses:     state.glimpses,
		GlimpsesMeta: state.glimpsesMeta,
		Subcalls:     state.subcalls,
		Evidence:     state.evidence,
		Final:        state.final,
		FinalAnswer:  state.finalAnswer,
		Citations:    state.citations,
		Status:       state.status,
		Errors:       state.errors,
	}
	if err := o.store.UpdateRunPayload(ctx, state.runID, payload); err != nil {
		o.logger.Error(ctx, "run snapshot persist failed", "error", err)
	}
}

func (o *Orchestrator) appendRunEvent(ctx context.Context, runID string, event map[string]any) {
	if err := o.store.AppendEvent(ctx, runID, event); err != nil {
		o.logger.Warn(ctx, "run event append failed", "error", err)
	}
}

func (o *Orchestrator) result(state *runState) *RunResult {
	glimpses := state.glimpses
	if glimpses == nil {
		glimpses = []models.Glimpse{}
	}
	subcalls := state.subcalls
	if subcalls == nil {
		subcalls = []models.Subcall{}
	}
	citations := state.citations
	if citations == nil {
		citations = []any{}
	}
	return &RunResult{
		RunID:       state.runID,
		Status:      state.status,
		Program:     state.program,
		Glimpses:    glimpses,
		Subcalls:    subcalls,
		FinalAnswer: state.finalAnswer,
		Citations:   citations,
		Final:       state.final,
	}
}

func (s *runState) metaRound(key string) map[string]any {
	meta, _ := s.meta[key].(map[string]any)
	return meta
}

// observeRootLM wraps one root-LM call with duration and outcome metrics.
func observeRootLM[T any](o *Orchestrator, backend, stage string, fn func() (T, error)) (T, error) {
	started := time.Now()
	value, err := fn()
	if o.metrics != nil {
		o.metrics.RootLMRequestDuration.WithLabelValues(backend, stage).Observe(time.Since(started).Seconds())
	}
	if err != nil {
		o.countRootLM(backend, stage, "error")
	} else {
		o.countRootLM(backend, stage, "success")
	}
	return value, err
}

func (o *Orchestrator) countRootLM(backend, stage, status string) {
	if o.metrics != nil {
		o.metrics.RootLMRequestCounter.WithLabelValues(backend, stage, status).Inc()
	}
}

func (o *Orchestrator) finishRunMetrics(kind string, status models.RunStatus, started time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.RunCounter.WithLabelValues(kind, string(status)).Inc()
	o.metrics.RunDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// glimpsesMetaFromOptions reads a caller-supplied glimpses_meta list. When
// present and non-empty it overrides the executor-derived metadata.
func glimpsesMetaFromOptions(options map[string]any) []map[string]any {
	raw, ok := options["glimpses_meta"].([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	meta := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			meta = append(meta, m)
		}
	}
	return meta
}

func statusFromExecutor(status string) models.RunStatus {
	switch status {
	case "stopped":
		return models.RunStopped
	case "error":
		return models.RunError
	case "degraded":
		return models.RunDegraded
	default:
		return models.RunOK
	}
}

func mergeMeta(base, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func listLen(v any) int {
	if items, ok := v.([]any); ok {
		return len(items)
	}
	return 0
}
