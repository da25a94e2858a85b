package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/rlmd/internal/executor"
	"github.com/haasonsaas/rlmd/internal/observability"
)

// AssembleResult is the response shape of an assembly-only run. RoundsSummary
// is always empty: assembly never enters the round loop.
type AssembleResult struct {
	RunID            string           `json:"run_id"`
	Status           string           `json:"status"`
	AssembledContext map[string]any   `json:"assembled_context"`
	RoundsSummary    []map[string]any `json:"rounds_summary"`
	RenderedPrompt   *string          `json:"rendered_prompt"`
}

// Assemble runs the assembly-only path: retrieval, a restricted program walk,
// and a finished run row carrying the assembled context. The resolved limits
// snapshot is stored with the run options so the stored run is reproducible.
func (o *Orchestrator) Assemble(ctx context.Context, sessionID, query string, options map[string]any) (*AssembleResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if options == nil {
		options = map[string]any{}
	}
	started := time.Now()

	index, err := o.retrieval.BuildCandidateIndex(ctx, sessionID, query, options)
	if err != nil {
		return nil, err
	}

	snapshot := executor.BuildLimitsSnapshot(options)
	stored := make(map[string]any, len(options)+1)
	for k, v := range options {
		stored[k] = v
	}
	// An explicit limits key from the caller is preserved verbatim.
	if _, exists := stored["limits"]; exists {
		stored["limits_snapshot"] = snapshot
	} else {
		stored["limits"] = snapshot
	}

	runID, err := o.store.InsertRun(ctx, sessionID, query, stored, index)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	ctx = observability.WithRunID(ctx, runID)

	outcome := executor.RunProgram(index, stored, snapshot)

	if err := o.store.FinishRun(ctx, runID, outcome.AssembledContext, "", outcome.Status, outcome.Errors); err != nil {
		o.logger.Error(ctx, "assemble persist failed", "error", err)
	}

	o.finishRunMetrics("assemble", outcome.Status, started)
	o.logger.Info(ctx, "assemble finished",
		"session_id", sessionID,
		"status", string(outcome.Status),
		"candidates", len(index.Candidates),
		"degraded", outcome.Degraded,
	)

	return &AssembleResult{
		RunID:            runID,
		Status:           string(outcome.Status),
		AssembledContext: outcome.AssembledContext,
		RoundsSummary:    []map[string]any{},
		RenderedPrompt:   nil,
	}, nil
}
