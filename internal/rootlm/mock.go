package rootlm

import (
	"context"
	"fmt"

	"github.com/haasonsaas/rlmd/pkg/models"
)

// MockHeadChars is the glimpse size the mock plan requests for the top
// candidate.
const MockHeadChars = 800

// Mock is the deterministic backend. It plans a minimal select+glimpse
// program over the top candidate and answers with a fixed template, so runs
// remain fully reproducible without any model service.
type Mock struct{}

// NewMock creates the mock backend.
func NewMock() *Mock { return &Mock{} }

func (m *Mock) GenerateProgram(ctx context.Context, index *models.CandidateIndex, policy, limits, options map[string]any) (*ProgramResult, error) {
	if policy == nil {
		policy = map[string]any{}
	}
	if limits == nil {
		limits = map[string]any{}
	}

	program, _ := options["program"].(map[string]any)
	if program == nil {
		candidateIDs := index.CandidateIDs()
		steps := []any{}
		if len(candidateIDs) > 0 {
			first := candidateIDs[0]
			steps = []any{
				map[string]any{
					"action":       models.ActionSelect,
					"selected_ids": []any{first},
				},
				map[string]any{
					"action":      models.ActionGlimpse,
					"artifact_id": first,
					"mode":        models.GlimpseHead,
					"n":           MockHeadChars,
				},
			}
		}
		ids := make([]any, len(candidateIDs))
		for i, id := range candidateIDs {
			ids[i] = id
		}
		program = map[string]any{
			"policy":        policy,
			"limits":        limits,
			"candidate_ids": ids,
			"steps":         steps,
		}
	}

	return &ProgramResult{
		Program: program,
		Meta: map[string]any{
			"mode":   BackendMock,
			"policy": policy,
			"limits": limits,
		},
		Raw: map[string]any{"mock": true},
	}, nil
}

func (m *Mock) GenerateFinal(ctx context.Context, index *models.CandidateIndex, evidence []map[string]any, subcalls []models.Subcall, options map[string]any) (*FinalResult, error) {
	answer, ok := options["final_answer"].(string)
	if !ok {
		answer = fmt.Sprintf("Mock answer for: %s", index.Query)
	}
	citations, _ := options["citations"].([]any)
	if citations == nil {
		citations = []any{}
	}

	return &FinalResult{
		Final: map[string]any{
			"answer":         answer,
			"citations":      citations,
			"evidence_count": len(evidence),
			"subcall_count":  len(subcalls),
		},
		Meta: map[string]any{"mode": BackendMock},
		Raw:  map[string]any{"mock": true},
	}, nil
}
