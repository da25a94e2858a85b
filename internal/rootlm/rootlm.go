// Package rootlm provides the root language-model adapters: a deterministic
// mock backend and an OpenAI-compatible HTTP-chat backend. Both produce a
// program for the plan round and a final answer for the decision round.
package rootlm

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/rlmd/pkg/models"
)

// Backend names accepted in options and config.
const (
	BackendMock = "mock"
	BackendVLLM = "vllm"
)

// ProgramResult is the outcome of a plan-round call.
type ProgramResult struct {
	Program map[string]any
	Meta    map[string]any
	Raw     map[string]any
}

// FinalResult is the outcome of a decision-round call.
type FinalResult struct {
	Final map[string]any
	Meta  map[string]any
	Raw   map[string]any
}

// Client is the root-LM capability interface. Implementations are stateless
// after construction and safe for concurrent use.
type Client interface {
	GenerateProgram(ctx context.Context, index *models.CandidateIndex, policy, limits, options map[string]any) (*ProgramResult, error)
	GenerateFinal(ctx context.Context, index *models.CandidateIndex, evidence []map[string]any, subcalls []models.Subcall, options map[string]any) (*FinalResult, error)
}

// ResolveBackend picks the backend name from request options, falling back to
// the configured default and finally to mock.
func ResolveBackend(options map[string]any, configured string) (string, error) {
	backend := configured
	if v, ok := options["rootlm_backend"].(string); ok && v != "" {
		backend = v
	}
	backend = strings.ToLower(strings.TrimSpace(backend))
	switch backend {
	case "", BackendMock:
		return BackendMock, nil
	case BackendVLLM:
		return BackendVLLM, nil
	default:
		return "", fmt.Errorf("unsupported rootlm backend: %s", backend)
	}
}
