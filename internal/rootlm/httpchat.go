package rootlm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/rlmd/internal/observability"
	"github.com/haasonsaas/rlmd/internal/retry"
	"github.com/haasonsaas/rlmd/pkg/models"
)

// HTTPConfig configures the OpenAI-compatible chat backend.
type HTTPConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Stop        []string

	// Retry policy: timeouts and <500 responses never retry; 5xx and
	// network errors retry up to MaxRetries with a fixed backoff.
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// OverlayOptions returns a copy of the config with per-request vllm_* option
// overrides applied.
func (c HTTPConfig) OverlayOptions(options map[string]any) HTTPConfig {
	if v, ok := options["vllm_base_url"].(string); ok && v != "" {
		c.BaseURL = v
	}
	if v, ok := options["vllm_api_key"].(string); ok && v != "" {
		c.APIKey = v
	}
	if v, ok := options["vllm_model"].(string); ok && v != "" {
		c.Model = v
	}
	if v, ok := options["vllm_max_tokens"].(float64); ok && v > 0 {
		c.MaxTokens = int(v)
	}
	if v, ok := options["vllm_temperature"].(float64); ok {
		c.Temperature = v
	}
	return c
}

// NormalizeBaseURL strips a trailing slash and a trailing /v1 segment so
// configs may name the service root or the OpenAI prefix interchangeably.
func NormalizeBaseURL(base string) string {
	base = strings.TrimSuffix(strings.TrimSpace(base), "/")
	base = strings.TrimSuffix(base, "/v1")
	return strings.TrimSuffix(base, "/")
}

// HTTPChat calls an OpenAI-compatible chat-completions endpoint.
type HTTPChat struct {
	client *openai.Client
	config HTTPConfig
	logger *observability.Logger
}

// NewHTTPChat constructs the backend. Base URL and model are required; their
// absence is reported as vllm_missing_config so callers can fall back.
func NewHTTPChat(config HTTPConfig, logger *observability.Logger) (*HTTPChat, error) {
	if config.BaseURL == "" || config.Model == "" {
		return nil, fmt.Errorf("vllm_missing_config: base_url and model are required")
	}
	if logger == nil {
		logger = observability.Nop()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = NormalizeBaseURL(config.BaseURL) + "/v1"
	clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &HTTPChat{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}, nil
}

func (h *HTTPChat) GenerateProgram(ctx context.Context, index *models.CandidateIndex, policy, limits, options map[string]any) (*ProgramResult, error) {
	if policy == nil {
		policy = map[string]any{}
	}
	if limits == nil {
		limits = map[string]any{}
	}
	candidateIDs := index.CandidateIDs()

	payload, err := json.Marshal(map[string]any{
		"query":         index.Query,
		"policy":        policy,
		"limits":        limits,
		"candidate_ids": candidateIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan payload: %w", err)
	}
	prompt := "You are RootLM. Return JSON only.\n" +
		"Schema: {\"program\": {\"steps\": [], \"candidate_ids\": [], \"policy\": {}, \"limits\": {}}}\n" +
		"Input: " + string(payload)

	rawText, err := h.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	shell := func() *ProgramResult {
		ids := make([]any, len(candidateIDs))
		for i, id := range candidateIDs {
			ids[i] = id
		}
		return &ProgramResult{
			Program: map[string]any{
				"policy":        policy,
				"limits":        limits,
				"candidate_ids": ids,
				"steps":         []any{},
			},
			Meta: map[string]any{"mode": BackendVLLM, "parsed": false},
			Raw:  map[string]any{"text": rawText},
		}
	}

	parsed := ExtractJSON(rawText)
	if parsed == nil || !SchemaVersionOK(parsed) {
		return shell(), nil
	}
	program, _ := parsed["program"].(map[string]any)
	if program == nil {
		program = parsed
	}
	if !ValidProgramShape(program) {
		return shell(), nil
	}
	return &ProgramResult{
		Program: program,
		Meta:    map[string]any{"mode": BackendVLLM, "parsed": true},
		Raw:     parsed,
	}, nil
}

func (h *HTTPChat) GenerateFinal(ctx context.Context, index *models.CandidateIndex, evidence []map[string]any, subcalls []models.Subcall, options map[string]any) (*FinalResult, error) {
	payload, err := json.Marshal(map[string]any{
		"query":    index.Query,
		"evidence": evidence,
		"subcalls": subcalls,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode decision payload: %w", err)
	}
	prompt := "You are RootLM. Return JSON only.\n" +
		"Schema: {\"final\": {\"answer\": \"\", \"citations\": []}}\n" +
		"Input: " + string(payload)

	rawText, err := h.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	shell := func() *FinalResult {
		return &FinalResult{
			Final: map[string]any{
				"answer":    strings.TrimSpace(rawText),
				"citations": []any{},
			},
			Meta: map[string]any{"mode": BackendVLLM, "parsed": false},
			Raw:  map[string]any{"text": rawText},
		}
	}

	parsed := ExtractJSON(rawText)
	if parsed == nil || !SchemaVersionOK(parsed) {
		return shell(), nil
	}
	final, _ := parsed["final"].(map[string]any)
	if final == nil {
		final = parsed
	}
	if !ValidFinalShape(final) {
		return shell(), nil
	}
	return &FinalResult{
		Final: final,
		Meta:  map[string]any{"mode": BackendVLLM, "parsed": true},
		Raw:   parsed,
	}, nil
}

// generate sends one prompt and returns the first choice's content, applying
// the retry policy.
func (h *HTTPChat) generate(ctx context.Context, prompt string) (string, error) {
	request := openai.ChatCompletionRequest{
		Model: h.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stop: h.config.Stop,
	}
	if h.config.MaxTokens > 0 {
		request.MaxTokens = h.config.MaxTokens
	}
	if h.config.Temperature > 0 {
		request.Temperature = float32(h.config.Temperature)
	}

	retryConfig := retry.Linear(h.config.MaxRetries+1, h.config.Backoff)
	content, result := retry.DoWithValue(ctx, retryConfig, func() (string, error) {
		resp, err := h.client.CreateChatCompletion(ctx, request)
		if err != nil {
			return "", classifyError(err)
		}
		if len(resp.Choices) == 0 {
			return "", retry.Permanent(errors.New("empty chat completion response"))
		}
		return resp.Choices[0].Message.Content, nil
	})
	if result.Err != nil {
		return "", fmt.Errorf("vllm_request_failed: %d attempt(s): %w", result.Attempts, result.Err)
	}
	return content, nil
}

// classifyError marks errors that must not be retried: timeouts and any HTTP
// response below 500.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return retry.Permanent(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retry.Permanent(err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 && apiErr.HTTPStatusCode < 500 {
		return retry.Permanent(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 && reqErr.HTTPStatusCode < 500 {
		return retry.Permanent(err)
	}
	return err
}
