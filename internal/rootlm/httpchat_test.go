package rootlm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func chatResponse(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "test-model",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	})
	return string(body)
}

func newTestChat(t *testing.T, handler http.HandlerFunc, retries int) (*HTTPChat, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	chat, err := NewHTTPChat(HTTPConfig{
		BaseURL:    server.URL,
		Model:      "test-model",
		Timeout:    2 * time.Second,
		MaxRetries: retries,
		Backoff:    time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewHTTPChat: %v", err)
	}
	return chat, server
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"http://host:8000", "http://host:8000"},
		{"http://host:8000/", "http://host:8000"},
		{"http://host:8000/v1", "http://host:8000"},
		{"http://host:8000/v1/", "http://host:8000"},
		{" http://host:8000/v1 ", "http://host:8000"},
	}
	for _, tt := range tests {
		if got := NormalizeBaseURL(tt.in); got != tt.want {
			t.Errorf("NormalizeBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewHTTPChat_MissingConfig(t *testing.T) {
	_, err := NewHTTPChat(HTTPConfig{BaseURL: "http://host"}, nil)
	if err == nil || !strings.HasPrefix(err.Error(), "vllm_missing_config") {
		t.Fatalf("expected vllm_missing_config, got %v", err)
	}
}

func TestHTTPChat_GenerateProgram_Parsed(t *testing.T) {
	chat, _ := newTestChat(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse("```json\n{\"program\": {\"steps\": [{\"action\": \"noop\"}]}}\n```")))
	}, 0)

	result, err := chat.GenerateProgram(context.Background(), candidateIndex("a1"), nil, nil, map[string]any{})
	if err != nil {
		t.Fatalf("GenerateProgram: %v", err)
	}
	if result.Meta["parsed"] != true {
		t.Errorf("meta = %v", result.Meta)
	}
	if steps := result.Program["steps"].([]any); len(steps) != 1 {
		t.Errorf("steps = %v", steps)
	}
}

func TestHTTPChat_GenerateProgram_UnparseableShell(t *testing.T) {
	chat, _ := newTestChat(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse("I refuse to emit JSON today.")))
	}, 0)

	result, err := chat.GenerateProgram(context.Background(), candidateIndex("a1"), nil, nil, map[string]any{})
	if err != nil {
		t.Fatalf("GenerateProgram: %v", err)
	}
	if result.Meta["parsed"] != false {
		t.Errorf("expected parsed=false, got %v", result.Meta)
	}
	if steps := result.Program["steps"].([]any); len(steps) != 0 {
		t.Errorf("shell program must have empty steps, got %v", steps)
	}
	if ids := result.Program["candidate_ids"].([]any); len(ids) != 1 || ids[0] != "a1" {
		t.Errorf("shell candidate_ids = %v", ids)
	}
}

func TestHTTPChat_GenerateProgram_SchemaVersionMismatch(t *testing.T) {
	chat, _ := newTestChat(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse(`{"schema_version": 2, "program": {"steps": []}}`)))
	}, 0)

	result, err := chat.GenerateProgram(context.Background(), candidateIndex("a1"), nil, nil, map[string]any{})
	if err != nil {
		t.Fatalf("GenerateProgram: %v", err)
	}
	if result.Meta["parsed"] != false {
		t.Errorf("mismatched schema_version must fall back: %v", result.Meta)
	}
}

func TestHTTPChat_GenerateFinal_RawFallback(t *testing.T) {
	chat, _ := newTestChat(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse("  plain text answer  ")))
	}, 0)

	result, err := chat.GenerateFinal(context.Background(), candidateIndex("a1"), nil, nil, map[string]any{})
	if err != nil {
		t.Fatalf("GenerateFinal: %v", err)
	}
	if result.Final["answer"] != "plain text answer" {
		t.Errorf("answer = %v", result.Final["answer"])
	}
	if cites := result.Final["citations"].([]any); len(cites) != 0 {
		t.Errorf("citations = %v", cites)
	}
}

func TestHTTPChat_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	chat, _ := newTestChat(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse(`{"final": {"answer": "ok", "citations": []}}`)))
	}, 2)

	result, err := chat.GenerateFinal(context.Background(), candidateIndex("a1"), nil, nil, map[string]any{})
	if err != nil {
		t.Fatalf("GenerateFinal: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if result.Final["answer"] != "ok" {
		t.Errorf("answer = %v", result.Final["answer"])
	}
}

func TestHTTPChat_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	chat, _ := newTestChat(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": {"message": "bad request"}}`, http.StatusBadRequest)
	}, 3)

	_, err := chat.GenerateProgram(context.Background(), candidateIndex("a1"), nil, nil, map[string]any{})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (4xx must not retry)", got)
	}
	if !strings.HasPrefix(err.Error(), "vllm_request_failed") {
		t.Errorf("error = %v", err)
	}
}

func TestHTTPChat_RetryExhaustion(t *testing.T) {
	var calls atomic.Int32
	chat, _ := newTestChat(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}, 1)

	_, err := chat.GenerateProgram(context.Background(), candidateIndex("a1"), nil, nil, map[string]any{})
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}
