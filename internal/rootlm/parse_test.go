package rootlm

import (
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantKey string
		wantNil bool
	}{
		{
			name:    "direct parse",
			text:    `{"program": {"steps": []}}`,
			wantKey: "program",
		},
		{
			name:    "fenced json block",
			text:    "Here you go:\n```json\n{\"final\": {\"answer\": \"x\"}}\n```\nthanks",
			wantKey: "final",
		},
		{
			name:    "fence without language tag",
			text:    "```\n{\"program\": {}}\n```",
			wantKey: "program",
		},
		{
			name:    "braces embedded in prose",
			text:    `The result is {"final": {"answer": "embedded"}} as requested.`,
			wantKey: "final",
		},
		{
			name:    "no json at all",
			text:    "I cannot answer that.",
			wantNil: true,
		},
		{
			name:    "empty input",
			text:    "   ",
			wantNil: true,
		},
		{
			name:    "malformed braces",
			text:    "{not json}",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSON(tt.text)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected payload, got nil")
			}
			if _, ok := got[tt.wantKey]; !ok {
				t.Errorf("payload missing %q: %v", tt.wantKey, got)
			}
		})
	}
}

func TestSchemaVersionOK(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    bool
	}{
		{"absent accepted", map[string]any{"program": map[string]any{}}, true},
		{"matching accepted", map[string]any{"schema_version": float64(1)}, true},
		{"mismatched rejected", map[string]any{"schema_version": float64(2)}, false},
		{"non-numeric rejected", map[string]any{"schema_version": "1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SchemaVersionOK(tt.payload); got != tt.want {
				t.Errorf("SchemaVersionOK = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidProgramShape(t *testing.T) {
	if !ValidProgramShape(map[string]any{"steps": []any{}, "candidate_ids": []any{"a"}}) {
		t.Error("well-formed program rejected")
	}
	if ValidProgramShape(map[string]any{"steps": "not a list"}) {
		t.Error("malformed steps accepted")
	}
}

func TestValidFinalShape(t *testing.T) {
	if !ValidFinalShape(map[string]any{"answer": "x", "citations": []any{}}) {
		t.Error("well-formed final rejected")
	}
	if ValidFinalShape(map[string]any{"citations": "not a list"}) {
		t.Error("malformed citations accepted")
	}
}
