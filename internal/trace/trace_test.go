package trace

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLogger_AppendWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir, nil)
	ctx := context.Background()

	logger.Append(ctx, "run-1", StagePlan, map[string]any{
		"steps":         []any{map[string]any{"action": "select"}},
		"candidate_ids": []any{"a1", "a2"},
	}, map[string]any{"backend": "mock"})
	logger.Append(ctx, "run-1", StageExamine, map[string]any{
		"events":   []any{map[string]any{"step": 1}},
		"glimpses": []any{},
	}, nil)
	logger.Append(ctx, "run-1", StageDecision, map[string]any{
		"final_answer_preview": "the answer",
		"citations_count":      float64(2),
	}, nil)

	lines, err := ReadFile(dir, "run-1")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}

	wantStages := []string{StagePlan, StageExamine, StageDecision}
	for i, line := range lines {
		if line.Stage != wantStages[i] {
			t.Errorf("line %d stage = %q, want %q", i, line.Stage, wantStages[i])
		}
		if line.RunID != "run-1" {
			t.Errorf("line %d run_id = %q", i, line.RunID)
		}
		ts, err := time.Parse(time.RFC3339Nano, line.TS)
		if err != nil {
			t.Errorf("line %d ts %q: %v", i, line.TS, err)
		} else if ts.Location() != time.UTC {
			t.Errorf("line %d ts not UTC: %q", i, line.TS)
		}
	}
	if lines[0].Meta["backend"] != "mock" {
		t.Errorf("meta = %v", lines[0].Meta)
	}
}

func TestLogger_DisabledIsNoop(t *testing.T) {
	logger := NewLogger("", nil)
	if logger.Enabled() {
		t.Fatal("empty dir must disable tracing")
	}
	// Must not create files or panic.
	logger.Append(context.Background(), "run-1", StagePlan, nil, nil)
}

func TestLogger_RunsAreIsolated(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir, nil)
	ctx := context.Background()

	logger.Append(ctx, "run-a", StagePlan, map[string]any{}, nil)
	logger.Append(ctx, "run-b", StagePlan, map[string]any{}, nil)
	logger.Append(ctx, "run-a", StageExamine, map[string]any{}, nil)

	a, err := ReadFile(dir, "run-a")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	b, err := ReadFile(dir, "run-b")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(a) != 2 || len(b) != 1 {
		t.Errorf("run-a = %d lines, run-b = %d lines", len(a), len(b))
	}
}

func TestReadLines_MalformedLineFails(t *testing.T) {
	input := `{"ts":"2026-01-01T00:00:00Z","run_id":"r","stage":"plan","payload":{}}
{not json
`
	if _, err := ReadLines(strings.NewReader(input)); err == nil {
		t.Fatal("expected error for malformed line")
	}
}

func TestReadLines_SkipsBlankLines(t *testing.T) {
	input := `{"ts":"2026-01-01T00:00:00Z","run_id":"r","stage":"plan","payload":{}}

{"ts":"2026-01-01T00:00:01Z","run_id":"r","stage":"error","payload":{"error":"boom"}}
`
	lines, err := ReadLines(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if len(lines) != 2 {
		t.Errorf("lines = %d, want 2", len(lines))
	}
}

func TestSummarize(t *testing.T) {
	longAnswer := strings.Repeat("a", 150)

	tests := []struct {
		name string
		line Line
		want string
	}{
		{
			name: "plan",
			line: Line{Stage: StagePlan, Payload: map[string]any{
				"steps":         []any{map[string]any{}, map[string]any{}},
				"candidate_ids": []any{"a1", "a2", "a3"},
			}},
			want: "steps=2 candidate_ids=3",
		},
		{
			name: "examine",
			line: Line{Stage: StageExamine, Payload: map[string]any{
				"events":   []any{map[string]any{}},
				"glimpses": []any{map[string]any{}, map[string]any{}},
			}},
			want: "events=1 glimpses=2",
		},
		{
			name: "decision with preview and count",
			line: Line{Stage: StageDecision, Payload: map[string]any{
				"final_answer_preview": "line one\nline two",
				"citations_count":      float64(2),
			}},
			want: "answer=line one line two citations=2",
		},
		{
			name: "decision truncates long answers",
			line: Line{Stage: StageDecision, Payload: map[string]any{
				"final_answer_preview": longAnswer,
			}},
			want: "answer=" + longAnswer[:120] + "... citations=0",
		},
		{
			name: "error",
			line: Line{Stage: StageError, Payload: map[string]any{"error": "round1 failed"}},
			want: "error=round1 failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.line); got != tt.want {
				t.Errorf("Summarize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnswerPreview(t *testing.T) {
	long := strings.Repeat("a", AnswerPreviewChars+30)

	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{name: "short passes through", answer: "plain", want: "plain"},
		{name: "newlines flatten", answer: "one\ntwo\r\nthree", want: "one two  three"},
		{name: "long truncates", answer: long, want: long[:AnswerPreviewChars] + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnswerPreview(tt.answer); got != tt.want {
				t.Errorf("AnswerPreview() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReplay_OneRowPerLine(t *testing.T) {
	lines := []Line{
		{TS: "2026-01-01T00:00:00Z", Stage: StagePlan, Payload: map[string]any{
			"steps": []any{}, "candidate_ids": []any{"a1"},
		}},
		{TS: "2026-01-01T00:00:01Z", Stage: StageError, Payload: map[string]any{"error": "boom"}},
	}

	var buf bytes.Buffer
	if err := Replay(&buf, lines); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	rows := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(rows) != 2 {
		t.Fatalf("rows = %q", rows)
	}
	if rows[0] != "2026-01-01T00:00:00Z plan steps=0 candidate_ids=1" {
		t.Errorf("row 0 = %q", rows[0])
	}
	if rows[1] != "2026-01-01T00:00:01Z error error=boom" {
		t.Errorf("row 1 = %q", rows[1])
	}
}

func TestLogger_PathUnderDir(t *testing.T) {
	logger := NewLogger("/tmp/traces", nil)
	if got := logger.Path("run-9"); got != "/tmp/traces/run-9.jsonl" {
		t.Errorf("Path = %q", got)
	}
}

func TestLogger_AppendAfterFileExists(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir, nil)
	ctx := context.Background()

	logger.Append(ctx, "run-1", StagePlan, map[string]any{}, nil)

	data, err := os.ReadFile(logger.Path("run-1"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	before := len(data)

	logger.Append(ctx, "run-1", StageExamine, map[string]any{}, nil)
	data, err = os.ReadFile(logger.Path("run-1"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) <= before {
		t.Error("second append did not grow the file")
	}
}
