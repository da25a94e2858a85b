// Package trace writes per-run JSONL debug traces and replays them as
// human-readable timelines. Each run gets its own append-only file under the
// trace directory, one JSON object per line.
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/rlmd/internal/observability"
)

// Stage names the pipeline phase a trace line belongs to.
const (
	StagePlan     = "plan"
	StageExamine  = "examine"
	StageDecision = "decision"
	StageError    = "error"
)

// Line is one trace record. Payload carries stage-specific fields; Meta
// carries backend and timing context.
type Line struct {
	TS      string         `json:"ts"`
	RunID   string         `json:"run_id"`
	Stage   string         `json:"stage"`
	Payload map[string]any `json:"payload"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Logger appends trace lines to {dir}/{run_id}.jsonl. A nil Logger or an
// empty directory disables tracing; Append is then a no-op.
type Logger struct {
	dir    string
	logger *observability.Logger
}

// NewLogger creates a trace logger rooted at dir. Pass an empty dir to
// disable tracing.
func NewLogger(dir string, logger *observability.Logger) *Logger {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Logger{dir: dir, logger: logger}
}

// Enabled reports whether trace lines will be written.
func (l *Logger) Enabled() bool {
	return l != nil && l.dir != ""
}

// Append writes one line for a run. Trace failures are logged and swallowed:
// a broken trace sink must never fail the run.
func (l *Logger) Append(ctx context.Context, runID, stage string, payload, meta map[string]any) {
	if !l.Enabled() {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	line := Line{
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		RunID:   runID,
		Stage:   stage,
		Payload: payload,
		Meta:    meta,
	}
	if err := l.append(runID, line); err != nil {
		l.logger.Warn(ctx, "trace append failed", "run_id", runID, "stage", stage, "error", err)
	}
}

func (l *Logger) append(runID string, line Line) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("trace dir: %w", err)
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("trace marshal: %w", err)
	}

	path := l.Path(runID)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("trace open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("trace write: %w", err)
	}
	return f.Sync()
}

// Path returns the trace file for a run id.
func (l *Logger) Path(runID string) string {
	return filepath.Join(l.dir, runID+".jsonl")
}
