package models

// Step actions recognized by the program executor. Any other action fails the
// step that carries it.
const (
	ActionNoop    = "noop"
	ActionSelect  = "select"
	ActionGlimpse = "glimpse"
	ActionRepl    = "repl"
)

// Glimpse modes.
const (
	GlimpseHead  = "head"
	GlimpseRange = "range"
	GlimpseGrep  = "grep"
)

// Event records the outcome of one executed program step. Step indexes are
// 1-based and monotonically increasing across subcall descent.
type Event struct {
	Step    int            `json:"step"`
	Action  string         `json:"action"`
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Glimpse is an excerpt of an artifact produced by a deterministic extraction.
// Span is either {"start": n, "end": m} for head/range or
// {"spans": [{"start": n, "end": m}, ...]} for grep.
type Glimpse struct {
	ArtifactID  string         `json:"artifact_id"`
	Mode        string         `json:"mode"`
	Text        string         `json:"text"`
	Span        map[string]any `json:"span"`
	Hash        string         `json:"hash"`
	GlimpseMeta map[string]any `json:"glimpse_meta,omitempty"`
}

// Subcall records one recursive sub-model invocation made during execution.
type Subcall struct {
	SubcallID   string `json:"subcall_id"`
	Prompt      string `json:"prompt"`
	Preview     string `json:"preview"`
	Length      int    `json:"length"`
	ChildRunID  string `json:"child_run_id,omitempty"`
	ParentRunID string `json:"parent_run_id,omitempty"`
}
