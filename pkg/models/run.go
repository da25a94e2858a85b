package models

import "time"

// RunStatus is the terminal state of an RLM run.
type RunStatus string

const (
	RunOK       RunStatus = "ok"
	RunDegraded RunStatus = "degraded"
	RunError    RunStatus = "error"
	RunStopped  RunStatus = "stopped"
)

// RunErr is one structured error entry on a run. Only the fields relevant to
// the error kind are set: stage errors carry Stage+Error, limit breaches carry
// Limit/Value/Max, per-step failures carry Step/Action/Message.
type RunErr struct {
	Stage   string `json:"stage,omitempty"`
	Type    string `json:"type,omitempty"`
	Error   string `json:"error,omitempty"`
	Limit   string `json:"limit,omitempty"`
	Value   int    `json:"value,omitempty"`
	Max     int    `json:"max,omitempty"`
	Step    int    `json:"step,omitempty"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message,omitempty"`
}

// Run is the durable record of one orchestrator invocation.
//
// Invariants:
//   - Status == RunError implies Errors is non-empty.
//   - Events carry monotone non-decreasing step indexes.
//   - The run is immutable after the decision round persists.
type Run struct {
	ID             string           `json:"id"`
	SessionID      string           `json:"session_id"`
	Query          string           `json:"query"`
	Options        map[string]any   `json:"options"`
	CandidateIndex *CandidateIndex  `json:"candidate_index,omitempty"`
	Program        map[string]any   `json:"program"`
	Meta           map[string]any   `json:"meta"`
	Events         []Event          `json:"events"`
	Glimpses       []Glimpse        `json:"glimpses"`
	GlimpsesMeta   []map[string]any `json:"glimpses_meta"`
	Subcalls       []Subcall        `json:"subcalls"`
	Evidence       []map[string]any `json:"evidence"`
	Final          map[string]any   `json:"final"`
	FinalAnswer    string           `json:"final_answer,omitempty"`
	Citations      []any            `json:"citations"`

	AssembledContext map[string]any `json:"assembled_context"`
	RenderedPrompt   string         `json:"rendered_prompt,omitempty"`
	LLMRaw           []any          `json:"llm_raw"`

	Errors    []RunErr  `json:"errors"`
	Status    RunStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// RunEvent is one append-only orchestrator event log row. Rows cascade with
// run deletion.
type RunEvent struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Event     map[string]any `json:"event"`
	CreatedAt time.Time      `json:"created_at"`
}
