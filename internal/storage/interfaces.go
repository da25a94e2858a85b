package storage

import (
	"context"
	"errors"

	"github.com/haasonsaas/rlmd/pkg/models"
)

var (
	// ErrSessionNotFound is returned when a session id has no row.
	ErrSessionNotFound = errors.New("session_not_found")

	// ErrArtifactNotFound is returned when an artifact id has no active row.
	ErrArtifactNotFound = errors.New("artifact_not_found")

	// ErrRunNotFound is returned when a run id has no row.
	ErrRunNotFound = errors.New("run_not_found")
)

// RetrievalOptions bound one candidate listing. Values are expected to be
// clamped by the retrieval service before they reach the store.
type RetrievalOptions struct {
	IncludeGlobal bool
	TopK          int
	PreviewChars  int
	AllowedTypes  []string
}

// CandidateStore is the scope-filtered, lexically-scored artifact lookup.
type CandidateStore interface {
	// ProjectOf resolves the project owning a session.
	// Returns ErrSessionNotFound when the session does not exist.
	ProjectOf(ctx context.Context, sessionID string) (string, error)

	// ListCandidates returns the ranked candidate set for one query.
	// tokens are matched case-insensitively against artifact content; the
	// per-row hit count is the number of distinct tokens that match.
	ListCandidates(ctx context.Context, sessionID, query string, tokens []string, opt RetrievalOptions) (*models.CandidateIndex, error)

	// GetContent returns the full text, content hash, and metadata of an
	// active artifact. Returns ErrArtifactNotFound when absent.
	GetContent(ctx context.Context, artifactID string) (*models.ArtifactContent, error)

	// GetArtifactText is a convenience projection of GetContent.
	GetArtifactText(ctx context.Context, artifactID string) (string, error)

	// GetArtifactMetadata is a convenience projection of GetContent.
	GetArtifactMetadata(ctx context.Context, artifactID string) (map[string]any, error)
}

// RunPayload is the full snapshot written at each round boundary. All
// list-valued columns are overwritten, never appended, so the stored run
// always reflects the latest state.
type RunPayload struct {
	Program      map[string]any
	Meta         map[string]any
	Events       []models.Event
	Glimpses     []models.Glimpse
	GlimpsesMeta []map[string]any
	Subcalls     []models.Subcall
	Evidence     []map[string]any
	Final        map[string]any
	FinalAnswer  string // empty string persists as NULL
	Citations    []any
	Status       models.RunStatus
	Errors       []models.RunErr
}

// RunStore persists RLM run records and their event log.
type RunStore interface {
	// InsertRun creates a run row with defaults and returns its id.
	InsertRun(ctx context.Context, sessionID, query string, options map[string]any, index *models.CandidateIndex) (string, error)

	// UpdateRunPayload atomically overwrites the round-produced columns.
	UpdateRunPayload(ctx context.Context, runID string, payload RunPayload) error

	// FinishRun records the assembly outcome (assembled context, rendered
	// prompt, status, errors) without touching the round columns.
	FinishRun(ctx context.Context, runID string, assembled map[string]any, renderedPrompt string, status models.RunStatus, errs []models.RunErr) error

	// AppendEvent appends one row to the run's external event log.
	AppendEvent(ctx context.Context, runID string, event map[string]any) error

	// GetRun loads a run row. Returns ErrRunNotFound when absent.
	GetRun(ctx context.Context, runID string) (*models.Run, error)
}

// Store groups the storage dependencies of the pipeline.
type Store interface {
	CandidateStore
	RunStore
	Close() error
}
