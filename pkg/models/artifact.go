package models

import "time"

// Scope controls the visibility of an artifact.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
	ScopeSession Scope = "session"
)

// ArtifactType classifies the kind of knowledge an artifact holds.
type ArtifactType string

const (
	ArtifactDoc   ArtifactType = "doc"
	ArtifactCode  ArtifactType = "code"
	ArtifactNote  ArtifactType = "note"
	ArtifactCache ArtifactType = "cache"
)

// ArtifactSource records how an artifact entered the knowledge base.
type ArtifactSource string

const (
	SourceManual        ArtifactSource = "manual"
	SourceImport        ArtifactSource = "import"
	SourceSystem        ArtifactSource = "system"
	SourceLLMSuggestion ArtifactSource = "llm_suggestion"
	SourceCache         ArtifactSource = "cache"
)

// ArtifactStatus is the lifecycle state of an artifact row.
type ArtifactStatus string

const (
	ArtifactActive   ArtifactStatus = "active"
	ArtifactArchived ArtifactStatus = "archived"
	ArtifactDeleted  ArtifactStatus = "deleted"
)

// Artifact is a stored unit of knowledge scoped to global/project/session.
//
// Invariants:
//   - Scope == ScopeSession implies SessionID is non-empty.
//   - ContentHash is the SHA-256 hex digest of Content.
//   - Active rows are unique per (project, scope, type, session, content hash).
type Artifact struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	SessionID     string         `json:"session_id,omitempty"`
	Scope         Scope          `json:"scope"`
	Type          ArtifactType   `json:"type"`
	Title         string         `json:"title,omitempty"`
	Content       string         `json:"content"`
	ContentHash   string         `json:"content_hash"`
	TokenEstimate int            `json:"token_estimate,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Weight        float64        `json:"weight"`
	Pinned        bool           `json:"pinned"`
	Source        ArtifactSource `json:"source"`
	Status        ArtifactStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ArtifactContent is the projection returned by content lookups.
type ArtifactContent struct {
	Content     string         `json:"content"`
	ContentHash string         `json:"content_hash"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
