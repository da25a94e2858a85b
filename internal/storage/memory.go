package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/rlmd/pkg/models"
)

// MemoryStore is an in-process Store used by tests and local development.
// Candidate ranking mirrors the SQL ordering exactly.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]string // session id -> project id
	artifacts []*models.Artifact
	runs      map[string]*models.Run
	events    map[string][]models.RunEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]string),
		runs:     make(map[string]*models.Run),
		events:   make(map[string][]models.RunEvent),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// AddSession registers a session under a project and returns the session id.
func (s *MemoryStore) AddSession(projectID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.sessions[id] = projectID
	return id
}

// AddArtifact stores an artifact, filling defaults, and returns its id.
func (s *MemoryStore) AddArtifact(a models.Artifact) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.ContentHash == "" {
		sum := sha256.Sum256([]byte(a.Content))
		a.ContentHash = hex.EncodeToString(sum[:])
	}
	if a.Source == "" {
		a.Source = models.SourceManual
	}
	if a.Status == "" {
		a.Status = models.ArtifactActive
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt
	s.artifacts = append(s.artifacts, &a)
	return a.ID
}

func (s *MemoryStore) ProjectOf(ctx context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	projectID, ok := s.sessions[sessionID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return projectID, nil
}

func (s *MemoryStore) ListCandidates(ctx context.Context, sessionID, query string, tokens []string, opt RetrievalOptions) (*models.CandidateIndex, error) {
	projectID, err := s.ProjectOf(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(opt.AllowedTypes))
	for _, t := range opt.AllowedTypes {
		allowed[t] = true
	}
	scopes := map[models.Scope]bool{
		models.ScopeSession: true,
		models.ScopeProject: true,
	}
	if opt.IncludeGlobal {
		scopes[models.ScopeGlobal] = true
	}
	if len(tokens) == 0 {
		tokens = []string{query}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		artifact *models.Artifact
		hits     int
	}
	var matched []scored
	for _, a := range s.artifacts {
		if a.Status != models.ArtifactActive || a.ProjectID != projectID {
			continue
		}
		if !allowed[string(a.Type)] || !scopes[a.Scope] {
			continue
		}
		if a.Scope == models.ScopeSession && a.SessionID != sessionID {
			continue
		}
		content := strings.ToLower(a.Content)
		hits := 0
		for _, tok := range tokens {
			if strings.Contains(content, strings.ToLower(tok)) {
				hits++
			}
		}
		matched = append(matched, scored{artifact: a, hits: hits})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.artifact.Pinned != b.artifact.Pinned {
			return a.artifact.Pinned
		}
		if a.artifact.Weight != b.artifact.Weight {
			return a.artifact.Weight > b.artifact.Weight
		}
		if a.hits != b.hits {
			return a.hits > b.hits
		}
		return a.artifact.CreatedAt.After(b.artifact.CreatedAt)
	})
	if opt.TopK > 0 && len(matched) > opt.TopK {
		matched = matched[:opt.TopK]
	}

	index := &models.CandidateIndex{
		SessionID:  sessionID,
		ProjectID:  projectID,
		Query:      query,
		Candidates: []models.Candidate{},
	}
	for _, m := range matched {
		a := m.artifact
		preview := a.Content
		if opt.PreviewChars >= 0 && len(preview) > opt.PreviewChars {
			preview = preview[:opt.PreviewChars]
		}
		c := models.Candidate{
			ArtifactID:     a.ID,
			Scope:          a.Scope,
			Type:           a.Type,
			Title:          a.Title,
			ContentHash:    a.ContentHash,
			Pinned:         a.Pinned,
			Weight:         a.Weight,
			Source:         a.Source,
			ContentPreview: preview,
			TokenEstimate:  a.TokenEstimate,
			ScoreBreakdown: models.ScoreBreakdown{
				Weight:   a.Weight,
				HitCount: float64(m.hits),
			},
		}
		if a.Pinned {
			c.ScoreBreakdown.PinnedBonus = 5.0
		}
		c.BaseScore = c.Weight + 0.2*float64(m.hits) + c.ScoreBreakdown.PinnedBonus
		index.Candidates = append(index.Candidates, c)
	}
	return index, nil
}

func (s *MemoryStore) GetContent(ctx context.Context, artifactID string) (*models.ArtifactContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.artifacts {
		if a.ID == artifactID && a.Status == models.ArtifactActive {
			return &models.ArtifactContent{
				Content:     a.Content,
				ContentHash: a.ContentHash,
				Metadata:    a.Metadata,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactID)
}

func (s *MemoryStore) GetArtifactText(ctx context.Context, artifactID string) (string, error) {
	record, err := s.GetContent(ctx, artifactID)
	if err != nil {
		return "", err
	}
	return record.Content, nil
}

func (s *MemoryStore) GetArtifactMetadata(ctx context.Context, artifactID string) (map[string]any, error) {
	record, err := s.GetContent(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	meta := make(map[string]any, len(record.Metadata)+1)
	for k, v := range record.Metadata {
		meta[k] = v
	}
	meta["content_hash"] = record.ContentHash
	return meta, nil
}

func (s *MemoryStore) InsertRun(ctx context.Context, sessionID, query string, options map[string]any, index *models.CandidateIndex) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &models.Run{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Query:          query,
		Options:        options,
		CandidateIndex: index,
		Status:         models.RunOK,
		CreatedAt:      time.Now().UTC(),
	}
	s.runs[run.ID] = run
	return run.ID, nil
}

func (s *MemoryStore) UpdateRunPayload(ctx context.Context, runID string, payload RunPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	run.Program = payload.Program
	run.Meta = payload.Meta
	run.Events = payload.Events
	run.Glimpses = payload.Glimpses
	run.GlimpsesMeta = payload.GlimpsesMeta
	run.Subcalls = payload.Subcalls
	run.Evidence = payload.Evidence
	run.Final = payload.Final
	run.FinalAnswer = payload.FinalAnswer
	run.Citations = payload.Citations
	run.Status = payload.Status
	run.Errors = payload.Errors
	return nil
}

func (s *MemoryStore) FinishRun(ctx context.Context, runID string, assembled map[string]any, renderedPrompt string, status models.RunStatus, errs []models.RunErr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	run.AssembledContext = assembled
	run.RenderedPrompt = renderedPrompt
	run.Status = status
	run.Errors = errs
	return nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, runID string, event map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[runID] = append(s.events[runID], models.RunEvent{
		ID:        uuid.NewString(),
		RunID:     runID,
		Event:     event,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	copied := *run
	return &copied, nil
}

// RunEvents returns the appended event log rows for a run, oldest first.
func (s *MemoryStore) RunEvents(runID string) []models.RunEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.RunEvent(nil), s.events[runID]...)
}
