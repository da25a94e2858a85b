package models

// ScoreBreakdown explains how a candidate's base score was computed.
// All fields are deterministic for a fixed database snapshot and query.
type ScoreBreakdown struct {
	Weight      float64 `json:"weight"`
	HitCount    float64 `json:"hit_count"`
	PinnedBonus float64 `json:"pinned_bonus"`
}

// Candidate is a ranked retrieval row derived from an artifact for one query.
// It carries a content preview rather than the full text; the executor fetches
// full content on demand.
type Candidate struct {
	ArtifactID     string         `json:"artifact_id"`
	Scope          Scope          `json:"scope"`
	Type           ArtifactType   `json:"type"`
	Title          string         `json:"title,omitempty"`
	ContentHash    string         `json:"content_hash"`
	Pinned         bool           `json:"pinned"`
	Weight         float64        `json:"weight"`
	Source         ArtifactSource `json:"source"`
	ContentPreview string         `json:"content_preview"`
	TokenEstimate  int            `json:"token_estimate,omitempty"`
	BaseScore      float64        `json:"base_score"`
	ScoreBreakdown ScoreBreakdown `json:"score_breakdown"`
}

// CandidateIndex is the ranked top-K candidate set for one query, ordered by
// (pinned desc, weight desc, hit_count desc, created_at desc).
type CandidateIndex struct {
	SessionID  string      `json:"session_id"`
	ProjectID  string      `json:"project_id"`
	Query      string      `json:"query"`
	Candidates []Candidate `json:"candidates"`
}

// CandidateIDs returns the artifact ids in index order.
func (ci *CandidateIndex) CandidateIDs() []string {
	ids := make([]string, len(ci.Candidates))
	for i, c := range ci.Candidates {
		ids[i] = c.ArtifactID
	}
	return ids
}

// Candidate returns the candidate for an artifact id, or nil.
func (ci *CandidateIndex) Candidate(artifactID string) *Candidate {
	for i := range ci.Candidates {
		if ci.Candidates[i].ArtifactID == artifactID {
			return &ci.Candidates[i]
		}
	}
	return nil
}

// Rank returns the 1-based position of an artifact id, or 0 if absent.
func (ci *CandidateIndex) Rank(artifactID string) int {
	for i := range ci.Candidates {
		if ci.Candidates[i].ArtifactID == artifactID {
			return i + 1
		}
	}
	return 0
}
