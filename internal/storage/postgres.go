package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/rlmd/pkg/models"
)

// PostgresStore implements Store on a Postgres-wire database.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds connection pool settings.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default pool settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens a pooled connection from a DSN/URL and verifies it.
func NewPostgresStore(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection; used by tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the underlying connection for related stores.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// ProjectOf resolves the project owning a session.
func (s *PostgresStore) ProjectOf(ctx context.Context, sessionID string) (string, error) {
	var projectID string
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id::text FROM sessions WHERE id = $1 LIMIT 1
	`, sessionID).Scan(&projectID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve session project: %w", err)
	}
	return projectID, nil
}

// ListCandidates runs the scope-aware scoring query. Ordering is computed in
// SQL so the ranking matches the stored rows exactly: pinned first, then
// weight, token hit count, and recency.
func (s *PostgresStore) ListCandidates(ctx context.Context, sessionID, query string, tokens []string, opt RetrievalOptions) (*models.CandidateIndex, error) {
	projectID, err := s.ProjectOf(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	scopes := []string{string(models.ScopeSession), string(models.ScopeProject)}
	if opt.IncludeGlobal {
		scopes = append(scopes, string(models.ScopeGlobal))
	}
	if len(tokens) == 0 {
		tokens = []string{query}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id::text,
			scope,
			type,
			COALESCE(title, ''),
			content_hash,
			pinned,
			weight,
			COALESCE(source, 'manual'),
			left(content, $1),
			COALESCE(token_estimate, 0),
			(
				SELECT count(*)
				FROM unnest($2::text[]) AS t
				WHERE content ILIKE ('%' || t || '%')
			) AS hit_count
		FROM artifacts
		WHERE status = 'active'
		  AND project_id = $3
		  AND type = ANY($4::text[])
		  AND scope = ANY($5::text[])
		  AND (scope <> 'session' OR session_id = $6)
		ORDER BY pinned DESC, weight DESC, hit_count DESC, created_at DESC
		LIMIT $7
	`, opt.PreviewChars, pq.Array(tokens), projectID, pq.Array(opt.AllowedTypes),
		pq.Array(scopes), sessionID, opt.TopK)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	index := &models.CandidateIndex{
		SessionID:  sessionID,
		ProjectID:  projectID,
		Query:      query,
		Candidates: []models.Candidate{},
	}
	for rows.Next() {
		var c models.Candidate
		var hitCount float64
		if err := rows.Scan(
			&c.ArtifactID, &c.Scope, &c.Type, &c.Title, &c.ContentHash,
			&c.Pinned, &c.Weight, &c.Source, &c.ContentPreview,
			&c.TokenEstimate, &hitCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		c.ScoreBreakdown = models.ScoreBreakdown{
			Weight:   c.Weight,
			HitCount: hitCount,
		}
		if c.Pinned {
			c.ScoreBreakdown.PinnedBonus = 5.0
		}
		c.BaseScore = c.Weight + 0.2*hitCount + c.ScoreBreakdown.PinnedBonus
		index.Candidates = append(index.Candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return index, nil
}

// GetContent returns full text, content hash, and metadata of an artifact.
func (s *PostgresStore) GetContent(ctx context.Context, artifactID string) (*models.ArtifactContent, error) {
	var content, contentHash string
	var metadataRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT content, content_hash, COALESCE(metadata, '{}'::jsonb)
		FROM artifacts
		WHERE id = $1 AND status = 'active'
	`, artifactID).Scan(&content, &contentHash, &metadataRaw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact content: %w", err)
	}

	metadata := map[string]any{}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &metadata); err != nil {
			return nil, fmt.Errorf("failed to decode artifact metadata: %w", err)
		}
	}
	return &models.ArtifactContent{
		Content:     content,
		ContentHash: contentHash,
		Metadata:    metadata,
	}, nil
}

// GetArtifactText returns the full text of an artifact.
func (s *PostgresStore) GetArtifactText(ctx context.Context, artifactID string) (string, error) {
	record, err := s.GetContent(ctx, artifactID)
	if err != nil {
		return "", err
	}
	return record.Content, nil
}

// GetArtifactMetadata returns metadata plus the content hash of an artifact.
func (s *PostgresStore) GetArtifactMetadata(ctx context.Context, artifactID string) (map[string]any, error) {
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

// InsertRun creates a run row with defaults.
func (s *PostgresStore) InsertRun(ctx context.Context, sessionID, query string, options map[string]any, index *models.CandidateIndex) (string, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rlm_runs (session_id, query, options, candidate_index, status)
		VALUES ($1, $2, $3::jsonb, $4::jsonb, 'ok')
		RETURNING id::text
	`, sessionID, query, marshalMap(options), marshalMap(index)).Scan(&runID)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return runID, nil
}

// UpdateRunPayload overwrites the round-produced columns in one statement so
// concurrent readers never observe a half-written round.
func (s *PostgresStore) UpdateRunPayload(ctx context.Context, runID string, payload RunPayload) error {
	finalAnswer := sql.NullString{String: payload.FinalAnswer, Valid: payload.FinalAnswer != ""}
	res, err := s.db.ExecContext(ctx, `
		UPDATE rlm_runs
		SET program = $2::jsonb,
			meta = $3::jsonb,
			events = $4::jsonb,
			glimpses = $5::jsonb,
			glimpses_meta = $6::jsonb,
			subcalls = $7::jsonb,
			evidence = $8::jsonb,
			final = $9::jsonb,
			final_answer = $10,
			citations = $11::jsonb,
			status = $12,
			errors = $13::jsonb
		WHERE id = $1
	`, runID,
		marshalMap(payload.Program),
		marshalMap(payload.Meta),
		marshalList(payload.Events),
		marshalList(payload.Glimpses),
		marshalList(payload.GlimpsesMeta),
		marshalList(payload.Subcalls),
		marshalList(payload.Evidence),
		marshalMap(payload.Final),
		finalAnswer,
		marshalList(payload.Citations),
		string(payload.Status),
		marshalList(payload.Errors),
	)
	if err != nil {
		return fmt.Errorf("failed to update run payload: %w", err)
	}
	return requireRow(res, runID)
}

// FinishRun records the assembly outcome.
func (s *PostgresStore) FinishRun(ctx context.Context, runID string, assembled map[string]any, renderedPrompt string, status models.RunStatus, errs []models.RunErr) error {
	prompt := sql.NullString{String: renderedPrompt, Valid: renderedPrompt != ""}
	res, err := s.db.ExecContext(ctx, `
		UPDATE rlm_runs
		SET assembled_context = $2::jsonb,
			rendered_prompt = $3,
			status = $4,
			errors = $5::jsonb
		WHERE id = $1
	`, runID, marshalMap(assembled), prompt, string(status), marshalList(errs))
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return requireRow(res, runID)
}

// AppendEvent appends one row to the run's event log.
func (s *PostgresStore) AppendEvent(ctx context.Context, runID string, event map[string]any) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rlm_run_events (run_id, event) VALUES ($1, $2::jsonb)
	`, runID, marshalMap(event))
	if err != nil {
		return fmt.Errorf("failed to append run event: %w", err)
	}
	return nil
}

// GetRun loads a run row.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var run models.Run
	var options, candidateIndex, program, meta, events, glimpses []byte
	var glimpsesMeta, subcalls, evidence, final, citations []byte
	var assembledContext, llmRaw, errsRaw []byte
	var finalAnswer, renderedPrompt sql.NullString
	var status string

	err := s.db.QueryRowContext(ctx, `
		SELECT id::text, session_id::text, query, options, candidate_index,
			program, meta, events, glimpses, glimpses_meta, subcalls,
			evidence, final, final_answer, citations, assembled_context,
			rendered_prompt, llm_raw, errors, status, created_at
		FROM rlm_runs
		WHERE id = $1
	`, runID).Scan(
		&run.ID, &run.SessionID, &run.Query, &options, &candidateIndex,
		&program, &meta, &events, &glimpses, &glimpsesMeta, &subcalls,
		&evidence, &final, &finalAnswer, &citations, &assembledContext,
		&renderedPrompt, &llmRaw, &errsRaw, &status, &run.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Status = models.RunStatus(status)
	run.FinalAnswer = finalAnswer.String
	run.RenderedPrompt = renderedPrompt.String
	for _, col := range []struct {
		raw []byte
		dst any
	}{
		{options, &run.Options},
		{candidateIndex, &run.CandidateIndex},
		{program, &run.Program},
		{meta, &run.Meta},
		{events, &run.Events},
		{glimpses, &run.Glimpses},
		{glimpsesMeta, &run.GlimpsesMeta},
		{subcalls, &run.Subcalls},
		{evidence, &run.Evidence},
		{final, &run.Final},
		{citations, &run.Citations},
		{assembledContext, &run.AssembledContext},
		{llmRaw, &run.LLMRaw},
		{errsRaw, &run.Errors},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return nil, fmt.Errorf("failed to decode run column: %w", err)
		}
	}
	return &run, nil
}

func requireRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// marshalMap renders a map column, defaulting nil to the empty object.
func marshalMap(v any) []byte {
	if v == nil || isNilMap(v) {
		return []byte("{}")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// marshalList renders a list column, defaulting nil to the empty array.
func marshalList(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return []byte("[]")
	}
	return data
}

func isNilMap(v any) bool {
	switch m := v.(type) {
	case map[string]any:
		return m == nil
	case *models.CandidateIndex:
		return m == nil
	}
	return false
}
