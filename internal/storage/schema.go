package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the full DDL for the pipeline's tables. Statements are idempotent
// so EnsureSchema can run at every startup.
const Schema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS projects (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	name text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS users (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	email text NOT NULL UNIQUE,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	project_id uuid NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	user_id uuid NULL REFERENCES users(id) ON DELETE SET NULL,
	title text NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_project
	ON sessions (project_id, created_at DESC);

CREATE TABLE IF NOT EXISTS artifacts (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),

	project_id uuid NOT NULL,
	session_id uuid NULL,

	scope text NOT NULL,     -- global|project|session
	type text NOT NULL,      -- doc|code|note|cache

	title text NULL,
	content text NOT NULL,

	content_hash text NOT NULL,
	token_estimate integer NULL,

	metadata jsonb NOT NULL DEFAULT '{}'::jsonb,

	weight real NOT NULL DEFAULT 1.0,
	pinned boolean NOT NULL DEFAULT false,

	source text NOT NULL DEFAULT 'manual',   -- manual|import|system|llm_suggestion|cache
	status text NOT NULL DEFAULT 'active',   -- active|archived|deleted

	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_artifacts_project_scope_status
	ON artifacts (project_id, scope, status);

CREATE INDEX IF NOT EXISTS idx_artifacts_session_scope_status
	ON artifacts (session_id, scope, status);

CREATE INDEX IF NOT EXISTS idx_artifacts_pinned
	ON artifacts (pinned);

CREATE INDEX IF NOT EXISTS idx_artifacts_content_hash
	ON artifacts (content_hash);

CREATE INDEX IF NOT EXISTS idx_artifacts_created_at
	ON artifacts (created_at DESC);

-- Active rows are unique per (project, scope, type, session, content hash).
-- NULL session ids collapse onto the zero uuid so global/project rows dedupe.
CREATE UNIQUE INDEX IF NOT EXISTS uq_artifacts_active_content
	ON artifacts (
		project_id, scope, type,
		coalesce(session_id, '00000000-0000-0000-0000-000000000000'::uuid),
		content_hash
	)
	WHERE status = 'active';

CREATE TABLE IF NOT EXISTS rlm_runs (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),

	session_id uuid NOT NULL,
	query text NOT NULL,

	options jsonb NOT NULL DEFAULT '{}'::jsonb,
	candidate_index jsonb NOT NULL DEFAULT '{}'::jsonb,

	program jsonb NOT NULL DEFAULT '{}'::jsonb,
	meta jsonb NOT NULL DEFAULT '{}'::jsonb,
	events jsonb NOT NULL DEFAULT '[]'::jsonb,
	glimpses jsonb NOT NULL DEFAULT '[]'::jsonb,
	glimpses_meta jsonb NOT NULL DEFAULT '[]'::jsonb,
	subcalls jsonb NOT NULL DEFAULT '[]'::jsonb,
	evidence jsonb NOT NULL DEFAULT '[]'::jsonb,
	final jsonb NOT NULL DEFAULT '{}'::jsonb,
	final_answer text NULL,
	citations jsonb NOT NULL DEFAULT '[]'::jsonb,

	assembled_context jsonb NOT NULL DEFAULT '{}'::jsonb,
	rendered_prompt text NULL,
	llm_raw jsonb NOT NULL DEFAULT '[]'::jsonb,

	status text NOT NULL DEFAULT 'ok',      -- ok|degraded|error|stopped
	errors jsonb NOT NULL DEFAULT '[]'::jsonb,

	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_rlm_runs_session_created
	ON rlm_runs (session_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_rlm_runs_status
	ON rlm_runs (status);

CREATE TABLE IF NOT EXISTS rlm_run_events (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	run_id uuid NOT NULL REFERENCES rlm_runs(id) ON DELETE CASCADE,
	event jsonb NOT NULL DEFAULT '{}'::jsonb,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_rlm_run_events_run_created
	ON rlm_run_events (run_id, created_at DESC);
`

// EnsureSchema applies the DDL. Safe to call on every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
