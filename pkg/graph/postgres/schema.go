// Package postgres provides a PostgreSQL-backed implementation of
// [graph.Store] for the SAGE learning graph.
//
// All entities share a single [pgxpool.Pool] connection pool. The pgvector
// extension must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS so concept embeddings can
// be stored and queried for related-concept retrieval.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//
//	learner, err := store.GetLearner(ctx, id)
//	err = store.Apply(ctx, changes) // transactional
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlLearners = `
CREATE TABLE IF NOT EXISTS learners (
    id           TEXT         PRIMARY KEY,
    name         TEXT         NOT NULL,
    preferences  JSONB        NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id             TEXT         PRIMARY KEY,
    learner_id     TEXT         NOT NULL REFERENCES learners (id) ON DELETE CASCADE,
    mode           TEXT         NOT NULL DEFAULT '',
    energy_level   TEXT         NOT NULL DEFAULT '',
    time_available INT          NOT NULL DEFAULT 0,
    summary        TEXT         NOT NULL DEFAULT '',
    started_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sessions_learner_id ON sessions (learner_id);

CREATE TABLE IF NOT EXISTS turns (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    role        TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    intent      TEXT         NOT NULL DEFAULT '',
    modality    TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turns_session_created
    ON turns (session_id, created_at);
`

// ddlConcepts returns the concept DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlConcepts(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS concepts (
    id          TEXT         PRIMARY KEY,
    learner_id  TEXT         NOT NULL REFERENCES learners (id) ON DELETE CASCADE,
    name        TEXT         NOT NULL,
    status      TEXT         NOT NULL DEFAULT 'introduced',
    summary     TEXT         NOT NULL DEFAULT '',
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_concepts_learner_id ON concepts (learner_id);

CREATE INDEX IF NOT EXISTS idx_concepts_embedding
    ON concepts USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

const ddlOutcomesProofsGaps = `
CREATE TABLE IF NOT EXISTS outcomes (
    id          TEXT         PRIMARY KEY,
    learner_id  TEXT         NOT NULL REFERENCES learners (id) ON DELETE CASCADE,
    title       TEXT         NOT NULL,
    description TEXT         NOT NULL DEFAULT '',
    progress    DOUBLE PRECISION NOT NULL DEFAULT 0,
    status      TEXT         NOT NULL DEFAULT 'active',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_outcomes_learner_status
    ON outcomes (learner_id, status);

CREATE TABLE IF NOT EXISTS proofs (
    id          TEXT         PRIMARY KEY,
    learner_id  TEXT         NOT NULL REFERENCES learners (id) ON DELETE CASCADE,
    concept_id  TEXT         NOT NULL REFERENCES concepts (id) ON DELETE CASCADE,
    statement   TEXT         NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    earned_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_proofs_concept_id ON proofs (concept_id);

CREATE TABLE IF NOT EXISTS gaps (
    id           TEXT         PRIMARY KEY,
    learner_id   TEXT         NOT NULL REFERENCES learners (id) ON DELETE CASCADE,
    concept_id   TEXT         NOT NULL DEFAULT '',
    description  TEXT         NOT NULL,
    resolved     BOOLEAN      NOT NULL DEFAULT false,
    detected_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_gaps_learner_resolved
    ON gaps (learner_id, resolved);
`

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS) and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing this value after the first migration requires a
// manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlLearners,
		ddlConcepts(embeddingDimensions),
		ddlSessions,
		ddlOutcomesProofsGaps,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
