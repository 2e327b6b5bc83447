package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/sage-learning/sage/pkg/graph"
)

// embeddingArg converts a float32 slice into a value suitable for a nullable
// vector column. An empty slice is stored as NULL.
func embeddingArg(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

// CreateConcept implements [graph.Store].
func (s *Store) CreateConcept(ctx context.Context, concept graph.Concept) error {
	const q = `
		INSERT INTO concepts (id, learner_id, name, status, summary, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		concept.ID,
		concept.LearnerID,
		concept.Name,
		string(concept.Status),
		concept.Summary,
		embeddingArg(concept.Embedding),
		concept.CreatedAt,
		concept.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: create concept: %w", err)
	}
	return nil
}

// scanConcept reads one concept row including its nullable embedding.
func scanConcept(row pgx.Row) (graph.Concept, error) {
	var (
		c      graph.Concept
		status string
		vec    *pgvector.Vector
	)
	err := row.Scan(&c.ID, &c.LearnerID, &c.Name, &status, &c.Summary, &vec, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return graph.Concept{}, err
	}
	c.Status = graph.ConceptStatus(status)
	if vec != nil {
		c.Embedding = vec.Slice()
	}
	return c, nil
}

const conceptColumns = `id, learner_id, name, status, summary, embedding, created_at, updated_at`

// GetConcept implements [graph.Store].
func (s *Store) GetConcept(ctx context.Context, id string) (graph.Concept, error) {
	q := `SELECT ` + conceptColumns + ` FROM concepts WHERE id = $1`

	c, err := scanConcept(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return graph.Concept{}, fmt.Errorf("postgres store: get concept: %w", notFound(err))
	}
	return c, nil
}

// ConceptsForLearner implements [graph.Store].
func (s *Store) ConceptsForLearner(ctx context.Context, learnerID string) ([]graph.Concept, error) {
	q := `SELECT ` + conceptColumns + ` FROM concepts WHERE learner_id = $1 ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, q, learnerID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: concepts for learner: %w", err)
	}
	defer rows.Close()

	return collectConcepts(rows)
}

// RelatedConcepts implements [graph.Store]. Concepts without an embedding are
// excluded; results are ranked by cosine distance to the query vector.
func (s *Store) RelatedConcepts(ctx context.Context, learnerID string, embedding []float32, limit int) ([]graph.Concept, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	q := `SELECT ` + conceptColumns + `
		FROM   concepts
		WHERE  learner_id = $1 AND embedding IS NOT NULL
		ORDER  BY embedding <=> $2
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, learnerID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: related concepts: %w", err)
	}
	defer rows.Close()

	return collectConcepts(rows)
}

// collectConcepts drains rows into a concept slice.
func collectConcepts(rows pgx.Rows) ([]graph.Concept, error) {
	var out []graph.Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan concept: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: concept rows: %w", err)
	}
	return out, nil
}

// CreateProof implements [graph.Store].
func (s *Store) CreateProof(ctx context.Context, proof graph.Proof) error {
	const q = `
		INSERT INTO proofs (id, learner_id, concept_id, statement, confidence, earned_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		proof.ID, proof.LearnerID, proof.ConceptID, proof.Statement, proof.Confidence, proof.EarnedAt)
	if err != nil {
		return fmt.Errorf("postgres store: create proof: %w", err)
	}
	return nil
}

// ProofsForConcept implements [graph.Store].
func (s *Store) ProofsForConcept(ctx context.Context, conceptID string) ([]graph.Proof, error) {
	const q = `
		SELECT id, learner_id, concept_id, statement, confidence, earned_at
		FROM   proofs
		WHERE  concept_id = $1
		ORDER  BY earned_at DESC`

	rows, err := s.pool.Query(ctx, q, conceptID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: proofs for concept: %w", err)
	}
	defer rows.Close()

	proofs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.Proof, error) {
		var p graph.Proof
		err := row.Scan(&p.ID, &p.LearnerID, &p.ConceptID, &p.Statement, &p.Confidence, &p.EarnedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan proofs: %w", err)
	}
	return proofs, nil
}

// RecordGap implements [graph.Store].
func (s *Store) RecordGap(ctx context.Context, gap graph.Gap) error {
	const q = `
		INSERT INTO gaps (id, learner_id, concept_id, description, resolved, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		gap.ID, gap.LearnerID, gap.ConceptID, gap.Description, gap.Resolved, gap.DetectedAt)
	if err != nil {
		return fmt.Errorf("postgres store: record gap: %w", err)
	}
	return nil
}

// OpenGaps implements [graph.Store].
func (s *Store) OpenGaps(ctx context.Context, learnerID string) ([]graph.Gap, error) {
	const q = `
		SELECT id, learner_id, concept_id, description, resolved, detected_at
		FROM   gaps
		WHERE  learner_id = $1 AND resolved = false
		ORDER  BY detected_at`

	rows, err := s.pool.Query(ctx, q, learnerID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open gaps: %w", err)
	}
	defer rows.Close()

	gaps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.Gap, error) {
		var g graph.Gap
		err := row.Scan(&g.ID, &g.LearnerID, &g.ConceptID, &g.Description, &g.Resolved, &g.DetectedAt)
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan gaps: %w", err)
	}
	return gaps, nil
}

// ActiveOutcome implements [graph.Store].
func (s *Store) ActiveOutcome(ctx context.Context, learnerID string) (graph.Outcome, error) {
	const q = `
		SELECT id, learner_id, title, description, progress, status, created_at
		FROM   outcomes
		WHERE  learner_id = $1 AND status = 'active'
		ORDER  BY created_at DESC
		LIMIT  1`

	var (
		o      graph.Outcome
		status string
	)
	err := s.pool.QueryRow(ctx, q, learnerID).Scan(
		&o.ID, &o.LearnerID, &o.Title, &o.Description, &o.Progress, &status, &o.CreatedAt)
	if err != nil {
		return graph.Outcome{}, fmt.Errorf("postgres store: active outcome: %w", notFound(err))
	}
	o.Status = graph.OutcomeStatus(status)
	return o, nil
}

// CreateOutcome implements [graph.Store].
func (s *Store) CreateOutcome(ctx context.Context, outcome graph.Outcome) error {
	const q = `
		INSERT INTO outcomes (id, learner_id, title, description, progress, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		outcome.ID,
		outcome.LearnerID,
		outcome.Title,
		outcome.Description,
		outcome.Progress,
		string(outcome.Status),
		outcome.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: create outcome: %w", err)
	}
	return nil
}

// Apply implements [graph.Store]. Every mutation in changes runs inside one
// transaction; a failing statement rolls back the whole set so a turn's graph
// writes land atomically or not at all.
func (s *Store) Apply(ctx context.Context, changes graph.ChangeSet) error {
	if changes.Empty() {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin apply: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	for _, c := range changes.NewConcepts {
		_, err := tx.Exec(ctx, `
			INSERT INTO concepts (id, learner_id, name, status, summary, embedding, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, c.LearnerID, c.Name, string(c.Status), c.Summary,
			embeddingArg(c.Embedding), c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("postgres store: apply new concept: %w", err)
		}
	}

	for _, p := range changes.NewProofs {
		_, err := tx.Exec(ctx, `
			INSERT INTO proofs (id, learner_id, concept_id, statement, confidence, earned_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, p.LearnerID, p.ConceptID, p.Statement, p.Confidence, p.EarnedAt)
		if err != nil {
			return fmt.Errorf("postgres store: apply new proof: %w", err)
		}
	}

	for _, g := range changes.NewGaps {
		_, err := tx.Exec(ctx, `
			INSERT INTO gaps (id, learner_id, concept_id, description, resolved, detected_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			g.ID, g.LearnerID, g.ConceptID, g.Description, g.Resolved, g.DetectedAt)
		if err != nil {
			return fmt.Errorf("postgres store: apply new gap: %w", err)
		}
	}

	for _, id := range changes.ResolvedGapIDs {
		tag, err := tx.Exec(ctx, `UPDATE gaps SET resolved = true WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("postgres store: apply resolve gap: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres store: apply resolve gap %q: %w", id, graph.ErrNotFound)
		}
	}

	for _, u := range changes.ConceptUpdates {
		tag, err := tx.Exec(ctx, `
			UPDATE concepts
			SET    status = $2,
			       summary = CASE WHEN $3 = '' THEN summary ELSE $3 END,
			       updated_at = $4
			WHERE  id = $1`,
			u.ConceptID, string(u.Status), u.Summary, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("postgres store: apply concept update: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres store: apply concept update %q: %w", u.ConceptID, graph.ErrNotFound)
		}
	}

	for _, u := range changes.OutcomeUpdates {
		tag, err := tx.Exec(ctx, `
			UPDATE outcomes
			SET    progress = $2,
			       status = CASE WHEN $3 = '' THEN status ELSE $3 END
			WHERE  id = $1`,
			u.OutcomeID, u.Progress, string(u.Status))
		if err != nil {
			return fmt.Errorf("postgres store: apply outcome update: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres store: apply outcome update %q: %w", u.OutcomeID, graph.ErrNotFound)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit apply: %w", err)
	}
	return nil
}
