package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sage-learning/sage/pkg/graph"
)

// GetLearner implements [graph.Store].
func (s *Store) GetLearner(ctx context.Context, id string) (graph.Learner, error) {
	const q = `
		SELECT id, name, preferences, created_at
		FROM   learners
		WHERE  id = $1`

	var (
		l     graph.Learner
		prefs []byte
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(&l.ID, &l.Name, &prefs, &l.CreatedAt)
	if err != nil {
		return graph.Learner{}, fmt.Errorf("postgres store: get learner: %w", notFound(err))
	}
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &l.Preferences); err != nil {
			return graph.Learner{}, fmt.Errorf("postgres store: decode preferences: %w", err)
		}
	}
	return l, nil
}

// UpdateLearner implements [graph.Store].
func (s *Store) UpdateLearner(ctx context.Context, learner graph.Learner) error {
	prefs, err := json.Marshal(learner.Preferences)
	if err != nil {
		return fmt.Errorf("postgres store: encode preferences: %w", err)
	}

	const q = `
		UPDATE learners
		SET    name = $2, preferences = $3
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, learner.ID, learner.Name, prefs)
	if err != nil {
		return fmt.Errorf("postgres store: update learner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: update learner: %w", graph.ErrNotFound)
	}
	return nil
}

// CreateSession implements [graph.Store].
func (s *Store) CreateSession(ctx context.Context, session graph.Session) error {
	const q = `
		INSERT INTO sessions
		    (id, learner_id, mode, energy_level, time_available, summary, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		session.ID,
		session.LearnerID,
		session.Mode,
		session.EnergyLevel,
		session.TimeAvailable,
		session.Summary,
		session.StartedAt,
		session.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: create session: %w", err)
	}
	return nil
}

// GetSession implements [graph.Store].
func (s *Store) GetSession(ctx context.Context, id string) (graph.Session, error) {
	const q = `
		SELECT id, learner_id, mode, energy_level, time_available, summary, started_at, ended_at
		FROM   sessions
		WHERE  id = $1`

	var (
		sess  graph.Session
		ended *time.Time
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID,
		&sess.LearnerID,
		&sess.Mode,
		&sess.EnergyLevel,
		&sess.TimeAvailable,
		&sess.Summary,
		&sess.StartedAt,
		&ended,
	)
	if err != nil {
		return graph.Session{}, fmt.Errorf("postgres store: get session: %w", notFound(err))
	}
	sess.EndedAt = ended
	return sess, nil
}

// UpdateSession implements [graph.Store].
func (s *Store) UpdateSession(ctx context.Context, session graph.Session) error {
	const q = `
		UPDATE sessions
		SET    mode = $2, energy_level = $3, time_available = $4, summary = $5, ended_at = $6
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q,
		session.ID,
		session.Mode,
		session.EnergyLevel,
		session.TimeAvailable,
		session.Summary,
		session.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: update session: %w", graph.ErrNotFound)
	}
	return nil
}

// AppendTurn implements [graph.Store].
func (s *Store) AppendTurn(ctx context.Context, turn graph.Turn) error {
	const q = `
		INSERT INTO turns (id, session_id, role, content, intent, modality, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		turn.ID,
		turn.SessionID,
		turn.Role,
		turn.Content,
		turn.Intent,
		turn.Modality,
		turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append turn: %w", err)
	}
	return nil
}

// RecentTurns implements [graph.Store]. The inner query selects the newest
// limit rows; the outer query restores chronological order.
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]graph.Turn, error) {
	const q = `
		SELECT id, session_id, role, content, intent, modality, created_at
		FROM (
		    SELECT id, session_id, role, content, intent, modality, created_at
		    FROM   turns
		    WHERE  session_id = $1
		    ORDER  BY created_at DESC
		    LIMIT  $2
		) recent
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent turns: %w", err)
	}
	defer rows.Close()

	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.Turn, error) {
		var t graph.Turn
		err := row.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &t.Intent, &t.Modality, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan turns: %w", err)
	}
	return turns, nil
}
