// Package memstore provides a thread-safe, in-memory implementation of
// [graph.Store]. It is suitable for tests and single-process runs without a
// database.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/sage-learning/sage/pkg/graph"
)

// Compile-time assertion that Store satisfies the graph.Store interface.
var _ graph.Store = (*Store)(nil)

// Store is an in-memory [graph.Store]. The zero value is not ready to use;
// construct with [New].
type Store struct {
	mu       sync.RWMutex
	learners map[string]graph.Learner
	sessions map[string]graph.Session
	turns    map[string][]graph.Turn // session id → ordered turns
	concepts map[string]graph.Concept
	proofs   map[string][]graph.Proof // concept id → proofs, newest first
	gaps     map[string]graph.Gap
	outcomes map[string]graph.Outcome
}

// New returns an initialised empty [Store].
func New() *Store {
	return &Store{
		learners: make(map[string]graph.Learner),
		sessions: make(map[string]graph.Session),
		turns:    make(map[string][]graph.Turn),
		concepts: make(map[string]graph.Concept),
		proofs:   make(map[string][]graph.Proof),
		gaps:     make(map[string]graph.Gap),
		outcomes: make(map[string]graph.Outcome),
	}
}

// AddLearner seeds a learner record. Intended for tests and bootstrap code.
func (s *Store) AddLearner(learner graph.Learner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learners[learner.ID] = learner
}

// GetLearner implements [graph.Store].
func (s *Store) GetLearner(_ context.Context, id string) (graph.Learner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.learners[id]
	if !ok {
		return graph.Learner{}, graph.ErrNotFound
	}
	return l, nil
}

// UpdateLearner implements [graph.Store].
func (s *Store) UpdateLearner(_ context.Context, learner graph.Learner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.learners[learner.ID]; !ok {
		return graph.ErrNotFound
	}
	s.learners[learner.ID] = learner
	return nil
}

// CreateSession implements [graph.Store].
func (s *Store) CreateSession(_ context.Context, session graph.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

// GetSession implements [graph.Store].
func (s *Store) GetSession(_ context.Context, id string) (graph.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return graph.Session{}, graph.ErrNotFound
	}
	return sess, nil
}

// UpdateSession implements [graph.Store].
func (s *Store) UpdateSession(_ context.Context, session graph.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return graph.ErrNotFound
	}
	s.sessions[session.ID] = session
	return nil
}

// AppendTurn implements [graph.Store].
func (s *Store) AppendTurn(_ context.Context, turn graph.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return nil
}

// RecentTurns implements [graph.Store].
func (s *Store) RecentTurns(_ context.Context, sessionID string, limit int) ([]graph.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.turns[sessionID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]graph.Turn, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

// CreateConcept implements [graph.Store].
func (s *Store) CreateConcept(_ context.Context, concept graph.Concept) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.concepts[concept.ID] = concept
	return nil
}

// GetConcept implements [graph.Store].
func (s *Store) GetConcept(_ context.Context, id string) (graph.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.concepts[id]
	if !ok {
		return graph.Concept{}, graph.ErrNotFound
	}
	return c, nil
}

// ConceptsForLearner implements [graph.Store].
func (s *Store) ConceptsForLearner(_ context.Context, learnerID string) ([]graph.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []graph.Concept
	for _, c := range s.concepts {
		if c.LearnerID == learnerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// RelatedConcepts implements [graph.Store]. The in-memory store has no vector
// index, so it falls back to the learner's most recently updated concepts.
func (s *Store) RelatedConcepts(ctx context.Context, learnerID string, _ []float32, limit int) ([]graph.Concept, error) {
	all, err := s.ConceptsForLearner(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CreateProof implements [graph.Store].
func (s *Store) CreateProof(_ context.Context, proof graph.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proofs[proof.ConceptID] = append([]graph.Proof{proof}, s.proofs[proof.ConceptID]...)
	return nil
}

// ProofsForConcept implements [graph.Store].
func (s *Store) ProofsForConcept(_ context.Context, conceptID string) ([]graph.Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]graph.Proof, len(s.proofs[conceptID]))
	copy(out, s.proofs[conceptID])
	return out, nil
}

// RecordGap implements [graph.Store].
func (s *Store) RecordGap(_ context.Context, gap graph.Gap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gaps[gap.ID] = gap
	return nil
}

// OpenGaps implements [graph.Store].
func (s *Store) OpenGaps(_ context.Context, learnerID string) ([]graph.Gap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []graph.Gap
	for _, g := range s.gaps {
		if g.LearnerID == learnerID && !g.Resolved {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
	return out, nil
}

// ActiveOutcome implements [graph.Store].
func (s *Store) ActiveOutcome(_ context.Context, learnerID string) (graph.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  graph.Outcome
		found bool
	)
	for _, o := range s.outcomes {
		if o.LearnerID != learnerID || o.Status != graph.OutcomeActive {
			continue
		}
		if !found || o.CreatedAt.After(best.CreatedAt) {
			best = o
			found = true
		}
	}
	if !found {
		return graph.Outcome{}, graph.ErrNotFound
	}
	return best, nil
}

// CreateOutcome implements [graph.Store].
func (s *Store) CreateOutcome(_ context.Context, outcome graph.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[outcome.ID] = outcome
	return nil
}

// Apply implements [graph.Store]. All mutations are validated first so that a
// reference to a missing concept or outcome leaves the store untouched,
// mirroring the transactional behaviour of the Postgres implementation.
func (s *Store) Apply(_ context.Context, changes graph.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every referenced id before mutating anything. Updates may
	// reference concepts introduced by the same change set.
	incoming := make(map[string]bool, len(changes.NewConcepts))
	for _, c := range changes.NewConcepts {
		incoming[c.ID] = true
	}
	for _, u := range changes.ConceptUpdates {
		if _, ok := s.concepts[u.ConceptID]; !ok && !incoming[u.ConceptID] {
			return graph.ErrNotFound
		}
	}
	for _, u := range changes.OutcomeUpdates {
		if _, ok := s.outcomes[u.OutcomeID]; !ok {
			return graph.ErrNotFound
		}
	}
	for _, id := range changes.ResolvedGapIDs {
		if _, ok := s.gaps[id]; !ok {
			return graph.ErrNotFound
		}
	}

	for _, c := range changes.NewConcepts {
		s.concepts[c.ID] = c
	}
	for _, p := range changes.NewProofs {
		s.proofs[p.ConceptID] = append([]graph.Proof{p}, s.proofs[p.ConceptID]...)
	}
	for _, g := range changes.NewGaps {
		s.gaps[g.ID] = g
	}
	for _, id := range changes.ResolvedGapIDs {
		g := s.gaps[id]
		g.Resolved = true
		s.gaps[id] = g
	}
	for _, u := range changes.ConceptUpdates {
		c := s.concepts[u.ConceptID]
		c.Status = u.Status
		if u.Summary != "" {
			c.Summary = u.Summary
		}
		s.concepts[u.ConceptID] = c
	}
	for _, u := range changes.OutcomeUpdates {
		o := s.outcomes[u.OutcomeID]
		o.Progress = u.Progress
		if u.Status != "" {
			o.Status = u.Status
		}
		s.outcomes[u.OutcomeID] = o
	}
	return nil
}

// Ping implements [graph.Store]. The in-memory store is always reachable.
func (s *Store) Ping(context.Context) error { return nil }
