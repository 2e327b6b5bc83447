package graph

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups when no record exists for the given id.
// Implementations must wrap or return this sentinel so callers can test with
// [errors.Is].
var ErrNotFound = errors.New("graph: not found")

// ConceptStatusUpdate is a single concept status mutation inside a [ChangeSet].
type ConceptStatusUpdate struct {
	ConceptID string
	Status    ConceptStatus
	Summary   string
}

// OutcomeProgressUpdate is a single outcome progress mutation inside a [ChangeSet].
type OutcomeProgressUpdate struct {
	OutcomeID string
	Progress  float64
	Status    OutcomeStatus
}

// ChangeSet is the set of graph mutations derived from one conversation turn.
// [Store.Apply] applies a ChangeSet atomically: either every mutation is
// persisted or none is.
type ChangeSet struct {
	// NewConcepts are concept nodes to create.
	NewConcepts []Concept

	// NewProofs are proofs of understanding to record.
	NewProofs []Proof

	// NewGaps are detected gaps to record.
	NewGaps []Gap

	// ResolvedGapIDs are gaps closed this turn.
	ResolvedGapIDs []string

	// ConceptUpdates are status/summary updates to existing concepts.
	ConceptUpdates []ConceptStatusUpdate

	// OutcomeUpdates are progress updates to existing outcomes.
	OutcomeUpdates []OutcomeProgressUpdate
}

// Empty reports whether the change set contains no mutations.
func (c ChangeSet) Empty() bool {
	return len(c.NewConcepts) == 0 &&
		len(c.NewProofs) == 0 &&
		len(c.NewGaps) == 0 &&
		len(c.ResolvedGapIDs) == 0 &&
		len(c.ConceptUpdates) == 0 &&
		len(c.OutcomeUpdates) == 0
}

// Store is the learning-graph collaborator consumed by the conversation
// engine. Each call is atomic on its own; [Store.Apply] is additionally
// transactional across every mutation in its ChangeSet.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// GetLearner returns the learner with the given id, or [ErrNotFound].
	GetLearner(ctx context.Context, id string) (Learner, error)

	// UpdateLearner persists changed learner fields (name, preferences).
	UpdateLearner(ctx context.Context, learner Learner) error

	// CreateSession records a new session row.
	CreateSession(ctx context.Context, session Session) error

	// GetSession returns the session with the given id, or [ErrNotFound].
	GetSession(ctx context.Context, id string) (Session, error)

	// UpdateSession persists mode, energy, time, summary, and end timestamp.
	UpdateSession(ctx context.Context, session Session) error

	// AppendTurn records one turn in a session's conversation log.
	AppendTurn(ctx context.Context, turn Turn) error

	// RecentTurns returns the most recent limit turns for a session, ordered
	// chronologically (oldest first).
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	// CreateConcept records a new concept node.
	CreateConcept(ctx context.Context, concept Concept) error

	// GetConcept returns the concept with the given id, or [ErrNotFound].
	GetConcept(ctx context.Context, id string) (Concept, error)

	// ConceptsForLearner returns all concept nodes in a learner's graph,
	// most recently updated first.
	ConceptsForLearner(ctx context.Context, learnerID string) ([]Concept, error)

	// RelatedConcepts returns up to limit concepts from the learner's graph
	// ranked by embedding similarity to the query vector. Implementations
	// without vector support may return an empty slice.
	RelatedConcepts(ctx context.Context, learnerID string, embedding []float32, limit int) ([]Concept, error)

	// CreateProof records a proof of understanding.
	CreateProof(ctx context.Context, proof Proof) error

	// ProofsForConcept returns all proofs for a concept, newest first.
	ProofsForConcept(ctx context.Context, conceptID string) ([]Proof, error)

	// RecordGap records a detected understanding gap.
	RecordGap(ctx context.Context, gap Gap) error

	// OpenGaps returns the learner's unresolved gaps, oldest first.
	OpenGaps(ctx context.Context, learnerID string) ([]Gap, error)

	// ActiveOutcome returns the learner's current active outcome, or
	// [ErrNotFound] when none exists.
	ActiveOutcome(ctx context.Context, learnerID string) (Outcome, error)

	// CreateOutcome records a new outcome.
	CreateOutcome(ctx context.Context, outcome Outcome) error

	// Apply persists every mutation in changes atomically. A failure leaves
	// the graph untouched.
	Apply(ctx context.Context, changes ChangeSet) error

	// Ping verifies the store is reachable. Used by readiness checks.
	Ping(ctx context.Context) error
}
