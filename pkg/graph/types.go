// Package graph defines the learning-graph domain model and store interfaces
// used by the SAGE tutoring core.
//
// The graph links learners to the concepts they are studying, the outcomes
// they are working towards, the proofs of understanding they have earned, and
// the gaps detected along the way. Conversation sessions and their turns are
// recorded against the same store so that a learner's history is queryable in
// one place.
//
// All interfaces are public so external packages can supply alternative
// storage backends (Postgres/pgvector, in-memory, …) without depending on
// sage internals. Every implementation must be safe for concurrent use.
package graph

import "time"

// ConceptStatus tracks how established a concept is for a learner.
type ConceptStatus string

const (
	// ConceptIntroduced means the concept has been mentioned but not worked on.
	ConceptIntroduced ConceptStatus = "introduced"

	// ConceptDeveloping means the learner is actively building understanding.
	ConceptDeveloping ConceptStatus = "developing"

	// ConceptSolid means a proof at or above the confidence floor exists.
	ConceptSolid ConceptStatus = "solid"
)

// IsValid reports whether s is a recognised concept status.
func (s ConceptStatus) IsValid() bool {
	switch s {
	case ConceptIntroduced, ConceptDeveloping, ConceptSolid:
		return true
	}
	return false
}

// Learner is a person using the tutoring system.
type Learner struct {
	// ID is the unique, stable identifier for this learner.
	ID string

	// Name is the learner's display name.
	Name string

	// Preferences holds free-form learner settings (pacing, modality
	// preferences, topics of interest).
	Preferences map[string]any

	// CreatedAt is when the learner record was created.
	CreatedAt time.Time
}

// Concept is a unit of knowledge tracked for a learner.
type Concept struct {
	// ID is the unique identifier for this concept node.
	ID string

	// LearnerID scopes the concept to one learner's graph.
	LearnerID string

	// Name is the canonical concept name (e.g., "binary search").
	Name string

	// Status tracks how established the concept is.
	Status ConceptStatus

	// Summary is a short description of the learner's current understanding.
	Summary string

	// Embedding is the vector representation of Name + Summary, used for
	// related-concept retrieval. May be nil when no embedding provider is
	// configured.
	Embedding []float32

	// CreatedAt is when the concept was first recorded.
	CreatedAt time.Time

	// UpdatedAt is when the concept was last modified.
	UpdatedAt time.Time
}

// OutcomeStatus tracks the lifecycle of a learning outcome.
type OutcomeStatus string

const (
	OutcomeActive   OutcomeStatus = "active"
	OutcomeAchieved OutcomeStatus = "achieved"
	OutcomePaused   OutcomeStatus = "paused"
)

// Outcome is a goal the learner is working towards.
type Outcome struct {
	// ID is the unique identifier for this outcome.
	ID string

	// LearnerID scopes the outcome to one learner.
	LearnerID string

	// Title is the short goal statement (e.g., "pass the algorithms exam").
	Title string

	// Description elaborates the goal.
	Description string

	// Progress is the fraction complete in [0, 1].
	Progress float64

	// Status is the outcome lifecycle state.
	Status OutcomeStatus

	// CreatedAt is when the outcome was recorded.
	CreatedAt time.Time
}

// Proof is learner-provided evidence of understanding a concept.
type Proof struct {
	// ID is the unique identifier for this proof.
	ID string

	// LearnerID is the learner who earned the proof.
	LearnerID string

	// ConceptID references the concept the proof demonstrates.
	ConceptID string

	// Statement is the learner's explanation or demonstration, verbatim or
	// paraphrased by the model.
	Statement string

	// Confidence is the tutoring model's confidence in the proof, in [0, 1].
	Confidence float64

	// EarnedAt is when the proof was recorded.
	EarnedAt time.Time
}

// Gap is a detected deficiency in learner understanding, recorded for future
// probing.
type Gap struct {
	// ID is the unique identifier for this gap.
	ID string

	// LearnerID is the learner the gap belongs to.
	LearnerID string

	// ConceptID references the concept the gap concerns. May be empty when
	// the gap was detected before any concept node existed.
	ConceptID string

	// Description explains what is missing or confused.
	Description string

	// Resolved marks whether a later turn closed the gap.
	Resolved bool

	// DetectedAt is when the gap was recorded.
	DetectedAt time.Time
}

// Session is one tutoring conversation, from check-in to wrap-up.
type Session struct {
	// ID is the unique identifier for this session.
	ID string

	// LearnerID is the learner the session belongs to.
	LearnerID string

	// Mode is the dialogue mode the session was last in, stored as its
	// string form.
	Mode string

	// EnergyLevel is the learner's reported energy ("low", "medium", "high").
	EnergyLevel string

	// TimeAvailable is the learner's reported available time in minutes.
	// Zero means unreported.
	TimeAvailable int

	// Summary is the running conversation summary persisted at session end
	// (and opportunistically during the session).
	Summary string

	// StartedAt is when the session began.
	StartedAt time.Time

	// EndedAt is when the session ended. Nil while the session is active.
	EndedAt *time.Time
}

// Turn is one learner-message/system-response exchange within a session.
type Turn struct {
	// ID is the unique identifier for this turn entry.
	ID string

	// SessionID is the session the turn belongs to.
	SessionID string

	// Role is "learner" or "sage".
	Role string

	// Content is the message text.
	Content string

	// Intent is the extracted or declared intent for learner turns.
	Intent string

	// Modality records how the learner input arrived ("form", "voice", "chat").
	// Empty for sage turns.
	Modality string

	// CreatedAt is when the turn was recorded.
	CreatedAt time.Time
}
