// Package session holds the per-session mutable state of a tutoring
// conversation: the current dialogue mode, energy and time signals, the
// running conversation log with summarisation-based compaction, and pending
// data requests awaiting clarification.
//
// A [Context] is exclusively owned by the conversation engine for the
// duration of a session; the one-turn-in-flight invariant serialises access,
// so Context itself carries no lock. The [Log] is independently synchronised
// because summarisation runs a slow LLM call.
package session

import (
	"time"

	"github.com/sage-learning/sage/internal/mode"
)

// Context is the per-session mutable state.
type Context struct {
	SessionID string
	LearnerID string

	// Mode is the current dialogue mode. Mutated only via [Context.SetMode],
	// at most once per turn.
	Mode mode.Mode

	// EnergyLevel is the learner's current energy ("low", "medium", "high").
	EnergyLevel string

	// TimeAvailable is the learner's stated time budget, free text.
	TimeAvailable string

	// Pacing is the current pacing recommendation ("slow", "steady", "brisk").
	Pacing string

	// PendingFields lists required intent fields the learner has not yet
	// provided; a clarification turn asks for these.
	PendingFields []string

	// FocusConceptID is the concept currently being explored, verified, or
	// practised. Empty when no concept is in focus.
	FocusConceptID string

	StartedAt  time.Time
	LastTurnAt time.Time
}

// NewContext returns a session context in the initial dialogue mode.
func NewContext(sessionID, learnerID string) *Context {
	now := time.Now().UTC()
	return &Context{
		SessionID:   sessionID,
		LearnerID:   learnerID,
		Mode:        mode.Initial,
		EnergyLevel: "medium",
		Pacing:      "steady",
		StartedAt:   now,
		LastTurnAt:  now,
	}
}

// SetMode records a validated mode transition.
func (c *Context) SetMode(m mode.Mode) {
	c.Mode = m
}

// Touch records turn activity for idle-timeout tracking.
func (c *Context) Touch() {
	c.LastTurnAt = time.Now().UTC()
}

// IdleFor reports how long the session has been without a turn.
func (c *Context) IdleFor() time.Duration {
	return time.Since(c.LastTurnAt)
}
