// Package engine implements the conversation turn loop: normalize the
// learner's input, assemble the turn context, build the prompt, invoke the
// model, parse and validate the structured response, apply the mode
// transition, and persist the turn's graph changes atomically.
//
// A [LiveSession] moves through NOT_STARTED → ACTIVE → ENDED. Exactly one
// [LiveSession.ProcessTurn] is in flight per session at a time; the session's
// mutex serialises turns, so the underlying [session.Context] needs no lock
// of its own.
//
// Failures degrade instead of aborting: malformed model output falls back to
// a fixed per-mode response, inconsistent state changes are dropped and
// logged, and graph-write failures are surfaced alongside the textual
// response so the learner never loses a conversational exchange.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sage-learning/sage/internal/config"
	"github.com/sage-learning/sage/internal/mode"
	"github.com/sage-learning/sage/internal/normalize"
	"github.com/sage-learning/sage/internal/observe"
	"github.com/sage-learning/sage/internal/prompt"
	"github.com/sage-learning/sage/internal/session"
	"github.com/sage-learning/sage/internal/turnctx"
	"github.com/sage-learning/sage/pkg/graph"
	"github.com/sage-learning/sage/pkg/provider/llm"
)

var (
	// ErrInconsistentStateChange marks a model-proposed state change that
	// references a graph entity not present in the turn context. The change is
	// dropped; the turn continues.
	ErrInconsistentStateChange = errors.New("engine: state change references unknown entity")

	// ErrGraphWrite marks a persistence failure applying the turn's changes.
	// The textual response is still returned; the caller is informed the
	// mutations did not persist.
	ErrGraphWrite = errors.New("engine: graph write failed")

	// ErrSessionNotActive is returned by ProcessTurn on an ended session.
	ErrSessionNotActive = errors.New("engine: session is not active")
)

// lifecycleState tracks a session through NOT_STARTED → ACTIVE → ENDED.
type lifecycleState int

const (
	stateNotStarted lifecycleState = iota
	stateActive
	stateEnded
)

// Config wires an [Engine]'s collaborators.
type Config struct {
	// Store is the learning-graph collaborator.
	Store graph.Store

	// Provider is the (possibly fallback-wrapped) LLM backend.
	Provider llm.Provider

	// Normalizer converts raw per-turn input into a NormalizedInput.
	Normalizer *normalize.Normalizer

	// Prompt builds the per-turn system prompt.
	Prompt *prompt.Builder

	// Assembler fetches the turn-context snapshot.
	Assembler *turnctx.Assembler

	// Dialogue carries tunable conversation thresholds.
	Dialogue config.DialogueConfig

	// Metrics is optional; nil disables instrumentation.
	Metrics *observe.Metrics

	// Summariser compacts conversation history. Nil disables compaction.
	Summariser session.Summariser
}

// Engine creates and drives tutoring sessions.
type Engine struct {
	store      graph.Store
	provider   llm.Provider
	normalizer *normalize.Normalizer
	prompt     *prompt.Builder
	assembler  *turnctx.Assembler
	metrics    *observe.Metrics
	summariser session.Summariser

	dialogueMu sync.RWMutex
	dialogue   config.DialogueConfig
}

// SetDialogue swaps the dialogue tuning values. Sessions pick the new values
// up on their next turn.
func (e *Engine) SetDialogue(d config.DialogueConfig) {
	e.dialogueMu.Lock()
	e.dialogue = d
	e.dialogueMu.Unlock()
}

func (e *Engine) dialogueConfig() config.DialogueConfig {
	e.dialogueMu.RLock()
	defer e.dialogueMu.RUnlock()
	return e.dialogue
}

// SessionIdleTimeout returns the idle duration after which a session counts
// as abandoned. Hot-reload aware.
func (e *Engine) SessionIdleTimeout() time.Duration {
	return e.dialogueConfig().EffectiveSessionIdleTimeout()
}

// New creates an Engine from cfg. Store, Provider, Normalizer, Prompt, and
// Assembler are required.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Provider == nil || cfg.Normalizer == nil ||
		cfg.Prompt == nil || cfg.Assembler == nil {
		return nil, errors.New("engine: missing required collaborator")
	}
	return &Engine{
		store:      cfg.Store,
		provider:   cfg.Provider,
		normalizer: cfg.Normalizer,
		prompt:     cfg.Prompt,
		assembler:  cfg.Assembler,
		dialogue:   cfg.Dialogue,
		metrics:    cfg.Metrics,
		summariser: cfg.Summariser,
	}, nil
}

// LiveSession is one active tutoring conversation. Methods are safe for
// concurrent use; turns are serialised by the session mutex.
type LiveSession struct {
	engine *Engine

	mu    sync.Mutex
	state lifecycleState
	sctx  *session.Context
	log   *session.Log
}

// StartSession creates a session for the learner, beginning in the check-in
// mode. Fails with an error wrapping [graph.ErrNotFound] when the learner is
// unknown.
func (e *Engine) StartSession(ctx context.Context, learnerID string) (*LiveSession, error) {
	learner, err := e.store.GetLearner(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("engine: start session: %w", err)
	}

	sessionID := uuid.NewString()
	sctx := session.NewContext(sessionID, learner.ID)
	if err := e.store.CreateSession(ctx, graph.Session{
		ID:          sessionID,
		LearnerID:   learner.ID,
		Mode:        string(sctx.Mode),
		EnergyLevel: sctx.EnergyLevel,
		StartedAt:   sctx.StartedAt,
	}); err != nil {
		return nil, fmt.Errorf("engine: start session: %w", err)
	}

	ls := &LiveSession{
		engine: e,
		state:  stateActive,
		sctx:   sctx,
		log: session.NewLog(session.LogConfig{
			MaxTokens:  e.dialogueConfig().EffectivePromptTokenBudget(),
			MaxTurns:   e.dialogueConfig().EffectiveMaxHistoryTurns(),
			Summariser: e.summariser,
		}),
	}

	if e.metrics != nil {
		e.metrics.ActiveSessions.Add(ctx, 1)
	}
	observe.Logger(ctx).Info("session started",
		"session_id", sessionID, "learner_id", learner.ID)
	return ls, nil
}

// ID returns the session identifier.
func (s *LiveSession) ID() string {
	return s.sctx.SessionID
}

// Mode returns the session's current dialogue mode.
func (s *LiveSession) Mode() mode.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sctx.Mode
}

// IdleFor returns how long ago the session last saw activity.
func (s *LiveSession) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sctx.IdleFor()
}

// Snapshot is a read-only view of the session's live context, used by
// callers that seed output decisions from it.
type Snapshot struct {
	EnergyLevel    string
	TimeAvailable  int
	FocusConceptID string
}

// Snapshot returns the current energy, remaining time in minutes, and focus
// concept of the session.
func (s *LiveSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		EnergyLevel:    s.sctx.EnergyLevel,
		TimeAvailable:  parseMinutes(s.sctx.TimeAvailable),
		FocusConceptID: s.sctx.FocusConceptID,
	}
}

// EndSession flushes the session's final state to the graph and marks it
// ended. Idempotent: a second call performs no further graph writes.
func (s *LiveSession) EndSession(ctx context.Context) (graph.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ended := time.Now().UTC()
	record := graph.Session{
		ID:          s.sctx.SessionID,
		LearnerID:   s.sctx.LearnerID,
		Mode:        string(s.sctx.Mode),
		EnergyLevel: s.sctx.EnergyLevel,
		Summary:     s.log.Summary(),
		StartedAt:   s.sctx.StartedAt,
		EndedAt:     &ended,
	}
	if s.state == stateEnded {
		return record, nil
	}

	if err := s.engine.store.UpdateSession(ctx, record); err != nil {
		return record, fmt.Errorf("%w: end session: %v", ErrGraphWrite, err)
	}
	s.state = stateEnded

	if s.engine.metrics != nil {
		s.engine.metrics.ActiveSessions.Add(ctx, -1)
	}
	observe.Logger(ctx).Info("session ended",
		"session_id", s.sctx.SessionID, "mode", string(s.sctx.Mode))
	return record, nil
}
