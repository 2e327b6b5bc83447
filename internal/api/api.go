// Package api is the thin HTTP/WebSocket chat surface over the conversation
// engine. It carries no tutoring logic: requests are decoded, handed to the
// engine, and the orchestrator's output strategy is attached to the reply.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sage-learning/sage/internal/engine"
	"github.com/sage-learning/sage/internal/normalize"
	"github.com/sage-learning/sage/internal/observe"
	"github.com/sage-learning/sage/internal/orchestrator"
	"github.com/sage-learning/sage/pkg/graph"
)

// Server exposes tutoring sessions over HTTP and WebSocket. Live sessions
// are held in memory for the lifetime of the process; a restart ends them,
// and [Server.RunSessionReaper] evicts those idle past the configured
// timeout.
type Server struct {
	engine *engine.Engine

	mu       sync.Mutex
	sessions map[string]*engine.LiveSession
}

// NewServer creates a Server over the given engine.
func NewServer(e *engine.Engine) *Server {
	return &Server{
		engine:   e,
		sessions: make(map[string]*engine.LiveSession),
	}
}

// Register adds the session and chat routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", s.handleStartSession)
	mux.HandleFunc("POST /v1/sessions/{id}/turns", s.handleTurn)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleEndSession)
	mux.HandleFunc("GET /v1/sessions/{id}/chat", s.handleChat)
}

type startSessionRequest struct {
	LearnerID string `json:"learner_id"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
}

// turnRequest is one learner message, over REST or WebSocket.
type turnRequest struct {
	Modality string         `json:"modality"`
	Intent   string         `json:"intent"`
	Fields   map[string]any `json:"fields,omitempty"`
	Text     string         `json:"text,omitempty"`
}

// turnResponse is the reply for one turn.
type turnResponse struct {
	Message       string                            `json:"message"`
	Mode          string                            `json:"mode"`
	Strategy      string                            `json:"strategy"`
	Clarification bool                              `json:"clarification,omitempty"`
	UIRequest     *orchestrator.UIGenerationRequest `json:"ui_request,omitempty"`
	GraphError    string                            `json:"graph_error,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LearnerID == "" {
		writeError(w, http.StatusBadRequest, "learner_id is required")
		return
	}

	ls, err := s.engine.StartSession(r.Context(), req.LearnerID)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			writeError(w, http.StatusNotFound, "learner not found")
			return
		}
		observe.Logger(r.Context()).Error("start session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not start session")
		return
	}

	s.mu.Lock()
	s.sessions[ls.ID()] = ls
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: ls.ID(),
		Mode:      string(ls.Mode()),
	})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed turn request")
		return
	}

	resp, err := s.runTurn(r.Context(), ls, req)
	if err != nil {
		writeTurnError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// runTurn drives one engine turn and attaches the orchestrator's decision.
func (s *Server) runTurn(ctx context.Context, ls *engine.LiveSession, req turnRequest) (*turnResponse, error) {
	modality := normalize.Modality(req.Modality)
	result, err := ls.ProcessTurn(ctx, engine.TurnInput{
		Modality: modality,
		Intent:   req.Intent,
		Fields:   req.Fields,
		Text:     req.Text,
	})
	if err != nil {
		return nil, err
	}

	snap := ls.Snapshot()
	decision := orchestrator.Decide(orchestrator.Input{
		Modality:      modality,
		Mode:          result.Mode,
		UIHint:        result.UIHint,
		EnergyLevel:   snap.EnergyLevel,
		TimeAvailable: snap.TimeAvailable,
		RecentTopic:   snap.FocusConceptID,
	})

	resp := &turnResponse{
		Message:       result.Response.Message,
		Mode:          string(result.Mode),
		Strategy:      string(decision.Strategy),
		Clarification: result.Clarification,
		UIRequest:     decision.UIRequest,
	}
	if result.GraphErr != nil {
		resp.GraphError = result.GraphErr.Error()
	}
	return resp, nil
}

func writeTurnError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, normalize.ErrUnknownIntent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrSessionNotActive):
		writeError(w, http.StatusConflict, "session is not active")
	default:
		observe.Logger(r.Context()).Error("turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "turn failed")
	}
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ls, ok := s.lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	record, err := ls.EndSession(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("end session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not end session")
		return
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: record.ID,
		Mode:      record.Mode,
	})
}

// RunSessionReaper ends sessions idle past the engine's idle timeout, every
// interval, until ctx is cancelled. Run it in its own goroutine.
func (s *Server) RunSessionReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.endIdleSessions(ctx)
		}
	}
}

// endIdleSessions performs one reaping sweep.
func (s *Server) endIdleSessions(ctx context.Context) {
	timeout := s.engine.SessionIdleTimeout()

	s.mu.Lock()
	idle := make(map[string]*engine.LiveSession)
	for id, ls := range s.sessions {
		if ls.IdleFor() > timeout {
			idle[id] = ls
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for id, ls := range idle {
		observe.Logger(ctx).Info("ending idle session",
			"session_id", id, "idle_for", ls.IdleFor().Round(time.Second).String())
		if _, err := ls.EndSession(ctx); err != nil {
			observe.Logger(ctx).Error("idle session not ended cleanly",
				"session_id", id, "error", err)
		}
	}
}

func (s *Server) lookup(id string) (*engine.LiveSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[id]
	return ls, ok
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encoding failed", "error", err)
	}
}
