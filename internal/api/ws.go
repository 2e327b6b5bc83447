package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/sage-learning/sage/internal/engine"
	"github.com/sage-learning/sage/internal/normalize"
	"github.com/sage-learning/sage/internal/observe"
)

// handleChat upgrades the request to a WebSocket and runs a turn loop: each
// text frame is one turn request, each reply frame one turn response. The
// connection closes normally when the client goes away or the session ends.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "chat loop aborted")

	s.chatLoop(r.Context(), conn, ls)
}

func (s *Server) chatLoop(ctx context.Context, conn *websocket.Conn, ls *engine.LiveSession) {
	log := observe.Logger(ctx).With("session_id", ls.ID())

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				conn.Close(websocket.StatusNormalClosure, "chat closed")
				return
			}
			if ctx.Err() == nil {
				log.Warn("websocket read failed", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			conn.Close(websocket.StatusUnsupportedData, "text frames only")
			return
		}

		var req turnRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.writeFrame(ctx, conn, log, wsError("malformed turn request"))
			continue
		}
		if req.Modality == "" {
			req.Modality = string(normalize.ModalityChat)
		}

		resp, err := s.runTurn(ctx, ls, req)
		if err != nil {
			if errors.Is(err, engine.ErrSessionNotActive) {
				conn.Close(websocket.StatusNormalClosure, "session ended")
				return
			}
			if errors.Is(err, normalize.ErrUnknownIntent) {
				s.writeFrame(ctx, conn, log, wsError(err.Error()))
				continue
			}
			log.Error("turn failed", "error", err)
			s.writeFrame(ctx, conn, log, wsError("turn failed"))
			continue
		}

		if !s.writeFrame(ctx, conn, log, resp) {
			return
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, log *slog.Logger, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn("frame encoding failed", "error", err)
		return true
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		if ctx.Err() == nil {
			log.Warn("websocket write failed", "error", err)
		}
		return false
	}
	return true
}

func wsError(msg string) errorResponse {
	return errorResponse{Error: msg}
}
