// Package assiststub is a self-contained assistant service speaking the
// widget protocol over both transports. It backs the demo page and the
// widget's end-to-end tests; it is not a real assistant.
package assiststub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/bookline/assist-widget/internal/middleware"
	"github.com/bookline/assist-widget/internal/protocol"
	"github.com/bookline/assist-widget/web"
)

// Server implements the assistant side of the widget protocol with canned
// responses.
type Server struct {
	responder *Responder
}

// NewServer creates a stub server.
func NewServer() *Server {
	return &Server{responder: NewResponder()}
}

// Router builds the HTTP routes: the realtime endpoints the resolver
// produces, the versioned fallback endpoint, a health check, and the
// embedded demo page.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.CORS([]string{"*"}))

	r.Get("/ws/assistant/{companyID}", s.handleWS)
	r.Get("/ws/test", s.handleWS)
	r.Get("/api/v1/ws/assistant/{companyID}", s.handleWS)
	r.Post("/api/v1/assistant/chat", s.handleFallbackChat)
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/*", web.Handler())

	return r
}

// handleWS runs one realtime conversation.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "company_id", companyID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			slog.Debug("closing websocket", "error", closeErr)
		}
	}()

	ctx := r.Context()
	slog.Info("realtime conversation started", "company_id", companyID)

	if err := s.writeJSON(ctx, ws, protocol.ConnectedFrame{
		Type:    protocol.TypeConnected,
		Message: s.responder.Greeting(),
	}); err != nil {
		slog.Debug("failed to send greeting", "error", err)
		return
	}

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("websocket closed by client", "company_id", companyID)
			} else if ctx.Err() == nil {
				slog.Warn("websocket read error", "error", err)
			}
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("ignoring undecodable client frame")
			continue
		}

		switch msg.Type {
		case protocol.TypePing:
			if err := s.writeJSON(ctx, ws, protocol.PongFrame{Type: protocol.TypePong}); err != nil {
				return
			}
		case protocol.TypeChat:
			var chat protocol.ChatMessage
			if err := json.Unmarshal(data, &chat); err != nil {
				continue
			}
			sessionID := ""
			if chat.SessionID != nil {
				sessionID = *chat.SessionID
			}
			resp := s.responder.Chat(chat.Message, sessionID)
			resp.Type = protocol.TypeChatResponse
			if err := s.writeJSON(ctx, ws, resp); err != nil {
				return
			}
		case protocol.TypeSchedule:
			var sched protocol.ScheduleMessage
			if err := json.Unmarshal(data, &sched); err != nil {
				continue
			}
			if err := s.writeJSON(ctx, ws, s.responder.Schedule(sched)); err != nil {
				return
			}
		default:
			slog.Debug("ignoring client frame with unknown type", "type", msg.Type)
		}
	}
}

// handleFallbackChat is the stateless chat endpoint. The response body has
// the same shape as a chat_response payload, minus the type wrapper.
func (s *Server) handleFallbackChat(w http.ResponseWriter, r *http.Request) {
	var req protocol.FallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		return
	}

	resp := s.responder.Chat(req.Message, req.SessionID)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("failed to encode fallback response", "error", err)
	}
}

func (s *Server) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

// wantsBooking reports whether the visitor is asking about appointments.
func wantsBooking(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "book") ||
		strings.Contains(lower, "appointment") ||
		strings.Contains(lower, "schedule")
}

// wantsHuman reports whether the visitor is asking for a person.
func wantsHuman(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "human") || strings.Contains(lower, "agent")
}
