// ABOUTME: HTTP API handlers for the widget session lifecycle
// ABOUTME: Session creation, conversation moves, feedback, and SSE answer streaming

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/aivie/widget-gateway/internal/auth"
	"github.com/aivie/widget-gateway/internal/params"
	"github.com/aivie/widget-gateway/internal/session"
	"github.com/aivie/widget-gateway/internal/tree"
	"github.com/aivie/widget-gateway/internal/upstream"
)

// SessionResponse is the JSON shape for session state.
type SessionResponse struct {
	SessionID       string   `json:"session_id"`
	State           string   `json:"state"`
	ShowConfigPanel bool     `json:"show_config_panel"`
	ConversationID  string   `json:"conversation_id"`
	ReloadKey       string   `json:"reload_key"`
	Locale          string   `json:"locale"`
	AllowResetChat  bool     `json:"allow_reset_chat"`
	Notices         []Notice `json:"notices,omitempty"`
}

// SendBody is the JSON request body for POST /widget/session/{id}/send.
type SendBody struct {
	Query           string `json:"query"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	Files           []any  `json:"files,omitempty"`
}

// FeedbackBody is the JSON request body for POST /widget/session/{id}/feedback.
type FeedbackBody struct {
	MessageID string `json:"message_id"`
	Rating    string `json:"rating"`
	Content   string `json:"content,omitempty"`
}

// handleCreateSession creates a session seeded from the request's query
// string, exactly the parameters the embedding page would pass the widget.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	query := params.Decode(r.URL.Query())

	userID := query.System.UserID
	claims := auth.FromContext(r.Context())
	if claims != nil {
		userID = claims.UserID
	}

	notices := newNoticeBuffer()
	orch := session.New(session.Options{
		Backend:     s.upstream,
		Access:      auth.NewChecker(claims, s.logger),
		Identity:    s.identity,
		Notifier:    notices,
		Query:       query,
		UserID:      userID,
		IdleTimeout: s.config.Widget.IdleTimeout,
		Logger:      s.logger,
	})

	if err := orch.Initialize(r.Context()); err != nil {
		orch.Close()
		if errors.Is(err, upstream.ErrAppUnavailable) {
			s.sendJSONError(w, http.StatusServiceUnavailable, "app unavailable")
			return
		}
		s.logger.Error("failed to initialize session", "error", err)
		s.sendJSONError(w, http.StatusBadGateway, "upstream error")
		return
	}

	id := s.registry.Add(orch)
	s.noticeBuffers.store(id, notices)
	activeSessions.Inc()

	s.writeSessionResponse(w, http.StatusCreated, id, orch)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, orch, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	s.writeSessionResponse(w, http.StatusOK, id, orch)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	// The registry's removal hook drops the notice buffer and the gauge.
	s.registry.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartChat(w http.ResponseWriter, r *http.Request) {
	id, orch, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var values map[string]any
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := orch.StartChat(r.Context(), values)
	switch {
	case errors.Is(err, session.ErrInputsIncomplete), errors.Is(err, session.ErrUploadsPending):
		// Not a failure: the gate surfaced a notice and the panel stays up.
	case err != nil:
		s.logger.Error("failed to start chat", "session_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeSessionResponse(w, http.StatusOK, id, orch)
}

// handleSend accepts a question and streams the answer back as SSE.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	_, orch, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var body SendBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Query == "" {
		s.sendJSONError(w, http.StatusBadRequest, "query is required")
		return
	}

	// Check streaming support before sending (fail fast)
	flusher, flushable := w.(http.Flusher)
	if !flushable {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	chunks, err := orch.Send(r.Context(), session.SendRequest{
		Query:           body.Query,
		Files:           body.Files,
		ParentMessageID: body.ParentMessageID,
	})
	switch {
	case errors.Is(err, session.ErrInputsIncomplete):
		s.sendJSONError(w, http.StatusUnprocessableEntity, "required inputs incomplete")
		return
	case errors.Is(err, session.ErrUploadsPending):
		s.sendJSONError(w, http.StatusConflict, "file uploads still pending")
		return
	case err != nil:
		s.logger.Error("failed to send", "error", err)
		s.sendJSONError(w, http.StatusBadGateway, "upstream error")
		return
	}
	messagesSent.Inc()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, open := <-chunks:
			if !open {
				return
			}
			if chunk.Event == upstream.AnswerEventError {
				streamErrors.Inc()
			}
			s.writeSSEEvent(w, chunk.Event, chunk)
			flusher.Flush()
		}
	}
}

func (s *Server) handleChangeConversation(w http.ResponseWriter, r *http.Request) {
	id, orch, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var body struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := orch.ChangeConversation(r.Context(), body.ConversationID); err != nil {
		s.logger.Error("failed to change conversation", "session_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeSessionResponse(w, http.StatusOK, id, orch)
}

func (s *Server) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	id, orch, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	if !orch.AllowResetChat() {
		s.sendJSONError(w, http.StatusForbidden, "conversation is pinned by the embedding page")
		return
	}
	if err := orch.NewConversation(r.Context()); err != nil {
		s.logger.Error("failed to start new conversation", "session_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeSessionResponse(w, http.StatusOK, id, orch)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	_, orch, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data":   orch.Catalog().List(),
		"pinned": orch.Catalog().Pinned(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	_, orch, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		conversationID = orch.ConversationID()
	}
	if conversationID == "" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": []tree.ChatItem{}})
		return
	}

	items, err := orch.History(r.Context(), conversationID)
	if err != nil {
		s.logger.Error("failed to fetch history", "error", err)
		s.sendJSONError(w, http.StatusBadGateway, "upstream error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": items})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	_, orch, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var body FeedbackBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.MessageID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "message_id is required")
		return
	}

	err := orch.SubmitFeedback(r.Context(), body.MessageID, tree.Feedback{
		Rating:  body.Rating,
		Content: body.Content,
	})
	if err != nil {
		s.logger.Error("failed to submit feedback", "error", err)
		s.sendJSONError(w, http.StatusBadGateway, "upstream error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"result": "success"})
}

// handleMinimize relays the widget's close control to the hosting page as
// the CLOSE_IFRAME signal. 409 when no page bridge is connected.
func (s *Server) handleMinimize(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	page := s.pages.get(id)
	if page == nil {
		s.sendJSONError(w, http.StatusConflict, "no page bridge connected")
		return
	}
	if err := page.RequestMinimize(r.Context()); err != nil {
		s.logger.Error("failed to request minimize", "session_id", id, "error", err)
		s.sendJSONError(w, http.StatusBadGateway, "page bridge error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleToggleExpand flips the expand state and acknowledges it to the page
// with the expand-change signal. The resulting state is returned; when the
// page granted no expand control the state simply stays put.
func (s *Server) handleToggleExpand(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	page := s.pages.get(id)
	if page == nil {
		s.sendJSONError(w, http.StatusConflict, "no page bridge connected")
		return
	}
	expanded, err := page.ToggleExpand(r.Context())
	if err != nil {
		s.logger.Error("failed to toggle expand", "session_id", id, "error", err)
		s.sendJSONError(w, http.StatusBadGateway, "page bridge error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"expanded": expanded})
}

// lookupSession resolves the path id to a live session, answering 404 for
// unknown or expired ids.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (string, *session.Orchestrator, bool) {
	id := mux.Vars(r)["id"]
	orch := s.registry.Get(id)
	if orch == nil {
		s.sendJSONError(w, http.StatusNotFound, "session not found")
		return "", nil, false
	}
	return id, orch, true
}

func (s *Server) writeSessionResponse(w http.ResponseWriter, status int, id string, orch *session.Orchestrator) {
	resp := SessionResponse{
		SessionID:       id,
		State:           string(orch.State()),
		ShowConfigPanel: orch.ShowConfigPanel(),
		ConversationID:  orch.ConversationID(),
		ReloadKey:       orch.ReloadKey(),
		Locale:          orch.Locale(),
		AllowResetChat:  orch.AllowResetChat(),
	}
	if notices := s.noticeBuffers.get(id); notices != nil {
		resp.Notices = notices.Drain()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeSSEEvent writes one Server-Sent Event.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
