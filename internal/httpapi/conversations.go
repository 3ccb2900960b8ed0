package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nerv-tools/magi/internal/store"
)

type createConversationRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "invalid request", "title must not be empty")
		return
	}

	conv, err := s.store.CreateConversation(r.Context(), req.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "creating conversation", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.store.ListConversations(r.Context(), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing conversations", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := s.store.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown conversation", id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading conversation", err.Error())
		return
	}

	messages, err := s.store.Messages(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading messages", err.Error())
		return
	}
	decisions, err := s.store.RecentDecisions(r.Context(), id, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading decisions", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     messages,
		"decisions":    decisions,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := s.store.DeleteConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown conversation", id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "deleting conversation", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
