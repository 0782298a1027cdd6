package api

import (
	"errors"
	"net/http"

	"github.com/graaaaa/worldlog-companion/internal/app"
	"github.com/graaaaa/worldlog-companion/internal/event"
	"github.com/graaaaa/worldlog-companion/internal/session"
)

type chatRequest struct {
	Content string `json:"content"`
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

// handleWorld handles GET /api/v1/world. The snapshot is null until the
// first successful poll.
func (s *Server) handleWorld(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.world.GetWorld(r.Context()))
}

// handleChat handles POST /api/v1/chat. The message is shown as pending
// until a snapshot confirms it; 201 means it was added, 200 that an
// identical pending message already existed.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	result, err := s.world.SendChat(r.Context(), req.Content)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyMessage), errors.Is(err, app.ErrMessageTooLong):
			writeError(w, http.StatusBadRequest, err.Error(), nil)
		case errors.Is(err, session.ErrNoCharacter):
			writeError(w, http.StatusConflict, "no active character", nil)
		default:
			writeError(w, http.StatusInternalServerError, "internal error", err)
		}
		return
	}

	status := http.StatusOK
	if result.Added {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// handleOwner handles PUT /api/v1/owner.
func (s *Server) handleOwner(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	result, err := s.world.SetOwner(r.Context(), req.Owner)
	if err != nil {
		if errors.Is(err, app.ErrInvalidOwner) {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCharacters handles GET /api/v1/characters?owner=.
func (s *Server) handleCharacters(w http.ResponseWriter, r *http.Request) {
	chars, err := s.world.Characters(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items []event.CharacterSummary `json:"items"`
	}{chars})
}
