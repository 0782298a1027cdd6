package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/graaaaa/worldlog-companion/internal/event"
	"github.com/graaaaa/worldlog-companion/internal/session"
	"github.com/graaaaa/worldlog-companion/internal/store"
)

// maxEventsLimit caps the page size of GET /api/v1/events.
const maxEventsLimit = 500

// eventsResponse represents the response for the events endpoint.
type eventsResponse struct {
	Items      []event.Event `json:"items"`
	NextCursor *string       `json:"next_cursor,omitempty"`
}

// handleEvents handles GET /api/v1/events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventsFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	result, err := s.events.Query(r.Context(), filter)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidCursor):
			writeError(w, http.StatusBadRequest, "invalid cursor", nil)
		case errors.Is(err, session.ErrNoCharacter):
			writeError(w, http.StatusConflict, "no active character", nil)
		default:
			writeError(w, http.StatusInternalServerError, "internal error", err)
		}
		return
	}

	resp := eventsResponse{Items: result.Items, NextCursor: result.NextCursor}
	if resp.Items == nil {
		resp.Items = []event.Event{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseEventsFilter parses type, limit and cursor query parameters.
func parseEventsFilter(r *http.Request) (store.EventFilter, error) {
	var filter store.EventFilter
	q := r.URL.Query()

	if t := q.Get("type"); t != "" {
		lt, ok := event.ParseLogType(t)
		if !ok {
			return filter, fmt.Errorf("invalid type: %s", t)
		}
		filter.Type = &lt
	}

	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 || limit > maxEventsLimit {
			return filter, fmt.Errorf("invalid limit: %s", l)
		}
		filter.Limit = limit
	}

	if c := q.Get("cursor"); c != "" {
		filter.Cursor = &c
	}

	return filter, nil
}
