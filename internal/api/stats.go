package api

import (
	"errors"
	"net/http"

	"github.com/graaaaa/worldlog-companion/internal/session"
)

// handleStats handles GET /api/v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.stats.GetStats(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrNoCharacter) {
			writeError(w, http.StatusConflict, "no active character", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
