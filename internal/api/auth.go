package api

import (
	"net/http"

	"github.com/graaaaa/worldlog-companion/internal/api/streamauth"
)

// tokenResponse is the response for POST /api/v1/auth/token.
type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// handleAuthToken handles POST /api/v1/auth/token. It sits behind Basic
// Auth and issues a short-lived token for the stream and ws endpoints.
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeError(w, http.StatusServiceUnavailable, "stream tokens not configured", nil)
		return
	}

	token, err := s.tokens.Issue(streamauth.ScopeSSE, streamauth.ScopeWS)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token", err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresIn: int(s.tokens.TTL().Seconds()),
	})
}
