// Package api serves the companion's HTTP API: world snapshots, chat,
// cached history and the push endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/graaaaa/worldlog-companion/internal/api/streamauth"
	"github.com/graaaaa/worldlog-companion/internal/app"
)

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger

	health app.HealthUsecase
	world  app.WorldUsecase
	events app.EventsUsecase
	stats  app.StatsUsecase
	cfg    app.ConfigUsecase

	hub      *Hub
	upgrader *websocket.Upgrader
	metrics  http.Handler

	authEnabled  bool
	authUsername string
	authPassword string
	authFailures *AuthFailureLimiter
	tokens       *streamauth.Issuer

	allowedHosts []string
	chatLimiter  *RateLimiter
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithWorldUsecase enables the world, chat, owner and characters routes.
func WithWorldUsecase(world app.WorldUsecase) ServerOption {
	return func(s *Server) { s.world = world }
}

// WithEventsUsecase enables GET /api/v1/events.
func WithEventsUsecase(events app.EventsUsecase) ServerOption {
	return func(s *Server) { s.events = events }
}

// WithStatsUsecase enables GET /api/v1/stats.
func WithStatsUsecase(stats app.StatsUsecase) ServerOption {
	return func(s *Server) { s.stats = stats }
}

// WithConfigUsecase enables GET and PUT /api/v1/config.
func WithConfigUsecase(cfg app.ConfigUsecase) ServerOption {
	return func(s *Server) { s.cfg = cfg }
}

// WithHub enables the SSE and WebSocket push routes.
func WithHub(hub *Hub) ServerOption {
	return func(s *Server) { s.hub = hub }
}

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// WithBasicAuth enables HTTP Basic Auth on every route except health.
// Repeated failures from one IP lock it out.
func WithBasicAuth(username, password string) ServerOption {
	return func(s *Server) {
		if username != "" && password != "" {
			s.authEnabled = true
			s.authUsername = username
			s.authPassword = password
			s.authFailures = NewAuthFailureLimiter(DefaultAuthFailureLimiterConfig())
		}
	}
}

// WithStreamTokens lets push routes accept tokens from POST /api/v1/auth/token.
func WithStreamTokens(issuer *streamauth.Issuer) ServerOption {
	return func(s *Server) { s.tokens = issuer }
}

// WithAllowedHosts adds hosts accepted by the CSRF and WebSocket origin
// checks. Loopback names are always accepted.
func WithAllowedHosts(hosts ...string) ServerOption {
	return func(s *Server) { s.allowedHosts = append(s.allowedHosts, hosts...) }
}

// WithChatRateLimit limits POST /api/v1/chat per client IP.
func WithChatRateLimit(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		s.chatLimiter = NewRateLimiter(RateLimiterConfig{Rate: perSecond, Burst: burst})
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with the given dependencies.
func NewServer(addr string, health app.HealthUsecase, opts ...ServerOption) *Server {
	mux := http.NewServeMux()
	s := &Server{
		mux:    mux,
		health: health,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = newUpgrader(s.allowedHosts)
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      0, // SSE and WebSocket connections are long-lived
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	return s
}

// Handler returns the root handler with security headers applied.
func (s *Server) Handler() http.Handler {
	return securityHeadersMiddleware(s.mux)
}

// wrapAuth wraps h with Basic Auth if auth is enabled.
func (s *Server) wrapAuth(h http.Handler) http.Handler {
	if !s.authEnabled {
		return h
	}
	return basicAuthMiddleware(s.authUsername, s.authPassword, s.authFailures)(h)
}

// wrapStream wraps a push handler with Basic Auth or token auth.
func (s *Server) wrapStream(h http.Handler, scope streamauth.Scope) http.Handler {
	if !s.authEnabled {
		return h
	}
	return streamAuthMiddleware(s.authUsername, s.authPassword, s.tokens, scope, s.authFailures)(h)
}

// wrapWrite wraps a state-changing handler with auth and the CSRF check.
func (s *Server) wrapWrite(h http.Handler) http.Handler {
	return s.wrapAuth(csrfMiddleware(s.allowedHosts)(h))
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	if s.world != nil {
		s.mux.Handle("GET /api/v1/world", s.wrapAuth(http.HandlerFunc(s.handleWorld)))
		s.mux.Handle("GET /api/v1/characters", s.wrapAuth(http.HandlerFunc(s.handleCharacters)))
		s.mux.Handle("PUT /api/v1/owner", s.wrapWrite(http.HandlerFunc(s.handleOwner)))

		var chat http.Handler = http.HandlerFunc(s.handleChat)
		if s.chatLimiter != nil {
			chat = s.chatLimiter.Middleware(chat)
		}
		s.mux.Handle("POST /api/v1/chat", s.wrapWrite(chat))
	}

	if s.events != nil {
		s.mux.Handle("GET /api/v1/events", s.wrapAuth(http.HandlerFunc(s.handleEvents)))
	}
	if s.stats != nil {
		s.mux.Handle("GET /api/v1/stats", s.wrapAuth(http.HandlerFunc(s.handleStats)))
	}
	if s.cfg != nil {
		s.mux.Handle("GET /api/v1/config", s.wrapAuth(http.HandlerFunc(s.handleGetConfig)))
		s.mux.Handle("PUT /api/v1/config", s.wrapWrite(http.HandlerFunc(s.handlePutConfig)))
	}

	if s.hub != nil {
		s.mux.Handle("GET /api/v1/stream", s.wrapStream(http.HandlerFunc(s.handleStream), streamauth.ScopeSSE))
		s.mux.Handle("GET /api/v1/ws", s.wrapStream(http.HandlerFunc(s.handleWS), streamauth.ScopeWS))
		if s.authEnabled {
			s.mux.Handle("POST /api/v1/auth/token", s.wrapWrite(http.HandlerFunc(s.handleAuthToken)))
		}
	}

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.wrapAuth(s.metrics))
	}
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result, err := s.health.Handle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server and releases its limiters.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.chatLimiter != nil {
		s.chatLimiter.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
