// ABOUTME: HTTP server wiring for the adapter's JSON API
// ABOUTME: Routes, bearer-token middleware and error-to-status mapping

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alkem-io/matrix-adapter/internal/adapter"
	"github.com/alkem-io/matrix-adapter/internal/breaker"
	"github.com/alkem-io/matrix-adapter/internal/session"
)

// Config carries the server's settings.
type Config struct {
	// Addr is the listen address, e.g. ":4006".
	Addr string
	// ServerName qualifies email-derived identities.
	ServerName string
	// JWTSecret enables bearer auth on /api routes when non-empty.
	JWTSecret string
	Logger    *slog.Logger
}

// Server exposes an adapter.Service over HTTP.
type Server struct {
	svc        *adapter.Service
	serverName string
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server and registers its routes.
func New(cfg Config, svc *adapter.Service) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:        svc,
		serverName: cfg.ServerName,
		logger:     logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)

	if cfg.JWTSecret != "" {
		authenticate := requireAuth(NewJWTVerifier([]byte(cfg.JWTSecret)), s.logger)
		for path, handler := range s.routes() {
			mux.Handle(path, authenticate(handler))
		}
		s.logger.Info("bearer auth enabled")
	} else {
		for path, handler := range s.routes() {
			mux.Handle(path, handler)
		}
		s.logger.Warn("bearer auth disabled - no jwt_secret configured")
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// routes maps API paths to their handlers. Method dispatch happens
// inside each handler.
func (s *Server) routes() map[string]http.Handler {
	return map[string]http.Handler{
		"/api/messages":         http.HandlerFunc(s.handleMessages),
		"/api/messages/reply":   http.HandlerFunc(s.handleReply),
		"/api/messages/sender":  http.HandlerFunc(s.handleMessageSender),
		"/api/reactions":        http.HandlerFunc(s.handleReactions),
		"/api/reactions/sender": http.HandlerFunc(s.handleReactionSender),
		"/api/direct":           http.HandlerFunc(s.handleDirect),
		"/api/rooms":            http.HandlerFunc(s.handleRooms),
		"/api/rooms/":           http.HandlerFunc(s.handleRoomRoutes),
		"/api/memberships":      http.HandlerFunc(s.handleMemberships),
		"/api/replicate":        http.HandlerFunc(s.handleReplicate),
		"/api/users":            http.HandlerFunc(s.handleRegisterUser),
	}
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down api server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// requireAuth wraps a handler with bearer-token verification.
func requireAuth(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				sendJSONError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			caller, err := verifier.Verify(token)
			if err != nil {
				logger.Warn("rejected request", "path", r.URL.Path, "error", err)
				sendJSONError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
			logger.Debug("authenticated request", "caller", caller, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendJSON writes a JSON success response.
func sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// sendError maps adapter failures onto HTTP statuses instead of
// acknowledging blindly, so callers can tell a missing entity from an
// overloaded homeserver.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	var open *breaker.OpenError
	switch {
	case errors.As(err, &open):
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(open.RetryAfter.Seconds())+1))
		sendJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, adapter.ErrEntityNotFound):
		sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, adapter.ErrNotEnabled):
		sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, adapter.ErrNotSupported), errors.Is(err, session.ErrInvalidIdentity):
		sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrLoginFailed), errors.Is(err, session.ErrRegistrationFailed):
		sendJSONError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}
