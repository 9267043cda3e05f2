// Package gateway is the thin HTTP binding for the session store and its
// admission gates. Handlers enforce the ordering contract: identity is
// resolved and the rate limiter consulted before any store access, and a
// denial short-circuits with zero store side effects.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/avila/reserva/internal/observability"
	"github.com/avila/reserva/pkg/identity"
	"github.com/avila/reserva/pkg/ratelimit"
	"github.com/avila/reserva/pkg/store"
)

// Server is the gateway HTTP server.
type Server struct {
	options      ServerOptions
	server       *http.Server
	sessions     *store.Store
	limiter      *ratelimit.Limiter
	responder    Responder
	logger       zerolog.Logger
	startTime    time.Time
	inFlightReqs sync.WaitGroup
}

// NewServer creates a gateway server. It does not listen until Start.
func NewServer(options ServerOptions, sessions *store.Store, limiter *ratelimit.Limiter, responder Responder, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 8000
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.ShutdownTimeout == 0 {
		options.ShutdownTimeout = 10 * time.Second
	}

	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if responder == nil {
		return nil, fmt.Errorf("responder is required")
	}

	return &Server{
		options:   options,
		sessions:  sessions,
		limiter:   limiter,
		responder: responder,
		logger:    logger,
		startTime: time.Now(),
	}, nil
}

// Handler builds the route table. Exposed so tests can drive the server
// through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.gated(s.handleChat))
	mux.HandleFunc("GET /api/session/{id}", s.gated(s.handleGetSession))
	mux.HandleFunc("DELETE /api/session/{id}", s.gated(s.handleDeleteSession))
	mux.HandleFunc("GET /api/sessions", s.gated(s.handleListSessions))

	// Health and scrape endpoints stay outside the rate limit gate.
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Gauges are refreshed on scrape so they track the live maps without a
	// dedicated polling goroutine.
	metricsHandler := observability.MetricsHandler()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.SetActiveSessions(s.sessions.Len())
		observability.SetTrackedIdentities(s.limiter.Size())
		metricsHandler.ServeHTTP(w, r)
	})

	return s.withRequestID(mux)
}

// Start starts the gateway server. It blocks until the listener closes.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting gateway server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}

	return nil
}

// Stop gracefully stops the server, waiting for in-flight requests.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	s.logger.Info().Msg("Shutting down gateway server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.options.ShutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown gateway server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// withRequestID tags every request with a short id for log correlation.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, err := gonanoid.New()
		if err != nil {
			reqID = "unknown"
		}
		w.Header().Set("X-Request-ID", reqID)

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		next.ServeHTTP(w, r)
	})
}

// gated applies the admission ordering: resolve identity, consult the
// limiter, and only then let the handler touch the store.
func (s *Server) gated(next func(w http.ResponseWriter, r *http.Request, clientID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := identity.FromRequest(r)

		decision := s.limiter.Allow(clientID)
		if !decision.Allowed {
			observability.RecordRateLimitDenied()

			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			s.writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error:      "rate limit exceeded",
				Kind:       "rate_limited",
				RetryAfter: retryAfter,
			})

			s.logger.Debug().
				Str("identity", clientID).
				Int("retry_after", retryAfter).
				Msg("Request rate limited")
			return
		}

		next(w, r, clientID)
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, clientID string) {
	start := time.Now()

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		observability.RecordChatRequest("bad_request", time.Since(start))
		return
	}
	if req.Message == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		observability.RecordChatRequest("bad_request", time.Since(start))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = store.NewSessionID()
	}

	rec, err := s.sessions.GetOrCreate(sessionID, clientID)
	if err != nil {
		s.writeAdmissionError(w, err)
		observability.RecordChatRequest("rejected", time.Since(start))
		return
	}

	userMsg := store.Message{
		Role:      "user",
		Content:   req.Message,
		Timestamp: time.Now(),
		Metadata:  req.Metadata,
	}
	if err := s.sessions.Append(rec.ID, userMsg); err != nil {
		s.writeAdmissionError(w, err)
		observability.RecordChatRequest("rejected", time.Since(start))
		return
	}

	history := append(rec.Messages, userMsg)
	reply, err := s.responder.Reply(r.Context(), rec.ID, history)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", rec.ID).Msg("Responder failed")
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to produce a response"})
		observability.RecordChatRequest("responder_error", time.Since(start))
		return
	}

	assistantMsg := store.Message{
		Role:      "assistant",
		Content:   reply,
		Timestamp: time.Now(),
	}
	if err := s.sessions.Append(rec.ID, assistantMsg); err != nil {
		// The user turn consumed the last message slot. The reply is still
		// delivered; the next turn surfaces the cap to the caller.
		s.logger.Debug().Str("session_id", rec.ID).Msg("Assistant turn dropped at message cap")
	}

	s.writeJSON(w, http.StatusOK, ChatResponse{
		Response:  reply,
		SessionID: rec.ID,
		Metadata: map[string]interface{}{
			"user_id": req.UserID,
		},
	})
	observability.RecordChatRequest("ok", time.Since(start))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, clientID string) {
	sessionID := r.PathValue("id")

	rec, err := s.sessions.Get(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found", Kind: "not_found"})
			return
		}
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, SessionResponse{
		SessionID:    rec.ID,
		Messages:     rec.Messages,
		MessageCount: len(rec.Messages),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, clientID string) {
	sessionID := r.PathValue("id")

	if !s.sessions.Remove(sessionID) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found", Kind: "not_found"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("session %s deleted", sessionID),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request, clientID string) {
	s.writeJSON(w, http.StatusOK, SessionListResponse{
		Sessions: s.sessions.List(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).Seconds(),
		"sessions":  s.sessions.Len(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// writeAdmissionError maps the admission taxonomy onto HTTP statuses.
func (s *Server) writeAdmissionError(w http.ResponseWriter, err error) {
	if ae, ok := store.AsAdmissionError(err); ok {
		switch ae.Reason {
		case store.OverGlobalCapacity:
			s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{
				Error: "service at capacity, try again later",
				Kind:  string(ae.Reason),
			})
		case store.OverIdentityQuota:
			s.writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error: "too many active sessions for this client",
				Kind:  string(ae.Reason),
			})
		case store.MessageLimitExceeded:
			s.writeJSON(w, http.StatusConflict, errorResponse{
				Error: "conversation is full, start a new session",
				Kind:  string(ae.Reason),
			})
		default:
			s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: ae.Error()})
		}
		return
	}

	if errors.Is(err, store.ErrSessionNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found", Kind: "not_found"})
		return
	}

	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
