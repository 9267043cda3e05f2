package gateway

import (
	"context"
	"time"

	"github.com/avila/reserva/pkg/store"
)

// ServerOptions configures the HTTP gateway.
type ServerOptions struct {
	Host string
	Port int

	// ShutdownTimeout bounds how long Stop waits for in-flight requests.
	ShutdownTimeout time.Duration
}

// Responder produces the assistant reply for a conversation. It is the
// seam to the orchestration layer, which lives outside this service; the
// gateway never holds a store lock across a Reply call.
type Responder interface {
	Reply(ctx context.Context, sessionID string, history []store.Message) (string, error)
}

// ChatRequest is the inbound chat payload.
type ChatRequest struct {
	SessionID string                 `json:"session_id,omitempty"`
	Message   string                 `json:"message"`
	UserID    string                 `json:"user_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ChatResponse is the outbound chat payload.
type ChatResponse struct {
	Response  string                 `json:"response"`
	SessionID string                 `json:"session_id"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SessionResponse is the payload for a session read.
type SessionResponse struct {
	SessionID    string          `json:"session_id"`
	Messages     []store.Message `json:"messages"`
	MessageCount int             `json:"message_count"`
}

// SessionListResponse is the payload for the session listing.
type SessionListResponse struct {
	Sessions []store.Summary `json:"sessions"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}
