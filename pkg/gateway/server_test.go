package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avila/reserva/pkg/ratelimit"
	"github.com/avila/reserva/pkg/store"
)

// echoResponder replies with the last user message.
type echoResponder struct{}

func (echoResponder) Reply(_ context.Context, _ string, history []store.Message) (string, error) {
	if len(history) == 0 {
		return "hello", nil
	}
	return "echo: " + history[len(history)-1].Content, nil
}

type failingResponder struct{}

func (failingResponder) Reply(context.Context, string, []store.Message) (string, error) {
	return "", fmt.Errorf("backend unavailable")
}

func newTestServer(t *testing.T, storeCfg store.Config, limit int, responder Responder) (*Server, *store.Store, http.Handler) {
	st, err := store.New(storeCfg, nil)
	require.NoError(t, err)

	limiter, err := ratelimit.New(limit, time.Minute)
	require.NoError(t, err)

	if responder == nil {
		responder = echoResponder{}
	}

	srv, err := NewServer(ServerOptions{}, st, limiter, responder, zerolog.Nop())
	require.NoError(t, err)

	return srv, st, srv.Handler()
}

func defaultStoreConfig() store.Config {
	return store.Config{
		MaxSessionsTotal:       10,
		MaxSessionsPerIdentity: 5,
		MaxMessagesPerSession:  20,
		TTL:                    time.Hour,
	}
}

func doChat(t *testing.T, handler http.Handler, identity string, body ChatRequest) *httptest.ResponseRecorder {
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "/api/chat", bytes.NewReader(payload))
	r.Header.Set("X-Forwarded-For", identity)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func TestChat_CreatesSessionAndReplies(t *testing.T) {
	_, st, handler := newTestServer(t, defaultStoreConfig(), 100, nil)

	w := doChat(t, handler, "198.51.100.4", ChatRequest{Message: "book me a haircut"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "echo: book me a haircut", resp.Response)

	// Both conversation turns landed in the store.
	rec, err := st.Get(resp.SessionID)
	require.NoError(t, err)
	require.Len(t, rec.Messages, 2)
	assert.Equal(t, "user", rec.Messages[0].Role)
	assert.Equal(t, "assistant", rec.Messages[1].Role)
	assert.Equal(t, "198.51.100.4", rec.OwnerIdentity)
}

func TestChat_ReusesSession(t *testing.T) {
	_, st, handler := newTestServer(t, defaultStoreConfig(), 100, nil)

	w := doChat(t, handler, "198.51.100.4", ChatRequest{Message: "first"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = doChat(t, handler, "198.51.100.4", ChatRequest{SessionID: resp.SessionID, Message: "second"})
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := st.Get(resp.SessionID)
	require.NoError(t, err)
	assert.Len(t, rec.Messages, 4)
	assert.Equal(t, 1, st.Len())
}

func TestChat_BadRequest(t *testing.T) {
	_, _, handler := newTestServer(t, defaultStoreConfig(), 100, nil)

	w := doChat(t, handler, "198.51.100.4", ChatRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r := httptest.NewRequest("POST", "/api/chat", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_RateLimitShortCircuitsStore(t *testing.T) {
	_, st, handler := newTestServer(t, defaultStoreConfig(), 2, nil)

	require.Equal(t, http.StatusOK, doChat(t, handler, "198.51.100.4", ChatRequest{Message: "one"}).Code)
	require.Equal(t, http.StatusOK, doChat(t, handler, "198.51.100.4", ChatRequest{Message: "two"}).Code)
	sessionsBefore := st.Len()

	w := doChat(t, handler, "198.51.100.4", ChatRequest{Message: "three"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limited", resp.Kind)
	assert.Greater(t, resp.RetryAfter, 0)

	// A denied request never touches the store.
	assert.Equal(t, sessionsBefore, st.Len())

	// Another identity is unaffected.
	assert.Equal(t, http.StatusOK, doChat(t, handler, "203.0.113.9", ChatRequest{Message: "hi"}).Code)
}

func TestChat_IdentityQuota(t *testing.T) {
	cfg := defaultStoreConfig()
	cfg.MaxSessionsPerIdentity = 1
	_, _, handler := newTestServer(t, cfg, 100, nil)

	require.Equal(t, http.StatusOK, doChat(t, handler, "198.51.100.4", ChatRequest{Message: "one"}).Code)

	w := doChat(t, handler, "198.51.100.4", ChatRequest{SessionID: store.NewSessionID(), Message: "two"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(store.OverIdentityQuota), resp.Kind)
}

func TestChat_GlobalCapacity(t *testing.T) {
	cfg := defaultStoreConfig()
	cfg.MaxSessionsTotal = 1
	cfg.MaxSessionsPerIdentity = 1
	_, _, handler := newTestServer(t, cfg, 100, nil)

	require.Equal(t, http.StatusOK, doChat(t, handler, "198.51.100.4", ChatRequest{Message: "one"}).Code)

	w := doChat(t, handler, "203.0.113.9", ChatRequest{Message: "two"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(store.OverGlobalCapacity), resp.Kind)
}

func TestChat_MessageCap(t *testing.T) {
	cfg := defaultStoreConfig()
	cfg.MaxMessagesPerSession = 1
	_, _, handler := newTestServer(t, cfg, 100, nil)

	// First turn fills the single slot with the user message.
	w := doChat(t, handler, "198.51.100.4", ChatRequest{Message: "one"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = doChat(t, handler, "198.51.100.4", ChatRequest{SessionID: resp.SessionID, Message: "two"})
	assert.Equal(t, http.StatusConflict, w.Code)

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, string(store.MessageLimitExceeded), errResp.Kind)
}

func TestChat_ResponderFailure(t *testing.T) {
	_, st, handler := newTestServer(t, defaultStoreConfig(), 100, failingResponder{})

	w := doChat(t, handler, "198.51.100.4", ChatRequest{Message: "hello"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	// The user turn is retained; only the reply failed.
	assert.Equal(t, 1, st.Len())
}

func TestGetSession(t *testing.T) {
	_, _, handler := newTestServer(t, defaultStoreConfig(), 100, nil)

	w := doChat(t, handler, "198.51.100.4", ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	var chat ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chat))

	r := httptest.NewRequest("GET", "/api/session/"+chat.SessionID, nil)
	r.Header.Set("X-Forwarded-For", "198.51.100.4")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, chat.SessionID, resp.SessionID)
	assert.Equal(t, 2, resp.MessageCount)
	assert.Len(t, resp.Messages, 2)
}

func TestGetSession_NotFound(t *testing.T) {
	_, _, handler := newTestServer(t, defaultStoreConfig(), 100, nil)

	r := httptest.NewRequest("GET", "/api/session/"+store.NewSessionID(), nil)
	r.Header.Set("X-Forwarded-For", "198.51.100.4")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSession(t *testing.T) {
	_, st, handler := newTestServer(t, defaultStoreConfig(), 100, nil)

	w := doChat(t, handler, "198.51.100.4", ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	var chat ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chat))

	r := httptest.NewRequest("DELETE", "/api/session/"+chat.SessionID, nil)
	r.Header.Set("X-Forwarded-For", "198.51.100.4")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, st.Len())

	// Deleting again is a 404.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/session/"+chat.SessionID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessions(t *testing.T) {
	_, _, handler := newTestServer(t, defaultStoreConfig(), 100, nil)

	doChat(t, handler, "198.51.100.4", ChatRequest{Message: "one"})
	doChat(t, handler, "203.0.113.9", ChatRequest{Message: "two"})

	r := httptest.NewRequest("GET", "/api/sessions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Sessions, 2)
}

func TestHealth_NotRateLimited(t *testing.T) {
	_, _, handler := newTestServer(t, defaultStoreConfig(), 1, nil)

	// Exhaust the limiter for this identity.
	require.Equal(t, http.StatusOK, doChat(t, handler, "198.51.100.4", ChatRequest{Message: "one"}).Code)
	require.Equal(t, http.StatusTooManyRequests, doChat(t, handler, "198.51.100.4", ChatRequest{Message: "two"}).Code)

	r := httptest.NewRequest("GET", "/api/health", nil)
	r.Header.Set("X-Forwarded-For", "198.51.100.4")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestNewServer_Validation(t *testing.T) {
	st, err := store.New(defaultStoreConfig(), nil)
	require.NoError(t, err)
	limiter, err := ratelimit.New(10, time.Minute)
	require.NoError(t, err)

	_, err = NewServer(ServerOptions{}, nil, limiter, echoResponder{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewServer(ServerOptions{}, st, nil, echoResponder{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewServer(ServerOptions{}, st, limiter, nil, zerolog.Nop())
	assert.Error(t, err)
}
