package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recalld/recalld/config"
	"github.com/recalld/recalld/pkg/api/handlers"
	"github.com/recalld/recalld/pkg/engine"
	"github.com/recalld/recalld/pkg/logger"
	"github.com/recalld/recalld/pkg/metrics"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Bootstrap.Attempts = 1
	cfg.Bootstrap.BackoffBase = time.Millisecond

	e, err := engine.New(cfg, logger.Nop(), metrics.NoOpManager())
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	log := logger.Nop()
	router := NewRouter(cfg, log, &Handlers{
		Conversation: handlers.NewConversationHandler(e, log),
		Cache:        handlers.NewCacheHandler(e, log),
		Memory:       handlers.NewMemoryHandler(e, log),
		Admin:        handlers.NewAdminHandler(e, log),
		Health:       handlers.NewHealthHandler(e),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		e.Close()
	})
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	body := decodeJSON(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["degraded"])

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	body = decodeJSON(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "health")
	assert.Contains(t, body, "cache")
	assert.Contains(t, body, "version")
}

func TestTurnAndHistoryFlow(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/users/alice/turns",
		map[string]string{"role": "user", "content": "My favorite color is blue"})
	body := decodeJSON(t, resp)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	learning, ok := body["learning"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "promoted", learning["stage"])

	resp = postJSON(t, srv.URL+"/api/v1/users/alice/turns",
		map[string]string{"role": "assistant", "content": "Noted!"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	httpResp, err := http.Get(srv.URL + "/api/v1/users/alice/history?limit=10")
	require.NoError(t, err)
	body = decodeJSON(t, httpResp)
	assert.Equal(t, float64(2), body["count"])
}

func TestTurnValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/users/alice/turns",
		map[string]string{"role": "system", "content": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/v1/users/alice/turns",
		map[string]string{"role": "user"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestMemoryQueryEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/users/alice/turns",
		map[string]string{"role": "user", "content": "My favorite color is blue"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/v1/users/alice/memory/query",
		map[string]any{"query": "what is my favorite color", "top_k": 3})
	body := decodeJSON(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	// Another user sees nothing.
	resp = postJSON(t, srv.URL+"/api/v1/users/bob/memory/query",
		map[string]any{"query": "what is my favorite color"})
	body = decodeJSON(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["count"])
}

func TestCacheEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/users/alice/cache?query=hello")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/v1/users/alice/cache",
		map[string]string{"query": "hello", "response": "Hi there!"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/v1/users/alice/cache?query=hello")
	require.NoError(t, err)
	body := decodeJSON(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hi there!", body["response"])

	// Structured payloads are refused.
	resp = postJSON(t, srv.URL+"/api/v1/users/alice/cache",
		map[string]string{"query": "tasks", "response": `{"tasks":[]}`})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestAdminSystemPrompt(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/users/alice/cache",
		map[string]string{"query": "hello", "response": "Hi there!"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/admin/system-prompt",
		bytes.NewReader([]byte(`{"prompt":"You are terse."}`)))
	require.NoError(t, err)
	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body := decodeJSON(t, httpResp)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	assert.Equal(t, true, body["changed"])

	resp2, err := http.Get(srv.URL + "/api/v1/users/alice/cache?query=hello")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	resp2.Body.Close()

	// Same prompt again is a no-op.
	req, err = http.NewRequest(http.MethodPut, srv.URL+"/api/v1/admin/system-prompt",
		bytes.NewReader([]byte(`{"prompt":"You are terse."}`)))
	require.NoError(t, err)
	httpResp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body = decodeJSON(t, httpResp)
	assert.Equal(t, false, body["changed"])
}

func TestForgetUserEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/users/alice/turns",
		map[string]string{"role": "user", "content": "My favorite color is blue"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/users/alice/", nil)
	require.NoError(t, err)
	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)
	httpResp.Body.Close()

	httpResp, err = http.Get(srv.URL + "/api/v1/users/alice/history")
	require.NoError(t, err)
	body := decodeJSON(t, httpResp)
	assert.Equal(t, float64(0), body["count"])
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
