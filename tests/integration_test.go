package tests

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmshield/llm-shield/internal/config"
	"github.com/llmshield/llm-shield/internal/server"
)

// newStack wires the full route tree against a fake upstream, the same way
// the server binary does.
func newStack(t *testing.T, upstreamURL string) *httptest.Server {
	t.Helper()

	manager := config.NewManager(t.TempDir())
	require.NoError(t, manager.Save(&config.Config{
		Host: "127.0.0.1",
		Port: 8888,
		Upstream: config.Upstream{
			Endpoint:   upstreamURL,
			APIKey:     "integration-key",
			AuthHeader: "api-key",
		},
		Retry:        config.Retry{MaxAttempts: 3},
		ErrorMarkers: config.DefaultErrorMarkers,
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.New(manager, logger)

	proxy := httptest.NewServer(srv.Handler())
	t.Cleanup(proxy.Close)

	return proxy
}

func TestIntegration_ShieldedRequestRoundTrip(t *testing.T) {
	var calls atomic.Int32

	clean := "data: {\"choices\":[{\"delta\":{\"content\":\"final\"}}]}\n\ndata: [DONE]\n\n"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First attempt carries an embedded error envelope and must be
		// discarded whole; only the second, clean body may reach the client.
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`data: {"error":{"message":"overloaded"}}` + "\n\n"))
			return
		}

		_, _ = w.Write([]byte(clean))
	}))
	defer upstream.Close()

	proxy := newStack(t, upstream.URL)

	resp, err := http.Post(proxy.URL+"/", "application/json", strings.NewReader(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, clean, string(body))
	assert.NotContains(t, string(body), "overloaded")
	assert.Equal(t, int32(2), calls.Load())
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestIntegration_ClientRequestIDIsEchoed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data: ok\n\n"))
	}))
	defer upstream.Close()

	proxy := newStack(t, upstream.URL)

	req, err := http.NewRequest(http.MethodPost, proxy.URL+"/", strings.NewReader(`{"model":"gpt-4"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", "client-chosen-id")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "client-chosen-id", resp.Header.Get("X-Request-Id"))
}

func TestIntegration_HealthEndpoint(t *testing.T) {
	proxy := newStack(t, "http://127.0.0.1:1")

	resp, err := http.Get(proxy.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
}

func TestIntegration_MetricsEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data: ok\n\n"))
	}))
	defer upstream.Close()

	proxy := newStack(t, upstream.URL)

	resp, err := http.Post(proxy.URL+"/", "application/json", strings.NewReader(`{"model":"gpt-4"}`))
	require.NoError(t, err)
	resp.Body.Close()

	metricsResp, err := http.Get(proxy.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()

	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
	assert.Contains(t, string(body), "llmshield_requests_total")
	assert.Contains(t, string(body), "llmshield_upstream_attempts_total")
}
