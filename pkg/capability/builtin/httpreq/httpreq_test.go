package httpreq_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasklane/tasklane/pkg/capability/builtin/httpreq"
)

func TestHTTPRequestHandlerIdentity(t *testing.T) {
	t.Parallel()

	handler := httpreq.NewHandler(slog.Default())

	assert.Equal(t, "core", handler.Capability())
	assert.Equal(t, "http_request", handler.Action())
}

func TestHTTPRequestGet(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	t.Cleanup(server.Close)

	handler := httpreq.NewHandler(slog.Default())

	output, err := handler.Execute(t.Context(), map[string]any{"url": server.URL})
	require.NoError(t, err)

	result, ok := output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, result["status_code"])
	assert.Equal(t, map[string]any{"ok": true}, result["body"])
}

func TestHTTPRequestPostWithBodyAndHeaders(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var payload map[string]any

		require.NoError(t, json.Unmarshal(raw, &payload))
		assert.Equal(t, "ord-1", payload["order_id"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "rcpt-9"}`))
	}))
	t.Cleanup(server.Close)

	handler := httpreq.NewHandler(slog.Default())

	output, err := handler.Execute(t.Context(), map[string]any{
		"url":     server.URL,
		"method":  "post",
		"body":    map[string]any{"order_id": "ord-1"},
		"headers": map[string]any{"X-Api-Key": "secret"},
	})
	require.NoError(t, err)

	result, ok := output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusCreated, result["status_code"])
}

func TestHTTPRequestErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	handler := httpreq.NewHandler(slog.Default())

	_, err := handler.Execute(t.Context(), map[string]any{"url": server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestHTTPRequestMissingURL(t *testing.T) {
	t.Parallel()

	handler := httpreq.NewHandler(slog.Default())

	_, err := handler.Execute(t.Context(), map[string]any{})
	assert.ErrorIs(t, err, httpreq.ErrMissingURL)
}
