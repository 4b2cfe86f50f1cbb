package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerEmitsCloudLoggingFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Component: "atlas-api", Level: "debug", Output: &buf})
	require.NoError(t, err)

	logger.Warn("counter contended", zap.Int("attempt", 2))
	require.NoError(t, logger.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "WARNING", entry["severity"])
	require.Equal(t, "counter contended", entry["message"])
	require.Equal(t, "atlas-api", entry["component"])
	require.Contains(t, entry, "timestamp")
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(Config{Level: "loud"})
	require.Error(t, err)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(RequestLogger(base))
	router.Get("/settings/asset-tags/next", func(w http.ResponseWriter, r *http.Request) {
		logger, ok := FromContext(r.Context())
		require.True(t, ok)
		logger.Info("inside handler")
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/settings/asset-tags/next", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "inside handler", entries[0].Message)
	require.NotEmpty(t, entries[0].ContextMap()["request_id"])

	completed := entries[1]
	require.Equal(t, zap.ErrorLevel, completed.Level)
	require.Equal(t, int64(http.StatusServiceUnavailable), completed.ContextMap()["status"])
	require.Equal(t, "/settings/asset-tags/next", completed.ContextMap()["route"])
	require.True(t, strings.HasPrefix(completed.ContextMap()["http_method"].(string), "GET"))
}

func TestFromRequestFallback(t *testing.T) {
	fallback := zap.NewNop()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Same(t, fallback, FromRequest(req, fallback))
}
