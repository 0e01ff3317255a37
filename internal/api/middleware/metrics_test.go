package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/metrics", "/metrics"},
		{"/api/v1/records", "/api/v1/records"},
		{"/api/v1/records/", "/api/v1/records/"},
		{"/api/v1/records/5b1d2c9e-0b7c-4c55-9a25-3f54a3b0a6f1", "/api/v1/records/{id}"},
		{"/api/v1/records/abc/cold-storage", "/api/v1/records/{id}/cold-storage"},
		{"/api/v1/records/abc/retrieval", "/api/v1/records/{id}/retrieval"},
		{"/api/v1/records/abc/content/coldContent", "/api/v1/records/{id}/content/{field}"},
		{"/api/v1/records/abc/xyz/123", "/api/v1/records/{id}/other"},
		{"/api/v1/maintenance/reconcile", "/api/v1/maintenance/reconcile"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", tt.path, got, tt.want)
		}
	}
}

func TestLevelForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   slog.Level
	}{
		{http.StatusOK, slog.LevelInfo},
		{http.StatusFound, slog.LevelInfo},
		{http.StatusNotFound, slog.LevelWarn},
		{http.StatusServiceUnavailable, slog.LevelError},
	}
	for _, tt := range tests {
		if got := levelForStatus(tt.status); got != tt.want {
			t.Errorf("levelForStatus(%d) = %s, ожидалось %s", tt.status, got, tt.want)
		}
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := MetricsMiddleware()(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("недоступно"))
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/records/r1/retrieval", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ожидался 503, получен %d", rec.Code)
	}
	out := buf.String()
	for _, want := range []string{"level=ERROR", "status=503", "path=/api/v1/records/r1/retrieval", "bytes=20"} {
		if !strings.Contains(out, want) {
			t.Errorf("в журнале нет %q: %s", want, out)
		}
	}
}
