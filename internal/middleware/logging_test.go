package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func runLogged(t *testing.T, h http.HandlerFunc, target string) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	chain := chimiddleware.RequestID(Logger(logger)(h))
	chain.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("decoding log line %q: %v", buf.String(), err)
	}
	return rec
}

func TestLogger_RecordsResponse(t *testing.T) {
	rec := runLogged(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	}, "/register")

	if rec["status"] != float64(http.StatusCreated) {
		t.Errorf("status = %v", rec["status"])
	}
	if rec["bytes"] != float64(5) {
		t.Errorf("bytes = %v", rec["bytes"])
	}
	if rec["level"] != "INFO" {
		t.Errorf("level = %v", rec["level"])
	}
	if id, _ := rec["request_id"].(string); id == "" {
		t.Error("request_id missing")
	}
}

func TestLogger_DefaultStatus(t *testing.T) {
	rec := runLogged(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}, "/health")

	if rec["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v", rec["status"])
	}
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusUnauthorized, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}
	for _, tt := range tests {
		rec := runLogged(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}, "/me")
		if rec["level"] != tt.want {
			t.Errorf("status %d logged at %v, want %s", tt.status, rec["level"], tt.want)
		}
	}
}

func TestLogger_OmitsQuery(t *testing.T) {
	rec := runLogged(t, func(w http.ResponseWriter, _ *http.Request) {}, "/auth/google/callback?code=secret&state=s")

	if rec["path"] != "/auth/google/callback" {
		t.Errorf("path = %v", rec["path"])
	}
	line, _ := json.Marshal(rec)
	if strings.Contains(string(line), "secret") {
		t.Errorf("log line leaks the query: %s", line)
	}
}
