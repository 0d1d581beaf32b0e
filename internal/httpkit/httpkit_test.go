package httpkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := CORS(CORSOptions{AllowedOrigins: []string{"https://app.example.com, https://admin.example.com"}})(next)

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed origin", http.MethodGet, "https://app.example.com", http.StatusTeapot, "https://app.example.com"},
		{"second origin", http.MethodGet, "https://admin.example.com", http.StatusTeapot, "https://admin.example.com"},
		{"unknown origin", http.MethodGet, "https://evil.example.com", http.StatusTeapot, ""},
		{"preflight", http.MethodOptions, "https://app.example.com", http.StatusNoContent, "https://app.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/jobs", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("allow origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestCORSWildcard(t *testing.T) {
	h := CORS(CORSOptions{AllowedOrigins: []string{"*"}, AllowCredentials: true})(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anything.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "https://anything.example.com" {
		t.Errorf("expected origin echoed, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("expected credentials header")
	}
	if rec.Header().Get("Access-Control-Max-Age") != "600" {
		t.Errorf("unexpected max age %q", rec.Header().Get("Access-Control-Max-Age"))
	}
}

func TestWriteErr(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErr(rec, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "queue full", map[string]any{"retry_after": 30})

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
	var env ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Code != "RESOURCE_EXHAUSTED" || env.Error.Message != "queue full" {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	if !IsUniqueViolation(fmt.Errorf("insert: %w", unique)) {
		t.Error("wrapped 23505 should be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not unique")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Error("plain error is not unique")
	}
}
