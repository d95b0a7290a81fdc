package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoggingMiddleware_RecordsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/kv/customSections", nil)
	req = req.WithContext(ContextWithUserID(req.Context(), "user-1"))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログのJSONパースに失敗: %v", err)
	}

	if entry["method"] != "GET" {
		t.Errorf("method = %v, want GET", entry["method"])
	}
	if entry["path"] != "/api/kv/customSections" {
		t.Errorf("path = %v, want /api/kv/customSections", entry["path"])
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v, want %d", entry["status"], http.StatusOK)
	}
	if entry["user_id"] != "user-1" {
		t.Errorf("user_id = %v, want user-1", entry["user_id"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
}

func TestLoggingMiddleware_WarnOnClientError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/missing", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログのJSONパースに失敗: %v", err)
	}

	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	if entry["status"] != float64(http.StatusNotFound) {
		t.Errorf("status = %v, want %d", entry["status"], http.StatusNotFound)
	}
}

func TestLoggingMiddleware_ErrorOnServerError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/kv", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログのJSONパースに失敗: %v", err)
	}

	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
}

func TestStatusRecorder_DefaultsTo200OnWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec}

	if _, err := sr.Write([]byte("ok")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if sr.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want %d", sr.statusCode, http.StatusOK)
	}
}

func TestStatusRecorder_KeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec}

	sr.WriteHeader(http.StatusNotFound)
	sr.WriteHeader(http.StatusOK)

	if sr.statusCode != http.StatusNotFound {
		t.Errorf("statusCode = %d, want %d", sr.statusCode, http.StatusNotFound)
	}
}
