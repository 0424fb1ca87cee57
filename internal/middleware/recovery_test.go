package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestRecoveryMiddleware_PanicReturns500(t *testing.T) {
	handler := NewRecoveryMiddleware(newDiscardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("unexpected")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if got := decodeDetail(t, w); got != "Internal server error" {
		t.Errorf("detail = %q", got)
	}
}

func TestRecoveryMiddleware_LogsRequestAndUser(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	// Recovery → Logging → 認証済みハンドラーの順で、下流で記録したユーザーがpanicログに載ること
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recordUser(r.Context(), "alice@example.com")
		panic("boom")
	})
	handler := NewRecoveryMiddleware(logger)(NewLoggingMiddleware(newDiscardLogger())(inner))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat/sessions", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log %q: %v", buf.String(), err)
	}
	if entry["msg"] != "panic recovered" || entry["level"] != "ERROR" {
		t.Errorf("unexpected log entry: %v", entry)
	}
	if entry["method"] != http.MethodPost || entry["path"] != "/chat/sessions" {
		t.Errorf("method/path = %v %v", entry["method"], entry["path"])
	}
	if entry["email"] != "alice@example.com" {
		t.Errorf("email = %v, want alice@example.com", entry["email"])
	}
	if entry["panic"] != "boom" {
		t.Errorf("panic = %v", entry["panic"])
	}
	if s, _ := entry["stack"].(string); s == "" {
		t.Error("stack should be logged")
	}
}

func TestRecoveryMiddleware_AnonymousRequest_OmitsEmail(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log %q: %v", buf.String(), err)
	}
	if _, ok := entry["email"]; ok {
		t.Errorf("email should be omitted, got %v", entry["email"])
	}
}

func TestRecoveryMiddleware_AbortHandler_Repanics(t *testing.T) {
	handler := NewRecoveryMiddleware(newDiscardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recover() = %v, want http.ErrAbortHandler", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	t.Error("ServeHTTP should re-panic with http.ErrAbortHandler")
}

func TestRecoveryMiddleware_NoPanic_PassesThrough(t *testing.T) {
	handler := NewRecoveryMiddleware(newDiscardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
}
