package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("prod", &buf)

	r := chi.NewRouter()
	r.Use(Middleware(l))
	r.Get("/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		From(r.Context()).Info("handler")
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/tasks/abc", nil)
	req.Header.Set(HeaderRequestID, "rid-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get(HeaderRequestID); got != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	var summary map[string]any
	if err := json.Unmarshal(lines[1], &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary["request_id"] != "rid-1" || summary["path"] != "/tasks/{id}" || summary["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected summary %v", summary)
	}
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	h := Middleware(Discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
}
