package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestIDGeneratesAndEchoes(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("expected a generated request id in the context")
	}
	if !strings.HasPrefix(seen, "req_") {
		t.Fatalf("unexpected id format: %q", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Fatalf("response header %q, context id %q", got, seen)
	}
}

func TestWithRequestIDReusesInboundHeader(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req_upstream")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "req_upstream" {
		t.Fatalf("expected inbound id to be reused, got %q", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "req_upstream" {
		t.Fatalf("response header = %q", got)
	}
}
