package api

import (
	"net/http/httptest"
	"testing"
)

func TestPlainWritesBareBody(t *testing.T) {
	w := httptest.NewRecorder()
	OK(w, "none:abc123")

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "none:abc123" {
		t.Fatalf("expected bare body, got %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type: %q", ct)
	}
}

func TestServiceUnavailableSetsStatus(t *testing.T) {
	w := httptest.NewRecorder()
	ServiceUnavailable(w, "maintenance")

	if w.Code != 503 {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w.Body.String() != "maintenance" {
		t.Fatalf("unexpected body: %q", w.Body.String())
	}
}
