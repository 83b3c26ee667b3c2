package middleware

import (
	"net/http"
	"testing"
)

func TestSecurityHeaders_SetsHeaders(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/api/v1/claims", "")

	if err := SecurityHeaders(false)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("did not expect HSTS when disabled")
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/", "")

	SecurityHeaders(true)(okHandler)(c)
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS header")
	}
}
