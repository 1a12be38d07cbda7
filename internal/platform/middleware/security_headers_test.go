package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSecurityHeaders(t *testing.T) {
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }

	for _, hsts := range []bool{true, false} {
		e := echo.New()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/clients", nil), rec)
		if err := SecurityHeaders(hsts)(ok)(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		expected := map[string]string{
			"X-Content-Type-Options":  "nosniff",
			"X-Frame-Options":         "DENY",
			"X-XSS-Protection":        "0",
			"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
			"Referrer-Policy":         "no-referrer",
			"Permissions-Policy":      "camera=(), microphone=(), geolocation=()",
			"Cache-Control":           "no-store",
		}
		for header, want := range expected {
			if got := rec.Header().Get(header); got != want {
				t.Errorf("%s = %q, want %q", header, got, want)
			}
		}

		got := rec.Header().Get("Strict-Transport-Security")
		if hsts && got != "max-age=31536000; includeSubDomains" {
			t.Errorf("expected HSTS header, got %q", got)
		}
		if !hsts && got != "" {
			t.Errorf("expected no HSTS header, got %q", got)
		}
	}
}
