package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func serveWithHeaders(hsts bool, h echo.HandlerFunc) *httptest.ResponseRecorder {
	e := echo.New()
	e.Use(SecurityHeaders(hsts))
	e.GET("/chat-health", h)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat-health", nil))
	return rec
}

func TestSecurityHeaders(t *testing.T) {
	rec := serveWithHeaders(false, func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for header, want := range map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("header %s: got %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must be off unless requested")
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	rec := serveWithHeaders(true, func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if got := rec.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("unexpected HSTS header %q", got)
	}
}

func TestSecurityHeaders_HandlerOverridesCaching(t *testing.T) {
	rec := serveWithHeaders(false, func(c echo.Context) error {
		c.Response().Header().Set("Cache-Control", "no-cache")
		return c.String(http.StatusOK, "chunk")
	})
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("expected handler value to win, got %q", got)
	}
}

func TestSecurityHeaders_ErrorResponses(t *testing.T) {
	rec := serveWithHeaders(false, func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on error responses")
	}
}
