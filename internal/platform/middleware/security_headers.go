package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets the response headers every API response carries.
// Strict-Transport-Security is only sent when hsts is true, which the
// server enables in production where TLS terminates in front of it.
func SecurityHeaders(hsts bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			// Health questions and answers are never cached. Handlers may
			// override this.
			h.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}
