package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// DefaultTimeoutSkipPrefixes are the long-lived endpoints that must not be
// cut off: the streamed chat reply and the websocket channel.
var DefaultTimeoutSkipPrefixes = []string{"/chat-stream", "/ws/"}

// RequestTimeout sets a deadline on each request context. If the handler
// has not finished when it expires, a 504 is returned. Paths starting with
// one of skip are left alone. A non-positive timeout disables the
// middleware.
func RequestTimeout(timeout time.Duration, skip ...string) echo.MiddlewareFunc {
	if len(skip) == 0 {
		skip = DefaultTimeoutSkipPrefixes
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, p := range skip {
				if strings.HasPrefix(path, p) {
					return next(c)
				}
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				// Panics here escape the Recovery middleware's goroutine.
				defer func() {
					if r := recover(); r != nil {
						done <- echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("internal server error: %v", r))
					}
				}()
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					if c.Response().Committed {
						return nil
					}
					return echo.NewHTTPError(http.StatusGatewayTimeout, "request processing exceeded the allowed time limit")
				}
				// Client went away.
				return ctx.Err()
			}
		}
	}
}
