package chat

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medassist/medassist/internal/platform/telemetry"
)

// Recorder receives stream metrics. *telemetry.Provider satisfies it.
type Recorder interface {
	Inc(name string, labels ...string)
	Observe(name string, v float64, labels ...string)
	AddGauge(name string, delta int64)
}

type nopRecorder struct{}

func (nopRecorder) Inc(string, ...string)              {}
func (nopRecorder) Observe(string, float64, ...string) {}
func (nopRecorder) AddGauge(string, int64)             {}

// Handler serves the chat HTTP endpoints.
type Handler struct {
	svc     *Service
	logger  zerolog.Logger
	metrics Recorder
}

// NewHandler creates a Handler that records no metrics until WithRecorder.
func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger, metrics: nopRecorder{}}
}

// WithRecorder sets the metrics sink for stream outcomes.
func (h *Handler) WithRecorder(r Recorder) *Handler {
	if r != nil {
		h.metrics = r
	}
	return h
}

func (h *Handler) outcome(o string) {
	h.metrics.Inc(telemetry.ChatStreamsTotal, "outcome", o)
}

// RegisterRoutes mounts the chat endpoints. mw wraps the streaming
// endpoint only, which is where rate limiting belongs.
func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	e.POST("/chat-stream", h.Stream, mw...)
	e.GET("/chat-health", h.Health)
}

// Stream relays the generated reply as chunked text/plain. Failures before
// the first byte map to a status code; failures after it abort the
// connection so the client never mistakes a truncated body for a complete
// one.
func (h *Handler) Stream(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	start := time.Now()
	ctx := c.Request().Context()
	segs, err := h.svc.Open(ctx, req)
	if err != nil {
		h.outcome("rejected")
		return h.httpError(c, err)
	}

	h.metrics.AddGauge(telemetry.ChatStreamsInFlight, 1)
	defer h.metrics.AddGauge(telemetry.ChatStreamsInFlight, -1)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	var streamErr, writeErr error
	first := true
	for seg := range segs {
		if seg.Err != nil {
			streamErr = seg.Err
			continue
		}
		if writeErr != nil || streamErr != nil {
			continue
		}
		if _, writeErr = io.WriteString(res, seg.Text); writeErr == nil {
			res.Flush()
			if first {
				first = false
				h.metrics.Observe(telemetry.ChatFirstChunkSeconds, time.Since(start).Seconds())
			}
		}
	}

	switch {
	case streamErr == nil:
		h.outcome("ok")
		return nil
	case errors.Is(streamErr, ErrStreamCancelled):
		h.outcome("cancelled")
		h.logger.Debug().Msg("chat stream cancelled by client")
		return nil
	}
	h.outcome("failed")
	h.logger.Error().Err(streamErr).Msg("chat stream failed after headers were sent")
	panic(http.ErrAbortHandler)
}

// Health reports that the chat endpoint is up.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "chat",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) httpError(c echo.Context, err error) error {
	var cfgErr *BackendConfigError
	var capErr *BackendCapacityError
	switch {
	case errors.As(err, &cfgErr):
		h.logger.Error().Err(err).Msg("chat backend configuration error")
	case errors.As(err, &capErr):
		if capErr.RetryAfter > 0 {
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(capErr.RetryAfter.Seconds())))
		}
	case errors.Is(err, ErrStreamCancelled):
		return nil
	}
	return echo.NewHTTPError(HTTPStatus(err), UserMessage(err))
}
