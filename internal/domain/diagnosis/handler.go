package diagnosis

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medassist/medassist/internal/llm"
	"github.com/medassist/medassist/internal/platform/telemetry"
	"github.com/medassist/medassist/pkg/pagination"
)

// Counter is the slice of the metrics provider the handler needs.
type Counter interface {
	Inc(name string, labels ...string)
}

type Handler struct {
	svc     *Service
	logger  zerolog.Logger
	metrics Counter
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) WithCounter(c Counter) *Handler {
	h.metrics = c
	return h
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/diagnoses", h.Submit)
	api.GET("/diagnoses", h.List)
	api.GET("/diagnoses/:id", h.Get)
	api.PATCH("/diagnoses/:id", h.Update)
}

func (h *Handler) Submit(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.svc.Submit(c.Request().Context(), req)
	if err != nil {
		return h.httpError(err)
	}
	if h.metrics != nil {
		h.metrics.Inc(telemetry.DiagnosesCreatedTotal)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p Patch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.svc.Update(c.Request().Context(), id, p)
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "diagnosis not found")
	case errors.Is(err, llm.ErrCapacity):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "The assistant is busy. Please try again in a moment.")
	}
	h.logger.Error().Err(err).Msg("diagnosis request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "failed to process diagnosis")
}
