package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medassist/medassist/internal/config"
	"github.com/medassist/medassist/internal/domain/chat"
	"github.com/medassist/medassist/internal/domain/diagnosis"
	"github.com/medassist/medassist/internal/llm"
	"github.com/medassist/medassist/internal/platform/middleware"
	"github.com/medassist/medassist/internal/platform/telemetry"
	"github.com/medassist/medassist/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "medassist",
		Short: "MedAssist AI health assistant",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(diagnoseCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MedAssist API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() && !cfg.LogJSON {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newGenerator builds the configured backend. A nil Generator with a nil
// error means credentials are missing; the chat pipeline then answers every
// request with a configuration error.
func newGenerator(ctx context.Context, cfg *config.Config) (llm.Generator, error) {
	switch cfg.LLMBackend {
	case config.BackendMock:
		return llm.NewMock(40 * time.Millisecond), nil
	case config.BackendGemini, config.BackendVertex:
		return llm.NewGemini(ctx, llm.GeminiConfig{
			Backend:         cfg.LLMBackend,
			APIKey:          cfg.GeminiAPIKey,
			Project:         cfg.GCPProject,
			Location:        cfg.GCPLocation,
			Model:           cfg.ModelName,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
		})
	}
	return nil, errors.New("unknown LLM backend " + cfg.LLMBackend)
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		l := newLogger(nil)
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	logger := newLogger(cfg)

	credentialsMissing := false
	if err := cfg.Validate(); err != nil {
		if !errors.Is(err, config.ErrMissingCredentials) {
			logger.Fatal().Err(err).Msg("invalid configuration")
		}
		credentialsMissing = true
		logger.Error().Err(err).Msg("LLM backend is not configured; chat requests will fail until credentials are provided")
	}

	// LLM backend
	ctx := context.Background()
	var gen llm.Generator
	if !credentialsMissing {
		gen, err = newGenerator(ctx, cfg)
		if err != nil {
			logger.Error().Err(err).Str("backend", cfg.LLMBackend).Msg("failed to initialise LLM backend")
			gen = nil
		} else {
			logger.Info().Str("backend", cfg.LLMBackend).Str("model", cfg.ModelName).Msg("LLM backend ready")
		}
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	tp := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "medassist",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(tp.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders:  []string{"Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	limiter := middleware.RateLimit(rateLimitCfg)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", tp.PrometheusHandler())

	// Chat
	chatSvc := chat.NewService(gen, chat.Config{
		MaxMessageLen:    cfg.ChatMaxMessageLen,
		HistoryWindow:    cfg.ChatHistoryWindow,
		MinSuggestionLen: cfg.SuggestionMinLen,
		MaxSuggestionLen: cfg.SuggestionMaxLen,
		Throttle:         cfg.StreamThrottle,
	}, logger)
	chatHandler := chat.NewHandler(chatSvc, logger).WithRecorder(tp)
	chatHandler.RegisterRoutes(e, limiter)

	// Realtime widget
	hub := websocket.NewHub(logger)
	widget := chat.NewWidget(chatSvc, chat.SessionOptions{
		HistoryWindow: cfg.ChatHistoryWindow,
		MaxMessageLen: cfg.ChatMaxMessageLen,
		Parser:        chat.ParserOptions{Throttle: cfg.StreamThrottle},
	}, logger)
	wsHandler := websocket.NewWebSocketHandler(hub, widget, cfg.CORSOrigins)
	wsHandler.RegisterRoutes(e.Group(""))
	tp.GaugeFunc(telemetry.WebSocketClients, func() int64 { return int64(hub.ClientCount()) })
	tp.GaugeFunc(telemetry.WidgetSessions, func() int64 { return int64(widget.SessionCount()) })

	// Diagnoses
	apiV1 := e.Group("/api/v1", limiter)
	dxSvc := diagnosis.NewService(diagnosis.NewMemoryStore(), gen, hub, logger)
	diagnosis.NewHandler(dxSvc, logger).WithCounter(tp).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
