package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/medassist/medassist/internal/llm"
)

// Source opens a relayed reply stream for a request. Service is the
// in-process implementation and Client the HTTP one.
type Source interface {
	Open(ctx context.Context, req ChatRequest) (<-chan Segment, error)
}

// Config holds the tunables of the chat pipeline.
type Config struct {
	MaxMessageLen    int
	HistoryWindow    int
	MinSuggestionLen int
	MaxSuggestionLen int
	Throttle         time.Duration
}

// Service turns chat requests into relayed generation streams.
type Service struct {
	gen    llm.Generator
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a chat Service backed by gen.
func NewService(gen llm.Generator, cfg Config, logger zerolog.Logger) *Service {
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = DefaultMaxMessageLen
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	return &Service{
		gen:    gen,
		cfg:    cfg,
		logger: logger.With().Str("component", "chat").Logger(),
		now:    time.Now,
	}
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Open validates req, composes the prompt and starts the backend stream.
// Errors raised before the first chunk (validation, configuration,
// capacity) are returned directly so callers can still pick a status code;
// later failures arrive as an error segment.
func (s *Service) Open(ctx context.Context, req ChatRequest) (<-chan Segment, error) {
	if s.gen == nil {
		return nil, &BackendConfigError{Err: llm.ErrNotConfigured}
	}

	prompt, err := ComposePrompt(PromptInput{
		Message:       req.Message,
		Category:      req.Category,
		History:       req.ConversationHistory,
		MaxHistory:    s.cfg.HistoryWindow,
		MaxMessageLen: s.cfg.MaxMessageLen,
	})
	if err != nil {
		return nil, err
	}

	stream, err := s.gen.Stream(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return nil, s.backendFailure(ctx, err)
	}

	primed, err := prime(stream)
	if err != nil {
		stream.Close()
		return nil, s.backendFailure(ctx, err)
	}

	category := req.Category
	if category == "" {
		category = DefaultCategory
	}
	return Relay(ctx, primed, RelayOptions{
		Category:         category,
		MinSuggestionLen: s.cfg.MinSuggestionLen,
		MaxSuggestionLen: s.cfg.MaxSuggestionLen,
		Now:              s.now,
		Logger:           s.logger,
	}), nil
}

func (s *Service) backendFailure(ctx context.Context, err error) error {
	err = classifyBackendError(ctx, err)
	var cfgErr *BackendConfigError
	switch {
	case errors.Is(err, ErrStreamCancelled):
	case errors.As(err, &cfgErr):
		s.logger.Error().Err(err).Msg("generation backend is misconfigured")
	default:
		s.logger.Warn().Err(err).Msg("generation backend failed")
	}
	return err
}

// primedStream replays a chunk that was read ahead of the relay.
type primedStream struct {
	llm.Stream
	first string
	err   error
	used  bool
}

func (p *primedStream) Recv() (string, error) {
	if !p.used {
		p.used = true
		return p.first, p.err
	}
	return p.Stream.Recv()
}

// prime reads the first chunk so that failures the backend reports lazily
// surface before any response bytes are committed.
func prime(stream llm.Stream) (llm.Stream, error) {
	first, err := stream.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("first chunk: %w", err)
	}
	return &primedStream{Stream: stream, first: first, err: err}, nil
}
