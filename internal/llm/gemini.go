package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"google.golang.org/genai"
)

// Backend names accepted by NewGemini.
const (
	BackendGemini = "gemini"
	BackendVertex = "vertex"
)

// GeminiConfig configures the Gemini client. APIKey is used with the
// Gemini API backend, Project and Location with Vertex AI.
type GeminiConfig struct {
	Backend         string
	APIKey          string
	Project         string
	Location        string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// Gemini streams completions from Google's Gemini models.
type Gemini struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGemini creates a Gemini-backed Generator.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{}
	switch cfg.Backend {
	case BackendVertex:
		if cfg.Project == "" || cfg.Location == "" {
			return nil, fmt.Errorf("%w: GCP_PROJECT and GCP_LOCATION must be set for vertex", ErrNotConfigured)
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	case BackendGemini, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY must be set", ErrNotConfigured)
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrNotConfigured, cfg.Backend)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	temp := cfg.Temperature
	gc := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: cfg.MaxOutputTokens,
	}

	return &Gemini{client: client, model: model, config: gc}, nil
}

// Stream implements Generator.
func (g *Gemini) Stream(ctx context.Context, req Request) (Stream, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	seq := g.client.Models.GenerateContentStream(ctx, g.model, contents, g.config)
	next, stop := iter.Pull2(seq)
	return &geminiStream{ctx: ctx, next: next, stop: stop}, nil
}

type geminiStream struct {
	ctx  context.Context
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func (s *geminiStream) Recv() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", classifyGenAIError(s.ctx, err)
		}
		if resp == nil {
			continue
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.stop()
	return nil
}

// classifyGenAIError maps upstream failures onto ErrCapacity and
// ErrNotConfigured so callers can choose a status without inspecting genai
// types.
func classifyGenAIError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var code int
	var status string
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, status = apiErr.Code, apiErr.Status
	case errors.As(err, &apiErrPtr):
		code, status = apiErrPtr.Code, apiErrPtr.Status
	default:
		return fmt.Errorf("gemini stream: %w", err)
	}

	switch {
	case code == http.StatusTooManyRequests, code == http.StatusServiceUnavailable,
		status == "RESOURCE_EXHAUSTED", status == "UNAVAILABLE":
		return fmt.Errorf("%w: %v", ErrCapacity, err)
	case code == http.StatusUnauthorized, code == http.StatusForbidden,
		status == "PERMISSION_DENIED", status == "UNAUTHENTICATED":
		return fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	return fmt.Errorf("gemini stream: %w", err)
}
