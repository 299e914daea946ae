package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medassist/medassist/internal/llm"
)

func fluLikeMock() *llm.Mock {
	return &llm.Mock{Chunks: []string{
		"## Flu\n",
		"**Fever** and body aches are common flu symptoms.\n\n",
		"Follow-up Questions:\n",
		"- How long does it last?\n",
		"- Should I get a flu test?\n",
	}}
}

func newTestService(gen llm.Generator) *Service {
	return NewService(gen, Config{}, zerolog.Nop())
}

func TestService_OpenRelaysWithMetadata(t *testing.T) {
	m := fluLikeMock()
	svc := newTestService(m)

	segs, err := svc.Open(context.Background(), ChatRequest{Message: "I have a fever and body aches"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	texts, errs := collect(segs)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	body := strings.Join(texts, "")
	if !strings.HasPrefix(body, strings.Join(m.Chunks, "")) {
		t.Error("expected relayed body to start with the generated text")
	}
	if !strings.Contains(body, `"category":"General Health"`) {
		t.Errorf("expected default category in metadata, got %s", body)
	}

	prompts := m.Prompts()
	if len(prompts) != 1 || !strings.Contains(prompts[0], "General Health") {
		t.Error("expected the composed prompt to be sent to the backend")
	}
}

func TestService_OpenRoundTripThroughParser(t *testing.T) {
	svc := newTestService(fluLikeMock())
	segs, err := svc.Open(context.Background(), ChatRequest{Message: "fever", Category: "Infectious Disease"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := Consume(segs, NewParser(ParserOptions{Throttle: -1, Logger: zerolog.Nop()}), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"How long does it last?", "Should I get a flu test?"}
	if len(res.Suggestions) != 2 || res.Suggestions[0] != want[0] || res.Suggestions[1] != want[1] {
		t.Errorf("expected %v, got %v", want, res.Suggestions)
	}
	if res.Metadata.Category != "Infectious Disease" {
		t.Errorf("expected category echoed, got %q", res.Metadata.Category)
	}
	if strings.Contains(res.Content, MetadataSentinel) {
		t.Error("content must not include the sentinel")
	}
}

func TestService_OpenValidation(t *testing.T) {
	m := fluLikeMock()
	svc := newTestService(m)
	_, err := svc.Open(context.Background(), ChatRequest{Message: ""})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(m.Prompts()) != 0 {
		t.Error("backend must not be called for invalid input")
	}
}

func TestService_OpenBackendErrors(t *testing.T) {
	tests := []struct {
		name  string
		mock  *llm.Mock
		check func(error) bool
	}{
		{
			name: "config on open",
			mock: &llm.Mock{OpenErr: llm.ErrNotConfigured},
			check: func(err error) bool {
				var e *BackendConfigError
				return errors.As(err, &e)
			},
		},
		{
			name: "capacity on first chunk",
			mock: &llm.Mock{Err: llm.ErrCapacity},
			check: func(err error) bool {
				var e *BackendCapacityError
				return errors.As(err, &e)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestService(tt.mock).Open(context.Background(), ChatRequest{Message: "hi"})
			if !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestService_NilGenerator(t *testing.T) {
	_, err := NewService(nil, Config{}, zerolog.Nop()).Open(context.Background(), ChatRequest{Message: "hi"})
	var e *BackendConfigError
	if !errors.As(err, &e) {
		t.Fatalf("expected BackendConfigError, got %v", err)
	}
}

func TestService_CancelledBeforeFirstChunk(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestService(fluLikeMock()).Open(ctx, ChatRequest{Message: "hi"})
	if !errors.Is(err, ErrStreamCancelled) {
		t.Fatalf("expected ErrStreamCancelled, got %v", err)
	}
}

func TestService_SuggestionBoundsFromConfig(t *testing.T) {
	svc := NewService(fluLikeMock(), Config{MinSuggestionLen: 1, MaxSuggestionLen: 22}, zerolog.Nop())
	segs, _ := svc.Open(context.Background(), ChatRequest{Message: "hi"})
	res, err := Consume(segs, NewParser(ParserOptions{Throttle: -1, Logger: zerolog.Nop()}), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Suggestions) != 1 || res.Suggestions[0] != "How long does it last?" {
		t.Errorf("expected only the short suggestion, got %v", res.Suggestions)
	}
}
