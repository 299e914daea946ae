package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medassist/medassist/internal/extract"
	"github.com/medassist/medassist/internal/llm"
	"github.com/medassist/medassist/internal/platform/websocket"
)

// Topic is the websocket topic diagnosis events are published on.
const Topic = "diagnoses"

const maxSymptomsLen = 5000

// ErrInvalid wraps every input validation failure.
var ErrInvalid = errors.New("invalid diagnosis request")

const analysisInstructions = `You are MedAssist, an AI health assistant producing a preliminary symptom analysis for a patient.
Structure your answer with these labelled parts:
Primary Diagnosis: <the single most likely condition>
Confidence: <a percentage such as 70%>
Recommendations:
- <one practical step per bullet>
Then add a short disclaimer that this is not medical advice and a doctor should confirm it.
End with a section headed exactly "Follow-up Questions:" containing 3-4 bullet lines.`

type Service struct {
	store  Store
	gen    llm.Generator
	pub    websocket.EventPublisher
	logger zerolog.Logger
}

// NewService wires a diagnosis Service. pub may be nil.
func NewService(store Store, gen llm.Generator, pub websocket.EventPublisher, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		gen:    gen,
		pub:    pub,
		logger: logger.With().Str("component", "diagnosis").Logger(),
	}
}

// BuildPrompt renders the analysis request for a symptom submission.
func BuildPrompt(req SubmitRequest) string {
	var b strings.Builder
	b.WriteString(analysisInstructions)
	b.WriteString("\n\nSymptoms: ")
	b.WriteString(strings.TrimSpace(req.Symptoms))
	if req.Age != nil {
		fmt.Fprintf(&b, "\nAge: %d", *req.Age)
	}
	if req.Duration != nil && *req.Duration != "" {
		b.WriteString("\nDuration: ")
		b.WriteString(*req.Duration)
	}
	if req.Category != nil && *req.Category != "" {
		b.WriteString("\nCategory: ")
		b.WriteString(*req.Category)
	}
	return b.String()
}

func validate(req SubmitRequest) error {
	if strings.TrimSpace(req.Symptoms) == "" {
		return fmt.Errorf("%w: symptoms is required", ErrInvalid)
	}
	if utf8.RuneCountInString(req.Symptoms) > maxSymptomsLen {
		return fmt.Errorf("%w: symptoms is too long", ErrInvalid)
	}
	if req.Age != nil && (*req.Age < 0 || *req.Age > 150) {
		return fmt.Errorf("%w: age must be between 0 and 150", ErrInvalid)
	}
	return nil
}

// Submit asks the backend for an analysis of the symptoms, extracts the
// structured fields from its reply and stores the resulting record.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Record, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if s.gen == nil {
		return nil, llm.ErrNotConfigured
	}

	text, err := s.generate(ctx, BuildPrompt(req))
	if err != nil {
		return nil, err
	}
	analysis := extract.Analyze(text)

	rec := &Record{
		ID:               uuid.New(),
		Symptoms:         strings.TrimSpace(req.Symptoms),
		Age:              req.Age,
		Duration:         req.Duration,
		Category:         req.Category,
		AIAnalysis:       text,
		PrimaryDiagnosis: analysis.PrimaryDiagnosis,
		ConfidenceLevel:  analysis.Confidence,
		Recommendations:  analysis.Recommendations,
		Suggestions:      analysis.Suggestions,
		Status:           StatusPending,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("store diagnosis: %w", err)
	}
	s.logger.Info().Str("diagnosis_id", rec.ID.String()).Int("confidence", rec.ConfidenceLevel).Msg("diagnosis created")
	s.publish(ctx, "diagnosis.created", rec)
	return rec, nil
}

func (s *Service) generate(ctx context.Context, prompt string) (string, error) {
	stream, err := s.gen.Stream(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("open analysis stream: %w", err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("read analysis stream: %w", err)
		}
		b.WriteString(chunk)
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	return s.store.List(ctx, limit, offset)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, p Patch) (*Record, error) {
	if p.Status != nil && !p.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrInvalid, *p.Status)
	}
	if p.ConfidenceLevel != nil && (*p.ConfidenceLevel < 0 || *p.ConfidenceLevel > 100) {
		return nil, fmt.Errorf("%w: confidenceLevel must be between 0 and 100", ErrInvalid)
	}
	rec, err := s.store.Update(ctx, id, p)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "diagnosis.updated", rec)
	return rec, nil
}

func (s *Service) publish(ctx context.Context, eventType string, rec *Record) {
	if s.pub == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode diagnosis event")
		return
	}
	err = s.pub.Publish(ctx, websocket.Event{
		Type:         eventType,
		Topic:        Topic,
		ResourceType: "Diagnosis",
		ResourceID:   rec.ID.String(),
		Timestamp:    time.Now().UTC(),
		Data:         data,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("type", eventType).Msg("failed to publish diagnosis event")
	}
}
