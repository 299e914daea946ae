package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medassist/medassist/internal/domain/chat"
	"github.com/medassist/medassist/internal/domain/diagnosis"
	"github.com/medassist/medassist/internal/llm"
)

func init() {
	color.NoColor = true
}

func TestStreamPrinter_PrintsDeltas(t *testing.T) {
	var buf bytes.Buffer
	p := &streamPrinter{w: &buf}

	p.update(chat.StreamedMessage{Content: "Rest ", Streaming: true})
	p.update(chat.StreamedMessage{Content: "Rest and hydrate.\n", Streaming: true})
	p.update(chat.StreamedMessage{Content: "Rest and hydrate."})

	if got := buf.String(); got != "MedAssist: Rest and hydrate.\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestStreamPrinter_SkipsFailedMessages(t *testing.T) {
	var buf bytes.Buffer
	p := &streamPrinter{w: &buf}
	p.update(chat.StreamedMessage{Content: chat.AssistantErrorMessage, Failed: true})
	if buf.Len() != 0 {
		t.Errorf("expected nothing printed, got %q", buf.String())
	}
}

func TestConfidenceString(t *testing.T) {
	tests := map[int]string{85: "85%", 50: "50%", 10: "10%", 0: "unknown"}
	for level, want := range tests {
		if got := confidenceString(level); got != want {
			t.Errorf("confidenceString(%d) = %q, want %q", level, got, want)
		}
	}
}

func newDiagnosisServer(t *testing.T, gen llm.Generator) *httptest.Server {
	t.Helper()
	e := echo.New()
	svc := diagnosis.NewService(diagnosis.NewMemoryStore(), gen, nil, zerolog.Nop())
	diagnosis.NewHandler(svc, zerolog.Nop()).RegisterRoutes(e.Group("/api/v1"))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmitDiagnosis(t *testing.T) {
	srv := newDiagnosisServer(t, &llm.Mock{Chunks: []string{
		"Primary Diagnosis: Migraine\nConfidence: 80%\n\nRecommendations:\n- Rest in a dark room\n",
	}})

	rec, err := submitDiagnosis(context.Background(), srv.Client(), srv.URL+"/", diagnosis.SubmitRequest{Symptoms: "throbbing headache"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.PrimaryDiagnosis != "Migraine" || rec.ConfidenceLevel != 80 {
		t.Errorf("unexpected record %+v", rec)
	}

	var buf bytes.Buffer
	printDiagnosis(&buf, rec)
	out := buf.String()
	for _, want := range []string{"Primary diagnosis: Migraine", "Confidence: 80%", "Rest in a dark room", "not medical advice"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %s", want, out)
		}
	}
}

func TestSubmitDiagnosis_ServerError(t *testing.T) {
	srv := newDiagnosisServer(t, &llm.Mock{Chunks: []string{"ok"}})

	_, err := submitDiagnosis(context.Background(), srv.Client(), srv.URL, diagnosis.SubmitRequest{})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
}

func TestRunChat_EndToEnd(t *testing.T) {
	e := echo.New()
	svc := chat.NewService(&llm.Mock{Chunks: []string{
		"Drink fluids and rest.\n\n",
		"Follow-up Questions:\n- How high is your temperature today?\n",
	}}, chat.Config{Throttle: -1}, zerolog.Nop())
	chat.NewHandler(svc, zerolog.Nop()).RegisterRoutes(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var out bytes.Buffer
	in := strings.NewReader("I have a fever\n1\n/quit\n")
	if err := runChat(ctx, stop, srv.URL, chat.DefaultCategory, in, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := out.String()
	if strings.Count(got, "Drink fluids and rest.") != 2 {
		t.Errorf("expected two replies, got %s", got)
	}
	if !strings.Contains(got, "[1] How high is your temperature today?") {
		t.Errorf("expected numbered suggestion, got %s", got)
	}
	if !strings.Contains(got, "You: How high is your temperature today?") {
		t.Errorf("expected suggestion to be sent, got %s", got)
	}
	if strings.Contains(got, chat.MetadataSentinel) {
		t.Error("metadata sentinel must never be shown")
	}
}
