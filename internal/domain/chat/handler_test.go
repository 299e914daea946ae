package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medassist/medassist/internal/llm"
	"github.com/medassist/medassist/internal/platform/telemetry"
)

func newTestHandler(gen llm.Generator) (*Handler, *echo.Echo) {
	e := echo.New()
	h := NewHandler(newTestService(gen), zerolog.Nop())
	h.RegisterRoutes(e)
	return h, e
}

func postChat(e *echo.Echo, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/chat-stream", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_StreamSuccess(t *testing.T) {
	_, e := newTestHandler(fluLikeMock())
	rec := postChat(e, `{"message":"I have a fever and body aches"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain, got %s", ct)
	}
	body := rec.Body.String()
	idx := strings.Index(body, "\n"+MetadataSentinel+"\n")
	if idx < 0 {
		t.Fatalf("expected metadata frame in body: %q", body)
	}
	if !strings.HasPrefix(body, "## Flu\n") {
		t.Errorf("expected generated text first, got %q", body[:20])
	}

	var meta ResponseMetadata
	if err := json.Unmarshal([]byte(body[idx+len(metadataFrame):]), &meta); err != nil {
		t.Fatalf("invalid metadata JSON: %v", err)
	}
	if !meta.Done || len(meta.Suggestions) != 2 {
		t.Errorf("unexpected metadata %+v", meta)
	}
}

func TestHandler_StreamValidation(t *testing.T) {
	_, e := newTestHandler(fluLikeMock())

	tests := []struct {
		name string
		body string
	}{
		{"empty message", `{"message":""}`},
		{"too long", `{"message":"` + strings.Repeat("a", 5001) + `"}`},
		{"malformed json", `{"message":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postChat(e, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestHandler_StreamBackendConfig(t *testing.T) {
	_, e := newTestHandler(&llm.Mock{OpenErr: errors.Join(llm.ErrNotConfigured, errors.New("GEMINI_API_KEY=secret-value rejected"))})
	rec := postChat(e, `{"message":"hello"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret-value") {
		t.Error("backend detail must not leak to the client")
	}
}

func TestHandler_StreamCapacity(t *testing.T) {
	_, e := newTestHandler(&llm.Mock{Err: llm.ErrCapacity})
	rec := postChat(e, `{"message":"hello"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestHandler_StreamMetrics(t *testing.T) {
	tp := telemetry.NewProvider(telemetry.Config{})
	h, e := newTestHandler(fluLikeMock())
	h.WithRecorder(tp)

	postChat(e, `{"message":"I have a fever"}`)
	postChat(e, `{"message":""}`)

	if got := tp.Counter(telemetry.ChatStreamsTotal, "outcome", "ok"); got != 1 {
		t.Errorf("expected 1 ok stream, got %d", got)
	}
	if got := tp.Counter(telemetry.ChatStreamsTotal, "outcome", "rejected"); got != 1 {
		t.Errorf("expected 1 rejected stream, got %d", got)
	}
	if got := tp.HistogramCount(telemetry.ChatFirstChunkSeconds); got != 1 {
		t.Errorf("expected one first-chunk observation, got %d", got)
	}
	if got := tp.Gauge(telemetry.ChatStreamsInFlight); got != 0 {
		t.Errorf("expected no streams in flight, got %d", got)
	}
}

func TestHandler_Health(t *testing.T) {
	h, e := newTestHandler(fluLikeMock())
	req := httptest.NewRequest(http.MethodGet, "/chat-health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Health(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "healthy" || body["service"] != "chat" || body["timestamp"] == "" {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	_, e := newTestHandler(fluLikeMock())
	want := map[string]bool{
		http.MethodPost + " /chat-stream": false,
		http.MethodGet + " /chat-health":  false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("expected route %s", k)
		}
	}
}

func TestClient_EndToEnd(t *testing.T) {
	_, e := newTestHandler(fluLikeMock())
	srv := httptest.NewServer(e)
	defer srv.Close()

	s := newTestSession(NewClient(srv.URL, srv.Client()))
	msg, err := s.Submit(context.Background(), "I have a fever and body aches")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(msg.Content, "## Flu\n") || strings.Contains(msg.Content, MetadataSentinel) {
		t.Errorf("unexpected content %q", msg.Content)
	}
	if len(msg.Suggestions) != 2 {
		t.Errorf("expected 2 suggestions, got %v", msg.Suggestions)
	}
}

func TestClient_MidStreamFailureIsNotSuccess(t *testing.T) {
	m := &llm.Mock{Chunks: []string{"first ", "second ", "third"}, Err: errors.New("upstream reset"), FailAfter: 2}
	_, e := newTestHandler(m)
	srv := httptest.NewServer(e)
	defer srv.Close()

	s := newTestSession(NewClient(srv.URL, srv.Client()))
	msg, err := s.Submit(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected an error for a broken stream")
	}
	if !msg.Failed || msg.Content != AssistantErrorMessage {
		t.Errorf("expected failed message, got %+v", msg)
	}
}

func TestClient_StatusErrors(t *testing.T) {
	_, e := newTestHandler(&llm.Mock{Err: llm.ErrCapacity})
	srv := httptest.NewServer(e)
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client()).Open(context.Background(), ChatRequest{Message: "hi"})
	var capErr *BackendCapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected BackendCapacityError, got %v", err)
	}
	if capErr.RetryAfter == 0 {
		t.Error("expected Retry-After to be parsed")
	}
}
