package llm

import (
	"context"
	"io"
	"sync"
	"time"
)

// Mock is a scripted Generator used in development mode and tests.
type Mock struct {
	Chunks []string
	Delay  time.Duration
	// OpenErr is returned from Stream itself.
	OpenErr error
	// Err, when set, is returned by Recv after FailAfter chunks.
	Err       error
	FailAfter int

	mu      sync.Mutex
	prompts []string
}

// NewMock returns a Mock that replies with a canned medical answer.
func NewMock(delay time.Duration) *Mock {
	return &Mock{Chunks: DefaultMockReply(), Delay: delay}
}

// DefaultMockReply is the canned response streamed by NewMock.
func DefaultMockReply() []string {
	return []string{
		"## Possible causes\n",
		"Your symptoms are **commonly** associated with a viral infection ",
		"such as the common cold or seasonal flu.\n\n",
		"## Recommendations\n",
		"- Rest and stay hydrated\n",
		"- Monitor your temperature twice a day\n\n",
		"*This is general information and not medical advice. ",
		"Please consult a healthcare professional.*\n\n",
		"**Follow-up Questions:**\n",
		"- How long have you had these symptoms?\n",
		"- Do you have a fever above 38°C?\n",
		"- Are you taking any medication right now?\n",
	}
}

// Stream implements Generator.
func (m *Mock) Stream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, req.Prompt)
	m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	return &mockStream{ctx: ctx, m: m}, nil
}

// Prompts returns every prompt passed to Stream so far.
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

type mockStream struct {
	ctx context.Context
	m   *Mock
	pos int
}

func (s *mockStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.m.Err != nil && s.pos >= s.m.FailAfter {
		return "", s.m.Err
	}
	if s.pos >= len(s.m.Chunks) {
		return "", io.EOF
	}
	if s.m.Delay > 0 {
		t := time.NewTimer(s.m.Delay)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return "", s.ctx.Err()
		case <-t.C:
		}
	}
	chunk := s.m.Chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *mockStream) Close() error { return nil }
