package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	Category      string
	HistoryWindow int
	MaxMessageLen int
	Parser        ParserOptions
	// OnUpdate receives a copy of the assistant message every time it is
	// rendered, including the final state.
	OnUpdate func(StreamedMessage)
	// OnDiscard is called with the id of a message dropped by cancellation.
	OnDiscard func(uuid.UUID)
	Logger    zerolog.Logger
}

// Session is one user's conversation. It owns the history window and
// allows a single reply in flight at a time.
type Session struct {
	src  Source
	opts SessionOptions

	mu         sync.Mutex
	history    *History
	messages   []*StreamedMessage
	processing bool
	cancel     context.CancelFunc
	pending    string
	hasPending bool
	failedID   uuid.UUID
}

// NewSession creates a Session that reads replies from src.
func NewSession(src Source, opts SessionOptions) *Session {
	return &Session{
		src:     src,
		opts:    opts,
		history: NewHistory(opts.HistoryWindow),
	}
}

// Submit sends message and blocks until the reply is final, failed or
// cancelled. The user turn enters history immediately; the assistant turn
// only once the reply is final. A cancelled reply returns
// ErrStreamCancelled and leaves no trace besides the user turn.
func (s *Session) Submit(ctx context.Context, message string) (StreamedMessage, error) {
	if err := ValidateMessage(message, s.opts.MaxMessageLen); err != nil {
		return StreamedMessage{}, err
	}

	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return StreamedMessage{}, ErrRequestInFlight
	}
	prior := s.history.Turns()
	s.history.Append(ChatTurn{Role: RoleUser, Content: message})
	s.hasPending = false
	ctx, msg := s.begin(ctx)
	s.mu.Unlock()

	s.notify(msg)
	return s.run(ctx, msg, s.request(message, prior))
}

// Retry resubmits the last failed or cancelled user message without adding
// it to history a second time.
func (s *Session) Retry(ctx context.Context) (StreamedMessage, error) {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return StreamedMessage{}, ErrRequestInFlight
	}
	if !s.hasPending {
		s.mu.Unlock()
		return StreamedMessage{}, ErrNothingToRetry
	}
	message := s.pending
	s.removeLocked(s.failedID)

	prior := s.history.Turns()
	if n := len(prior); n > 0 && prior[n-1].Role == RoleUser && prior[n-1].Content == message {
		prior = prior[:n-1]
	} else {
		s.history.Append(ChatTurn{Role: RoleUser, Content: message})
	}
	s.hasPending = false
	ctx, msg := s.begin(ctx)
	s.mu.Unlock()

	s.notify(msg)
	return s.run(ctx, msg, s.request(message, prior))
}

// Cancel aborts the reply in flight. It reports whether there was one.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Restore loads previously saved turns, truncated to the history window.
func (s *Session) Restore(turns []ChatTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Load(turns)
}

// History returns the retained turns.
func (s *Session) History() []ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Turns()
}

// Messages returns copies of the assistant messages shown so far.
func (s *Session) Messages() []StreamedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StreamedMessage, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *m)
	}
	return out
}

// Processing reports whether a reply is in flight.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

func (s *Session) request(message string, prior []ChatTurn) ChatRequest {
	return ChatRequest{
		Message:             message,
		Category:            s.opts.Category,
		ConversationHistory: prior,
	}
}

// begin must be called with s.mu held.
func (s *Session) begin(parent context.Context) (context.Context, *StreamedMessage) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.processing = true
	msg := &StreamedMessage{
		ID:        uuid.New(),
		Sender:    RoleAssistant,
		Streaming: true,
		CreatedAt: time.Now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return ctx, msg
}

func (s *Session) run(ctx context.Context, msg *StreamedMessage, req ChatRequest) (StreamedMessage, error) {
	defer func() {
		s.mu.Lock()
		s.processing = false
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	parser := NewParser(s.opts.Parser)
	segs, err := s.src.Open(ctx, req)
	var res Result
	if err == nil {
		res, err = Consume(segs, parser, func(snap Snapshot) {
			s.mu.Lock()
			msg.Content = snap.Content
			if !snap.Streaming {
				msg.Streaming = false
			}
			c := *msg
			s.mu.Unlock()
			s.notify(&c)
		})
	}

	switch {
	case err == nil:
		return s.finalize(msg, res), nil
	case errors.Is(err, ErrStreamCancelled), errors.Is(err, context.Canceled), ctx.Err() != nil:
		s.mu.Lock()
		s.removeLocked(msg.ID)
		s.pending, s.hasPending, s.failedID = req.Message, true, uuid.Nil
		s.mu.Unlock()
		if s.opts.OnDiscard != nil {
			s.opts.OnDiscard(msg.ID)
		}
		return StreamedMessage{}, ErrStreamCancelled
	}

	s.opts.Logger.Error().Err(err).Str("message_id", msg.ID.String()).Msg("chat reply failed")
	s.mu.Lock()
	msg.Content = AssistantErrorMessage
	msg.Streaming = false
	msg.Failed = true
	msg.Suggestions = nil
	s.pending, s.hasPending, s.failedID = req.Message, true, msg.ID
	c := *msg
	s.mu.Unlock()
	s.notify(&c)
	return c, err
}

func (s *Session) finalize(msg *StreamedMessage, res Result) StreamedMessage {
	s.mu.Lock()
	msg.Content = res.Content
	msg.Suggestions = res.Suggestions
	msg.Streaming = false
	s.history.Append(ChatTurn{Role: RoleAssistant, Content: res.Content})
	c := *msg
	s.mu.Unlock()
	s.notify(&c)
	return c
}

// removeLocked must be called with s.mu held.
func (s *Session) removeLocked(id uuid.UUID) {
	if id == uuid.Nil {
		return
	}
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *Session) notify(msg *StreamedMessage) {
	if s.opts.OnUpdate == nil {
		return
	}
	s.opts.OnUpdate(*msg)
}
