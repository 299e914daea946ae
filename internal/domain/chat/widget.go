package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medassist/medassist/internal/platform/websocket"
)

// Widget event types pushed to chat clients.
const (
	EventMessageUpdate    = "message.update"
	EventMessageFinal     = "message.final"
	EventMessageError     = "message.error"
	EventMessageDiscarded = "message.discarded"
	EventRequestRejected  = "request.rejected"
)

const widgetTopic = "chat"

// Widget runs one Session per WebSocket client, driving it from the
// client's send, cancel, retry and restore actions.
type Widget struct {
	src    Source
	opts   SessionOptions
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*widgetSession
}

type widgetSession struct {
	session *Session
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWidget creates a Widget whose sessions read replies from src. opts is
// the template for each session; its callbacks are replaced.
func NewWidget(src Source, opts SessionOptions, logger zerolog.Logger) *Widget {
	return &Widget{
		src:      src,
		opts:     opts,
		logger:   logger.With().Str("component", "chat-widget").Logger(),
		sessions: make(map[string]*widgetSession),
	}
}

// HandleAction implements websocket.ActionHandler.
func (w *Widget) HandleAction(client *websocket.Client, msg websocket.ClientMessage) {
	ws := w.session(client, msg.Category)

	switch msg.Action {
	case "send":
		go w.await(client, func() error {
			_, err := ws.session.Submit(ws.ctx, msg.Message)
			return err
		})
	case "retry":
		go w.await(client, func() error {
			_, err := ws.session.Retry(ws.ctx)
			return err
		})
	case "cancel":
		ws.session.Cancel()
	case "restore":
		var turns []ChatTurn
		if err := json.Unmarshal(msg.Data, &turns); err != nil {
			w.reject(client, &ValidationError{Field: "data", Message: "invalid history"})
			return
		}
		ws.session.Restore(turns)
	default:
		w.reject(client, &ValidationError{Field: "action", Message: "unknown action"})
	}
}

// Disconnect implements websocket.ActionHandler.
func (w *Widget) Disconnect(client *websocket.Client) {
	w.mu.Lock()
	ws, ok := w.sessions[client.ID]
	delete(w.sessions, client.ID)
	w.mu.Unlock()
	if ok {
		ws.cancel()
	}
}

// SessionCount returns the number of live widget sessions.
func (w *Widget) SessionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

func (w *Widget) session(client *websocket.Client, category string) *widgetSession {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ws, ok := w.sessions[client.ID]; ok {
		return ws
	}

	opts := w.opts
	if category != "" {
		opts.Category = category
	}
	opts.Logger = w.logger.With().Str("client_id", client.ID).Logger()
	opts.OnUpdate = func(m StreamedMessage) {
		eventType := EventMessageUpdate
		switch {
		case m.Failed:
			eventType = EventMessageError
		case !m.Streaming:
			eventType = EventMessageFinal
		}
		w.push(client, eventType, m.ID.String(), m)
	}
	opts.OnDiscard = func(id uuid.UUID) {
		w.push(client, EventMessageDiscarded, id.String(), nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ws := &widgetSession{session: NewSession(w.src, opts), ctx: ctx, cancel: cancel}
	w.sessions[client.ID] = ws
	return ws
}

func (w *Widget) await(client *websocket.Client, run func() error) {
	err := run()
	var ve *ValidationError
	switch {
	case err == nil, errors.Is(err, ErrStreamCancelled):
	case errors.As(err, &ve), errors.Is(err, ErrRequestInFlight), errors.Is(err, ErrNothingToRetry):
		w.reject(client, err)
	}
}

func (w *Widget) reject(client *websocket.Client, err error) {
	msg := UserMessage(err)
	if errors.Is(err, ErrNothingToRetry) {
		msg = err.Error()
	}
	w.push(client, EventRequestRejected, "", map[string]string{"error": msg})
}

func (w *Widget) push(client *websocket.Client, eventType, id string, payload any) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to encode widget event")
			return
		}
		data = b
	}
	err := client.SendEvent(websocket.Event{
		Type:         eventType,
		Topic:        widgetTopic,
		ResourceType: "Message",
		ResourceID:   id,
		Timestamp:    time.Now().UTC(),
		Data:         data,
	})
	if err != nil && !errors.Is(err, websocket.ErrClientClosed) {
		w.logger.Warn().Err(err).Str("client_id", client.ID).Str("type", eventType).Msg("widget event dropped")
	}
}
