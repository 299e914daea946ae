package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/medassist/medassist/internal/llm"
)

// AssistantErrorMessage replaces a reply that failed for any reason other
// than cancellation.
const AssistantErrorMessage = "I'm sorry, I encountered an error while processing your request. Please try again."

var (
	// ErrStreamCancelled reports that the caller abandoned the stream. It is
	// never shown to the user.
	ErrStreamCancelled = errors.New("stream cancelled")

	// ErrRequestInFlight is returned when a session already has a reply
	// streaming.
	ErrRequestInFlight = errors.New("a response is already in progress")

	// ErrNothingToRetry is returned by Retry when no failed turn is pending.
	ErrNothingToRetry = errors.New("no failed message to retry")
)

// ValidationError reports bad caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// BackendConfigError reports that the generation backend is missing or
// misconfigured. Err is logged but never returned to clients.
type BackendConfigError struct {
	Err error
}

func (e *BackendConfigError) Error() string {
	return fmt.Sprintf("backend configuration: %v", e.Err)
}

func (e *BackendConfigError) Unwrap() error { return e.Err }

// BackendCapacityError reports that the backend is overloaded or out of
// quota.
type BackendCapacityError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *BackendCapacityError) Error() string {
	return fmt.Sprintf("backend capacity: %v", e.Err)
}

func (e *BackendCapacityError) Unwrap() error { return e.Err }

// MetadataParseError reports an unreadable metadata block. The parser
// recovers from it with empty suggestions.
type MetadataParseError struct {
	Raw string
	Err error
}

func (e *MetadataParseError) Error() string {
	return fmt.Sprintf("parse metadata: %v", e.Err)
}

func (e *MetadataParseError) Unwrap() error { return e.Err }

// classifyBackendError converts generator errors into the chat error
// taxonomy.
func classifyBackendError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStreamCancelled),
		errors.Is(err, context.Canceled),
		ctx.Err() != nil:
		return ErrStreamCancelled
	case errors.Is(err, llm.ErrNotConfigured):
		return &BackendConfigError{Err: err}
	case errors.Is(err, llm.ErrCapacity):
		return &BackendCapacityError{Err: err, RetryAfter: 30 * time.Second}
	}
	return fmt.Errorf("generate response: %w", err)
}

// HTTPStatus maps an error to the status returned by the chat endpoints.
func HTTPStatus(err error) int {
	var ve *ValidationError
	var ce *BackendCapacityError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ce):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRequestInFlight):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// UserMessage returns text that is safe to show an end user for err.
func UserMessage(err error) string {
	var ve *ValidationError
	var cfg *BackendConfigError
	var ce *BackendCapacityError
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &cfg):
		return "The assistant is not available right now. Please try again later."
	case errors.As(err, &ce):
		return "The assistant is busy. Please try again in a moment."
	case errors.Is(err, ErrRequestInFlight):
		return ErrRequestInFlight.Error()
	}
	return "Failed to generate a response."
}
