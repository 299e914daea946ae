// Package llm provides streaming text-generation backends.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured is returned when a backend is missing credentials or
	// was rejected for an authentication reason.
	ErrNotConfigured = errors.New("llm: backend not configured")

	// ErrCapacity is returned when the backend refuses work because of quota
	// or overload.
	ErrCapacity = errors.New("llm: backend capacity exhausted")
)

// Request is a single generation request.
type Request struct {
	Prompt string
}

// Stream yields generated text fragments. Recv returns io.EOF once the
// backend has finished normally.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Generator opens generation streams.
type Generator interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}
