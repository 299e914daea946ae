package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medassist/medassist/internal/extract"
	"github.com/medassist/medassist/internal/llm"
)

// Segment is one unit delivered by the relay: either text to forward or a
// terminal error.
type Segment struct {
	Text string
	Err  error
}

// RelayOptions configures Relay.
type RelayOptions struct {
	Category         string
	MinSuggestionLen int
	MaxSuggestionLen int
	Now              func() time.Time
	Logger           zerolog.Logger
}

// Relay forwards every chunk of stream, in order and unmodified, on the
// returned channel. After normal completion it sends one final segment
// holding the metadata frame and closes the channel. On failure it sends a
// single error segment and closes; cancellation of ctx is reported as
// ErrStreamCancelled.
//
// The caller must drain the channel until it is closed.
func Relay(ctx context.Context, stream llm.Stream, opts RelayOptions) <-chan Segment {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MinSuggestionLen <= 0 {
		opts.MinSuggestionLen = extract.DefaultMinSuggestionLen
	}
	if opts.MaxSuggestionLen <= 0 {
		opts.MaxSuggestionLen = extract.DefaultMaxSuggestionLen
	}
	if opts.Category == "" {
		opts.Category = DefaultCategory
	}

	out := make(chan Segment)
	go func() {
		defer close(out)
		defer stream.Close()

		var full strings.Builder
		chunks := 0
		for {
			if ctx.Err() != nil {
				out <- Segment{Err: ErrStreamCancelled}
				return
			}
			chunk, err := stream.Recv()
			if ctx.Err() != nil {
				out <- Segment{Err: ErrStreamCancelled}
				return
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				err = classifyBackendError(ctx, err)
				opts.Logger.Error().Err(err).Int("chunks", chunks).Msg("stream relay failed")
				out <- Segment{Err: err}
				return
			}
			if chunk == "" {
				continue
			}
			full.WriteString(chunk)
			chunks++
			out <- Segment{Text: chunk}
		}

		meta := ResponseMetadata{
			Suggestions: extract.Suggestions(full.String(), opts.MinSuggestionLen, opts.MaxSuggestionLen),
			Done:        true,
			Timestamp:   opts.Now().UTC(),
			Category:    opts.Category,
		}
		data, err := json.Marshal(meta)
		if err != nil {
			out <- Segment{Err: err}
			return
		}
		opts.Logger.Debug().Int("chunks", chunks).Int("suggestions", len(meta.Suggestions)).Msg("stream relay completed")
		out <- Segment{Text: metadataFrame + string(data)}
	}()
	return out
}
