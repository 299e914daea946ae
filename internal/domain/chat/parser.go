package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultThrottle is the minimum interval between visible updates while a
// reply is streaming.
const DefaultThrottle = 50 * time.Millisecond

// ParserOptions configures a Parser.
type ParserOptions struct {
	// Throttle limits how often Feed asks for a redraw. Zero means
	// DefaultThrottle; a negative value disables throttling.
	Throttle time.Duration
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Snapshot is the displayable state of a reply after a Feed.
type Snapshot struct {
	Content   string
	Streaming bool
}

// Result is the final state of a reply.
type Result struct {
	Content     string
	Suggestions []string
	Metadata    *ResponseMetadata
	// Degraded is set when the stream ended without a metadata block.
	Degraded bool
	// MetadataErr holds the recovered metadata parse failure, if any.
	MetadataErr error
}

// Parser incrementally reconstructs a reply from the relayed text stream.
type Parser struct {
	opts     ParserOptions
	buf      strings.Builder
	split    int
	content  string
	lastEmit time.Time
	finished bool
	result   Result
}

// NewParser creates a Parser.
func NewParser(opts ParserOptions) *Parser {
	if opts.Throttle == 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Parser{opts: opts, split: -1}
}

// Feed appends chunk to the accumulator. The returned bool reports whether
// the snapshot should be rendered now; intermediate snapshots inside the
// throttle interval are skipped, but the snapshot produced when the sentinel
// is found is always returned for rendering.
func (p *Parser) Feed(chunk string) (Snapshot, bool) {
	if p.split >= 0 {
		p.buf.WriteString(chunk)
		return Snapshot{Content: p.content}, false
	}

	// The sentinel may straddle the previous chunk boundary.
	start := p.buf.Len() - len(MetadataSentinel) + 1
	if start < 0 {
		start = 0
	}
	p.buf.WriteString(chunk)
	acc := p.buf.String()

	if i := strings.Index(acc[start:], MetadataSentinel); i >= 0 {
		p.split = start + i
		p.content = strings.TrimSuffix(acc[:p.split], "\n")
		return Snapshot{Content: p.content}, true
	}

	now := p.opts.Now()
	if p.opts.Throttle > 0 && !p.lastEmit.IsZero() && now.Sub(p.lastEmit) < p.opts.Throttle {
		return Snapshot{Content: acc, Streaming: true}, false
	}
	p.lastEmit = now
	return Snapshot{Content: acc, Streaming: true}, true
}

// Finish returns the final reply. A missing sentinel yields a degraded
// result with the whole accumulator as content; unreadable metadata yields
// empty suggestions. Neither is an error.
func (p *Parser) Finish() Result {
	if p.finished {
		return p.result
	}
	p.finished = true

	acc := p.buf.String()
	if p.split < 0 {
		p.opts.Logger.Warn().Int("length", len(acc)).Msg("stream ended without metadata")
		p.result = Result{Content: acc, Suggestions: []string{}, Degraded: true}
		return p.result
	}

	p.result = Result{Content: p.content, Suggestions: []string{}}
	// Only the block up to a later sentinel is metadata; a model that echoes
	// the frame must not spoil the relay's own.
	raw := acc[p.split+len(MetadataSentinel):]
	if j := strings.Index(raw, MetadataSentinel); j >= 0 {
		raw = raw[:j]
	}
	raw = strings.TrimSpace(raw)
	var meta ResponseMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		perr := &MetadataParseError{Raw: raw, Err: err}
		p.opts.Logger.Warn().Err(perr).Str("raw", raw).Msg("discarding unreadable metadata")
		p.result.MetadataErr = perr
		return p.result
	}
	if meta.Suggestions != nil {
		p.result.Suggestions = meta.Suggestions
	}
	p.result.Metadata = &meta
	return p.result
}

// Consume feeds every text segment to p, calling onUpdate for each snapshot
// that should be rendered. It drains segs until closed. The first error
// segment aborts parsing and is returned; otherwise the parser's final
// Result is returned.
func Consume(segs <-chan Segment, p *Parser, onUpdate func(Snapshot)) (Result, error) {
	var streamErr error
	for seg := range segs {
		if streamErr != nil {
			continue
		}
		if seg.Err != nil {
			streamErr = seg.Err
			continue
		}
		if snap, ok := p.Feed(seg.Text); ok && onUpdate != nil {
			onUpdate(snap)
		}
	}
	if streamErr != nil {
		return Result{}, streamErr
	}
	return p.Finish(), nil
}
