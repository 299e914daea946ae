package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client is a Source that reads replies from a remote /chat-stream
// endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the server at baseURL. A nil hc uses
// http.DefaultClient.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Open implements Source.
func (c *Client) Open(ctx context.Context, req ChatRequest) (<-chan Segment, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat-stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/plain")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrStreamCancelled
		}
		return nil, fmt.Errorf("post chat-stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	return ReadSegments(ctx, resp.Body), nil
}

// ReadSegments turns a streamed response body into relay segments. The body
// is closed when the returned channel closes.
func ReadSegments(ctx context.Context, body io.ReadCloser) <-chan Segment {
	out := make(chan Segment)
	go func() {
		defer close(out)
		defer body.Close()

		buf := make([]byte, 4096)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				out <- Segment{Text: string(buf[:n])}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					err = ErrStreamCancelled
				}
				out <- Segment{Err: err}
				return
			}
		}
	}()
	return out
}

func statusError(resp *http.Response) error {
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return &ValidationError{Field: "message", Message: payload.Message}
	case http.StatusServiceUnavailable:
		retry, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &BackendCapacityError{
			Err:        fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Message),
			RetryAfter: time.Duration(retry) * time.Second,
		}
	case http.StatusConflict:
		return ErrRequestInFlight
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Message)
}
