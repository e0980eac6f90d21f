package httpclient

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/kbukum/localchat/httpclient/sse"
	"github.com/kbukum/localchat/resilience"
)

// StreamResponse is a response whose body is read incrementally.
type StreamResponse struct {
	StatusCode int
	Headers    map[string]string
	// SSE is set for text/event-stream responses, Body otherwise.
	SSE  *sse.Reader
	Body io.ReadCloser
}

// Close releases the response body.
func (r *StreamResponse) Close() error {
	if r.SSE != nil {
		return r.SSE.Close()
	}
	if r.Body != nil {
		return r.Body.Close()
	}
	return nil
}

// DoStream sends req and returns as soon as the response headers arrive.
// Config.Timeout does not apply; ctx bounds the whole stream. Retries are
// never applied, the circuit breaker only sees whether the stream opened.
func (c *Client) DoStream(ctx context.Context, req Request) (*StreamResponse, error) {
	if c.cb == nil {
		return c.openStream(ctx, req)
	}
	var resp *StreamResponse
	err := c.cb.Execute(func() error {
		var err error
		resp, err = c.openStream(ctx, req)
		return err
	})
	if err == resilience.ErrCircuitOpen {
		return nil, &Error{Code: ErrCodeUnavailable, Message: err.Error(), Retryable: true, Err: err}
	}
	return resp, err
}

func (c *Client) openStream(ctx context.Context, req Request) (*StreamResponse, error) {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	streamClient := &http.Client{Transport: c.http.Transport}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewTimeoutError(err)
		}
		return nil, NewConnectionError(err)
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, ClassifyStatusCode(resp.StatusCode, body)
	}

	out := &StreamResponse{StatusCode: resp.StatusCode, Headers: flatten(resp.Header)}
	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		out.SSE = sse.NewReader(resp.Body)
	} else {
		out.Body = resp.Body
	}
	return out, nil
}
