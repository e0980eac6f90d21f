package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Event names shared by streaming endpoints.
const (
	EventMessage = "message"
	EventError   = "error"
	EventDone    = "done"
)

// ErrStreamingUnsupported is returned when the response cannot be flushed.
var ErrStreamingUnsupported = errors.New("sse: streaming not supported")

// Writer sends events on one response. It is safe for concurrent use so
// that keep-alives can interleave with events.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
}

// NewWriter sets the event-stream headers on w. Nothing is written until
// the first event, so the status can still be changed by the caller.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	// Streams outlive the server WriteTimeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // nginx
	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one event with v encoded as JSON, or as-is when v is a
// string. After the first failed write every call returns that error.
func (s *Writer) Send(event string, v any) error {
	var data string
	switch d := v.(type) {
	case string:
		data = d
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("sse: encode %s event: %w", event, err)
		}
		data = string(b)
	}

	var b strings.Builder
	if event != "" {
		b.WriteString("event: " + event + "\n")
	}
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")
	return s.write(b.String())
}

// Comment writes a comment line, which clients ignore.
func (s *Writer) Comment(text string) error {
	return s.write(": " + text + "\n\n")
}

// KeepAlive writes a comment every interval until the returned func is
// called. Proxies drop idle connections, typically after 60s.
func (s *Writer) KeepAlive(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-t.C:
				if s.Comment(fmt.Sprintf("keepalive %d", now.Unix())) != nil {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

// Err returns the first write error, if any.
func (s *Writer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Writer) write(chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, err := s.w.Write([]byte(chunk)); err != nil {
		s.err = err
		return err
	}
	s.flusher.Flush()
	return nil
}
