// Package sse decodes a text/event-stream response body.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// maxLine bounds a single event line. llama-server puts a whole JSON
// object with timings on one data line.
const maxLine = 1 << 20

// Event is one dispatched server-sent event.
type Event struct {
	// Event is the "event:" field, empty for unnamed events.
	Event string
	// Data joins every "data:" line of the event with newlines.
	Data string
	ID   string
}

// Reader reads events from a stream. It is not safe for concurrent use.
type Reader struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
}

// NewReader reads events from body. Close releases body.
func NewReader(body io.ReadCloser) *Reader {
	s := bufio.NewScanner(body)
	s.Buffer(make([]byte, 0, 4096), maxLine)
	return &Reader{scanner: s, body: body}
}

// Next returns the next event, or io.EOF once the stream ends.
func (r *Reader) Next() (Event, error) {
	var ev Event
	var hasData bool

	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if hasData {
				return ev, nil
			}
			continue
		}
		// Comment, used for keep-alives.
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := parseLine(line)
		switch field {
		case "data":
			if hasData {
				ev.Data += "\n" + value
			} else {
				ev.Data, hasData = value, true
			}
		case "event":
			ev.Event = value
		case "id":
			ev.ID = value
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	// A final event without the trailing blank line still counts.
	if hasData {
		return ev, nil
	}
	return Event{}, io.EOF
}

// Close closes the underlying body.
func (r *Reader) Close() error {
	return r.body.Close()
}

func parseLine(line string) (field, value string) {
	field, value, found := strings.Cut(line, ":")
	if !found {
		return line, ""
	}
	return field, strings.TrimPrefix(value, " ")
}
