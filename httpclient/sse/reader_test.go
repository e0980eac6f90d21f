package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func readAll(t *testing.T, stream string) []Event {
	t.Helper()
	r := NewReader(io.NopCloser(strings.NewReader(stream)))
	defer r.Close()

	var out []Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, ev)
	}
}

func TestReaderEvents(t *testing.T) {
	events := readAll(t, ": keepalive\n\nevent: token\nid: 7\ndata: {\"content\":\"Hi\"}\n\ndata: line one\ndata: line two\n\n")
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Event != "token" || events[0].ID != "7" || events[0].Data != `{"content":"Hi"}` {
		t.Errorf("first = %+v", events[0])
	}
	if events[1].Data != "line one\nline two" {
		t.Errorf("second data = %q", events[1].Data)
	}
}

func TestReaderFinalEventWithoutBlankLine(t *testing.T) {
	events := readAll(t, "data: a\n\ndata:b")
	if len(events) != 2 || events[1].Data != "b" {
		t.Errorf("events = %+v", events)
	}
}

func TestReaderEmptyStream(t *testing.T) {
	if events := readAll(t, "\n\n: only comments\n\n"); len(events) != 0 {
		t.Errorf("events = %+v", events)
	}
}
