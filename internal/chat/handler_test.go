package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/localchat/errors"
	ssereader "github.com/kbukum/localchat/httpclient/sse"
	"github.com/kbukum/localchat/internal/engine"
	"github.com/kbukum/localchat/internal/engine/enginetest"
	"github.com/kbukum/localchat/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) (*gin.Engine, *Orchestrator) {
	t.Helper()
	o := newOrchestrator(t, enginetest.New(), Config{}, testContextSize)
	r := gin.New()
	NewHandler(o).Register(r)
	return r, o
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorCode {
	t.Helper()
	var body apperrors.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error.Code
}

func TestSendReturnsReply(t *testing.T) {
	r, o := newRouter(t)

	rec := do(r, http.MethodPost, "/chatbot", `{"message":"Hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp SendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Response != "Echo: Hello" {
		t.Errorf("response = %q", resp.Response)
	}
	if o.Session().Store.Len() != 2 {
		t.Errorf("turns = %d, want 2", o.Session().Store.Len())
	}
}

func TestSendRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode apperrors.ErrorCode
	}{
		{"not json", `message=hi`, apperrors.ErrCodeInvalidFormat},
		{"empty body", ``, apperrors.ErrCodeInvalidFormat},
		{"wrong type", `{"message":42}`, apperrors.ErrCodeInvalidFormat},
		{"missing message", `{}`, apperrors.ErrCodeMissingField},
		{"blank message", `{"message":"   "}`, apperrors.ErrCodeMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, o := newRouter(t)
			rec := do(r, http.MethodPost, "/chatbot", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if got := errorCode(t, rec); got != tt.wantCode {
				t.Errorf("code = %s, want %s", got, tt.wantCode)
			}
			if o.Session().Store.Len() != 0 {
				t.Error("store changed")
			}
		})
	}
}

func TestSendBodyTooLarge(t *testing.T) {
	r, _ := newRouter(t)
	limited := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		req.Body = http.MaxBytesReader(w, req.Body, 64)
		r.ServeHTTP(w, req)
	})

	rec := do(limited, http.MethodPost, "/chatbot", `{"message":"`+strings.Repeat("a", 200)+`"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	r, o := newRouter(t)
	do(r, http.MethodPost, "/chatbot", `{"message":"one"}`)
	do(r, http.MethodPost, "/chatbot", `{"message":"two"}`)

	rec := do(r, http.MethodGet, "/chatbot/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var h HistoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
		t.Fatal(err)
	}
	if h.SessionID != o.Session().ID {
		t.Errorf("session = %q", h.SessionID)
	}
	if len(h.Turns) != 4 || h.Turns[2].Content != "two" || h.Turns[3].Content != "Echo: two" {
		t.Errorf("turns = %+v", h.Turns)
	}
}

func TestIndexServesUI(t *testing.T) {
	r, _ := newRouter(t)
	rec := do(r, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "/chatbot") {
		t.Error("page does not call the chat API")
	}
}

func readEvents(t *testing.T, rec *httptest.ResponseRecorder) []ssereader.Event {
	t.Helper()
	r := ssereader.NewReader(io.NopCloser(strings.NewReader(rec.Body.String())))
	var out []ssereader.Event
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

func TestStreamSendsTokensThenDone(t *testing.T) {
	r, o := newRouter(t)

	rec := do(r, http.MethodPost, "/chatbot/stream", `{"message":"Hello there"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	events := readEvents(t, rec)
	if len(events) < 2 {
		t.Fatalf("events = %+v", events)
	}
	var text strings.Builder
	for _, ev := range events[:len(events)-1] {
		var tok TokenEvent
		if ev.Event != EventToken || json.Unmarshal([]byte(ev.Data), &tok) != nil {
			t.Fatalf("unexpected event %+v", ev)
		}
		text.WriteString(tok.Text)
	}
	last := events[len(events)-1]
	var done SendResponse
	if last.Event != EventDone || json.Unmarshal([]byte(last.Data), &done) != nil {
		t.Fatalf("last event = %+v", last)
	}
	if done.Response != "Echo: Hello there" || text.String() != done.Response {
		t.Errorf("done = %q, tokens = %q", done.Response, text.String())
	}
	if o.Session().Store.Len() != 2 {
		t.Errorf("turns = %d, want 2", o.Session().Store.Len())
	}
}

func TestStreamErrorBeforeFirstTokenIsJSON(t *testing.T) {
	f := enginetest.New()
	f.Reply = enginetest.Fail(errors.New("boom"))
	o := newOrchestrator(t, f, Config{}, testContextSize)
	r := gin.New()
	NewHandler(o).Register(r)

	rec := do(r, http.MethodPost, "/chatbot/stream", `{"message":"hi"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := errorCode(t, rec); got != apperrors.ErrCodeEngineError {
		t.Errorf("code = %s", got)
	}

	rec = do(r, http.MethodPost, "/chatbot/stream", `{"message":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank message status = %d", rec.Code)
	}
}

// brokenStream emits one piece and then fails.
type brokenStream struct{ *enginetest.Fake }

func (b brokenStream) InvokeStream(_ context.Context, _ engine.Request, onToken engine.TokenFunc) (engine.Completion, error) {
	onToken("Partial")
	return engine.Completion{}, engine.Wrap(engine.OpInvoke, io.ErrUnexpectedEOF)
}

func TestStreamErrorAfterTokensIsEvent(t *testing.T) {
	o, err := New(Config{}, brokenStream{enginetest.New()}, testContextSize, WithLogger(logger.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	r := gin.New()
	NewHandler(o).Register(r)

	rec := do(r, http.MethodPost, "/chatbot/stream", `{"message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	events := readEvents(t, rec)
	if len(events) != 2 || events[0].Event != EventToken || events[1].Event != EventError {
		t.Fatalf("events = %+v", events)
	}
	var body apperrors.ErrorResponse
	if err := json.Unmarshal([]byte(events[1].Data), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != apperrors.ErrCodeEngineError {
		t.Errorf("code = %s", body.Error.Code)
	}
	if o.Session().Store.Len() != 0 {
		t.Error("store changed")
	}
}
