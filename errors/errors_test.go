package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNewFollowsRetryableCode(t *testing.T) {
	err := New(ErrCodeEngineBusy, "busy", http.StatusServiceUnavailable)
	if !err.Retryable {
		t.Error("expected ENGINE_BUSY to be retryable")
	}
	if err.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", err.HTTPStatus)
	}

	if New(ErrCodeInvalidInput, "bad", http.StatusBadRequest).Retryable {
		t.Error("expected INVALID_INPUT to be non-retryable")
	}
}

func TestConstructors(t *testing.T) {
	cause := fmt.Errorf("root")
	tests := []struct {
		name      string
		err       *AppError
		code      ErrorCode
		status    int
		retryable bool
	}{
		{"Validation", Validation("bad"), ErrCodeInvalidInput, 400, false},
		{"InvalidInput", InvalidInput("message", "too long"), ErrCodeInvalidInput, 400, false},
		{"MissingField", MissingField("message"), ErrCodeMissingField, 400, false},
		{"InvalidFormat", InvalidFormat("message", "utf-8"), ErrCodeInvalidFormat, 400, false},
		{"NotFound", NotFound("session"), ErrCodeNotFound, 404, false},
		{"ContextOverflow", ContextOverflow(5000, 4096), ErrCodeContextOverflow, 400, false},
		{"EngineError", EngineError(cause), ErrCodeEngineError, 500, true},
		{"EngineBusy", EngineBusy(), ErrCodeEngineBusy, 503, true},
		{"StartupFailed", StartupFailed("engine", cause), ErrCodeStartupFailed, 500, false},
		{"ServiceUnavailable", ServiceUnavailable("engine"), ErrCodeServiceUnavailable, 503, true},
		{"ConnectionFailed", ConnectionFailed("engine"), ErrCodeConnectionFailed, 503, true},
		{"Timeout", Timeout("invoke"), ErrCodeTimeout, 504, true},
		{"ExternalServiceError", ExternalServiceError("engine", cause), ErrCodeExternalService, 502, true},
		{"Internal", Internal(cause), ErrCodeInternal, 500, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Code != tc.code {
				t.Errorf("expected code %s, got %s", tc.code, tc.err.Code)
			}
			if tc.err.HTTPStatus != tc.status {
				t.Errorf("expected status %d, got %d", tc.status, tc.err.HTTPStatus)
			}
			if tc.err.Retryable != tc.retryable {
				t.Errorf("expected retryable=%v, got %v", tc.retryable, tc.err.Retryable)
			}
			if tc.err.Message == "" {
				t.Error("expected a message")
			}
		})
	}
}

func TestContextOverflowDetails(t *testing.T) {
	err := ContextOverflow(5000, 4096)
	if err.Details["required_tokens"] != 5000 || err.Details["budget_tokens"] != 4096 {
		t.Errorf("unexpected details %v", err.Details)
	}
}

func TestWithDetailsMerge(t *testing.T) {
	err := InvalidInput("message", "bad").WithDetails(map[string]any{"max": 10})
	if err.Details["field"] != "message" || err.Details["max"] != 10 {
		t.Errorf("unexpected details %v", err.Details)
	}
}

func TestErrorStringAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := EngineError(cause)

	if got := err.Error(); got != "ENGINE_ERROR: "+err.Message+" (cause: connection refused)" {
		t.Errorf("unexpected error string %q", got)
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if got := Validation("bad").Error(); got != "INVALID_INPUT: bad" {
		t.Errorf("unexpected error string %q", got)
	}
}

func TestToResponseHidesCause(t *testing.T) {
	err := EngineError(fmt.Errorf("secret internals"))
	data, jerr := json.Marshal(err.ToResponse())
	if jerr != nil {
		t.Fatal(jerr)
	}

	var decoded map[string]map[string]any
	if jerr := json.Unmarshal(data, &decoded); jerr != nil {
		t.Fatal(jerr)
	}
	body := decoded["error"]
	if body["code"] != string(ErrCodeEngineError) {
		t.Errorf("expected code ENGINE_ERROR, got %v", body["code"])
	}
	if body["retryable"] != true {
		t.Errorf("expected retryable true, got %v", body["retryable"])
	}
	if _, ok := body["cause"]; ok {
		t.Error("cause must not be serialized")
	}
}

func TestAsAppError(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", EngineBusy())
	got, ok := AsAppError(wrapped)
	if !ok || got.Code != ErrCodeEngineBusy {
		t.Errorf("expected ENGINE_BUSY through wrapping, got %v", got)
	}
	if _, ok := AsAppError(fmt.Errorf("plain")); ok {
		t.Error("expected false for a plain error")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}

	orig := MissingField("message")
	if Wrap(fmt.Errorf("ctx: %w", orig)) != orig {
		t.Error("expected the wrapped AppError back")
	}

	plain := fmt.Errorf("boom")
	got := Wrap(plain)
	if got.Code != ErrCodeInternal || got.Cause != plain {
		t.Errorf("expected INTERNAL_ERROR wrapping the cause, got %v", got)
	}
}
