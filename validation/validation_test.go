package validation

import (
	"strings"
	"testing"

	"github.com/kbukum/localchat/errors"
)

type chatRequest struct {
	Message   string `json:"message" validate:"notblank,max=20,utf8"`
	SessionID string `json:"session_id,omitempty" validate:"omitempty,uuid"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name     string
		req      chatRequest
		wantErr  bool
		wantCode errors.ErrorCode
		field    string
	}{
		{"valid", chatRequest{Message: "Hello"}, false, "", ""},
		{"empty", chatRequest{Message: ""}, true, errors.ErrCodeMissingField, "message"},
		{"blank", chatRequest{Message: "   \n"}, true, errors.ErrCodeMissingField, "message"},
		{"too long", chatRequest{Message: strings.Repeat("a", 21)}, true, errors.ErrCodeInvalidInput, "message"},
		{"invalid utf8", chatRequest{Message: "\xff\xfe"}, true, errors.ErrCodeInvalidInput, "message"},
		{"bad uuid", chatRequest{Message: "hi", SessionID: "nope"}, true, errors.ErrCodeInvalidInput, "session_id"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.req)
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			appErr, ok := errors.AsAppError(err)
			if !ok {
				t.Fatalf("expected AppError, got %T", err)
			}
			if appErr.Code != tc.wantCode {
				t.Errorf("expected code %s, got %s", tc.wantCode, appErr.Code)
			}
			fields, _ := appErr.Details["fields"].([]FieldError)
			if len(fields) == 0 || fields[0].Field != tc.field {
				t.Errorf("expected field %q in details, got %v", tc.field, fields)
			}
		})
	}
}

func TestValidatorChain(t *testing.T) {
	err := New().
		Required("message", "hello").
		MaxBytes("message", "hello", 10).
		UTF8("message", "hello").
		NoControl("message", "line one\nline two").
		Validate()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidatorCollectsAllFailures(t *testing.T) {
	v := New().
		MaxBytes("message", "too long for this", 3).
		NoControl("message", "bell\a").
		Custom("mode", false, "is unsupported")

	if len(v.Errors()) != 3 {
		t.Fatalf("expected 3 errors, got %d", len(v.Errors()))
	}
	err := v.Validate()
	if err.Code != errors.ErrCodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %s", err.Code)
	}
	if !strings.Contains(err.Message, "mode: is unsupported") {
		t.Errorf("expected combined message, got %q", err.Message)
	}
}

func TestSingleMissingFieldCode(t *testing.T) {
	err := New().Required("message", " ").Validate()
	if err == nil || err.Code != errors.ErrCodeMissingField {
		t.Fatalf("expected MISSING_FIELD, got %v", err)
	}
	if err.HTTPStatus != 400 {
		t.Errorf("expected 400, got %d", err.HTTPStatus)
	}
}

func TestToSnakeCase(t *testing.T) {
	if got := toSnakeCase("SessionID"); got != "session_i_d" {
		t.Errorf("unexpected %q", got)
	}
	if got := toSnakeCase("Message"); got != "message" {
		t.Errorf("unexpected %q", got)
	}
}
