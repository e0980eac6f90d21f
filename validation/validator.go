package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kbukum/localchat/errors"
)

// FieldError is a validation failure on one field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator accumulates field errors from chained checks.
//
//	if err := validation.New().Required("message", msg).MaxBytes("message", msg, 8192).Validate(); err != nil {
//	    return err
//	}
type Validator struct {
	errs []FieldError
}

// New creates an empty Validator.
func New() *Validator {
	return &Validator{}
}

// AddError records a failure for field.
func (v *Validator) AddError(field, message string) {
	v.errs = append(v.errs, FieldError{Field: field, Message: message})
}

// HasErrors reports whether any check failed.
func (v *Validator) HasErrors() bool { return len(v.errs) > 0 }

// Errors returns the recorded failures in order.
func (v *Validator) Errors() []FieldError { return v.errs }

// Validate returns nil when every check passed. A single missing field is
// reported as MISSING_FIELD; anything else as INVALID_INPUT with all fields
// listed in details.
func (v *Validator) Validate() *errors.AppError {
	if !v.HasErrors() {
		return nil
	}
	if len(v.errs) == 1 && v.errs[0].Message == "is required" {
		return errors.MissingField(v.errs[0].Field).WithDetail("fields", v.errs)
	}

	msgs := make([]string, len(v.errs))
	for i, e := range v.errs {
		msgs[i] = e.Field + ": " + e.Message
	}
	return errors.Validation(strings.Join(msgs, "; ")).WithDetail("fields", v.errs)
}

// Required fails when value is empty or whitespace.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
	return v
}

// MaxBytes fails when value is longer than max bytes.
func (v *Validator) MaxBytes(field, value string, max int) *Validator {
	if max > 0 && len(value) > max {
		v.AddError(field, fmt.Sprintf("must be at most %d bytes", max))
	}
	return v
}

// UTF8 fails when value is not valid UTF-8.
func (v *Validator) UTF8(field, value string) *Validator {
	if !utf8.ValidString(value) {
		v.AddError(field, "must be valid UTF-8")
	}
	return v
}

// NoControl fails when value contains control characters other than
// newline, carriage return or tab.
func (v *Validator) NoControl(field, value string) *Validator {
	for _, r := range value {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' || r == 0x7f {
			v.AddError(field, "must not contain control characters")
			break
		}
	}
	return v
}

// Custom records message when ok is false.
func (v *Validator) Custom(field string, ok bool, message string) *Validator {
	if !ok {
		v.AddError(field, message)
	}
	return v
}
