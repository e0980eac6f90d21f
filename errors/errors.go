package errors

import (
	"fmt"
	"net/http"
)

// AppError is the unified application error type.
type AppError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Retryable  bool           `json:"retryable"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets one detail entry and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithDetails merges details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	for k, v := range details {
		e.WithDetail(k, v)
	}
	return e
}

// New creates an AppError whose retryable flag follows the code.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- input ---

// Validation reports a request that failed validation.
func Validation(message string) *AppError {
	return New(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

// InvalidInput reports a single bad field.
func InvalidInput(field, reason string) *AppError {
	e := New(ErrCodeInvalidInput, fmt.Sprintf("Invalid input: %s", reason), http.StatusBadRequest)
	if field != "" {
		e.WithDetail("field", field)
	}
	return e
}

// MissingField reports an absent or blank required field.
func MissingField(field string) *AppError {
	return New(ErrCodeMissingField, fmt.Sprintf("Missing required field: %s", field), http.StatusBadRequest).
		WithDetail("field", field)
}

// InvalidFormat reports a field that does not match its expected format.
func InvalidFormat(field, expected string) *AppError {
	return New(ErrCodeInvalidFormat, fmt.Sprintf("Invalid format for %s. Expected: %s", field, expected), http.StatusBadRequest).
		WithDetails(map[string]any{"field": field, "expected_format": expected})
}

// NotFound reports a missing resource.
func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("The requested %s was not found.", resource), http.StatusNotFound).
		WithDetail("resource", resource)
}

// --- inference ---

// ContextOverflow reports a turn that cannot fit the context window even
// with all history dropped.
func ContextOverflow(required, budget int) *AppError {
	return New(ErrCodeContextOverflow,
		"The message is too long for the model context window.", http.StatusBadRequest).
		WithDetails(map[string]any{"required_tokens": required, "budget_tokens": budget})
}

// EngineError reports a failed inference or cache priming call.
func EngineError(cause error) *AppError {
	return New(ErrCodeEngineError, "The inference engine failed to produce a reply. Please try again.",
		http.StatusInternalServerError).WithCause(cause)
}

// EngineBusy reports that another inference holds the engine.
func EngineBusy() *AppError {
	return New(ErrCodeEngineBusy, "The model is busy with another request. Please try again.",
		http.StatusServiceUnavailable)
}

// StartupFailed reports a component that could not start.
func StartupFailed(component string, cause error) *AppError {
	return New(ErrCodeStartupFailed, fmt.Sprintf("%s failed to start", component),
		http.StatusInternalServerError).WithDetail("component", component).WithCause(cause)
}

// --- availability / internal ---

// ServiceUnavailable reports a dependency that is temporarily down.
func ServiceUnavailable(service string) *AppError {
	return New(ErrCodeServiceUnavailable,
		fmt.Sprintf("The %s is temporarily unavailable. Please try again.", service),
		http.StatusServiceUnavailable).WithDetail("service", service)
}

// ConnectionFailed reports a dependency that could not be reached.
func ConnectionFailed(service string) *AppError {
	return New(ErrCodeConnectionFailed,
		fmt.Sprintf("Unable to connect to %s. Please verify the service is running.", service),
		http.StatusServiceUnavailable).WithDetail("service", service)
}

// Timeout reports an operation that ran out of time.
func Timeout(operation string) *AppError {
	return New(ErrCodeTimeout, "The request took too long. Please try again.", http.StatusGatewayTimeout).
		WithDetail("operation", operation)
}

// ExternalServiceError reports a failure returned by a dependency.
func ExternalServiceError(service string, cause error) *AppError {
	return New(ErrCodeExternalService,
		fmt.Sprintf("The %s service encountered an error. Please try again.", service),
		http.StatusBadGateway).WithDetail("service", service).WithCause(cause)
}

// Internal hides an unexpected failure behind a generic message.
func Internal(cause error) *AppError {
	return New(ErrCodeInternal, "An unexpected error occurred. Please try again or contact support.",
		http.StatusInternalServerError).WithCause(cause)
}
