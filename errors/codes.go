package errors

// ErrorCode is a machine-readable error code.
type ErrorCode string

// Availability errors.
const (
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeConnectionFailed   ErrorCode = "CONNECTION_FAILED"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
)

// Input errors.
const (
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField  ErrorCode = "MISSING_FIELD"
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
)

// Inference errors.
const (
	// ErrCodeContextOverflow means the instruction plus the current turn
	// cannot fit the model context window.
	ErrCodeContextOverflow ErrorCode = "CONTEXT_OVERFLOW"
	// ErrCodeEngineError means the inference engine failed or returned nothing usable.
	ErrCodeEngineError ErrorCode = "ENGINE_ERROR"
	// ErrCodeEngineBusy means another inference holds the engine.
	ErrCodeEngineBusy ErrorCode = "ENGINE_BUSY"
)

// Internal errors.
const (
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeStartupFailed   ErrorCode = "STARTUP_FAILED"
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeServiceUnavailable: true,
	ErrCodeConnectionFailed:   true,
	ErrCodeTimeout:            true,
	ErrCodeEngineError:        true,
	ErrCodeEngineBusy:         true,
	ErrCodeExternalService:    true,
}

// IsRetryableCode reports whether a request failing with code may succeed if repeated.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
