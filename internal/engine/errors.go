package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCompletion is returned when the engine produced no text.
	ErrEmptyCompletion = errors.New("engine returned an empty completion")
	// ErrNotReady is returned by calls made before the engine is loaded.
	ErrNotReady = errors.New("engine is not ready")
	// ErrModelNotFound is returned when the model file does not exist.
	ErrModelNotFound = errors.New("model file not found")
)

// Operations reported in Error.Op.
const (
	OpLoad     = "load"
	OpPrime    = "prime"
	OpInvoke   = "invoke"
	OpTokenize = "tokenize"
)

// Error is a failed engine operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err as an *Error for op. Nil stays nil and an existing
// *Error is returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsEngineError reports whether err came from the engine.
func IsEngineError(err error) bool {
	var ee *Error
	return errors.As(err, &ee)
}
