// Package errors defines AppError, the single error type that crosses the
// HTTP boundary. It carries a machine-readable code, a client-safe message,
// a retryable flag and the HTTP status the code maps to.
//
// Lower layers return plain or typed errors; the layer that owns the
// request decides which AppError they become.
package errors
