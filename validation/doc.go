// Package validation checks request payloads and turns failures into
// errors.AppError values with per-field details.
//
// Struct tags are handled by go-playground/validator; the programmatic
// Validator covers checks that tags cannot express.
package validation
