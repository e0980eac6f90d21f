// Package server provides the HTTP server the chat API is served from: a
// Gin engine mounted on a ServeMux, wrapped in h2c and the standard
// middleware stack.
//
// # Middleware
//
// Applied around every route (server/middleware):
//
//   - Recovery: turns panics into a JSON INTERNAL_ERROR response
//   - RequestID: X-Request-Id generation and propagation into the context
//   - CORS: cross-origin headers and OPTIONS preflight
//   - BodySizeLimit: request body cap
//   - RequestLogger: one structured line per request
//
// # Endpoints
//
// Registered by RegisterDefaultEndpoints (server/endpoint):
//
//   - /health: component health aggregation
//   - /info: build and runtime information
package server
