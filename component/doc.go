// Package component defines the lifecycle contract shared by the long-lived
// parts of the service (the inference engine, the HTTP server) and a
// registry that starts them in order and stops them in reverse.
package component
