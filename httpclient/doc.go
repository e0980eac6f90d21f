// Package httpclient is a small HTTP client with retry and circuit breaking
// from the resilience package and typed error classification.
//
//	c, err := httpclient.New(httpclient.Config{
//	    BaseURL:        "http://127.0.0.1:8081",
//	    Timeout:        5 * time.Minute,
//	    CircuitBreaker: httpclient.DefaultCircuitBreakerConfig("llama-server"),
//	})
//	resp, err := c.Do(ctx, httpclient.Request{Method: http.MethodGet, Path: "/health"})
//
// DoStream returns once headers arrive; event-stream bodies come wrapped in
// an sse.Reader. The rest subpackage adds typed JSON helpers on top.
package httpclient
