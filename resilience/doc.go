// Package resilience provides the fault-tolerance primitives used around
// the inference engine:
//
//   - Bulkhead: bounds concurrent calls; with one slot it serializes a
//     non-reentrant resource
//   - Retry: repeats an operation with exponential backoff
//   - CircuitBreaker: fails fast after repeated failures
//
//	bh := resilience.NewBulkhead(resilience.BulkheadConfig{Name: "engine", MaxConcurrent: 1, Block: true})
//	reply, err := resilience.ExecuteWithResult(bh, ctx, func() (string, error) {
//	    return engine.Invoke(ctx, req)
//	})
package resilience
