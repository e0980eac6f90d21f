// Package observability wires OpenTelemetry tracing and metrics.
//
// Providers are installed globally only when enabled in config; otherwise
// the otel no-op providers stay in place and instrumented code costs
// nothing.
//
//	shutdown, err := observability.Setup(ctx, cfg.Observability, "chatbot", version.Version)
//	defer shutdown(context.Background())
//
//	m, err := observability.NewChatMetrics(observability.Meter("chatbot"))
//	ctx, span := observability.StartSpan(ctx, "chat.handle")
//	defer span.End()
package observability
