package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/localchat/logger"
)

// InitMeter installs a periodic OTLP/HTTP meter provider globally.
func InitMeter(ctx context.Context, cfg Config, serviceName, serviceVersion string) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(serviceName, serviceVersion)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.MetricInterval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields("endpoint", cfg.Endpoint, "interval", cfg.MetricInterval.String()))
	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// ChatMetrics holds the instruments recorded along the chat request path.
type ChatMetrics struct {
	requests       metric.Int64Counter
	requestLatency metric.Float64Histogram
	inference      metric.Float64Histogram
	promptTokens   metric.Int64Histogram
	cacheLookups   metric.Int64Counter
	droppedTurns   metric.Int64Counter
	busyRejects    metric.Int64Counter
}

// NewChatMetrics creates the chat instruments on meter.
func NewChatMetrics(meter metric.Meter) (*ChatMetrics, error) {
	var m ChatMetrics
	var err error

	if m.requests, err = meter.Int64Counter("chat.requests",
		metric.WithDescription("Chat requests by outcome code")); err != nil {
		return nil, fmt.Errorf("creating chat.requests: %w", err)
	}
	if m.requestLatency, err = meter.Float64Histogram("chat.request.duration",
		metric.WithDescription("End-to-end chat request latency"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating chat.request.duration: %w", err)
	}
	if m.inference, err = meter.Float64Histogram("llm.inference.duration",
		metric.WithDescription("Time spent inside the inference engine"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating llm.inference.duration: %w", err)
	}
	if m.promptTokens, err = meter.Int64Histogram("llm.prompt.tokens",
		metric.WithDescription("Tokens in the submitted prompt"), metric.WithUnit("{token}")); err != nil {
		return nil, fmt.Errorf("creating llm.prompt.tokens: %w", err)
	}
	if m.cacheLookups, err = meter.Int64Counter("promptcache.lookups",
		metric.WithDescription("Prompt cache lookups by result")); err != nil {
		return nil, fmt.Errorf("creating promptcache.lookups: %w", err)
	}
	if m.droppedTurns, err = meter.Int64Counter("conversation.turns.dropped",
		metric.WithDescription("History turns evicted to fit the context window")); err != nil {
		return nil, fmt.Errorf("creating conversation.turns.dropped: %w", err)
	}
	if m.busyRejects, err = meter.Int64Counter("chat.engine.busy",
		metric.WithDescription("Requests rejected because the engine was busy")); err != nil {
		return nil, fmt.Errorf("creating chat.engine.busy: %w", err)
	}
	return &m, nil
}

// RecordRequest counts a finished request and its latency. code is "ok"
// or the error code.
func (m *ChatMetrics) RecordRequest(ctx context.Context, code string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("code", code))
	m.requests.Add(ctx, 1, attrs)
	m.requestLatency.Record(ctx, d.Seconds(), attrs)
}

// RecordInference records one engine call.
func (m *ChatMetrics) RecordInference(ctx context.Context, d time.Duration, promptTokens int, ok bool) {
	if m == nil {
		return
	}
	m.inference.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("ok", ok)))
	if promptTokens > 0 {
		m.promptTokens.Record(ctx, int64(promptTokens))
	}
}

// Prompt cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// RecordCacheLookup counts one prompt cache lookup by result: CacheHit,
// CacheMiss when the prefix was primed, or CacheError when priming failed.
func (m *ChatMetrics) RecordCacheLookup(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordDroppedTurns counts history turns evicted by truncation.
func (m *ChatMetrics) RecordDroppedTurns(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedTurns.Add(ctx, int64(n))
}

// RecordBusy counts a request rejected by the busy policy.
func (m *ChatMetrics) RecordBusy(ctx context.Context) {
	if m == nil {
		return
	}
	m.busyRejects.Add(ctx, 1)
}
