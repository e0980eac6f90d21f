package promptcache

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kbukum/localchat/internal/engine"
	"github.com/kbukum/localchat/internal/engine/enginetest"
	"github.com/kbukum/localchat/logger"
	"github.com/kbukum/localchat/observability"
)

func newController(f *enginetest.Fake) *Controller {
	return New(f, WithLogger(logger.NewNop()))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("instruction")
	if len(a) != 64 {
		t.Errorf("len = %d, want 64 hex chars", len(a))
	}
	if a != Fingerprint("instruction") {
		t.Error("fingerprint not stable")
	}
	if a == Fingerprint("instruction ") {
		t.Error("fingerprint ignores content change")
	}
}

func TestSecondCallHitsWithoutRepriming(t *testing.T) {
	f := enginetest.New()
	c := newController(f)
	ctx := context.Background()

	first, err := c.EnsureCached(ctx, "You are helpful.\n\n")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.EnsureCached(ctx, "You are helpful.\n\n")
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Errorf("handles differ: %+v vs %+v", first, second)
	}
	if n := len(f.Primes()); n != 1 {
		t.Errorf("primes = %d, want 1", n)
	}
	if first.Fingerprint != Fingerprint("You are helpful.\n\n") || first.PrimedAt.IsZero() {
		t.Errorf("handle not stamped: %+v", first)
	}
	if s := c.Stats(); s.Hits != 1 || s.Misses != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestChangedPrefixReprimes(t *testing.T) {
	f := enginetest.New()
	c := newController(f)
	ctx := context.Background()

	a, _ := c.EnsureCached(ctx, "A\n\n")
	b, _ := c.EnsureCached(ctx, "B\n\n")
	if a.Fingerprint == b.Fingerprint {
		t.Error("different prefixes share a fingerprint")
	}
	if got := f.Primes(); len(got) != 2 || got[1] != "B\n\n" {
		t.Errorf("primes = %q", got)
	}
}

func TestPrimeFailureLeavesCacheEmpty(t *testing.T) {
	f := enginetest.New()
	boom := errors.New("prompt exceeds context")
	f.PrimeErr = boom
	c := newController(f)
	ctx := context.Background()

	_, err := c.EnsureCached(ctx, "P\n\n")
	if !errors.Is(err, boom) || !engine.IsEngineError(err) {
		t.Fatalf("err = %v, want engine error wrapping %v", err, boom)
	}
	if _, ok := c.Current(); ok {
		t.Fatal("cache populated after failed prime")
	}

	f.PrimeErr = nil
	if _, err := c.EnsureCached(ctx, "P\n\n"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n := len(f.Primes()); n != 2 {
		t.Errorf("primes = %d, want retry to prime again", n)
	}
	if s := c.Stats(); s.Failures != 1 || s.Misses != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func lookupsByResult(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "promptcache.lookups" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("promptcache.lookups: got %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				result, _ := dp.Attributes.Value("result")
				out[result.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestLookupMetricsSeparateFailedPrimes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observability.NewChatMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatal(err)
	}
	f := enginetest.New()
	c := New(f, WithLogger(logger.NewNop()), WithMetrics(m))
	ctx := context.Background()

	f.PrimeErr = errors.New("down")
	_, _ = c.EnsureCached(ctx, "P\n\n")
	f.PrimeErr = nil
	_, _ = c.EnsureCached(ctx, "P\n\n")
	_, _ = c.EnsureCached(ctx, "P\n\n")

	got := lookupsByResult(t, reader)
	want := map[string]int64{observability.CacheError: 1, observability.CacheMiss: 1, observability.CacheHit: 1}
	for result, n := range want {
		if got[result] != n {
			t.Errorf("lookups{result=%s} = %d, want %d (all: %v)", result, got[result], n, got)
		}
	}
}

func TestFailedRePrimeDropsOldEntry(t *testing.T) {
	f := enginetest.New()
	c := newController(f)
	ctx := context.Background()

	if _, err := c.EnsureCached(ctx, "A\n\n"); err != nil {
		t.Fatal(err)
	}
	f.PrimeErr = errors.New("down")
	if _, err := c.EnsureCached(ctx, "B\n\n"); err == nil {
		t.Fatal("expected failure")
	}
	if _, ok := c.Current(); ok {
		t.Error("stale entry kept after failed re-prime")
	}
}

func TestInvalidate(t *testing.T) {
	f := enginetest.New()
	c := newController(f)
	ctx := context.Background()

	_, _ = c.EnsureCached(ctx, "A\n\n")
	c.Invalidate()
	if s := c.Stats(); s.Fingerprint != "" {
		t.Errorf("fingerprint after invalidate = %q", s.Fingerprint)
	}
	_, _ = c.EnsureCached(ctx, "A\n\n")
	if n := len(f.Primes()); n != 2 {
		t.Errorf("primes = %d, want 2", n)
	}
}
