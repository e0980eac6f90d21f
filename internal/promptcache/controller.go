// Package promptcache decides whether the engine already holds computed
// state for the static prompt prefix, and primes it when it does not.
package promptcache

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/kbukum/localchat/internal/engine"
	"github.com/kbukum/localchat/logger"
	"github.com/kbukum/localchat/observability"
)

// Primer is the part of engine.Engine the controller needs.
type Primer interface {
	Prime(ctx context.Context, prefix string) (engine.CacheHandle, error)
}

// Stats counts cache outcomes since the controller was created.
type Stats struct {
	Hits uint64 `json:"hits"`
	// Misses counts lookups that primed the prefix successfully, Failures
	// the ones whose prime failed.
	Misses   uint64 `json:"misses"`
	Failures uint64 `json:"failures"`
	// Fingerprint is the prefix currently cached, empty when none is.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics records lookups on m.
func WithMetrics(m *observability.ChatMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock sets the time source for CacheHandle.PrimedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller holds the one cached prefix.
type Controller struct {
	primer  Primer
	log     *logger.Logger
	metrics *observability.ChatMetrics
	now     func() time.Time

	mu          sync.Mutex
	fingerprint string
	handle      engine.CacheHandle
	stats       Stats
}

// New creates a controller with an empty cache.
func New(p Primer, opts ...Option) *Controller {
	c := &Controller{primer: p, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get("promptcache")
	}
	return c
}

// Fingerprint is the BLAKE2b-256 hex digest of text.
func Fingerprint(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EnsureCached returns the handle for prefix, priming the engine when the
// cache is empty or holds a different prefix. A failed prime leaves the
// cache empty, so the next call primes again.
func (c *Controller) EnsureCached(ctx context.Context, prefix string) (engine.CacheHandle, error) {
	fp := Fingerprint(prefix)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fingerprint == fp {
		c.stats.Hits++
		c.metrics.RecordCacheLookup(ctx, observability.CacheHit)
		return c.handle, nil
	}

	if c.fingerprint != "" {
		c.log.Info("Prompt prefix changed, re-priming", logger.Fields("old", short(c.fingerprint), "new", short(fp)))
	}
	c.fingerprint, c.handle = "", engine.CacheHandle{}

	start := c.now()
	handle, err := c.primer.Prime(ctx, prefix)
	if err != nil {
		c.stats.Failures++
		c.metrics.RecordCacheLookup(ctx, observability.CacheError)
		c.log.Warn("Prompt prefix priming failed", logger.ErrorFields("prime", err))
		return engine.CacheHandle{}, engine.Wrap(engine.OpPrime, err)
	}

	handle.Fingerprint = fp
	if handle.PrimedAt.IsZero() {
		handle.PrimedAt = c.now()
	}
	c.fingerprint, c.handle = fp, handle
	c.stats.Misses++
	c.metrics.RecordCacheLookup(ctx, observability.CacheMiss)

	c.log.Info("Prompt prefix cached", logger.Fields(
		"fingerprint", short(fp),
		"prefix_tokens", handle.PrefixTokens,
		"slot", handle.Slot,
		logger.FieldDuration, c.now().Sub(start).Milliseconds(),
	))
	return handle, nil
}

// Invalidate empties the cache unconditionally. Call it whenever the
// engine may have lost its state, e.g. after a restart.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fingerprint != "" {
		c.log.Debug("Prompt cache invalidated", logger.Fields("fingerprint", short(c.fingerprint)))
	}
	c.fingerprint, c.handle = "", engine.CacheHandle{}
}

// Current returns the cached handle, if any.
func (c *Controller) Current() (engine.CacheHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle, c.fingerprint != ""
}

// Stats returns a copy of the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Fingerprint = c.fingerprint
	return s
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
