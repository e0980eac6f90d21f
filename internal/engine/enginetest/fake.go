// Package enginetest provides an instrumented in-memory engine.Engine for
// tests.
package enginetest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/localchat/internal/engine"
)

// Fake is a scriptable engine. It records every call and tracks how many
// calls were inside Prime or Invoke at the same time.
type Fake struct {
	// Reply computes the completion text. Defaults to echoing the last
	// user line prefixed with "Echo: ".
	Reply func(req engine.Request) (string, error)
	// PrimeErr, when set, fails every Prime.
	PrimeErr error
	// Delay is slept inside Prime and Invoke.
	Delay time.Duration
	// CharsPerToken drives CountTokens. Defaults to 4.
	CharsPerToken int

	inside    atomic.Int32
	maxInside atomic.Int32

	mu       sync.Mutex
	primes   []string
	requests []engine.Request
	counts   int
	streams  int
}

var (
	_ engine.Engine   = (*Fake)(nil)
	_ engine.Streamer = (*Fake)(nil)
)

// New returns a Fake with default behavior.
func New() *Fake { return &Fake{} }

// Prime records prefix and returns a handle on slot 0.
func (f *Fake) Prime(ctx context.Context, prefix string) (engine.CacheHandle, error) {
	defer f.enter()()
	if err := f.sleep(ctx); err != nil {
		return engine.CacheHandle{}, err
	}

	f.mu.Lock()
	f.primes = append(f.primes, prefix)
	primeErr := f.PrimeErr
	f.mu.Unlock()

	if primeErr != nil {
		return engine.CacheHandle{}, primeErr
	}
	n, _ := f.CountTokens(ctx, prefix)
	return engine.CacheHandle{Slot: 0, PrefixTokens: n, PrimedAt: time.Now()}, nil
}

// Invoke records req and returns the scripted reply.
func (f *Fake) Invoke(ctx context.Context, req engine.Request) (engine.Completion, error) {
	defer f.enter()()
	start := time.Now()
	if err := f.sleep(ctx); err != nil {
		return engine.Completion{}, err
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply := f.Reply
	f.mu.Unlock()

	if reply == nil {
		reply = echo
	}
	text, err := reply(req)
	if err != nil {
		return engine.Completion{}, err
	}

	promptTokens, _ := f.CountTokens(ctx, req.Prompt)
	predicted, _ := f.CountTokens(ctx, text)
	return engine.Completion{
		Text:            text,
		PromptTokens:    promptTokens,
		CachedTokens:    req.Cache.PrefixTokens,
		PredictedTokens: predicted,
		StopReason:      engine.StopWord,
		Duration:        time.Since(start),
	}, nil
}

// InvokeStream runs Invoke and hands the reply to onToken word by word,
// keeping the separating spaces so the pieces join back to the full text.
func (f *Fake) InvokeStream(ctx context.Context, req engine.Request, onToken engine.TokenFunc) (engine.Completion, error) {
	c, err := f.Invoke(ctx, req)
	if err != nil {
		return c, err
	}
	f.mu.Lock()
	f.streams++
	f.mu.Unlock()
	for _, piece := range splitPieces(c.Text) {
		onToken(piece)
	}
	return c, nil
}

func splitPieces(text string) []string {
	var out []string
	for text != "" {
		i := strings.IndexByte(text[1:], ' ')
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i+1])
		text = text[i+1:]
	}
	return out
}

// Streams returns the number of InvokeStream calls.
func (f *Fake) Streams() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams
}

// CountTokens estimates one token per CharsPerToken characters, rounded up.
func (f *Fake) CountTokens(_ context.Context, text string) (int, error) {
	f.mu.Lock()
	f.counts++
	per := f.CharsPerToken
	f.mu.Unlock()
	if per <= 0 {
		per = 4
	}
	n := len([]rune(text))
	return (n + per - 1) / per, nil
}

// Primes returns the prefixes passed to Prime, in order.
func (f *Fake) Primes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.primes...)
}

// Requests returns the requests passed to Invoke, in order.
func (f *Fake) Requests() []engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Request(nil), f.requests...)
}

// LastPrompt returns the most recent prompt passed to Invoke.
func (f *Fake) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ""
	}
	return f.requests[len(f.requests)-1].Prompt
}

// TokenCounts returns the number of CountTokens calls.
func (f *Fake) TokenCounts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts
}

// MaxConcurrent returns the highest number of simultaneous Prime/Invoke
// calls observed.
func (f *Fake) MaxConcurrent() int {
	return int(f.maxInside.Load())
}

func (f *Fake) enter() func() {
	n := f.inside.Add(1)
	for {
		cur := f.maxInside.Load()
		if n <= cur || f.maxInside.CompareAndSwap(cur, n) {
			break
		}
	}
	return func() { f.inside.Add(-1) }
}

func (f *Fake) sleep(ctx context.Context) error {
	if f.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(f.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// echo answers with the last user line of the prompt.
func echo(req engine.Request) (string, error) {
	text := strings.TrimSuffix(req.Prompt, "\n")
	idx := strings.LastIndex(text, "### User:\n")
	if idx < 0 {
		return "Echo: " + text, nil
	}
	msg := text[idx+len("### User:\n"):]
	if end := strings.Index(msg, "\n\n"); end >= 0 {
		msg = msg[:end]
	}
	return "Echo: " + msg, nil
}

// Replies returns a Reply func that answers with texts in order and then
// repeats the last one.
func Replies(texts ...string) func(engine.Request) (string, error) {
	var mu sync.Mutex
	i := 0
	return func(engine.Request) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(texts) == 0 {
			return "", nil
		}
		t := texts[i]
		if i < len(texts)-1 {
			i++
		}
		return t, nil
	}
}

// Fail returns a Reply func that always fails with err.
func Fail(err error) func(engine.Request) (string, error) {
	return func(engine.Request) (string, error) { return "", err }
}
