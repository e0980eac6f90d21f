// Package engine defines the contract between the chat core and the
// inference engine that turns a prompt into a completion.
//
// Implementations are not reentrant. Callers must serialize Prime and
// Invoke; the chat orchestrator does so with a one-slot bulkhead.
package engine

import (
	"context"
	"time"
)

// Engine is a loaded model that can complete prompts.
type Engine interface {
	// Prime evaluates prefix into the engine's reusable computation state
	// without generating, so later prompts starting with prefix skip it.
	Prime(ctx context.Context, prefix string) (CacheHandle, error)
	// Invoke completes req.Prompt.
	Invoke(ctx context.Context, req Request) (Completion, error)
	// CountTokens returns the number of tokens text encodes to.
	CountTokens(ctx context.Context, text string) (int, error)
}

// CacheHandle identifies engine-side state computed for a prefix. It is
// opaque to everything except the engine that issued it.
type CacheHandle struct {
	// Fingerprint is the content hash of the primed prefix.
	Fingerprint string `json:"fingerprint"`
	// Slot is the engine slot holding the state.
	Slot int `json:"slot"`
	// PrefixTokens is the number of tokens the prefix evaluated to.
	PrefixTokens int       `json:"prefix_tokens"`
	PrimedAt     time.Time `json:"primed_at"`
}

// IsZero reports whether h refers to no cached state.
func (h CacheHandle) IsZero() bool {
	return h == CacheHandle{}
}

// Sampling holds the generation settings sent with every request.
type Sampling struct {
	MaxTokens   int      `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64  `yaml:"temperature" mapstructure:"temperature"`
	TopK        int      `yaml:"top_k" mapstructure:"top_k"`
	TopP        float64  `yaml:"top_p" mapstructure:"top_p"`
	Stop        []string `yaml:"stop" mapstructure:"stop"`
}

// DefaultSampling returns the settings the chatbot has always used.
func DefaultSampling() Sampling {
	return Sampling{
		MaxTokens:   200,
		Temperature: 0.7,
		TopK:        40,
		TopP:        0.95,
	}
}

// Request is a single completion request.
type Request struct {
	Prompt   string
	Cache    CacheHandle
	Sampling Sampling
}

// Completion is the engine's answer to a Request.
type Completion struct {
	Text string
	// PromptTokens counts the prompt tokens, CachedTokens how many of them
	// were reused from cached state instead of being evaluated.
	PromptTokens    int
	CachedTokens    int
	PredictedTokens int
	StopReason      StopReason
	Duration        time.Duration
}

// StopReason tells why generation ended.
type StopReason string

const (
	StopEOS   StopReason = "eos"
	StopWord  StopReason = "stop_word"
	StopLimit StopReason = "limit"
	StopNone  StopReason = ""
)

// TokenFunc receives generated text pieces in order.
type TokenFunc func(piece string)

// Streamer is implemented by engines that can deliver a completion piece by
// piece. The returned Completion carries the full text, trimmed the same way
// Invoke trims it.
type Streamer interface {
	InvokeStream(ctx context.Context, req Request, onToken TokenFunc) (Completion, error)
}
