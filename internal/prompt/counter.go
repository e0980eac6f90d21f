package prompt

import (
	"context"
	"unicode/utf8"

	"github.com/kbukum/localchat/internal/conversation"
)

// Counter measures text in tokens. engine.Engine satisfies it through its
// tokenizer.
type Counter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// CharEstimator approximates token counts from the character count, for
// when a round trip to the engine's tokenizer is not wanted.
type CharEstimator struct {
	// CharsPerToken defaults to 4.
	CharsPerToken int
}

// CountTokens rounds up, so a non-empty text counts at least one token.
func (e CharEstimator) CountTokens(_ context.Context, text string) (int, error) {
	per := e.CharsPerToken
	if per <= 0 {
		per = 4
	}
	n := utf8.RuneCountInString(text)
	return (n + per - 1) / per, nil
}

// Measure sizes the full prompt for a candidate history, for use with
// conversation.Store.TruncateToBudget.
func Measure(t Template, c Counter, instruction, userText string) conversation.MeasureFunc {
	return func(ctx context.Context, kept []conversation.Turn) (int, error) {
		return c.CountTokens(ctx, t.Build(instruction, kept, userText).Text)
	}
}
