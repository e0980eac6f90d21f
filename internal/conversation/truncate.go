package conversation

import (
	"context"
	"errors"
	"fmt"
)

// ErrContextOverflow is matched by *OverflowError.
var ErrContextOverflow = errors.New("conversation: context window overflow")

// OverflowError reports a prompt that does not fit the context window even
// with every history turn dropped.
type OverflowError struct {
	// Required is the token count of the smallest possible prompt plus the
	// response reserve.
	Required int
	Budget   int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("conversation: prompt needs %d tokens, context window allows %d", e.Required, e.Budget)
}

func (e *OverflowError) Unwrap() error { return ErrContextOverflow }

// MeasureFunc returns the token count of the complete prompt that would be
// sent with kept as history. It must not decrease when turns are added.
type MeasureFunc func(ctx context.Context, kept []Turn) (int, error)

// Window is the part of the history that fits the budget, as computed by
// TruncateToBudget. It is a proposal; nothing is dropped until Commit.
type Window struct {
	// Kept is the retained history, oldest first.
	Kept []Turn
	// Dropped is the number of oldest turns left out.
	Dropped int
	// Tokens is the measured prompt size for Kept, without the reserve.
	Tokens int

	version uint64
}

// TruncateToBudget finds the longest suffix of the history whose prompt,
// plus reserve tokens for the response, fits in budget. Oldest turns go
// first, and a kept window never opens with an assistant turn whose user
// turn was dropped. The new user turn is part of every measured prompt and
// is never dropped: if it does not fit on its own the result is an
// *OverflowError. The store is not modified.
func (s *Store) TruncateToBudget(ctx context.Context, budget, reserve int, measure MeasureFunc) (Window, error) {
	s.mu.RLock()
	history := make([]Turn, len(s.turns))
	copy(history, s.turns)
	version := s.version
	s.mu.RUnlock()

	n := len(history)
	sizes := make(map[int]int, 8)
	size := func(dropped int) (int, error) {
		if v, ok := sizes[dropped]; ok {
			return v, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		v, err := measure(ctx, history[dropped:])
		if err != nil {
			return 0, err
		}
		sizes[dropped] = v
		return v, nil
	}
	fits := func(dropped int) (bool, error) {
		v, err := size(dropped)
		if err != nil {
			return false, err
		}
		return v+reserve <= budget, nil
	}

	ok, err := fits(n)
	if err != nil {
		return Window{}, err
	}
	if !ok {
		return Window{}, &OverflowError{Required: sizes[n] + reserve, Budget: budget}
	}

	// Smallest drop count that fits. Fitting is monotone in the drop
	// count, so binary search between a failing lo and a fitting hi.
	dropped := 0
	if ok, err = fits(0); err != nil {
		return Window{}, err
	} else if !ok {
		lo, hi := 0, n
		for hi-lo > 1 {
			mid := lo + (hi-lo)/2
			ok, err := fits(mid)
			if err != nil {
				return Window{}, err
			}
			if ok {
				hi = mid
			} else {
				lo = mid
			}
		}
		dropped = hi
	}

	for dropped < n && dropped > 0 && history[dropped].Role == RoleAssistant {
		dropped++
	}
	tokens, err := size(dropped)
	if err != nil {
		return Window{}, err
	}

	return Window{
		Kept:    history[dropped:],
		Dropped: dropped,
		Tokens:  tokens,
		version: version,
	}, nil
}
