// Package confirm provides the ways an operator can approve a large move:
// fixed policies for scripts, a terminal dialog and a websocket prompt for
// remote operator screens.
package confirm

import (
	"context"
	"fmt"
	"time"

	"kappa-stage/pkg/errors"
	"kappa-stage/pkg/safety"
)

// Func adapts a function to safety.ConfirmationProvider.
type Func func(ctx context.Context, c safety.Comparison) (bool, error)

// Ask calls f.
func (f Func) Ask(ctx context.Context, c safety.Comparison) (bool, error) {
	return f(ctx, c)
}

// Always answers every prompt with answer.
func Always(answer bool) safety.ConfirmationProvider {
	return Func(func(context.Context, safety.Comparison) (bool, error) {
		return answer, nil
	})
}

// WithTimeout declines when p has not answered within d. A zero or negative
// d returns p unchanged.
func WithTimeout(p safety.ConfirmationProvider, d time.Duration) safety.ConfirmationProvider {
	if d <= 0 {
		return p
	}
	return Func(func(ctx context.Context, c safety.Comparison) (bool, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type answer struct {
			ok  bool
			err error
		}
		ch := make(chan answer, 1)
		go func() {
			ok, err := p.Ask(ctx, c)
			ch <- answer{ok, err}
		}()

		var a answer
		select {
		case a = <-ch:
		case <-ctx.Done():
			a = answer{false, ctx.Err()}
		}
		if a.err != nil && ctx.Err() == context.DeadlineExceeded {
			return false, timeoutError(d)
		}
		if a.err != nil {
			return false, a.err
		}
		return a.ok, nil
	})
}

func timeoutError(d time.Duration) error {
	return errors.MoveAbortedError(fmt.Sprintf("no confirmation within %s", d)).
		SetContext("timeout", d.String())
}
