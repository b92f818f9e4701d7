package axis

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kappa-stage/pkg/errors"
)

// Status tracks the completion of a move. It resolves exactly once; later
// calls to Finish are ignored.
type Status struct {
	mu        sync.Mutex
	done      chan struct{}
	err       error
	finished  bool
	callbacks []func(*Status)
}

// NewStatus creates a pending status.
func NewStatus() *Status {
	return &Status{done: make(chan struct{})}
}

// Finished creates an already-resolved status.
func Finished(err error) *Status {
	s := NewStatus()
	s.Finish(err)
	return s
}

// Finish resolves the status. A nil error marks success. Callbacks run
// before Done is closed, so waiters observe their effects.
func (s *Status) Finish(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.err = err
	cbs := s.callbacks
	s.callbacks = nil
	s.mu.Unlock()

	for _, fn := range cbs {
		fn(s)
	}
	close(s.done)
}

// Done is closed when the status resolves.
func (s *Status) Done() <-chan struct{} {
	return s.done
}

// IsDone reports whether the status has resolved.
func (s *Status) IsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Success reports whether the status resolved without error.
func (s *Status) Success() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished && s.err == nil
}

// Err returns the failure cause, or nil while pending or on success.
func (s *Status) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// AddCallback runs fn once the status resolves. If it already has, fn runs
// immediately on the calling goroutine.
func (s *Status) AddCallback(fn func(*Status)) {
	s.mu.Lock()
	if !s.finished {
		s.callbacks = append(s.callbacks, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn(s)
}

// Wait blocks until the status resolves and returns its error. A positive
// timeout that expires first fails the status with MOVE_TIMEOUT; motion
// already in flight is left to the driver.
func (s *Status) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		<-s.done
		return s.Err()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		s.Finish(errors.MoveTimeoutError(timeout))
	}
	return s.Err()
}

// WaitContext blocks until the status resolves or ctx ends. Context expiry
// does not resolve the status.
func (s *Status) WaitContext(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// All returns a status that resolves when every child has resolved. It
// succeeds only if all children succeed; otherwise it carries the first
// failure.
func All(children ...*Status) *Status {
	agg := NewStatus()
	var g errgroup.Group
	for _, c := range children {
		c := c
		g.Go(func() error {
			<-c.Done()
			return c.Err()
		})
	}
	go func() {
		agg.Finish(g.Wait())
	}()
	return agg
}
