// Package axis defines the interface to a single rotation axis and the
// status handle returned by its moves.
package axis

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Driver is one native rotation axis. Position is owned by the driver and
// changes only as a result of its own moves.
type Driver interface {
	Name() string
	Position() (float64, error)
	Move(ctx context.Context, target float64) *Status
}

// Subscriber is implemented by drivers that publish position changes.
type Subscriber interface {
	Subscribe(fn func(position float64)) (cancel func())
}

// SimAxis is a simulated rotation axis. With a zero speed moves complete
// immediately; otherwise they take |delta|/speed seconds.
type SimAxis struct {
	mu       sync.Mutex
	name     string
	position float64
	speed    float64 // deg/s
	fault    error
	moving   bool
	nextSub  int
	subs     map[int]func(float64)
}

// NewSimAxis creates a simulated axis at the given position.
func NewSimAxis(name string, position float64) *SimAxis {
	return &SimAxis{
		name:     name,
		position: position,
		subs:     make(map[int]func(float64)),
	}
}

// Name returns the axis name.
func (a *SimAxis) Name() string { return a.name }

// SetSpeed sets the simulated speed in degrees per second.
func (a *SimAxis) SetSpeed(speed float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.speed = speed
}

// InjectFault makes the next move fail with err.
func (a *SimAxis) InjectFault(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fault = err
}

// Position returns the current position.
func (a *SimAxis) Position() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position, nil
}

// IsMoving reports whether a timed move is in progress.
func (a *SimAxis) IsMoving() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.moving
}

// Move starts a move to target. Cancelling ctx before a timed move lands
// leaves the axis where it started.
func (a *SimAxis) Move(ctx context.Context, target float64) *Status {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return Finished(fmt.Errorf("%s: invalid setpoint %v", a.name, target))
	}

	a.mu.Lock()
	if a.fault != nil {
		err := a.fault
		a.fault = nil
		a.mu.Unlock()
		return Finished(fmt.Errorf("%s: %w", a.name, err))
	}
	if a.moving {
		a.mu.Unlock()
		return Finished(fmt.Errorf("%s: already moving", a.name))
	}
	speed := a.speed
	delta := math.Abs(target - a.position)
	if speed <= 0 || delta == 0 {
		a.mu.Unlock()
		a.land(target)
		return Finished(nil)
	}
	a.moving = true
	a.mu.Unlock()

	st := NewStatus()
	d := time.Duration(delta / speed * float64(time.Second))
	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			a.land(target)
			st.Finish(nil)
		case <-ctx.Done():
			a.mu.Lock()
			a.moving = false
			a.mu.Unlock()
			st.Finish(fmt.Errorf("%s: %w", a.name, ctx.Err()))
		}
	}()
	return st
}

func (a *SimAxis) land(target float64) {
	a.mu.Lock()
	a.position = target
	a.moving = false
	subs := make([]func(float64), 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.mu.Unlock()

	for _, fn := range subs {
		fn(target)
	}
}

// Subscribe registers fn for position changes.
func (a *SimAxis) Subscribe(fn func(position float64)) (cancel func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs, id)
	}
}
