// Package safety provides the motion interlock for the kappa stage. Moves
// whose native-axis displacement reaches a step limit are held until an
// operator confirms them.
package safety

import (
	"context"
	"sync"
	"time"

	"kappa-stage/pkg/errors"
	"kappa-stage/pkg/kinematics"
	"kappa-stage/pkg/log"
)

// Decision is the outcome of an authorization.
type Decision int

const (
	// Proceed allows the move to be dispatched.
	Proceed Decision = iota

	// Abort cancels the move; no axis is touched.
	Abort
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// ConfirmationProvider asks an operator to approve a move. Ask blocks until
// the operator answers or ctx ends.
type ConfirmationProvider interface {
	Ask(ctx context.Context, c Comparison) (bool, error)
}

// Record describes one authorization, for journals and metrics.
type Record struct {
	Decision   Decision
	Prompted   bool
	Comparison Comparison
	Err        error // provider error or context error behind an Abort
	Duration   time.Duration
	Time       time.Time
}

// Gate evaluates moves against step limits and, when needed, the operator.
type Gate struct {
	mu         sync.RWMutex
	geometry   kinematics.Geometry
	provider   ConfirmationProvider
	logger     *log.Logger
	onDecision []func(Record)
}

// NewGate creates a gate for one stage geometry.
func NewGate(g kinematics.Geometry, provider ConfirmationProvider) *Gate {
	return &Gate{
		geometry: g,
		provider: provider,
		logger:   log.GetLogger("safety"),
	}
}

// SetLogger replaces the gate logger.
func (g *Gate) SetLogger(l *log.Logger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logger = l
}

// SetProvider replaces the confirmation provider.
func (g *Gate) SetProvider(p ConfirmationProvider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.provider = p
}

// OnDecision registers a callback invoked after every authorization.
func (g *Gate) OnDecision(fn func(Record)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDecision = append(g.onDecision, fn)
}

// Check rejects targets that must never reach a driver.
func (g *Gate) Check(target kinematics.RealPosition) error {
	if !target.IsFinite() {
		return errors.InvalidTargetError(target.String(), "non-finite setpoint")
	}
	return nil
}

// Authorize decides whether the move current -> target may run. Moves within
// limits proceed without I/O. Larger moves ask the provider exactly once; a
// decline, a provider error or a cancelled ctx aborts.
func (g *Gate) Authorize(ctx context.Context, target, current kinematics.RealPosition, limits StepLimits) Decision {
	return g.Evaluate(ctx, target, current, limits).Decision
}

// Evaluate is Authorize returning the full record.
func (g *Gate) Evaluate(ctx context.Context, target, current kinematics.RealPosition, limits StepLimits) Record {
	start := time.Now()
	g.mu.RLock()
	provider := g.provider
	logger := g.logger
	geometry := g.geometry
	g.mu.RUnlock()

	rec := Record{Time: start}
	if err := g.Check(target); err != nil {
		rec.Decision, rec.Err = Abort, err
		g.publish(rec)
		return rec
	}

	disp := target.Sub(current)
	if limits.Within(disp) {
		rec.Decision = Proceed
		rec.Comparison = Comparison{Current: current, Target: target, Limits: limits}
		g.publish(rec)
		return rec
	}

	cmp := NewComparison(geometry, current, target, limits)
	rec.Comparison = cmp
	rec.Prompted = true
	logger.WithFields(log.Fields{
		"exceeded": cmp.Exceeded,
		"current":  current.String(),
		"target":   target.String(),
	}).Info("step limit reached, requesting confirmation")

	rec.Decision = Abort
	switch {
	case provider == nil:
		rec.Err = errors.MoveAbortedError("no confirmation provider configured")
	default:
		ok, err := provider.Ask(ctx, cmp)
		if err == nil {
			err = ctx.Err()
		}
		switch {
		case err != nil:
			rec.Err = err
		case ok:
			rec.Decision = Proceed
		}
	}
	rec.Duration = time.Since(start)
	g.publish(rec)
	return rec
}

func (g *Gate) publish(rec Record) {
	g.mu.RLock()
	cbs := make([]func(Record), len(g.onDecision))
	copy(cbs, g.onDecision)
	g.mu.RUnlock()

	for _, fn := range cbs {
		fn(rec)
	}
}
