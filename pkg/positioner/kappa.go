// Package positioner drives a kappa goniometer through virtual spherical
// coordinates. Every move passes the step-limit gate before any axis moves.
package positioner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kappa-stage/pkg/axis"
	"kappa-stage/pkg/errors"
	"kappa-stage/pkg/journal"
	"kappa-stage/pkg/kinematics"
	"kappa-stage/pkg/log"
	"kappa-stage/pkg/metrics"
	"kappa-stage/pkg/safety"
)

// Journal receives one entry per move request.
type Journal interface {
	Append(ctx context.Context, e journal.Entry) error
}

// Options configures a Kappa stage. Zero values select defaults: name
// "kappa", a 50 degree kappa arm and 2 degree step limits. Limits is a
// pointer because all-zero limits are valid and prompt on every move.
type Options struct {
	Name     string
	Geometry kinematics.Geometry
	Limits   *safety.StepLimits
	Provider safety.ConfirmationProvider
	Logger   *log.Logger
	Metrics  *metrics.StageMetrics
	Journal  Journal
}

// Kappa is the composite positioner for eta, kappa and phi.
type Kappa struct {
	name     string
	geometry kinematics.Geometry
	eta      axis.Driver
	kappa    axis.Driver
	phi      axis.Driver
	gate     *safety.Gate
	logger   *log.Logger
	metrics  *metrics.StageMetrics
	journal  Journal

	// held from snapshot through authorization
	moveMu sync.Mutex

	mu          sync.RWMutex
	limits      safety.StepLimits
	lastVirtual kinematics.VirtualPosition
	haveVirtual bool
	subs        map[int]func(kinematics.VirtualPosition)
	nextSub     int
	unsubscribe []func()

	eEta, eChi, ePhi *VirtualAxis
}

// New builds a stage over three drivers.
func New(eta, kappa, phi axis.Driver, opts Options) (*Kappa, error) {
	if eta == nil || kappa == nil || phi == nil {
		return nil, errors.ConfigValidationError("axes", "eta, kappa and phi drivers are required")
	}
	if opts.Name == "" {
		opts.Name = "kappa"
	}
	if opts.Geometry == (kinematics.Geometry{}) {
		opts.Geometry = kinematics.DefaultGeometry()
	}
	if err := opts.Geometry.Validate(); err != nil {
		return nil, err
	}
	limits := safety.DefaultStepLimits()
	if opts.Limits != nil {
		limits = *opts.Limits
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger(opts.Name)
	}

	k := &Kappa{
		name:     opts.Name,
		geometry: opts.Geometry,
		eta:      eta,
		kappa:    kappa,
		phi:      phi,
		gate:     safety.NewGate(opts.Geometry, opts.Provider),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		journal:  opts.Journal,
		limits:   limits,
		subs:     make(map[int]func(kinematics.VirtualPosition)),
	}
	k.gate.SetLogger(opts.Logger.WithPrefix("safety"))
	k.gate.OnDecision(k.metrics.RecordDecision)
	k.metrics.SetStepLimits(limits)

	k.eEta = &VirtualAxis{k: k, name: "e_eta", get: func(v kinematics.VirtualPosition) float64 { return v.EEta },
		set: func(v *kinematics.VirtualPosition, x float64) { v.EEta = x }}
	k.eChi = &VirtualAxis{k: k, name: "e_chi", get: func(v kinematics.VirtualPosition) float64 { return v.EChi },
		set: func(v *kinematics.VirtualPosition, x float64) { v.EChi = x }}
	k.ePhi = &VirtualAxis{k: k, name: "e_phi", get: func(v kinematics.VirtualPosition) float64 { return v.EPhi },
		set: func(v *kinematics.VirtualPosition, x float64) { v.EPhi = x }}

	for _, d := range []axis.Driver{eta, kappa, phi} {
		if s, ok := d.(axis.Subscriber); ok {
			k.unsubscribe = append(k.unsubscribe, s.Subscribe(func(float64) { k.refresh() }))
		}
	}
	if _, err := k.ReadVirtual(); err != nil {
		k.logger.WithError(err).Warn("initial readback failed")
	}
	return k, nil
}

// Name returns the stage name.
func (k *Kappa) Name() string { return k.name }

// Geometry returns the stage geometry.
func (k *Kappa) Geometry() kinematics.Geometry { return k.geometry }

// Gate returns the stage's safety gate, for registering decision observers.
func (k *Kappa) Gate() *safety.Gate { return k.gate }

// Eta returns the eta driver.
func (k *Kappa) Eta() axis.Driver { return k.eta }

// KappaAxis returns the kappa driver.
func (k *Kappa) KappaAxis() axis.Driver { return k.kappa }

// Phi returns the phi driver.
func (k *Kappa) Phi() axis.Driver { return k.phi }

// EEta returns the virtual azimuth axis.
func (k *Kappa) EEta() *VirtualAxis { return k.eEta }

// EChi returns the virtual elevation axis.
func (k *Kappa) EChi() *VirtualAxis { return k.eChi }

// EPhi returns the virtual sample rotation axis.
func (k *Kappa) EPhi() *VirtualAxis { return k.ePhi }

// StepLimits returns the current step limits.
func (k *Kappa) StepLimits() safety.StepLimits {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.limits
}

// SetStepLimits replaces the step limits after validating them.
func (k *Kappa) SetStepLimits(l safety.StepLimits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	k.mu.Lock()
	k.limits = l
	k.mu.Unlock()
	k.metrics.SetStepLimits(l)
	k.logger.WithField("limits", l.String()).Info("step limits updated")
	return nil
}

// ReadReal takes one snapshot of the three drivers.
func (k *Kappa) ReadReal() (kinematics.RealPosition, error) {
	var rp kinematics.RealPosition
	for _, a := range []struct {
		d   axis.Driver
		dst *float64
	}{{k.eta, &rp.Eta}, {k.kappa, &rp.Kappa}, {k.phi, &rp.Phi}} {
		v, err := a.d.Position()
		if err != nil {
			return kinematics.RealPosition{}, errors.Wrap(err, errors.ErrRuntime, "read position").SetAxis(a.d.Name())
		}
		*a.dst = v
	}
	return rp, nil
}

// ReadVirtual reads the drivers and converts on the branch of the live
// kappa. The result becomes the last computed virtual position.
func (k *Kappa) ReadVirtual() (kinematics.VirtualPosition, error) {
	rp, err := k.ReadReal()
	if err != nil {
		return kinematics.VirtualPosition{}, err
	}
	v := k.geometry.KToE(rp, kinematics.BranchFor(rp.Kappa))

	k.mu.Lock()
	k.lastVirtual = v
	k.haveVirtual = true
	k.mu.Unlock()

	k.metrics.SetPositions(rp, v)
	return v, nil
}

// LastVirtual returns the last computed virtual position, reading the
// drivers if none has been computed yet.
func (k *Kappa) LastVirtual() (kinematics.VirtualPosition, error) {
	k.mu.RLock()
	v, ok := k.lastVirtual, k.haveVirtual
	k.mu.RUnlock()
	if ok {
		return v, nil
	}
	return k.ReadVirtual()
}

// Setpoint converts target to native setpoints on the branch of the
// current kappa.
func (k *Kappa) Setpoint(target kinematics.VirtualPosition) (kinematics.RealPosition, error) {
	current, err := k.ReadReal()
	if err != nil {
		return kinematics.RealPosition{}, err
	}
	return k.geometry.EToK(target, kinematics.BranchFor(current.Kappa))
}

// CheckValue reports whether target is reachable from the current branch.
func (k *Kappa) CheckValue(target kinematics.VirtualPosition) error {
	sp, err := k.Setpoint(target)
	if err != nil {
		return err
	}
	return k.gate.Check(sp)
}

// Move requests a move to target. It never fails synchronously: every
// failure comes back as a resolved status carrying a coded error.
func (k *Kappa) Move(ctx context.Context, target kinematics.VirtualPosition) *axis.Status {
	start := time.Now()
	entry := journal.Entry{
		ID:        uuid.New().String(),
		Stage:     k.name,
		Time:      start.UTC(),
		Requested: target,
	}
	logger := k.logger.WithFields(log.Fields{"move": entry.ID, "target": target.String()})

	if !k.moveMu.TryLock() {
		err := errors.MoveBusyError()
		logger.WithError(err).Warn("move rejected")
		return k.track(&entry, start, axis.Finished(err))
	}
	setpoint, err := k.authorize(ctx, target, &entry)
	k.moveMu.Unlock()

	if err != nil {
		logger.WithError(err).Warn("move not dispatched")
		return k.track(&entry, start, axis.Finished(err))
	}

	logger.WithFields(log.Fields{
		"setpoint": setpoint.String(),
		"prompted": entry.Prompted,
	}).Info("dispatching move")
	return k.track(&entry, start, k.settle(k.dispatch(ctx, setpoint)))
}

// MoveAndWait moves to target and waits up to timeout. A zero timeout
// waits for completion.
func (k *Kappa) MoveAndWait(ctx context.Context, target kinematics.VirtualPosition, timeout time.Duration) error {
	return k.Move(ctx, target).Wait(timeout)
}

// authorize snapshots the axes, converts target and runs the gate.
func (k *Kappa) authorize(ctx context.Context, target kinematics.VirtualPosition, entry *journal.Entry) (kinematics.RealPosition, error) {
	current, err := k.ReadReal()
	if err != nil {
		return kinematics.RealPosition{}, err
	}
	entry.Start = current

	setpoint, err := k.geometry.EToK(target, kinematics.BranchFor(current.Kappa))
	if err != nil {
		return kinematics.RealPosition{}, err
	}
	entry.Setpoint = &setpoint

	rec := k.gate.Evaluate(ctx, setpoint, current, k.StepLimits())
	entry.Decision = rec.Decision.String()
	entry.Prompted = rec.Prompted
	if rec.Decision == safety.Proceed {
		return setpoint, nil
	}

	switch {
	case rec.Err == nil:
		return kinematics.RealPosition{}, errors.MoveAbortedError("operator declined")
	case errors.IsAborted(rec.Err), errors.IsInvalidTarget(rec.Err):
		return kinematics.RealPosition{}, rec.Err
	default:
		return kinematics.RealPosition{}, errors.Wrap(rec.Err, errors.ErrMoveAborted, "move aborted")
	}
}

// dispatch starts the three driver moves concurrently. The moves are
// detached from ctx: once authorized, motion belongs to the drivers.
func (k *Kappa) dispatch(ctx context.Context, sp kinematics.RealPosition) *axis.Status {
	dctx := context.WithoutCancel(ctx)
	moves := []struct {
		d      axis.Driver
		target float64
	}{{k.eta, sp.Eta}, {k.kappa, sp.Kappa}, {k.phi, sp.Phi}}

	children := make([]*axis.Status, len(moves))
	var g errgroup.Group
	for i, m := range moves {
		i, m := i, m
		g.Go(func() error {
			defer func() {
				if perr := errors.FromPanic(recover()); perr != nil {
					children[i] = axis.Finished(errors.HardwareMoveError(m.d.Name(), perr))
				}
			}()
			children[i] = hardwareStatus(m.d.Name(), m.d.Move(dctx, m.target))
			return nil
		})
	}
	_ = g.Wait()
	return axis.All(children...)
}

// hardwareStatus relays st, wrapping any failure as HARDWARE_MOVE on name.
func hardwareStatus(name string, st *axis.Status) *axis.Status {
	out := axis.NewStatus()
	st.AddCallback(func(s *axis.Status) {
		if err := s.Err(); err != nil {
			out.Finish(errors.HardwareMoveError(name, err))
			return
		}
		out.Finish(nil)
	})
	return out
}

// settle resolves after st, refreshing the virtual position first on
// success so callers that wait see the landed position.
func (k *Kappa) settle(st *axis.Status) *axis.Status {
	out := axis.NewStatus()
	st.AddCallback(func(s *axis.Status) {
		if s.Err() == nil {
			k.refresh()
		}
		out.Finish(s.Err())
	})
	return out
}

// track records the outcome of st once it resolves.
func (k *Kappa) track(entry *journal.Entry, start time.Time, st *axis.Status) *axis.Status {
	e := *entry
	st.AddCallback(func(s *axis.Status) {
		err := s.Err()
		e.Outcome = outcomeOf(err)
		e.Duration = time.Since(start)
		if err != nil {
			e.Error = err.Error()
		}

		k.metrics.RecordMove(e.Outcome, e.Duration)
		switch e.Outcome {
		case journal.OutcomeSuccess:
			k.logger.WithFields(log.Fields{"move": e.ID, "duration": e.Duration.String()}).Info("move complete")
		case journal.OutcomeHardware, journal.OutcomeTimeout:
			k.logger.WithFields(log.Fields{"move": e.ID, "outcome": e.Outcome}).WithError(err).Error("move failed")
		}

		if k.journal != nil {
			if jerr := k.journal.Append(context.Background(), e); jerr != nil {
				k.logger.WithError(jerr).Warn("journal append failed")
			}
		}
	})
	return st
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return journal.OutcomeSuccess
	case errors.Is(err, errors.ErrMoveBusy):
		return journal.OutcomeBusy
	case errors.Is(err, errors.ErrMoveTimeout):
		return journal.OutcomeTimeout
	case errors.IsHardware(err):
		return journal.OutcomeHardware
	case errors.IsAborted(err):
		return journal.OutcomeAborted
	case errors.IsInvalidTarget(err):
		return journal.OutcomeInvalidTarget
	default:
		return journal.OutcomeError
	}
}

// Subscribe registers fn for recomputed virtual positions.
func (k *Kappa) Subscribe(fn func(kinematics.VirtualPosition)) (cancel func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id := k.nextSub
	k.nextSub++
	k.subs[id] = fn
	return func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		delete(k.subs, id)
	}
}

// refresh recomputes the virtual position and notifies subscribers.
func (k *Kappa) refresh() {
	v, err := k.ReadVirtual()
	if err != nil {
		k.logger.WithError(err).Debug("readback failed")
		return
	}
	k.mu.RLock()
	subs := make([]func(kinematics.VirtualPosition), 0, len(k.subs))
	for _, fn := range k.subs {
		subs = append(subs, fn)
	}
	k.mu.RUnlock()
	for _, fn := range subs {
		fn(v)
	}
}

// Close drops the driver subscriptions.
func (k *Kappa) Close() {
	k.mu.Lock()
	unsub := k.unsubscribe
	k.unsubscribe = nil
	k.mu.Unlock()
	for _, fn := range unsub {
		fn()
	}
}
