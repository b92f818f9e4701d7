package metrics

import (
	"time"

	"kappa-stage/pkg/kinematics"
	"kappa-stage/pkg/safety"
)

// StageMetrics holds the metrics of one kappa stage. A nil *StageMetrics
// records nothing.
type StageMetrics struct {
	registry *Registry
	stage    string

	MovesTotal         *Counter
	ConfirmationsTotal *Counter
	MoveDuration       *Histogram
	ConfirmWait        *Histogram
	AxisPosition       *Gauge
	StepLimit          *Gauge
}

// NewStageMetrics creates and registers the stage metrics.
func NewStageMetrics(stage string) *StageMetrics {
	m := &StageMetrics{
		registry: NewRegistry(),
		stage:    stage,
		MovesTotal: NewCounter("kappa_moves_total",
			"Moves requested, by outcome"),
		ConfirmationsTotal: NewCounter("kappa_confirmations_total",
			"Gate decisions, by decision and whether the operator was asked"),
		MoveDuration: NewHistogram("kappa_move_duration_seconds",
			"Time from move request to resolution", ExponentialBuckets(0.01, 2, 12)),
		ConfirmWait: NewHistogram("kappa_confirmation_wait_seconds",
			"Time spent waiting for the operator", ExponentialBuckets(0.1, 2, 10)),
		AxisPosition: NewGauge("kappa_axis_position_degrees",
			"Last known native and virtual axis positions"),
		StepLimit: NewGauge("kappa_step_limit_degrees",
			"Configured step limit per native axis"),
	}
	m.registry.MustRegister(m.MovesTotal)
	m.registry.MustRegister(m.ConfirmationsTotal)
	m.registry.MustRegister(m.MoveDuration)
	m.registry.MustRegister(m.ConfirmWait)
	m.registry.MustRegister(m.AxisPosition)
	m.registry.MustRegister(m.StepLimit)
	return m
}

// Registry returns the registry holding the stage metrics.
func (m *StageMetrics) Registry() *Registry {
	return m.registry
}

// Gather renders all stage metrics.
func (m *StageMetrics) Gather() string {
	return m.registry.Gather()
}

// RecordMove counts a resolved move.
func (m *StageMetrics) RecordMove(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.MovesTotal.Inc(Labels{"stage": m.stage, "outcome": outcome})
	m.MoveDuration.Observe(Labels{"stage": m.stage}, d.Seconds())
}

// RecordDecision counts a gate decision.
func (m *StageMetrics) RecordDecision(rec safety.Record) {
	if m == nil {
		return
	}
	prompted := "false"
	if rec.Prompted {
		prompted = "true"
		m.ConfirmWait.Observe(Labels{"stage": m.stage}, rec.Duration.Seconds())
	}
	m.ConfirmationsTotal.Inc(Labels{"stage": m.stage, "decision": rec.Decision.String(), "prompted": prompted})
}

// SetPositions updates the six position gauges.
func (m *StageMetrics) SetPositions(rp kinematics.RealPosition, v kinematics.VirtualPosition) {
	if m == nil {
		return
	}
	for axis, val := range map[string]float64{
		"eta": rp.Eta, "kappa": rp.Kappa, "phi": rp.Phi,
		"e_eta": v.EEta, "e_chi": v.EChi, "e_phi": v.EPhi,
	} {
		m.AxisPosition.Set(Labels{"stage": m.stage, "axis": axis}, val)
	}
}

// SetStepLimits updates the step limit gauges.
func (m *StageMetrics) SetStepLimits(l safety.StepLimits) {
	if m == nil {
		return
	}
	m.StepLimit.Set(Labels{"stage": m.stage, "axis": "eta"}, l.Eta)
	m.StepLimit.Set(Labels{"stage": m.stage, "axis": "kappa"}, l.Kappa)
	m.StepLimit.Set(Labels{"stage": m.stage, "axis": "phi"}, l.Phi)
}
