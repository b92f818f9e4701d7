package safety

import (
	"fmt"
	"math"

	"kappa-stage/pkg/errors"
	"kappa-stage/pkg/kinematics"
)

// DefaultMaxStep is the per-axis displacement, in degrees, allowed without
// confirmation.
const DefaultMaxStep = 2.0

// StepLimits bounds the native-axis displacement of an unconfirmed move.
type StepLimits struct {
	Eta   float64 `yaml:"eta" json:"eta"`
	Kappa float64 `yaml:"kappa" json:"kappa"`
	Phi   float64 `yaml:"phi" json:"phi"`
}

// DefaultStepLimits returns 2 degrees on every axis.
func DefaultStepLimits() StepLimits {
	return StepLimits{Eta: DefaultMaxStep, Kappa: DefaultMaxStep, Phi: DefaultMaxStep}
}

// Validate rejects negative or non-finite limits.
func (l StepLimits) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{{"eta_max_step", l.Eta}, {"kappa_max_step", l.Kappa}, {"phi_max_step", l.Phi}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return errors.ConfigValidationError(f.name, fmt.Sprintf("value %v must be a finite, non-negative number", f.v))
		}
	}
	return nil
}

// Exceeded returns the axes whose displacement is at or above the limit.
func (l StepLimits) Exceeded(d kinematics.RealPosition) []string {
	var out []string
	if math.Abs(d.Eta) >= l.Eta {
		out = append(out, "eta")
	}
	if math.Abs(d.Kappa) >= l.Kappa {
		out = append(out, "kappa")
	}
	if math.Abs(d.Phi) >= l.Phi {
		out = append(out, "phi")
	}
	return out
}

// Within reports whether every displacement is strictly below its limit.
func (l StepLimits) Within(d kinematics.RealPosition) bool {
	return len(l.Exceeded(d)) == 0
}

func (l StepLimits) String() string {
	return fmt.Sprintf("(eta=%g, kappa=%g, phi=%g)", l.Eta, l.Kappa, l.Phi)
}
