// Package kinematics provides the coordinate transform between the native
// axes of a kappa goniometer (eta, kappa, phi) and the spherical axes
// presented to operators (e_eta, e_chi, e_phi).
package kinematics

import (
	"fmt"
	"math"

	"kappa-stage/pkg/errors"
)

// DefaultKappaAng is the mechanical offset between the kappa and eta axes.
const DefaultKappaAng = 50.0

// RealPosition is a native-axis position in degrees.
type RealPosition struct {
	Eta   float64
	Kappa float64
	Phi   float64
}

// VirtualPosition is a spherical position in degrees: azimuth, elevation
// and sample rotation.
type VirtualPosition struct {
	EEta float64
	EChi float64
	EPhi float64
}

// Sub returns the per-axis difference p - o.
func (p RealPosition) Sub(o RealPosition) RealPosition {
	return RealPosition{Eta: p.Eta - o.Eta, Kappa: p.Kappa - o.Kappa, Phi: p.Phi - o.Phi}
}

// Abs returns the per-axis magnitude.
func (p RealPosition) Abs() RealPosition {
	return RealPosition{Eta: math.Abs(p.Eta), Kappa: math.Abs(p.Kappa), Phi: math.Abs(p.Phi)}
}

// IsFinite reports whether no coordinate is NaN or infinite.
func (p RealPosition) IsFinite() bool {
	return finite(p.Eta) && finite(p.Kappa) && finite(p.Phi)
}

func (p RealPosition) String() string {
	return fmt.Sprintf("(eta=%.4f, kappa=%.4f, phi=%.4f)", p.Eta, p.Kappa, p.Phi)
}

// IsFinite reports whether no coordinate is NaN or infinite.
func (v VirtualPosition) IsFinite() bool {
	return finite(v.EEta) && finite(v.EChi) && finite(v.EPhi)
}

func (v VirtualPosition) String() string {
	return fmt.Sprintf("(e_eta=%.4f, e_chi=%.4f, e_phi=%.4f)", v.EEta, v.EChi, v.EPhi)
}

// Branch selects which of the two native configurations represents a given
// spherical position. The same elevation is reachable with kappa on either
// side of 180 degrees.
type Branch int

const (
	// Primary is the branch with kappa <= 180.
	Primary Branch = iota
	// Flipped is the branch with kappa > 180.
	Flipped
)

func (b Branch) String() string {
	switch b {
	case Primary:
		return "primary"
	case Flipped:
		return "flipped"
	default:
		return "unknown"
	}
}

// BranchFor returns the branch occupied by a mechanical kappa reading.
func BranchFor(kappa float64) Branch {
	if kappa > 180 {
		return Flipped
	}
	return Primary
}

// Geometry holds the calibration of one kappa stage. It is immutable; every
// transform for a device goes through the same value.
type Geometry struct {
	KappaAng float64 // degrees
}

// NewGeometry creates a validated geometry.
func NewGeometry(kappaAng float64) (Geometry, error) {
	g := Geometry{KappaAng: kappaAng}
	if err := g.Validate(); err != nil {
		return Geometry{}, err
	}
	return g, nil
}

// DefaultGeometry returns the 50 degree geometry.
func DefaultGeometry() Geometry {
	return Geometry{KappaAng: DefaultKappaAng}
}

// Validate rejects angles for which the forward transform is undefined.
func (g Geometry) Validate() error {
	if !finite(g.KappaAng) || g.KappaAng <= 0 || g.KappaAng > 90 {
		return errors.KinematicsError(fmt.Sprintf("kappa_ang %v must be in (0, 90]", g.KappaAng))
	}
	return nil
}

// KToE converts native positions to spherical positions.
func (g Geometry) KToE(rp RealPosition, b Branch) VirtualPosition {
	ang := rad(g.KappaAng)
	half := rad(rp.Kappa) / 2

	delta := deg(math.Atan(math.Tan(half) * math.Cos(ang)))
	v := VirtualPosition{
		EEta: -rp.Eta - delta,
		EChi: deg(2 * math.Asin(math.Sin(half)*math.Sin(ang))),
		EPhi: -rp.Phi - delta,
	}
	if b == Flipped {
		v.EEta = 180 - v.EEta
		// phi enters un-negated on this branch
		v.EPhi = rp.Phi - delta
	}
	return v
}

// EToK converts spherical positions to native positions, continuing along
// branch b. It returns an INVALID_TARGET error when the elevation is not
// reachable with this geometry.
func (g Geometry) EToK(v VirtualPosition, b Branch) (RealPosition, error) {
	if !v.IsFinite() {
		return RealPosition{}, errors.InvalidTargetError(v.String(), "non-finite coordinate")
	}
	ang := rad(g.KappaAng)
	half := rad(v.EChi) / 2

	deltaRatio := -math.Tan(half) / math.Tan(ang)
	kappaRatio := math.Sin(half) / math.Sin(ang)
	if math.Abs(deltaRatio) > 1 || math.Abs(kappaRatio) > 1 {
		return RealPosition{}, errors.InvalidTargetError(v.String(),
			fmt.Sprintf("e_chi %.4f unreachable with kappa_ang %.4f", v.EChi, g.KappaAng))
	}

	delta := deg(math.Asin(deltaRatio))
	rp := RealPosition{
		Eta:   -(v.EEta - delta),
		Kappa: deg(2 * math.Asin(kappaRatio)),
		Phi:   -(v.EPhi - delta),
	}
	if b == Flipped {
		rp.Eta = -rp.Eta - 180
		rp.Kappa = 360 - rp.Kappa
		rp.Phi = v.EPhi + delta
	}
	if !rp.IsFinite() {
		return RealPosition{}, errors.InvalidTargetError(v.String(), "transform produced a non-finite setpoint")
	}
	return rp, nil
}

// MaxElevation is the largest |e_chi| reachable with this geometry.
func (g Geometry) MaxElevation() float64 {
	return 2 * g.KappaAng
}

func rad(d float64) float64 { return d * math.Pi / 180.0 }
func deg(r float64) float64 { return r * 180.0 / math.Pi }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
