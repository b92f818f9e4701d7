package positioner

import (
	"context"
	"fmt"
	"strings"

	"kappa-stage/pkg/axis"
	"kappa-stage/pkg/kinematics"
	"kappa-stage/pkg/safety"
)

// VirtualAxis is one of e_eta, e_chi or e_phi. It satisfies axis.Driver, so
// it can be scanned like a native axis.
type VirtualAxis struct {
	k    *Kappa
	name string
	get  func(kinematics.VirtualPosition) float64
	set  func(*kinematics.VirtualPosition, float64)
}

var _ axis.Driver = (*VirtualAxis)(nil)

// Name returns the axis name.
func (a *VirtualAxis) Name() string { return a.name }

// Position reads the stage and returns this coordinate.
func (a *VirtualAxis) Position() (float64, error) {
	v, err := a.k.ReadVirtual()
	if err != nil {
		return 0, err
	}
	return a.get(v), nil
}

// Target returns the full virtual target for moving this axis to value,
// with the other two held at their last computed values.
func (a *VirtualAxis) Target(value float64) (kinematics.VirtualPosition, error) {
	v, err := a.k.LastVirtual()
	if err != nil {
		return kinematics.VirtualPosition{}, err
	}
	a.set(&v, value)
	return v, nil
}

// Move moves this coordinate to value through the stage.
func (a *VirtualAxis) Move(ctx context.Context, value float64) *axis.Status {
	target, err := a.Target(value)
	if err != nil {
		return axis.Finished(err)
	}
	return a.k.Move(ctx, target)
}

// CheckValue reports whether value is reachable for this coordinate.
func (a *VirtualAxis) CheckValue(value float64) error {
	target, err := a.Target(value)
	if err != nil {
		return err
	}
	return a.k.CheckValue(target)
}

// StageStatus is a display snapshot of the stage.
type StageStatus struct {
	Name    string
	Real    kinematics.RealPosition
	Virtual kinematics.VirtualPosition
	Branch  kinematics.Branch
	Limits  safety.StepLimits
}

// Status reads the stage into a StageStatus.
func (k *Kappa) Status() (StageStatus, error) {
	rp, err := k.ReadReal()
	if err != nil {
		return StageStatus{}, err
	}
	b := kinematics.BranchFor(rp.Kappa)
	v := k.geometry.KToE(rp, b)
	k.mu.Lock()
	k.lastVirtual, k.haveVirtual = v, true
	k.mu.Unlock()
	return StageStatus{
		Name:    k.name,
		Real:    rp,
		Virtual: v,
		Branch:  b,
		Limits:  k.StepLimits(),
	}, nil
}

// Table renders the stage position as a two-column table.
func (s StageStatus) Table() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s branch)\n", s.Name, s.Branch)
	fmt.Fprintf(&sb, "  %-6s %10.4f   %-6s %10.4f\n", "eta", s.Real.Eta, "e_eta", s.Virtual.EEta)
	fmt.Fprintf(&sb, "  %-6s %10.4f   %-6s %10.4f\n", "kappa", s.Real.Kappa, "e_chi", s.Virtual.EChi)
	fmt.Fprintf(&sb, "  %-6s %10.4f   %-6s %10.4f\n", "phi", s.Real.Phi, "e_phi", s.Virtual.EPhi)
	fmt.Fprintf(&sb, "  step limits: %s\n", s.Limits)
	return sb.String()
}

// Table reads the stage and renders it.
func (k *Kappa) Table() (string, error) {
	s, err := k.Status()
	if err != nil {
		return "", err
	}
	return s.Table(), nil
}
