package safety

import (
	"fmt"
	"math"
	"strings"

	"kappa-stage/pkg/kinematics"
)

// Comparison is what the operator sees before approving a large move:
// current vs target for the three native and three virtual axes.
type Comparison struct {
	Current        kinematics.RealPosition
	Target         kinematics.RealPosition
	CurrentVirtual kinematics.VirtualPosition
	TargetVirtual  kinematics.VirtualPosition
	Limits         StepLimits
	Exceeded       []string
}

// ComparisonRow is one line of the comparison table. Limit is NaN for
// virtual axes, which have no step limit.
type ComparisonRow struct {
	Axis     string
	Current  float64
	Target   float64
	Delta    float64
	Limit    float64
	Exceeded bool
}

// NewComparison builds the comparison for a move, computing each side's
// virtual position on the branch of its own kappa.
func NewComparison(g kinematics.Geometry, current, target kinematics.RealPosition, limits StepLimits) Comparison {
	return Comparison{
		Current:        current,
		Target:         target,
		CurrentVirtual: g.KToE(current, kinematics.BranchFor(current.Kappa)),
		TargetVirtual:  g.KToE(target, kinematics.BranchFor(target.Kappa)),
		Limits:         limits,
		Exceeded:       limits.Exceeded(target.Sub(current)),
	}
}

// Displacement returns the absolute native-axis displacement.
func (c Comparison) Displacement() kinematics.RealPosition {
	return c.Target.Sub(c.Current).Abs()
}

// Rows returns the table rows, native axes first.
func (c Comparison) Rows() []ComparisonRow {
	exceeded := make(map[string]bool, len(c.Exceeded))
	for _, name := range c.Exceeded {
		exceeded[name] = true
	}
	nan := math.NaN()
	return []ComparisonRow{
		{"eta", c.Current.Eta, c.Target.Eta, c.Target.Eta - c.Current.Eta, c.Limits.Eta, exceeded["eta"]},
		{"kappa", c.Current.Kappa, c.Target.Kappa, c.Target.Kappa - c.Current.Kappa, c.Limits.Kappa, exceeded["kappa"]},
		{"phi", c.Current.Phi, c.Target.Phi, c.Target.Phi - c.Current.Phi, c.Limits.Phi, exceeded["phi"]},
		{"e_eta", c.CurrentVirtual.EEta, c.TargetVirtual.EEta, c.TargetVirtual.EEta - c.CurrentVirtual.EEta, nan, false},
		{"e_chi", c.CurrentVirtual.EChi, c.TargetVirtual.EChi, c.TargetVirtual.EChi - c.CurrentVirtual.EChi, nan, false},
		{"e_phi", c.CurrentVirtual.EPhi, c.TargetVirtual.EPhi, c.TargetVirtual.EPhi - c.CurrentVirtual.EPhi, nan, false},
	}
}

// String renders the comparison as a fixed-width table.
func (c Comparison) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-6s %12s %12s %12s %8s\n", "axis", "current", "target", "delta", "limit")
	for _, r := range c.Rows() {
		limit := "-"
		if !math.IsNaN(r.Limit) {
			limit = fmt.Sprintf("%g", r.Limit)
		}
		mark := ""
		if r.Exceeded {
			mark = " *"
		}
		fmt.Fprintf(&sb, "%-6s %12.4f %12.4f %12.4f %8s%s\n", r.Axis, r.Current, r.Target, r.Delta, limit, mark)
	}
	if len(c.Exceeded) > 0 {
		fmt.Fprintf(&sb, "step limit exceeded on: %s\n", strings.Join(c.Exceeded, ", "))
	}
	return sb.String()
}
