package kinematics

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kappa-stage/pkg/errors"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

// Reference values for kappa_ang = 50.
func TestKToEReference(t *testing.T) {
	g := DefaultGeometry()
	tests := []struct {
		name   string
		real   RealPosition
		branch Branch
		want   VirtualPosition
	}{
		{
			name:   "stage at (10, 20, 30)",
			real:   RealPosition{Eta: 10, Kappa: 20, Phi: 30},
			branch: Primary,
			want:   VirtualPosition{EEta: -16.466354394274497, EChi: 15.288540112588864, EPhi: -36.46635439427449},
		},
		{
			name:   "stage at (11, 22, 33)",
			real:   RealPosition{Eta: 11, Kappa: 22, Phi: 33},
			branch: Primary,
			want:   VirtualPosition{EEta: -18.121927886338778, EChi: 16.809862422228026, EPhi: -40.12192788633878},
		},
		{
			name:   "(23, 14, 46) primary",
			real:   RealPosition{Eta: 23, Kappa: 14, Phi: 46},
			branch: Primary,
			want:   VirtualPosition{EEta: -27.51268029508058, EChi: 10.713563480515766, EPhi: -50.51268029508058},
		},
		{
			name:   "(23, 14, 46) flipped formula",
			real:   RealPosition{Eta: 23, Kappa: 14, Phi: 46},
			branch: Flipped,
			want:   VirtualPosition{EEta: 207.51268029508058, EChi: 10.713563480515766, EPhi: 41.48731970491942},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.KToE(tt.real, tt.branch)
			if diff := cmp.Diff(tt.want, got, approx); diff != "" {
				t.Errorf("KToE(%v) mismatch (-want +got):\n%s", tt.real, diff)
			}
		})
	}
}

func TestEToKReference(t *testing.T) {
	g := DefaultGeometry()

	got, err := g.EToK(VirtualPosition{EEta: 23, EChi: 14, EPhi: 46}, Primary)
	require.NoError(t, err)
	want := RealPosition{Eta: -28.9135906952099, Kappa: 18.3080599808285, Phi: -51.9135906952099}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("EToK mismatch (-want +got):\n%s", diff)
	}

	got, err = g.EToK(VirtualPosition{EEta: -16.466354394274497, EChi: 15.288540112588864, EPhi: -36.46635439427449}, Primary)
	require.NoError(t, err)
	if diff := cmp.Diff(RealPosition{Eta: 10, Kappa: 20, Phi: 30}, got, approx); diff != "" {
		t.Errorf("EToK of (10, 20, 30) readback (-want +got):\n%s", diff)
	}
}

func TestRoundTripPrimary(t *testing.T) {
	g := DefaultGeometry()
	for _, rp := range []RealPosition{
		{0, 0, 0}, {1, 2, 3}, {10, 20, 30}, {45, 45, 45},
		{6, 2, 6}, {42, 0, 0}, {0, 42, 0}, {0, 0, 42},
		{7, 7, 7}, {-1, -2, -3}, {-10, 25, -30}, {9, -1, 1},
	} {
		t.Run(fmt.Sprint(rp), func(t *testing.T) {
			b := BranchFor(rp.Kappa)
			require.Equal(t, Primary, b)
			back, err := g.EToK(g.KToE(rp, b), b)
			require.NoError(t, err)
			if diff := cmp.Diff(rp, back, approx); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRoundTripFlipped(t *testing.T) {
	g := DefaultGeometry()
	for _, rp := range []RealPosition{
		{0, 225, 0}, {1, 227, 3}, {10, 245, 30}, {45, 270, 45},
		{6, 227, 6}, {42, 225, 0}, {0, 267, 0}, {0, 225, 42},
		{7, 232, 7}, {-1, 223, -3}, {-10, 250, -30}, {9, 224, 1},
	} {
		t.Run(fmt.Sprint(rp), func(t *testing.T) {
			b := BranchFor(rp.Kappa)
			require.Equal(t, Flipped, b)
			back, err := g.EToK(g.KToE(rp, b), b)
			require.NoError(t, err)
			if diff := cmp.Diff(rp, back, approx); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRoundTripVirtual(t *testing.T) {
	g := DefaultGeometry()
	for _, v := range []VirtualPosition{
		{3, 5, 7}, {45, 45, 45}, {-16.5, 15.3, -36.5}, {0, 0, 0}, {-120, 80, 33},
	} {
		for _, b := range []Branch{Primary, Flipped} {
			rp, err := g.EToK(v, b)
			require.NoError(t, err)
			assert.Equal(t, b, BranchFor(rp.Kappa), "EToK(%v, %v) left its branch: %v", v, b, rp)
			back := g.KToE(rp, b)
			if diff := cmp.Diff(v, back, approx); diff != "" {
				t.Errorf("%v on %v (-want +got):\n%s", v, b, diff)
			}
		}
	}
}

func TestEToKUnreachable(t *testing.T) {
	g := DefaultGeometry()
	tests := []VirtualPosition{
		{0, 101, 0},
		{0, -150, 0},
		{math.NaN(), 10, 0},
		{0, 10, math.Inf(1)},
	}
	for _, v := range tests {
		_, err := g.EToK(v, Primary)
		require.Error(t, err, "%v", v)
		assert.True(t, errors.IsInvalidTarget(err), "%v: %v", v, err)
	}

	_, err := g.EToK(VirtualPosition{EChi: g.MaxElevation() - 1e-6}, Primary)
	assert.NoError(t, err)
}

func TestBranchFor(t *testing.T) {
	assert.Equal(t, Primary, BranchFor(0))
	assert.Equal(t, Primary, BranchFor(180))
	assert.Equal(t, Flipped, BranchFor(180.0001))
	assert.Equal(t, Flipped, BranchFor(359))
	assert.Equal(t, "primary", Primary.String())
	assert.Equal(t, "flipped", Flipped.String())
}

func TestGeometryValidate(t *testing.T) {
	for _, ang := range []float64{0, -5, 91, math.NaN()} {
		_, err := NewGeometry(ang)
		assert.Error(t, err, "kappa_ang %v", ang)
	}
	g, err := NewGeometry(60)
	require.NoError(t, err)
	assert.Equal(t, 120.0, g.MaxElevation())
}
