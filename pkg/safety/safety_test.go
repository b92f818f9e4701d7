package safety

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kappa-stage/pkg/kinematics"
)

// Mock implementations for testing

type mockProvider struct {
	mu     sync.Mutex
	answer bool
	err    error
	calls  int
	last   Comparison
}

func (p *mockProvider) Ask(ctx context.Context, c Comparison) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = c
	return p.answer, p.err
}

var current = kinematics.RealPosition{Eta: 10, Kappa: 20, Phi: 30}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "proceed", Proceed.String())
	assert.Equal(t, "abort", Abort.String())
	assert.Equal(t, "unknown", Decision(7).String())
}

func TestAuthorizeWithinLimitsDoesNotPrompt(t *testing.T) {
	p := &mockProvider{answer: false}
	g := NewGate(kinematics.DefaultGeometry(), p)

	target := kinematics.RealPosition{Eta: 9, Kappa: 19, Phi: 29}
	d := g.Authorize(context.Background(), target, current, DefaultStepLimits())

	assert.Equal(t, Proceed, d)
	assert.Equal(t, 0, p.calls)
}

func TestAuthorizeBeyondLimitsPromptsOnce(t *testing.T) {
	target := kinematics.RealPosition{Eta: 5, Kappa: 14, Phi: 23}
	tests := []struct {
		name   string
		answer bool
		want   Decision
	}{
		{"approved", true, Proceed},
		{"declined", false, Abort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvider{answer: tt.answer}
			g := NewGate(kinematics.DefaultGeometry(), p)

			d := g.Authorize(context.Background(), target, current, DefaultStepLimits())
			assert.Equal(t, tt.want, d)
			assert.Equal(t, 1, p.calls)
			assert.Equal(t, []string{"eta", "kappa", "phi"}, p.last.Exceeded)
			assert.Equal(t, current, p.last.Current)
			assert.Equal(t, target, p.last.Target)
		})
	}
}

func TestAuthorizeAtLimitPrompts(t *testing.T) {
	p := &mockProvider{answer: true}
	g := NewGate(kinematics.DefaultGeometry(), p)

	target := kinematics.RealPosition{Eta: 12, Kappa: 20, Phi: 30}
	assert.Equal(t, Proceed, g.Authorize(context.Background(), target, current, DefaultStepLimits()))
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, []string{"eta"}, p.last.Exceeded)
}

func TestAuthorizeAbortsOnErrorOrCancel(t *testing.T) {
	target := kinematics.RealPosition{Eta: 50, Kappa: 20, Phi: 30}

	p := &mockProvider{answer: true, err: errors.New("dialog closed")}
	g := NewGate(kinematics.DefaultGeometry(), p)
	assert.Equal(t, Abort, g.Authorize(context.Background(), target, current, DefaultStepLimits()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p = &mockProvider{answer: true}
	g = NewGate(kinematics.DefaultGeometry(), p)
	assert.Equal(t, Abort, g.Authorize(ctx, target, current, DefaultStepLimits()))
	assert.Equal(t, 1, p.calls)

	g = NewGate(kinematics.DefaultGeometry(), nil)
	assert.Equal(t, Abort, g.Authorize(context.Background(), target, current, DefaultStepLimits()))
}

func TestAuthorizeRejectsNonFiniteTarget(t *testing.T) {
	p := &mockProvider{answer: true}
	g := NewGate(kinematics.DefaultGeometry(), p)

	var rec Record
	g.OnDecision(func(r Record) { rec = r })

	target := kinematics.RealPosition{Eta: math.NaN(), Kappa: 20, Phi: 30}
	assert.Equal(t, Abort, g.Authorize(context.Background(), target, current, DefaultStepLimits()))
	assert.Equal(t, 0, p.calls)
	assert.Error(t, rec.Err)
	assert.Error(t, g.Check(target))
}

func TestOnDecisionRecords(t *testing.T) {
	p := &mockProvider{answer: false}
	g := NewGate(kinematics.DefaultGeometry(), p)

	var records []Record
	g.OnDecision(func(r Record) { records = append(records, r) })

	g.Authorize(context.Background(), kinematics.RealPosition{Eta: 10.5, Kappa: 20, Phi: 30}, current, DefaultStepLimits())
	g.Authorize(context.Background(), kinematics.RealPosition{Eta: 40, Kappa: 20, Phi: 30}, current, DefaultStepLimits())

	require.Len(t, records, 2)
	assert.False(t, records[0].Prompted)
	assert.Equal(t, Proceed, records[0].Decision)
	assert.True(t, records[1].Prompted)
	assert.Equal(t, Abort, records[1].Decision)
}

func TestStepLimits(t *testing.T) {
	l := StepLimits{Eta: 1, Kappa: 2, Phi: 3}
	d := kinematics.RealPosition{Eta: -1, Kappa: 1.99, Phi: 3}
	assert.Equal(t, []string{"eta", "phi"}, l.Exceeded(d))
	assert.False(t, l.Within(d))
	assert.True(t, l.Within(kinematics.RealPosition{}))

	require.NoError(t, DefaultStepLimits().Validate())
	assert.Error(t, StepLimits{Eta: -1, Kappa: 2, Phi: 2}.Validate())
	assert.Error(t, StepLimits{Eta: 1, Kappa: math.Inf(1), Phi: 2}.Validate())
}

func TestComparison(t *testing.T) {
	g := kinematics.DefaultGeometry()
	target := kinematics.RealPosition{Eta: 5, Kappa: 14, Phi: 23}
	c := NewComparison(g, current, target, DefaultStepLimits())

	rows := c.Rows()
	require.Len(t, rows, 6)
	assert.Equal(t, "eta", rows[0].Axis)
	assert.InDelta(t, -5.0, rows[0].Delta, 1e-12)
	assert.True(t, rows[0].Exceeded)
	assert.Equal(t, "e_chi", rows[4].Axis)
	assert.InDelta(t, 15.28854011258886, rows[4].Current, 1e-9)
	assert.True(t, math.IsNaN(rows[4].Limit))

	assert.Equal(t, kinematics.RealPosition{Eta: 5, Kappa: 6, Phi: 7}, c.Displacement())

	out := c.String()
	for _, want := range []string{"axis", "e_eta", "e_phi", "step limit exceeded on: eta, kappa, phi"} {
		assert.True(t, strings.Contains(out, want), "missing %q in\n%s", want, out)
	}
}

func TestEvaluateCarriesProviderError(t *testing.T) {
	cause := errors.New("operator unreachable")
	p := &mockProvider{answer: true, err: cause}
	g := NewGate(kinematics.DefaultGeometry(), p)

	rec := g.Evaluate(context.Background(), kinematics.RealPosition{Eta: 50, Kappa: 20, Phi: 30}, current, DefaultStepLimits())
	assert.Equal(t, Abort, rec.Decision)
	assert.True(t, rec.Prompted)
	assert.ErrorIs(t, rec.Err, cause)
	assert.False(t, rec.Time.IsZero())
}
