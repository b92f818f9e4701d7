package journal

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kappa-stage/pkg/kinematics"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndRecent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	setpoint := kinematics.RealPosition{Eta: 5, Kappa: 14, Phi: 23}
	first := Entry{
		Stage:     "kappa",
		Time:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Requested: kinematics.VirtualPosition{EEta: 3, EChi: 5, EPhi: 7},
		Start:     kinematics.RealPosition{Eta: 10, Kappa: 20, Phi: 30},
		Setpoint:  &setpoint,
		Decision:  "abort",
		Prompted:  true,
		Outcome:   OutcomeAborted,
		Error:     "[MOVE_ABORTED] operator declined",
		Duration:  250 * time.Millisecond,
	}
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Append(ctx, Entry{
		Stage:     "kappa",
		Requested: kinematics.VirtualPosition{EChi: 500},
		Outcome:   OutcomeInvalidTarget,
	}))
	require.NoError(t, s.Append(ctx, Entry{Stage: "other", Outcome: OutcomeSuccess}))

	got, err := s.Recent(ctx, "kappa", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, OutcomeInvalidTarget, got[0].Outcome)
	assert.Nil(t, got[0].Setpoint)
	assert.Empty(t, got[0].Decision)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Time.IsZero())

	old := got[1]
	assert.Equal(t, first.Requested, old.Requested)
	assert.Equal(t, first.Start, old.Start)
	require.NotNil(t, old.Setpoint)
	assert.Equal(t, setpoint, *old.Setpoint)
	assert.Equal(t, "abort", old.Decision)
	assert.True(t, old.Prompted)
	assert.Equal(t, first.Error, old.Error)
	assert.Equal(t, first.Duration, old.Duration)
	assert.True(t, first.Time.Equal(old.Time))

	all, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := s.Recent(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "other", limited[0].Stage)

	n, err := s.Count(ctx, "kappa")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDuplicateIDRejected(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	e := Entry{ID: "move-1", Stage: "kappa", Outcome: OutcomeSuccess}
	require.NoError(t, s.Append(ctx, e))
	assert.Error(t, s.Append(ctx, e))
}

func TestReopenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kappa.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), Entry{Stage: "kappa", Outcome: OutcomeSuccess}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAppendNonFiniteTarget(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Entry{
		Stage:     "kappa",
		Requested: kinematics.VirtualPosition{EEta: math.NaN(), EChi: math.Inf(1), EPhi: math.Inf(-1)},
		Start:     kinematics.RealPosition{Eta: 10, Kappa: 20, Phi: 30},
		Outcome:   OutcomeInvalidTarget,
	}))

	got, err := s.Recent(ctx, "kappa", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, math.IsNaN(got[0].Requested.EEta))
	assert.True(t, math.IsInf(got[0].Requested.EChi, 1))
	assert.True(t, math.IsInf(got[0].Requested.EPhi, -1))
	assert.Equal(t, kinematics.RealPosition{Eta: 10, Kappa: 20, Phi: 30}, got[0].Start)
}

func TestTripleEncoding(t *testing.T) {
	assert.Equal(t, `[1.5,-2,"NaN"]`, encodeTriple(1.5, -2, math.NaN()))

	v, err := decodeTriple(`[1.5,-2,"+Inf"]`)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{1.5, -2, math.Inf(1)}, v)

	_, err = decodeTriple(`[1,2]`)
	assert.Error(t, err)
	_, err = decodeTriple(`["x",2,3]`)
	assert.Error(t, err)
}
