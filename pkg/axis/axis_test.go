package axis

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	kerrors "kappa-stage/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestStatusFinishOnce(t *testing.T) {
	s := NewStatus()
	assert.False(t, s.IsDone())
	assert.False(t, s.Success())

	s.Finish(nil)
	s.Finish(errors.New("late"))

	assert.True(t, s.IsDone())
	assert.True(t, s.Success())
	assert.NoError(t, s.Err())
}

func TestStatusCallbacks(t *testing.T) {
	var calls atomic.Int32
	s := NewStatus()
	s.AddCallback(func(*Status) { calls.Add(1) })
	assert.Equal(t, int32(0), calls.Load())

	s.Finish(nil)
	assert.Equal(t, int32(1), calls.Load())

	// Already resolved: runs immediately.
	s.AddCallback(func(*Status) { calls.Add(1) })
	assert.Equal(t, int32(2), calls.Load())
}

func TestStatusWaitTimeout(t *testing.T) {
	s := NewStatus()
	err := s.Wait(10 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, kerrors.Is(err, kerrors.ErrMoveTimeout))
	assert.True(t, s.IsDone())
	assert.False(t, s.Success())
}

func TestStatusWaitContextDoesNotResolve(t *testing.T) {
	s := NewStatus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.WaitContext(ctx), context.Canceled)
	assert.False(t, s.IsDone())
}

func TestAll(t *testing.T) {
	a, b, c := NewStatus(), NewStatus(), NewStatus()
	agg := All(a, b, c)

	a.Finish(nil)
	b.Finish(nil)
	assert.False(t, agg.IsDone())

	c.Finish(nil)
	require.NoError(t, agg.Wait(time.Second))
	assert.True(t, agg.Success())
}

func TestAllCarriesFailure(t *testing.T) {
	cause := errors.New("stalled")
	agg := All(Finished(nil), Finished(cause), Finished(nil))
	err := agg.Wait(time.Second)
	assert.ErrorIs(t, err, cause)
	assert.False(t, agg.Success())
}

func TestSimAxisImmediateMove(t *testing.T) {
	a := NewSimAxis("eta", 10)
	var seen []float64
	cancel := a.Subscribe(func(p float64) { seen = append(seen, p) })
	defer cancel()

	st := a.Move(context.Background(), 12.5)
	require.True(t, st.IsDone())
	require.NoError(t, st.Err())

	pos, err := a.Position()
	require.NoError(t, err)
	assert.Equal(t, 12.5, pos)
	assert.Equal(t, []float64{12.5}, seen)
}

func TestSimAxisTimedMove(t *testing.T) {
	a := NewSimAxis("kappa", 0)
	a.SetSpeed(1000)

	st := a.Move(context.Background(), 5)
	require.NoError(t, st.Wait(time.Second))
	pos, _ := a.Position()
	assert.Equal(t, 5.0, pos)
	assert.False(t, a.IsMoving())
}

func TestSimAxisCancelledMove(t *testing.T) {
	a := NewSimAxis("phi", 0)
	a.SetSpeed(1)

	ctx, cancel := context.WithCancel(context.Background())
	st := a.Move(ctx, 90)
	assert.True(t, a.IsMoving())
	cancel()

	err := st.Wait(time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	pos, _ := a.Position()
	assert.Equal(t, 0.0, pos)
}

func TestSimAxisFaultAndInvalidSetpoint(t *testing.T) {
	a := NewSimAxis("eta", 1)
	cause := errors.New("following error")
	a.InjectFault(cause)

	st := a.Move(context.Background(), 2)
	assert.ErrorIs(t, st.Err(), cause)
	pos, _ := a.Position()
	assert.Equal(t, 1.0, pos)

	// Fault is consumed by one move.
	assert.NoError(t, a.Move(context.Background(), 2).Err())

	st = a.Move(context.Background(), math.NaN())
	assert.Error(t, st.Err())
}
