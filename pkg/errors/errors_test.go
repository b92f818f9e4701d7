package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *StageError
		want string
	}{
		{"plain", MoveAbortedError("operator declined"), "[MOVE_ABORTED] move aborted: operator declined"},
		{"axis", HardwareMoveError("kappa", fmt.Errorf("stall")), "[HARDWARE_MOVE:kappa] axis move failed: stall"},
		{"busy", MoveBusyError(), "[MOVE_BUSY] another move is awaiting confirmation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsFollowsWrappedChain(t *testing.T) {
	cause := stderrors.New("limit switch")
	hw := HardwareMoveError("eta", cause)
	wrapped := fmt.Errorf("aggregate: %w", hw)

	assert.True(t, IsHardware(wrapped))
	assert.False(t, IsAborted(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, ErrHardwareMove, CodeOf(wrapped))

	nested := Wrap(InvalidTargetError("(0,0,0)", "bad"), ErrKinematics, "transform")
	assert.True(t, Is(nested, ErrKinematics))
	assert.True(t, IsInvalidTarget(nested))
	assert.False(t, Is(nil, ErrKinematics))
	assert.Equal(t, ErrorCode(""), CodeOf(cause))
}

func TestSetContext(t *testing.T) {
	err := InvalidTargetError("(1,2,3)", "unreachable")
	require.NotNil(t, err.Context)
	assert.Equal(t, "(1,2,3)", err.Context["target"])
	err.SetContext("branch", "flipped")
	assert.Equal(t, "flipped", err.Context["branch"])
}

func TestFromPanic(t *testing.T) {
	recovered := func() (err *StageError) {
		defer func() { err = FromPanic(recover()) }()
		panic("boom")
	}()
	require.NotNil(t, recovered)
	assert.Equal(t, ErrRuntime, recovered.Code)
	assert.Contains(t, recovered.Error(), "boom")

	assert.Nil(t, FromPanic(nil))

	cause := fmt.Errorf("bad index")
	wrapped := FromPanic(cause)
	assert.ErrorIs(t, wrapped, cause)
}
