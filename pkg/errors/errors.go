// Unified error handling for the kappa stage
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Kinematics errors
	ErrKinematics    ErrorCode = "KINEMATICS"
	ErrInvalidTarget ErrorCode = "INVALID_TARGET"

	// Motion errors
	ErrMoveAborted  ErrorCode = "MOVE_ABORTED"
	ErrHardwareMove ErrorCode = "HARDWARE_MOVE"
	ErrMoveBusy     ErrorCode = "MOVE_BUSY"
	ErrMoveTimeout  ErrorCode = "MOVE_TIMEOUT"

	// Runtime errors
	ErrRuntime ErrorCode = "RUNTIME"
)

// StageError is the unified error type for the stage
type StageError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Axis names the axis involved (if applicable)
	Axis string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *StageError) Error() string {
	prefix := string(e.Code)
	if e.Axis != "" {
		prefix += ":" + e.Axis
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

// Unwrap returns the underlying error
func (e *StageError) Unwrap() error {
	return e.Err
}

// SetAxis sets the axis name
func (e *StageError) SetAxis(axis string) *StageError {
	e.Axis = axis
	return e
}

// SetContext adds additional context
func (e *StageError) SetContext(key string, value interface{}) *StageError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *StageError {
	return &StageError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new StageError
func New(code ErrorCode, message string) *StageError {
	return &StageError{
		Code:    code,
		Message: message,
	}
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(option string, reason string) *StageError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s': %s", option, reason)).
		SetContext("option", option)
}

// KinematicsError creates a general kinematics error
func KinematicsError(message string) *StageError {
	return New(ErrKinematics, message)
}

// InvalidTargetError creates an error for a target the geometry cannot reach
func InvalidTargetError(target string, reason string) *StageError {
	return New(ErrInvalidTarget, fmt.Sprintf("invalid target %s: %s", target, reason)).
		SetContext("target", target)
}

// MoveAbortedError creates an error for a move the operator declined
func MoveAbortedError(reason string) *StageError {
	return New(ErrMoveAborted, fmt.Sprintf("move aborted: %s", reason))
}

// HardwareMoveError wraps a failure reported by an axis driver
func HardwareMoveError(axis string, err error) *StageError {
	return Wrap(err, ErrHardwareMove, "axis move failed").SetAxis(axis)
}

// MoveBusyError creates an error for a move rejected while another is pending
func MoveBusyError() *StageError {
	return New(ErrMoveBusy, "another move is awaiting confirmation")
}

// MoveTimeoutError creates an error for a status wait that expired
func MoveTimeoutError(timeout interface{}) *StageError {
	return New(ErrMoveTimeout, fmt.Sprintf("move did not complete within %v", timeout))
}

// RuntimeError creates a general runtime error
func RuntimeError(message string) *StageError {
	return New(ErrRuntime, message)
}

// FromPanic converts a recovered panic value to an error. It returns nil for
// a nil value. Call it with the result of recover() inside a deferred func.
func FromPanic(r interface{}) *StageError {
	switch x := r.(type) {
	case nil:
		return nil
	case runtime.Error:
		return Wrap(x, ErrRuntime, "panic")
	case error:
		return Wrap(x, ErrRuntime, "panic")
	case string:
		return RuntimeError(fmt.Sprintf("panic: %s", x))
	default:
		return RuntimeError(fmt.Sprintf("panic: %v", x))
	}
}

// Is checks if any error in the chain carries the given code
func Is(err error, code ErrorCode) bool {
	var se *StageError
	for err != nil {
		if !stderrors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Err
	}
	return false
}

// CodeOf returns the code of the outermost StageError in the chain
func CodeOf(err error) ErrorCode {
	var se *StageError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsInvalidTarget checks if error is an unreachable-target error
func IsInvalidTarget(err error) bool {
	return Is(err, ErrInvalidTarget)
}

// IsAborted checks if error is an operator decline
func IsAborted(err error) bool {
	return Is(err, ErrMoveAborted)
}

// IsHardware checks if error is a driver-reported failure
func IsHardware(err error) bool {
	return Is(err, ErrHardwareMove)
}
