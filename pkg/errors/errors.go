// Unified error handling for the NMR sequencer
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Sequence construction errors
	ErrConfig          ErrorCode = "CONFIG"
	ErrInvalidCommand  ErrorCode = "INVALID_COMMAND"
	ErrInvalidSweep    ErrorCode = "INVALID_SWEEP"
	ErrShapeMismatch   ErrorCode = "SHAPE_MISMATCH"
	ErrEmptySequence   ErrorCode = "EMPTY_SEQUENCE"
	ErrInterlockTiming ErrorCode = "INTERLOCK_TIMING"

	// Supporting layers
	ErrSettingsValidation ErrorCode = "SETTINGS_VALIDATION"
	ErrInterlockViolation ErrorCode = "INTERLOCK_VIOLATION"
	ErrExecution          ErrorCode = "EXECUTION"
	ErrDataSave           ErrorCode = "DATA_SAVE"
)

// ExperimentError is the error type returned by every package of the sequencer
type ExperimentError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Channel is the hardware channel involved (if applicable)
	Channel string

	// Operation is the pulse operation involved (if applicable)
	Operation string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *ExperimentError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *ExperimentError) Unwrap() error {
	return e.Err
}

// SetChannel sets the channel involved
func (e *ExperimentError) SetChannel(channel string) *ExperimentError {
	e.Channel = channel
	return e
}

// SetOperation sets the operation involved
func (e *ExperimentError) SetOperation(operation string) *ExperimentError {
	e.Operation = operation
	return e
}

// SetContext adds additional context
func (e *ExperimentError) SetContext(key string, value interface{}) *ExperimentError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *ExperimentError {
	return &ExperimentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new ExperimentError
func New(code ErrorCode, message string) *ExperimentError {
	return &ExperimentError{
		Code:    code,
		Message: message,
	}
}

// Sequence errors

// UnknownChannelError creates an error for a channel missing from the hardware configuration
func UnknownChannelError(channel string) *ExperimentError {
	return New(ErrConfig, fmt.Sprintf("channel '%s' is not defined in the configuration", channel)).
		SetChannel(channel)
}

// UnknownOperationError creates an error for an operation the channel does not support
func UnknownOperationError(channel, operation string) *ExperimentError {
	return New(ErrConfig, fmt.Sprintf("operation '%s' is not defined for channel '%s'", operation, channel)).
		SetChannel(channel).
		SetOperation(operation)
}

// InvalidCommandError creates an error for a malformed command
func InvalidCommandError(reason string) *ExperimentError {
	return New(ErrInvalidCommand, reason)
}

// InvalidSweepError creates an error for a rejected sweep vector
func InvalidSweepError(reason string) *ExperimentError {
	return New(ErrInvalidSweep, reason)
}

// ShapeMismatchError creates an error for a sequence whose sweep state contradicts the requested shape
func ShapeMismatchError(shape string, swept bool) *ExperimentError {
	reason := "no sweep variable was registered"
	if swept {
		reason = "a sweep variable was registered"
	}
	return New(ErrShapeMismatch, fmt.Sprintf("%s experiment requested but %s", shape, reason)).
		SetContext("shape", shape)
}

// EmptySequenceError creates an error for lowering a sequence with no commands
func EmptySequenceError() *ExperimentError {
	return New(ErrEmptySequence, "no commands were added to the sequence")
}

// InterlockTimingError creates an error for a readout delay too short to cover the interlock
func InterlockTimingError(preScanCycles, minimum int64) *ExperimentError {
	return New(ErrInterlockTiming, fmt.Sprintf("readout delay leaves %d cycles before the scan, need at least %d", preScanCycles, minimum)).
		SetContext("pre_scan_cycles", preScanCycles)
}

// Supporting errors

// SettingsValidationError creates an error for invalid experiment settings
func SettingsValidationError(err error) *ExperimentError {
	return Wrap(err, ErrSettingsValidation, "invalid experiment settings")
}

// InterlockViolationError creates an error for an unsafe switch/amplifier transition
func InterlockViolationError(channel, reason string) *ExperimentError {
	return New(ErrInterlockViolation, reason).SetChannel(channel)
}

// ExecutionError creates an error for a failed program run
func ExecutionError(operation string, err error) *ExperimentError {
	return Wrap(err, ErrExecution, fmt.Sprintf("%s failed", operation))
}

// DataSaveError creates an error for a failed result persistence
func DataSaveError(path string, err error) *ExperimentError {
	return Wrap(err, ErrDataSave, "failed to save experiment data").
		SetContext("path", path)
}

// Is checks if any error in the chain matches given error code
func Is(err error, code ErrorCode) bool {
	var expErr *ExperimentError
	for err != nil {
		if !stderrors.As(err, &expErr) {
			return false
		}
		if expErr.Code == code {
			return true
		}
		err = expErr.Err
	}
	return false
}

// IsConfig checks if error is a configuration error
func IsConfig(err error) bool {
	return Is(err, ErrConfig) || Is(err, ErrSettingsValidation)
}

// IsSequence checks if error was raised while building or lowering a sequence
func IsSequence(err error) bool {
	return Is(err, ErrInvalidCommand) ||
		Is(err, ErrInvalidSweep) ||
		Is(err, ErrShapeMismatch) ||
		Is(err, ErrEmptySequence)
}

// IsInterlock checks if error is an interlock timing or ordering error
func IsInterlock(err error) bool {
	return Is(err, ErrInterlockTiming) || Is(err, ErrInterlockViolation)
}
