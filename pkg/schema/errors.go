package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeExecution     = "EXECUTION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeLookup        = "LOOKUP_ERROR"
	ErrCodeIteration     = "ITERATION_ERROR"
	ErrCodeStore         = "STORE_ERROR"
	ErrCodeCrypto        = "CRYPTO_ERROR"
	ErrCodeBranchFault   = "BRANCH_FAULT"
)

// IesiError is the structured error type for all engine operations.
type IesiError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	ActionID string         `json:"action_id,omitempty"`
	Cause    error          `json:"-"`
}

func (e *IesiError) Error() string {
	if e.ActionID != "" {
		return fmt.Sprintf("[%s] action %s: %s", e.Code, e.ActionID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *IesiError) Unwrap() error {
	return e.Cause
}

// NewError creates a new IesiError.
func NewError(code, message string) *IesiError {
	return &IesiError{Code: code, Message: message}
}

// NewErrorf creates a new IesiError with a formatted message.
func NewErrorf(code, format string, args ...any) *IesiError {
	return &IesiError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithAction attaches an action ID to the error.
func (e *IesiError) WithAction(actionID string) *IesiError {
	e.ActionID = actionID
	return e
}

// WithCause attaches an underlying cause.
func (e *IesiError) WithCause(err error) *IesiError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *IesiError) WithDetails(details map[string]any) *IesiError {
	e.Details = details
	return e
}

// HasCode reports whether err wraps an IesiError carrying the given code.
func HasCode(err error, code string) bool {
	var e *IesiError
	return errors.As(err, &e) && e.Code == code
}
