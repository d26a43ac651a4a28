package shared

import (
	"errors"
	"fmt"
)

// Error codes carried by SwarmError.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidState = "INVALID_STATE"
	CodeValidation   = "VALIDATION_ERROR"
)

// SwarmError is the base error type for all flyswarm errors.
type SwarmError struct {
	Message string
	Code    string
	Details map[string]interface{}
}

func (e *SwarmError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewSwarmError creates a new SwarmError.
func NewSwarmError(message, code string, details map[string]interface{}) *SwarmError {
	return &SwarmError{
		Message: message,
		Code:    code,
		Details: details,
	}
}

// NotFoundError reports an unknown worker, task or proposal id.
type NotFoundError struct {
	SwarmError
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(message string, details map[string]interface{}) *NotFoundError {
	return &NotFoundError{
		SwarmError: SwarmError{
			Message: message,
			Code:    CodeNotFound,
			Details: details,
		},
	}
}

// InvalidStateError reports an operation against an entity in an
// incompatible status.
type InvalidStateError struct {
	SwarmError
}

// NewInvalidStateError creates a new InvalidStateError.
func NewInvalidStateError(message string, details map[string]interface{}) *InvalidStateError {
	return &InvalidStateError{
		SwarmError: SwarmError{
			Message: message,
			Code:    CodeInvalidState,
			Details: details,
		},
	}
}

// ValidationError reports malformed input.
type ValidationError struct {
	SwarmError
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string, details map[string]interface{}) *ValidationError {
	return &ValidationError{
		SwarmError: SwarmError{
			Message: message,
			Code:    CodeValidation,
			Details: details,
		},
	}
}

// IsNotFound reports whether any error in err's chain is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsInvalidState reports whether any error in err's chain is an InvalidStateError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

// IsValidation reports whether any error in err's chain is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// AsSwarmError returns the SwarmError carried by err or any of its typed
// wrappers, or nil.
func AsSwarmError(err error) *SwarmError {
	var (
		notFound *NotFoundError
		invalid  *InvalidStateError
		bad      *ValidationError
		base     *SwarmError
	)
	switch {
	case errors.As(err, &notFound):
		return &notFound.SwarmError
	case errors.As(err, &invalid):
		return &invalid.SwarmError
	case errors.As(err, &bad):
		return &bad.SwarmError
	case errors.As(err, &base):
		return base
	}
	return nil
}
