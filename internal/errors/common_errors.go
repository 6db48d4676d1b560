package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeConfiguration        ErrorType = "CONFIGURATION"
	ErrTypeDataAlignment        ErrorType = "DATA_ALIGNMENT"
	ErrTypeCalibrationRange     ErrorType = "CALIBRATION_RANGE"
	ErrTypeNumericalInstability ErrorType = "NUMERICAL_INSTABILITY"
	ErrTypeParsing              ErrorType = "PARSING"
	ErrTypeStorage              ErrorType = "STORAGE"
	ErrTypeValidation           ErrorType = "VALIDATION"
	ErrTypeNotFound             ErrorType = "NOT_FOUND"
	ErrTypeConflict             ErrorType = "CONFLICT"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Helper functions for common error types

// NewConfigurationError reports an unknown country profile or a missing or
// invalid model parameter. These are fatal before a run starts.
func NewConfigurationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfiguration, message, cause)
}

// NewDataAlignmentError reports historical series of unequal length or with
// dates that are not strictly ascending.
func NewDataAlignmentError(message string, cause error) *AppError {
	return NewAppError(ErrTypeDataAlignment, message, cause)
}

// NewCalibrationRangeError reports a retarded time outside the interpolation
// domain of the historical death-rate series.
func NewCalibrationRangeError(retarded, lo, hi float64) *AppError {
	return NewAppError(ErrTypeCalibrationRange,
		fmt.Sprintf("retarded time %.4f outside historical range [%.4f, %.4f]", retarded, lo, hi), nil).
		WithContext("retarded_time", retarded).
		WithContext("range_start", lo).
		WithContext("range_end", hi)
}

// NewNumericalInstabilityError reports a step whose state violated
// non-negativity or per-bin mass conservation.
func NewNumericalInstabilityError(step int, t float64, message string) *AppError {
	return NewAppError(ErrTypeNumericalInstability,
		fmt.Sprintf("step %d at t=%.4f: %s", step, t, message), nil).
		WithContext("step", step).
		WithContext("time", t)
}

// NewParsingError creates a parsing-related error
func NewParsingError(message string, cause error) *AppError {
	return NewAppError(ErrTypeParsing, message, cause)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return NewAppError(ErrTypeConflict, message, nil)
}

// TypeOf returns the ErrorType of the first AppError in err's chain, or the
// empty string when there is none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsType reports whether err's chain holds an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	return err != nil && TypeOf(err) == errType
}

func IsConfigurationError(err error) bool {
	return IsType(err, ErrTypeConfiguration)
}

func IsDataAlignmentError(err error) bool {
	return IsType(err, ErrTypeDataAlignment)
}

func IsCalibrationRangeError(err error) bool {
	return IsType(err, ErrTypeCalibrationRange)
}

func IsNumericalInstabilityError(err error) bool {
	return IsType(err, ErrTypeNumericalInstability)
}

func IsNotFoundError(err error) bool {
	return IsType(err, ErrTypeNotFound)
}
