package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeIO indicates an underlying filesystem operation failed
	ErrorTypeIO ErrorType = "IO"
	// ErrorTypeCorrupt indicates a non-trailing log record failed to parse
	ErrorTypeCorrupt ErrorType = "CORRUPT"
	// ErrorTypeInvalidKey indicates an empty or oversized key
	ErrorTypeInvalidKey ErrorType = "INVALID_KEY"
	// ErrorTypeInvalidValue indicates an oversized value
	ErrorTypeInvalidValue ErrorType = "INVALID_VALUE"
	// ErrorTypeClosed indicates the store was used after Close
	ErrorTypeClosed ErrorType = "CLOSED"
)

// KVError represents a custom error with additional context
type KVError struct {
	Type    ErrorType
	Message string
	Err     error
	Stack   string
}

// Error implements the error interface
func (e *KVError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error
func (e *KVError) Unwrap() error {
	return e.Err
}

// New creates a new KVError
func New(errType ErrorType, message string, err error) *KVError {
	// Capture the caller's location
	_, file, line, _ := runtime.Caller(1)
	stack := fmt.Sprintf("%s:%d", file, line)

	return &KVError{
		Type:    errType,
		Message: message,
		Err:     err,
		Stack:   stack,
	}
}

// Newf creates a new KVError with a formatted message
func Newf(errType ErrorType, err error, format string, args ...interface{}) *KVError {
	_, file, line, _ := runtime.Caller(1)

	return &KVError{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
		Stack:   fmt.Sprintf("%s:%d", file, line),
	}
}

// TypeOf returns the ErrorType of the first KVError in err's chain, or ""
func TypeOf(err error) ErrorType {
	var kvErr *KVError
	if errors.As(err, &kvErr) {
		return kvErr.Type
	}
	return ""
}

func isType(err error, errType ErrorType) bool {
	return err != nil && TypeOf(err) == errType
}

// IsIO checks if the error is a filesystem error
func IsIO(err error) bool {
	return isType(err, ErrorTypeIO)
}

// IsCorrupt checks if the error reports a corrupt log
func IsCorrupt(err error) bool {
	return isType(err, ErrorTypeCorrupt)
}

// IsInvalidKey checks if the error is an invalid key error
func IsInvalidKey(err error) bool {
	return isType(err, ErrorTypeInvalidKey)
}

// IsInvalidValue checks if the error is an invalid value error
func IsInvalidValue(err error) bool {
	return isType(err, ErrorTypeInvalidValue)
}

// IsClosed checks if the error reports use of a closed store
func IsClosed(err error) bool {
	return isType(err, ErrorTypeClosed)
}
