package errors

import (
	"fmt"
)

// ErrorCode represents a specific error type for coaching operations.
type ErrorCode string

const (
	// ErrCodeUnauthorized indicates authentication failure.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeRateLimitExceeded indicates rate limit has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeNotFound indicates the requested entity does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeModelUnavailable indicates the model provider could not be reached.
	ErrCodeModelUnavailable ErrorCode = "MODEL_UNAVAILABLE"
	// ErrCodeModelError indicates the model returned a malformed or failed response.
	ErrCodeModelError ErrorCode = "MODEL_ERROR"
	// ErrCodeToolLoopExceeded indicates the tool-resolution loop hit its depth cap.
	ErrCodeToolLoopExceeded ErrorCode = "TOOL_LOOP_EXCEEDED"
	// ErrCodePersistence indicates a storage read or write failure.
	ErrCodePersistence ErrorCode = "PERSISTENCE_ERROR"
	// ErrCodeTurnInProgress indicates a turn is already being processed.
	ErrCodeTurnInProgress ErrorCode = "TURN_IN_PROGRESS"
	// ErrCodeContextCanceled indicates the operation was canceled.
	ErrCodeContextCanceled ErrorCode = "CONTEXT_CANCELED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// CoachError represents a structured error for coaching operations.
type CoachError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *CoachError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *CoachError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *CoachError) WithContext(key string, value interface{}) *CoachError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// GetCode returns the error code.
func (e *CoachError) GetCode() ErrorCode {
	return e.Code
}

// Convenience constructors for common error types.

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *CoachError {
	return &CoachError{Code: ErrCodeUnauthorized, Message: msg}
}

// RateLimitExceeded creates a rate limit exceeded error.
func RateLimitExceeded(msg string) *CoachError {
	return &CoachError{Code: ErrCodeRateLimitExceeded, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *CoachError {
	return &CoachError{Code: ErrCodeInvalidArgument, Message: msg}
}

// NotFound creates a not found error.
func NotFound(msg string) *CoachError {
	return &CoachError{Code: ErrCodeNotFound, Message: msg}
}

// ModelUnavailable creates a model unavailable error.
func ModelUnavailable(msg string, cause error) *CoachError {
	return &CoachError{Code: ErrCodeModelUnavailable, Message: msg, Cause: cause}
}

// ModelError creates a model error.
func ModelError(msg string, cause error) *CoachError {
	return &CoachError{Code: ErrCodeModelError, Message: msg, Cause: cause}
}

// ToolLoopExceeded creates a tool loop exceeded error.
func ToolLoopExceeded(depth int) *CoachError {
	return &CoachError{
		Code:    ErrCodeToolLoopExceeded,
		Message: fmt.Sprintf("tool resolution exceeded maximum depth of %d", depth),
	}
}

// Persistence creates a persistence error.
func Persistence(msg string, cause error) *CoachError {
	return &CoachError{Code: ErrCodePersistence, Message: msg, Cause: cause}
}

// TurnInProgress creates a turn in progress error.
func TurnInProgress(msg string) *CoachError {
	return &CoachError{Code: ErrCodeTurnInProgress, Message: msg}
}

// ContextCanceled creates a context canceled error.
func ContextCanceled(cause error) *CoachError {
	return &CoachError{Code: ErrCodeContextCanceled, Message: "operation canceled", Cause: cause}
}

// Timeout creates a timeout error.
func Timeout(msg string) *CoachError {
	return &CoachError{Code: ErrCodeTimeout, Message: msg}
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *CoachError {
	return &CoachError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	if cErr, ok := err.(*CoachError); ok {
		return cErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a CoachError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	if cErr, ok := err.(*CoachError); ok {
		return cErr.Code
	}
	return defaultCode
}
