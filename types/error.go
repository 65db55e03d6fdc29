package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Coordination error codes
const (
	ErrRoutingFailure         ErrorCode = "ROUTING_FAILURE"
	ErrGovernorBlock          ErrorCode = "GOVERNOR_BLOCK"
	ErrAgentAlreadyRegistered ErrorCode = "AGENT_ALREADY_REGISTERED"
	ErrAgentNotFound          ErrorCode = "AGENT_NOT_FOUND"
	ErrInvalidMessage         ErrorCode = "INVALID_MESSAGE"
	ErrBrokerClosed           ErrorCode = "BROKER_CLOSED"
)

// Workflow error codes
const (
	ErrWorkflowNotFound      ErrorCode = "WORKFLOW_NOT_FOUND"
	ErrRunNotFound           ErrorCode = "RUN_NOT_FOUND"
	ErrWorkflowLoopDetected  ErrorCode = "WORKFLOW_LOOP_DETECTED"
	ErrNodeExecutionFailure  ErrorCode = "NODE_EXECUTION_FAILURE"
	ErrNodeNotRegistered     ErrorCode = "NODE_NOT_REGISTERED"
	ErrInvalidPlan           ErrorCode = "INVALID_PLAN"
	ErrStorageFailure        ErrorCode = "STORAGE_FAILURE"
)

// LLM error codes
const (
	ErrSummarizationFailure ErrorCode = "SUMMARIZATION_FAILURE"
	ErrEmbeddingFailure     ErrorCode = "EMBEDDING_FAILURE"
	ErrUpstreamError        ErrorCode = "UPSTREAM_ERROR"
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether any error in err's chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}
