// Package errors provides standardized error handling for the HTTP and
// websocket surfaces.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"

	ErrCodeExtractionEmpty     ErrorCode = "EXTRACTION_EMPTY_RESPONSE"
	ErrCodeExtractionNoJSON    ErrorCode = "EXTRACTION_NO_JSON"
	ErrCodeExtractionMalformed ErrorCode = "EXTRACTION_MALFORMED_JSON"
	ErrCodeExtractionNotObject ErrorCode = "EXTRACTION_NOT_AN_OBJECT"

	ErrCodeUpstream         ErrorCode = "UPSTREAM_ERROR"
	ErrCodeAggregateFailure ErrorCode = "AGGREGATE_FAILURE"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// NewConfigurationError reports a missing credential or unusable upstream setup.
func NewConfigurationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfiguration,
		Message:   "Backend configuration error",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidInputError is a client fault and is never retried.
func NewInvalidInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidInput,
		Message:   "Invalid input",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewUpstreamError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstream,
		Message:   fmt.Sprintf("Upstream model call '%s' failed", operation),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewAggregateFailureError is returned once every attempt of a retried call
// has failed. It carries the last underlying error.
func NewAggregateFailureError(attempts int, last error) *StandardError {
	details := "unknown error"
	if last != nil {
		details = last.Error()
	}
	return &StandardError{
		Code:      ErrCodeAggregateFailure,
		Message:   fmt.Sprintf("Failed after %d attempts", attempts),
		Details:   "Last error: " + details,
		Retryable: false,
		Metadata:  map[string]interface{}{"attempts": attempts},
		Timestamp: time.Now().UTC(),
		Cause:     last,
	}
}

// HTTPStatusMapping maps codes to the status the HTTP layer answers with.
var HTTPStatusMapping = map[ErrorCode]int{
	ErrCodeConfiguration:       http.StatusServiceUnavailable,
	ErrCodeInvalidInput:        http.StatusUnprocessableEntity,
	ErrCodeExtractionEmpty:     http.StatusInternalServerError,
	ErrCodeExtractionNoJSON:    http.StatusInternalServerError,
	ErrCodeExtractionMalformed: http.StatusInternalServerError,
	ErrCodeExtractionNotObject: http.StatusInternalServerError,
	ErrCodeUpstream:            http.StatusInternalServerError,
	ErrCodeAggregateFailure:    http.StatusInternalServerError,
	ErrCodeInternal:            http.StatusInternalServerError,
}

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// HTTPStatus returns the response status for err; unknown errors are 500.
func HTTPStatus(err error) int {
	stdErr := Normalize(err)
	if stdErr == nil {
		return http.StatusOK
	}
	if status, ok := HTTPStatusMapping[stdErr.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether a retry loop should attempt the call again.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return true
}

// HasCode reports whether err is a StandardError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	return stderrors.As(err, &stdErr) && stdErr.Code == code
}
